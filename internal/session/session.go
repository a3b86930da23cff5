// Package session owns the wallet connection: which connector is active, the
// connected address, and the signing handle other components borrow.
package session

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/yolodolo42/safesign/internal/chain"
	"github.com/yolodolo42/safesign/internal/logging"
	"github.com/yolodolo42/safesign/internal/wallet"
)

var (
	ErrUnknownConnector = errors.New("unknown connector")
	ErrInvalidConfig    = errors.New("invalid session config")
)

// Status is the connection status of a session
type Status int

const (
	Disconnected Status = iota
	Connected
)

func (s Status) String() string {
	switch s {
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Handle is the signing capability of a connected session together with the
// RPC transport of the chain it is bound to.
type Handle struct {
	Signer    wallet.Signer
	Transport chain.Transport
	Chain     string
	ChainID   *big.Int
}

// Session is a read-only snapshot of the provider's connection state.
type Session struct {
	ID        string
	Status    Status
	Address   common.Address
	Connector string
	Handle    *Handle
}

// IsConnected reports whether the session has an active address
func (s Session) IsConnected() bool {
	return s.Status == Connected && s.Address != (common.Address{})
}

// Listener receives every session change
type Listener func(Session)

// Config is the process-wide wallet configuration injected into a Provider.
type Config struct {
	Chain      string
	ChainID    *big.Int
	Transport  chain.Transport
	Connectors []Connector
	Logger     *zap.Logger
}

// Provider is the wallet session provider. It never connects on its own;
// callers drive Connect and Disconnect.
type Provider struct {
	cfg    Config
	logger *zap.Logger

	// opMu serializes Connect/Disconnect so listeners observe changes in order.
	opMu sync.Mutex

	mu        sync.Mutex
	current   Session
	listeners []*listenerEntry
}

type listenerEntry struct {
	fn Listener
}

// NewProvider validates cfg and returns a disconnected provider.
func NewProvider(cfg Config) (*Provider, error) {
	if cfg.Chain == "" {
		return nil, fmt.Errorf("%w: chain is required", ErrInvalidConfig)
	}
	if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
		return nil, fmt.Errorf("%w: chain id is required", ErrInvalidConfig)
	}
	if cfg.Transport == nil {
		return nil, fmt.Errorf("%w: transport is required", ErrInvalidConfig)
	}
	seen := make(map[string]bool)
	for _, c := range cfg.Connectors {
		if seen[c.ID()] {
			return nil, fmt.Errorf("%w: duplicate connector %q", ErrInvalidConfig, c.ID())
		}
		seen[c.ID()] = true
	}

	return &Provider{
		cfg:     cfg,
		logger:  logging.OrNop(cfg.Logger).Named("session"),
		current: Session{Status: Disconnected},
	}, nil
}

// Connectors lists the available connectors in configuration order
func (p *Provider) Connectors() []Connector {
	return append([]Connector(nil), p.cfg.Connectors...)
}

// Current returns the current session
func (p *Provider) Current() Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Subscribe registers l for session changes and returns a func that
// unregisters it. Listeners run synchronously in registration order and must
// not call Connect or Disconnect.
func (p *Provider) Subscribe(l Listener) func() {
	entry := &listenerEntry{fn: l}

	p.mu.Lock()
	p.listeners = append(p.listeners, entry)
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			p.listeners = lo.Without(p.listeners, entry)
		})
	}
}

// Connect opens a session through the connector with the given ID. An
// existing session is replaced (its listeners see the new address directly).
func (p *Provider) Connect(ctx context.Context, connectorID string) (Session, error) {
	connector, ok := lo.Find(p.cfg.Connectors, func(c Connector) bool { return c.ID() == connectorID })
	if !ok {
		return Session{}, fmt.Errorf("%w: %s", ErrUnknownConnector, connectorID)
	}

	p.opMu.Lock()
	defer p.opMu.Unlock()

	signer, err := connector.Connect(ctx)
	if err != nil {
		return Session{}, fmt.Errorf("connector %s: %w", connectorID, err)
	}

	next := Session{
		ID:        uuid.NewString(),
		Status:    Connected,
		Address:   signer.Address(),
		Connector: connectorID,
		Handle: &Handle{
			Signer:    signer,
			Transport: p.cfg.Transport,
			Chain:     p.cfg.Chain,
			ChainID:   new(big.Int).Set(p.cfg.ChainID),
		},
	}

	prev := p.swap(next)
	releaseSigner(prev)

	p.logger.Info("wallet connected",
		zap.String("session", next.ID),
		zap.String("connector", connectorID),
		zap.String("address", next.Address.Hex()),
		zap.String("chain", p.cfg.Chain),
	)
	p.notify(next)
	return next, nil
}

// Disconnect ends the current session. It is a no-op when already disconnected.
func (p *Provider) Disconnect() {
	p.opMu.Lock()
	defer p.opMu.Unlock()

	if p.Current().Status == Disconnected {
		return
	}

	next := Session{Status: Disconnected}
	prev := p.swap(next)
	releaseSigner(prev)

	p.logger.Info("wallet disconnected", zap.String("session", prev.ID))
	p.notify(next)
}

func (p *Provider) swap(next Session) Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	prev := p.current
	p.current = next
	return prev
}

func (p *Provider) notify(s Session) {
	p.mu.Lock()
	listeners := append([]*listenerEntry(nil), p.listeners...)
	p.mu.Unlock()

	for _, l := range listeners {
		l.fn(s)
	}
}

// locker is implemented by signers that hold key material in memory.
type locker interface {
	Lock()
}

func releaseSigner(s Session) {
	if s.Handle == nil {
		return
	}
	if l, ok := s.Handle.Signer.(locker); ok {
		l.Lock()
	}
}
