// Package signing drives the connect, discover, select and sign workflow.
package signing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/yolodolo42/safesign/internal/discovery"
	"github.com/yolodolo42/safesign/internal/logging"
	"github.com/yolodolo42/safesign/internal/session"
)

// State is the orchestrator's position in the workflow
type State int

const (
	Idle State = iota
	Connected
	AccountsReady
	AccountSelected
	Signing
	Signed
	SignFailed
)

var stateNames = map[State]string{
	Idle:            "idle",
	Connected:       "connected",
	AccountsReady:   "accounts_ready",
	AccountSelected: "account_selected",
	Signing:         "signing",
	Signed:          "signed",
	SignFailed:      "sign_failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Mode decides which signing paths are offered when a wallet has Safes
type Mode string

const (
	// ModeAny offers direct signing alongside every discovered Safe
	ModeAny Mode = "any"
	// ModeSafe requires a Safe; direct signing is rejected
	ModeSafe Mode = "safe"
	// ModeDirect only signs as the EOA; discovery is still reported
	ModeDirect Mode = "direct"
)

// ParseMode accepts any, safe or direct; empty means any.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeAny:
		return ModeAny, nil
	case ModeSafe:
		return ModeSafe, nil
	case ModeDirect:
		return ModeDirect, nil
	default:
		return "", fmt.Errorf("unknown signing mode %q (expected any, safe or direct)", s)
	}
}

// Selection is the chosen signing account. The zero value means nothing is
// selected.
type Selection struct {
	Kind Kind
	Safe common.Address
}

// IsZero reports whether no account is selected
func (s Selection) IsZero() bool { return s.Kind == "" }

func (s Selection) String() string {
	switch s.Kind {
	case KindDirect:
		return "direct"
	case KindSafe:
		return "safe " + s.Safe.Hex()
	default:
		return "none"
	}
}

// View is a snapshot of orchestrator state for presentation
type View struct {
	State        State
	SessionID    string
	Address      common.Address
	Accounts     []common.Address
	NoAccounts   bool
	DiscoveryErr string
	Selection    Selection
	Result       *Result
	Err          string
	Mode         Mode
}

// CanSignDirect reports whether the direct path is currently selectable
func (v View) CanSignDirect() bool {
	return v.Mode != ModeSafe && selectable(v.State)
}

// Options configures an Orchestrator
type Options struct {
	Discoverer  discovery.Discoverer
	Mode        Mode
	SafePayload PayloadMode
	Template    Template
	// Now defaults to time.Now
	Now func() time.Time
	// Direct defaults to DirectStrategy
	Direct Strategy
	// SafeFor builds the strategy for a selected Safe; defaults to SafeStrategy.
	SafeFor func(addr common.Address) Strategy
	Logger  *zap.Logger
}

// SessionSource is the part of a session provider the orchestrator observes
type SessionSource interface {
	Current() session.Session
	Subscribe(l session.Listener) func()
}

// Orchestrator is the signing state machine. It is safe for concurrent use.
// Discovery and signing results are tagged with the epoch they started in
// and dropped if the session has changed since.
type Orchestrator struct {
	opts   Options
	logger *zap.Logger

	mu              sync.Mutex
	state           State
	epoch           uint64
	session         session.Session
	accounts        []common.Address
	noAccounts      bool
	discoveryErr    error
	selection       Selection
	result          *Result
	lastErr         error
	cancelDiscovery context.CancelFunc
	ready           chan struct{}
	detach          func()
}

// New creates an idle orchestrator
func New(opts Options) (*Orchestrator, error) {
	if opts.Discoverer == nil {
		return nil, errors.New("discoverer is required")
	}
	if opts.Mode == "" {
		opts.Mode = ModeAny
	}
	if opts.SafePayload == "" {
		opts.SafePayload = PayloadTyped
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Direct == nil {
		opts.Direct = DirectStrategy{}
	}
	logger := logging.OrNop(opts.Logger)
	if opts.SafeFor == nil {
		payload := opts.SafePayload
		opts.SafeFor = func(addr common.Address) Strategy {
			return &SafeStrategy{Safe: addr, Payload: payload, Logger: logger}
		}
	}

	ready := make(chan struct{})
	close(ready)
	return &Orchestrator{
		opts:   opts,
		logger: logger.Named("signing"),
		state:  Idle,
		ready:  ready,
	}, nil
}

// Attach follows src: the current session is applied immediately and every
// later change is passed to OnSession.
func (o *Orchestrator) Attach(src SessionSource) {
	o.mu.Lock()
	if o.detach != nil {
		o.detach()
	}
	o.mu.Unlock()

	unsubscribe := src.Subscribe(o.OnSession)

	o.mu.Lock()
	o.detach = unsubscribe
	o.mu.Unlock()

	o.OnSession(src.Current())
}

// Close detaches from the session source and cancels in-flight discovery.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.detach != nil {
		o.detach()
		o.detach = nil
	}
	o.resetLocked(Idle)
	o.session = session.Session{}
}

// OnSession reacts to a session change. A disconnect clears all downstream
// state; a new session or address restarts discovery.
func (o *Orchestrator) OnSession(s session.Session) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !s.IsConnected() {
		if o.state == Idle && o.session.ID == "" {
			return
		}
		o.logger.Debug("session ended, resetting", zap.String("session", o.session.ID))
		o.resetLocked(Idle)
		o.session = session.Session{}
		return
	}

	if s.ID == o.session.ID && s.Address == o.session.Address {
		o.session = s
		return
	}

	o.resetLocked(Connected)
	o.session = s
	o.ready = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	o.cancelDiscovery = cancel
	go o.discover(ctx, o.epoch, s.Address)
}

// resetLocked bumps the epoch, cancels in-flight work and clears everything
// derived from the previous session.
func (o *Orchestrator) resetLocked(next State) {
	o.epoch++
	if o.cancelDiscovery != nil {
		o.cancelDiscovery()
		o.cancelDiscovery = nil
	}
	o.state = next
	o.accounts = nil
	o.noAccounts = false
	o.discoveryErr = nil
	o.selection = Selection{}
	o.result = nil
	o.lastErr = nil
	o.releaseWaitersLocked()
}

func (o *Orchestrator) releaseWaitersLocked() {
	select {
	case <-o.ready:
	default:
		close(o.ready)
	}
}

func (o *Orchestrator) discover(ctx context.Context, epoch uint64, owner common.Address) {
	accounts, err := o.opts.Discoverer.DiscoverAccounts(ctx, owner.Hex())

	o.mu.Lock()
	defer o.mu.Unlock()

	if epoch != o.epoch {
		o.logger.Debug("discarding stale discovery result", zap.String("owner", owner.Hex()))
		return
	}

	o.state = AccountsReady
	o.cancelDiscovery = nil
	if err != nil {
		o.logger.Warn("safe discovery failed", zap.String("owner", owner.Hex()), zap.Error(err))
		o.accounts = []common.Address{}
		o.discoveryErr = err
	} else {
		o.accounts = append([]common.Address{}, accounts...)
		o.noAccounts = len(accounts) == 0
		o.logger.Info("safe discovery complete",
			zap.String("owner", owner.Hex()),
			zap.Int("safes", len(accounts)),
		)
	}
	o.releaseWaitersLocked()
}

// WaitAccounts blocks until discovery for the current session has been
// applied or the session has ended, then returns the current view.
func (o *Orchestrator) WaitAccounts(ctx context.Context) (View, error) {
	o.mu.Lock()
	ready := o.ready
	o.mu.Unlock()

	select {
	case <-ready:
		return o.View(), nil
	case <-ctx.Done():
		return o.View(), ctx.Err()
	}
}

// View returns a snapshot of the current state
func (o *Orchestrator) View() View {
	o.mu.Lock()
	defer o.mu.Unlock()

	v := View{
		State:      o.state,
		SessionID:  o.session.ID,
		Address:    o.session.Address,
		NoAccounts: o.noAccounts,
		Selection:  o.selection,
		Mode:       o.opts.Mode,
	}
	if o.accounts != nil {
		v.Accounts = append([]common.Address{}, o.accounts...)
	}
	if o.discoveryErr != nil {
		v.DiscoveryErr = o.discoveryErr.Error()
	}
	if o.result != nil {
		r := *o.result
		v.Result = &r
	}
	if o.lastErr != nil {
		v.Err = o.lastErr.Error()
	}
	return v
}

func selectable(s State) bool {
	switch s {
	case AccountsReady, AccountSelected, Signed, SignFailed:
		return true
	}
	return false
}

func (o *Orchestrator) checkSelectableLocked() error {
	switch {
	case o.state == Idle:
		return ErrNotConnected
	case o.state == Signing:
		return ErrSignInProgress
	case !selectable(o.state):
		return ErrNotReady
	}
	return nil
}

// SelectDirect chooses to sign as the connected EOA
func (o *Orchestrator) SelectDirect() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.checkSelectableLocked(); err != nil {
		return err
	}
	if o.opts.Mode == ModeSafe {
		return ErrDirectNotAllowed
	}
	o.applySelectionLocked(Selection{Kind: KindDirect})
	return nil
}

// SelectSafe chooses a discovered Safe. Addresses outside the current
// discovered set are rejected.
func (o *Orchestrator) SelectSafe(addr common.Address) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.checkSelectableLocked(); err != nil {
		return err
	}
	if o.opts.Mode == ModeDirect {
		return ErrSafeNotAllowed
	}
	if !lo.Contains(o.accounts, addr) {
		return fmt.Errorf("%w: %s", ErrUnknownAccount, addr.Hex())
	}
	o.applySelectionLocked(Selection{Kind: KindSafe, Safe: addr})
	return nil
}

func (o *Orchestrator) applySelectionLocked(sel Selection) {
	o.selection = sel
	o.state = AccountSelected
	o.result = nil
	o.lastErr = nil
	o.logger.Debug("account selected", zap.Stringer("selection", sel))
}

// Sign builds a fresh request and signs it with the selected account. Only
// one sign runs at a time; failures are recorded as SignFailed and returned
// as *SignError.
func (o *Orchestrator) Sign(ctx context.Context) (Result, error) {
	o.mu.Lock()
	switch {
	case o.state == Signing:
		o.mu.Unlock()
		return Result{}, ErrSignInProgress
	case o.state == Idle:
		o.mu.Unlock()
		return Result{}, ErrNotConnected
	case o.selection.IsZero() || !selectable(o.state):
		o.mu.Unlock()
		return Result{}, ErrNoSelection
	}

	handle := o.session.Handle
	if handle == nil || handle.Signer == nil {
		o.state = SignFailed
		o.result = nil
		o.lastErr = ErrSignerUnavailable
		o.mu.Unlock()
		return Result{}, ErrSignerUnavailable
	}

	epoch := o.epoch
	sel := o.selection
	o.state = Signing
	o.result = nil
	o.lastErr = nil
	o.mu.Unlock()

	req := BuildRequest(o.opts.Template, o.opts.Now())
	strategy := o.opts.Direct
	if sel.Kind == KindSafe {
		strategy = o.opts.SafeFor(sel.Safe)
	}

	res, err := invoke(ctx, strategy, handle, req)

	o.mu.Lock()
	defer o.mu.Unlock()

	if epoch != o.epoch {
		o.logger.Debug("discarding stale sign result", zap.Stringer("selection", sel))
		return Result{}, ErrStaleSession
	}

	if err != nil {
		signErr := &SignError{Reason: err.Error(), Err: err}
		o.state = SignFailed
		o.lastErr = signErr
		o.logger.Warn("sign failed", zap.Stringer("selection", sel), zap.Error(err))
		return Result{}, signErr
	}

	res.Timestamp = req.Timestamp()
	o.state = Signed
	o.result = &res
	o.logger.Info("message signed",
		zap.String("kind", string(res.Kind)),
		zap.String("signer", res.Signer.Hex()),
	)
	return res, nil
}

// invoke runs the strategy, converting a panic into an error.
func invoke(ctx context.Context, s Strategy, h *session.Handle, req Request) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s signer panicked: %v", s.Kind(), r)
		}
	}()
	return s.Sign(ctx, h, req)
}
