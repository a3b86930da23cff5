package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/yolodolo42/safesign/internal/wallet"
)

const (
	ConnectorKeystore = "keystore"
	ConnectorEnv      = "env"
)

// DefaultKeyEnv is the variable the env connector reads by default
const DefaultKeyEnv = "SAFESIGN_PRIVATE_KEY"

var ErrNoAccounts = errors.New("no accounts available")

// Connector is one way of obtaining a signer for a session
type Connector interface {
	ID() string
	Name() string
	Connect(ctx context.Context) (wallet.Signer, error)
}

// PasswordFunc supplies the keystore password for an account
type PasswordFunc func(account common.Address) (string, error)

// KeystoreConnector unlocks an account from the local encrypted keystore.
type KeystoreConnector struct {
	Manager *wallet.KeystoreManager
	// Address selects the account; zero means the first keystore account.
	Address  common.Address
	Password PasswordFunc
}

func (c *KeystoreConnector) ID() string   { return ConnectorKeystore }
func (c *KeystoreConnector) Name() string { return "Local keystore" }

func (c *KeystoreConnector) Connect(ctx context.Context) (wallet.Signer, error) {
	if c.Manager == nil {
		return nil, fmt.Errorf("keystore is not configured")
	}

	addr := c.Address
	if addr == (common.Address{}) {
		accts := c.Manager.ListAccounts()
		if len(accts) == 0 {
			return nil, fmt.Errorf("%w: keystore is empty, run 'safesign wallet create' first", ErrNoAccounts)
		}
		addr = accts[0].Address
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	password := ""
	if c.Password != nil {
		p, err := c.Password(addr)
		if err != nil {
			return nil, fmt.Errorf("failed to read password: %w", err)
		}
		password = p
	}

	return c.Manager.GetSigner(addr, password)
}

// EnvConnector builds a signer from a hex private key held in an environment
// variable, the terminal stand-in for a host-injected wallet.
type EnvConnector struct {
	Var string
	// Lookup defaults to os.LookupEnv
	Lookup func(key string) (string, bool)
}

func (c *EnvConnector) ID() string   { return ConnectorEnv }
func (c *EnvConnector) Name() string { return "Private key from $" + c.varName() }

func (c *EnvConnector) Connect(ctx context.Context) (wallet.Signer, error) {
	lookup := c.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	raw, ok := lookup(c.varName())
	if !ok || strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("%w: $%s is not set", ErrNoAccounts, c.varName())
	}
	return wallet.NewKeySignerFromHex(strings.TrimSpace(raw))
}

func (c *EnvConnector) varName() string {
	if c.Var == "" {
		return DefaultKeyEnv
	}
	return c.Var
}
