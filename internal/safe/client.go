// Package safe signs messages on behalf of a Safe smart account. Reads go
// through a chain.Transport; signatures come from an owner's wallet.Signer.
package safe

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/yolodolo42/safesign/internal/chain"
	"github.com/yolodolo42/safesign/internal/logging"
	"github.com/yolodolo42/safesign/internal/wallet"
)

var (
	ErrInvalidConfig = errors.New("invalid safe client config")
	ErrNotDeployed   = errors.New("no contract code at safe address")
	ErrNotOwner      = errors.New("messages can only be signed by safe owners")
)

const safeABIJSON = `[
	{"type":"function","name":"VERSION","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"getOwners","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address[]"}]},
	{"type":"function","name":"getThreshold","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"isOwner","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"bool"}]}
]`

var safeABI = mustParseABI(safeABIJSON)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("safe: bad ABI: %v", err))
	}
	return parsed
}

// Config binds a client to a Safe, the owner that signs, and the RPC used for reads.
type Config struct {
	Provider    chain.Transport
	Signer      wallet.Signer
	SafeAddress common.Address
	Logger      *zap.Logger
}

// Client is an initialized Safe bound to one owner.
type Client struct {
	provider chain.Transport
	signer   wallet.Signer
	address  common.Address
	chainID  *big.Int
	version  string
	logger   *zap.Logger
}

// Init checks that the Safe is deployed on the provider's chain and reads its version.
func Init(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("%w: provider is required", ErrInvalidConfig)
	}
	if cfg.Signer == nil {
		return nil, fmt.Errorf("%w: signer is required", ErrInvalidConfig)
	}
	if cfg.SafeAddress == (common.Address{}) {
		return nil, fmt.Errorf("%w: safe address is required", ErrInvalidConfig)
	}

	c := &Client{
		provider: cfg.Provider,
		signer:   cfg.Signer,
		address:  cfg.SafeAddress,
		logger:   logging.OrNop(cfg.Logger).Named("safe"),
	}

	chainID, err := cfg.Provider.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read chain id: %w", err)
	}
	c.chainID = chainID

	code, err := cfg.Provider.CodeAt(ctx, cfg.SafeAddress, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to read safe code: %w", err)
	}
	if len(code) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotDeployed, cfg.SafeAddress.Hex())
	}

	out, err := c.call(ctx, "VERSION")
	if err != nil {
		return nil, fmt.Errorf("failed to read safe version: %w", err)
	}
	c.version = out[0].(string)

	c.logger.Debug("safe initialized",
		zap.String("safe", c.address.Hex()),
		zap.String("version", c.version),
		zap.String("chain_id", chainID.String()),
		zap.String("signer", cfg.Signer.Address().Hex()),
	)
	return c, nil
}

// Address returns the Safe address
func (c *Client) Address() common.Address { return c.address }

// ChainID returns the chain the Safe was initialized on
func (c *Client) ChainID() *big.Int { return new(big.Int).Set(c.chainID) }

// Version returns the Safe contract version, e.g. "1.3.0"
func (c *Client) Version() string { return c.version }

// Owners returns the Safe's current owners
func (c *Client) Owners(ctx context.Context) ([]common.Address, error) {
	out, err := c.call(ctx, "getOwners")
	if err != nil {
		return nil, fmt.Errorf("failed to read owners: %w", err)
	}
	return out[0].([]common.Address), nil
}

// Threshold returns the number of owner signatures the Safe requires
func (c *Client) Threshold(ctx context.Context) (*big.Int, error) {
	out, err := c.call(ctx, "getThreshold")
	if err != nil {
		return nil, fmt.Errorf("failed to read threshold: %w", err)
	}
	return out[0].(*big.Int), nil
}

// IsOwner asks the Safe whether owner is one of its owners
func (c *Client) IsOwner(ctx context.Context, owner common.Address) (bool, error) {
	out, err := c.call(ctx, "isOwner", owner)
	if err != nil {
		return false, fmt.Errorf("failed to check owner: %w", err)
	}
	return out[0].(bool), nil
}

// SignMessage has the bound owner sign msg and returns a copy carrying the new
// signature. Existing signatures from other owners are kept.
func (c *Client) SignMessage(ctx context.Context, msg *Message) (*Message, error) {
	if msg == nil {
		return nil, fmt.Errorf("%w: nil message", ErrUnsupportedContent)
	}

	owners, err := c.Owners(ctx)
	if err != nil {
		return nil, err
	}
	signerAddr := c.signer.Address()
	if !lo.Contains(owners, signerAddr) {
		return nil, fmt.Errorf("%w: %s", ErrNotOwner, signerAddr.Hex())
	}

	typed, err := c.SafeMessageTypedData(msg)
	if err != nil {
		return nil, err
	}

	sig, err := c.signer.SignTypedData(typed)
	if err != nil {
		return nil, fmt.Errorf("owner failed to sign safe message: %w", err)
	}

	signed := msg.clone()
	signed.AddSignature(Signature{Signer: signerAddr, Data: sig})

	c.logger.Debug("safe message signed",
		zap.String("safe", c.address.Hex()),
		zap.String("signer", signerAddr.Hex()),
		zap.Int("signatures", len(signed.Signatures)),
	)
	return signed, nil
}

func (c *Client) call(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := safeABI.Pack(method, args...)
	if err != nil {
		return nil, err
	}

	to := c.address
	raw, err := c.provider.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, err
	}

	out, err := safeABI.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("decode %s: empty result", method)
	}
	return out, nil
}

// domainHasChainID reports whether the Safe's EIP-712 domain includes chainId,
// which is the case from v1.3.0 on.
func domainHasChainID(version string) bool {
	parts := strings.SplitN(strings.TrimPrefix(version, "v"), ".", 3)
	if len(parts) < 2 {
		return true
	}
	major, err1 := strconv.Atoi(parts[0])
	minor, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return true
	}
	return major > 1 || (major == 1 && minor >= 3)
}
