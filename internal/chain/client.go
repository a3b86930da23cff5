package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Transport is the read-only RPC surface a wallet session hands to
// account-abstraction clients. It is bound to a single chain.
type Transport interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Client manages connections to multiple EVM chains
type Client struct {
	chains  map[string]*ChainConfig
	clients map[string]*ethclient.Client
	mu      sync.RWMutex
}

// NewClient creates a new multi-chain client
func NewClient() *Client {
	return &Client{
		chains:  DefaultChains(),
		clients: make(map[string]*ethclient.Client),
	}
}

// AddChain adds or overrides a chain configuration
func (c *Client) AddChain(name string, config *ChainConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chains[name] = config
	if client, ok := c.clients[name]; ok {
		client.Close()
		delete(c.clients, name)
	}
}

// GetChainConfig returns the configuration for a chain
func (c *Client) GetChainConfig(chainName string) (*ChainConfig, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	config, ok := c.chains[chainName]
	if !ok {
		return nil, fmt.Errorf("unknown chain: %s", chainName)
	}
	return config, nil
}

// ListChains returns all configured chains in sorted order
func (c *Client) ListChains() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ChainNames(c.chains)
}

// getClient returns an ethclient for the given chain, creating one if needed.
// Acquires write lock upfront to prevent duplicate connection creation under
// contention; connection creation is not a hot path.
func (c *Client) getClient(ctx context.Context, chainName string) (*ethclient.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	config, configExists := c.chains[chainName]
	if !configExists {
		return nil, fmt.Errorf("unknown chain: %s", chainName)
	}

	if client, exists := c.clients[chainName]; exists {
		return client, nil
	}

	var lastErr error
	for _, rpcURL := range config.RPCURLs {
		dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		client, err := ethclient.DialContext(dialCtx, rpcURL)
		cancel()

		if err != nil {
			lastErr = err
			continue
		}

		// Verify chain ID
		idCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		chainID, err := client.ChainID(idCtx)
		cancel()

		if err != nil {
			client.Close()
			lastErr = err
			continue
		}

		if chainID.Cmp(config.ChainID) != 0 {
			client.Close()
			lastErr = fmt.Errorf("chain ID mismatch: expected %s, got %s", config.ChainID.String(), chainID.String())
			continue
		}

		c.clients[chainName] = client
		return client, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no RPC URLs configured")
	}
	return nil, fmt.Errorf("failed to connect to %s: %w", chainName, lastErr)
}

// Transport returns a Transport bound to chainName. Connections are dialled
// lazily on first use, so an unreachable RPC only fails the call that needs it.
func (c *Client) Transport(chainName string) (Transport, error) {
	config, err := c.GetChainConfig(chainName)
	if err != nil {
		return nil, err
	}
	return &boundTransport{client: c, chain: chainName, chainID: new(big.Int).Set(config.ChainID)}, nil
}

// Close closes all client connections
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, client := range c.clients {
		client.Close()
	}
	c.clients = make(map[string]*ethclient.Client)
}

type boundTransport struct {
	client  *Client
	chain   string
	chainID *big.Int
}

// ChainID returns the configured chain ID; getClient has already verified it
// against the node for any connection that is in use.
func (t *boundTransport) ChainID(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(t.chainID), nil
}

func (t *boundTransport) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	client, err := t.client.getClient(ctx, t.chain)
	if err != nil {
		return nil, err
	}
	return client.CodeAt(ctx, account, blockNumber)
}

func (t *boundTransport) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	client, err := t.client.getClient(ctx, t.chain)
	if err != nil {
		return nil, err
	}
	return client.CallContract(ctx, msg, blockNumber)
}
