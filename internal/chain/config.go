package chain

import (
	"math/big"
	"sort"
)

// ChainConfig holds configuration for an EVM chain.
// Invariant: ChainID and ChainIDInt must always represent the same value.
// ChainIDInt exists for YAML serialization (big.Int doesn't serialize cleanly).
type ChainConfig struct {
	Name           string   `yaml:"name"`
	ChainID        *big.Int `yaml:"-"`
	ChainIDInt     int64    `yaml:"chain_id"`
	RPCURLs        []string `yaml:"rpc_urls"`
	ExplorerURL    string   `yaml:"explorer_url"`
	NativeCurrency string   `yaml:"native_currency"`
	SafeServiceURL string   `yaml:"safe_service_url"` // Safe Transaction Service base URL
	IsTestnet      bool     `yaml:"is_testnet"`
}

// DefaultChain is the chain the signing workflow targets unless configured otherwise.
const DefaultChain = "gnosis"

// DefaultChains returns the default chain configurations
func DefaultChains() map[string]*ChainConfig {
	return map[string]*ChainConfig{
		"gnosis": {
			Name:           "Gnosis Chain",
			ChainID:        big.NewInt(100),
			ChainIDInt:     100,
			RPCURLs:        []string{"https://rpc.gnosischain.com", "https://gnosis.drpc.org"},
			ExplorerURL:    "https://gnosisscan.io",
			NativeCurrency: "xDAI",
			SafeServiceURL: "https://safe-transaction-gnosis-chain.safe.global",
		},
		"ethereum": {
			Name:           "Ethereum Mainnet",
			ChainID:        big.NewInt(1),
			ChainIDInt:     1,
			RPCURLs:        []string{"https://eth.llamarpc.com", "https://rpc.ankr.com/eth"},
			ExplorerURL:    "https://etherscan.io",
			NativeCurrency: "ETH",
			SafeServiceURL: "https://safe-transaction-mainnet.safe.global",
		},
		"base": {
			Name:           "Base",
			ChainID:        big.NewInt(8453),
			ChainIDInt:     8453,
			RPCURLs:        []string{"https://mainnet.base.org", "https://base.llamarpc.com"},
			ExplorerURL:    "https://basescan.org",
			NativeCurrency: "ETH",
			SafeServiceURL: "https://safe-transaction-base.safe.global",
		},
		"arbitrum": {
			Name:           "Arbitrum One",
			ChainID:        big.NewInt(42161),
			ChainIDInt:     42161,
			RPCURLs:        []string{"https://arb1.arbitrum.io/rpc", "https://arbitrum.llamarpc.com"},
			ExplorerURL:    "https://arbiscan.io",
			NativeCurrency: "ETH",
			SafeServiceURL: "https://safe-transaction-arbitrum.safe.global",
		},
		"optimism": {
			Name:           "Optimism",
			ChainID:        big.NewInt(10),
			ChainIDInt:     10,
			RPCURLs:        []string{"https://mainnet.optimism.io", "https://optimism.llamarpc.com"},
			ExplorerURL:    "https://optimistic.etherscan.io",
			NativeCurrency: "ETH",
			SafeServiceURL: "https://safe-transaction-optimism.safe.global",
		},
		"polygon": {
			Name:           "Polygon",
			ChainID:        big.NewInt(137),
			ChainIDInt:     137,
			RPCURLs:        []string{"https://polygon-rpc.com", "https://polygon.llamarpc.com"},
			ExplorerURL:    "https://polygonscan.com",
			NativeCurrency: "POL",
			SafeServiceURL: "https://safe-transaction-polygon.safe.global",
		},
		"sepolia": {
			Name:           "Sepolia Testnet",
			ChainID:        big.NewInt(11155111),
			ChainIDInt:     11155111,
			RPCURLs:        []string{"https://rpc.sepolia.org", "https://sepolia.drpc.org"},
			ExplorerURL:    "https://sepolia.etherscan.io",
			NativeCurrency: "ETH",
			SafeServiceURL: "https://safe-transaction-sepolia.safe.global",
			IsTestnet:      true,
		},
	}
}

// ChainNames returns the configured chain names in sorted order
func ChainNames(chains map[string]*ChainConfig) []string {
	names := make([]string, 0, len(chains))
	for name := range chains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

