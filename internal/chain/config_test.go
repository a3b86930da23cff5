package chain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultChains(t *testing.T) {
	chains := DefaultChains()

	t.Run("default chain is gnosis", func(t *testing.T) {
		gnosis := chains[DefaultChain]
		require.NotNil(t, gnosis)

		assert.Equal(t, "Gnosis Chain", gnosis.Name)
		assert.Equal(t, int64(100), gnosis.ChainID.Int64())
		assert.Equal(t, "https://safe-transaction-gnosis-chain.safe.global", gnosis.SafeServiceURL)
		assert.False(t, gnosis.IsTestnet)
	})

	t.Run("every chain is complete", func(t *testing.T) {
		for name, config := range chains {
			assert.NotEmpty(t, config.RPCURLs, "chain %s has no RPC URLs", name)
			assert.NotEmpty(t, config.ExplorerURL, "chain %s has no explorer URL", name)
			assert.NotEmpty(t, config.SafeServiceURL, "chain %s has no Safe service URL", name)
			assert.Equal(t, config.ChainIDInt, config.ChainID.Int64(),
				"chain %s: ChainID and ChainIDInt mismatch", name)
		}
	})

	t.Run("only sepolia is a testnet", func(t *testing.T) {
		for name, config := range chains {
			assert.Equal(t, name == "sepolia", config.IsTestnet, name)
		}
	})
}

func TestChainNames(t *testing.T) {
	names := ChainNames(DefaultChains())
	require.NotEmpty(t, names)
	assert.IsNonDecreasing(t, names)
	assert.Contains(t, names, "gnosis")
}

