package wallet

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yolodolo42/safesign/internal/testutil"
)

// Well-known anvil test key. Never holds funds.
const (
	testPrivateKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testAddress    = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

func TestKeystoreManager_ImportKey(t *testing.T) {
	t.Run("imports valid private key", func(t *testing.T) {
		km, err := NewKeystoreManager(testutil.TempDir(t))
		require.NoError(t, err)

		account, err := km.ImportKey(testPrivateKey, "testpassword")
		require.NoError(t, err)
		assert.Equal(t, testAddress, account.Address.Hex())
	})

	t.Run("imports with 0x prefix", func(t *testing.T) {
		km, err := NewKeystoreManager(testutil.TempDir(t))
		require.NoError(t, err)

		account, err := km.ImportKey("0x"+testPrivateKey, "testpassword")
		require.NoError(t, err)
		assert.Equal(t, testAddress, account.Address.Hex())
	})

	t.Run("rejects invalid keys", func(t *testing.T) {
		km, err := NewKeystoreManager(testutil.TempDir(t))
		require.NoError(t, err)

		for _, key := range []string{"not-a-valid-hex-key", "abcd1234", ""} {
			_, err = km.ImportKey(key, "testpassword")
			assert.ErrorIs(t, err, ErrInvalidKey, "key %q", key)
		}
	})
}

func TestKeystoreManager_GetSigner(t *testing.T) {
	dir := testutil.TempDir(t)
	km, err := NewKeystoreManager(dir)
	require.NoError(t, err)

	account, err := km.ImportKey(testPrivateKey, "testpassword")
	require.NoError(t, err)

	t.Run("unlocks with correct password", func(t *testing.T) {
		signer, err := km.GetSigner(account.Address, "testpassword")
		require.NoError(t, err)
		assert.Equal(t, account.Address, signer.Address())
	})

	t.Run("rejects wrong password", func(t *testing.T) {
		_, err := km.GetSigner(account.Address, "wrong")
		require.Error(t, err)
	})

	t.Run("unknown address", func(t *testing.T) {
		_, err := km.GetSigner(common.HexToAddress("0x1234567890123456789012345678901234567890"), "testpassword")
		assert.ErrorIs(t, err, ErrAccountNotFound)
	})

	t.Run("accounts survive reopening the directory", func(t *testing.T) {
		reopened, err := NewKeystoreManager(dir)
		require.NoError(t, err)

		accounts := reopened.ListAccounts()
		require.Len(t, accounts, 1)
		assert.Equal(t, account.Address, accounts[0].Address)
	})
}
