package wallet

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrAccountLocked   = errors.New("account is locked")
	ErrInvalidKey      = errors.New("invalid private key")
)

// KeystoreSigner implements Signer using go-ethereum's encrypted keystore
type KeystoreSigner struct {
	// mu protects key from concurrent access. Prevents signing operations from
	// racing with Lock() which zeros the key material.
	mu      sync.RWMutex
	account accounts.Account
	key     *ecdsa.PrivateKey // nil when locked
}

// KeystoreManager manages the keystore directory and accounts
type KeystoreManager struct {
	ks      *keystore.KeyStore
	dataDir string
}

// NewKeystoreManager creates a new keystore manager
func NewKeystoreManager(dataDir string) (*KeystoreManager, error) {
	keystoreDir := filepath.Join(dataDir, "keystore")
	if err := os.MkdirAll(keystoreDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create keystore directory: %w", err)
	}

	// StandardScryptN and StandardScryptP are secure defaults
	ks := keystore.NewKeyStore(keystoreDir, keystore.StandardScryptN, keystore.StandardScryptP)

	return &KeystoreManager{
		ks:      ks,
		dataDir: dataDir,
	}, nil
}

// CreateAccount creates a new account with the given password
func (km *KeystoreManager) CreateAccount(password string) (accounts.Account, error) {
	return km.ks.NewAccount(password)
}

// ImportKey imports a private key and encrypts it with the password
func (km *KeystoreManager) ImportKey(privateKeyHex string, password string) (accounts.Account, error) {
	privateKey, err := ParsePrivateKey(privateKeyHex)
	if err != nil {
		return accounts.Account{}, err
	}

	return km.ks.ImportECDSA(privateKey, password)
}

// ListAccounts returns all accounts in the keystore
func (km *KeystoreManager) ListAccounts() []accounts.Account {
	return km.ks.Accounts()
}

// GetSigner returns an unlocked signer for the given address
func (km *KeystoreManager) GetSigner(address common.Address, password string) (*KeystoreSigner, error) {
	var targetAccount *accounts.Account
	for _, acc := range km.ks.Accounts() {
		if acc.Address == address {
			targetAccount = &acc
			break
		}
	}

	if targetAccount == nil {
		return nil, ErrAccountNotFound
	}

	keyJSON, err := km.ks.Export(*targetAccount, password, password)
	if err != nil {
		return nil, fmt.Errorf("failed to unlock account: %w", err)
	}

	key, err := keystore.DecryptKey(keyJSON, password)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt key: %w", err)
	}

	return &KeystoreSigner{
		account: *targetAccount,
		key:     key.PrivateKey,
	}, nil
}

// ParsePrivateKey decodes a hex private key, with or without 0x prefix
func ParsePrivateKey(privateKeyHex string) (*ecdsa.PrivateKey, error) {
	privateKeyHex = strings.TrimSpace(privateKeyHex)
	privateKeyHex = strings.TrimPrefix(strings.TrimPrefix(privateKeyHex, "0x"), "0X")

	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return privateKey, nil
}

// Address returns the address of the signer
func (ks *KeystoreSigner) Address() common.Address {
	return ks.account.Address
}

// SignMessage signs an arbitrary message using EIP-191 personal sign
func (ks *KeystoreSigner) SignMessage(message []byte) ([]byte, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	if ks.key == nil {
		return nil, ErrAccountLocked
	}
	return signPersonal(ks.key, message)
}

// SignTypedData signs EIP-712 typed data
func (ks *KeystoreSigner) SignTypedData(typedData apitypes.TypedData) ([]byte, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	if ks.key == nil {
		return nil, ErrAccountLocked
	}
	return signTypedData(ks.key, typedData)
}

// Lock zeros private key material from memory to prevent extraction via memory
// dumps, debuggers, or core dumps. Safe to call multiple times. After Lock(),
// all signing operations return ErrAccountLocked.
func (ks *KeystoreSigner) Lock() {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	if ks.key != nil {
		ks.key.D.SetInt64(0)
		ks.key = nil
	}
}
