package wallet

import (
	"crypto/ecdsa"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// KeySigner signs with a raw private key held only in memory.
// Used for host-injected keys that never touch the keystore.
type KeySigner struct {
	mu      sync.RWMutex
	address common.Address
	key     *ecdsa.PrivateKey
}

// NewKeySigner wraps an existing private key
func NewKeySigner(key *ecdsa.PrivateKey) *KeySigner {
	return &KeySigner{
		address: crypto.PubkeyToAddress(key.PublicKey),
		key:     key,
	}
}

// NewKeySignerFromHex parses a hex private key and wraps it
func NewKeySignerFromHex(privateKeyHex string) (*KeySigner, error) {
	key, err := ParsePrivateKey(privateKeyHex)
	if err != nil {
		return nil, err
	}
	return NewKeySigner(key), nil
}

func (s *KeySigner) Address() common.Address {
	return s.address
}

func (s *KeySigner) SignMessage(message []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.key == nil {
		return nil, ErrAccountLocked
	}
	return signPersonal(s.key, message)
}

func (s *KeySigner) SignTypedData(typedData apitypes.TypedData) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.key == nil {
		return nil, ErrAccountLocked
	}
	return signTypedData(s.key, typedData)
}

// Lock zeros the key. See KeystoreSigner.Lock.
func (s *KeySigner) Lock() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.key != nil {
		s.key.D.SetInt64(0)
		s.key = nil
	}
}
