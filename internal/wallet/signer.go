package wallet

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Signer is the signing capability held by a wallet session.
// Different implementations support different key management strategies.
type Signer interface {
	// Address returns the Ethereum address of the signer
	Address() common.Address

	// SignMessage signs an arbitrary message (EIP-191 personal sign)
	SignMessage(message []byte) ([]byte, error)

	// SignTypedData signs EIP-712 typed data (eth_signTypedData_v4)
	SignTypedData(typedData apitypes.TypedData) ([]byte, error)
}

// TypedDataHash returns the EIP-712 digest keccak256("\x19\x01" ‖ domainSeparator ‖ hashStruct(message)).
func TypedDataHash(typedData apitypes.TypedData) ([]byte, error) {
	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return nil, fmt.Errorf("failed to hash typed data: %w", err)
	}
	return hash, nil
}

// signPersonal signs message with the EIP-191 prefix.
// The prefix prevents signed messages from being replayed as transactions.
func signPersonal(key *ecdsa.PrivateKey, message []byte) ([]byte, error) {
	return signHash(key, accounts.TextHash(message))
}

func signTypedData(key *ecdsa.PrivateKey, typedData apitypes.TypedData) ([]byte, error) {
	hash, err := TypedDataHash(typedData)
	if err != nil {
		return nil, err
	}
	return signHash(key, hash)
}

func signHash(key *ecdsa.PrivateKey, hash []byte) ([]byte, error) {
	sig, err := crypto.Sign(hash, key)
	if err != nil {
		return nil, err
	}

	// Transform V from crypto.Sign's 0/1 to 27/28 for web3.js/MetaMask compatibility.
	// Ethereum's ecrecover precompile expects V in {27,28} not {0,1}.
	sig[64] += 27
	return sig, nil
}

// RecoverTypedDataSigner returns the address that produced sig over typedData.
func RecoverTypedDataSigner(typedData apitypes.TypedData, sig []byte) (common.Address, error) {
	hash, err := TypedDataHash(typedData)
	if err != nil {
		return common.Address{}, err
	}
	return recoverHash(hash, sig)
}

// RecoverMessageSigner returns the address that produced an EIP-191 sig over message.
func RecoverMessageSigner(message, sig []byte) (common.Address, error) {
	return recoverHash(accounts.TextHash(message), sig)
}

func recoverHash(hash, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("invalid signature length: %d", len(sig))
	}

	normalized := make([]byte, len(sig))
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}

	pub, err := crypto.SigToPub(hash, normalized)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}
