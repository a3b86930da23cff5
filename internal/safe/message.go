package safe

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/yolodolo42/safesign/internal/wallet"
)

var ErrUnsupportedContent = errors.New("unsupported safe message content")

// Signature is one owner's signature over a Safe message.
type Signature struct {
	Signer              common.Address `json:"signer"`
	Data                hexutil.Bytes  `json:"data"`
	IsContractSignature bool           `json:"isContractSignature"`
}

// Message is a Safe off-chain message: either a plain string or EIP-712
// typed data, plus the owner signatures collected so far keyed by
// lowercase owner address.
type Message struct {
	Text       *string              `json:"-"`
	Typed      *apitypes.TypedData  `json:"-"`
	Signatures map[string]Signature `json:"signatures"`
}

// CreateMessage wraps content (string, apitypes.TypedData or *apitypes.TypedData).
func (c *Client) CreateMessage(content any) (*Message, error) {
	return NewMessage(content)
}

// NewMessage wraps content without needing an initialized client.
func NewMessage(content any) (*Message, error) {
	msg := &Message{Signatures: make(map[string]Signature)}
	switch v := content.(type) {
	case string:
		msg.Text = &v
	case apitypes.TypedData:
		msg.Typed = &v
	case *apitypes.TypedData:
		if v == nil {
			return nil, fmt.Errorf("%w: nil typed data", ErrUnsupportedContent)
		}
		cp := *v
		msg.Typed = &cp
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedContent, content)
	}
	return msg, nil
}

// ContentHash is the digest the Safe signs over: the EIP-191 text hash for
// strings, the EIP-712 hash for typed data.
func (m *Message) ContentHash() ([]byte, error) {
	switch {
	case m.Text != nil:
		return accounts.TextHash([]byte(*m.Text)), nil
	case m.Typed != nil:
		return wallet.TypedDataHash(*m.Typed)
	default:
		return nil, fmt.Errorf("%w: empty message", ErrUnsupportedContent)
	}
}

// AddSignature stores sig, replacing any earlier signature by the same owner.
func (m *Message) AddSignature(sig Signature) {
	if m.Signatures == nil {
		m.Signatures = make(map[string]Signature)
	}
	m.Signatures[strings.ToLower(sig.Signer.Hex())] = sig
}

// EncodedSignatures concatenates the signatures ordered by ascending owner
// address, the layout Safe's isValidSignature expects for EOA signatures.
func (m *Message) EncodedSignatures() hexutil.Bytes {
	keys := make([]string, 0, len(m.Signatures))
	for k := range m.Signatures {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	for _, k := range keys {
		buf.Write(m.Signatures[k].Data)
	}
	return buf.Bytes()
}

// MarshalJSON renders {"data": <string|typed data>, "signatures": {...}}.
func (m *Message) MarshalJSON() ([]byte, error) {
	var data any
	switch {
	case m.Text != nil:
		data = *m.Text
	case m.Typed != nil:
		data = m.Typed
	}
	sigs := m.Signatures
	if sigs == nil {
		sigs = map[string]Signature{}
	}
	return json.Marshal(struct {
		Data       any                  `json:"data"`
		Signatures map[string]Signature `json:"signatures"`
	}{data, sigs})
}

// UnmarshalJSON reads the MarshalJSON form back. A string "data" becomes a
// text message, an object becomes typed data.
func (m *Message) UnmarshalJSON(b []byte) error {
	var raw struct {
		Data       json.RawMessage      `json:"data"`
		Signatures map[string]Signature `json:"signatures"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	data := bytes.TrimSpace(raw.Data)
	out := Message{Signatures: raw.Signatures}
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		return fmt.Errorf("%w: missing data", ErrUnsupportedContent)
	case data[0] == '"':
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		out.Text = &text
	case data[0] == '{':
		var typed apitypes.TypedData
		if err := json.Unmarshal(data, &typed); err != nil {
			return fmt.Errorf("%w: %v", ErrUnsupportedContent, err)
		}
		out.Typed = &typed
	default:
		return fmt.Errorf("%w: data must be a string or typed data", ErrUnsupportedContent)
	}
	if out.Signatures == nil {
		out.Signatures = make(map[string]Signature)
	}
	*m = out
	return nil
}

func (m *Message) clone() *Message {
	cp := &Message{Text: m.Text, Typed: m.Typed, Signatures: make(map[string]Signature, len(m.Signatures))}
	for k, v := range m.Signatures {
		cp.Signatures[k] = v
	}
	return cp
}

// SafeMessageTypedData builds the SafeMessage(bytes message) envelope an owner
// signs for msg on this Safe.
func (c *Client) SafeMessageTypedData(msg *Message) (apitypes.TypedData, error) {
	return SafeMessageTypedData(c.chainID, c.address, c.version, msg)
}

// SafeMessageHash returns the EIP-712 hash of the SafeMessage envelope, the
// identifier the Safe services use for a message.
func (c *Client) SafeMessageHash(msg *Message) (common.Hash, error) {
	typed, err := c.SafeMessageTypedData(msg)
	if err != nil {
		return common.Hash{}, err
	}
	hash, err := wallet.TypedDataHash(typed)
	if err != nil {
		return common.Hash{}, err
	}
	return common.BytesToHash(hash), nil
}

// SafeMessageTypedData builds the envelope for an arbitrary Safe.
func SafeMessageTypedData(chainID *big.Int, safeAddress common.Address, version string, msg *Message) (apitypes.TypedData, error) {
	if msg == nil {
		return apitypes.TypedData{}, fmt.Errorf("%w: nil message", ErrUnsupportedContent)
	}
	contentHash, err := msg.ContentHash()
	if err != nil {
		return apitypes.TypedData{}, err
	}

	domainTypes := []apitypes.Type{{Name: "verifyingContract", Type: "address"}}
	domain := apitypes.TypedDataDomain{VerifyingContract: safeAddress.Hex()}
	if domainHasChainID(version) {
		domainTypes = []apitypes.Type{
			{Name: "chainId", Type: "uint256"},
			{Name: "verifyingContract", Type: "address"},
		}
		domain.ChainId = (*math.HexOrDecimal256)(new(big.Int).Set(chainID))
	}

	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainTypes,
			"SafeMessage":  {{Name: "message", Type: "bytes"}},
		},
		PrimaryType: "SafeMessage",
		Domain:      domain,
		Message: apitypes.TypedDataMessage{
			"message": hexutil.Bytes(contentHash),
		},
	}, nil
}
