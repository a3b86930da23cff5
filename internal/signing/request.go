package signing

import (
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

const (
	DefaultContent     = "hello world"
	DefaultPrimaryType = "Message"
)

// DefaultVerifyingContract is the placeholder contract named in the demo domain.
var DefaultVerifyingContract = common.HexToAddress("0xCcCCccccCCCCcCCCCCCcCcCccCcCCCcCcccccccC")

// Field is one (name, solidity type) entry of a struct schema
type Field struct {
	Name string
	Type string
}

// Domain is the EIP-712 domain a request is bound to
type Domain struct {
	Name              string
	Version           string
	ChainID           int64
	VerifyingContract common.Address
}

// DefaultDomain returns the My App domain on chain 100
func DefaultDomain() Domain {
	return Domain{
		Name:              "My App",
		Version:           "1",
		ChainID:           100,
		VerifyingContract: DefaultVerifyingContract,
	}
}

// Template holds the fixed parts of every request
type Template struct {
	Content string
	Domain  Domain
}

// DefaultTemplate signs "hello world" in the default domain
func DefaultTemplate() Template {
	return Template{Content: DefaultContent, Domain: DefaultDomain()}
}

var messageSchema = []Field{
	{Name: "content", Type: "string"},
	{Name: "timestamp", Type: "uint256"},
}

// Request is an immutable typed-data signing request. The same request is
// used for direct and Safe signing.
type Request struct {
	domain    Domain
	content   string
	timestamp int64
}

// BuildRequest stamps the template's message body with now (Unix seconds).
// Empty template fields fall back to the defaults.
func BuildRequest(t Template, now time.Time) Request {
	if t.Content == "" {
		t.Content = DefaultContent
	}
	if t.Domain == (Domain{}) {
		t.Domain = DefaultDomain()
	}
	return Request{domain: t.Domain, content: t.Content, timestamp: now.Unix()}
}

func (r Request) Domain() Domain      { return r.domain }
func (r Request) PrimaryType() string { return DefaultPrimaryType }
func (r Request) Content() string     { return r.content }
func (r Request) Timestamp() int64    { return r.timestamp }

// Types returns the struct schema keyed by struct name
func (r Request) Types() map[string][]Field {
	return map[string][]Field{
		DefaultPrimaryType: append([]Field(nil), messageSchema...),
	}
}

// Message returns the message body
func (r Request) Message() map[string]any {
	return map[string]any{
		"content":   r.content,
		"timestamp": r.timestamp,
	}
}

// TypedData renders the request as eth_signTypedData_v4 input, including the
// EIP712Domain type wallets add implicitly.
func (r Request) TypedData() apitypes.TypedData {
	msgTypes := make([]apitypes.Type, 0, len(messageSchema))
	for _, f := range messageSchema {
		msgTypes = append(msgTypes, apitypes.Type{Name: f.Name, Type: f.Type})
	}

	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			DefaultPrimaryType: msgTypes,
		},
		PrimaryType: DefaultPrimaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              r.domain.Name,
			Version:           r.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(big.NewInt(r.domain.ChainID)),
			VerifyingContract: r.domain.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"content":   r.content,
			"timestamp": strconv.FormatInt(r.timestamp, 10),
		},
	}
}
