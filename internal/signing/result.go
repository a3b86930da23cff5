package signing

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/yolodolo42/safesign/internal/safe"
)

// Kind tags which path produced a result
type Kind string

const (
	KindDirect Kind = "direct"
	KindSafe   Kind = "safe"
)

// Result is a successful signature. Direct results carry the 65-byte EOA
// signature; Safe results carry the signed Safe message and its encoded
// owner signatures.
type Result struct {
	Kind      Kind           `json:"kind"`
	Signer    common.Address `json:"signer"`
	Signature hexutil.Bytes  `json:"signature"`
	Timestamp int64          `json:"timestamp"`

	Safe            *common.Address `json:"safe,omitempty"`
	SafeMessageHash *common.Hash    `json:"safeMessageHash,omitempty"`
	SafeMessage     *safe.Message   `json:"safeMessage,omitempty"`
}
