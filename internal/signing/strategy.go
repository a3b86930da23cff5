package signing

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/yolodolo42/safesign/internal/logging"
	"github.com/yolodolo42/safesign/internal/safe"
	"github.com/yolodolo42/safesign/internal/session"
)

// Strategy signs a request with a session's signing handle
type Strategy interface {
	Kind() Kind
	Sign(ctx context.Context, handle *session.Handle, req Request) (Result, error)
}

// DirectStrategy signs the request's typed data as the connected EOA.
type DirectStrategy struct{}

func (DirectStrategy) Kind() Kind { return KindDirect }

func (DirectStrategy) Sign(ctx context.Context, handle *session.Handle, req Request) (Result, error) {
	if handle == nil || handle.Signer == nil {
		return Result{}, ErrSignerUnavailable
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	sig, err := handle.Signer.SignTypedData(req.TypedData())
	if err != nil {
		return Result{}, err
	}
	return Result{
		Kind:      KindDirect,
		Signer:    handle.Signer.Address(),
		Signature: sig,
	}, nil
}

// PayloadMode selects what a Safe message wraps
type PayloadMode string

const (
	// PayloadTyped wraps the request's EIP-712 typed data
	PayloadTyped PayloadMode = "typed"
	// PayloadText wraps only the request's content string
	PayloadText PayloadMode = "text"
)

// ParsePayloadMode accepts "typed" or "text"; empty means typed.
func ParsePayloadMode(s string) (PayloadMode, error) {
	switch PayloadMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", PayloadTyped:
		return PayloadTyped, nil
	case PayloadText:
		return PayloadText, nil
	default:
		return "", fmt.Errorf("unknown safe payload %q (expected typed or text)", s)
	}
}

// SafeClient is the part of an initialized Safe client the strategy uses.
type SafeClient interface {
	CreateMessage(content any) (*safe.Message, error)
	SignMessage(ctx context.Context, msg *safe.Message) (*safe.Message, error)
	SafeMessageHash(msg *safe.Message) (common.Hash, error)
}

// SafeInitFunc initializes a Safe client bound to a session
type SafeInitFunc func(ctx context.Context, cfg safe.Config) (SafeClient, error)

// InitSafe is the default SafeInitFunc
func InitSafe(ctx context.Context, cfg safe.Config) (SafeClient, error) {
	client, err := safe.Init(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// SafeStrategy signs through a Safe the connected address owns.
type SafeStrategy struct {
	Safe    common.Address
	Payload PayloadMode
	Init    SafeInitFunc
	Logger  *zap.Logger
}

func (s *SafeStrategy) Kind() Kind { return KindSafe }

func (s *SafeStrategy) Sign(ctx context.Context, handle *session.Handle, req Request) (Result, error) {
	if handle == nil || handle.Signer == nil {
		return Result{}, ErrSignerUnavailable
	}

	initFn := s.Init
	if initFn == nil {
		initFn = InitSafe
	}
	client, err := initFn(ctx, safe.Config{
		Provider:    handle.Transport,
		Signer:      handle.Signer,
		SafeAddress: s.Safe,
		Logger:      s.Logger,
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to initialize safe %s: %w", s.Safe.Hex(), err)
	}

	var content any = req.TypedData()
	if s.Payload == PayloadText {
		content = req.Content()
	}

	msg, err := client.CreateMessage(content)
	if err != nil {
		return Result{}, err
	}
	signed, err := client.SignMessage(ctx, msg)
	if err != nil {
		return Result{}, err
	}
	hash, err := client.SafeMessageHash(signed)
	if err != nil {
		return Result{}, err
	}

	logging.OrNop(s.Logger).Named("signing").Debug("safe message signed",
		zap.String("safe", s.Safe.Hex()),
		zap.String("hash", hash.Hex()),
	)

	addr := s.Safe
	return Result{
		Kind:            KindSafe,
		Signer:          handle.Signer.Address(),
		Signature:       signed.EncodedSignatures(),
		Safe:            &addr,
		SafeMessageHash: &hash,
		SafeMessage:     signed,
	}, nil
}
