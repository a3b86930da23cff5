package signing

import "errors"

var (
	ErrNotConnected      = errors.New("no wallet session")
	ErrNotReady          = errors.New("accounts are not ready")
	ErrNoSelection       = errors.New("no account selected")
	ErrUnknownAccount    = errors.New("safe account is not in the discovered set")
	ErrSignInProgress    = errors.New("a sign operation is already in progress")
	ErrSignerUnavailable = errors.New("signer unavailable")
	ErrStaleSession      = errors.New("session changed while the operation was in flight")
	ErrDirectNotAllowed  = errors.New("direct signing is disabled")
	ErrSafeNotAllowed    = errors.New("safe signing is disabled")
)

// SignError is a failed sign attempt. Reason is the message shown to the user.
type SignError struct {
	Reason string
	Err    error
}

func (e *SignError) Error() string {
	return "sign failed: " + e.Reason
}

func (e *SignError) Unwrap() error {
	return e.Err
}
