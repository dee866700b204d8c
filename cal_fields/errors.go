package cal_fields

import (
	"errors"
	"fmt"
)

// Error taxonomy for everything that can go wrong against the provider.
// Handlers and the sync engine branch on these with errors.Is/As; the gcal
// package is the only place raw googleapi errors get translated.
var (
	// ErrAuthExchange: the authorization code was invalid, expired or reused.
	// User-caused, surfaced immediately, never retried.
	ErrAuthExchange = errors.New("authorization code exchange failed")

	// ErrInsufficientScope: the user granted a scope set that does not cover
	// calendar read+write. Nothing gets persisted on this failure.
	ErrInsufficientScope = errors.New("granted scope does not cover calendar read/write")

	// ErrReauthRequired: the refresh token itself was rejected (consent
	// revoked). Terminal until the user re-links; must reach the user.
	ErrReauthRequired = errors.New("provider rejected refresh token, relink required")

	// ErrCursorInvalid: the provider reported the sync cursor as gone.
	// Handled inside the sync engine with one full-window resync; callers
	// never see it.
	ErrCursorInvalid = errors.New("sync cursor no longer valid")

	// ErrNotLinked: the user has no established calendar account.
	ErrNotLinked = errors.New("no linked calendar account")
)

// TransientError wraps provider timeouts, 5xx and rate limiting. Read paths
// degrade on it, write-through logs and moves on.
type TransientError struct {
	Status int
	Err    error
}

func (e *TransientError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("transient provider error (status %d)", e.Status)
	}
	return fmt.Sprintf("transient provider error (status %d): %v", e.Status, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a TransientError anywhere in its chain.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
