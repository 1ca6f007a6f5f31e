package auth

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredentials covers both unknown email and wrong password;
	// callers must not be able to tell the two apart.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrAccountLocked      = errors.New("auth: account locked")
	ErrTokenExpired       = errors.New("auth: token expired")
	ErrTokenInvalid       = errors.New("auth: invalid token")
	ErrPermissionDenied   = errors.New("auth: permission denied")
	// ErrStoreUnavailable marks transient infrastructure failures. It is
	// never folded into ErrInvalidCredentials and never counted against the
	// lockout threshold.
	ErrStoreUnavailable = errors.New("auth: store unavailable")
	ErrRefreshReplay    = errors.New("auth: refresh token replayed")

	ErrNotFound      = errors.New("auth: not found")
	ErrAlreadyExists = errors.New("auth: already exists")
	ErrInvalidInput  = errors.New("auth: invalid input")
)

// LockedError reports how long the account remains locked. It unwraps to
// ErrAccountLocked so callers can match either form.
type LockedError struct {
	RetryAfter time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("auth: account locked, retry in %s", e.RetryAfter.Round(time.Second))
}

func (e *LockedError) Unwrap() error { return ErrAccountLocked }

func wrapStore(err error) error {
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
