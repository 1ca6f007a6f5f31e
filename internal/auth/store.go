package auth

import (
	"context"
	"time"
)

// PrincipalStore is the durable record of principals and their lockout
// bookkeeping. Counter mutations are expressed as atomic conditional updates
// keyed by principal id: concurrent attempts against the same principal
// serialize on the row, attempts against different principals do not contend.
type PrincipalStore interface {
	Create(ctx context.Context, p *Principal) error
	Find(ctx context.Context, id string) (*Principal, error)
	// FindByEmail looks a principal up by email, case-insensitively.
	FindByEmail(ctx context.Context, email string) (*Principal, error)
	// RecordFailure atomically increments the failure counter and returns
	// the counter value after the increment.
	RecordFailure(ctx context.Context, id string) (int, error)
	// RecordLock sets the lockout expiry. The failure counter is retained.
	RecordLock(ctx context.Context, id string, until time.Time) error
	// RecordSuccess resets the failure counter, clears the lockout expiry
	// and stamps last_login, as one atomic update.
	RecordSuccess(ctx context.Context, id string, at time.Time) error
}

// RefreshTokenStore manages the refresh credential lifecycle.
type RefreshTokenStore interface {
	Create(ctx context.Context, tok *RefreshToken) error
	Find(ctx context.Context, id string) (*RefreshToken, error)
	// MarkRotated consumes the token. It returns false when the token was
	// already rotated or revoked, which is how concurrent reuse is detected.
	MarkRotated(ctx context.Context, id string, at time.Time) (bool, error)
	Revoke(ctx context.Context, id string) error
	RevokeChain(ctx context.Context, chainID string) error
	RevokeByPrincipal(ctx context.Context, principalID string) error
}
