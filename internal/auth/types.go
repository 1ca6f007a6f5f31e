package auth

import "time"

// Principal statuses. Principals are never physically deleted; deactivation
// is a state flag so audit history stays intact.
const (
	StatusActive   = "active"
	StatusDisabled = "disabled"
)

// Principal is an account capable of authenticating.
type Principal struct {
	ID             string
	OrganizationID string
	Email          string
	SecretHash     string
	EmailVerified  bool
	Status         string
	CreatedAt      time.Time
	LastLogin      *time.Time
	FailedAttempts int
	LockedUntil    *time.Time
}

// RefreshToken is the persisted half of an opaque refresh credential. The
// secret half only ever exists in the caller's hands; the store keeps its
// sha256 hash. All tokens minted from one another share a ChainID.
type RefreshToken struct {
	ID             string
	ChainID        string
	PrincipalID    string
	OrganizationID string
	SecretHash     string
	ExpiresAt      time.Time
	CreatedAt      time.Time
	RotatedAt      *time.Time
	Revoked        bool
}

// Session is returned to callers on successful login or refresh.
type Session struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}
