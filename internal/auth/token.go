package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"gatehouse.org/internal/obs"
)

const defaultClockSkew = 5 * time.Second

// Claims are the session token claims. Roles are denormalized permission
// hints only; every authorization decision that matters is re-derived from
// durable grant records, since hints can go stale before the token expires.
type Claims struct {
	Org   string   `json:"org,omitempty"`
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// RevocationList tracks revoked token identifiers until their natural
// expiry. Backed in-process by MemoryRevocationList; the interface leaves
// room for a shared store when "log out everywhere" must span instances.
type RevocationList interface {
	Revoke(ctx context.Context, tokenID string, until time.Time) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// Issuer mints and validates signed, time-bounded session tokens.
type Issuer struct {
	secret  []byte
	issuer  string
	ttl     time.Duration
	leeway  time.Duration
	revoked RevocationList
	now     func() time.Time
}

// IssuerOption configures Issuer behavior.
type IssuerOption func(*Issuer)

// WithLeeway bounds the clock-skew allowance applied during validation.
func WithLeeway(d time.Duration) IssuerOption {
	return func(i *Issuer) {
		if d >= 0 {
			i.leeway = d
		}
	}
}

// WithRevocationList enables revocation checks by token id.
func WithRevocationList(list RevocationList) IssuerOption {
	return func(i *Issuer) { i.revoked = list }
}

// WithIssuerClock overrides the time source (useful for tests).
func WithIssuerClock(fn func() time.Time) IssuerOption {
	return func(i *Issuer) {
		if fn != nil {
			i.now = fn
		}
	}
}

// NewIssuer constructs an Issuer signing with HS256 over the given secret.
func NewIssuer(secret []byte, issuer string, ttl time.Duration, opts ...IssuerOption) (*Issuer, error) {
	if len(secret) == 0 {
		return nil, errors.New("auth: signing secret is required")
	}
	if ttl <= 0 {
		return nil, errors.New("auth: token ttl must be positive")
	}
	i := &Issuer{
		secret: secret,
		issuer: strings.TrimSpace(issuer),
		ttl:    ttl,
		leeway: defaultClockSkew,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// Issue signs a session token for the principal in the given tenant context.
func (i *Issuer) Issue(principalID, orgID string, roles []string) (string, *Claims, error) {
	principalID = strings.TrimSpace(principalID)
	if principalID == "" {
		return "", nil, errors.New("auth: principal id is required")
	}
	now := i.now().UTC()
	claims := &Claims{
		Org:   orgID,
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   principalID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}

// Validate verifies the signature over the exact claim bytes and the
// validity window. Expired tokens and tokens from the future (beyond the
// skew allowance) are terminal failures for that token.
func (i *Issuer) Validate(ctx context.Context, token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		obs.ObserveTokenVerification("invalid")
		return nil, ErrTokenInvalid
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrTokenInvalid
		}
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithTimeFunc(i.now),
		jwt.WithLeeway(i.leeway),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			obs.ObserveTokenVerification("expired")
			return nil, ErrTokenExpired
		}
		obs.ObserveTokenVerification("invalid")
		return nil, ErrTokenInvalid
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		obs.ObserveTokenVerification("invalid")
		return nil, ErrTokenInvalid
	}
	if strings.TrimSpace(claims.Subject) == "" || claims.IssuedAt == nil {
		obs.ObserveTokenVerification("invalid")
		return nil, ErrTokenInvalid
	}
	if i.issuer != "" && claims.Issuer != i.issuer {
		obs.ObserveTokenVerification("invalid")
		return nil, ErrTokenInvalid
	}

	if i.revoked != nil {
		revoked, err := i.revoked.IsRevoked(ctx, claims.ID)
		if err != nil {
			return nil, wrapStore(err)
		}
		if revoked {
			obs.ObserveTokenVerification("revoked")
			return nil, ErrTokenInvalid
		}
	}

	obs.ObserveTokenVerification("ok")
	return claims, nil
}

// Revoke places the token's id on the revocation list for the remainder of
// its lifetime. Already-expired tokens are a no-op.
func (i *Issuer) Revoke(ctx context.Context, claims *Claims) error {
	if i.revoked == nil || claims == nil || claims.ExpiresAt == nil {
		return nil
	}
	until := claims.ExpiresAt.Time
	if !until.After(i.now()) {
		return nil
	}
	if err := i.revoked.Revoke(ctx, claims.ID, until); err != nil {
		return wrapStore(err)
	}
	return nil
}
