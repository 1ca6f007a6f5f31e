package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"gatehouse.org/internal/ids"
)

// newRefreshToken mints an opaque refresh credential. The wire form is
// "<id>.<secret>"; only the sha256 of the secret is persisted. A fresh chain
// id is allocated when chainID is empty, otherwise the new token stays in
// the chain of the token it was rotated from.
func newRefreshToken(principalID, orgID, chainID string, now time.Time, ttl time.Duration) (string, *RefreshToken, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", nil, err
	}
	secret := base64.RawURLEncoding.EncodeToString(secretBytes)
	tokenID := ids.New()
	if chainID == "" {
		chainID = tokenID
	}
	rec := &RefreshToken{
		ID:             tokenID,
		ChainID:        chainID,
		PrincipalID:    principalID,
		OrganizationID: orgID,
		SecretHash:     hashRefreshSecret(secret),
		ExpiresAt:      now.Add(ttl),
		CreatedAt:      now,
	}
	return tokenID + "." + secret, rec, nil
}

func splitRefreshToken(raw string) (id, secret string, err error) {
	parts := strings.Split(strings.TrimSpace(raw), ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.New("invalid refresh token format")
	}
	return parts[0], parts[1], nil
}

func hashRefreshSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// matchRefreshSecret compares the presented secret against the stored hash
// without leaking the position of the first differing byte.
func matchRefreshSecret(storedHash, secret string) bool {
	actual := hashRefreshSecret(secret)
	if len(storedHash) != len(actual) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(storedHash), []byte(actual)) == 1
}
