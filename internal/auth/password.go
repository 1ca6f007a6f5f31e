package auth

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"

	"gatehouse.org/internal/obs"
)

// Hasher hashes and verifies secrets with bcrypt. The output embeds its own
// salt and cost, so the work factor can be raised later without invalidating
// stored hashes. Hashing is CPU-bound; a weighted semaphore bounds how many
// operations run at once so a parallel login flood cannot exhaust compute.
type Hasher struct {
	cost int
	sem  *semaphore.Weighted
}

// NewHasher constructs a Hasher with the given bcrypt cost and concurrency
// bound. Out-of-range costs fall back to the bcrypt default; a non-positive
// bound falls back to GOMAXPROCS.
func NewHasher(cost int, maxConcurrent int64) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	if maxConcurrent <= 0 {
		maxConcurrent = int64(runtime.GOMAXPROCS(0))
	}
	return &Hasher{cost: cost, sem: semaphore.NewWeighted(maxConcurrent)}
}

// Hash derives a salted one-way hash of the plaintext.
func (h *Hasher) Hash(ctx context.Context, plaintext string) (string, error) {
	if plaintext == "" {
		return "", fmt.Errorf("%w: password is empty", ErrInvalidInput)
	}
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	obs.HashGateEnter()
	defer func() {
		obs.HashGateExit()
		h.sem.Release(1)
	}()

	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// Verify compares plaintext against a stored hash in constant time. A
// mismatch returns ErrInvalidCredentials; any other error is transient
// (context cancellation while queued at the gate).
func (h *Hasher) Verify(ctx context.Context, plaintext, secretHash string) error {
	if secretHash == "" {
		return ErrInvalidCredentials
	}
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	obs.HashGateEnter()
	defer func() {
		obs.HashGateExit()
		h.sem.Release(1)
	}()

	if err := bcrypt.CompareHashAndPassword([]byte(secretHash), []byte(plaintext)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}
