package auth

import (
	"context"
	"sync"
	"time"
)

// MemoryRevocationList is an in-process RevocationList. Entries expire with
// the token they shadow; expired entries are swept opportunistically on
// writes so the map stays bounded by the number of live tokens.
type MemoryRevocationList struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time

	nextSweep  time.Time
	sweepEvery time.Duration
}

// NewMemoryRevocationList constructs an empty revocation list.
func NewMemoryRevocationList() *MemoryRevocationList {
	return &MemoryRevocationList{
		entries:    make(map[string]time.Time),
		now:        time.Now,
		sweepEvery: time.Minute,
	}
}

// Revoke records the token id until the given expiry.
func (l *MemoryRevocationList) Revoke(_ context.Context, tokenID string, until time.Time) error {
	if tokenID == "" {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if until.After(now) {
		l.entries[tokenID] = until
	}
	if now.After(l.nextSweep) {
		for id, exp := range l.entries {
			if !exp.After(now) {
				delete(l.entries, id)
			}
		}
		l.nextSweep = now.Add(l.sweepEvery)
	}
	return nil
}

// IsRevoked reports whether the token id is on the list and not yet expired.
func (l *MemoryRevocationList) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	until, ok := l.entries[tokenID]
	if !ok {
		return false, nil
	}
	if !until.After(l.now()) {
		delete(l.entries, tokenID)
		return false, nil
	}
	return true, nil
}
