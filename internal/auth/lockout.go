package auth

import "time"

// LockoutPolicy enforces temporary suspension after repeated failures.
// There is no stored "locked" flag: locked-ness is always derived fresh from
// (failed_attempts, locked_until, now), so unlock on expiry is implicit and
// cannot go stale.
type LockoutPolicy struct {
	Threshold int
	Duration  time.Duration
}

// Locked reports whether the principal is currently refused and, if so, how
// long until the lock expires.
func (p LockoutPolicy) Locked(principal *Principal, now time.Time) (time.Duration, bool) {
	if principal.LockedUntil == nil || !now.Before(*principal.LockedUntil) {
		return 0, false
	}
	return principal.LockedUntil.Sub(now), true
}

// ShouldLock reports whether the given post-increment failure count reaches
// the threshold.
func (p LockoutPolicy) ShouldLock(failures int) bool {
	return p.Threshold > 0 && failures >= p.Threshold
}

// LockUntil computes the lockout expiry for a lock triggered at now.
func (p LockoutPolicy) LockUntil(now time.Time) time.Time {
	return now.Add(p.Duration)
}
