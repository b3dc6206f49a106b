package domain

import "time"

// UserSecurityState tracks failed-login counters and lockout windows for one
// login identifier. Lock status is derived lazily from the stored fields;
// nothing clears a lock when the window elapses.
type UserSecurityState struct {
	Identifier     string
	FailedAttempts int
	LastFailedAt   *time.Time
	LockedUntil    *time.Time
	LockoutCount   int
	LastLockoutAt  *time.Time
	AdminLocked    bool
	UpdatedAt      time.Time
}

// IsLocked reports whether the account is locked at the supplied moment.
// A threshold lockout holds exactly while failed attempts remain at or above
// the threshold and the lockout window has not elapsed. Admin locks hold
// until explicitly released.
func (s UserSecurityState) IsLocked(at time.Time, threshold int) bool {
	if s.AdminLocked {
		return true
	}
	if s.FailedAttempts < threshold {
		return false
	}
	return s.LockedUntil != nil && at.Before(*s.LockedUntil)
}

// RemainingLockout returns how long the lockout still holds, zero when open.
func (s UserSecurityState) RemainingLockout(at time.Time) time.Duration {
	if s.LockedUntil == nil || !at.Before(*s.LockedUntil) {
		return 0
	}
	return s.LockedUntil.Sub(at)
}

// LockedOutWithin reports whether the previous lockout started inside the
// supplied window, which drives lockout-duration escalation.
func (s UserSecurityState) LockedOutWithin(at time.Time, window time.Duration) bool {
	if s.LastLockoutAt == nil {
		return false
	}
	return at.Sub(*s.LastLockoutAt) < window
}
