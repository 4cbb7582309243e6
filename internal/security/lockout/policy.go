// Package lockout decides when repeated login failures temporarily lock an
// account. Transitions are pure; callers persist the mutated user.
package lockout

import (
	"time"

	"github.com/yourorg/clinicops/internal/domain"
)

const (
	DefaultThreshold = 5
	DefaultDuration  = 30 * time.Minute
)

// Policy holds the lockout threshold and lock length
type Policy struct {
	Threshold int
	Duration  time.Duration
}

// NewPolicy falls back to the defaults for non-positive values.
func NewPolicy(threshold int, duration time.Duration) Policy {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if duration <= 0 {
		duration = DefaultDuration
	}
	return Policy{Threshold: threshold, Duration: duration}
}

// RecordFailure counts a failed attempt. The attempt that reaches the
// threshold sets the lock itself.
func (p Policy) RecordFailure(u *domain.User, now time.Time) {
	u.FailedLoginAttempts++
	if u.FailedLoginAttempts >= p.Threshold {
		until := now.Add(p.Duration)
		u.LockedUntil = &until
	}
}

// RecordSuccess clears the counter and any lock and stamps the login time.
func (p Policy) RecordSuccess(u *domain.User, now time.Time) {
	u.FailedLoginAttempts = 0
	u.LockedUntil = nil
	loginAt := now
	u.LastLoginAt = &loginAt
}

// IsLocked is true iff a lock expiry is set and strictly after now.
func (p Policy) IsLocked(u *domain.User, now time.Time) bool {
	return u.LockedUntil != nil && u.LockedUntil.After(now)
}
