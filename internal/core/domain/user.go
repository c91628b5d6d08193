package domain

import "time"

// Plan enumerates subscription tiers.
type Plan string

const (
	PlanFree     Plan = "free"
	PlanStandard Plan = "standard"
	PlanPremium  Plan = "premium"
)

// Valid reports whether the plan is one of the known tiers.
func (p Plan) Valid() bool {
	switch p {
	case PlanFree, PlanStandard, PlanPremium:
		return true
	}
	return false
}

// User mirrors the persisted representation in the users table.
type User struct {
	ID            string
	Email         string
	DisplayName   string
	PasswordHash  string
	Plan          Plan
	IsAdmin       bool
	FailedLogins  int
	LockedUntil   *time.Time
	RegisteredAt  time.Time
	LastLogin     *time.Time
	PlanChangedAt *time.Time
}

// IsLocked reports whether the account is under a login lockout at the supplied moment.
func (u User) IsLocked(at time.Time) bool {
	return u.LockedUntil != nil && u.LockedUntil.After(at)
}

// RecordFailure increments the consecutive-failure counter and, when a lockout
// deadline is supplied, extends the lockout. The deadline is monotone: an earlier
// deadline never replaces a later one.
func (u *User) RecordFailure(lockUntil *time.Time) {
	u.FailedLogins++
	if lockUntil == nil {
		return
	}
	if u.LockedUntil == nil || lockUntil.After(*u.LockedUntil) {
		deadline := *lockUntil
		u.LockedUntil = &deadline
	}
}

// ResetFailures clears the failure counter and lockout after a successful login.
func (u *User) ResetFailures(at time.Time) {
	u.FailedLogins = 0
	u.LockedUntil = nil
	loginCopy := at
	u.LastLogin = &loginCopy
}
