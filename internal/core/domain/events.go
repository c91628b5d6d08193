package domain

import "time"

// UserRegisteredEvent is emitted after a successful registration commit.
type UserRegisteredEvent struct {
	EventID      string
	UserID       string
	Email        string
	Plan         Plan
	RegisteredAt time.Time
	Metadata     map[string]any
}

// SessionRevokedEvent is emitted whenever a session is terminated, whatever the
// trigger (logout, reuse detection, admin action).
type SessionRevokedEvent struct {
	EventID       string
	SessionID     string
	UserID        string
	FamilyID      string
	DeviceLabel   *string
	RevokedAt     time.Time
	RevokedBy     string
	Reason        string
	TokensRevoked int
	IPAddress     *string
	Metadata      map[string]any
}

// TokenReuseDetectedEvent is emitted when an already-consumed refresh token is
// presented again, which is treated as evidence of credential theft.
type TokenReuseDetectedEvent struct {
	EventID    string
	UserID     string
	SessionID  string
	FamilyID   string
	TokenID    string
	DetectedAt time.Time
	IPAddress  *string
	Metadata   map[string]any
}

// PlanChangedEvent is emitted after an admin changes a user's plan. Consumers
// use it to force credential refresh so plan claims stay accurate.
type PlanChangedEvent struct {
	EventID         string
	UserID          string
	OldPlan         Plan
	NewPlan         Plan
	ChangedAt       time.Time
	ChangedBy       string
	SessionsRevoked int
	Metadata        map[string]any
}
