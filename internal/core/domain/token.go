package domain

import "time"

// RefreshToken represents a long-lived refresh token with rotation support.
// Only the SHA-256 hash of the raw value is persisted.
type RefreshToken struct {
	ID        string
	UserID    string
	SessionID string
	TokenHash string
	FamilyID  string
	IP        *string
	UserAgent *string
	CreatedAt time.Time
	ExpiresAt time.Time
	UsedAt    *time.Time
	RevokedAt *time.Time
	Metadata  map[string]any
}

// IsExpired reports whether the token has elapsed its validity window.
func (t RefreshToken) IsExpired(at time.Time) bool {
	return !t.ExpiresAt.After(at)
}

// IsRevoked reports whether the token has been explicitly revoked.
func (t RefreshToken) IsRevoked() bool {
	return t.RevokedAt != nil
}

// IsActive returns true when the token can still be presented for rotation.
func (t RefreshToken) IsActive(at time.Time) bool {
	if t.IsRevoked() || t.UsedAt != nil {
		return false
	}
	return !t.IsExpired(at)
}

// MarkUsed records the moment the refresh token was exchanged.
// Returns true if the value changed (i.e. token was previously unused).
func (t *RefreshToken) MarkUsed(at time.Time) bool {
	if t.UsedAt != nil {
		return false
	}
	timeCopy := at
	t.UsedAt = &timeCopy
	return true
}

// Revoke marks the token as revoked.
// Returns true if the token transitioned to the revoked state.
func (t *RefreshToken) Revoke(at time.Time) bool {
	if t.RevokedAt != nil {
		return false
	}
	timeCopy := at
	t.RevokedAt = &timeCopy
	return true
}

// AccessTokenRecord tracks an issued access token JTI so that session-wide
// revocation can denylist tokens that are still within their validity window.
type AccessTokenRecord struct {
	JTI       string
	UserID    string
	SessionID string
	IssuedAt  time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
	Reason    *string
}

// RevokedAccessTokenJTI models a denylisted access token identifier.
type RevokedAccessTokenJTI struct {
	JTI       string
	ExpiresAt time.Time
	RevokedAt time.Time
	Reason    *string
}

// CredentialPair bundles the artifacts minted by a login or rotation: the
// signed access token, the raw refresh token, and the raw CSRF companion value.
type CredentialPair struct {
	AccessToken      string
	AccessTokenJTI   string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshTokenID   string
	RefreshExpiresAt time.Time
	CSRFToken        string
	SessionID        string
	FamilyID         string
}
