package domain

import "time"

// TokenType distinguishes the two credential kinds issued by the service.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// DeviceInfo captures the client context a token was issued against.
type DeviceInfo struct {
	DeviceID    *string
	DeviceLabel *string
	IP          *string
	UserAgent   *string
}

// RefreshToken is the persisted representation of a refresh credential.
// A chain groups every rotation of the same device login; at most one token
// per chain is active at any moment.
type RefreshToken struct {
	ID          string
	UserID      string
	ChainID     string
	TokenHash   string
	DeviceID    *string
	DeviceLabel *string
	IP          *string
	UserAgent   *string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	LastUsedAt  *time.Time
	RevokedAt   *time.Time
	RevokedBy   *string
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
	if t.IsRevoked() {
		return false
	}
	return !t.IsExpired(at)
}

// Revoke marks the token as revoked by the supplied actor.
// Returns true if the token transitioned to the revoked state.
func (t *RefreshToken) Revoke(at time.Time, by string) bool {
	if t.RevokedAt != nil {
		return false
	}
	atCopy := at
	byCopy := by
	t.RevokedAt = &atCopy
	t.RevokedBy = &byCopy
	return true
}

// Touch records usage of the token for session activity tracking.
func (t *RefreshToken) Touch(at time.Time) {
	atCopy := at
	t.LastUsedAt = &atCopy
}

// TokenPair is the result of issuing or rotating credentials.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	RefreshTokenID   string
	ChainID          string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}
