package domain

import "time"

// SessionView is a read projection over an active refresh chain. Sessions are
// not stored separately; each active refresh token represents one logged-in
// device.
type SessionView struct {
	TokenID      string
	ChainID      string
	UserID       string
	DeviceID     *string
	DeviceLabel  *string
	IP           *string
	UserAgent    *string
	CreatedAt    time.Time
	ExpiresAt    time.Time
	LastActivity time.Time
	IsCurrent    bool
}

// NewSessionView projects a refresh token into its session representation.
// currentChainID marks the session the requesting credential belongs to.
func NewSessionView(token RefreshToken, currentChainID string) SessionView {
	lastActivity := token.CreatedAt
	if token.LastUsedAt != nil && token.LastUsedAt.After(lastActivity) {
		lastActivity = *token.LastUsedAt
	}

	return SessionView{
		TokenID:      token.ID,
		ChainID:      token.ChainID,
		UserID:       token.UserID,
		DeviceID:     token.DeviceID,
		DeviceLabel:  token.DeviceLabel,
		IP:           token.IP,
		UserAgent:    token.UserAgent,
		CreatedAt:    token.CreatedAt,
		ExpiresAt:    token.ExpiresAt,
		LastActivity: lastActivity,
		IsCurrent:    currentChainID != "" && token.ChainID == currentChainID,
	}
}
