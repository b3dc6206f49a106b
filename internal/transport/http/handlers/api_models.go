package handlers

import (
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
)

// ErrorResponse is the standard error payload.
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// NewErrorResponse creates an error response with trace ID from context
func NewErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	traceID, _ := c.Get("trace_id")
	traceIDStr, _ := traceID.(string)

	return ErrorResponse{
		Error:   errorMsg,
		TraceID: traceIDStr,
	}
}

// MessageResponse represents a simple message payload.
type MessageResponse struct {
	Message string `json:"message"`
}

// AuthLoginRequest defines the payload for the login endpoint.
type AuthLoginRequest struct {
	Identifier  string `json:"identifier" binding:"required"`
	Password    string `json:"password" binding:"required"`
	DeviceID    string `json:"device_id"`
	DeviceLabel string `json:"device_label"`
}

// AuthLoginResponse describes the response returned for a successful login.
type AuthLoginResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	SessionID    string `json:"session_id"`
}

// TokenRefreshRequest represents the payload to refresh an access token.
type TokenRefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// TokenRefreshResponse contains tokens issued by the refresh endpoint.
type TokenRefreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in,omitempty"`
}

// LogoutRequest carries the refresh token of the session being closed.
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// SessionSummary is one active session in a listing.
type SessionSummary struct {
	ID           string    `json:"id"`
	DeviceID     *string   `json:"device_id,omitempty"`
	DeviceLabel  *string   `json:"device_label,omitempty"`
	IP           *string   `json:"ip,omitempty"`
	UserAgent    *string   `json:"user_agent,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	LastActivity time.Time `json:"last_activity"`
	Current      bool      `json:"current"`
}

// SessionListResponse wraps the session listing.
type SessionListResponse struct {
	Sessions []SessionSummary `json:"sessions"`
}

// SessionsRevokedResponse reports bulk session termination.
type SessionsRevokedResponse struct {
	SessionsRevoked int `json:"sessions_revoked"`
}

// CaptchaChallengeResponse describes a freshly issued challenge.
type CaptchaChallengeResponse struct {
	ChallengeID string    `json:"challenge_id"`
	Question    string    `json:"question"`
	ExpiresAt   time.Time `json:"expires_at"`
	MaxAttempts int       `json:"max_attempts"`
}

// CaptchaVerifyRequest carries an answer to a challenge.
type CaptchaVerifyRequest struct {
	ChallengeID string `json:"challenge_id" binding:"required"`
	Answer      string `json:"answer" binding:"required"`
}

// CaptchaVerifyResponse returns the single-use verification token for a
// solved challenge.
type CaptchaVerifyResponse struct {
	Token string `json:"token"`
}

// AdminAccountLockRequest locks or unlocks an account by identifier.
type AdminAccountLockRequest struct {
	Identifier string `json:"identifier" binding:"required"`
	Reason     string `json:"reason"`
}

// AdminRateLimitResetRequest clears limiter counters for a key.
type AdminRateLimitResetRequest struct {
	Key string `json:"key" binding:"required"`
}

// AdminRateLimitBlockRequest bars a key from every limited route. Duration is
// a Go duration string such as "1h"; empty means one hour.
type AdminRateLimitBlockRequest struct {
	Key      string `json:"key" binding:"required"`
	Duration string `json:"duration"`
	Reason   string `json:"reason"`
}

// AdminRateLimitBlockResponse reports when the block lapses.
type AdminRateLimitBlockResponse struct {
	Message      string    `json:"message"`
	BlockedUntil time.Time `json:"blocked_until"`
}

// AuditEventSummary is one persisted security event.
type AuditEventSummary struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	Severity   string          `json:"severity"`
	Subject    string          `json:"subject,omitempty"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// AuditEventListResponse wraps audit query results.
type AuditEventListResponse struct {
	Events []AuditEventSummary `json:"events"`
}
