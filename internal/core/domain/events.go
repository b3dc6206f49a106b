package domain

import "time"

// EventSeverity classifies security events for audit triage.
type EventSeverity string

const (
	SeverityInfo     EventSeverity = "info"
	SeverityWarning  EventSeverity = "warning"
	SeverityError    EventSeverity = "error"
	SeverityCritical EventSeverity = "critical"
)

// Event kinds double as Kafka topic suffixes and audit-table discriminators.
const (
	EventKindLoginFailed          = "security.login.failed"
	EventKindLoginSucceeded       = "security.login.succeeded"
	EventKindAccountLocked        = "security.account.locked"
	EventKindAccountUnlocked      = "security.account.unlocked"
	EventKindPasswordChanged      = "security.password.changed"
	EventKindSessionCreated       = "security.session.created"
	EventKindSessionRevoked       = "security.session.revoked"
	EventKindTokenReuseDetected   = "security.token.reuse_detected"
	EventKindRateLimitExceeded    = "security.ratelimit.exceeded"
	EventKindIPBlocked            = "security.ip.blocked"
	EventKindRateLimitBackendDown = "security.ratelimit.backend_error"
	EventKindSuspiciousActivity   = "security.activity.suspicious"
	EventKindCaptchaFailed        = "security.captcha.failed"
)

// SecurityEvent is the closed set of audit events emitted by the service.
// Each variant carries its own strongly typed payload; the sink decides how
// to serialize it. The unexported method seals the set.
type SecurityEvent interface {
	Kind() string
	Severity() EventSeverity
	Subject() string
	OccurredAt() time.Time

	securityEvent()
}

// LoginFailedEvent records one failed authentication attempt.
type LoginFailedEvent struct {
	Identifier string    `json:"identifier"`
	IP         string    `json:"ip"`
	Attempt    int       `json:"attempt"`
	At         time.Time `json:"at"`
}

func (e LoginFailedEvent) Kind() string            { return EventKindLoginFailed }
func (e LoginFailedEvent) Severity() EventSeverity { return SeverityInfo }
func (e LoginFailedEvent) Subject() string         { return e.Identifier }
func (e LoginFailedEvent) OccurredAt() time.Time   { return e.At }
func (LoginFailedEvent) securityEvent()            {}

// LoginSucceededEvent records a successful authentication.
type LoginSucceededEvent struct {
	UserID string    `json:"user_id"`
	IP     string    `json:"ip"`
	At     time.Time `json:"at"`
}

func (e LoginSucceededEvent) Kind() string            { return EventKindLoginSucceeded }
func (e LoginSucceededEvent) Severity() EventSeverity { return SeverityInfo }
func (e LoginSucceededEvent) Subject() string         { return e.UserID }
func (e LoginSucceededEvent) OccurredAt() time.Time   { return e.At }
func (LoginSucceededEvent) securityEvent()            {}

// AccountLockedEvent records a lockout, whether threshold-driven or manual.
type AccountLockedEvent struct {
	Identifier   string    `json:"identifier"`
	IP           string    `json:"ip,omitempty"`
	Until        time.Time `json:"until"`
	LockoutCount int       `json:"lockout_count"`
	Actor        string    `json:"actor"`
	Reason       string    `json:"reason"`
	At           time.Time `json:"at"`
}

func (e AccountLockedEvent) Kind() string            { return EventKindAccountLocked }
func (e AccountLockedEvent) Severity() EventSeverity { return SeverityWarning }
func (e AccountLockedEvent) Subject() string         { return e.Identifier }
func (e AccountLockedEvent) OccurredAt() time.Time   { return e.At }
func (AccountLockedEvent) securityEvent()            {}

// AccountUnlockedEvent records an explicit admin unlock.
type AccountUnlockedEvent struct {
	Identifier string    `json:"identifier"`
	Actor      string    `json:"actor"`
	Reason     string    `json:"reason"`
	At         time.Time `json:"at"`
}

func (e AccountUnlockedEvent) Kind() string            { return EventKindAccountUnlocked }
func (e AccountUnlockedEvent) Severity() EventSeverity { return SeverityInfo }
func (e AccountUnlockedEvent) Subject() string         { return e.Identifier }
func (e AccountUnlockedEvent) OccurredAt() time.Time   { return e.At }
func (AccountUnlockedEvent) securityEvent()            {}

// PasswordChangedEvent records a password change and how many other sessions
// were terminated alongside it.
type PasswordChangedEvent struct {
	UserID          string    `json:"user_id"`
	SessionsRevoked int       `json:"sessions_revoked"`
	IP              string    `json:"ip,omitempty"`
	At              time.Time `json:"at"`
}

func (e PasswordChangedEvent) Kind() string            { return EventKindPasswordChanged }
func (e PasswordChangedEvent) Severity() EventSeverity { return SeverityInfo }
func (e PasswordChangedEvent) Subject() string         { return e.UserID }
func (e PasswordChangedEvent) OccurredAt() time.Time   { return e.At }
func (PasswordChangedEvent) securityEvent()            {}

// SessionCreatedEvent records a new device login, including any sessions
// evicted by the concurrent-session cap.
type SessionCreatedEvent struct {
	UserID        string    `json:"user_id"`
	TokenID       string    `json:"token_id"`
	ChainID       string    `json:"chain_id"`
	DeviceLabel   string    `json:"device_label,omitempty"`
	IP            string    `json:"ip,omitempty"`
	EvictedChains []string  `json:"evicted_chains,omitempty"`
	At            time.Time `json:"at"`
}

func (e SessionCreatedEvent) Kind() string            { return EventKindSessionCreated }
func (e SessionCreatedEvent) Severity() EventSeverity { return SeverityInfo }
func (e SessionCreatedEvent) Subject() string         { return e.UserID }
func (e SessionCreatedEvent) OccurredAt() time.Time   { return e.At }
func (SessionCreatedEvent) securityEvent()            {}

// SessionRevokedEvent records a targeted or bulk session invalidation.
type SessionRevokedEvent struct {
	UserID        string    `json:"user_id"`
	ChainID       string    `json:"chain_id,omitempty"`
	Reason        string    `json:"reason"`
	RevokedBy     string    `json:"revoked_by"`
	TokensRevoked int       `json:"tokens_revoked"`
	At            time.Time `json:"at"`
}

func (e SessionRevokedEvent) Kind() string            { return EventKindSessionRevoked }
func (e SessionRevokedEvent) Severity() EventSeverity { return SeverityInfo }
func (e SessionRevokedEvent) Subject() string         { return e.UserID }
func (e SessionRevokedEvent) OccurredAt() time.Time   { return e.At }
func (SessionRevokedEvent) securityEvent()            {}

// TokenReuseDetectedEvent records a replay of a rotated refresh token. This
// is treated as a compromised chain; every session for the user is revoked.
type TokenReuseDetectedEvent struct {
	UserID          string    `json:"user_id"`
	TokenID         string    `json:"token_id"`
	ChainID         string    `json:"chain_id"`
	IP              string    `json:"ip,omitempty"`
	SessionsRevoked int       `json:"sessions_revoked"`
	At              time.Time `json:"at"`
}

func (e TokenReuseDetectedEvent) Kind() string            { return EventKindTokenReuseDetected }
func (e TokenReuseDetectedEvent) Severity() EventSeverity { return SeverityCritical }
func (e TokenReuseDetectedEvent) Subject() string         { return e.UserID }
func (e TokenReuseDetectedEvent) OccurredAt() time.Time   { return e.At }
func (TokenReuseDetectedEvent) securityEvent()            {}

// RateLimitExceededEvent records a denied request for a limited key.
type RateLimitExceededEvent struct {
	Key            string    `json:"key"`
	Policy         string    `json:"policy"`
	ViolationCount int       `json:"violation_count"`
	At             time.Time `json:"at"`
}

func (e RateLimitExceededEvent) Kind() string            { return EventKindRateLimitExceeded }
func (e RateLimitExceededEvent) Severity() EventSeverity { return SeverityWarning }
func (e RateLimitExceededEvent) Subject() string         { return e.Key }
func (e RateLimitExceededEvent) OccurredAt() time.Time   { return e.At }
func (RateLimitExceededEvent) securityEvent()            {}

// IPBlockedEvent records an administrative block on a rate-limit key.
type IPBlockedEvent struct {
	Key    string    `json:"key"`
	Until  time.Time `json:"until"`
	Actor  string    `json:"actor"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

func (e IPBlockedEvent) Kind() string            { return EventKindIPBlocked }
func (e IPBlockedEvent) Severity() EventSeverity { return SeverityWarning }
func (e IPBlockedEvent) Subject() string         { return e.Key }
func (e IPBlockedEvent) OccurredAt() time.Time   { return e.At }
func (IPBlockedEvent) securityEvent()            {}

// RateLimitBackendErrorEvent records a limiter store failure and which
// fail-open/fail-closed policy was applied.
type RateLimitBackendErrorEvent struct {
	Key        string    `json:"key"`
	Policy     string    `json:"policy"`
	FailClosed bool      `json:"fail_closed"`
	Error      string    `json:"error"`
	At         time.Time `json:"at"`
}

func (e RateLimitBackendErrorEvent) Kind() string            { return EventKindRateLimitBackendDown }
func (e RateLimitBackendErrorEvent) Severity() EventSeverity { return SeverityError }
func (e RateLimitBackendErrorEvent) Subject() string         { return e.Key }
func (e RateLimitBackendErrorEvent) OccurredAt() time.Time   { return e.At }
func (RateLimitBackendErrorEvent) securityEvent()            {}

// SuspiciousActivityEvent is an advisory flag on a rate-limit key; it never
// blocks traffic by itself.
type SuspiciousActivityEvent struct {
	Key    string    `json:"key"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

func (e SuspiciousActivityEvent) Kind() string            { return EventKindSuspiciousActivity }
func (e SuspiciousActivityEvent) Severity() EventSeverity { return SeverityWarning }
func (e SuspiciousActivityEvent) Subject() string         { return e.Key }
func (e SuspiciousActivityEvent) OccurredAt() time.Time   { return e.At }
func (SuspiciousActivityEvent) securityEvent()            {}

// CaptchaFailedEvent records a wrong answer to a challenge.
type CaptchaFailedEvent struct {
	ChallengeID string    `json:"challenge_id"`
	IP          string    `json:"ip,omitempty"`
	Attempts    int       `json:"attempts"`
	At          time.Time `json:"at"`
}

func (e CaptchaFailedEvent) Kind() string            { return EventKindCaptchaFailed }
func (e CaptchaFailedEvent) Severity() EventSeverity { return SeverityInfo }
func (e CaptchaFailedEvent) Subject() string         { return e.ChallengeID }
func (e CaptchaFailedEvent) OccurredAt() time.Time   { return e.At }
func (CaptchaFailedEvent) securityEvent()            {}
