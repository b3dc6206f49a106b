package domain

import "time"

// RateLimitPolicy configures a window limit for a class of routes.
type RateLimitPolicy struct {
	Name             string
	MaxAttempts      int
	Window           time.Duration
	CaptchaThreshold int
	// FailClosed selects the backend-failure behavior: authentication routes
	// deny on storage errors, general API routes stay available.
	FailClosed bool
}

// EscalationLevel describes what a denied caller must do before retrying.
type EscalationLevel string

const (
	EscalationNone    EscalationLevel = "none"
	EscalationDelay   EscalationLevel = "delay"
	EscalationCaptcha EscalationLevel = "captcha"
	EscalationBlock   EscalationLevel = "block"
)

// RateLimitDecision is the outcome of a limiter check, including the header
// metadata exposed to clients.
type RateLimitDecision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
	Escalation EscalationLevel
	Suspicious bool
}

// RateLimitRecord mirrors the persisted window state for a key.
type RateLimitRecord struct {
	Key            string
	WindowStart    time.Time
	AttemptCount   int
	ViolationCount int
	Suspicious     bool
}

// ProgressiveDelay maps a violation count (consecutive denied windows) to the
// enforced wait before the next attempt may be accepted.
func ProgressiveDelay(violations int) time.Duration {
	switch {
	case violations <= 3:
		return 0
	case violations <= 5:
		return time.Second
	case violations <= 10:
		return 5 * time.Second
	case violations <= 15:
		return 15 * time.Second
	case violations <= 20:
		return time.Minute
	default:
		return 5 * time.Minute
	}
}
