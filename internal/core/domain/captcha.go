package domain

import "time"

// CaptchaChallenge is a single-use human-verification challenge. Only the
// answer hash is persisted; the plaintext answer never leaves the issuing
// request.
type CaptchaChallenge struct {
	ID          string
	Question    string
	AnswerHash  string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	Attempts    int
	MaxAttempts int
}

// IsExpired reports whether the challenge can no longer be answered.
func (c CaptchaChallenge) IsExpired(at time.Time) bool {
	return !c.ExpiresAt.After(at)
}

// AttemptsExhausted reports whether the challenge has burned through its
// allowed answer attempts.
func (c CaptchaChallenge) AttemptsExhausted() bool {
	return c.Attempts >= c.MaxAttempts
}
