package usecase

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCredentials indicates the provided identifier or password are incorrect.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked indicates the account is locked out of authentication.
	ErrAccountLocked = errors.New("account locked")
	// ErrInvalidToken indicates the presented token is malformed or unknown.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken indicates the presented token has passed its expiry.
	ErrExpiredToken = errors.New("token expired")
	// ErrRevokedToken indicates the presented token belongs to a revoked chain.
	ErrRevokedToken = errors.New("token revoked")
	// ErrReuseDetected indicates an already-rotated refresh token was replayed.
	ErrReuseDetected = errors.New("refresh token reuse detected")
	// ErrRateLimitExceeded indicates the caller exhausted its request window.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	// ErrIPBlocked indicates the caller's address carries an administrative block.
	ErrIPBlocked = errors.New("ip blocked")
	// ErrCaptchaRequired indicates further requests need a captcha verification token.
	ErrCaptchaRequired = errors.New("captcha verification required")
	// ErrCaptchaNotFound indicates the challenge does not exist or was consumed.
	ErrCaptchaNotFound = errors.New("captcha challenge not found")
	// ErrCaptchaExpired indicates the challenge lifetime has elapsed.
	ErrCaptchaExpired = errors.New("captcha challenge expired")
	// ErrCaptchaAttemptsExceeded indicates the challenge burned all answer attempts.
	ErrCaptchaAttemptsExceeded = errors.New("captcha attempts exceeded")
	// ErrCaptchaIncorrect indicates a wrong answer to a live challenge.
	ErrCaptchaIncorrect = errors.New("captcha answer incorrect")
	// ErrSessionNotFound indicates the referenced session does not exist for the user.
	ErrSessionNotFound = errors.New("session not found")
)

// TokenReuseError carries the identity of a replayed refresh token so the
// security event handler can revoke everything the owning user holds.
type TokenReuseError struct {
	UserID  string
	TokenID string
	ChainID string
}

func (e *TokenReuseError) Error() string {
	return fmt.Sprintf("refresh token reuse detected for token %s", e.TokenID)
}

// Unwrap lets errors.Is match ErrReuseDetected.
func (e *TokenReuseError) Unwrap() error {
	return ErrReuseDetected
}
