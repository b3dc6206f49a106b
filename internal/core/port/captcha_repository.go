package port

import (
	"context"
	"time"

	"github.com/Realm-101/Unbuilt-sub002/internal/core/domain"
)

// CaptchaRepository persists human-verification challenges.
type CaptchaRepository interface {
	Create(ctx context.Context, challenge domain.CaptchaChallenge) error
	Get(ctx context.Context, id string) (*domain.CaptchaChallenge, error)
	// IncrementAttempts bumps the wrong-answer counter and returns the new value.
	IncrementAttempts(ctx context.Context, id string) (int, error)
	// Consume removes the challenge; exactly one concurrent caller observes
	// true, making successful verification single-use.
	Consume(ctx context.Context, id string) (bool, error)
	Delete(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context, before time.Time) (int, error)
}

// CaptchaTokenStore holds short-lived verification tokens handed to clients
// that solved a challenge. Consume is single-use.
type CaptchaTokenStore interface {
	Store(ctx context.Context, token, challengeID string, ttl time.Duration) error
	Consume(ctx context.Context, token string) (bool, error)
}
