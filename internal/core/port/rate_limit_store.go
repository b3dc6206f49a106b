package port

import (
	"context"
	"time"
)

// RateLimitStore is the pluggable counter backend for the rate limiter.
// Production deployments use Redis so limits hold across instances; tests and
// single-node setups use the in-memory implementation. Counter updates are
// at-least-once: slight overcounting under contention is acceptable,
// undercounting is not.
type RateLimitStore interface {
	// IncrementAttempt records one attempt for the key, starting a new window
	// anchored at the first attempt when none is active. Returns the updated
	// attempt count and the window start.
	IncrementAttempt(ctx context.Context, key string, at time.Time, window time.Duration) (int, time.Time, error)
	// RecordDenial increments the violation counter for the key and stamps
	// the denial time. Returns the updated violation count.
	RecordDenial(ctx context.Context, key string, at time.Time, ttl time.Duration) (int, error)
	// DenialState returns the violation count and last denial time, zero
	// values when the key has no denials on record.
	DenialState(ctx context.Context, key string) (int, time.Time, error)
	ClearDenials(ctx context.Context, key string) error

	MarkSuspicious(ctx context.Context, key, reason string, ttl time.Duration) error
	IsSuspicious(ctx context.Context, key string) (bool, error)

	// BlockKey bars the key outright until the given instant (admin action).
	BlockKey(ctx context.Context, key string, until time.Time) error
	// BlockedUntil returns when an administrative block on the key lapses,
	// the zero time when the key carries no block.
	BlockedUntil(ctx context.Context, key string) (time.Time, error)

	// Reset clears all limiter state for the key (admin action).
	Reset(ctx context.Context, key string) error
}
