package port

import (
	"context"
	"time"

	"github.com/Realm-101/Unbuilt-sub002/internal/core/domain"
)

// SecurityStateRepository persists per-identifier failed-login counters and
// lockout state. RecordFailure must be atomic under concurrent callers.
type SecurityStateRepository interface {
	Get(ctx context.Context, identifier string) (*domain.UserSecurityState, error)
	// RecordFailure upserts the row, increments the failure counter, and
	// returns the updated state.
	RecordFailure(ctx context.Context, identifier string, at time.Time) (domain.UserSecurityState, error)
	// RecordLockout stamps the lockout window and bumps the lockout counter.
	RecordLockout(ctx context.Context, identifier string, until, at time.Time) (domain.UserSecurityState, error)
	ResetFailures(ctx context.Context, identifier string, at time.Time) error
	SetAdminLock(ctx context.Context, identifier string, locked bool, at time.Time) error
}
