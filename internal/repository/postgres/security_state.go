package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/Realm-101/Unbuilt-sub002/internal/core/domain"
	"github.com/Realm-101/Unbuilt-sub002/internal/repository"
)

const securityStateColumns = "identifier, failed_attempts, last_failed_at, locked_until, lockout_count, last_lockout_at, admin_locked, updated_at"

// SecurityStateRepository implements port.SecurityStateRepository on
// trust.security_states. Counters move through single-statement upserts so
// concurrent failures never lose increments.
type SecurityStateRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewSecurityStateRepository constructs the repository from a generic executor.
func NewSecurityStateRepository(exec pgExecutor) *SecurityStateRepository {
	return &SecurityStateRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Get retrieves the security state for an identifier.
func (r *SecurityStateRepository) Get(ctx context.Context, identifier string) (*domain.UserSecurityState, error) {
	stmt, args, err := r.builder.Select(securityStateColumns).
		From("trust.security_states").
		Where(squirrel.Eq{"identifier": identifier}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select security state sql: %w", err)
	}

	state, err := scanSecurityState(r.exec.QueryRow(ctx, stmt, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan security state: %w", err)
	}
	return state, nil
}

// RecordFailure upserts the row and increments the failure counter in one
// statement, returning the updated state.
func (r *SecurityStateRepository) RecordFailure(ctx context.Context, identifier string, at time.Time) (domain.UserSecurityState, error) {
	stmt := `INSERT INTO trust.security_states (identifier, failed_attempts, last_failed_at, updated_at)
VALUES ($1, 1, $2, $2)
ON CONFLICT (identifier) DO UPDATE
SET failed_attempts = trust.security_states.failed_attempts + 1,
    last_failed_at = $2,
    updated_at = $2
RETURNING ` + securityStateColumns

	state, err := scanSecurityState(r.exec.QueryRow(ctx, stmt, identifier, at))
	if err != nil {
		return domain.UserSecurityState{}, fmt.Errorf("record login failure: %w", err)
	}
	return *state, nil
}

// RecordLockout stamps the lockout window and bumps the lockout counter.
func (r *SecurityStateRepository) RecordLockout(ctx context.Context, identifier string, until, at time.Time) (domain.UserSecurityState, error) {
	stmt := `UPDATE trust.security_states
SET locked_until = $2,
    lockout_count = lockout_count + 1,
    last_lockout_at = $3,
    updated_at = $3
WHERE identifier = $1
RETURNING ` + securityStateColumns

	state, err := scanSecurityState(r.exec.QueryRow(ctx, stmt, identifier, until, at))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
			return domain.UserSecurityState{}, repository.ErrNotFound
		}
		return domain.UserSecurityState{}, fmt.Errorf("record lockout: %w", err)
	}
	return *state, nil
}

// ResetFailures clears the failure counter and any threshold lockout. A
// missing row is already reset.
func (r *SecurityStateRepository) ResetFailures(ctx context.Context, identifier string, at time.Time) error {
	stmt, args, err := r.builder.Update("trust.security_states").
		Set("failed_attempts", 0).
		Set("locked_until", nil).
		Set("updated_at", at).
		Where(squirrel.Eq{"identifier": identifier}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build reset failures sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("reset failures: %w", err)
	}
	return nil
}

// SetAdminLock flips the explicit admin lock, creating the row if needed.
func (r *SecurityStateRepository) SetAdminLock(ctx context.Context, identifier string, locked bool, at time.Time) error {
	stmt := `INSERT INTO trust.security_states (identifier, admin_locked, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (identifier) DO UPDATE
SET admin_locked = $2,
    updated_at = $3`

	if _, err := r.exec.Exec(ctx, stmt, identifier, locked, at); err != nil {
		return fmt.Errorf("set admin lock: %w", err)
	}
	return nil
}

func scanSecurityState(row pgx.Row) (*domain.UserSecurityState, error) {
	var (
		state         domain.UserSecurityState
		lastFailedAt  sql.NullTime
		lockedUntil   sql.NullTime
		lastLockoutAt sql.NullTime
	)

	if err := row.Scan(
		&state.Identifier,
		&state.FailedAttempts,
		&lastFailedAt,
		&lockedUntil,
		&state.LockoutCount,
		&lastLockoutAt,
		&state.AdminLocked,
		&state.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if lastFailedAt.Valid {
		t := lastFailedAt.Time
		state.LastFailedAt = &t
	}
	if lockedUntil.Valid {
		t := lockedUntil.Time
		state.LockedUntil = &t
	}
	if lastLockoutAt.Valid {
		t := lastLockoutAt.Time
		state.LastLockoutAt = &t
	}

	return &state, nil
}
