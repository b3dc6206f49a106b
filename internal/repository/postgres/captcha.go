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

// CaptchaRepository implements port.CaptchaRepository on
// trust.captcha_challenges. Consume is a conditional delete so a challenge
// can be redeemed exactly once.
type CaptchaRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewCaptchaRepository constructs the repository from a generic executor.
func NewCaptchaRepository(exec pgExecutor) *CaptchaRepository {
	return &CaptchaRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Create inserts a new challenge.
func (r *CaptchaRepository) Create(ctx context.Context, challenge domain.CaptchaChallenge) error {
	stmt, args, err := r.builder.Insert("trust.captcha_challenges").
		Columns("id", "question", "answer_hash", "created_at", "expires_at", "attempts", "max_attempts").
		Values(
			challenge.ID,
			challenge.Question,
			challenge.AnswerHash,
			challenge.CreatedAt,
			challenge.ExpiresAt,
			challenge.Attempts,
			challenge.MaxAttempts,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert challenge sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert challenge: %w", err)
	}
	return nil
}

// Get retrieves a challenge by id.
func (r *CaptchaRepository) Get(ctx context.Context, id string) (*domain.CaptchaChallenge, error) {
	stmt, args, err := r.builder.Select("id", "question", "answer_hash", "created_at", "expires_at", "attempts", "max_attempts").
		From("trust.captcha_challenges").
		Where(squirrel.Eq{"id": id}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select challenge sql: %w", err)
	}

	var challenge domain.CaptchaChallenge
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(
		&challenge.ID,
		&challenge.Question,
		&challenge.AnswerHash,
		&challenge.CreatedAt,
		&challenge.ExpiresAt,
		&challenge.Attempts,
		&challenge.MaxAttempts,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan challenge: %w", err)
	}

	return &challenge, nil
}

// IncrementAttempts bumps the wrong-answer counter and returns the new value.
func (r *CaptchaRepository) IncrementAttempts(ctx context.Context, id string) (int, error) {
	stmt := `UPDATE trust.captcha_challenges
SET attempts = attempts + 1
WHERE id = $1
RETURNING attempts`

	var attempts int
	if err := r.exec.QueryRow(ctx, stmt, id).Scan(&attempts); err != nil {
		if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
			return 0, repository.ErrNotFound
		}
		return 0, fmt.Errorf("increment challenge attempts: %w", err)
	}
	return attempts, nil
}

// Consume deletes the challenge; exactly one concurrent caller sees true.
func (r *CaptchaRepository) Consume(ctx context.Context, id string) (bool, error) {
	stmt, args, err := r.builder.Delete("trust.captcha_challenges").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build consume challenge sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return false, fmt.Errorf("consume challenge: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// Delete removes a challenge regardless of state.
func (r *CaptchaRepository) Delete(ctx context.Context, id string) error {
	stmt, args, err := r.builder.Delete("trust.captcha_challenges").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete challenge sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("delete challenge: %w", err)
	}
	return nil
}

// DeleteExpired drops challenges past their expiry.
func (r *CaptchaRepository) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	stmt, args, err := r.builder.Delete("trust.captcha_challenges").
		Where(squirrel.LtOrEq{"expires_at": before}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build delete expired challenges sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("delete expired challenges: %w", err)
	}
	return int(ct.RowsAffected()), nil
}
