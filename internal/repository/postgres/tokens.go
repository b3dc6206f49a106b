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

const refreshTokenColumns = "id, user_id, chain_id, token_hash, device_id, device_label, ip, user_agent, created_at, expires_at, last_used_at, revoked_at, revoked_by"

// TokenRepository implements port.TokenRepository on trust.refresh_tokens.
// Rotate and CreateWithLimit run in transactions; everything else is a single
// statement.
type TokenRepository struct {
	db      pgDatabase
	builder squirrel.StatementBuilderType
}

// NewTokenRepository constructs a PostgreSQL-backed token repository.
func NewTokenRepository(db pgDatabase) *TokenRepository {
	return &TokenRepository{
		db:      db,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Create inserts a new refresh token record.
func (r *TokenRepository) Create(ctx context.Context, token domain.RefreshToken) error {
	return r.insert(ctx, r.db, token)
}

// CreateWithLimit inserts the token while holding the user's active tokens
// locked, evicting the oldest chains when the cap is reached. The new token
// is never the one evicted.
func (r *TokenRepository) CreateWithLimit(ctx context.Context, token domain.RefreshToken, maxActive int) ([]domain.RefreshToken, error) {
	if maxActive <= 0 {
		return nil, r.Create(ctx, token)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	stmt, args, err := r.builder.Select(refreshTokenColumns).
		From("trust.refresh_tokens").
		Where(squirrel.Eq{"user_id": token.UserID}).
		Where("revoked_at IS NULL").
		Where(squirrel.Gt{"expires_at": token.CreatedAt}).
		OrderBy("created_at ASC", "id ASC").
		Suffix("FOR UPDATE").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select active tokens sql: %w", err)
	}

	rows, err := tx.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("select active tokens: %w", err)
	}
	active, err := scanRefreshTokens(rows)
	if err != nil {
		return nil, err
	}

	// Chains ordered by their oldest token; ties broken by token id.
	chainOrder := make([]string, 0, len(active))
	seen := make(map[string]struct{}, len(active))
	for _, t := range active {
		if _, ok := seen[t.ChainID]; ok {
			continue
		}
		seen[t.ChainID] = struct{}{}
		chainOrder = append(chainOrder, t.ChainID)
	}

	var evicted []domain.RefreshToken
	if len(chainOrder) >= maxActive {
		evictChains := chainOrder[:len(chainOrder)-maxActive+1]
		evictSet := make(map[string]struct{}, len(evictChains))
		for _, chainID := range evictChains {
			evictSet[chainID] = struct{}{}
		}

		updateStmt, updateArgs, err := r.builder.Update("trust.refresh_tokens").
			Set("revoked_at", token.CreatedAt).
			Set("revoked_by", "session_limit").
			Where(squirrel.Eq{"chain_id": evictChains}).
			Where("revoked_at IS NULL").
			ToSql()
		if err != nil {
			return nil, fmt.Errorf("build evict sessions sql: %w", err)
		}
		if _, err := tx.Exec(ctx, updateStmt, updateArgs...); err != nil {
			return nil, fmt.Errorf("evict sessions: %w", err)
		}

		for _, t := range active {
			if _, ok := evictSet[t.ChainID]; !ok {
				continue
			}
			t.Revoke(token.CreatedAt, "session_limit")
			evicted = append(evicted, t)
		}
	}

	if err := r.insert(ctx, tx, token); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return evicted, nil
}

// Rotate revokes the old token and inserts its replacement atomically. The
// conditional update is the linearization point: whoever flips revoked_at
// wins, every other caller sees zero rows and reports a replay.
func (r *TokenRepository) Rotate(ctx context.Context, oldID, revokedBy string, next domain.RefreshToken) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	stmt, args, err := r.builder.Update("trust.refresh_tokens").
		Set("revoked_at", next.CreatedAt).
		Set("revoked_by", revokedBy).
		Where(squirrel.Eq{"id": oldID}).
		Where("revoked_at IS NULL").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build rotate sql: %w", err)
	}

	ct, err := tx.Exec(ctx, stmt, args...)
	if err != nil {
		return false, fmt.Errorf("revoke rotated token: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return false, nil
	}

	if err := r.insert(ctx, tx, next); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit tx: %w", err)
	}

	return true, nil
}

// GetByHash retrieves a refresh token by its hashed secret.
func (r *TokenRepository) GetByHash(ctx context.Context, hash string) (*domain.RefreshToken, error) {
	return r.getOne(ctx, squirrel.Eq{"token_hash": hash})
}

// GetByID retrieves a refresh token by id.
func (r *TokenRepository) GetByID(ctx context.Context, id string) (*domain.RefreshToken, error) {
	return r.getOne(ctx, squirrel.Eq{"id": id})
}

// ListActiveByUser returns the user's active tokens, newest first.
func (r *TokenRepository) ListActiveByUser(ctx context.Context, userID string) ([]domain.RefreshToken, error) {
	stmt, args, err := r.builder.Select(refreshTokenColumns).
		From("trust.refresh_tokens").
		Where(squirrel.Eq{"user_id": userID}).
		Where("revoked_at IS NULL").
		Where(squirrel.Gt{"expires_at": time.Now().UTC()}).
		OrderBy("created_at DESC", "id DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list active tokens sql: %w", err)
	}

	rows, err := r.db.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("list active tokens: %w", err)
	}
	return scanRefreshTokens(rows)
}

// IsChainActive reports whether the chain still has a live token.
func (r *TokenRepository) IsChainActive(ctx context.Context, chainID string) (bool, error) {
	stmt, args, err := r.builder.Select("1").
		From("trust.refresh_tokens").
		Where(squirrel.Eq{"chain_id": chainID}).
		Where("revoked_at IS NULL").
		Where(squirrel.Gt{"expires_at": time.Now().UTC()}).
		Limit(1).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build chain active sql: %w", err)
	}

	var one int
	if err := r.db.QueryRow(ctx, stmt, args...).Scan(&one); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check chain active: %w", err)
	}
	return true, nil
}

// RevokeIfActive revokes one token; false when it was already revoked.
func (r *TokenRepository) RevokeIfActive(ctx context.Context, tokenID, revokedBy string) (bool, error) {
	stmt, args, err := r.builder.Update("trust.refresh_tokens").
		Set("revoked_at", time.Now().UTC()).
		Set("revoked_by", revokedBy).
		Where(squirrel.Eq{"id": tokenID}).
		Where("revoked_at IS NULL").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build revoke token sql: %w", err)
	}

	ct, err := r.db.Exec(ctx, stmt, args...)
	if err != nil {
		return false, fmt.Errorf("revoke token: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// RevokeChain revokes every live token in the chain.
func (r *TokenRepository) RevokeChain(ctx context.Context, chainID, revokedBy string) (int, error) {
	stmt, args, err := r.builder.Update("trust.refresh_tokens").
		Set("revoked_at", time.Now().UTC()).
		Set("revoked_by", revokedBy).
		Where(squirrel.Eq{"chain_id": chainID}).
		Where("revoked_at IS NULL").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build revoke chain sql: %w", err)
	}

	ct, err := r.db.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("revoke chain: %w", err)
	}
	return int(ct.RowsAffected()), nil
}

// RevokeAllForUser revokes every live token the user holds and returns the
// distinct chain ids affected.
func (r *TokenRepository) RevokeAllForUser(ctx context.Context, userID, revokedBy string) ([]string, error) {
	return r.revokeChains(ctx, squirrel.Eq{"user_id": userID}, revokedBy)
}

// RevokeAllForUserExcept revokes every chain except keepChainID.
func (r *TokenRepository) RevokeAllForUserExcept(ctx context.Context, userID, keepChainID, revokedBy string) ([]string, error) {
	return r.revokeChains(ctx, squirrel.And{
		squirrel.Eq{"user_id": userID},
		squirrel.NotEq{"chain_id": keepChainID},
	}, revokedBy)
}

// TouchLastUsed stamps session activity on a token.
func (r *TokenRepository) TouchLastUsed(ctx context.Context, tokenID string, at time.Time) error {
	stmt, args, err := r.builder.Update("trust.refresh_tokens").
		Set("last_used_at", at).
		Where(squirrel.Eq{"id": tokenID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build touch token sql: %w", err)
	}

	ct, err := r.db.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("touch token: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteExpired removes tokens past their expiry.
func (r *TokenRepository) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	stmt, args, err := r.builder.Delete("trust.refresh_tokens").
		Where(squirrel.LtOrEq{"expires_at": before}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build delete expired sql: %w", err)
	}

	ct, err := r.db.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("delete expired tokens: %w", err)
	}
	return int(ct.RowsAffected()), nil
}

func (r *TokenRepository) revokeChains(ctx context.Context, pred any, revokedBy string) ([]string, error) {
	stmt, args, err := r.builder.Update("trust.refresh_tokens").
		Set("revoked_at", time.Now().UTC()).
		Set("revoked_by", revokedBy).
		Where(pred).
		Where("revoked_at IS NULL").
		Suffix("RETURNING chain_id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build revoke chains sql: %w", err)
	}

	rows, err := r.db.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("revoke chains: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]struct{})
	var chains []string
	for rows.Next() {
		var chainID string
		if err := rows.Scan(&chainID); err != nil {
			return nil, fmt.Errorf("scan revoked chain: %w", err)
		}
		if _, ok := seen[chainID]; ok {
			continue
		}
		seen[chainID] = struct{}{}
		chains = append(chains, chainID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate revoked chains: %w", err)
	}
	return chains, nil
}

func (r *TokenRepository) insert(ctx context.Context, exec pgExecutor, token domain.RefreshToken) error {
	stmt, args, err := r.builder.Insert("trust.refresh_tokens").
		Columns(
			"id",
			"user_id",
			"chain_id",
			"token_hash",
			"device_id",
			"device_label",
			"ip",
			"user_agent",
			"created_at",
			"expires_at",
			"last_used_at",
			"revoked_at",
			"revoked_by",
		).
		Values(
			token.ID,
			token.UserID,
			token.ChainID,
			token.TokenHash,
			token.DeviceID,
			token.DeviceLabel,
			token.IP,
			token.UserAgent,
			token.CreatedAt,
			token.ExpiresAt,
			token.LastUsedAt,
			token.RevokedAt,
			token.RevokedBy,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert refresh token sql: %w", err)
	}

	if _, err := exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}

func (r *TokenRepository) getOne(ctx context.Context, pred squirrel.Eq) (*domain.RefreshToken, error) {
	stmt, args, err := r.builder.Select(refreshTokenColumns).
		From("trust.refresh_tokens").
		Where(pred).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select refresh token sql: %w", err)
	}

	token, err := scanRefreshToken(r.db.QueryRow(ctx, stmt, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan refresh token: %w", err)
	}
	return token, nil
}

func scanRefreshToken(row pgx.Row) (*domain.RefreshToken, error) {
	var (
		token       domain.RefreshToken
		deviceID    sql.NullString
		deviceLabel sql.NullString
		ip          sql.NullString
		userAgent   sql.NullString
		lastUsedAt  sql.NullTime
		revokedAt   sql.NullTime
		revokedBy   sql.NullString
	)

	if err := row.Scan(
		&token.ID,
		&token.UserID,
		&token.ChainID,
		&token.TokenHash,
		&deviceID,
		&deviceLabel,
		&ip,
		&userAgent,
		&token.CreatedAt,
		&token.ExpiresAt,
		&lastUsedAt,
		&revokedAt,
		&revokedBy,
	); err != nil {
		return nil, err
	}

	if deviceID.Valid {
		value := deviceID.String
		token.DeviceID = &value
	}
	if deviceLabel.Valid {
		value := deviceLabel.String
		token.DeviceLabel = &value
	}
	if ip.Valid {
		value := ip.String
		token.IP = &value
	}
	if userAgent.Valid {
		value := userAgent.String
		token.UserAgent = &value
	}
	if lastUsedAt.Valid {
		t := lastUsedAt.Time
		token.LastUsedAt = &t
	}
	if revokedAt.Valid {
		t := revokedAt.Time
		token.RevokedAt = &t
	}
	if revokedBy.Valid {
		value := revokedBy.String
		token.RevokedBy = &value
	}

	return &token, nil
}

func scanRefreshTokens(rows pgx.Rows) ([]domain.RefreshToken, error) {
	defer rows.Close()

	var tokens []domain.RefreshToken
	for rows.Next() {
		token, err := scanRefreshToken(rows)
		if err != nil {
			return nil, fmt.Errorf("scan refresh token: %w", err)
		}
		tokens = append(tokens, *token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate refresh tokens: %w", err)
	}
	return tokens, nil
}
