package postgres

import (
	"context"
	"errors"
	"fmt"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/Realm-101/Unbuilt-sub002/internal/infra/security"
)

// CredentialVerifier checks login credentials against trust.users. User
// management lives in another service; this table is a read-side projection
// holding only what authentication needs.
type CredentialVerifier struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewCredentialVerifier constructs the verifier from a generic executor.
func NewCredentialVerifier(exec pgExecutor) *CredentialVerifier {
	return &CredentialVerifier{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Verify resolves the identifier and compares the password against the stored
// Argon2id hash. Unknown identifiers and wrong passwords both come back as
// ok=false so callers cannot tell them apart.
func (v *CredentialVerifier) Verify(ctx context.Context, identifier, password string) (string, bool, error) {
	stmt, args, err := v.builder.Select("id", "password_hash").
		From("trust.users").
		Where(squirrel.Eq{"identifier": identifier}).
		Where(squirrel.Eq{"status": "active"}).
		Limit(1).
		ToSql()
	if err != nil {
		return "", false, fmt.Errorf("build select user sql: %w", err)
	}

	var userID, passwordHash string
	if err := v.exec.QueryRow(ctx, stmt, args...).Scan(&userID, &passwordHash); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("lookup user: %w", err)
	}

	ok, err := security.VerifySecret(password, passwordHash)
	if err != nil {
		return "", false, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return userID, true, nil
}
