package port

import (
	"context"
	"time"

	"github.com/Realm-101/Unbuilt-sub002/internal/core/domain"
)

// TokenRepository manages refresh-token records. Implementations must be safe
// for concurrent use; Rotate and CreateWithLimit are the operations requiring
// transactional read-modify-write semantics.
type TokenRepository interface {
	Create(ctx context.Context, token domain.RefreshToken) error
	// CreateWithLimit inserts the token while enforcing the concurrent-session
	// cap in the same transaction. When the user already holds maxActive
	// active chains, the oldest (smallest created_at, then smallest id) are
	// revoked to make room. Returns the evicted tokens.
	CreateWithLimit(ctx context.Context, token domain.RefreshToken, maxActive int) ([]domain.RefreshToken, error)
	// Rotate atomically revokes the old token and inserts its replacement.
	// Returns false without inserting when the old token was already revoked,
	// which the caller must treat as a replay signal.
	Rotate(ctx context.Context, oldID, revokedBy string, next domain.RefreshToken) (bool, error)

	GetByHash(ctx context.Context, hash string) (*domain.RefreshToken, error)
	GetByID(ctx context.Context, id string) (*domain.RefreshToken, error)
	ListActiveByUser(ctx context.Context, userID string) ([]domain.RefreshToken, error)
	IsChainActive(ctx context.Context, chainID string) (bool, error)

	RevokeIfActive(ctx context.Context, tokenID, revokedBy string) (bool, error)
	// RevokeChain revokes every active token in the chain and returns how
	// many rows changed.
	RevokeChain(ctx context.Context, chainID, revokedBy string) (int, error)
	// RevokeAllForUser revokes every active token for the user and returns
	// the distinct chain ids affected.
	RevokeAllForUser(ctx context.Context, userID, revokedBy string) ([]string, error)
	RevokeAllForUserExcept(ctx context.Context, userID, keepChainID, revokedBy string) ([]string, error)

	TouchLastUsed(ctx context.Context, tokenID string, at time.Time) error
	DeleteExpired(ctx context.Context, before time.Time) (int, error)
}
