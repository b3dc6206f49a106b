package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Realm-101/Unbuilt-sub002/internal/core/domain"
	"github.com/Realm-101/Unbuilt-sub002/internal/infra/security"
)

func newTestTokenService(t *testing.T, repo *stubTokenRepository, revocations *stubRevocationStore) *TokenService {
	t.Helper()
	return NewTokenService(testConfig(), newTestJWTManager(t), repo, revocations, zap.NewNop())
}

func TestIssueCreatesChainAndSignsAccessToken(t *testing.T) {
	repo := newStubTokenRepository()
	service := newTestTokenService(t, repo, newStubRevocationStore())

	pair, err := service.Issue(context.Background(), "user-1", domain.DeviceInfo{})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("expected both tokens to be set")
	}
	if pair.ChainID == "" {
		t.Fatal("expected a chain id")
	}
	if len(repo.created) != 1 {
		t.Fatalf("expected 1 stored token, got %d", len(repo.created))
	}

	stored := repo.created[0]
	if stored.TokenHash != security.HashToken(pair.RefreshToken) {
		t.Fatal("stored hash does not match the issued refresh token")
	}
	if stored.ChainID != pair.ChainID {
		t.Fatalf("chain mismatch: stored %s, pair %s", stored.ChainID, pair.ChainID)
	}
}

func TestRotatePreservesChain(t *testing.T) {
	repo := newStubTokenRepository()
	repo.rotateResult = true

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	current := domain.RefreshToken{
		ID:        "tok-1",
		UserID:    "user-1",
		ChainID:   "chain-1",
		CreatedAt: now.Add(-time.Hour),
		ExpiresAt: now.Add(time.Hour),
	}
	repo.byHash[security.HashToken("old-secret")] = current

	service := newTestTokenService(t, repo, newStubRevocationStore())
	service.WithClock(fixedClock(now))

	pair, err := service.Rotate(context.Background(), "old-secret")
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	if pair.ChainID != "chain-1" {
		t.Fatalf("expected chain-1, got %s", pair.ChainID)
	}
	if len(repo.rotatedOldIDs) != 1 || repo.rotatedOldIDs[0] != "tok-1" {
		t.Fatalf("expected tok-1 to be rotated, got %v", repo.rotatedOldIDs)
	}
	if repo.rotatedBy[0] != "rotation" {
		t.Fatalf("expected revoked_by rotation, got %s", repo.rotatedBy[0])
	}
	if repo.rotatedNext[0].ChainID != "chain-1" {
		t.Fatal("replacement token must stay on the same chain")
	}
	if repo.rotatedNext[0].TokenHash != security.HashToken(pair.RefreshToken) {
		t.Fatal("replacement hash does not match the new refresh token")
	}
}

func TestRotateRevokedTokenReportsReuse(t *testing.T) {
	repo := newStubTokenRepository()
	now := time.Now().UTC()
	revokedAt := now.Add(-time.Minute)
	repo.byHash[security.HashToken("replayed")] = domain.RefreshToken{
		ID:        "tok-1",
		UserID:    "user-1",
		ChainID:   "chain-1",
		ExpiresAt: now.Add(time.Hour),
		RevokedAt: &revokedAt,
	}

	service := newTestTokenService(t, repo, newStubRevocationStore())

	_, err := service.Rotate(context.Background(), "replayed")
	var reuse *TokenReuseError
	if !errors.As(err, &reuse) {
		t.Fatalf("expected TokenReuseError, got %v", err)
	}
	if !errors.Is(err, ErrReuseDetected) {
		t.Fatal("TokenReuseError must unwrap to ErrReuseDetected")
	}
	if reuse.UserID != "user-1" || reuse.TokenID != "tok-1" || reuse.ChainID != "chain-1" {
		t.Fatalf("reuse detail mismatch: %+v", reuse)
	}
	if len(repo.rotatedOldIDs) != 0 {
		t.Fatal("revoked token must not reach the rotation statement")
	}
}

func TestRotateLostRaceReportsReuse(t *testing.T) {
	repo := newStubTokenRepository()
	repo.rotateResult = false

	now := time.Now().UTC()
	repo.byHash[security.HashToken("contested")] = domain.RefreshToken{
		ID:        "tok-1",
		UserID:    "user-1",
		ChainID:   "chain-1",
		ExpiresAt: now.Add(time.Hour),
	}

	service := newTestTokenService(t, repo, newStubRevocationStore())

	_, err := service.Rotate(context.Background(), "contested")
	var reuse *TokenReuseError
	if !errors.As(err, &reuse) {
		t.Fatalf("expected TokenReuseError for the losing rotation, got %v", err)
	}
}

func TestRotateExpiredToken(t *testing.T) {
	repo := newStubTokenRepository()
	now := time.Now().UTC()
	repo.byHash[security.HashToken("stale")] = domain.RefreshToken{
		ID:        "tok-1",
		UserID:    "user-1",
		ChainID:   "chain-1",
		ExpiresAt: now.Add(-time.Minute),
	}

	service := newTestTokenService(t, repo, newStubRevocationStore())

	if _, err := service.Rotate(context.Background(), "stale"); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestRotateUnknownToken(t *testing.T) {
	service := newTestTokenService(t, newStubTokenRepository(), newStubRevocationStore())

	if _, err := service.Rotate(context.Background(), "never-issued"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestValidateAccessTokenActiveChain(t *testing.T) {
	repo := newStubTokenRepository()
	service := newTestTokenService(t, repo, newStubRevocationStore())

	pair, err := service.Issue(context.Background(), "user-1", domain.DeviceInfo{})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	repo.activeChains[pair.ChainID] = true

	claims, err := service.ValidateAccessToken(context.Background(), pair.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccessToken: %v", err)
	}
	if claims.UserID != "user-1" {
		t.Fatalf("expected user-1, got %s", claims.UserID)
	}
	if claims.ChainID != pair.ChainID {
		t.Fatalf("expected chain %s, got %s", pair.ChainID, claims.ChainID)
	}
}

func TestValidateAccessTokenRevokedChainDenies(t *testing.T) {
	repo := newStubTokenRepository()
	revocations := newStubRevocationStore()
	service := newTestTokenService(t, repo, revocations)

	pair, err := service.Issue(context.Background(), "user-1", domain.DeviceInfo{})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	// Chain left inactive in the repository.

	if _, err := service.ValidateAccessToken(context.Background(), pair.AccessToken); !errors.Is(err, ErrRevokedToken) {
		t.Fatalf("expected ErrRevokedToken, got %v", err)
	}
	if !revocations.revoked[pair.ChainID] {
		t.Fatal("denial must populate the revocation cache")
	}
}

func TestValidateAccessTokenCacheFastPath(t *testing.T) {
	repo := newStubTokenRepository()
	revocations := newStubRevocationStore()
	service := newTestTokenService(t, repo, revocations)

	pair, err := service.Issue(context.Background(), "user-1", domain.DeviceInfo{})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	// The chain is active in Postgres but the cache already marks it revoked.
	repo.activeChains[pair.ChainID] = true
	revocations.revoked[pair.ChainID] = true

	if _, err := service.ValidateAccessToken(context.Background(), pair.AccessToken); !errors.Is(err, ErrRevokedToken) {
		t.Fatalf("expected cache fast-path denial, got %v", err)
	}
}

func TestValidateAccessTokenExpired(t *testing.T) {
	repo := newStubTokenRepository()
	service := newTestTokenService(t, repo, newStubRevocationStore())

	issuedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	service.WithClock(fixedClock(issuedAt))

	pair, err := service.Issue(context.Background(), "user-1", domain.DeviceInfo{})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	service.WithClock(fixedClock(issuedAt.Add(16 * time.Minute)))

	if _, err := service.ValidateAccessToken(context.Background(), pair.AccessToken); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestRevokeChainPopulatesCache(t *testing.T) {
	repo := newStubTokenRepository()
	revocations := newStubRevocationStore()
	service := newTestTokenService(t, repo, revocations)

	count, err := service.RevokeChain(context.Background(), "chain-1", "admin")
	if err != nil {
		t.Fatalf("RevokeChain: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 revoked token, got %d", count)
	}
	if !revocations.revoked["chain-1"] {
		t.Fatal("revoked chain must be cached")
	}
}
