package usecase

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Realm-101/Unbuilt-sub002/internal/core/domain"
	"github.com/Realm-101/Unbuilt-sub002/internal/infra/config"
	"github.com/Realm-101/Unbuilt-sub002/internal/infra/security"
	"github.com/Realm-101/Unbuilt-sub002/internal/repository"
)

var (
	testKeyOnce sync.Once
	testKey     *rsa.PrivateKey
)

type staticKeyProvider struct {
	key *rsa.PrivateKey
}

func (p *staticKeyProvider) GetSigningKey() (*rsa.PrivateKey, error) {
	return p.key, nil
}

func (p *staticKeyProvider) GetVerificationKey(string) (*rsa.PublicKey, error) {
	return &p.key.PublicKey, nil
}

func newTestJWTManager(t *testing.T) *security.JWTManager {
	t.Helper()

	testKeyOnce.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			t.Fatalf("generate rsa key: %v", err)
		}
		testKey = key
	})

	return security.NewJWTManager(&staticKeyProvider{key: testKey})
}

func testConfig() *config.AppConfig {
	return &config.AppConfig{
		App: config.AppSettings{Name: "trust-service", Env: "test"},
		JWT: config.JWTSettings{
			ActiveKID:       "primary",
			AccessTokenTTL:  15 * time.Minute,
			RefreshTokenTTL: 168 * time.Hour,
		},
		Session: config.SessionSettings{MaxActive: 3, CleanupGrace: time.Hour},
		Lockout: config.LockoutSettings{
			Threshold:        5,
			BaseDuration:     30 * time.Minute,
			MaxDuration:      24 * time.Hour,
			EscalationWindow: 24 * time.Hour,
		},
		RateLimit: config.RateLimitSettings{
			WindowDuration:     time.Minute,
			LoginMaxAttempts:   5,
			RefreshMaxAttempts: 10,
			GeneralMaxAttempts: 100,
			CaptchaMaxAttempts: 10,
			CaptchaThreshold:   3,
		},
		Captcha: config.CaptchaSettings{
			TTL:         5 * time.Minute,
			MaxAttempts: 3,
			TokenTTL:    10 * time.Minute,
		},
	}
}

// stubTokenRepository fails loudly on anything a test did not arrange.
type stubTokenRepository struct {
	byHash map[string]domain.RefreshToken
	byID   map[string]domain.RefreshToken

	activeByUser map[string][]domain.RefreshToken
	activeChains map[string]bool

	created        []domain.RefreshToken
	evictOnCreate  []domain.RefreshToken
	rotateResult   bool
	rotateErr      error
	rotatedOldIDs  []string
	rotatedBy      []string
	rotatedNext    []domain.RefreshToken
	revokedChains  []string
	revokeByUser   map[string][]string
	revokeExcept   map[string][]string
	touchedIDs     []string
	deletedExpired int
	deletedBefore  time.Time
}

func newStubTokenRepository() *stubTokenRepository {
	return &stubTokenRepository{
		byHash:       make(map[string]domain.RefreshToken),
		byID:         make(map[string]domain.RefreshToken),
		activeByUser: make(map[string][]domain.RefreshToken),
		activeChains: make(map[string]bool),
		revokeByUser: make(map[string][]string),
		revokeExcept: make(map[string][]string),
	}
}

func (r *stubTokenRepository) Create(_ context.Context, token domain.RefreshToken) error {
	r.created = append(r.created, token)
	return nil
}

func (r *stubTokenRepository) CreateWithLimit(_ context.Context, token domain.RefreshToken, _ int) ([]domain.RefreshToken, error) {
	r.created = append(r.created, token)
	return r.evictOnCreate, nil
}

func (r *stubTokenRepository) Rotate(_ context.Context, oldID, revokedBy string, next domain.RefreshToken) (bool, error) {
	r.rotatedOldIDs = append(r.rotatedOldIDs, oldID)
	r.rotatedBy = append(r.rotatedBy, revokedBy)
	r.rotatedNext = append(r.rotatedNext, next)
	return r.rotateResult, r.rotateErr
}

func (r *stubTokenRepository) GetByHash(_ context.Context, hash string) (*domain.RefreshToken, error) {
	if token, ok := r.byHash[hash]; ok {
		copy := token
		return &copy, nil
	}
	return nil, repository.ErrNotFound
}

func (r *stubTokenRepository) GetByID(_ context.Context, id string) (*domain.RefreshToken, error) {
	if token, ok := r.byID[id]; ok {
		copy := token
		return &copy, nil
	}
	return nil, repository.ErrNotFound
}

func (r *stubTokenRepository) ListActiveByUser(_ context.Context, userID string) ([]domain.RefreshToken, error) {
	return r.activeByUser[userID], nil
}

func (r *stubTokenRepository) IsChainActive(_ context.Context, chainID string) (bool, error) {
	return r.activeChains[chainID], nil
}

func (r *stubTokenRepository) RevokeIfActive(context.Context, string, string) (bool, error) {
	return false, errors.New("unexpected call: RevokeIfActive")
}

func (r *stubTokenRepository) RevokeChain(_ context.Context, chainID, _ string) (int, error) {
	r.revokedChains = append(r.revokedChains, chainID)
	return 1, nil
}

func (r *stubTokenRepository) RevokeAllForUser(_ context.Context, userID, revokedBy string) ([]string, error) {
	r.revokeByUser[userID] = append(r.revokeByUser[userID], revokedBy)
	chains := make([]string, 0)
	for _, token := range r.activeByUser[userID] {
		chains = append(chains, token.ChainID)
	}
	return chains, nil
}

func (r *stubTokenRepository) RevokeAllForUserExcept(_ context.Context, userID, keepChainID, _ string) ([]string, error) {
	r.revokeExcept[userID] = append(r.revokeExcept[userID], keepChainID)
	chains := make([]string, 0)
	for _, token := range r.activeByUser[userID] {
		if token.ChainID != keepChainID {
			chains = append(chains, token.ChainID)
		}
	}
	return chains, nil
}

func (r *stubTokenRepository) TouchLastUsed(_ context.Context, tokenID string, _ time.Time) error {
	r.touchedIDs = append(r.touchedIDs, tokenID)
	return nil
}

func (r *stubTokenRepository) DeleteExpired(_ context.Context, before time.Time) (int, error) {
	r.deletedBefore = before
	return r.deletedExpired, nil
}

// stubRevocationStore tracks chain revocation marks in memory.
type stubRevocationStore struct {
	revoked map[string]bool
	err     error
}

func newStubRevocationStore() *stubRevocationStore {
	return &stubRevocationStore{revoked: make(map[string]bool)}
}

func (s *stubRevocationStore) MarkChainRevoked(_ context.Context, chainID string, _ time.Duration) error {
	if s.err != nil {
		return s.err
	}
	s.revoked[chainID] = true
	return nil
}

func (s *stubRevocationStore) IsChainRevoked(_ context.Context, chainID string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return s.revoked[chainID], nil
}

// recordingSink collects emitted security events for assertions.
type recordingSink struct {
	events []domain.SecurityEvent
}

func (s *recordingSink) Record(_ context.Context, event domain.SecurityEvent) error {
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) kinds() []string {
	kinds := make([]string, 0, len(s.events))
	for _, event := range s.events {
		kinds = append(kinds, event.Kind())
	}
	return kinds
}

func (s *recordingSink) hasKind(kind string) bool {
	for _, event := range s.events {
		if event.Kind() == kind {
			return true
		}
	}
	return false
}

// stubStateRepository keeps security states in a map and applies the same
// transitions the Postgres repository does.
type stubStateRepository struct {
	states map[string]domain.UserSecurityState
}

func newStubStateRepository() *stubStateRepository {
	return &stubStateRepository{states: make(map[string]domain.UserSecurityState)}
}

func (r *stubStateRepository) Get(_ context.Context, identifier string) (*domain.UserSecurityState, error) {
	if state, ok := r.states[identifier]; ok {
		copy := state
		return &copy, nil
	}
	return nil, repository.ErrNotFound
}

func (r *stubStateRepository) RecordFailure(_ context.Context, identifier string, at time.Time) (domain.UserSecurityState, error) {
	state := r.states[identifier]
	state.Identifier = identifier
	state.FailedAttempts++
	atCopy := at
	state.LastFailedAt = &atCopy
	state.UpdatedAt = at
	r.states[identifier] = state
	return state, nil
}

func (r *stubStateRepository) RecordLockout(_ context.Context, identifier string, until, at time.Time) (domain.UserSecurityState, error) {
	state, ok := r.states[identifier]
	if !ok {
		return domain.UserSecurityState{}, repository.ErrNotFound
	}
	untilCopy := until
	atCopy := at
	state.LockedUntil = &untilCopy
	state.LockoutCount++
	state.LastLockoutAt = &atCopy
	state.UpdatedAt = at
	r.states[identifier] = state
	return state, nil
}

func (r *stubStateRepository) ResetFailures(_ context.Context, identifier string, at time.Time) error {
	state, ok := r.states[identifier]
	if !ok {
		return nil
	}
	state.FailedAttempts = 0
	state.LockedUntil = nil
	state.UpdatedAt = at
	r.states[identifier] = state
	return nil
}

func (r *stubStateRepository) SetAdminLock(_ context.Context, identifier string, locked bool, at time.Time) error {
	state := r.states[identifier]
	state.Identifier = identifier
	state.AdminLocked = locked
	state.UpdatedAt = at
	r.states[identifier] = state
	return nil
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}
