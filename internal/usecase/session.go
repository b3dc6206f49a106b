package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Realm-101/Unbuilt-sub002/internal/core/domain"
	"github.com/Realm-101/Unbuilt-sub002/internal/core/port"
	"github.com/Realm-101/Unbuilt-sub002/internal/infra/config"
)

// SessionManager exposes device logins as sessions. A session is a live
// refresh chain; there is no separate session table, so listing and
// terminating sessions operate on the token repository.
type SessionManager struct {
	cfg    *config.AppConfig
	tokens *TokenService
	repo   port.TokenRepository
	audit  port.AuditSink
	logger *zap.Logger
	now    func() time.Time
}

// NewSessionManager constructs a SessionManager instance.
func NewSessionManager(
	cfg *config.AppConfig,
	tokens *TokenService,
	repo port.TokenRepository,
	audit port.AuditSink,
	logger *zap.Logger,
) *SessionManager {
	if logger == nil {
		logger = zap.NewNop()
	}

	manager := &SessionManager{
		cfg:    cfg,
		tokens: tokens,
		repo:   repo,
		audit:  audit,
		logger: logger,
	}
	manager.now = func() time.Time { return time.Now().UTC() }
	return manager
}

// WithClock overrides the manager clock for deterministic tests.
func (m *SessionManager) WithClock(clock func() time.Time) {
	if clock != nil {
		m.now = clock
	}
}

// CreateSession issues a token pair under the concurrent-session cap. When
// the user is at the cap the oldest sessions are evicted, never the new one.
// Returns the evicted chain ids.
func (m *SessionManager) CreateSession(ctx context.Context, userID string, device domain.DeviceInfo) (*domain.TokenPair, []string, error) {
	pair, evicted, err := m.tokens.IssueWithLimit(ctx, userID, device, m.maxActive())
	if err != nil {
		return nil, nil, err
	}

	evictedChains := make([]string, 0, len(evicted))
	for _, token := range evicted {
		evictedChains = append(evictedChains, token.ChainID)
	}

	var deviceLabel, ip string
	if device.DeviceLabel != nil {
		deviceLabel = *device.DeviceLabel
	}
	if device.IP != nil {
		ip = *device.IP
	}
	m.emit(ctx, domain.SessionCreatedEvent{
		UserID:        userID,
		TokenID:       pair.RefreshTokenID,
		ChainID:       pair.ChainID,
		DeviceLabel:   deviceLabel,
		IP:            ip,
		EvictedChains: evictedChains,
		At:            m.now(),
	})

	return pair, evictedChains, nil
}

// Rotate exchanges a refresh token for a new pair, preserving the session.
// Reuse of a rotated token propagates as *TokenReuseError for the security
// event handler to act on.
func (m *SessionManager) Rotate(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	return m.tokens.Rotate(ctx, refreshToken)
}

// ListSessions returns the user's active sessions, newest first, marking the
// one the requesting credential belongs to.
func (m *SessionManager) ListSessions(ctx context.Context, userID, currentChainID string) ([]domain.SessionView, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	tokens, err := m.repo.ListActiveByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list active tokens: %w", err)
	}

	sessions := make([]domain.SessionView, 0, len(tokens))
	for _, token := range tokens {
		sessions = append(sessions, domain.NewSessionView(token, currentChainID))
	}
	return sessions, nil
}

// InvalidateSession terminates one session. The chain must belong to the
// user; terminating someone else's session reports ErrSessionNotFound.
func (m *SessionManager) InvalidateSession(ctx context.Context, userID, chainID, revokedBy, reason string) error {
	userID = strings.TrimSpace(userID)
	chainID = strings.TrimSpace(chainID)
	if userID == "" || chainID == "" {
		return ErrSessionNotFound
	}

	tokens, err := m.repo.ListActiveByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("list active tokens: %w", err)
	}

	owned := false
	for _, token := range tokens {
		if token.ChainID == chainID {
			owned = true
			break
		}
	}
	if !owned {
		return ErrSessionNotFound
	}

	count, err := m.tokens.RevokeChain(ctx, chainID, revokedBy)
	if err != nil {
		return err
	}

	m.emit(ctx, domain.SessionRevokedEvent{
		UserID:        userID,
		ChainID:       chainID,
		Reason:        reason,
		RevokedBy:     revokedBy,
		TokensRevoked: count,
		At:            m.now(),
	})
	return nil
}

// InvalidateAll terminates every session the user holds and returns how many
// chains were revoked.
func (m *SessionManager) InvalidateAll(ctx context.Context, userID, revokedBy, reason string) (int, error) {
	chains, err := m.tokens.RevokeAllForUser(ctx, userID, revokedBy)
	if err != nil {
		return 0, err
	}

	m.emit(ctx, domain.SessionRevokedEvent{
		UserID:        userID,
		Reason:        reason,
		RevokedBy:     revokedBy,
		TokensRevoked: len(chains),
		At:            m.now(),
	})
	return len(chains), nil
}

// InvalidateAllExcept terminates every session except the caller's own.
func (m *SessionManager) InvalidateAllExcept(ctx context.Context, userID, keepChainID, revokedBy, reason string) (int, error) {
	chains, err := m.tokens.RevokeAllForUserExcept(ctx, userID, keepChainID, revokedBy)
	if err != nil {
		return 0, err
	}

	m.emit(ctx, domain.SessionRevokedEvent{
		UserID:        userID,
		Reason:        reason,
		RevokedBy:     revokedBy,
		TokensRevoked: len(chains),
		At:            m.now(),
	})
	return len(chains), nil
}

// Touch records session activity for the supplied token id. Failures are
// logged and swallowed; activity tracking never breaks a request.
func (m *SessionManager) Touch(ctx context.Context, tokenID string) {
	if strings.TrimSpace(tokenID) == "" {
		return
	}
	if err := m.repo.TouchLastUsed(ctx, tokenID, m.now()); err != nil {
		m.logger.Warn("touch session failed", zap.String("token_id", tokenID), zap.Error(err))
	}
}

// CleanupExpired removes refresh tokens whose expiry lies more than the
// configured grace period in the past and returns how many rows were deleted.
// The grace keeps just-expired tokens around long enough for reuse detection
// to still see them. Runs from a background sweep.
func (m *SessionManager) CleanupExpired(ctx context.Context) (int, error) {
	deleted, err := m.repo.DeleteExpired(ctx, m.now().Add(-m.cleanupGrace()))
	if err != nil {
		return 0, fmt.Errorf("delete expired tokens: %w", err)
	}
	return deleted, nil
}

func (m *SessionManager) emit(ctx context.Context, event domain.SecurityEvent) {
	if m.audit == nil {
		return
	}
	if err := m.audit.Record(ctx, event); err != nil {
		m.logger.Warn("record security event failed", zap.String("kind", event.Kind()), zap.Error(err))
	}
}

func (m *SessionManager) maxActive() int {
	if m.cfg != nil && m.cfg.Session.MaxActive > 0 {
		return m.cfg.Session.MaxActive
	}
	return 5
}

func (m *SessionManager) cleanupGrace() time.Duration {
	if m.cfg != nil && m.cfg.Session.CleanupGrace > 0 {
		return m.cfg.Session.CleanupGrace
	}
	return time.Hour
}
