package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Realm-101/Unbuilt-sub002/internal/core/domain"
	"github.com/Realm-101/Unbuilt-sub002/internal/core/port"
	"github.com/Realm-101/Unbuilt-sub002/internal/infra/config"
	"github.com/Realm-101/Unbuilt-sub002/internal/infra/logger"
	"github.com/Realm-101/Unbuilt-sub002/internal/repository"
)

// SecurityEventHandler owns the failed-login lockout state machine and the
// responses to security signals raised elsewhere: token reuse, password
// changes, admin locks. Lock status is derived lazily; nothing runs when a
// lockout window elapses.
type SecurityEventHandler struct {
	cfg    *config.AppConfig
	states port.SecurityStateRepository
	tokens *TokenService
	audit  port.AuditSink
	logger *zap.Logger
	now    func() time.Time
}

// NewSecurityEventHandler constructs a SecurityEventHandler instance.
func NewSecurityEventHandler(
	cfg *config.AppConfig,
	states port.SecurityStateRepository,
	tokens *TokenService,
	audit port.AuditSink,
	log *zap.Logger,
) *SecurityEventHandler {
	if log == nil {
		log = zap.NewNop()
	}

	handler := &SecurityEventHandler{
		cfg:    cfg,
		states: states,
		tokens: tokens,
		audit:  audit,
		logger: log,
	}
	handler.now = func() time.Time { return time.Now().UTC() }
	return handler
}

// WithClock overrides the handler clock for deterministic tests.
func (h *SecurityEventHandler) WithClock(clock func() time.Time) {
	if clock != nil {
		h.now = clock
	}
}

// IsLocked reports whether the identifier is currently locked out and how
// long the lockout still holds.
func (h *SecurityEventHandler) IsLocked(ctx context.Context, identifier string) (bool, time.Duration, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return false, 0, nil
	}

	state, err := h.states.Get(ctx, identifier)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, 0, nil
		}
		return false, 0, fmt.Errorf("get security state: %w", err)
	}

	now := h.now()
	if !state.IsLocked(now, h.threshold()) {
		return false, 0, nil
	}
	if state.AdminLocked {
		return true, 0, nil
	}
	return true, state.RemainingLockout(now), nil
}

// OnFailedLogin records one failed attempt and locks the account when the
// threshold is crossed. Repeated lockouts inside the escalation window double
// the lockout duration up to the configured maximum.
func (h *SecurityEventHandler) OnFailedLogin(ctx context.Context, identifier, ip string) (domain.UserSecurityState, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return domain.UserSecurityState{}, fmt.Errorf("identifier is required")
	}

	now := h.now()
	state, err := h.states.RecordFailure(ctx, identifier, now)
	if err != nil {
		return domain.UserSecurityState{}, fmt.Errorf("record login failure: %w", err)
	}

	h.emit(ctx, domain.LoginFailedEvent{
		Identifier: logger.MaskIdentifier(identifier),
		IP:         ip,
		Attempt:    state.FailedAttempts,
		At:         now,
	})

	if state.FailedAttempts < h.threshold() {
		return state, nil
	}
	if state.LockedUntil != nil && now.Before(*state.LockedUntil) {
		// Already inside a lockout window.
		return state, nil
	}

	duration := h.lockoutDuration(state, now)
	locked, err := h.states.RecordLockout(ctx, identifier, now.Add(duration), now)
	if err != nil {
		return state, fmt.Errorf("record lockout: %w", err)
	}

	h.emit(ctx, domain.AccountLockedEvent{
		Identifier:   logger.MaskIdentifier(identifier),
		IP:           ip,
		Until:        now.Add(duration),
		LockoutCount: locked.LockoutCount,
		Actor:        "system",
		Reason:       "failed_login_threshold",
		At:           now,
	})

	return locked, nil
}

// OnSuccessfulLogin clears the failure counter for the identifier.
func (h *SecurityEventHandler) OnSuccessfulLogin(ctx context.Context, userID, identifier, ip string) error {
	now := h.now()
	if err := h.states.ResetFailures(ctx, strings.TrimSpace(identifier), now); err != nil {
		return fmt.Errorf("reset login failures: %w", err)
	}

	h.emit(ctx, domain.LoginSucceededEvent{UserID: userID, IP: ip, At: now})
	return nil
}

// OnTokenReuse treats the replayed chain as compromised and revokes every
// session the owning user holds.
func (h *SecurityEventHandler) OnTokenReuse(ctx context.Context, reuse *TokenReuseError, ip string) error {
	if reuse == nil {
		return fmt.Errorf("reuse detail is required")
	}

	chains, err := h.tokens.RevokeAllForUser(ctx, reuse.UserID, "token_reuse")
	if err != nil {
		return fmt.Errorf("revoke sessions after reuse: %w", err)
	}

	h.emit(ctx, domain.TokenReuseDetectedEvent{
		UserID:          reuse.UserID,
		TokenID:         reuse.TokenID,
		ChainID:         reuse.ChainID,
		IP:              ip,
		SessionsRevoked: len(chains),
		At:              h.now(),
	})

	h.logger.Warn("refresh token reuse detected",
		zap.String("user_id", reuse.UserID),
		zap.String("chain_id", reuse.ChainID),
		zap.Int("sessions_revoked", len(chains)))
	return nil
}

// OnPasswordChange revokes every session except the one the change came
// from, keeping the user logged in where they proved the new password.
func (h *SecurityEventHandler) OnPasswordChange(ctx context.Context, userID, keepChainID, ip string) error {
	chains, err := h.tokens.RevokeAllForUserExcept(ctx, userID, keepChainID, "password_change")
	if err != nil {
		return fmt.Errorf("revoke sessions after password change: %w", err)
	}

	h.emit(ctx, domain.PasswordChangedEvent{
		UserID:          userID,
		SessionsRevoked: len(chains),
		IP:              ip,
		At:              h.now(),
	})
	return nil
}

// AdminLock places an explicit lock that holds until AdminUnlock.
func (h *SecurityEventHandler) AdminLock(ctx context.Context, identifier, actor, reason string) error {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return fmt.Errorf("identifier is required")
	}

	now := h.now()
	if err := h.states.SetAdminLock(ctx, identifier, true, now); err != nil {
		return fmt.Errorf("set admin lock: %w", err)
	}

	h.emit(ctx, domain.AccountLockedEvent{
		Identifier: logger.MaskIdentifier(identifier),
		Actor:      actor,
		Reason:     reason,
		At:         now,
	})
	return nil
}

// AdminUnlock releases both admin and threshold lockouts and clears the
// failure counter.
func (h *SecurityEventHandler) AdminUnlock(ctx context.Context, identifier, actor, reason string) error {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return fmt.Errorf("identifier is required")
	}

	now := h.now()
	if err := h.states.SetAdminLock(ctx, identifier, false, now); err != nil {
		return fmt.Errorf("clear admin lock: %w", err)
	}
	if err := h.states.ResetFailures(ctx, identifier, now); err != nil {
		return fmt.Errorf("reset login failures: %w", err)
	}

	h.emit(ctx, domain.AccountUnlockedEvent{
		Identifier: logger.MaskIdentifier(identifier),
		Actor:      actor,
		Reason:     reason,
		At:         now,
	})
	return nil
}

func (h *SecurityEventHandler) lockoutDuration(state domain.UserSecurityState, now time.Time) time.Duration {
	base := h.baseDuration()
	if state.LockoutCount == 0 || !state.LockedOutWithin(now, h.escalationWindow()) {
		return base
	}

	duration := base
	maxDuration := h.maxDuration()
	for i := 0; i < state.LockoutCount; i++ {
		duration *= 2
		if duration >= maxDuration {
			return maxDuration
		}
	}
	return duration
}

func (h *SecurityEventHandler) emit(ctx context.Context, event domain.SecurityEvent) {
	if h.audit == nil {
		return
	}
	if err := h.audit.Record(ctx, event); err != nil {
		h.logger.Warn("record security event failed", zap.String("kind", event.Kind()), zap.Error(err))
	}
}

func (h *SecurityEventHandler) threshold() int {
	if h.cfg != nil && h.cfg.Lockout.Threshold > 0 {
		return h.cfg.Lockout.Threshold
	}
	return 5
}

func (h *SecurityEventHandler) baseDuration() time.Duration {
	if h.cfg != nil && h.cfg.Lockout.BaseDuration > 0 {
		return h.cfg.Lockout.BaseDuration
	}
	return 30 * time.Minute
}

func (h *SecurityEventHandler) maxDuration() time.Duration {
	if h.cfg != nil && h.cfg.Lockout.MaxDuration > 0 {
		return h.cfg.Lockout.MaxDuration
	}
	return 24 * time.Hour
}

func (h *SecurityEventHandler) escalationWindow() time.Duration {
	if h.cfg != nil && h.cfg.Lockout.EscalationWindow > 0 {
		return h.cfg.Lockout.EscalationWindow
	}
	return 24 * time.Hour
}
