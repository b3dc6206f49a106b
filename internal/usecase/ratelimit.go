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

const (
	// A key is flagged suspicious once consecutive denied windows exceed
	// this count, or its traffic exceeds the burst/hourly volume limits.
	suspiciousViolationThreshold = 10
	suspiciousBurstLimit         = 20
	suspiciousBurstWindow        = 5 * time.Minute
	suspiciousHourlyLimit        = 50
	suspiciousFlagTTL            = time.Hour
)

// CaptchaTokenConsumer redeems a single-use verification token minted after a
// solved challenge.
type CaptchaTokenConsumer interface {
	ConsumeVerificationToken(ctx context.Context, token string) (bool, error)
}

// RateLimiter enforces fixed-window limits with progressive punishment:
// denied windows accumulate violations, violations buy delays, and enough of
// them demand a captcha before the key is served again. Suspicious flags are
// advisory and never block traffic on their own.
type RateLimiter struct {
	cfg     *config.AppConfig
	store   port.RateLimitStore
	captcha CaptchaTokenConsumer
	audit   port.AuditSink
	logger  *zap.Logger
	now     func() time.Time
}

// NewRateLimiter constructs a RateLimiter instance.
func NewRateLimiter(
	cfg *config.AppConfig,
	store port.RateLimitStore,
	captcha CaptchaTokenConsumer,
	audit port.AuditSink,
	logger *zap.Logger,
) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}

	limiter := &RateLimiter{
		cfg:     cfg,
		store:   store,
		captcha: captcha,
		audit:   audit,
		logger:  logger,
	}
	limiter.now = func() time.Time { return time.Now().UTC() }
	return limiter
}

// WithClock overrides the limiter clock for deterministic tests.
func (l *RateLimiter) WithClock(clock func() time.Time) {
	if clock != nil {
		l.now = clock
	}
}

// Check records one attempt for the key and decides whether to serve it.
// captchaToken, when non-empty, is redeemed to clear a captcha demand.
// Store failures fail open for general traffic and closed for policies that
// ask for it; either way the outcome is audited, not returned as an error.
func (l *RateLimiter) Check(ctx context.Context, key string, policy domain.RateLimitPolicy, captchaToken string) (domain.RateLimitDecision, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.RateLimitDecision{}, fmt.Errorf("rate limit key is required")
	}

	now := l.now()
	decision := domain.RateLimitDecision{
		Allowed:    true,
		Limit:      policy.MaxAttempts,
		Remaining:  policy.MaxAttempts,
		Escalation: domain.EscalationNone,
	}

	storeKey := policy.Name + ":" + key

	// Administrative blocks hold across every policy, keyed by the raw
	// identifier so one block covers login, refresh and general traffic.
	blockedUntil, err := l.store.BlockedUntil(ctx, key)
	if err != nil {
		return l.backendFailure(ctx, storeKey, policy, err), nil
	}
	if blockedUntil.After(now) {
		decision.Allowed = false
		decision.Escalation = domain.EscalationBlock
		decision.Remaining = 0
		decision.ResetAt = blockedUntil
		decision.RetryAfter = blockedUntil.Sub(now)
		return decision, ErrIPBlocked
	}

	violations, lastDenied, err := l.store.DenialState(ctx, storeKey)
	if err != nil {
		return l.backendFailure(ctx, storeKey, policy, err), nil
	}

	// A full clean window after the last denial forgives accumulated
	// violations.
	if violations > 0 && now.Sub(lastDenied) >= 2*policy.Window {
		if err := l.store.ClearDenials(ctx, storeKey); err != nil {
			l.logger.Warn("clear denials failed", zap.String("key", storeKey), zap.Error(err))
		} else {
			violations = 0
		}
	}

	if suspicious, err := l.store.IsSuspicious(ctx, storeKey); err == nil {
		decision.Suspicious = suspicious
	}

	if threshold := l.captchaThreshold(policy); threshold > 0 && violations >= threshold {
		cleared, err := l.redeemCaptcha(ctx, captchaToken)
		if err != nil {
			return l.backendFailure(ctx, storeKey, policy, err), nil
		}
		if !cleared {
			decision.Allowed = false
			decision.Escalation = domain.EscalationCaptcha
			decision.Remaining = 0
			decision.ResetAt = now.Add(policy.Window)
			return decision, nil
		}
		if err := l.store.ClearDenials(ctx, storeKey); err != nil {
			l.logger.Warn("clear denials failed", zap.String("key", storeKey), zap.Error(err))
		}
		violations = 0
	}

	if delay := domain.ProgressiveDelay(violations); delay > 0 {
		readyAt := lastDenied.Add(delay)
		if now.Before(readyAt) {
			decision.Allowed = false
			decision.Escalation = domain.EscalationDelay
			decision.Remaining = 0
			decision.RetryAfter = readyAt.Sub(now)
			decision.ResetAt = readyAt
			return decision, nil
		}
	}

	count, windowStart, err := l.store.IncrementAttempt(ctx, storeKey, now, policy.Window)
	if err != nil {
		return l.backendFailure(ctx, storeKey, policy, err), nil
	}

	decision.ResetAt = windowStart.Add(policy.Window)
	decision.Remaining = policy.MaxAttempts - count
	if decision.Remaining < 0 {
		decision.Remaining = 0
	}

	hourly, burst := l.trackVolume(ctx, key, now)

	if count <= policy.MaxAttempts {
		l.flagSuspicious(ctx, storeKey, hourly, burst, violations, &decision)
		return decision, nil
	}

	decision.Allowed = false
	decision.RetryAfter = decision.ResetAt.Sub(now)

	violations, err = l.store.RecordDenial(ctx, storeKey, now, 2*policy.Window)
	if err != nil {
		l.logger.Warn("record denial failed", zap.String("key", storeKey), zap.Error(err))
	}

	if delay := domain.ProgressiveDelay(violations); delay > 0 {
		decision.Escalation = domain.EscalationDelay
		if retry := delay; retry > decision.RetryAfter {
			decision.RetryAfter = retry
		}
	}
	if threshold := l.captchaThreshold(policy); threshold > 0 && violations >= threshold {
		decision.Escalation = domain.EscalationCaptcha
	}

	l.emit(ctx, domain.RateLimitExceededEvent{
		Key:            storeKey,
		Policy:         policy.Name,
		ViolationCount: violations,
		At:             now,
	})

	l.flagSuspicious(ctx, storeKey, hourly, burst, violations, &decision)

	return decision, nil
}

// BlockKey bars the key from every limited route for the given duration.
// Admin action against abusive sources; Reset lifts the block early.
func (l *RateLimiter) BlockKey(ctx context.Context, key, actor, reason string, duration time.Duration) (time.Time, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return time.Time{}, fmt.Errorf("rate limit key is required")
	}
	if duration <= 0 {
		return time.Time{}, fmt.Errorf("block duration must be positive")
	}

	until := l.now().Add(duration)
	if err := l.store.BlockKey(ctx, key, until); err != nil {
		return time.Time{}, fmt.Errorf("block rate limit key: %w", err)
	}

	l.emit(ctx, domain.IPBlockedEvent{
		Key:    key,
		Until:  until,
		Actor:  actor,
		Reason: reason,
		At:     l.now(),
	})
	return until, nil
}

// Reset clears every limiter counter for the key across all policies. Admin
// recovery path.
func (l *RateLimiter) Reset(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("rate limit key is required")
	}

	for _, policy := range l.Policies() {
		if err := l.store.Reset(ctx, policy.Name+":"+key); err != nil {
			return fmt.Errorf("reset rate limit %s: %w", policy.Name, err)
		}
	}
	for _, prefix := range []string{"traffic:1h:", "traffic:5m:"} {
		if err := l.store.Reset(ctx, prefix+key); err != nil {
			return fmt.Errorf("reset traffic counters: %w", err)
		}
	}
	// The administrative block lives under the raw key.
	if err := l.store.Reset(ctx, key); err != nil {
		return fmt.Errorf("reset block: %w", err)
	}
	return nil
}

// LoginPolicy limits credential-guessing traffic and fails closed.
func (l *RateLimiter) LoginPolicy() domain.RateLimitPolicy {
	return domain.RateLimitPolicy{
		Name:             "login",
		MaxAttempts:      l.maxAttempts(func(s config.RateLimitSettings) int { return s.LoginMaxAttempts }, 5),
		Window:           l.window(),
		CaptchaThreshold: l.configuredCaptchaThreshold(),
		FailClosed:       true,
	}
}

// RefreshPolicy limits token-rotation traffic and fails closed.
func (l *RateLimiter) RefreshPolicy() domain.RateLimitPolicy {
	return domain.RateLimitPolicy{
		Name:             "refresh",
		MaxAttempts:      l.maxAttempts(func(s config.RateLimitSettings) int { return s.RefreshMaxAttempts }, 10),
		Window:           l.window(),
		CaptchaThreshold: l.configuredCaptchaThreshold(),
		FailClosed:       true,
	}
}

// CaptchaPolicy limits challenge issuance so the captcha endpoint cannot be
// farmed.
func (l *RateLimiter) CaptchaPolicy() domain.RateLimitPolicy {
	return domain.RateLimitPolicy{
		Name:        "captcha",
		MaxAttempts: l.maxAttempts(func(s config.RateLimitSettings) int { return s.CaptchaMaxAttempts }, 10),
		Window:      l.window(),
	}
}

// GeneralPolicy covers the remaining API surface and fails open.
func (l *RateLimiter) GeneralPolicy() domain.RateLimitPolicy {
	return domain.RateLimitPolicy{
		Name:        "general",
		MaxAttempts: l.maxAttempts(func(s config.RateLimitSettings) int { return s.GeneralMaxAttempts }, 100),
		Window:      l.window(),
	}
}

// Policies enumerates every configured policy.
func (l *RateLimiter) Policies() []domain.RateLimitPolicy {
	return []domain.RateLimitPolicy{
		l.LoginPolicy(),
		l.RefreshPolicy(),
		l.CaptchaPolicy(),
		l.GeneralPolicy(),
	}
}

func (l *RateLimiter) redeemCaptcha(ctx context.Context, token string) (bool, error) {
	token = strings.TrimSpace(token)
	if token == "" || l.captcha == nil {
		return false, nil
	}
	return l.captcha.ConsumeVerificationToken(ctx, token)
}

func (l *RateLimiter) backendFailure(ctx context.Context, storeKey string, policy domain.RateLimitPolicy, cause error) domain.RateLimitDecision {
	now := l.now()
	l.logger.Error("rate limit store failure",
		zap.String("key", storeKey),
		zap.String("policy", policy.Name),
		zap.Bool("fail_closed", policy.FailClosed),
		zap.Error(cause))

	l.emit(ctx, domain.RateLimitBackendErrorEvent{
		Key:        storeKey,
		Policy:     policy.Name,
		FailClosed: policy.FailClosed,
		Error:      cause.Error(),
		At:         now,
	})

	decision := domain.RateLimitDecision{
		Allowed:    !policy.FailClosed,
		Limit:      policy.MaxAttempts,
		Escalation: domain.EscalationNone,
		ResetAt:    now.Add(policy.Window),
	}
	if decision.Allowed {
		decision.Remaining = policy.MaxAttempts
	} else {
		decision.RetryAfter = policy.Window
	}
	return decision
}

// trackVolume counts per-key traffic across all policies over a burst window
// and an hourly window. Tracking failures never block the request.
func (l *RateLimiter) trackVolume(ctx context.Context, key string, now time.Time) (int, int) {
	hourly, _, err := l.store.IncrementAttempt(ctx, "traffic:1h:"+key, now, time.Hour)
	if err != nil {
		l.logger.Warn("track hourly volume failed", zap.String("key", key), zap.Error(err))
	}
	burst, _, err := l.store.IncrementAttempt(ctx, "traffic:5m:"+key, now, suspiciousBurstWindow)
	if err != nil {
		l.logger.Warn("track burst volume failed", zap.String("key", key), zap.Error(err))
	}
	return hourly, burst
}

func (l *RateLimiter) flagSuspicious(ctx context.Context, storeKey string, hourly, burst, violations int, decision *domain.RateLimitDecision) {
	var reason string
	switch {
	case violations > suspiciousViolationThreshold:
		reason = "repeated rate limit violations"
	case burst > suspiciousBurstLimit:
		reason = "request burst"
	case hourly > suspiciousHourlyLimit:
		reason = "sustained high request volume"
	default:
		return
	}

	if decision.Suspicious {
		return
	}
	decision.Suspicious = true

	if err := l.store.MarkSuspicious(ctx, storeKey, reason, suspiciousFlagTTL); err != nil {
		l.logger.Warn("mark suspicious failed", zap.String("key", storeKey), zap.Error(err))
		return
	}

	l.emit(ctx, domain.SuspiciousActivityEvent{Key: storeKey, Reason: reason, At: l.now()})
}

func (l *RateLimiter) emit(ctx context.Context, event domain.SecurityEvent) {
	if l.audit == nil {
		return
	}
	if err := l.audit.Record(ctx, event); err != nil {
		l.logger.Warn("record security event failed", zap.String("kind", event.Kind()), zap.Error(err))
	}
}

func (l *RateLimiter) window() time.Duration {
	if l.cfg != nil && l.cfg.RateLimit.WindowDuration > 0 {
		return l.cfg.RateLimit.WindowDuration
	}
	return time.Minute
}

func (l *RateLimiter) maxAttempts(pick func(config.RateLimitSettings) int, fallback int) int {
	if l.cfg != nil {
		if v := pick(l.cfg.RateLimit); v > 0 {
			return v
		}
	}
	return fallback
}

func (l *RateLimiter) configuredCaptchaThreshold() int {
	if l.cfg != nil && l.cfg.RateLimit.CaptchaThreshold > 0 {
		return l.cfg.RateLimit.CaptchaThreshold
	}
	return 3
}

func (l *RateLimiter) captchaThreshold(policy domain.RateLimitPolicy) int {
	if policy.CaptchaThreshold > 0 {
		return policy.CaptchaThreshold
	}
	return 0
}
