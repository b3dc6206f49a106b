package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Realm-101/Unbuilt-sub002/internal/core/domain"
	"github.com/Realm-101/Unbuilt-sub002/internal/repository/memory"
)

type stubCaptchaConsumer struct {
	ok       bool
	err      error
	consumed []string
}

func (c *stubCaptchaConsumer) ConsumeVerificationToken(_ context.Context, token string) (bool, error) {
	c.consumed = append(c.consumed, token)
	return c.ok, c.err
}

// failingRateLimitStore simulates a backend outage.
type failingRateLimitStore struct{}

func (failingRateLimitStore) IncrementAttempt(context.Context, string, time.Time, time.Duration) (int, time.Time, error) {
	return 0, time.Time{}, errors.New("store down")
}

func (failingRateLimitStore) RecordDenial(context.Context, string, time.Time, time.Duration) (int, error) {
	return 0, errors.New("store down")
}

func (failingRateLimitStore) DenialState(context.Context, string) (int, time.Time, error) {
	return 0, time.Time{}, errors.New("store down")
}

func (failingRateLimitStore) ClearDenials(context.Context, string) error {
	return errors.New("store down")
}

func (failingRateLimitStore) MarkSuspicious(context.Context, string, string, time.Duration) error {
	return errors.New("store down")
}

func (failingRateLimitStore) IsSuspicious(context.Context, string) (bool, error) {
	return false, errors.New("store down")
}

func (failingRateLimitStore) BlockKey(context.Context, string, time.Time) error {
	return errors.New("store down")
}

func (failingRateLimitStore) BlockedUntil(context.Context, string) (time.Time, error) {
	return time.Time{}, errors.New("store down")
}

func (failingRateLimitStore) Reset(context.Context, string) error {
	return errors.New("store down")
}

func newTestRateLimiter(sink *recordingSink, captcha CaptchaTokenConsumer) (*RateLimiter, *memory.RateLimitStore, *time.Time) {
	store := memory.NewRateLimitStore()
	limiter := NewRateLimiter(testConfig(), store, captcha, sink, zap.NewNop())

	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return current }
	limiter.WithClock(clock)
	store.WithClock(clock)

	return limiter, store, &current
}

func TestCheckAllowsUntilLimit(t *testing.T) {
	limiter, _, _ := newTestRateLimiter(&recordingSink{}, nil)
	policy := limiter.LoginPolicy()

	ctx := context.Background()
	for i := 0; i < policy.MaxAttempts; i++ {
		decision, err := limiter.Check(ctx, "198.51.100.7", policy, "")
		if err != nil {
			t.Fatalf("Check %d: %v", i+1, err)
		}
		if !decision.Allowed {
			t.Fatalf("attempt %d within the limit must be allowed", i+1)
		}
		if want := policy.MaxAttempts - (i + 1); decision.Remaining != want {
			t.Fatalf("attempt %d: expected remaining %d, got %d", i+1, want, decision.Remaining)
		}
	}

	decision, err := limiter.Check(ctx, "198.51.100.7", policy, "")
	if err != nil {
		t.Fatalf("Check over limit: %v", err)
	}
	if decision.Allowed {
		t.Fatal("attempt over the limit must be denied")
	}
	if decision.RetryAfter <= 0 {
		t.Fatal("denied decision must carry a retry-after hint")
	}
}

func TestCheckIsolatesKeys(t *testing.T) {
	limiter, _, _ := newTestRateLimiter(&recordingSink{}, nil)
	policy := limiter.LoginPolicy()

	ctx := context.Background()
	for i := 0; i <= policy.MaxAttempts; i++ {
		if _, err := limiter.Check(ctx, "198.51.100.7", policy, ""); err != nil {
			t.Fatalf("Check: %v", err)
		}
	}

	decision, err := limiter.Check(ctx, "203.0.113.9", policy, "")
	if err != nil {
		t.Fatalf("Check other key: %v", err)
	}
	if !decision.Allowed {
		t.Fatal("another key must not share the exhausted window")
	}
}

func TestWindowResetsAfterExpiry(t *testing.T) {
	limiter, _, current := newTestRateLimiter(&recordingSink{}, nil)
	policy := limiter.GeneralPolicy()

	ctx := context.Background()
	for i := 0; i <= policy.MaxAttempts; i++ {
		if _, err := limiter.Check(ctx, "client-1", policy, ""); err != nil {
			t.Fatalf("Check: %v", err)
		}
	}

	*current = current.Add(policy.Window + time.Second)

	decision, err := limiter.Check(ctx, "client-1", policy, "")
	if err != nil {
		t.Fatalf("Check after window: %v", err)
	}
	if !decision.Allowed {
		t.Fatal("a fresh window must serve the key again")
	}
}

func TestViolationsForgivenAfterQuietPeriod(t *testing.T) {
	limiter, store, current := newTestRateLimiter(&recordingSink{}, nil)
	policy := limiter.GeneralPolicy()
	storeKey := policy.Name + ":client-1"

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := store.RecordDenial(ctx, storeKey, *current, 4*policy.Window); err != nil {
			t.Fatalf("RecordDenial: %v", err)
		}
	}

	*current = current.Add(2 * policy.Window)

	decision, err := limiter.Check(ctx, "client-1", policy, "")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !decision.Allowed {
		t.Fatal("a quiet key must be served again")
	}

	violations, _, err := store.DenialState(ctx, storeKey)
	if err != nil {
		t.Fatalf("DenialState: %v", err)
	}
	if violations != 0 {
		t.Fatalf("expected forgiven violations, got %d", violations)
	}
}

func TestProgressiveDelayBlocksEarlyRetry(t *testing.T) {
	limiter, store, current := newTestRateLimiter(&recordingSink{}, nil)
	// The general policy carries no captcha threshold, so violations
	// escalate to delays only.
	policy := limiter.GeneralPolicy()
	storeKey := policy.Name + ":client-1"

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		if _, err := store.RecordDenial(ctx, storeKey, *current, 4*policy.Window); err != nil {
			t.Fatalf("RecordDenial: %v", err)
		}
	}

	decision, err := limiter.Check(ctx, "client-1", policy, "")
	if err != nil {
		t.Fatalf("Check during delay: %v", err)
	}
	if decision.Allowed {
		t.Fatal("retry inside the enforced delay must be denied")
	}
	if decision.Escalation != domain.EscalationDelay {
		t.Fatalf("expected delay escalation, got %s", decision.Escalation)
	}
	if decision.RetryAfter != time.Second {
		t.Fatalf("expected 1s retry-after at 4 violations, got %s", decision.RetryAfter)
	}

	*current = current.Add(2 * time.Second)

	decision, err = limiter.Check(ctx, "client-1", policy, "")
	if err != nil {
		t.Fatalf("Check after delay: %v", err)
	}
	if !decision.Allowed {
		t.Fatal("the key must be served once the delay elapses")
	}
}

func TestCaptchaDemandedAfterRepeatedViolations(t *testing.T) {
	limiter, store, current := newTestRateLimiter(&recordingSink{}, &stubCaptchaConsumer{})
	policy := limiter.LoginPolicy()
	storeKey := policy.Name + ":198.51.100.7"

	ctx := context.Background()
	for i := 0; i < policy.CaptchaThreshold; i++ {
		if _, err := store.RecordDenial(ctx, storeKey, *current, 4*policy.Window); err != nil {
			t.Fatalf("RecordDenial: %v", err)
		}
	}

	decision, err := limiter.Check(ctx, "198.51.100.7", policy, "")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if decision.Allowed {
		t.Fatal("a key over the captcha threshold must be denied")
	}
	if decision.Escalation != domain.EscalationCaptcha {
		t.Fatalf("expected captcha escalation, got %s", decision.Escalation)
	}
}

func TestCaptchaTokenClearsEscalation(t *testing.T) {
	consumer := &stubCaptchaConsumer{ok: true}
	limiter, store, current := newTestRateLimiter(&recordingSink{}, consumer)
	policy := limiter.LoginPolicy()
	storeKey := policy.Name + ":198.51.100.7"

	ctx := context.Background()
	for i := 0; i < policy.CaptchaThreshold; i++ {
		if _, err := store.RecordDenial(ctx, storeKey, *current, 4*policy.Window); err != nil {
			t.Fatalf("RecordDenial: %v", err)
		}
	}

	decision, err := limiter.Check(ctx, "198.51.100.7", policy, "solved-token")
	if err != nil {
		t.Fatalf("Check with token: %v", err)
	}
	if !decision.Allowed {
		t.Fatal("a redeemed captcha must clear the escalation")
	}
	if len(consumer.consumed) != 1 || consumer.consumed[0] != "solved-token" {
		t.Fatalf("expected the token to be consumed, got %v", consumer.consumed)
	}

	violations, _, err := store.DenialState(ctx, storeKey)
	if err != nil {
		t.Fatalf("DenialState: %v", err)
	}
	if violations != 0 {
		t.Fatalf("expected violations cleared after redemption, got %d", violations)
	}
}

func TestInvalidCaptchaTokenKeepsEscalation(t *testing.T) {
	consumer := &stubCaptchaConsumer{ok: false}
	limiter, store, current := newTestRateLimiter(&recordingSink{}, consumer)
	policy := limiter.LoginPolicy()
	storeKey := policy.Name + ":198.51.100.7"

	ctx := context.Background()
	for i := 0; i < policy.CaptchaThreshold; i++ {
		if _, err := store.RecordDenial(ctx, storeKey, *current, 4*policy.Window); err != nil {
			t.Fatalf("RecordDenial: %v", err)
		}
	}

	decision, err := limiter.Check(ctx, "198.51.100.7", policy, "bogus-token")
	if err != nil {
		t.Fatalf("Check with bogus token: %v", err)
	}
	if decision.Allowed {
		t.Fatal("an unredeemed token must not clear the escalation")
	}
	if decision.Escalation != domain.EscalationCaptcha {
		t.Fatalf("expected captcha escalation, got %s", decision.Escalation)
	}
}

func TestDenialEmitsRateLimitEvent(t *testing.T) {
	sink := &recordingSink{}
	limiter, _, _ := newTestRateLimiter(sink, nil)
	policy := limiter.LoginPolicy()

	ctx := context.Background()
	for i := 0; i <= policy.MaxAttempts; i++ {
		if _, err := limiter.Check(ctx, "198.51.100.7", policy, ""); err != nil {
			t.Fatalf("Check: %v", err)
		}
	}

	if !sink.hasKind(domain.EventKindRateLimitExceeded) {
		t.Fatalf("expected rate limit event, got %v", sink.kinds())
	}
}

func TestRepeatedViolationsFlagSuspicious(t *testing.T) {
	sink := &recordingSink{}
	limiter, store, current := newTestRateLimiter(sink, nil)
	policy := limiter.CaptchaPolicy()
	storeKey := policy.Name + ":client-1"

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		if _, err := store.RecordDenial(ctx, storeKey, *current, 4*policy.Window); err != nil {
			t.Fatalf("RecordDenial: %v", err)
		}
	}

	// Past the 5s delay tier but well inside the forgiveness window.
	*current = current.Add(6 * time.Second)

	var decision domain.RateLimitDecision
	var err error
	for i := 0; i <= policy.MaxAttempts; i++ {
		decision, err = limiter.Check(ctx, "client-1", policy, "")
		if err != nil {
			t.Fatalf("Check: %v", err)
		}
	}

	if decision.Allowed {
		t.Fatal("the final attempt must be denied")
	}
	if !decision.Suspicious {
		t.Fatal("the key must be flagged suspicious")
	}
	if !sink.hasKind(domain.EventKindSuspiciousActivity) {
		t.Fatalf("expected suspicious activity event, got %v", sink.kinds())
	}

	suspicious, err := store.IsSuspicious(ctx, storeKey)
	if err != nil {
		t.Fatalf("IsSuspicious: %v", err)
	}
	if !suspicious {
		t.Fatal("the flag must be persisted")
	}
}

func TestRequestBurstFlagsSuspicious(t *testing.T) {
	sink := &recordingSink{}
	limiter, store, _ := newTestRateLimiter(sink, nil)
	policy := limiter.GeneralPolicy()

	ctx := context.Background()
	var decision domain.RateLimitDecision
	var err error
	for i := 0; i < 21; i++ {
		decision, err = limiter.Check(ctx, "client-9", policy, "")
		if err != nil {
			t.Fatalf("Check %d: %v", i+1, err)
		}
	}

	if !decision.Allowed {
		t.Fatal("a burst under the policy limit must still be served")
	}
	if !decision.Suspicious {
		t.Fatal("a burst past 20 requests in 5 minutes must flag the key")
	}
	if !sink.hasKind(domain.EventKindSuspiciousActivity) {
		t.Fatalf("expected suspicious activity event, got %v", sink.kinds())
	}

	suspicious, err := store.IsSuspicious(ctx, policy.Name+":client-9")
	if err != nil {
		t.Fatalf("IsSuspicious: %v", err)
	}
	if !suspicious {
		t.Fatal("the flag must be persisted")
	}
}

func TestBackendFailureFailsClosedForLogin(t *testing.T) {
	sink := &recordingSink{}
	limiter := NewRateLimiter(testConfig(), failingRateLimitStore{}, nil, sink, zap.NewNop())

	decision, err := limiter.Check(context.Background(), "198.51.100.7", limiter.LoginPolicy(), "")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if decision.Allowed {
		t.Fatal("login traffic must fail closed on a backend outage")
	}
	if decision.RetryAfter <= 0 {
		t.Fatal("fail-closed decision must carry a retry-after hint")
	}
	if !sink.hasKind(domain.EventKindRateLimitBackendDown) {
		t.Fatalf("expected backend error event, got %v", sink.kinds())
	}
}

func TestBackendFailureFailsOpenForGeneralTraffic(t *testing.T) {
	sink := &recordingSink{}
	limiter := NewRateLimiter(testConfig(), failingRateLimitStore{}, nil, sink, zap.NewNop())

	decision, err := limiter.Check(context.Background(), "client-1", limiter.GeneralPolicy(), "")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !decision.Allowed {
		t.Fatal("general traffic must fail open on a backend outage")
	}
	if !sink.hasKind(domain.EventKindRateLimitBackendDown) {
		t.Fatalf("expected backend error event, got %v", sink.kinds())
	}
}

func TestResetClearsEveryPolicy(t *testing.T) {
	limiter, _, _ := newTestRateLimiter(&recordingSink{}, nil)
	policy := limiter.LoginPolicy()

	ctx := context.Background()
	for i := 0; i <= policy.MaxAttempts; i++ {
		if _, err := limiter.Check(ctx, "198.51.100.7", policy, ""); err != nil {
			t.Fatalf("Check: %v", err)
		}
	}

	if err := limiter.Reset(ctx, "198.51.100.7"); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	decision, err := limiter.Check(ctx, "198.51.100.7", policy, "")
	if err != nil {
		t.Fatalf("Check after reset: %v", err)
	}
	if !decision.Allowed {
		t.Fatal("a reset key must be served again")
	}
	if decision.Remaining != policy.MaxAttempts-1 {
		t.Fatalf("expected a fresh window after reset, remaining %d", decision.Remaining)
	}
}

func TestBlockedKeyDeniedAcrossPolicies(t *testing.T) {
	sink := &recordingSink{}
	limiter, _, current := newTestRateLimiter(sink, nil)

	ctx := context.Background()
	until, err := limiter.BlockKey(ctx, "198.51.100.7", "admin-1", "abuse report", time.Hour)
	if err != nil {
		t.Fatalf("BlockKey: %v", err)
	}
	if want := current.Add(time.Hour); !until.Equal(want) {
		t.Fatalf("expected block until %v, got %v", want, until)
	}
	if !sink.hasKind(domain.EventKindIPBlocked) {
		t.Fatalf("expected ip blocked event, got %v", sink.kinds())
	}

	for _, policy := range []domain.RateLimitPolicy{limiter.LoginPolicy(), limiter.GeneralPolicy()} {
		decision, err := limiter.Check(ctx, "198.51.100.7", policy, "")
		if !errors.Is(err, ErrIPBlocked) {
			t.Fatalf("%s: expected ErrIPBlocked, got %v", policy.Name, err)
		}
		if decision.Allowed {
			t.Fatalf("%s: a blocked key must be denied", policy.Name)
		}
		if decision.Escalation != domain.EscalationBlock {
			t.Fatalf("%s: expected block escalation, got %s", policy.Name, decision.Escalation)
		}
		if decision.RetryAfter <= 0 || !decision.ResetAt.Equal(until) {
			t.Fatalf("%s: expected retry metadata up to %v, got %+v", policy.Name, until, decision)
		}
	}

	// Other keys are untouched.
	decision, err := limiter.Check(ctx, "203.0.113.9", limiter.LoginPolicy(), "")
	if err != nil {
		t.Fatalf("Check other key: %v", err)
	}
	if !decision.Allowed {
		t.Fatal("the block must not leak onto other keys")
	}

	// The block lapses on its own.
	*current = current.Add(2 * time.Hour)
	decision, err = limiter.Check(ctx, "198.51.100.7", limiter.LoginPolicy(), "")
	if err != nil {
		t.Fatalf("Check after lapse: %v", err)
	}
	if !decision.Allowed {
		t.Fatal("an expired block must not deny traffic")
	}
}

func TestResetLiftsBlock(t *testing.T) {
	limiter, _, _ := newTestRateLimiter(&recordingSink{}, nil)

	ctx := context.Background()
	if _, err := limiter.BlockKey(ctx, "198.51.100.7", "admin-1", "abuse report", time.Hour); err != nil {
		t.Fatalf("BlockKey: %v", err)
	}
	if err := limiter.Reset(ctx, "198.51.100.7"); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	decision, err := limiter.Check(ctx, "198.51.100.7", limiter.LoginPolicy(), "")
	if err != nil {
		t.Fatalf("Check after reset: %v", err)
	}
	if !decision.Allowed {
		t.Fatal("reset must lift the block")
	}
}
