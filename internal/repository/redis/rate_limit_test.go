package redis

import (
	"context"
	"testing"
	"time"
)

func TestRateLimitStore_IncrementAnchorsWindow(t *testing.T) {
	client, _ := newTestRedis(t)
	store := NewRateLimitStore(client, "rate_limit")

	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	window := time.Minute

	count, start, err := store.IncrementAttempt(ctx, "login:198.51.100.7", at, window)
	if err != nil {
		t.Fatalf("IncrementAttempt returned error: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected count 1, got %d", count)
	}
	if !start.Equal(at) {
		t.Fatalf("expected window anchored at %v, got %v", at, start)
	}

	later := at.Add(10 * time.Second)
	count, start, err = store.IncrementAttempt(ctx, "login:198.51.100.7", later, window)
	if err != nil {
		t.Fatalf("IncrementAttempt returned error: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected count 2, got %d", count)
	}
	if !start.Equal(at) {
		t.Fatalf("expected the original anchor %v, got %v", at, start)
	}
}

func TestRateLimitStore_WindowLapses(t *testing.T) {
	client, server := newTestRedis(t)
	store := NewRateLimitStore(client, "rate_limit")

	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if _, _, err := store.IncrementAttempt(ctx, "login:client-1", at, time.Minute); err != nil {
			t.Fatalf("IncrementAttempt returned error: %v", err)
		}
	}

	server.FastForward(2 * time.Minute)

	nextWindow := at.Add(2 * time.Minute)
	count, start, err := store.IncrementAttempt(ctx, "login:client-1", nextWindow, time.Minute)
	if err != nil {
		t.Fatalf("IncrementAttempt returned error: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected a fresh window, got count %d", count)
	}
	if !start.Equal(nextWindow) {
		t.Fatalf("expected new anchor %v, got %v", nextWindow, start)
	}
}

func TestRateLimitStore_WindowTTLSetWithFirstIncrement(t *testing.T) {
	client, server := newTestRedis(t)
	store := NewRateLimitStore(client, "rate_limit")

	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if _, _, err := store.IncrementAttempt(ctx, "login:client-1", at, time.Minute); err != nil {
		t.Fatalf("IncrementAttempt returned error: %v", err)
	}

	key := "rate_limit:attempts:login:client-1"
	if ttl := server.TTL(key); ttl != time.Minute {
		t.Fatalf("expected the first increment to carry a %v ttl, got %v", time.Minute, ttl)
	}

	// Later increments must not slide the window.
	server.FastForward(30 * time.Second)
	if _, _, err := store.IncrementAttempt(ctx, "login:client-1", at.Add(30*time.Second), time.Minute); err != nil {
		t.Fatalf("IncrementAttempt returned error: %v", err)
	}
	if ttl := server.TTL(key); ttl != 30*time.Second {
		t.Fatalf("expected the original window ttl to hold at %v, got %v", 30*time.Second, ttl)
	}
}

func TestRateLimitStore_DenialState(t *testing.T) {
	client, _ := newTestRedis(t)
	store := NewRateLimitStore(client, "rate_limit")

	ctx := context.Background()
	first := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	second := first.Add(30 * time.Second)

	if _, err := store.RecordDenial(ctx, "login:client-1", first, 2*time.Minute); err != nil {
		t.Fatalf("RecordDenial returned error: %v", err)
	}
	count, err := store.RecordDenial(ctx, "login:client-1", second, 2*time.Minute)
	if err != nil {
		t.Fatalf("RecordDenial returned error: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 violations, got %d", count)
	}

	violations, last, err := store.DenialState(ctx, "login:client-1")
	if err != nil {
		t.Fatalf("DenialState returned error: %v", err)
	}
	if violations != 2 {
		t.Fatalf("expected 2 violations, got %d", violations)
	}
	if !last.Equal(second) {
		t.Fatalf("expected last denial %v, got %v", second, last)
	}
}

func TestRateLimitStore_DenialStateMiss(t *testing.T) {
	client, _ := newTestRedis(t)
	store := NewRateLimitStore(client, "rate_limit")

	violations, last, err := store.DenialState(context.Background(), "login:missing")
	if err != nil {
		t.Fatalf("DenialState returned error: %v", err)
	}
	if violations != 0 || !last.IsZero() {
		t.Fatalf("expected empty state, got %d at %v", violations, last)
	}
}

func TestRateLimitStore_ViolationsLapse(t *testing.T) {
	client, server := newTestRedis(t)
	store := NewRateLimitStore(client, "rate_limit")

	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if _, err := store.RecordDenial(ctx, "login:client-1", at, 2*time.Minute); err != nil {
		t.Fatalf("RecordDenial returned error: %v", err)
	}

	server.FastForward(3 * time.Minute)

	violations, _, err := store.DenialState(ctx, "login:client-1")
	if err != nil {
		t.Fatalf("DenialState returned error: %v", err)
	}
	if violations != 0 {
		t.Fatalf("expected violations to lapse with the ttl, got %d", violations)
	}
}

func TestRateLimitStore_ClearDenials(t *testing.T) {
	client, _ := newTestRedis(t)
	store := NewRateLimitStore(client, "rate_limit")

	ctx := context.Background()
	at := time.Now().UTC()

	if _, err := store.RecordDenial(ctx, "login:client-1", at, 2*time.Minute); err != nil {
		t.Fatalf("RecordDenial returned error: %v", err)
	}
	if err := store.ClearDenials(ctx, "login:client-1"); err != nil {
		t.Fatalf("ClearDenials returned error: %v", err)
	}

	violations, _, err := store.DenialState(ctx, "login:client-1")
	if err != nil {
		t.Fatalf("DenialState returned error: %v", err)
	}
	if violations != 0 {
		t.Fatalf("expected cleared violations, got %d", violations)
	}
}

func TestRateLimitStore_SuspiciousFlag(t *testing.T) {
	client, server := newTestRedis(t)
	store := NewRateLimitStore(client, "rate_limit")

	ctx := context.Background()
	if err := store.MarkSuspicious(ctx, "login:client-1", "repeated rate limit violations", time.Hour); err != nil {
		t.Fatalf("MarkSuspicious returned error: %v", err)
	}

	suspicious, err := store.IsSuspicious(ctx, "login:client-1")
	if err != nil {
		t.Fatalf("IsSuspicious returned error: %v", err)
	}
	if !suspicious {
		t.Fatalf("expected the key to be flagged")
	}

	server.FastForward(2 * time.Hour)

	suspicious, err = store.IsSuspicious(ctx, "login:client-1")
	if err != nil {
		t.Fatalf("IsSuspicious returned error: %v", err)
	}
	if suspicious {
		t.Fatalf("expected the flag to lapse with the ttl")
	}
}

func TestRateLimitStore_BlockLapsesWithTTL(t *testing.T) {
	client, server := newTestRedis(t)
	store := NewRateLimitStore(client, "rate_limit")

	ctx := context.Background()
	deadline := time.Now().UTC().Add(time.Hour)
	if err := store.BlockKey(ctx, "198.51.100.7", deadline); err != nil {
		t.Fatalf("BlockKey returned error: %v", err)
	}

	until, err := store.BlockedUntil(ctx, "198.51.100.7")
	if err != nil {
		t.Fatalf("BlockedUntil returned error: %v", err)
	}
	if !until.Equal(deadline) {
		t.Fatalf("expected block until %v, got %v", deadline, until)
	}

	server.FastForward(2 * time.Hour)

	until, err = store.BlockedUntil(ctx, "198.51.100.7")
	if err != nil {
		t.Fatalf("BlockedUntil returned error: %v", err)
	}
	if !until.IsZero() {
		t.Fatalf("expected the block to lapse with the ttl, got %v", until)
	}
}

func TestRateLimitStore_BlockRejectsPastDeadline(t *testing.T) {
	client, _ := newTestRedis(t)
	store := NewRateLimitStore(client, "rate_limit")

	if err := store.BlockKey(context.Background(), "198.51.100.7", time.Now().UTC().Add(-time.Minute)); err == nil {
		t.Fatal("expected an error for a deadline in the past")
	}
}

func TestRateLimitStore_Reset(t *testing.T) {
	client, _ := newTestRedis(t)
	store := NewRateLimitStore(client, "rate_limit")

	ctx := context.Background()
	at := time.Now().UTC()

	if _, _, err := store.IncrementAttempt(ctx, "login:client-1", at, time.Minute); err != nil {
		t.Fatalf("IncrementAttempt returned error: %v", err)
	}
	if _, err := store.RecordDenial(ctx, "login:client-1", at, 2*time.Minute); err != nil {
		t.Fatalf("RecordDenial returned error: %v", err)
	}
	if err := store.MarkSuspicious(ctx, "login:client-1", "test", time.Hour); err != nil {
		t.Fatalf("MarkSuspicious returned error: %v", err)
	}

	if err := store.Reset(ctx, "login:client-1"); err != nil {
		t.Fatalf("Reset returned error: %v", err)
	}

	count, _, err := store.IncrementAttempt(ctx, "login:client-1", at, time.Minute)
	if err != nil {
		t.Fatalf("IncrementAttempt returned error: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected a fresh counter after reset, got %d", count)
	}

	violations, _, err := store.DenialState(ctx, "login:client-1")
	if err != nil {
		t.Fatalf("DenialState returned error: %v", err)
	}
	if violations != 0 {
		t.Fatalf("expected no violations after reset, got %d", violations)
	}

	suspicious, err := store.IsSuspicious(ctx, "login:client-1")
	if err != nil {
		t.Fatalf("IsSuspicious returned error: %v", err)
	}
	if suspicious {
		t.Fatalf("expected no suspicious flag after reset")
	}
}
