package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Realm-101/Unbuilt-sub002/internal/core/port"
)

type window struct {
	start     time.Time
	duration  time.Duration
	count     int
	expiresAt time.Time
}

type denial struct {
	count     int
	last      time.Time
	expiresAt time.Time
}

type suspicion struct {
	reason    string
	expiresAt time.Time
}

// RateLimitStore is an in-process port.RateLimitStore for single-node
// deployments and tests. Semantics mirror the Redis store: windows are
// anchored at the first attempt and state lapses by TTL.
type RateLimitStore struct {
	mu         sync.Mutex
	windows    map[string]*window
	denials    map[string]*denial
	suspicions map[string]*suspicion
	blocks     map[string]time.Time
	now        func() time.Time
}

// NewRateLimitStore constructs an empty in-memory store.
func NewRateLimitStore() *RateLimitStore {
	return &RateLimitStore{
		windows:    make(map[string]*window),
		denials:    make(map[string]*denial),
		suspicions: make(map[string]*suspicion),
		blocks:     make(map[string]time.Time),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// IncrementAttempt records one attempt, anchoring a new window when none is
// active.
func (s *RateLimitStore) IncrementAttempt(_ context.Context, key string, at time.Time, windowDur time.Duration) (int, time.Time, error) {
	if windowDur <= 0 {
		return 0, time.Time{}, errors.New("window must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok || !at.Before(w.expiresAt) {
		w = &window{start: at, duration: windowDur, expiresAt: at.Add(windowDur)}
		s.windows[key] = w
	}
	w.count++
	return w.count, w.start, nil
}

// RecordDenial increments the violation counter and stamps the denial time.
func (s *RateLimitStore) RecordDenial(_ context.Context, key string, at time.Time, ttl time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.denials[key]
	if !ok || (!d.expiresAt.IsZero() && !at.Before(d.expiresAt)) {
		d = &denial{}
		s.denials[key] = d
	}
	d.count++
	d.last = at
	if ttl > 0 {
		d.expiresAt = at.Add(ttl)
	}
	return d.count, nil
}

// DenialState returns the violation count and last denial time.
func (s *RateLimitStore) DenialState(_ context.Context, key string) (int, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.denials[key]
	if !ok {
		return 0, time.Time{}, nil
	}
	if !d.expiresAt.IsZero() && !s.now().Before(d.expiresAt) {
		delete(s.denials, key)
		return 0, time.Time{}, nil
	}
	return d.count, d.last, nil
}

// ClearDenials forgives accumulated violations for the key.
func (s *RateLimitStore) ClearDenials(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.denials, key)
	return nil
}

// MarkSuspicious flags the key for review.
func (s *RateLimitStore) MarkSuspicious(_ context.Context, key, reason string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	flag := &suspicion{reason: reason}
	if ttl > 0 {
		flag.expiresAt = s.now().Add(ttl)
	}
	s.suspicions[key] = flag
	return nil
}

// IsSuspicious reports whether the key carries a live suspicious flag.
func (s *RateLimitStore) IsSuspicious(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	flag, ok := s.suspicions[key]
	if !ok {
		return false, nil
	}
	if !flag.expiresAt.IsZero() && !s.now().Before(flag.expiresAt) {
		delete(s.suspicions, key)
		return false, nil
	}
	return true, nil
}

// BlockKey bars the key until the given instant.
func (s *RateLimitStore) BlockKey(_ context.Context, key string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[key] = until
	return nil
}

// BlockedUntil returns when the block on the key lapses, zero when none holds.
func (s *RateLimitStore) BlockedUntil(_ context.Context, key string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	until, ok := s.blocks[key]
	if !ok {
		return time.Time{}, nil
	}
	if !s.now().Before(until) {
		delete(s.blocks, key)
		return time.Time{}, nil
	}
	return until, nil
}

// Reset clears every limiter entry for the key.
func (s *RateLimitStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.windows, key)
	delete(s.denials, key)
	delete(s.suspicions, key)
	delete(s.blocks, key)
	return nil
}

// WithClock overrides the store clock for deterministic tests.
func (s *RateLimitStore) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

var _ port.RateLimitStore = (*RateLimitStore)(nil)
