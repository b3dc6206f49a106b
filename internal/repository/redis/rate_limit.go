package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/Realm-101/Unbuilt-sub002/internal/core/port"
)

const defaultRateLimitPrefix = "rate_limit"

// RateLimitStore keeps fixed-window counters in Redis so limits hold across
// service instances. One hash per key holds the attempt count and the window
// anchor; the hash TTL is the window, so expiry starts the next window.
type RateLimitStore struct {
	client *red.Client
	prefix string
}

// NewRateLimitStore wires a Redis client into a rate-limit store.
func NewRateLimitStore(client *red.Client, keyPrefix string) *RateLimitStore {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultRateLimitPrefix
	}
	return &RateLimitStore{client: client, prefix: prefix}
}

// IncrementAttempt records one attempt. The increment, the window anchor and
// the TTL land in one MULTI/EXEC so a counter can never outlive its window:
// HSETNX and EXPIRE NX only take effect for the caller that opens the window.
func (s *RateLimitStore) IncrementAttempt(ctx context.Context, key string, at time.Time, window time.Duration) (int, time.Time, error) {
	if window <= 0 {
		return 0, time.Time{}, errors.New("window must be positive")
	}

	attemptsKey := s.attemptsKey(key)

	var (
		count    *red.IntCmd
		anchored *red.BoolCmd
	)
	_, err := s.client.TxPipelined(ctx, func(pipe red.Pipeliner) error {
		count = pipe.HIncrBy(ctx, attemptsKey, "count", 1)
		anchored = pipe.HSetNX(ctx, attemptsKey, "start", at.UnixNano())
		pipe.ExpireNX(ctx, attemptsKey, window)
		return nil
	})
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis increment attempt: %w", err)
	}

	if anchored.Val() {
		return int(count.Val()), at, nil
	}

	startStr, err := s.client.HGet(ctx, attemptsKey, "start").Result()
	if err != nil {
		if errors.Is(err, red.Nil) {
			// Window expired between EXEC and the read.
			return int(count.Val()), at, nil
		}
		return 0, time.Time{}, fmt.Errorf("redis hget window start: %w", err)
	}

	nanos, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("parse window start: %w", err)
	}
	return int(count.Val()), time.Unix(0, nanos).UTC(), nil
}

// RecordDenial increments the violation counter and stamps the denial time.
// Every denial refreshes the TTL; the three writes share one MULTI/EXEC so
// the counter always carries an expiry.
func (s *RateLimitStore) RecordDenial(ctx context.Context, key string, at time.Time, ttl time.Duration) (int, error) {
	violationsKey := s.violationsKey(key)

	var count *red.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe red.Pipeliner) error {
		count = pipe.HIncrBy(ctx, violationsKey, "count", 1)
		pipe.HSet(ctx, violationsKey, "last", at.UnixNano())
		if ttl > 0 {
			pipe.Expire(ctx, violationsKey, ttl)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis record denial: %w", err)
	}
	return int(count.Val()), nil
}

// DenialState returns the violation count and last denial time.
func (s *RateLimitStore) DenialState(ctx context.Context, key string) (int, time.Time, error) {
	values, err := s.client.HGetAll(ctx, s.violationsKey(key)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis hgetall violations: %w", err)
	}
	if len(values) == 0 {
		return 0, time.Time{}, nil
	}

	count, err := strconv.Atoi(values["count"])
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("parse violation count: %w", err)
	}

	var last time.Time
	if raw, ok := values["last"]; ok {
		nanos, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, time.Time{}, fmt.Errorf("parse last denial: %w", err)
		}
		last = time.Unix(0, nanos).UTC()
	}

	return count, last, nil
}

// ClearDenials forgives accumulated violations for the key.
func (s *RateLimitStore) ClearDenials(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.violationsKey(key)).Err(); err != nil {
		return fmt.Errorf("redis del violations: %w", err)
	}
	return nil
}

// MarkSuspicious flags the key for review.
func (s *RateLimitStore) MarkSuspicious(ctx context.Context, key, reason string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.suspiciousKey(key), reason, ttl).Err(); err != nil {
		return fmt.Errorf("redis set suspicious: %w", err)
	}
	return nil
}

// IsSuspicious reports whether the key carries a live suspicious flag.
func (s *RateLimitStore) IsSuspicious(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.suspiciousKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists suspicious: %w", err)
	}
	return n > 0, nil
}

// BlockKey bars the key until the given instant. The value carries the
// deadline so callers can report it; the TTL removes the block on its own.
func (s *RateLimitStore) BlockKey(ctx context.Context, key string, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		return errors.New("block deadline must be in the future")
	}
	if err := s.client.Set(ctx, s.blockKey(key), until.UnixNano(), ttl).Err(); err != nil {
		return fmt.Errorf("redis set block: %w", err)
	}
	return nil
}

// BlockedUntil returns when the block on the key lapses, zero when none holds.
func (s *RateLimitStore) BlockedUntil(ctx context.Context, key string) (time.Time, error) {
	raw, err := s.client.Get(ctx, s.blockKey(key)).Result()
	if err != nil {
		if errors.Is(err, red.Nil) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("redis get block: %w", err)
	}

	nanos, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse block deadline: %w", err)
	}
	return time.Unix(0, nanos).UTC(), nil
}

// Reset clears every limiter key for the identifier.
func (s *RateLimitStore) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.attemptsKey(key), s.violationsKey(key), s.suspiciousKey(key), s.blockKey(key)).Err(); err != nil {
		return fmt.Errorf("redis del rate limit keys: %w", err)
	}
	return nil
}

func (s *RateLimitStore) attemptsKey(key string) string {
	return fmt.Sprintf("%s:attempts:%s", s.prefix, key)
}

func (s *RateLimitStore) violationsKey(key string) string {
	return fmt.Sprintf("%s:violations:%s", s.prefix, key)
}

func (s *RateLimitStore) suspiciousKey(key string) string {
	return fmt.Sprintf("%s:suspicious:%s", s.prefix, key)
}

func (s *RateLimitStore) blockKey(key string) string {
	return fmt.Sprintf("%s:blocked:%s", s.prefix, key)
}

var _ port.RateLimitStore = (*RateLimitStore)(nil)
