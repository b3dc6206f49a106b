package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/Realm-101/Unbuilt-sub002/internal/core/port"
)

const defaultCaptchaPrefix = "captcha_token"

// CaptchaTokenStore holds hashed captcha verification tokens. GETDEL makes
// redemption single-use even under concurrent callers.
type CaptchaTokenStore struct {
	client *red.Client
	prefix string
}

// NewCaptchaTokenStore wires a Redis client into a captcha token store.
func NewCaptchaTokenStore(client *red.Client, keyPrefix string) *CaptchaTokenStore {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultCaptchaPrefix
	}
	return &CaptchaTokenStore{client: client, prefix: prefix}
}

// Store saves a verification token hash with the challenge it came from.
func (s *CaptchaTokenStore) Store(ctx context.Context, token, challengeID string, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("ttl must be positive")
	}
	key := s.key(token)
	if key == "" {
		return errors.New("token must not be empty")
	}

	if err := s.client.Set(ctx, key, challengeID, ttl).Err(); err != nil {
		return fmt.Errorf("redis set captcha token: %w", err)
	}
	return nil
}

// Consume redeems a token; exactly one caller observes true.
func (s *CaptchaTokenStore) Consume(ctx context.Context, token string) (bool, error) {
	key := s.key(token)
	if key == "" {
		return false, nil
	}

	if err := s.client.GetDel(ctx, key).Err(); err != nil {
		if errors.Is(err, red.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("redis getdel captcha token: %w", err)
	}
	return true, nil
}

func (s *CaptchaTokenStore) key(token string) string {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s", s.prefix, trimmed)
}

var _ port.CaptchaTokenStore = (*CaptchaTokenStore)(nil)
