package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"
)

const defaultRevocationPrefix = "revoked_chain"

// ChainRevocationCache caches revoked chain ids so access-token validation
// can deny without hitting Postgres. Entries live no longer than the access
// token TTL; absence means nothing, Postgres stays authoritative.
type ChainRevocationCache struct {
	client *red.Client
	prefix string
}

// NewChainRevocationCache wires a Redis client into a revocation cache.
func NewChainRevocationCache(client *red.Client, keyPrefix string) *ChainRevocationCache {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultRevocationPrefix
	}
	return &ChainRevocationCache{client: client, prefix: prefix}
}

// MarkChainRevoked stores the chain id with the supplied TTL.
func (c *ChainRevocationCache) MarkChainRevoked(ctx context.Context, chainID string, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("ttl must be positive")
	}
	key := c.key(chainID)
	if key == "" {
		return errors.New("chain id must not be empty")
	}

	if err := c.client.Set(ctx, key, "1", ttl).Err(); err != nil {
		return fmt.Errorf("redis set revoked chain: %w", err)
	}
	return nil
}

// IsChainRevoked reports whether the chain id is cached as revoked.
func (c *ChainRevocationCache) IsChainRevoked(ctx context.Context, chainID string) (bool, error) {
	key := c.key(chainID)
	if key == "" {
		return false, errors.New("chain id must not be empty")
	}

	if err := c.client.Get(ctx, key).Err(); err != nil {
		if errors.Is(err, red.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("redis get revoked chain: %w", err)
	}
	return true, nil
}

func (c *ChainRevocationCache) key(chainID string) string {
	trimmed := strings.TrimSpace(chainID)
	if trimmed == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s", c.prefix, trimmed)
}
