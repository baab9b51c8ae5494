package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/PiloTracer/tools-dashboard-sub002/internal/service"
)

const revocationKeyPrefix = "revoked:"

// RedisRevocationCache implements service.RevocationCache backed by Redis.
// Entries carry a TTL matching the token's own lifetime, so the cache never
// outgrows the set of tokens that could still be presented.
type RedisRevocationCache struct {
	client redis.UniversalClient
}

var _ service.RevocationCache = (*RedisRevocationCache)(nil)

// NewRedisRevocationCache constructs a Redis-backed revocation cache.
func NewRedisRevocationCache(client redis.UniversalClient) *RedisRevocationCache {
	return &RedisRevocationCache{client: client}
}

// MarkRevoked records the token identifier as revoked with a TTL.
func (c *RedisRevocationCache) MarkRevoked(ctx context.Context, tokenID string, ttl time.Duration) error {
	if err := c.client.Set(ctx, revocationKeyPrefix+tokenID, "1", ttl).Err(); err != nil {
		return fmt.Errorf("cache revocation: %w", err)
	}
	return nil
}

// IsRevoked reports whether the identifier is cached as revoked.
func (c *RedisRevocationCache) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	if err := c.client.Get(ctx, revocationKeyPrefix+tokenID).Err(); err != nil {
		if err == redis.Nil {
			return false, nil
		}
		return false, fmt.Errorf("lookup cached revocation: %w", err)
	}
	return true, nil
}
