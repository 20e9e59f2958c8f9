package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const revokedKeyPrefix = "auth:revoked:"

// RevocationCache is a fast-path mirror of the token blacklist. The database
// table remains authoritative; a cache miss falls through to it.
type RevocationCache interface {
	MarkRevoked(ctx context.Context, jti string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// ConnectRedis initializes a Redis client from URL or host:port input.
func ConnectRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	var client *redis.Client
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// RedisRevocationCache stores revoked-token flags with a TTL matching the
// remaining token lifetime.
type RedisRevocationCache struct {
	client redis.Cmdable
}

func NewRedisRevocationCache(client redis.Cmdable) *RedisRevocationCache {
	return &RedisRevocationCache{client: client}
}

func (c *RedisRevocationCache) MarkRevoked(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	return c.client.Set(ctx, revokedKeyPrefix+jti, "1", ttl).Err()
}

func (c *RedisRevocationCache) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := c.client.Exists(ctx, revokedKeyPrefix+jti).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
