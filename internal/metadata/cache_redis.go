package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"attest/internal/credential"
	"attest/internal/platform/redis"
)

const cacheKeyPrefix = "attest:metadata:scope:"

// RedisCache shares resolved configurations across service instances.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, scope string) (credential.Metadata, bool, error) {
	payload, err := c.client.Get(ctx, cacheKeyPrefix+scope).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return credential.Metadata{}, false, nil
		}
		return credential.Metadata{}, false, fmt.Errorf("read metadata cache: %w", err)
	}
	var meta credential.Metadata
	if err := json.Unmarshal(payload, &meta); err != nil {
		return credential.Metadata{}, false, fmt.Errorf("unmarshal cached metadata: %w", err)
	}
	return meta, true, nil
}

func (c *RedisCache) Set(ctx context.Context, scope string, meta credential.Metadata, ttl time.Duration) error {
	payload, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if err := c.client.Set(ctx, cacheKeyPrefix+scope, payload, ttl).Err(); err != nil {
		return fmt.Errorf("write metadata cache: %w", err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, scope string) error {
	if err := c.client.Del(ctx, cacheKeyPrefix+scope).Err(); err != nil {
		return fmt.Errorf("drop metadata cache entry: %w", err)
	}
	return nil
}
