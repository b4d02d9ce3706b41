package nonce

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"attest/internal/platform/redis"
	"attest/pkg/sentinel"
)

const keyPrefix = "attest:nonce:"

// RedisStore persists nonce records in Redis so all service instances see
// the same live nonce per token identity. TTL eviction is delegated to Redis.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Put(ctx context.Context, tokenIdentity string, rec Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal nonce record: %w", err)
	}
	if err := s.client.Set(ctx, keyPrefix+tokenIdentity, payload, rec.TTL).Err(); err != nil {
		return fmt.Errorf("store nonce: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, tokenIdentity string) (Record, error) {
	payload, err := s.client.Get(ctx, keyPrefix+tokenIdentity).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return Record{}, sentinel.ErrNotFound
		}
		return Record{}, fmt.Errorf("load nonce: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return Record{}, fmt.Errorf("unmarshal nonce record: %w", err)
	}
	return rec, nil
}
