package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore remembers which quiz chains completed recently, so a
// re-delivered request continues idempotently instead of re-running.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(addr string) *RedisStore {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	return &RedisStore{client: rdb}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// MarkSolved sets a key with a TTL to prevent re-solving a finished chain.
func (s *RedisStore) MarkSolved(ctx context.Context, url string, ttl time.Duration) error {
	key := fmt.Sprintf("solved:%s", url)
	return s.client.Set(ctx, key, "1", ttl).Err()
}

// IsRecentlySolved checks whether a chain completed within the TTL.
func (s *RedisStore) IsRecentlySolved(ctx context.Context, url string) (bool, error) {
	key := fmt.Sprintf("solved:%s", url)
	val, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return val == 1, nil
}
