package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore marks processed event ids with SetNX so a bounded-time
// dedup window survives worker restarts and is shared across worker
// instances.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func Key(queue, eventID string) string {
	return fmt.Sprintf("idem:%s:%s", queue, eventID)
}

// Seen marks the key and reports whether it was already marked.
func (s *RedisStore) Seen(ctx context.Context, key string) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, key, "1", s.ttl).Result()
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// Forget removes the mark, so a failed delivery can be retried without
// the dedup window suppressing it.
func (s *RedisStore) Forget(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}
