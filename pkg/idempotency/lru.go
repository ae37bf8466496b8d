package idempotency

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LRUStore is the in-process fallback when redis is not configured.
// Dedup then only covers a single worker instance and is lost on
// restart, which is acceptable for at-least-once delivery.
type LRUStore struct {
	cache *lru.Cache[string, time.Time]
	ttl   time.Duration
}

func NewLRUStore(size int, ttl time.Duration) (*LRUStore, error) {
	c, err := lru.New[string, time.Time](size)
	if err != nil {
		return nil, err
	}
	return &LRUStore{cache: c, ttl: ttl}, nil
}

func (s *LRUStore) Seen(_ context.Context, key string) (bool, error) {
	if at, ok := s.cache.Get(key); ok && time.Since(at) < s.ttl {
		return true, nil
	}
	s.cache.Add(key, time.Now())
	return false, nil
}

func (s *LRUStore) Forget(_ context.Context, key string) error {
	s.cache.Remove(key)
	return nil
}
