package alerts

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DedupTTL keeps claim keys alive comfortably past the session they belong
// to; 48h handles timezone edge cases around the session boundary.
const DedupTTL = 48 * time.Hour

// DedupStore records at-most-once claims for alert keys. Claim must be
// atomic: of two concurrent callers with the same key, exactly one wins.
type DedupStore interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// ===== REDIS STORE =====

// RedisDedupStore backs claims with Redis SETNX so deduplication holds
// across processes. When Redis fails it falls back to an in-process store,
// degrading the guarantee to per-process rather than dropping it entirely.
type RedisDedupStore struct {
	client   *redis.Client
	fallback *MemoryDedupStore
}

// NewRedisDedupStore creates a Redis-backed dedup store.
func NewRedisDedupStore(client *redis.Client) *RedisDedupStore {
	return &RedisDedupStore{
		client:   client,
		fallback: NewMemoryDedupStore(),
	}
}

// Claim attempts to take the key. Returns true exactly once per key per TTL.
func (s *RedisDedupStore) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return s.fallback.Claim(ctx, key, ttl)
	}
	return ok, nil
}

// ===== IN-MEMORY STORE =====

// MemoryDedupStore is a process-local dedup store. Used directly when Redis
// is not configured and as the degraded-mode fallback when it is.
type MemoryDedupStore struct {
	mu     sync.Mutex
	claims map[string]time.Time
}

// NewMemoryDedupStore creates an in-memory dedup store.
func NewMemoryDedupStore() *MemoryDedupStore {
	return &MemoryDedupStore{
		claims: make(map[string]time.Time),
	}
}

// Claim attempts to take the key, expiring stale entries as it goes.
func (s *MemoryDedupStore) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if expiry, exists := s.claims[key]; exists && now.Before(expiry) {
		return false, nil
	}

	// Opportunistic sweep of expired entries.
	for k, expiry := range s.claims {
		if now.After(expiry) {
			delete(s.claims, k)
		}
	}

	s.claims[key] = now.Add(ttl)
	return true, nil
}
