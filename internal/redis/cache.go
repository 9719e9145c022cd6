package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const etaCachePrefix = "cache:eta:"

// CacheStore caches routing results in Redis so every replica shares them.
type CacheStore struct {
	client *redis.Client
}

// NewCacheStore creates a new CacheStore.
func NewCacheStore(client *redis.Client) *CacheStore {
	return &CacheStore{client: client}
}

// CachedETA represents a cached route duration.
type CachedETA struct {
	Seconds    float64   `json:"seconds"`
	ComputedAt time.Time `json:"computed_at"`
}

// GetETA retrieves an ETA from cache. A miss returns false and no error.
func (s *CacheStore) GetETA(ctx context.Context, key string) (time.Duration, bool, error) {
	data, err := s.client.Get(ctx, etaCachePrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, err
	}

	var cached CachedETA
	if err := json.Unmarshal(data, &cached); err != nil {
		return 0, false, err
	}
	return time.Duration(cached.Seconds * float64(time.Second)), true, nil
}

// SetETA stores an ETA in cache.
func (s *CacheStore) SetETA(ctx context.Context, key string, eta time.Duration, ttl time.Duration) error {
	data, err := json.Marshal(CachedETA{Seconds: eta.Seconds(), ComputedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	return s.client.Set(ctx, etaCachePrefix+key, data, ttl).Err()
}
