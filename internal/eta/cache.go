package eta

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"ridedispatch/internal/domain"
	"ridedispatch/internal/logging"
	"ridedispatch/internal/observability"
)

// Estimator matches service.ETAEstimator.
type Estimator interface {
	EstimateETA(ctx context.Context, origin, dest domain.Point) (time.Duration, error)
}

// Cache stores ETAs by key with a TTL. A miss is (0, false, nil).
type Cache interface {
	GetETA(ctx context.Context, key string) (time.Duration, bool, error)
	SetETA(ctx context.Context, key string, eta time.Duration, ttl time.Duration) error
}

// cellPrecision rounds coordinates to about 100 m so nearby lookups share
// an entry.
const cellPrecision = 1e3

// CachedEstimator memoizes another estimator.
type CachedEstimator struct {
	next   Estimator
	cache  Cache
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedEstimator wraps next with cache.
func NewCachedEstimator(next Estimator, cache Cache, ttl time.Duration, logger *slog.Logger) *CachedEstimator {
	if logger == nil {
		logger = logging.Discard()
	}
	return &CachedEstimator{next: next, cache: cache, ttl: ttl, logger: logger}
}

// EstimateETA serves from the cache when possible. Cache errors are logged
// and fall through to the wrapped estimator.
func (c *CachedEstimator) EstimateETA(ctx context.Context, origin, dest domain.Point) (time.Duration, error) {
	key := cacheKey(origin, dest)

	d, ok, err := c.cache.GetETA(ctx, key)
	if err != nil {
		c.logger.Warn("eta cache read failed", "error", err)
	}
	if ok {
		observability.ETALookupsTotal.WithLabelValues("cache", "hit").Inc()
		return d, nil
	}
	observability.ETALookupsTotal.WithLabelValues("cache", "miss").Inc()

	d, err = c.next.EstimateETA(ctx, origin, dest)
	if err != nil {
		return 0, err
	}
	if err := c.cache.SetETA(ctx, key, d, c.ttl); err != nil {
		c.logger.Warn("eta cache write failed", "error", err)
	}
	return d, nil
}

func cacheKey(origin, dest domain.Point) string {
	return fmt.Sprintf("%.3f,%.3f:%.3f,%.3f", snap(origin.Lat), snap(origin.Lng), snap(dest.Lat), snap(dest.Lng))
}

func snap(v float64) float64 {
	return math.Round(v*cellPrecision) / cellPrecision
}

type memoryEntry struct {
	eta     time.Duration
	expires time.Time
}

// MemoryCache is a process-local Cache on a bounded LRU. The LRU drops
// entries after its own TTL; a shorter TTL passed to SetETA is honored on
// read.
type MemoryCache struct {
	lru *expirable.LRU[string, memoryEntry]
	now func() time.Time
}

// NewMemoryCache creates a cache holding at most maxEntries keys, none
// longer than ttl. A non-positive ttl leaves expiry to SetETA.
func NewMemoryCache(maxEntries int, ttl time.Duration) *MemoryCache {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	return &MemoryCache{
		lru: expirable.NewLRU[string, memoryEntry](maxEntries, nil, ttl),
		now: time.Now,
	}
}

func (m *MemoryCache) GetETA(_ context.Context, key string) (time.Duration, bool, error) {
	e, ok := m.lru.Get(key)
	if !ok {
		return 0, false, nil
	}
	if !m.now().Before(e.expires) {
		m.lru.Remove(key)
		return 0, false, nil
	}
	return e.eta, true, nil
}

func (m *MemoryCache) SetETA(_ context.Context, key string, eta time.Duration, ttl time.Duration) error {
	m.lru.Add(key, memoryEntry{eta: eta, expires: m.now().Add(ttl)})
	return nil
}

// Len returns the number of stored entries.
func (m *MemoryCache) Len() int {
	return m.lru.Len()
}
