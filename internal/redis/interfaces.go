package redis

import (
	"context"
	"time"

	"ridedispatch/internal/eta"
	"ridedispatch/internal/geo"
)

// LeaseStore defines the interface for named, self-expiring leases.
type LeaseStore interface {
	TryAcquire(ctx context.Context, name string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, name string) error
}

// Ensure concrete types implement interfaces.
var (
	_ geo.Index  = (*GeoIndex)(nil)
	_ LeaseStore = (*LockStore)(nil)
	_ eta.Cache  = (*CacheStore)(nil)
)
