package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"ridedispatch/internal/domain"
	"ridedispatch/internal/geo"
)

// newTestClient connects to REDIS_TEST_ADDR and flushes the selected
// database. Tests are skipped when it is unset.
func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestGeoIndex_QueryAndStaleUpsert(t *testing.T) {
	client := newTestClient(t)
	idx := NewGeoIndex(client)
	ctx := context.Background()
	now := time.Now()
	pickup := domain.Point{Lat: 37.0, Lng: -122.0}

	entries := []geo.Entry{
		{DriverID: "near", Location: domain.Point{Lat: 37.0045, Lng: -122.0}, VehicleClass: domain.VehicleClassEconomy, Available: true, UpdatedAt: now},
		{DriverID: "far", Location: domain.Point{Lat: 37.018, Lng: -122.0}, VehicleClass: domain.VehicleClassEconomy, Available: true, UpdatedAt: now},
		{DriverID: "busy", Location: domain.Point{Lat: 37.001, Lng: -122.0}, VehicleClass: domain.VehicleClassEconomy, Available: false, UpdatedAt: now},
	}
	for _, e := range entries {
		if _, err := idx.Upsert(ctx, e); err != nil {
			t.Fatalf("upsert %s: %v", e.DriverID, err)
		}
	}

	got, err := idx.QueryNearest(ctx, geo.Query{Center: pickup, K: 5, RadiusMeters: 5000})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 2 || got[0].DriverID != "near" || got[1].DriverID != "far" {
		t.Fatalf("expected [near far], got %+v", got)
	}

	if want := time.UnixMilli(now.UnixMilli()); !got[0].UpdatedAt.Equal(want) {
		t.Errorf("expected updated_at %v, got %v", want, got[0].UpdatedAt)
	}

	// A ping carrying the stored timestamp is applied; an older one is not.
	same := entries[0]
	same.Location = domain.Point{Lat: 37.0046, Lng: -122.0}
	if applied, err := idx.Upsert(ctx, same); err != nil || !applied {
		t.Fatalf("expected same-timestamp upsert applied, applied=%v err=%v", applied, err)
	}

	applied, err := idx.Upsert(ctx, geo.Entry{DriverID: "near", Location: domain.Point{Lat: 38, Lng: -121}, Available: true, UpdatedAt: now.Add(-time.Millisecond)})
	if err != nil {
		t.Fatalf("stale upsert: %v", err)
	}
	if applied {
		t.Error("expected stale upsert to be dropped")
	}

	if err := idx.Remove(ctx, "near"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if n, _ := idx.Len(ctx); n != 2 {
		t.Errorf("expected 2 indexed drivers, got %d", n)
	}
}

func TestLockStore_SingleHolder(t *testing.T) {
	client := newTestClient(t)
	a := NewLockStore(client)
	b := NewLockStore(client)
	ctx := context.Background()

	ok, err := a.TryAcquire(ctx, "sweep", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected a to acquire, ok=%v err=%v", ok, err)
	}
	if ok, _ := b.TryAcquire(ctx, "sweep", time.Minute); ok {
		t.Fatal("expected b to be refused while a holds the lease")
	}

	// b cannot release a's lease.
	_ = b.Release(ctx, "sweep")
	if ok, _ := b.TryAcquire(ctx, "sweep", time.Minute); ok {
		t.Fatal("expected lease to survive a foreign release")
	}

	if err := a.Release(ctx, "sweep"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, _ := b.TryAcquire(ctx, "sweep", time.Minute); !ok {
		t.Error("expected b to acquire after release")
	}
}

func TestCacheStore_ETARoundTrip(t *testing.T) {
	client := newTestClient(t)
	cache := NewCacheStore(client)
	ctx := context.Background()

	if _, ok, err := cache.GetETA(ctx, "a:b"); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
	if err := cache.SetETA(ctx, "a:b", 95*time.Second, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, ok, err := cache.GetETA(ctx, "a:b")
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if got != 95*time.Second {
		t.Errorf("expected 95s, got %v", got)
	}
}
