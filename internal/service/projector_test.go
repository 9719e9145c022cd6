package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"ridedispatch/internal/domain"
	"ridedispatch/internal/geo"
	"ridedispatch/internal/repository/memory"
)

func newProjectorFixture(t *testing.T) (*memory.DriverStore, *geo.GridIndex, *IndexProjector) {
	t.Helper()
	drivers := memory.NewDriverStore()
	idx := geo.NewGridIndex(0)
	return drivers, idx, NewIndexProjector(drivers, idx, nil)
}

func registerAt(t *testing.T, drivers *memory.DriverStore, id string, loc domain.Point) {
	t.Helper()
	ctx := context.Background()
	if err := drivers.Register(ctx, &domain.Driver{ID: id, VehicleClass: domain.VehicleClassEconomy}); err != nil {
		t.Fatalf("register %s: %v", id, err)
	}
	if _, _, err := drivers.UpdateLocation(ctx, id, loc, 0, 0, time.Now()); err != nil {
		t.Fatalf("locate %s: %v", id, err)
	}
}

func TestIndexProjector_FollowsDriverState(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	drivers, idx, projector := newProjectorFixture(t)
	registerAt(t, drivers, "d-1", north(100))

	steps := []struct {
		from, to      domain.DriverState
		wantIndexed   bool
		wantAvailable bool
	}{
		{domain.DriverStateOffline, domain.DriverStateAvailable, true, true},
		{domain.DriverStateAvailable, domain.DriverStateOffered, true, false},
		{domain.DriverStateOffered, domain.DriverStateOnTrip, false, false},
		{domain.DriverStateOnTrip, domain.DriverStateAvailable, true, true},
		{domain.DriverStateAvailable, domain.DriverStateOffline, false, false},
	}

	for _, s := range steps {
		if _, err := drivers.Transition(ctx, "d-1", s.from, s.to, "offer-1"); err != nil {
			t.Fatalf("transition %s->%s: %v", s.from, s.to, err)
		}
		if err := projector.Sync(ctx, "d-1"); err != nil {
			t.Fatalf("sync: %v", err)
		}
		e, ok := idx.Get("d-1")
		if ok != s.wantIndexed {
			t.Fatalf("after %s: expected indexed=%v, got %v", s.to, s.wantIndexed, ok)
		}
		if ok && e.Available != s.wantAvailable {
			t.Errorf("after %s: expected available=%v, got %v", s.to, s.wantAvailable, e.Available)
		}
	}
}

func TestIndexProjector_OfflineDriverIgnoresLocation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	drivers, idx, projector := newProjectorFixture(t)
	registerAt(t, drivers, "d-1", north(100))

	if err := projector.Sync(ctx, "d-1"); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if _, ok := idx.Get("d-1"); ok {
		t.Error("offline driver must not be indexed")
	}
}

func TestIndexProjector_UnknownDriverRemoved(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	_, idx, projector := newProjectorFixture(t)

	if _, err := idx.Upsert(ctx, geo.Entry{DriverID: "ghost", Location: north(10), Available: true, UpdatedAt: time.Now()}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := projector.Sync(ctx, "ghost"); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if _, ok := idx.Get("ghost"); ok {
		t.Error("expected unknown driver to be removed from the index")
	}
}

func TestIndexProjector_ConcurrentSyncsConverge(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	drivers, idx, projector := newProjectorFixture(t)
	registerAt(t, drivers, "d-1", north(100))
	if _, err := drivers.Transition(ctx, "d-1", domain.DriverStateOffline, domain.DriverStateAvailable, ""); err != nil {
		t.Fatalf("transition: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			at := time.Now().Add(time.Duration(i) * time.Millisecond)
			_, _, _ = drivers.UpdateLocation(ctx, "d-1", north(float64(100+i)), 0, 0, at)
			projector.SyncQuietly(ctx, "d-1")
		}(i)
	}
	wg.Wait()

	// Going off the road while pings are in flight must leave no entry.
	if _, err := drivers.Transition(ctx, "d-1", domain.DriverStateAvailable, domain.DriverStateOffline, ""); err != nil {
		t.Fatalf("transition: %v", err)
	}
	projector.SyncQuietly(ctx, "d-1")

	if _, ok := idx.Get("d-1"); ok {
		t.Error("expected offline driver to be absent after concurrent syncs")
	}
}

func TestIndexProjector_Rebuild(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	drivers, idx, projector := newProjectorFixture(t)
	registerAt(t, drivers, "d-on", north(100))
	registerAt(t, drivers, "d-off", north(200))
	if _, err := drivers.Transition(ctx, "d-on", domain.DriverStateOffline, domain.DriverStateAvailable, ""); err != nil {
		t.Fatalf("transition: %v", err)
	}

	if err := projector.Rebuild(ctx); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if n, _ := idx.Len(ctx); n != 1 {
		t.Errorf("expected 1 indexed driver, got %d", n)
	}
	if _, ok := idx.Get("d-on"); !ok {
		t.Error("expected d-on to be indexed")
	}
}
