package tests

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"ridedispatch/internal/domain"
	"ridedispatch/internal/service"
)

// ──────────────────────────────────────────────
// DRIVER LOCATION UPDATE EDGE CASES
// ──────────────────────────────────────────────

func TestDriverLocationUpdate_IndexesAvailableDriver(t *testing.T) {
	t.Parallel()
	h := NewHarness(t, FastDispatchConfig(), nil)
	h.OnlineDriver(t, "driver-1", north(100))

	applied, err := h.DriverSvc.UpdateDriverLocation(context.Background(), service.LocationUpdate{
		DriverID:    "driver-1",
		Location:    north(700),
		HeadingDeg:  90,
		SpeedMps:    11,
		TimestampMs: time.Now().Add(time.Second).UnixMilli(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !applied {
		t.Fatal("expected ping to be applied")
	}

	e, ok := h.Index.Get("driver-1")
	if !ok {
		t.Fatal("expected driver in index")
	}
	if e.Location != north(700) {
		t.Errorf("expected index to follow the ping, got %+v", e.Location)
	}
	d, _ := h.Drivers.Get(context.Background(), "driver-1")
	if d.HeadingDeg != 90 || d.SpeedMps != 11 {
		t.Errorf("expected heading and speed stored, got %.0f/%.0f", d.HeadingDeg, d.SpeedMps)
	}
}

func TestDriverLocationUpdate_OfflineDriverNotIndexed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := NewHarness(t, FastDispatchConfig(), nil)
	if _, err := h.DriverSvc.RegisterDriver(ctx, "driver-1", domain.VehicleClassEconomy); err != nil {
		t.Fatalf("register: %v", err)
	}

	applied, err := h.DriverSvc.UpdateDriverLocation(ctx, service.LocationUpdate{DriverID: "driver-1", Location: north(100)})
	if err != nil || !applied {
		t.Fatalf("expected ping applied, got applied=%v err=%v", applied, err)
	}
	if _, ok := h.Index.Get("driver-1"); ok {
		t.Error("offline driver must not be indexed")
	}
}

func TestDriverLocationUpdate_StalePingDropped(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := NewHarness(t, FastDispatchConfig(), nil)
	h.OnlineDriver(t, "driver-1", north(100))

	now := time.Now()
	if _, err := h.DriverSvc.UpdateDriverLocation(ctx, service.LocationUpdate{
		DriverID: "driver-1", Location: north(500), TimestampMs: now.Add(time.Minute).UnixMilli(),
	}); err != nil {
		t.Fatalf("fresh ping: %v", err)
	}

	applied, err := h.DriverSvc.UpdateDriverLocation(ctx, service.LocationUpdate{
		DriverID: "driver-1", Location: north(9000), TimestampMs: now.UnixMilli(),
	})
	if err != nil {
		t.Fatalf("stale ping must not error, got %v", err)
	}
	if applied {
		t.Error("expected stale ping to be dropped")
	}
	if e, _ := h.Index.Get("driver-1"); e.Location != north(500) {
		t.Errorf("expected index to keep the newer position, got %+v", e.Location)
	}
}

func TestDriverLocationUpdate_InvalidInputRejected(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		driverID string
		loc      domain.Point
		wantErr  error
	}{
		{"missing driver id", "", testPickup, service.ErrInvalidDriverID},
		{"latitude too low", "driver-1", domain.Point{Lat: -90.1, Lng: 0}, service.ErrInvalidLocation},
		{"latitude too high", "driver-1", domain.Point{Lat: 90.1, Lng: 0}, service.ErrInvalidLocation},
		{"longitude too high", "driver-1", domain.Point{Lat: 0, Lng: 180.5}, service.ErrInvalidLocation},
		{"infinite", "driver-1", domain.Point{Lat: math.Inf(1), Lng: 0}, service.ErrInvalidLocation},
		{"unknown driver", "ghost", testPickup, service.ErrUnknownDriver},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := NewHarness(t, FastDispatchConfig(), nil)
			h.OnlineDriver(t, "driver-1", north(100))

			applied, err := h.DriverSvc.UpdateDriverLocation(context.Background(), service.LocationUpdate{
				DriverID: tc.driverID,
				Location: tc.loc,
			})
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("expected %v, got %v", tc.wantErr, err)
			}
			if applied {
				t.Error("rejected ping must not be applied")
			}
		})
	}
}

func TestDriverLocationUpdate_BoundaryCoordinatesAccepted(t *testing.T) {
	t.Parallel()
	h := NewHarness(t, FastDispatchConfig(), nil)
	h.OnlineDriver(t, "driver-1", north(100))

	base := time.Now()
	for i, p := range []domain.Point{{Lat: 90, Lng: 180}, {Lat: -90, Lng: -180}, {Lat: 0, Lng: 0}} {
		applied, err := h.DriverSvc.UpdateDriverLocation(context.Background(), service.LocationUpdate{
			DriverID:    "driver-1",
			Location:    p,
			TimestampMs: base.Add(time.Duration(i+1) * time.Second).UnixMilli(),
		})
		if err != nil || !applied {
			t.Errorf("expected %+v accepted, got applied=%v err=%v", p, applied, err)
		}
	}
}

func TestDriverLocationUpdate_HighFrequencyUpdates_NoError(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := NewHarness(t, FastDispatchConfig(), nil)
	h.OnlineDriver(t, "driver-1", north(100))

	base := time.Now().Add(time.Second)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.DriverSvc.UpdateDriverLocation(ctx, service.LocationUpdate{
				DriverID:    "driver-1",
				Location:    north(float64(100 + i)),
				TimestampMs: base.Add(time.Duration(i) * time.Millisecond).UnixMilli(),
			})
			if err != nil {
				t.Errorf("update %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	// The newest ping wins regardless of arrival order.
	d, _ := h.Drivers.Get(ctx, "driver-1")
	if d.Location != north(199) {
		t.Errorf("expected the last ping to win, got %+v", d.Location)
	}
	if e, ok := h.Index.Get("driver-1"); !ok || e.Location != north(199) {
		t.Errorf("expected the index to hold the last ping, got %+v", e.Location)
	}
}
