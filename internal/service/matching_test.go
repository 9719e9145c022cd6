package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"ridedispatch/internal/domain"
	"ridedispatch/internal/geo"
)

var testPickup = domain.Point{Lat: 40.7128, Lng: -74.0060}

// north returns a point roughly meters north of the test pickup.
func north(meters float64) domain.Point {
	return domain.Point{Lat: testPickup.Lat + meters/111195, Lng: testPickup.Lng}
}

type fixedETA struct {
	byOrigin map[domain.Point]time.Duration
	err      error
	calls    int32
}

func (f *fixedETA) EstimateETA(_ context.Context, origin, _ domain.Point) (time.Duration, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return 0, f.err
	}
	if d, ok := f.byOrigin[origin]; ok {
		return d, nil
	}
	return 0, errors.New("no route")
}

func seedIndex(t *testing.T, entries ...geo.Entry) *geo.GridIndex {
	t.Helper()
	idx := geo.NewGridIndex(0)
	for _, e := range entries {
		if e.UpdatedAt.IsZero() {
			e.UpdatedAt = time.Now()
		}
		if e.VehicleClass == "" {
			e.VehicleClass = domain.VehicleClassEconomy
		}
		if _, err := idx.Upsert(context.Background(), e); err != nil {
			t.Fatalf("upsert %s: %v", e.DriverID, err)
		}
	}
	return idx
}

func candidateIDs(cs []Candidate) string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.DriverID
	}
	return fmt.Sprint(out)
}

func TestMatchingEngine_RanksByETA(t *testing.T) {
	t.Parallel()

	near, far := north(300), north(1500)
	idx := seedIndex(t,
		geo.Entry{DriverID: "d-near", Location: near, Available: true},
		geo.Entry{DriverID: "d-far", Location: far, Available: true},
	)
	// The nearer driver is stuck behind a river.
	eta := &fixedETA{byOrigin: map[domain.Point]time.Duration{
		near: 9 * time.Minute,
		far:  4 * time.Minute,
	}}
	engine := NewMatchingEngine(idx, eta, DefaultMatchingConfig(), nil)

	got, err := engine.Rank(context.Background(), &domain.RideRequest{ID: "r-1", Pickup: testPickup}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if candidateIDs(got) != "[d-far d-near]" {
		t.Errorf("expected [d-far d-near], got %s", candidateIDs(got))
	}
	if got[0].ETA != 4*time.Minute {
		t.Errorf("expected ETA 4m, got %v", got[0].ETA)
	}
}

func TestMatchingEngine_TiesBrokenByDriverID(t *testing.T) {
	t.Parallel()

	p := north(800)
	idx := seedIndex(t,
		geo.Entry{DriverID: "d-b", Location: p, Available: true},
		geo.Entry{DriverID: "d-a", Location: p, Available: true},
	)
	engine := NewMatchingEngine(idx, nil, DefaultMatchingConfig(), nil)

	got, err := engine.Rank(context.Background(), &domain.RideRequest{ID: "r-1", Pickup: testPickup}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if candidateIDs(got) != "[d-a d-b]" {
		t.Errorf("expected [d-a d-b], got %s", candidateIDs(got))
	}
}

func TestMatchingEngine_FallsBackToStraightLine(t *testing.T) {
	t.Parallel()

	idx := seedIndex(t, geo.Entry{DriverID: "d-1", Location: north(833), Available: true})
	eta := &fixedETA{err: errors.New("routing down")}
	engine := NewMatchingEngine(idx, eta, MatchingConfig{AssumedSpeedMps: 8.33}, nil)

	got, err := engine.Rank(context.Background(), &domain.RideRequest{ID: "r-1", Pickup: testPickup}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(got))
	}
	// 833 m at 8.33 m/s is about 100 s.
	if got[0].ETA < 98*time.Second || got[0].ETA > 102*time.Second {
		t.Errorf("expected ETA near 100s, got %v", got[0].ETA)
	}
	if atomic.LoadInt32(&eta.calls) != 1 {
		t.Errorf("expected one estimator call, got %d", eta.calls)
	}
}

func TestMatchingEngine_SkipsExcludedDrivers(t *testing.T) {
	t.Parallel()

	idx := seedIndex(t,
		geo.Entry{DriverID: "d-1", Location: north(100), Available: true},
		geo.Entry{DriverID: "d-2", Location: north(200), Available: true},
		geo.Entry{DriverID: "d-3", Location: north(300), Available: true},
	)
	engine := NewMatchingEngine(idx, nil, MatchingConfig{MaxCandidates: 2}, nil)

	got, err := engine.Rank(context.Background(), &domain.RideRequest{ID: "r-1", Pickup: testPickup}, []string{"d-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Exclusions do not shrink the candidate list below K.
	if candidateIDs(got) != "[d-2 d-3]" {
		t.Errorf("expected [d-2 d-3], got %s", candidateIDs(got))
	}
}

func TestMatchingEngine_NoDriversAvailable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		entries []geo.Entry
		exclude []string
		class   domain.VehicleClass
	}{
		{name: "empty index"},
		{
			name:    "only offered drivers",
			entries: []geo.Entry{{DriverID: "d-1", Location: north(100), Available: false}},
		},
		{
			name:    "outside radius",
			entries: []geo.Entry{{DriverID: "d-1", Location: north(8000), Available: true}},
		},
		{
			name:    "all excluded",
			entries: []geo.Entry{{DriverID: "d-1", Location: north(100), Available: true}},
			exclude: []string{"d-1"},
		},
		{
			name:    "wrong class",
			entries: []geo.Entry{{DriverID: "d-1", Location: north(100), Available: true}},
			class:   domain.VehicleClassXL,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			engine := NewMatchingEngine(seedIndex(t, tt.entries...), nil, DefaultMatchingConfig(), nil)
			_, err := engine.Rank(context.Background(), &domain.RideRequest{ID: "r-1", Pickup: testPickup, VehicleClass: tt.class}, tt.exclude)
			if !errors.Is(err, ErrNoDriversAvailable) {
				t.Errorf("expected ErrNoDriversAvailable, got %v", err)
			}
		})
	}
}

func TestMatchingEngine_FiltersByVehicleClass(t *testing.T) {
	t.Parallel()

	idx := seedIndex(t,
		geo.Entry{DriverID: "d-eco", Location: north(100), Available: true, VehicleClass: domain.VehicleClassEconomy},
		geo.Entry{DriverID: "d-xl", Location: north(900), Available: true, VehicleClass: domain.VehicleClassXL},
	)
	engine := NewMatchingEngine(idx, nil, DefaultMatchingConfig(), nil)

	got, err := engine.Rank(context.Background(), &domain.RideRequest{ID: "r-1", Pickup: testPickup, VehicleClass: domain.VehicleClassXL}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if candidateIDs(got) != "[d-xl]" {
		t.Errorf("expected [d-xl], got %s", candidateIDs(got))
	}
}
