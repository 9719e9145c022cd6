package service

import (
	"context"
	"math"
	"testing"

	"ridedispatch/internal/domain"
	"ridedispatch/internal/geo"
	"ridedispatch/internal/repository/memory"
)

func TestCalculateSurgeMultiplier(t *testing.T) {
	t.Parallel()

	cfg := DefaultSurgeConfig()
	tests := []struct {
		name           string
		supply, demand int
		want           float64
	}{
		{"no supply no demand", 0, 0, 1.0},
		{"no supply with demand", 0, 3, cfg.MaxSurge},
		{"balanced", 10, 10, 1.0},
		{"low surge", 10, 12, 1.25},
		{"medium surge", 10, 15, 1.5},
		{"high surge", 10, 20, cfg.MaxSurge},
		{"extreme demand capped", 1, 50, cfg.MaxSurge},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := calculateSurgeMultiplier(tt.supply, tt.demand, cfg); got != tt.want {
				t.Errorf("expected %.2f, got %.2f", tt.want, got)
			}
		})
	}
}

func TestFareCalculator_Estimate_NoSurge(t *testing.T) {
	t.Parallel()

	calc := NewFareCalculator(nil, nil, DefaultSurgeConfig())
	// About 10 km due north.
	est := calc.Estimate(context.Background(), testPickup, north(10000))

	if math.Abs(est.DistanceKm-10) > 0.01 {
		t.Errorf("expected ~10 km, got %.2f", est.DistanceKm)
	}
	if math.Abs(est.DurationMinutes-25) > 0.1 {
		t.Errorf("expected ~25 minutes, got %.1f", est.DurationMinutes)
	}
	// 3 + 1.5*10 + 0.25*25
	if math.Abs(est.BaseFare-24.25) > 0.02 {
		t.Errorf("expected base fare ~24.25, got %.2f", est.BaseFare)
	}
	if est.SurgeMultiplier != 1.0 || est.Total != est.BaseFare {
		t.Errorf("expected no surge, got multiplier %.2f total %.2f", est.SurgeMultiplier, est.Total)
	}
}

func TestFareCalculator_Estimate_SurgesWhenQueueOutnumbersDrivers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	idx := seedIndex(t, geo.Entry{DriverID: "d-1", Location: north(200), Available: true})
	queue := memory.NewRequestQueue()
	for _, rider := range []string{"rider-1", "rider-2", "rider-3"} {
		req := &domain.RideRequest{ID: "req-" + rider, RiderID: rider, Pickup: testPickup, Dropoff: north(3000)}
		if err := queue.Enqueue(ctx, req); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	calc := NewFareCalculator(idx, queue, DefaultSurgeConfig())
	est := calc.Estimate(ctx, testPickup, north(3000))

	if est.SurgeMultiplier != 2.0 {
		t.Fatalf("expected 2.0x surge for 3 requests and 1 driver, got %.2f", est.SurgeMultiplier)
	}
	if math.Abs(est.Total-est.BaseFare*2) > 0.011 {
		t.Errorf("expected total to double base fare, got base %.2f total %.2f", est.BaseFare, est.Total)
	}
}

func TestFareCalculator_Estimate_SamePoint(t *testing.T) {
	t.Parallel()

	est := NewFareCalculator(nil, nil, DefaultSurgeConfig()).Estimate(context.Background(), testPickup, testPickup)
	if est.Total != fareBase {
		t.Errorf("expected base fare only, got %.2f", est.Total)
	}
}
