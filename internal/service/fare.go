package service

import (
	"context"
	"math"

	"ridedispatch/internal/domain"
	"ridedispatch/internal/geo"
	"ridedispatch/internal/repository"
)

const (
	fareBase          = 3.0
	farePerKm         = 1.5
	farePerMinute     = 0.25
	minutesPerKm      = 2.5
	surgeSupplyProbe  = 200
	surgeFailOpenSize = 10
)

// FareEstimate is a price quote for a trip.
type FareEstimate struct {
	DistanceKm      float64 `json:"distance_km"`
	DurationMinutes float64 `json:"duration_minutes"`
	BaseFare        float64 `json:"base_fare"`
	SurgeMultiplier float64 `json:"surge_multiplier"`
	Total           float64 `json:"total"`
}

// SurgeConfig contains surge pricing configuration.
type SurgeConfig struct {
	RadiusKm       float64 // Radius to check for supply
	LowSurgeRatio  float64 // Demand/supply ratio for 1.25x surge
	MedSurgeRatio  float64 // Demand/supply ratio for 1.5x surge
	HighSurgeRatio float64 // Demand/supply ratio for MaxSurge
	MaxSurge       float64 // Maximum surge multiplier
}

// DefaultSurgeConfig returns the default surge configuration.
func DefaultSurgeConfig() SurgeConfig {
	return SurgeConfig{
		RadiusKm:       5.0,
		LowSurgeRatio:  1.2,
		MedSurgeRatio:  1.5,
		HighSurgeRatio: 2.0,
		MaxSurge:       2.0,
	}
}

// FareCalculator quotes fares. Supply is the number of available drivers
// near the pickup; demand is the number of requests waiting for dispatch.
type FareCalculator struct {
	index geo.Index
	queue repository.RequestQueue
	surge SurgeConfig
}

// NewFareCalculator creates a new FareCalculator. Both index and queue may
// be nil, which disables surge.
func NewFareCalculator(index geo.Index, queue repository.RequestQueue, surge SurgeConfig) *FareCalculator {
	return &FareCalculator{index: index, queue: queue, surge: surge}
}

// Estimate quotes the trip from pickup to dropoff.
func (f *FareCalculator) Estimate(ctx context.Context, pickup, dropoff domain.Point) FareEstimate {
	km := geo.Haversine(pickup, dropoff) / 1000
	minutes := km * minutesPerKm
	base := fareBase + farePerKm*km + farePerMinute*minutes
	multiplier := f.multiplier(ctx, pickup)

	return FareEstimate{
		DistanceKm:      roundTo(km, 2),
		DurationMinutes: roundTo(minutes, 1),
		BaseFare:        roundTo(base, 2),
		SurgeMultiplier: multiplier,
		Total:           roundTo(base*multiplier, 2),
	}
}

func (f *FareCalculator) multiplier(ctx context.Context, at domain.Point) float64 {
	if f.index == nil || f.queue == nil {
		return 1.0
	}
	supply := f.countDriversInArea(ctx, at)
	demand, err := f.queue.Depth(ctx)
	if err != nil {
		return 1.0
	}
	return calculateSurgeMultiplier(supply, demand, f.surge)
}

// countDriversInArea returns the number of available drivers within the
// surge radius.
func (f *FareCalculator) countDriversInArea(ctx context.Context, at domain.Point) int {
	found, err := f.index.QueryNearest(ctx, geo.Query{
		Center:       at,
		K:            surgeSupplyProbe,
		RadiusMeters: f.surge.RadiusKm * 1000,
	})
	if err != nil {
		// Fail open so an index outage never prices riders up.
		return surgeFailOpenSize
	}
	return len(found)
}

// calculateSurgeMultiplier determines the multiplier based on supply/demand ratio.
func calculateSurgeMultiplier(supply, demand int, config SurgeConfig) float64 {
	if supply == 0 {
		if demand > 0 {
			return config.MaxSurge
		}
		return 1.0
	}

	ratio := float64(demand) / float64(supply)

	switch {
	case ratio >= config.HighSurgeRatio:
		return config.MaxSurge
	case ratio >= config.MedSurgeRatio:
		return 1.5
	case ratio >= config.LowSurgeRatio:
		return 1.25
	default:
		return 1.0
	}
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
