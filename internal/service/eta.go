package service

import (
	"context"
	"time"

	"ridedispatch/internal/domain"
	"ridedispatch/internal/geo"
)

// DefaultAssumedSpeedMps is the city speed used when no routing engine is
// available, about 30 km/h.
const DefaultAssumedSpeedMps = 8.33

// ETAEstimator estimates the driving time between two points.
type ETAEstimator interface {
	EstimateETA(ctx context.Context, origin, dest domain.Point) (time.Duration, error)
}

// StraightLineEstimator derives an ETA from great-circle distance at a fixed speed.
type StraightLineEstimator struct {
	SpeedMps float64
}

// EstimateETA returns distance divided by speed.
func (e StraightLineEstimator) EstimateETA(_ context.Context, origin, dest domain.Point) (time.Duration, error) {
	return straightLineETA(geo.Haversine(origin, dest), e.SpeedMps), nil
}

func straightLineETA(meters, speedMps float64) time.Duration {
	if speedMps <= 0 {
		speedMps = DefaultAssumedSpeedMps
	}
	return time.Duration(meters / speedMps * float64(time.Second))
}
