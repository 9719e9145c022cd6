package service

import (
	"context"
	"fmt"
	"time"

	"ridedispatch/internal/domain"
	"ridedispatch/internal/geo"
)

// Bounds of the nearby drivers listing.
const (
	DefaultNearbyRadiusMeters = 3000.0
	MaxNearbyRadiusMeters     = 20000.0
	DefaultNearbyLimit        = 10
	MaxNearbyLimit            = 50
)

// ErrInvalidRadius is returned for a negative or oversized search radius.
var ErrInvalidRadius = fmt.Errorf("%w: invalid search radius", ErrValidation)

// NearbyQuery selects the available drivers shown around a rider.
type NearbyQuery struct {
	Center       domain.Point
	RadiusMeters float64             // zero means DefaultNearbyRadiusMeters
	VehicleClass domain.VehicleClass // empty matches any class
	Limit        int                 // zero means DefaultNearbyLimit; capped at MaxNearbyLimit
}

// NearbyDriver is an available driver close to a point.
type NearbyDriver struct {
	DriverID       string
	Location       domain.Point
	VehicleClass   domain.VehicleClass
	DistanceMeters float64
	ETA            time.Duration // straight-line estimate at city speed
}

// NearbyDrivers lists available drivers around a point, nearest first.
// Drivers holding an offer or on a trip are not listed.
func (s *DriverService) NearbyDrivers(ctx context.Context, q NearbyQuery) ([]NearbyDriver, error) {
	if !q.Center.Valid() {
		return nil, ErrInvalidLocation
	}
	if q.VehicleClass != "" && !q.VehicleClass.Valid() {
		return nil, ErrInvalidVehicleClass
	}
	if q.RadiusMeters < 0 || q.RadiusMeters > MaxNearbyRadiusMeters {
		return nil, ErrInvalidRadius
	}
	if q.RadiusMeters == 0 {
		q.RadiusMeters = DefaultNearbyRadiusMeters
	}
	if q.Limit <= 0 {
		q.Limit = DefaultNearbyLimit
	}
	if q.Limit > MaxNearbyLimit {
		q.Limit = MaxNearbyLimit
	}

	found, err := s.projector.Nearby(ctx, geo.Query{
		Center:       q.Center,
		K:            q.Limit,
		RadiusMeters: q.RadiusMeters,
		VehicleClass: q.VehicleClass,
	})
	if err != nil {
		return nil, fmt.Errorf("query nearby drivers: %w", err)
	}

	out := make([]NearbyDriver, 0, len(found))
	for _, f := range found {
		out = append(out, NearbyDriver{
			DriverID:       f.DriverID,
			Location:       f.Location,
			VehicleClass:   f.VehicleClass,
			DistanceMeters: f.DistanceMeters,
			ETA:            time.Duration(f.DistanceMeters / DefaultAssumedSpeedMps * float64(time.Second)),
		})
	}
	return out, nil
}
