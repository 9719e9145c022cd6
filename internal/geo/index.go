// Package geo maintains the positions of dispatchable drivers and answers
// nearest-neighbor queries around a pickup point.
package geo

import (
	"context"
	"sort"
	"time"

	"ridedispatch/internal/domain"
)

// Entry is the indexed projection of one driver.
type Entry struct {
	DriverID     string
	Location     domain.Point
	VehicleClass domain.VehicleClass
	Available    bool // false while OFFERED: indexed but never a candidate
	UpdatedAt    time.Time
}

// Query describes a nearest-neighbor search.
type Query struct {
	Center       domain.Point
	K            int
	RadiusMeters float64
	VehicleClass domain.VehicleClass // empty matches any class
}

// Candidate is a driver returned by QueryNearest.
type Candidate struct {
	DriverID       string
	Location       domain.Point
	VehicleClass   domain.VehicleClass
	DistanceMeters float64
	UpdatedAt      time.Time
}

// Index is the geospatial index contract shared by the in-memory grid and
// the Redis implementation.
//
// QueryNearest orders candidates by ascending distance. Equal distances are
// broken by the older UpdatedAt first, then by driver id, so results are
// deterministic.
type Index interface {
	Upsert(ctx context.Context, e Entry) (bool, error)
	Remove(ctx context.Context, driverID string) error
	QueryNearest(ctx context.Context, q Query) ([]Candidate, error)
	Len(ctx context.Context) (int, error)
}

// SortCandidates applies the index ordering in place.
func SortCandidates(cs []Candidate) {
	sort.Slice(cs, func(i, j int) bool {
		return candidateLess(cs[i], cs[j])
	})
}

func candidateLess(a, b Candidate) bool {
	if a.DistanceMeters != b.DistanceMeters {
		return a.DistanceMeters < b.DistanceMeters
	}
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.Before(b.UpdatedAt)
	}
	return a.DriverID < b.DriverID
}
