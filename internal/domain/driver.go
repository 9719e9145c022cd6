package domain

import "time"

// DriverState represents the lifecycle state of a driver.
type DriverState string

const (
	DriverStateOffline   DriverState = "OFFLINE"
	DriverStateAvailable DriverState = "AVAILABLE"
	DriverStateOffered   DriverState = "OFFERED"
	DriverStateOnTrip    DriverState = "ON_TRIP"
)

// Indexed reports whether a driver in this state belongs in the geospatial index.
func (s DriverState) Indexed() bool {
	return s == DriverStateAvailable || s == DriverStateOffered
}

// CanTransition reports whether the driver lifecycle allows moving from one state to another.
func CanTransition(from, to DriverState) bool {
	if to == DriverStateOffline {
		return from != DriverStateOffline
	}
	switch from {
	case DriverStateOffline:
		return to == DriverStateAvailable
	case DriverStateAvailable:
		return to == DriverStateOffered
	case DriverStateOffered:
		return to == DriverStateAvailable || to == DriverStateOnTrip
	case DriverStateOnTrip:
		return to == DriverStateAvailable
	}
	return false
}

// Driver represents a driver in the dispatch core.
type Driver struct {
	ID                string
	VehicleClass      VehicleClass
	State             DriverState
	Location          Point
	HasLocation       bool
	HeadingDeg        float64
	SpeedMps          float64
	LocationUpdatedAt time.Time
	OfferID           string // pending offer while OFFERED
	UpdatedAt         time.Time
}
