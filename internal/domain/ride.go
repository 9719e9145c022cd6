package domain

import "time"

// RequestState represents the current state of a ride request.
type RequestState string

const (
	RequestStatePending   RequestState = "PENDING"
	RequestStateOffered   RequestState = "OFFERED"
	RequestStateMatched   RequestState = "MATCHED"
	RequestStateExpired   RequestState = "EXPIRED"
	RequestStateCancelled RequestState = "CANCELLED"
)

// IsTerminal reports whether no further dispatch work happens in this state.
func (s RequestState) IsTerminal() bool {
	return s == RequestStateMatched || s == RequestStateExpired || s == RequestStateCancelled
}

// RideRequest is a rider's request awaiting a driver.
type RideRequest struct {
	ID           string
	RiderID      string
	Pickup       Point
	Dropoff      Point
	VehicleClass VehicleClass
	CreatedAt    time.Time
	Seq          int64 // arrival order, kept across requeues
	State        RequestState

	// Dispatch bookkeeping.
	ClaimedUntil    time.Time // zero when no worker holds the request
	NotBefore       time.Time // backoff gate for the next attempt
	Attempts        int
	ExcludedDrivers []string // drivers that declined during the current round
	OfferID         string
	DriverID        string
	UpdatedAt       time.Time
}

// Deadline returns the instant after which the request expires.
func (r *RideRequest) Deadline(maxWait time.Duration) time.Time {
	return r.CreatedAt.Add(maxWait)
}

// Claimed reports whether a worker holds an unexpired claim on the request.
func (r *RideRequest) Claimed(now time.Time) bool {
	return !r.ClaimedUntil.IsZero() && now.Before(r.ClaimedUntil)
}

// Excludes reports whether driverID was excluded for the current round.
func (r *RideRequest) Excludes(driverID string) bool {
	for _, id := range r.ExcludedDrivers {
		if id == driverID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the request.
func (r *RideRequest) Clone() *RideRequest {
	c := *r
	c.ExcludedDrivers = append([]string(nil), r.ExcludedDrivers...)
	return &c
}
