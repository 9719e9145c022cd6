package repository

import (
	"context"
	"time"

	"ridedispatch/internal/domain"
)

// DriverStore is the authoritative record of driver state.
type DriverStore interface {
	// Register adds a new driver in OFFLINE state.
	Register(ctx context.Context, driver *domain.Driver) error

	// Get retrieves a driver by ID.
	Get(ctx context.Context, id string) (*domain.Driver, error)

	// Transition moves a driver from one state to another atomically.
	// Returns ErrStateConflict when the current state is not from or the
	// edge is not part of the driver lifecycle. offerID is stored while the
	// driver is OFFERED and cleared otherwise.
	Transition(ctx context.Context, id string, from, to domain.DriverState, offerID string) (*domain.Driver, error)

	// UpdateLocation records a location ping. Pings older than the stored
	// one are dropped and reported with applied=false.
	UpdateLocation(ctx context.Context, id string, loc domain.Point, headingDeg, speedMps float64, at time.Time) (driver *domain.Driver, applied bool, err error)

	// List retrieves all drivers.
	List(ctx context.Context) ([]*domain.Driver, error)
}
