package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ridedispatch/internal/domain"
	"ridedispatch/internal/repository"
)

// DriverStore is a PostgreSQL implementation of repository.DriverStore.
type DriverStore struct {
	q Querier
}

// NewDriverStore creates a new PostgreSQL driver store.
func NewDriverStore(db *sql.DB) *DriverStore {
	return &DriverStore{q: db}
}

// NewDriverStoreWithTx creates a driver store using a transaction.
func NewDriverStoreWithTx(tx *sql.Tx) *DriverStore {
	return &DriverStore{q: tx}
}

var _ repository.DriverStore = (*DriverStore)(nil)

const driverColumns = `id, vehicle_class, state, lat, lng, has_location, heading_deg, speed_mps, location_updated_at, offer_id, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDriver(row rowScanner) (*domain.Driver, error) {
	var d domain.Driver
	var locUpdatedAt sql.NullTime
	var offerID sql.NullString
	err := row.Scan(
		&d.ID,
		&d.VehicleClass,
		&d.State,
		&d.Location.Lat,
		&d.Location.Lng,
		&d.HasLocation,
		&d.HeadingDeg,
		&d.SpeedMps,
		&locUpdatedAt,
		&offerID,
		&d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if locUpdatedAt.Valid {
		d.LocationUpdatedAt = locUpdatedAt.Time
	}
	if offerID.Valid {
		d.OfferID = offerID.String
	}
	return &d, nil
}

// Register adds a new driver in OFFLINE state.
func (s *DriverStore) Register(ctx context.Context, driver *domain.Driver) error {
	query := `INSERT INTO drivers (id, vehicle_class, state, updated_at) VALUES ($1, $2, $3, $4)`

	now := time.Now()
	_, err := s.q.ExecContext(ctx, query, driver.ID, driver.VehicleClass, domain.DriverStateOffline, now)
	if _, ok := uniqueConstraint(err); ok {
		return repository.ErrAlreadyExists
	}
	if err != nil {
		return err
	}
	driver.State = domain.DriverStateOffline
	driver.UpdatedAt = now
	return nil
}

// Get retrieves a driver by ID.
func (s *DriverStore) Get(ctx context.Context, id string) (*domain.Driver, error) {
	query := `SELECT ` + driverColumns + ` FROM drivers WHERE id = $1`

	d, err := scanDriver(s.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return d, nil
}

// Transition moves a driver between lifecycle states with a conditional update.
func (s *DriverStore) Transition(ctx context.Context, id string, from, to domain.DriverState, offerID string) (*domain.Driver, error) {
	if !domain.CanTransition(from, to) {
		return nil, fmt.Errorf("driver %s: illegal %s->%s: %w", id, from, to, repository.ErrStateConflict)
	}
	if to != domain.DriverStateOffered {
		offerID = ""
	}

	query := `
		UPDATE drivers SET state = $3, offer_id = $4, updated_at = $5
		WHERE id = $1 AND state = $2
		RETURNING ` + driverColumns

	d, err := scanDriver(s.q.QueryRowContext(ctx, query, id, from, to, nullString(offerID), time.Now()))
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	cur, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("driver %s is %s, want %s->%s: %w", id, cur.State, from, to, repository.ErrStateConflict)
}

// UpdateLocation records a location ping unless a newer one is stored.
func (s *DriverStore) UpdateLocation(ctx context.Context, id string, loc domain.Point, headingDeg, speedMps float64, at time.Time) (*domain.Driver, bool, error) {
	query := `
		UPDATE drivers
		SET lat = $2, lng = $3, heading_deg = $4, speed_mps = $5, location_updated_at = $6, has_location = TRUE, updated_at = $7
		WHERE id = $1 AND (location_updated_at IS NULL OR location_updated_at <= $6)
		RETURNING ` + driverColumns

	d, err := scanDriver(s.q.QueryRowContext(ctx, query, id, loc.Lat, loc.Lng, headingDeg, speedMps, at, time.Now()))
	if err == nil {
		return d, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, err
	}

	cur, err := s.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return cur, false, nil
}

// List retrieves all drivers.
func (s *DriverStore) List(ctx context.Context) ([]*domain.Driver, error) {
	query := `SELECT ` + driverColumns + ` FROM drivers ORDER BY id`
	rows, err := s.q.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var drivers []*domain.Driver
	for rows.Next() {
		d, err := scanDriver(rows)
		if err != nil {
			return nil, err
		}
		drivers = append(drivers, d)
	}
	return drivers, rows.Err()
}
