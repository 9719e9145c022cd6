package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"ridedispatch/internal/domain"
	"ridedispatch/internal/repository"
)

// RequestQueue is a PostgreSQL implementation of repository.RequestQueue.
// Workers on separate replicas claim requests with FOR UPDATE SKIP LOCKED,
// so no request is handed to two workers at once.
type RequestQueue struct {
	q Querier
}

// NewRequestQueue creates a new PostgreSQL request queue.
func NewRequestQueue(db *sql.DB) *RequestQueue {
	return &RequestQueue{q: db}
}

// NewRequestQueueWithTx creates a request queue using a transaction.
func NewRequestQueueWithTx(tx *sql.Tx) *RequestQueue {
	return &RequestQueue{q: tx}
}

var _ repository.RequestQueue = (*RequestQueue)(nil)

const requestColumns = `id, seq, rider_id, pickup_lat, pickup_lng, dropoff_lat, dropoff_lng, vehicle_class, state,
	claimed_until, not_before, attempts, excluded_drivers, offer_id, driver_id, created_at, updated_at`

func scanRequest(row rowScanner) (*domain.RideRequest, error) {
	var r domain.RideRequest
	var claimedUntil, notBefore sql.NullTime
	var offerID, driverID sql.NullString
	var excluded pq.StringArray

	err := row.Scan(
		&r.ID,
		&r.Seq,
		&r.RiderID,
		&r.Pickup.Lat,
		&r.Pickup.Lng,
		&r.Dropoff.Lat,
		&r.Dropoff.Lng,
		&r.VehicleClass,
		&r.State,
		&claimedUntil,
		&notBefore,
		&r.Attempts,
		&excluded,
		&offerID,
		&driverID,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if claimedUntil.Valid {
		r.ClaimedUntil = claimedUntil.Time
	}
	if notBefore.Valid {
		r.NotBefore = notBefore.Time
	}
	if offerID.Valid {
		r.OfferID = offerID.String
	}
	if driverID.Valid {
		r.DriverID = driverID.String
	}
	r.ExcludedDrivers = []string(excluded)
	return &r, nil
}

// Enqueue persists a new PENDING request; the database assigns its sequence.
func (q *RequestQueue) Enqueue(ctx context.Context, req *domain.RideRequest) error {
	query := `
		INSERT INTO ride_requests (id, rider_id, pickup_lat, pickup_lng, dropoff_lat, dropoff_lng, vehicle_class, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		RETURNING seq
	`

	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now()
	}
	err := q.q.QueryRowContext(ctx, query,
		req.ID,
		req.RiderID,
		req.Pickup.Lat,
		req.Pickup.Lng,
		req.Dropoff.Lat,
		req.Dropoff.Lng,
		req.VehicleClass,
		domain.RequestStatePending,
		req.CreatedAt,
	).Scan(&req.Seq)
	if constraint, ok := uniqueConstraint(err); ok {
		if constraint == "ride_requests_active_rider" {
			return fmt.Errorf("rider %s: %w", req.RiderID, repository.ErrDuplicateRequest)
		}
		return repository.ErrAlreadyExists
	}
	if err != nil {
		return err
	}

	req.State = domain.RequestStatePending
	req.UpdatedAt = req.CreatedAt
	return nil
}

// DequeueNext claims the oldest eligible PENDING request.
func (q *RequestQueue) DequeueNext(ctx context.Context, now time.Time, lease time.Duration) (*domain.RideRequest, error) {
	query := `
		UPDATE ride_requests
		SET claimed_until = $2, attempts = attempts + 1, updated_at = $1
		WHERE id = (
			SELECT id FROM ride_requests
			WHERE state = 'PENDING'
			  AND (claimed_until IS NULL OR claimed_until <= $1)
			  AND (not_before IS NULL OR not_before <= $1)
			ORDER BY seq
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + requestColumns

	r, err := scanRequest(q.q.QueryRowContext(ctx, query, now, now.Add(lease)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrQueueEmpty
		}
		return nil, err
	}
	return r, nil
}

// Requeue returns a request to PENDING without changing its sequence.
func (q *RequestQueue) Requeue(ctx context.Context, id string, from domain.RequestState, notBefore time.Time, exclude string, resetExclusions bool) (*domain.RideRequest, error) {
	if from != domain.RequestStatePending && from != domain.RequestStateOffered {
		return nil, fmt.Errorf("requeue from %s: %w", from, repository.ErrStateConflict)
	}

	query := `
		UPDATE ride_requests
		SET state = 'PENDING',
		    claimed_until = NULL,
		    not_before = $3,
		    offer_id = NULL,
		    driver_id = NULL,
		    excluded_drivers = CASE
		        WHEN $5::text = '' THEN (CASE WHEN $4::boolean THEN '{}'::text[] ELSE excluded_drivers END)
		        ELSE array_append(array_remove(CASE WHEN $4::boolean THEN '{}'::text[] ELSE excluded_drivers END, $5::text), $5::text)
		    END,
		    updated_at = $6
		WHERE id = $1 AND state = $2
		RETURNING ` + requestColumns

	return q.conditional(ctx, id, from, query, id, from, nullTime(notBefore), resetExclusions, exclude, time.Now())
}

// MarkOffered moves a PENDING request to OFFERED.
func (q *RequestQueue) MarkOffered(ctx context.Context, id, offerID, driverID string) (*domain.RideRequest, error) {
	query := `
		UPDATE ride_requests
		SET state = 'OFFERED', claimed_until = NULL, offer_id = $2, driver_id = $3, updated_at = $4
		WHERE id = $1 AND state = 'PENDING'
		RETURNING ` + requestColumns

	return q.conditional(ctx, id, domain.RequestStatePending, query, id, offerID, driverID, time.Now())
}

// MarkMatched moves an OFFERED request holding offerID to MATCHED.
func (q *RequestQueue) MarkMatched(ctx context.Context, id, offerID, driverID string) (*domain.RideRequest, error) {
	query := `
		UPDATE ride_requests
		SET state = 'MATCHED', claimed_until = NULL, driver_id = $3, updated_at = $4
		WHERE id = $1 AND state = 'OFFERED' AND offer_id = $2
		RETURNING ` + requestColumns

	return q.conditional(ctx, id, domain.RequestStateOffered, query, id, offerID, driverID, time.Now())
}

// Expire moves a PENDING request to EXPIRED.
func (q *RequestQueue) Expire(ctx context.Context, id string) (*domain.RideRequest, error) {
	query := `
		UPDATE ride_requests
		SET state = 'EXPIRED', claimed_until = NULL, updated_at = $2
		WHERE id = $1 AND state = 'PENDING'
		RETURNING ` + requestColumns

	return q.conditional(ctx, id, domain.RequestStatePending, query, id, time.Now())
}

// ExpireOverdue expires unclaimed PENDING requests older than maxWait.
func (q *RequestQueue) ExpireOverdue(ctx context.Context, now time.Time, maxWait time.Duration) ([]*domain.RideRequest, error) {
	query := `
		UPDATE ride_requests
		SET state = 'EXPIRED', claimed_until = NULL, updated_at = $1
		WHERE state = 'PENDING'
		  AND (claimed_until IS NULL OR claimed_until <= $1)
		  AND created_at <= $2
		RETURNING ` + requestColumns

	rows, err := q.q.QueryContext(ctx, query, now, now.Add(-maxWait))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var expired []*domain.RideRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		expired = append(expired, r)
	}
	return expired, rows.Err()
}

// Cancel moves a PENDING or OFFERED request to CANCELLED.
func (q *RequestQueue) Cancel(ctx context.Context, id string) (*domain.RideRequest, error) {
	query := `
		UPDATE ride_requests
		SET state = 'CANCELLED', claimed_until = NULL, updated_at = $2
		WHERE id = $1 AND state IN ('PENDING', 'OFFERED')
		RETURNING ` + requestColumns

	r, err := scanRequest(q.q.QueryRowContext(ctx, query, id, time.Now()))
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	cur, err := q.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("cancel request %s in %s: %w", id, cur.State, repository.ErrStateConflict)
}

// Get retrieves a request by ID.
func (q *RequestQueue) Get(ctx context.Context, id string) (*domain.RideRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM ride_requests WHERE id = $1`

	r, err := scanRequest(q.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return r, nil
}

// Depth returns the number of PENDING requests.
func (q *RequestQueue) Depth(ctx context.Context) (int, error) {
	var n int
	err := q.q.QueryRowContext(ctx, `SELECT count(*) FROM ride_requests WHERE state = 'PENDING'`).Scan(&n)
	return n, err
}

// conditional runs a state-guarded update and tells a missing row apart
// from a state conflict.
func (q *RequestQueue) conditional(ctx context.Context, id string, want domain.RequestState, query string, args ...any) (*domain.RideRequest, error) {
	r, err := scanRequest(q.q.QueryRowContext(ctx, query, args...))
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	cur, err := q.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("request %s is %s, want %s: %w", id, cur.State, want, repository.ErrStateConflict)
}
