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

// OfferStore is a PostgreSQL implementation of repository.OfferStore.
// Partial unique indexes keep at most one pending offer per driver and per request.
type OfferStore struct {
	q Querier
}

// NewOfferStore creates a new PostgreSQL offer store.
func NewOfferStore(db *sql.DB) *OfferStore {
	return &OfferStore{q: db}
}

// NewOfferStoreWithTx creates an offer store using a transaction.
func NewOfferStoreWithTx(tx *sql.Tx) *OfferStore {
	return &OfferStore{q: tx}
}

var _ repository.OfferStore = (*OfferStore)(nil)

const offerColumns = `id, request_id, driver_id, created_at, expires_at, state, reason, resolved_at, eta_seconds`

func scanOffer(row rowScanner) (*domain.Offer, error) {
	var o domain.Offer
	var reason sql.NullString
	var resolvedAt sql.NullTime
	err := row.Scan(
		&o.ID,
		&o.RequestID,
		&o.DriverID,
		&o.CreatedAt,
		&o.ExpiresAt,
		&o.State,
		&reason,
		&resolvedAt,
		&o.EtaSeconds,
	)
	if err != nil {
		return nil, err
	}
	if reason.Valid {
		o.Reason = domain.OfferReason(reason.String)
	}
	if resolvedAt.Valid {
		o.ResolvedAt = resolvedAt.Time
	}
	return &o, nil
}

// Create persists a PENDING offer.
func (s *OfferStore) Create(ctx context.Context, offer *domain.Offer) error {
	query := `
		INSERT INTO offers (id, request_id, driver_id, created_at, expires_at, state, eta_seconds)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := s.q.ExecContext(ctx, query,
		offer.ID,
		offer.RequestID,
		offer.DriverID,
		offer.CreatedAt,
		offer.ExpiresAt,
		domain.OfferStatePending,
		offer.EtaSeconds,
	)
	if constraint, ok := uniqueConstraint(err); ok {
		if constraint == "offers_pkey" {
			return repository.ErrAlreadyExists
		}
		return fmt.Errorf("offer %s (%s): %w", offer.ID, constraint, repository.ErrStateConflict)
	}
	if err != nil {
		return err
	}
	offer.State = domain.OfferStatePending
	return nil
}

// Get retrieves an offer by ID.
func (s *OfferStore) Get(ctx context.Context, id string) (*domain.Offer, error) {
	return s.one(ctx, `SELECT `+offerColumns+` FROM offers WHERE id = $1`, id)
}

// PendingForRequest returns the pending offer of a request.
func (s *OfferStore) PendingForRequest(ctx context.Context, requestID string) (*domain.Offer, error) {
	return s.one(ctx, `SELECT `+offerColumns+` FROM offers WHERE request_id = $1 AND state = 'PENDING'`, requestID)
}

// PendingForDriver returns the pending offer of a driver.
func (s *OfferStore) PendingForDriver(ctx context.Context, driverID string) (*domain.Offer, error) {
	return s.one(ctx, `SELECT `+offerColumns+` FROM offers WHERE driver_id = $1 AND state = 'PENDING'`, driverID)
}

// Resolve moves a PENDING offer to a terminal state.
func (s *OfferStore) Resolve(ctx context.Context, id string, to domain.OfferState, reason domain.OfferReason, at time.Time) (*domain.Offer, error) {
	if !to.IsTerminal() {
		return nil, fmt.Errorf("resolve offer %s to %s: %w", id, to, repository.ErrStateConflict)
	}

	query := `
		UPDATE offers SET state = $2, reason = $3, resolved_at = $4
		WHERE id = $1 AND state = 'PENDING'
		RETURNING ` + offerColumns

	o, err := scanOffer(s.q.QueryRowContext(ctx, query, id, to, string(reason), at))
	if err == nil {
		return o, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	cur, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("offer %s is %s: %w", id, cur.State, repository.ErrStateConflict)
}

// ListExpired returns pending offers whose deadline passed, earliest first.
func (s *OfferStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]*domain.Offer, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT ` + offerColumns + ` FROM offers
		WHERE state = 'PENDING' AND expires_at <= $1
		ORDER BY expires_at
		LIMIT $2
	`

	rows, err := s.q.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var offers []*domain.Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		offers = append(offers, o)
	}
	return offers, rows.Err()
}

func (s *OfferStore) one(ctx context.Context, query string, arg any) (*domain.Offer, error) {
	o, err := scanOffer(s.q.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return o, nil
}
