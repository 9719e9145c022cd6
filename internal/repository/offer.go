package repository

import (
	"context"
	"time"

	"ridedispatch/internal/domain"
)

// OfferStore records offers and arbitrates how each one resolves.
type OfferStore interface {
	// Create persists a PENDING offer. Returns ErrStateConflict if the
	// driver or the request already has a pending offer.
	Create(ctx context.Context, offer *domain.Offer) error

	// Get retrieves an offer by ID.
	Get(ctx context.Context, id string) (*domain.Offer, error)

	// PendingForRequest returns the pending offer of a request, or ErrNotFound.
	PendingForRequest(ctx context.Context, requestID string) (*domain.Offer, error)

	// PendingForDriver returns the pending offer of a driver, or ErrNotFound.
	PendingForDriver(ctx context.Context, driverID string) (*domain.Offer, error)

	// Resolve moves a PENDING offer to a terminal state. Exactly one caller
	// wins; the rest get ErrStateConflict.
	Resolve(ctx context.Context, id string, to domain.OfferState, reason domain.OfferReason, at time.Time) (*domain.Offer, error)

	// ListExpired returns up to limit pending offers whose deadline passed.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*domain.Offer, error)
}
