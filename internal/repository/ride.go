package repository

import (
	"context"
	"time"

	"ridedispatch/internal/domain"
)

// RequestQueue holds ride requests awaiting a driver in arrival order.
type RequestQueue interface {
	// Enqueue persists a new PENDING request and assigns its sequence number.
	// Returns ErrDuplicateRequest if the rider has a non-terminal request.
	Enqueue(ctx context.Context, req *domain.RideRequest) error

	// DequeueNext claims the oldest PENDING request that is unclaimed (or
	// whose claim lapsed) and whose NotBefore has passed. The claim holds
	// until now+lease. Returns ErrQueueEmpty when nothing is eligible.
	DequeueNext(ctx context.Context, now time.Time, lease time.Duration) (*domain.RideRequest, error)

	// Requeue returns a request in state from to PENDING, releasing any
	// claim and keeping its sequence number. A non-empty exclude is added
	// to the excluded drivers; resetExclusions clears them first.
	Requeue(ctx context.Context, id string, from domain.RequestState, notBefore time.Time, exclude string, resetExclusions bool) (*domain.RideRequest, error)

	// MarkOffered moves a PENDING request to OFFERED.
	MarkOffered(ctx context.Context, id, offerID, driverID string) (*domain.RideRequest, error)

	// MarkMatched moves an OFFERED request to MATCHED.
	MarkMatched(ctx context.Context, id, offerID, driverID string) (*domain.RideRequest, error)

	// Expire moves a PENDING request to EXPIRED.
	Expire(ctx context.Context, id string) (*domain.RideRequest, error)

	// ExpireOverdue expires every unclaimed PENDING request created before
	// now-maxWait and returns them.
	ExpireOverdue(ctx context.Context, now time.Time, maxWait time.Duration) ([]*domain.RideRequest, error)

	// Cancel moves a PENDING or OFFERED request to CANCELLED.
	Cancel(ctx context.Context, id string) (*domain.RideRequest, error)

	// Get retrieves a request by ID.
	Get(ctx context.Context, id string) (*domain.RideRequest, error)

	// Depth returns the number of PENDING requests.
	Depth(ctx context.Context) (int, error)
}
