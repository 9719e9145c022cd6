package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ridedispatch/internal/domain"
	"ridedispatch/internal/repository"
)

// RequestQueue is an in-memory implementation of repository.RequestQueue.
//
// Requests are kept in arrival order. A request never changes position when
// it is requeued, so the oldest eligible request is always found by walking
// the order from the front.
type RequestQueue struct {
	mu       sync.Mutex
	requests map[string]*domain.RideRequest
	order    []string
	active   map[string]string // rider id -> non-terminal request id
	nextSeq  int64
	now      func() time.Time
}

// NewRequestQueue creates an empty queue.
func NewRequestQueue() *RequestQueue {
	return &RequestQueue{
		requests: make(map[string]*domain.RideRequest),
		active:   make(map[string]string),
		now:      time.Now,
	}
}

var _ repository.RequestQueue = (*RequestQueue)(nil)

// Enqueue persists a new PENDING request and assigns its sequence number.
func (q *RequestQueue) Enqueue(_ context.Context, req *domain.RideRequest) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.requests[req.ID]; ok {
		return repository.ErrAlreadyExists
	}
	if id, ok := q.active[req.RiderID]; ok {
		if existing := q.requests[id]; existing != nil && !existing.State.IsTerminal() {
			return fmt.Errorf("rider %s has request %s: %w", req.RiderID, id, repository.ErrDuplicateRequest)
		}
	}

	q.nextSeq++
	req.Seq = q.nextSeq
	req.State = domain.RequestStatePending
	req.UpdatedAt = q.now()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = req.UpdatedAt
	}

	q.requests[req.ID] = req.Clone()
	q.order = append(q.order, req.ID)
	q.active[req.RiderID] = req.ID
	return nil
}

// DequeueNext claims the oldest eligible PENDING request.
func (q *RequestQueue) DequeueNext(_ context.Context, now time.Time, lease time.Duration) (*domain.RideRequest, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	live := q.order[:0]
	var claimed *domain.RideRequest
	for _, id := range q.order {
		r := q.requests[id]
		if r.State.IsTerminal() {
			continue
		}
		live = append(live, id)
		if claimed != nil || r.State != domain.RequestStatePending {
			continue
		}
		if r.Claimed(now) || now.Before(r.NotBefore) {
			continue
		}
		r.ClaimedUntil = now.Add(lease)
		r.Attempts++
		r.UpdatedAt = now
		claimed = r.Clone()
	}
	q.order = live

	if claimed == nil {
		return nil, repository.ErrQueueEmpty
	}
	return claimed, nil
}

// Requeue returns a request to PENDING without changing its position.
func (q *RequestQueue) Requeue(_ context.Context, id string, from domain.RequestState, notBefore time.Time, exclude string, resetExclusions bool) (*domain.RideRequest, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	r, err := q.lookup(id, from)
	if err != nil {
		return nil, err
	}
	if from != domain.RequestStatePending && from != domain.RequestStateOffered {
		return nil, fmt.Errorf("requeue from %s: %w", from, repository.ErrStateConflict)
	}

	r.State = domain.RequestStatePending
	r.ClaimedUntil = time.Time{}
	r.NotBefore = notBefore
	r.OfferID = ""
	r.DriverID = ""
	if resetExclusions {
		r.ExcludedDrivers = nil
	}
	if exclude != "" && !r.Excludes(exclude) {
		r.ExcludedDrivers = append(r.ExcludedDrivers, exclude)
	}
	r.UpdatedAt = q.now()
	return r.Clone(), nil
}

// MarkOffered moves a PENDING request to OFFERED.
func (q *RequestQueue) MarkOffered(_ context.Context, id, offerID, driverID string) (*domain.RideRequest, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	r, err := q.lookup(id, domain.RequestStatePending)
	if err != nil {
		return nil, err
	}
	r.State = domain.RequestStateOffered
	r.ClaimedUntil = time.Time{}
	r.OfferID = offerID
	r.DriverID = driverID
	r.UpdatedAt = q.now()
	return r.Clone(), nil
}

// MarkMatched moves an OFFERED request to MATCHED.
func (q *RequestQueue) MarkMatched(_ context.Context, id, offerID, driverID string) (*domain.RideRequest, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	r, err := q.lookup(id, domain.RequestStateOffered)
	if err != nil {
		return nil, err
	}
	if r.OfferID != offerID {
		return nil, fmt.Errorf("request %s holds offer %s, not %s: %w", id, r.OfferID, offerID, repository.ErrStateConflict)
	}
	r.State = domain.RequestStateMatched
	r.DriverID = driverID
	r.UpdatedAt = q.now()
	q.release(r)
	return r.Clone(), nil
}

// Expire moves a PENDING request to EXPIRED.
func (q *RequestQueue) Expire(_ context.Context, id string) (*domain.RideRequest, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	r, err := q.lookup(id, domain.RequestStatePending)
	if err != nil {
		return nil, err
	}
	q.finish(r, domain.RequestStateExpired)
	return r.Clone(), nil
}

// ExpireOverdue expires unclaimed PENDING requests older than maxWait.
func (q *RequestQueue) ExpireOverdue(_ context.Context, now time.Time, maxWait time.Duration) ([]*domain.RideRequest, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var expired []*domain.RideRequest
	for _, id := range q.order {
		r := q.requests[id]
		if r.State != domain.RequestStatePending || r.Claimed(now) {
			continue
		}
		if now.Before(r.Deadline(maxWait)) {
			continue
		}
		q.finish(r, domain.RequestStateExpired)
		expired = append(expired, r.Clone())
	}
	return expired, nil
}

// Cancel moves a PENDING or OFFERED request to CANCELLED.
func (q *RequestQueue) Cancel(_ context.Context, id string) (*domain.RideRequest, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	r, ok := q.requests[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if r.State != domain.RequestStatePending && r.State != domain.RequestStateOffered {
		return nil, fmt.Errorf("cancel request %s in %s: %w", id, r.State, repository.ErrStateConflict)
	}
	q.finish(r, domain.RequestStateCancelled)
	return r.Clone(), nil
}

// Get retrieves a request by ID.
func (q *RequestQueue) Get(_ context.Context, id string) (*domain.RideRequest, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	r, ok := q.requests[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return r.Clone(), nil
}

// Depth returns the number of PENDING requests.
func (q *RequestQueue) Depth(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, id := range q.order {
		if q.requests[id].State == domain.RequestStatePending {
			n++
		}
	}
	return n, nil
}

func (q *RequestQueue) lookup(id string, want domain.RequestState) (*domain.RideRequest, error) {
	r, ok := q.requests[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if r.State != want {
		return nil, fmt.Errorf("request %s is %s, want %s: %w", id, r.State, want, repository.ErrStateConflict)
	}
	return r, nil
}

func (q *RequestQueue) finish(r *domain.RideRequest, state domain.RequestState) {
	r.State = state
	r.UpdatedAt = q.now()
	q.release(r)
}

func (q *RequestQueue) release(r *domain.RideRequest) {
	r.ClaimedUntil = time.Time{}
	if q.active[r.RiderID] == r.ID {
		delete(q.active, r.RiderID)
	}
}
