package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"ridedispatch/internal/domain"
	"ridedispatch/internal/repository"
)

// OfferStore is an in-memory implementation of repository.OfferStore.
type OfferStore struct {
	mu               sync.Mutex
	offers           map[string]*domain.Offer
	pendingByDriver  map[string]string
	pendingByRequest map[string]string
}

// NewOfferStore creates an empty offer store.
func NewOfferStore() *OfferStore {
	return &OfferStore{
		offers:           make(map[string]*domain.Offer),
		pendingByDriver:  make(map[string]string),
		pendingByRequest: make(map[string]string),
	}
}

var _ repository.OfferStore = (*OfferStore)(nil)

// Create persists a PENDING offer.
func (s *OfferStore) Create(_ context.Context, offer *domain.Offer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.offers[offer.ID]; ok {
		return repository.ErrAlreadyExists
	}
	if id, ok := s.pendingByDriver[offer.DriverID]; ok {
		return fmt.Errorf("driver %s already holds offer %s: %w", offer.DriverID, id, repository.ErrStateConflict)
	}
	if id, ok := s.pendingByRequest[offer.RequestID]; ok {
		return fmt.Errorf("request %s already has offer %s: %w", offer.RequestID, id, repository.ErrStateConflict)
	}

	offer.State = domain.OfferStatePending
	o := *offer
	s.offers[o.ID] = &o
	s.pendingByDriver[o.DriverID] = o.ID
	s.pendingByRequest[o.RequestID] = o.ID
	return nil
}

// Get retrieves an offer by ID.
func (s *OfferStore) Get(_ context.Context, id string) (*domain.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.offers[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

// PendingForRequest returns the pending offer of a request.
func (s *OfferStore) PendingForRequest(_ context.Context, requestID string) (*domain.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending(s.pendingByRequest, requestID)
}

// PendingForDriver returns the pending offer of a driver.
func (s *OfferStore) PendingForDriver(_ context.Context, driverID string) (*domain.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending(s.pendingByDriver, driverID)
}

// Resolve moves a PENDING offer to a terminal state.
func (s *OfferStore) Resolve(_ context.Context, id string, to domain.OfferState, reason domain.OfferReason, at time.Time) (*domain.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.offers[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if o.State != domain.OfferStatePending || !to.IsTerminal() {
		return nil, fmt.Errorf("offer %s is %s: %w", id, o.State, repository.ErrStateConflict)
	}

	o.State = to
	o.Reason = reason
	o.ResolvedAt = at
	delete(s.pendingByDriver, o.DriverID)
	delete(s.pendingByRequest, o.RequestID)

	cp := *o
	return &cp, nil
}

// ListExpired returns pending offers whose deadline passed, earliest first.
func (s *OfferStore) ListExpired(_ context.Context, now time.Time, limit int) ([]*domain.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []*domain.Offer
	for _, id := range s.pendingByDriver {
		o := s.offers[id]
		if o.Expired(now) {
			cp := *o
			expired = append(expired, &cp)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].ExpiresAt.Before(expired[j].ExpiresAt) })
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	return expired, nil
}

func (s *OfferStore) pending(index map[string]string, key string) (*domain.Offer, error) {
	id, ok := index[key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *s.offers[id]
	return &cp, nil
}
