// Package memory provides in-process implementations of the dispatch stores.
// Each store guards its state with a single mutex, so every method is an
// atomic compare-and-set from the caller's point of view.
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

// DriverStore is an in-memory implementation of repository.DriverStore.
type DriverStore struct {
	mu      sync.RWMutex
	drivers map[string]*domain.Driver
	now     func() time.Time
}

// NewDriverStore creates an empty driver store.
func NewDriverStore() *DriverStore {
	return &DriverStore{
		drivers: make(map[string]*domain.Driver),
		now:     time.Now,
	}
}

var _ repository.DriverStore = (*DriverStore)(nil)

// Register adds a new driver in OFFLINE state.
func (s *DriverStore) Register(_ context.Context, driver *domain.Driver) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.drivers[driver.ID]; ok {
		return repository.ErrAlreadyExists
	}
	d := *driver
	d.State = domain.DriverStateOffline
	d.OfferID = ""
	d.UpdatedAt = s.now()
	s.drivers[d.ID] = &d

	driver.State = d.State
	driver.UpdatedAt = d.UpdatedAt
	return nil
}

// Get retrieves a driver by ID.
func (s *DriverStore) Get(_ context.Context, id string) (*domain.Driver, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.drivers[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

// Transition moves a driver between lifecycle states if it is currently in from.
func (s *DriverStore) Transition(_ context.Context, id string, from, to domain.DriverState, offerID string) (*domain.Driver, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.drivers[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if d.State != from || !domain.CanTransition(from, to) {
		return nil, fmt.Errorf("driver %s is %s, want %s->%s: %w", id, d.State, from, to, repository.ErrStateConflict)
	}

	d.State = to
	if to == domain.DriverStateOffered {
		d.OfferID = offerID
	} else {
		d.OfferID = ""
	}
	d.UpdatedAt = s.now()

	cp := *d
	return &cp, nil
}

// UpdateLocation records a location ping, dropping pings older than the stored one.
func (s *DriverStore) UpdateLocation(_ context.Context, id string, loc domain.Point, headingDeg, speedMps float64, at time.Time) (*domain.Driver, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.drivers[id]
	if !ok {
		return nil, false, repository.ErrNotFound
	}
	if d.HasLocation && at.Before(d.LocationUpdatedAt) {
		cp := *d
		return &cp, false, nil
	}

	d.Location = loc
	d.HasLocation = true
	d.HeadingDeg = headingDeg
	d.SpeedMps = speedMps
	d.LocationUpdatedAt = at
	d.UpdatedAt = s.now()

	cp := *d
	return &cp, true, nil
}

// List retrieves all drivers ordered by ID.
func (s *DriverStore) List(_ context.Context) ([]*domain.Driver, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Driver, 0, len(s.drivers))
	for _, d := range s.drivers {
		cp := *d
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}
