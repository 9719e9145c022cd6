package service

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"

	"ridedispatch/internal/domain"
	"ridedispatch/internal/geo"
	"ridedispatch/internal/logging"
	"ridedispatch/internal/observability"
	"ridedispatch/internal/repository"
)

const projectorStripes = 64

// IndexProjector keeps the geospatial index in line with the driver store.
//
// Every change to a driver's state or location is followed by Sync, which
// re-reads the driver and upserts or removes its index entry. Syncs for the
// same driver are serialized, so the last one always reflects the latest
// stored state and a late location ping can never re-index a driver that
// already left AVAILABLE or OFFERED.
type IndexProjector struct {
	drivers repository.DriverStore
	index   geo.Index
	logger  *slog.Logger
	stripes [projectorStripes]sync.Mutex
}

// NewIndexProjector creates a new IndexProjector.
func NewIndexProjector(drivers repository.DriverStore, index geo.Index, logger *slog.Logger) *IndexProjector {
	if logger == nil {
		logger = logging.Discard()
	}
	return &IndexProjector{drivers: drivers, index: index, logger: logger}
}

// Sync projects the stored driver into the index.
func (p *IndexProjector) Sync(ctx context.Context, driverID string) error {
	mu := p.stripe(driverID)
	mu.Lock()
	defer mu.Unlock()

	d, err := p.drivers.Get(ctx, driverID)
	if errors.Is(err, repository.ErrNotFound) {
		return p.index.Remove(ctx, driverID)
	}
	if err != nil {
		return err
	}

	if !d.State.Indexed() || !d.HasLocation {
		return p.index.Remove(ctx, driverID)
	}

	_, err = p.index.Upsert(ctx, geo.Entry{
		DriverID:     d.ID,
		Location:     d.Location,
		VehicleClass: d.VehicleClass,
		Available:    d.State == domain.DriverStateAvailable,
		UpdatedAt:    d.LocationUpdatedAt,
	})
	return err
}

// SyncQuietly runs Sync and logs a failure instead of returning it.
func (p *IndexProjector) SyncQuietly(ctx context.Context, driverID string) {
	if err := p.Sync(ctx, driverID); err != nil {
		p.logger.Error("index projection failed", "driver_id", driverID, "error", err)
	}
}

// Rebuild projects every stored driver, used at startup when the index
// lives in process memory.
func (p *IndexProjector) Rebuild(ctx context.Context) error {
	drivers, err := p.drivers.List(ctx)
	if err != nil {
		return err
	}
	for _, d := range drivers {
		if err := p.Sync(ctx, d.ID); err != nil {
			return err
		}
	}
	p.RecordSize(ctx)
	return nil
}

// RecordSize publishes the index size gauge.
func (p *IndexProjector) RecordSize(ctx context.Context) {
	if n, err := p.index.Len(ctx); err == nil {
		observability.IndexedDrivers.Set(float64(n))
	}
}

// Nearby queries the index for available drivers.
func (p *IndexProjector) Nearby(ctx context.Context, q geo.Query) ([]geo.Candidate, error) {
	return p.index.QueryNearest(ctx, q)
}

func (p *IndexProjector) stripe(driverID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(driverID))
	return &p.stripes[h.Sum32()%projectorStripes]
}
