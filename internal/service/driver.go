package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ridedispatch/internal/domain"
	"ridedispatch/internal/logging"
	"ridedispatch/internal/observability"
	"ridedispatch/internal/repository"
)

const maxOfflineAttempts = 5

// OfferWithdrawer expires whatever offer a driver currently holds.
type OfferWithdrawer interface {
	WithdrawDriver(ctx context.Context, driverID string, reason domain.OfferReason) error
}

// Ensure Coordinator implements OfferWithdrawer.
var _ OfferWithdrawer = (*Coordinator)(nil)

// DriverService handles driver lifecycle and location updates.
type DriverService struct {
	drivers   repository.DriverStore
	projector *IndexProjector
	offers    OfferWithdrawer
	logger    *slog.Logger
	now       func() time.Time
}

// NewDriverService creates a new DriverService.
func NewDriverService(
	drivers repository.DriverStore,
	projector *IndexProjector,
	offers OfferWithdrawer,
	logger *slog.Logger,
) *DriverService {
	if logger == nil {
		logger = logging.Discard()
	}
	return &DriverService{
		drivers:   drivers,
		projector: projector,
		offers:    offers,
		logger:    logger.With("component", "drivers"),
		now:       time.Now,
	}
}

// LocationUpdate contains the parameters of a driver location ping.
type LocationUpdate struct {
	DriverID    string
	Location    domain.Point
	HeadingDeg  float64
	SpeedMps    float64
	TimestampMs int64 // zero means now
}

// RegisterDriver adds a new driver in OFFLINE state.
func (s *DriverService) RegisterDriver(ctx context.Context, driverID string, class domain.VehicleClass) (*domain.Driver, error) {
	if driverID == "" {
		return nil, ErrInvalidDriverID
	}
	if class == "" {
		class = domain.VehicleClassEconomy
	}
	if !class.Valid() {
		return nil, ErrInvalidVehicleClass
	}

	now := s.now()
	d := &domain.Driver{
		ID:           driverID,
		VehicleClass: class,
		State:        domain.DriverStateOffline,
		UpdatedAt:    now,
	}
	if err := s.drivers.Register(ctx, d); err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			return nil, ErrDriverExists
		}
		return nil, err
	}
	return d, nil
}

// GetDriver retrieves a driver.
func (s *DriverService) GetDriver(ctx context.Context, driverID string) (*domain.Driver, error) {
	if driverID == "" {
		return nil, ErrInvalidDriverID
	}
	d, err := s.drivers.Get(ctx, driverID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUnknownDriver
	}
	return d, err
}

// UpdateDriverLocation records a location ping. A ping older than the one
// stored is dropped and reports applied=false without an error.
func (s *DriverService) UpdateDriverLocation(ctx context.Context, in LocationUpdate) (bool, error) {
	if in.DriverID == "" {
		return false, ErrInvalidDriverID
	}
	if !in.Location.Valid() {
		observability.LocationUpdatesTotal.WithLabelValues("invalid").Inc()
		return false, ErrInvalidLocation
	}

	at := s.now()
	if in.TimestampMs > 0 {
		at = time.UnixMilli(in.TimestampMs)
	}

	_, applied, err := s.drivers.UpdateLocation(ctx, in.DriverID, in.Location, in.HeadingDeg, in.SpeedMps, at)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			observability.LocationUpdatesTotal.WithLabelValues("unknown").Inc()
			return false, ErrUnknownDriver
		}
		return false, err
	}
	if !applied {
		observability.LocationUpdatesTotal.WithLabelValues("stale").Inc()
		return false, nil
	}

	observability.LocationUpdatesTotal.WithLabelValues("applied").Inc()
	if err := s.projector.Sync(ctx, in.DriverID); err != nil {
		return true, fmt.Errorf("project driver %s: %w", in.DriverID, err)
	}
	return true, nil
}

// SetDriverAvailability moves a driver between OFFLINE and AVAILABLE.
// Going offline is allowed from any state; a pending offer is expired
// first so the request returns to the queue.
func (s *DriverService) SetDriverAvailability(ctx context.Context, driverID string, available bool) (*domain.Driver, error) {
	if driverID == "" {
		return nil, ErrInvalidDriverID
	}
	if available {
		return s.goOnline(ctx, driverID)
	}
	return s.goOffline(ctx, driverID)
}

func (s *DriverService) goOnline(ctx context.Context, driverID string) (*domain.Driver, error) {
	d, err := s.GetDriver(ctx, driverID)
	if err != nil {
		return nil, err
	}
	switch d.State {
	case domain.DriverStateAvailable:
		return d, nil
	case domain.DriverStateOffline:
	default:
		return nil, ErrDriverBusy
	}

	d, err = s.drivers.Transition(ctx, driverID, domain.DriverStateOffline, domain.DriverStateAvailable, "")
	if err != nil {
		if errors.Is(err, repository.ErrStateConflict) {
			return nil, fmt.Errorf("%w: %v", ErrDriverBusy, err)
		}
		return nil, err
	}
	s.projector.SyncQuietly(ctx, driverID)
	s.logger.Info("driver available", "driver_id", driverID)
	return d, nil
}

func (s *DriverService) goOffline(ctx context.Context, driverID string) (*domain.Driver, error) {
	for i := 0; i < maxOfflineAttempts; i++ {
		d, err := s.GetDriver(ctx, driverID)
		if err != nil {
			return nil, err
		}
		if d.State == domain.DriverStateOffline {
			s.projector.SyncQuietly(ctx, driverID)
			return d, nil
		}

		if d.State == domain.DriverStateOffered {
			if err := s.offers.WithdrawDriver(ctx, driverID, domain.OfferReasonDriverOffline); err != nil {
				return nil, err
			}
			if d, err = s.GetDriver(ctx, driverID); err != nil {
				return nil, err
			}
			if d.State == domain.DriverStateOffline {
				continue
			}
		}

		d, err = s.drivers.Transition(ctx, driverID, d.State, domain.DriverStateOffline, "")
		if errors.Is(err, repository.ErrStateConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		s.projector.SyncQuietly(ctx, driverID)
		s.logger.Info("driver offline", "driver_id", driverID)
		return d, nil
	}
	return nil, fmt.Errorf("driver %s changed state during sign-off: %w", driverID, repository.ErrStateConflict)
}

// CompleteTrip returns a driver on a trip to AVAILABLE.
func (s *DriverService) CompleteTrip(ctx context.Context, driverID string) (*domain.Driver, error) {
	if driverID == "" {
		return nil, ErrInvalidDriverID
	}
	d, err := s.drivers.Transition(ctx, driverID, domain.DriverStateOnTrip, domain.DriverStateAvailable, "")
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return nil, ErrUnknownDriver
		case errors.Is(err, repository.ErrStateConflict):
			return nil, ErrDriverNotOnTrip
		}
		return nil, err
	}
	s.projector.SyncQuietly(ctx, driverID)
	return d, nil
}

// HandleDisconnect expires the pending offer of a driver whose session
// dropped. The driver keeps its state otherwise.
func (s *DriverService) HandleDisconnect(ctx context.Context, driverID string) error {
	if err := s.offers.WithdrawDriver(ctx, driverID, domain.OfferReasonDriverDisconnected); err != nil {
		return err
	}
	s.logger.Info("driver disconnected", "driver_id", driverID)
	return nil
}
