package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"ridedispatch/internal/domain"
	"ridedispatch/internal/repository"
)

// Dispatcher accepts requests into dispatch and withdraws them.
// This interface allows for testing with mock implementations.
type Dispatcher interface {
	Submit(ctx context.Context, req *domain.RideRequest) error
	Cancel(ctx context.Context, requestID string) (*domain.RideRequest, error)
}

// Ensure Coordinator implements Dispatcher.
var _ Dispatcher = (*Coordinator)(nil)

// RideService handles rider-facing ride request operations.
type RideService struct {
	dispatcher Dispatcher
	queue      repository.RequestQueue
	fares      *FareCalculator
	now        func() time.Time
}

// NewRideService creates a new RideService.
func NewRideService(
	dispatcher Dispatcher,
	queue repository.RequestQueue,
	fares *FareCalculator,
) *RideService {
	if fares == nil {
		fares = NewFareCalculator(nil, nil, DefaultSurgeConfig())
	}
	return &RideService{
		dispatcher: dispatcher,
		queue:      queue,
		fares:      fares,
		now:        time.Now,
	}
}

// SubmitRideRequest contains the parameters for requesting a ride.
type SubmitRideRequest struct {
	RiderID      string
	Pickup       domain.Point
	Dropoff      domain.Point
	VehicleClass domain.VehicleClass // Optional: empty means any class
}

// RequestStatus is the rider-visible view of a ride request.
type RequestStatus struct {
	RequestID    string              `json:"request_id"`
	State        domain.RequestState `json:"state"`
	Seq          int64               `json:"seq"`
	VehicleClass domain.VehicleClass `json:"vehicle_class,omitempty"`
	DriverID     string              `json:"driver_id,omitempty"`
	OfferID      string              `json:"offer_id,omitempty"`
	Attempts     int                 `json:"attempts"`
	CreatedAt    time.Time           `json:"created_at"`
	Error        string              `json:"error,omitempty"`
}

// SubmitRideRequest validates the request and hands it to dispatch.
// Returns ErrDuplicateRequest when the rider already has an active request.
func (s *RideService) SubmitRideRequest(ctx context.Context, in SubmitRideRequest) (*domain.RideRequest, error) {
	if err := validateSubmit(in); err != nil {
		return nil, err
	}

	req := &domain.RideRequest{
		ID:           uuid.New().String(),
		RiderID:      in.RiderID,
		Pickup:       in.Pickup,
		Dropoff:      in.Dropoff,
		VehicleClass: in.VehicleClass,
		CreatedAt:    s.now(),
		State:        domain.RequestStatePending,
	}

	if err := s.dispatcher.Submit(ctx, req); err != nil {
		return nil, err
	}
	return req, nil
}

// GetRequestStatus retrieves the current status of a ride request.
func (s *RideService) GetRequestStatus(ctx context.Context, requestID string) (*RequestStatus, error) {
	if requestID == "" {
		return nil, ErrInvalidRequestID
	}

	req, err := s.queue.Get(ctx, requestID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrRequestNotFound
		}
		return nil, err
	}

	status := &RequestStatus{
		RequestID:    req.ID,
		State:        req.State,
		Seq:          req.Seq,
		VehicleClass: req.VehicleClass,
		OfferID:      req.OfferID,
		DriverID:     req.DriverID,
		Attempts:     req.Attempts,
		CreatedAt:    req.CreatedAt,
	}
	if req.State == domain.RequestStateExpired {
		status.Error = ErrDispatchTimeout.Error()
	}
	return status, nil
}

// CancelRideRequest cancels a request that has not been matched yet.
func (s *RideService) CancelRideRequest(ctx context.Context, requestID string) (*domain.RideRequest, error) {
	if requestID == "" {
		return nil, ErrInvalidRequestID
	}
	return s.dispatcher.Cancel(ctx, requestID)
}

// EstimateFare quotes a trip between two points.
func (s *RideService) EstimateFare(ctx context.Context, pickup, dropoff domain.Point) (*FareEstimate, error) {
	if !pickup.Valid() {
		return nil, ErrInvalidPickupLocation
	}
	if !dropoff.Valid() {
		return nil, ErrInvalidDropoffLocation
	}
	est := s.fares.Estimate(ctx, pickup, dropoff)
	return &est, nil
}

func validateSubmit(in SubmitRideRequest) error {
	if in.RiderID == "" {
		return ErrInvalidRiderID
	}
	if !in.Pickup.Valid() {
		return ErrInvalidPickupLocation
	}
	if !in.Dropoff.Valid() {
		return ErrInvalidDropoffLocation
	}
	if in.VehicleClass != "" && !in.VehicleClass.Valid() {
		return ErrInvalidVehicleClass
	}
	return nil
}
