package service

import (
	"errors"
	"fmt"

	"ridedispatch/internal/repository"
)

// ErrValidation is wrapped by every input validation error.
var ErrValidation = errors.New("validation failed")

var (
	// ErrInvalidRiderID is returned when rider ID is empty.
	ErrInvalidRiderID = fmt.Errorf("%w: invalid rider id", ErrValidation)

	// ErrInvalidRequestID is returned when ride request ID is empty.
	ErrInvalidRequestID = fmt.Errorf("%w: invalid ride request id", ErrValidation)

	// ErrInvalidDriverID is returned when driver ID is empty.
	ErrInvalidDriverID = fmt.Errorf("%w: invalid driver id", ErrValidation)

	// ErrInvalidOfferID is returned when offer ID is empty.
	ErrInvalidOfferID = fmt.Errorf("%w: invalid offer id", ErrValidation)

	// ErrInvalidPickupLocation is returned when pickup coordinates are invalid.
	ErrInvalidPickupLocation = fmt.Errorf("%w: invalid pickup location", ErrValidation)

	// ErrInvalidDropoffLocation is returned when dropoff coordinates are invalid.
	ErrInvalidDropoffLocation = fmt.Errorf("%w: invalid dropoff location", ErrValidation)

	// ErrInvalidLocation is returned when location coordinates are invalid.
	ErrInvalidLocation = fmt.Errorf("%w: invalid location", ErrValidation)

	// ErrInvalidVehicleClass is returned for an unknown vehicle class.
	ErrInvalidVehicleClass = fmt.Errorf("%w: invalid vehicle class", ErrValidation)
)

var (
	// ErrNoDriversAvailable is returned when no candidate can be offered the request.
	ErrNoDriversAvailable = errors.New("no drivers available")

	// ErrDispatchTimeout is the outcome of a request that expired before a driver accepted.
	ErrDispatchTimeout = errors.New("dispatch timed out before a driver accepted")

	// ErrOfferNotPending is returned when responding to an offer that was already resolved.
	ErrOfferNotPending = errors.New("offer is no longer pending")

	// ErrRequestNotCancellable is returned when cancelling a matched or finished request.
	ErrRequestNotCancellable = errors.New("ride request cannot be cancelled in current state")

	// ErrUnknownDriver is returned when the driver is not registered.
	ErrUnknownDriver = errors.New("unknown driver")

	// ErrRequestNotFound is returned when the ride request does not exist.
	ErrRequestNotFound = errors.New("ride request not found")

	// ErrOfferNotFound is returned when the offer does not exist.
	ErrOfferNotFound = errors.New("offer not found")

	// ErrDriverExists is returned when registering a driver ID twice.
	ErrDriverExists = errors.New("driver already registered")

	// ErrDriverBusy is returned when a driver on an offer or trip asks to go available.
	ErrDriverBusy = errors.New("driver is on an offer or trip")

	// ErrDriverNotOnTrip is returned when completing a trip for a driver not on one.
	ErrDriverNotOnTrip = errors.New("driver is not on a trip")

	// ErrDuplicateRequest is returned when a rider already has an active request.
	ErrDuplicateRequest = repository.ErrDuplicateRequest
)
