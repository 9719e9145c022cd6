package repository

import "errors"

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrAlreadyExists is returned when creating an entity whose id is taken.
	ErrAlreadyExists = errors.New("entity already exists")

	// ErrStateConflict is returned when a compare-and-set finds a different
	// current state than the caller expected.
	ErrStateConflict = errors.New("state conflict")

	// ErrDuplicateRequest is returned when a rider already has a live request.
	ErrDuplicateRequest = errors.New("rider already has an active request")

	// ErrQueueEmpty is returned when no request is eligible for dispatch.
	ErrQueueEmpty = errors.New("no eligible ride request")
)
