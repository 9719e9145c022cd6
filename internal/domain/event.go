package domain

import "time"

// RiderEventType is the kind of update pushed to a rider.
type RiderEventType string

const (
	RiderEventQueued    RiderEventType = "REQUEST_QUEUED"
	RiderEventOffered   RiderEventType = "DRIVER_OFFERED"
	RiderEventMatched   RiderEventType = "MATCHED"
	RiderEventExpired   RiderEventType = "EXPIRED"
	RiderEventCancelled RiderEventType = "CANCELLED"
)

// RiderEvent is an outcome or progress notice for a ride request.
type RiderEvent struct {
	Type      RiderEventType `json:"type"`
	RequestID string         `json:"request_id"`
	RiderID   string         `json:"rider_id"`
	DriverID  string         `json:"driver_id,omitempty"`
	OfferID   string         `json:"offer_id,omitempty"`
	Message   string         `json:"message,omitempty"`
	At        time.Time      `json:"at"`
}
