package domain

import "time"

// OfferState represents the current state of an offer.
type OfferState string

const (
	OfferStatePending  OfferState = "PENDING"
	OfferStateAccepted OfferState = "ACCEPTED"
	OfferStateRejected OfferState = "REJECTED"
	OfferStateExpired  OfferState = "EXPIRED"
)

// IsTerminal reports whether the offer has been resolved.
func (s OfferState) IsTerminal() bool {
	return s != OfferStatePending
}

// OfferReason records why an offer left PENDING.
type OfferReason string

const (
	OfferReasonAccepted           OfferReason = "accepted"
	OfferReasonRejected           OfferReason = "rejected"
	OfferReasonTimeout            OfferReason = "timeout"
	OfferReasonDriverOffline      OfferReason = "driver_offline"
	OfferReasonDriverDisconnected OfferReason = "driver_disconnected"
	OfferReasonRequestCancelled   OfferReason = "request_cancelled"
)

// Offer is a time-bounded proposal binding one ride request to one driver.
type Offer struct {
	ID         string
	RequestID  string
	DriverID   string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	State      OfferState
	Reason     OfferReason
	ResolvedAt time.Time
	EtaSeconds float64
}

// Expired reports whether the offer deadline has passed at now.
func (o *Offer) Expired(now time.Time) bool {
	return !now.Before(o.ExpiresAt)
}

// OfferNotice is the payload pushed to a driver for a new offer.
type OfferNotice struct {
	OfferID      string       `json:"offer_id"`
	RequestID    string       `json:"request_id"`
	DriverID     string       `json:"driver_id"`
	Pickup       Point        `json:"pickup"`
	Dropoff      Point        `json:"dropoff"`
	VehicleClass VehicleClass `json:"vehicle_class,omitempty"`
	EtaSeconds   float64      `json:"eta_seconds"`
	ExpiresAt    time.Time    `json:"expires_at"`
}
