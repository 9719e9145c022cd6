package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"ridedispatch/internal/domain"
	"ridedispatch/internal/service"
)

// RideHandler handles HTTP requests for ride requests.
type RideHandler struct {
	rideService *service.RideService
}

// NewRideHandler creates a new RideHandler.
func NewRideHandler(rideService *service.RideService) *RideHandler {
	return &RideHandler{rideService: rideService}
}

// SubmitRideBody is the HTTP request body for requesting a ride.
type SubmitRideBody struct {
	RiderID      string    `json:"rider_id"`
	Pickup       PointBody `json:"pickup"`
	Dropoff      PointBody `json:"dropoff"`
	VehicleClass string    `json:"vehicle_class,omitempty"`
}

// EstimateFareBody is the HTTP request body for a fare quote.
type EstimateFareBody struct {
	Pickup  PointBody `json:"pickup"`
	Dropoff PointBody `json:"dropoff"`
}

// RideResponse is the HTTP response for a ride request.
type RideResponse struct {
	ID           string `json:"id"`
	RiderID      string `json:"rider_id"`
	State        string `json:"state"`
	Seq          int64  `json:"seq"`
	VehicleClass string `json:"vehicle_class,omitempty"`
	DriverID     string `json:"driver_id,omitempty"`
	CreatedAt    string `json:"created_at"`
}

func toRideResponse(r *domain.RideRequest) RideResponse {
	return RideResponse{
		ID:           r.ID,
		RiderID:      r.RiderID,
		State:        string(r.State),
		Seq:          r.Seq,
		VehicleClass: string(r.VehicleClass),
		DriverID:     r.DriverID,
		CreatedAt:    r.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// SubmitRide handles POST /v1/rides
func (h *RideHandler) SubmitRide(c *gin.Context) {
	var body SubmitRideBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	pickup, ok := body.Pickup.point()
	if !ok {
		respondError(c, service.ErrInvalidPickupLocation)
		return
	}
	dropoff, ok := body.Dropoff.point()
	if !ok {
		respondError(c, service.ErrInvalidDropoffLocation)
		return
	}

	req, err := h.rideService.SubmitRideRequest(c.Request.Context(), service.SubmitRideRequest{
		RiderID:      body.RiderID,
		Pickup:       pickup,
		Dropoff:      dropoff,
		VehicleClass: domain.VehicleClass(body.VehicleClass),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusCreated, toRideResponse(req))
}

// GetRide handles GET /v1/rides/:id
func (h *RideHandler) GetRide(c *gin.Context) {
	status, err := h.rideService.GetRequestStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, status)
}

// CancelRide handles POST /v1/rides/:id/cancel
func (h *RideHandler) CancelRide(c *gin.Context) {
	req, err := h.rideService.CancelRideRequest(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toRideResponse(req))
}

// EstimateFare handles POST /v1/rides/estimate
func (h *RideHandler) EstimateFare(c *gin.Context) {
	var body EstimateFareBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	pickup, ok := body.Pickup.point()
	if !ok {
		respondError(c, service.ErrInvalidPickupLocation)
		return
	}
	dropoff, ok := body.Dropoff.point()
	if !ok {
		respondError(c, service.ErrInvalidDropoffLocation)
		return
	}

	estimate, err := h.rideService.EstimateFare(c.Request.Context(), pickup, dropoff)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, estimate)
}
