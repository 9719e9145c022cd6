package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"ridedispatch/internal/domain"
	"ridedispatch/internal/logging"
	"ridedispatch/internal/service"
)

// SessionServer serves a driver's realtime session on an upgraded connection.
type SessionServer interface {
	ServeDriver(w http.ResponseWriter, r *http.Request, driverID string) error
}

// DriverHandler handles HTTP requests for drivers.
type DriverHandler struct {
	driverService *service.DriverService
	sessions      SessionServer
	logger        *slog.Logger
}

// NewDriverHandler creates a new DriverHandler. sessions may be nil, in
// which case the websocket route answers 503.
func NewDriverHandler(driverService *service.DriverService, sessions SessionServer, logger *slog.Logger) *DriverHandler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &DriverHandler{driverService: driverService, sessions: sessions, logger: logger}
}

// RegisterDriverBody is the HTTP request body for driver registration.
type RegisterDriverBody struct {
	ID           string `json:"id"`
	VehicleClass string `json:"vehicle_class"`
}

// UpdateLocationBody is the HTTP request body for a location ping.
type UpdateLocationBody struct {
	Lat         *float64 `json:"lat"`
	Lng         *float64 `json:"lng"`
	Heading     float64  `json:"heading"`
	Speed       float64  `json:"speed"`
	TimestampMs int64    `json:"timestamp_ms"`
}

// AvailabilityBody is the HTTP request body for going on or off duty.
type AvailabilityBody struct {
	Available *bool `json:"available"`
}

// DriverResponse is the HTTP response for driver data.
type DriverResponse struct {
	ID                string        `json:"id"`
	VehicleClass      string        `json:"vehicle_class"`
	State             string        `json:"state"`
	Location          *domain.Point `json:"location,omitempty"`
	LocationUpdatedAt string        `json:"location_updated_at,omitempty"`
	OfferID           string        `json:"offer_id,omitempty"`
}

func toDriverResponse(d *domain.Driver) DriverResponse {
	resp := DriverResponse{
		ID:           d.ID,
		VehicleClass: string(d.VehicleClass),
		State:        string(d.State),
		OfferID:      d.OfferID,
	}
	if d.HasLocation {
		loc := d.Location
		resp.Location = &loc
		resp.LocationUpdatedAt = d.LocationUpdatedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

// NearbyDriverResponse is one entry of the nearby drivers listing.
type NearbyDriverResponse struct {
	DriverID       string       `json:"driver_id"`
	Location       domain.Point `json:"location"`
	VehicleClass   string       `json:"vehicle_class"`
	DistanceMeters float64      `json:"distance_meters"`
	EtaSeconds     float64      `json:"eta_seconds"`
}

// NearbyDriversResponse is the HTTP response for the nearby drivers listing.
type NearbyDriversResponse struct {
	Drivers []NearbyDriverResponse `json:"drivers"`
}

// Register handles POST /v1/drivers
func (h *DriverHandler) Register(c *gin.Context) {
	var body RegisterDriverBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	d, err := h.driverService.RegisterDriver(c.Request.Context(), body.ID, domain.VehicleClass(body.VehicleClass))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusCreated, toDriverResponse(d))
}

// GetDriver handles GET /v1/drivers/:id
func (h *DriverHandler) GetDriver(c *gin.Context) {
	d, err := h.driverService.GetDriver(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toDriverResponse(d))
}

// UpdateLocation handles POST /v1/drivers/:id/location
func (h *DriverHandler) UpdateLocation(c *gin.Context) {
	var body UpdateLocationBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	if body.Lat == nil || body.Lng == nil {
		respondError(c, service.ErrInvalidLocation)
		return
	}

	applied, err := h.driverService.UpdateDriverLocation(c.Request.Context(), service.LocationUpdate{
		DriverID:    c.Param("id"),
		Location:    domain.Point{Lat: *body.Lat, Lng: *body.Lng},
		HeadingDeg:  body.Heading,
		SpeedMps:    body.Speed,
		TimestampMs: body.TimestampMs,
	})
	if err != nil && !applied {
		respondError(c, err)
		return
	}
	if err != nil {
		// Stored; the index catches up on the next ping.
		h.logger.WarnContext(c.Request.Context(), "location stored but not indexed", "driver_id", c.Param("id"), "error", err)
	}

	respondJSON(c, http.StatusOK, gin.H{"applied": applied})
}

// SetAvailability handles POST /v1/drivers/:id/availability
func (h *DriverHandler) SetAvailability(c *gin.Context) {
	var body AvailabilityBody
	if err := c.ShouldBindJSON(&body); err != nil || body.Available == nil {
		badRequest(c, "available is required")
		return
	}

	d, err := h.driverService.SetDriverAvailability(c.Request.Context(), c.Param("id"), *body.Available)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toDriverResponse(d))
}

// CompleteTrip handles POST /v1/drivers/:id/complete
func (h *DriverHandler) CompleteTrip(c *gin.Context) {
	d, err := h.driverService.CompleteTrip(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toDriverResponse(d))
}

// Connect handles GET /v1/drivers/:id/ws
func (h *DriverHandler) Connect(c *gin.Context) {
	if h.sessions == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "realtime sessions are disabled"})
		return
	}

	driverID := c.Param("id")
	if _, err := h.driverService.GetDriver(c.Request.Context(), driverID); err != nil {
		respondError(c, err)
		return
	}

	if err := h.sessions.ServeDriver(c.Writer, c.Request, driverID); err != nil {
		// The upgrader has already written the failure response.
		h.logger.WarnContext(c.Request.Context(), "websocket upgrade failed", "driver_id", driverID, "error", err)
	}
}

// Nearby handles GET /v1/drivers/nearby?lat=&lng=&radius=&class=&limit=
func (h *DriverHandler) Nearby(c *gin.Context) {
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lng, errLng := strconv.ParseFloat(c.Query("lng"), 64)
	if errLat != nil || errLng != nil {
		badRequest(c, "lat and lng are required")
		return
	}

	q := service.NearbyQuery{
		Center:       domain.Point{Lat: lat, Lng: lng},
		VehicleClass: domain.VehicleClass(c.Query("class")),
	}
	if v := c.Query("radius"); v != "" {
		radius, err := strconv.ParseFloat(v, 64)
		if err != nil {
			badRequest(c, "radius must be a number of meters")
			return
		}
		q.RadiusMeters = radius
	}
	if v := c.Query("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			badRequest(c, "limit must be a positive integer")
			return
		}
		q.Limit = limit
	}

	found, err := h.driverService.NearbyDrivers(c.Request.Context(), q)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := NearbyDriversResponse{Drivers: make([]NearbyDriverResponse, 0, len(found))}
	for _, d := range found {
		resp.Drivers = append(resp.Drivers, NearbyDriverResponse{
			DriverID:       d.DriverID,
			Location:       d.Location,
			VehicleClass:   string(d.VehicleClass),
			DistanceMeters: d.DistanceMeters,
			EtaSeconds:     d.ETA.Seconds(),
		})
	}
	respondJSON(c, http.StatusOK, resp)
}
