package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"ridedispatch/internal/domain"
	"ridedispatch/internal/repository"
	"ridedispatch/internal/service"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// PointBody is the JSON form of a coordinate.
type PointBody struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

// point converts the body, reporting false when a coordinate is missing.
func (p PointBody) point() (domain.Point, bool) {
	if p.Lat == nil || p.Lng == nil {
		return domain.Point{}, false
	}
	return domain.Point{Lat: *p.Lat, Lng: *p.Lng}, true
}

// respondError sends an error response with the appropriate HTTP status code.
func respondError(c *gin.Context, err error) {
	code := mapErrorToHTTPStatus(err)
	if code == http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(code, ErrorResponse{Error: err.Error()})
}

// respondJSON sends a JSON response with the given status code.
func respondJSON(c *gin.Context, code int, data any) {
	c.JSON(code, data)
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
}

// mapErrorToHTTPStatus maps service/repository errors to HTTP status codes.
func mapErrorToHTTPStatus(err error) int {
	switch {
	// Validation errors - Bad Request
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest

	// Not found errors
	case errors.Is(err, service.ErrRequestNotFound),
		errors.Is(err, service.ErrOfferNotFound),
		errors.Is(err, service.ErrUnknownDriver),
		errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound

	// Conflict errors
	case errors.Is(err, service.ErrDuplicateRequest),
		errors.Is(err, service.ErrDriverExists),
		errors.Is(err, service.ErrOfferNotPending),
		errors.Is(err, service.ErrRequestNotCancellable),
		errors.Is(err, service.ErrDriverBusy),
		errors.Is(err, service.ErrDriverNotOnTrip),
		errors.Is(err, repository.ErrStateConflict):
		return http.StatusConflict

	// Service unavailable
	case errors.Is(err, service.ErrNoDriversAvailable):
		return http.StatusServiceUnavailable

	// Default to internal server error
	default:
		return http.StatusInternalServerError
	}
}
