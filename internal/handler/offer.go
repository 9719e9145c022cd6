package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"ridedispatch/internal/domain"
	"ridedispatch/internal/service"
)

// OfferResponder resolves a driver's answer to an offer.
type OfferResponder interface {
	RespondToOffer(ctx context.Context, offerID string, accept bool) (*domain.Offer, error)
}

// OfferHandler handles HTTP requests for offers.
type OfferHandler struct {
	responder OfferResponder
}

// NewOfferHandler creates a new OfferHandler.
func NewOfferHandler(responder OfferResponder) *OfferHandler {
	return &OfferHandler{responder: responder}
}

// RespondBody is the HTTP request body for answering an offer.
type RespondBody struct {
	Accept *bool `json:"accept"`
}

// OfferResponse is the HTTP response for an offer.
type OfferResponse struct {
	ID         string  `json:"id"`
	RequestID  string  `json:"request_id"`
	DriverID   string  `json:"driver_id"`
	State      string  `json:"state"`
	Reason     string  `json:"reason,omitempty"`
	EtaSeconds float64 `json:"eta_seconds"`
	ExpiresAt  string  `json:"expires_at"`
}

func toOfferResponse(o *domain.Offer) OfferResponse {
	return OfferResponse{
		ID:         o.ID,
		RequestID:  o.RequestID,
		DriverID:   o.DriverID,
		State:      string(o.State),
		Reason:     string(o.Reason),
		EtaSeconds: o.EtaSeconds,
		ExpiresAt:  o.ExpiresAt.UTC().Format(time.RFC3339),
	}
}

// Respond handles POST /v1/offers/:id/respond
func (h *OfferHandler) Respond(c *gin.Context) {
	var body RespondBody
	if err := c.ShouldBindJSON(&body); err != nil || body.Accept == nil {
		badRequest(c, "accept is required")
		return
	}

	offer, err := h.responder.RespondToOffer(c.Request.Context(), c.Param("id"), *body.Accept)
	if err != nil {
		if errors.Is(err, service.ErrOfferNotPending) && offer != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "offer": toOfferResponse(offer)})
			return
		}
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toOfferResponse(offer))
}
