package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"ticketline/internal/status"
	"ticketline/services"
	"ticketline/store"
)

// Reserver is the slice of ReservationService the handler depends on.
type Reserver interface {
	Reserve(ctx context.Context, req services.ReserveRequest) (*services.ReserveResult, error)
}

type BookingHandler struct {
	app          *pocketbase.PocketBase
	reservations Reserver
	store        store.PaymentStore
}

func NewBookingHandler(app *pocketbase.PocketBase, reservations Reserver, st store.PaymentStore) *BookingHandler {
	return &BookingHandler{
		app:          app,
		reservations: reservations,
		store:        st,
	}
}

// Reserve - carve out tickets and open a checkout session
func (h *BookingHandler) Reserve(e *core.RequestEvent) error {
	var req services.ReserveRequest
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	// authenticated buyers are identified by their auth record
	if e.Auth != nil && req.BuyerID == "" {
		req.BuyerID = e.Auth.Id
		if req.BuyerEmail == "" {
			req.BuyerEmail = e.Auth.Email()
		}
	}

	result, err := h.reservations.Reserve(e.Request.Context(), req)
	if err != nil {
		return h.reserveError(e, err)
	}

	return e.JSON(http.StatusOK, result)
}

func (h *BookingHandler) reserveError(e *core.RequestEvent, err error) error {
	if available, ok := status.IsInsufficientInventory(err); ok {
		// plain JSON instead of an ApiError so the available count survives
		// the error data sanitization
		return e.JSON(http.StatusConflict, map[string]any{
			"message":   "Not enough tickets available",
			"available": available,
		})
	}

	switch {
	case errors.Is(err, status.ErrInvalidQuantity):
		return apis.NewBadRequestError("Quantity must be positive", err)
	case errors.Is(err, status.ErrTicketTypeNotFound):
		return apis.NewNotFoundError("Ticket type not found", err)
	case errors.Is(err, status.ErrInvalidSellerKey):
		return apis.NewBadRequestError("Seller key did not resolve", err)
	case errors.Is(err, status.ErrNoSellerAvailable):
		return apis.NewBadRequestError("No seller available for this event", err)
	case errors.Is(err, status.ErrMaxPerBuyerExceeded):
		return apis.NewApiError(http.StatusConflict, "Per-buyer ticket limit exceeded", nil)
	case errors.Is(err, status.ErrExternalGateway):
		return apis.NewApiError(http.StatusBadGateway, "Payment gateway unavailable, reservation released", nil)
	default:
		return apis.NewApiError(http.StatusInternalServerError, "Failed to reserve tickets", err)
	}
}

// GetPayment - payment status lookup for the checkout result page
func (h *BookingHandler) GetPayment(e *core.RequestEvent) error {
	paymentID := e.Request.PathValue("paymentId")
	if paymentID == "" {
		return apis.NewBadRequestError("Payment ID is required", nil)
	}

	payment, err := h.store.PaymentByID(e.Request.Context(), paymentID)
	if err != nil {
		return apis.NewNotFoundError("Payment not found", err)
	}

	return e.JSON(http.StatusOK, payment)
}
