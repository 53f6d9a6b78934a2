package handlers

import (
	"context"
	"net/http"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"ticketline/internal/services/gateway"
	"ticketline/monitoring"
	"ticketline/services"
)

// Reconciler is the slice of ReconcileService the handler depends on.
type Reconciler interface {
	Reconcile(ctx context.Context, ev services.ReconcileEvent) error
}

type PaymentHandler struct {
	app        *pocketbase.PocketBase
	gateway    gateway.PaymentGateway
	reconciler Reconciler
}

func NewPaymentHandler(app *pocketbase.PocketBase, gw gateway.PaymentGateway, reconciler Reconciler) *PaymentHandler {
	return &PaymentHandler{
		app:        app,
		gateway:    gw,
		reconciler: reconciler,
	}
}

type webhookRequest struct {
	Type string `json:"type"`
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

// Webhook - gateway notification ingress.
//
// The gateway retries on any non-2xx, so the response code is the ack
// protocol: 2xx means "consumed, do not resend" and 5xx means "resend
// later". Malformed or mis-signed requests get a 4xx because retrying
// them can never succeed.
func (h *PaymentHandler) Webhook(e *core.RequestEvent) error {
	var req webhookRequest
	if err := e.BindBody(&req); err != nil {
		monitoring.TrackWebhook("unknown", "malformed")
		return apis.NewBadRequestError("Invalid webhook payload", err)
	}

	if req.Type != "payment" {
		monitoring.TrackWebhook(req.Type, "ignored")
		return e.JSON(http.StatusOK, map[string]string{"status": "ignored"})
	}

	if req.Data.ID == "" {
		monitoring.TrackWebhook(req.Type, "malformed")
		return apis.NewBadRequestError("Missing payment id", nil)
	}

	signature := e.Request.Header.Get("X-Signature")
	if err := h.gateway.VerifyWebhookSignature(signature, req.Data.ID); err != nil {
		monitoring.TrackWebhook(req.Type, "bad_signature")
		return apis.NewUnauthorizedError("Invalid webhook signature", nil)
	}

	// The payload only carries the event id. The authoritative status
	// comes from the gateway itself, never from the notification body.
	ps, err := h.gateway.FetchPaymentStatus(e.Request.Context(), req.Data.ID)
	if err != nil {
		monitoring.TrackWebhook(req.Type, "fetch_failed")
		h.app.Logger().Error("webhook: payment status fetch failed",
			"event_id", req.Data.ID,
			"error", err,
		)
		return apis.NewApiError(http.StatusBadGateway, "Payment status fetch failed", nil)
	}

	event := services.ReconcileEvent{
		EventID:           ps.EventID,
		Status:            ps.Status,
		StatusDetail:      ps.StatusDetail,
		ExternalReference: ps.ExternalReference,
		PreferenceID:      ps.PreferenceID,
	}

	if err := h.reconciler.Reconcile(e.Request.Context(), event); err != nil {
		monitoring.TrackWebhook(req.Type, "retry")
		h.app.Logger().Error("webhook: reconcile failed, asking for redelivery",
			"event_id", req.Data.ID,
			"status", ps.Status,
			"error", err,
		)
		return apis.NewApiError(http.StatusInternalServerError, "Reconciliation failed", nil)
	}

	monitoring.TrackWebhook(req.Type, "ok")
	return e.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
