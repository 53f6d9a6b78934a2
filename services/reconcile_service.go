package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"ticketline/internal/services/gateway"
	"ticketline/internal/status"
	"ticketline/models"
	"ticketline/monitoring"
	"ticketline/store"
	"ticketline/utils"
)

// Notifier is the purchase-confirmation sink. Implementations are
// best-effort; a Send that fails must only log.
type Notifier interface {
	Send(ctx context.Context, notice PurchaseNotice)
}

// PurchaseNotice summarizes a confirmed purchase for the buyer.
type PurchaseNotice struct {
	PaymentID       string   `json:"payment_id"`
	BuyerID         string   `json:"buyer_id,omitempty"`
	BuyerEmail      string   `json:"buyer_email,omitempty"`
	TicketTypeID    string   `json:"ticket_type_id"`
	Quantity        int      `json:"quantity"`
	Amount          string   `json:"amount"`
	RedemptionCodes []string `json:"redemption_codes"`
}

// ReconcileEvent is one gateway status event after the webhook ingress has
// resolved it against the gateway (fetchPaymentStatus).
type ReconcileEvent struct {
	// EventID is the gateway's payment id, recorded on success.
	EventID string

	// Status is the gateway-reported payment status.
	Status string

	// ExternalReference is the reference we handed the gateway at preference
	// creation (the local payment id).
	ExternalReference string

	// PreferenceID is the gateway's checkout session id, stored indexed on
	// the payment at reservation time.
	PreferenceID string

	// StatusDetail optionally carries the gateway's reason for a terminal
	// status.
	StatusDetail string
}

// ReconcileService applies gateway status events to local payment and ticket
// state. Events are at-least-once, possibly duplicated, possibly out of
// order; every path here must be safe to replay. The terminal-status check on
// the payment row is the mandatory idempotency guard; the redis event cache
// in front of it only sheds duplicate deliveries cheaply.
type ReconcileService struct {
	store    store.Store
	notifier Notifier
	redis    *redis.Client
	logger   *slog.Logger

	// seenTTL bounds the dedupe cache. Events older than the reservation
	// hold cannot change state anyway.
	seenTTL time.Duration
}

func NewReconcileService(st store.Store, notifier Notifier, redisClient *redis.Client, logger *slog.Logger) *ReconcileService {
	return &ReconcileService{
		store:    st,
		notifier: notifier,
		redis:    redisClient,
		logger:   logger,
		seenTTL:  24 * time.Hour,
	}
}

// Reconcile advances or rolls back the payment the event refers to. A nil
// return means the event is settled and the gateway must not redeliver it; a
// non-nil return means a transient failure the gateway should retry.
func (s *ReconcileService) Reconcile(ctx context.Context, ev ReconcileEvent) error {
	if s.alreadySeen(ctx, ev.EventID) {
		s.logger.Info("duplicate gateway event dropped by cache", "event_id", ev.EventID)
		monitoring.TrackReconcile(ev.Status, "duplicate")
		return nil
	}

	payment, err := s.lookupPayment(ctx, ev)
	if err != nil {
		if errors.Is(err, status.ErrPaymentNotFound) {
			// Acknowledge so the gateway stops retrying; nothing local to fix.
			s.logger.Warn("gateway event references no local payment",
				"event_id", ev.EventID, "external_reference", ev.ExternalReference)
			monitoring.TrackReconcile(ev.Status, "payment_not_found")
			return nil
		}
		return err
	}

	if payment.Terminal() {
		s.logger.Info("duplicate gateway event for settled payment",
			"event_id", ev.EventID, "payment_id", payment.ID, "status", payment.Status)
		monitoring.TrackReconcile(ev.Status, "duplicate")
		s.markSeen(ctx, ev.EventID)
		return nil
	}

	switch ev.Status {
	case gateway.StatusApproved:
		if err := s.confirm(ctx, payment, ev); err != nil {
			return err
		}

	case gateway.StatusRejected, gateway.StatusCancelled:
		if err := s.fail(ctx, payment, ev); err != nil {
			return err
		}

	case gateway.StatusPending, gateway.StatusInProcess:
		s.logger.Info("gateway event still in flight",
			"event_id", ev.EventID, "payment_id", payment.ID, "status", ev.Status)
		monitoring.TrackReconcile(ev.Status, "noop")
		return nil

	default:
		s.logger.Warn("unrecognized gateway status, acknowledged without action",
			"event_id", ev.EventID, "payment_id", payment.ID, "status", ev.Status)
		monitoring.TrackReconcile(ev.Status, "unknown")
		return nil
	}

	s.markSeen(ctx, ev.EventID)
	return nil
}

// lookupPayment resolves the local payment from the references the event
// carries: the external reference we minted (the payment id itself) first,
// then the indexed preference id.
func (s *ReconcileService) lookupPayment(ctx context.Context, ev ReconcileEvent) (*models.Payment, error) {
	if ev.ExternalReference != "" {
		payment, err := s.store.PaymentByID(ctx, ev.ExternalReference)
		if err == nil {
			return payment, nil
		}
		if !errors.Is(err, status.ErrPaymentNotFound) {
			return nil, err
		}
	}
	return s.store.PaymentByExternalReference(ctx, ev.PreferenceID)
}

func (s *ReconcileService) confirm(ctx context.Context, payment *models.Payment, ev ReconcileEvent) error {
	codes := make(map[string]string, len(payment.TicketIDs))
	for _, id := range payment.TicketIDs {
		code, err := utils.RedemptionCode()
		if err != nil {
			return err
		}
		codes[id] = code
	}

	err := s.store.ConfirmSold(ctx, payment.ID, ev.EventID, codes)
	switch {
	case err == nil:

	case errors.Is(err, status.ErrStaleReservation):
		// The hold lapsed (or a race resolved against us) before the approval
		// arrived. Leave the payment pending for out-of-band resolution; do
		// not touch ticket state.
		s.logger.Error("approved payment covers tickets no longer reserved",
			"payment_id", payment.ID, "event_id", ev.EventID)
		monitoring.TrackReconcile(ev.Status, "stale_reservation")
		return nil

	case errors.Is(err, status.ErrConflict):
		// A concurrent duplicate delivery settled the payment first.
		monitoring.TrackReconcile(ev.Status, "duplicate")
		return nil

	default:
		return err
	}

	monitoring.TrackReconcile(ev.Status, "confirmed")
	s.logger.Info("payment confirmed, tickets sold",
		"payment_id", payment.ID, "quantity", len(payment.TicketIDs))

	// Fire-and-forget: a notification failure must never unwind a sale.
	ordered := make([]string, 0, len(payment.TicketIDs))
	for _, id := range payment.TicketIDs {
		ordered = append(ordered, codes[id])
	}
	s.notifier.Send(ctx, PurchaseNotice{
		PaymentID:       payment.ID,
		BuyerID:         payment.BuyerID,
		BuyerEmail:      payment.BuyerEmail,
		TicketTypeID:    payment.TicketTypeID,
		Quantity:        payment.Quantity,
		Amount:          payment.Amount.String(),
		RedemptionCodes: ordered,
	})
	return nil
}

func (s *ReconcileService) fail(ctx context.Context, payment *models.Payment, ev ReconcileEvent) error {
	reason := fmt.Sprintf("gateway reported %s", ev.Status)
	if ev.StatusDetail != "" {
		reason = fmt.Sprintf("%s: %s", reason, ev.StatusDetail)
	}

	released, err := s.store.FailPayment(ctx, payment.ID, reason)
	switch {
	case err == nil:

	case errors.Is(err, status.ErrConflict):
		monitoring.TrackReconcile(ev.Status, "duplicate")
		return nil

	default:
		return err
	}

	monitoring.TrackReconcile(ev.Status, "released")
	s.logger.Info("payment failed, reservation released",
		"payment_id", payment.ID, "released", released, "reason", reason)
	return nil
}

// alreadySeen reports whether the event id is in the dedupe cache. Cache
// errors degrade to "not seen": the terminal-status guard still holds.
func (s *ReconcileService) alreadySeen(ctx context.Context, eventID string) bool {
	if s.redis == nil || eventID == "" {
		return false
	}
	n, err := s.redis.Exists(ctx, seenKey(eventID)).Result()
	if err != nil {
		return false
	}
	return n > 0
}

// markSeen records a settled event id. Only called after the event's effect
// is durably committed, so a crash in between replays instead of skipping.
func (s *ReconcileService) markSeen(ctx context.Context, eventID string) {
	if s.redis == nil || eventID == "" {
		return
	}
	if err := s.redis.Set(ctx, seenKey(eventID), 1, s.seenTTL).Err(); err != nil {
		s.logger.Warn("failed to record gateway event in dedupe cache",
			"event_id", eventID, "error", err)
	}
}

func seenKey(eventID string) string {
	return fmt.Sprintf("payment_event:%s", eventID)
}
