package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"ticketline/config"
	"ticketline/internal/services/gateway"
	"ticketline/internal/status"
	"ticketline/models"
	"ticketline/monitoring"
	"ticketline/store"
	"ticketline/utils"
)

// ReservationService turns a purchase request into an atomic carve-out of
// inventory plus a pending payment, then opens a gateway checkout session for
// it. The carve-out commits first; the gateway call runs outside the
// transaction so a slow gateway never holds store locks, and a failed call is
// compensated by releasing the reservation it covered.
type ReservationService struct {
	store   store.Store
	gateway gateway.PaymentGateway
	breaker *utils.CircuitBreaker
	cfg     *config.Config
	logger  *slog.Logger

	// now is injectable for tests.
	now func() time.Time
}

func NewReservationService(st store.Store, gw gateway.PaymentGateway, cfg *config.Config, logger *slog.Logger) *ReservationService {
	return &ReservationService{
		store:   st,
		gateway: gw,
		breaker: utils.NewCircuitBreaker("gateway-preference"),
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

type ReserveRequest struct {
	TicketTypeID string `json:"ticket_type_id"`
	Quantity     int    `json:"quantity"`
	BuyerID      string `json:"buyer_id,omitempty"`
	BuyerEmail   string `json:"buyer_email,omitempty"`

	// SellerKey is a seller's public QR token. When absent the producing
	// organization's default seller is credited.
	SellerKey string `json:"seller_key,omitempty"`
}

type ReserveResult struct {
	PaymentID     string         `json:"payment_id"`
	CheckoutURL   string         `json:"checkout_url"`
	HoldExpiresAt time.Time      `json:"hold_expires_at"`
	Summary       ReserveSummary `json:"summary"`
}

type ReserveSummary struct {
	TicketTypeID   string          `json:"ticket_type_id"`
	TicketTypeName string          `json:"ticket_type_name"`
	Quantity       int             `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	Amount         decimal.Decimal `json:"amount"`
	TicketIDs      []string        `json:"ticket_ids"`
	SellerID       string          `json:"seller_id"`
}

// Reserve implements the reservation operation. On any precondition failure
// it returns before the first mutation; on a gateway failure after the
// carve-out committed it releases the reservation and fails the payment
// before returning status.ErrExternalGateway.
func (s *ReservationService) Reserve(ctx context.Context, req ReserveRequest) (*ReserveResult, error) {
	started := s.now()

	if req.Quantity <= 0 {
		return nil, status.ErrInvalidQuantity
	}

	tt, err := s.store.TicketTypeByID(ctx, req.TicketTypeID)
	if err != nil {
		return nil, err
	}

	seller, err := s.resolveSeller(ctx, req.SellerKey, tt)
	if err != nil {
		return nil, err
	}

	amount := tt.UnitPrice.Mul(decimal.NewFromInt(int64(req.Quantity)))
	holdUntil := s.now().Add(s.cfg.ReservationHold)

	payment, tickets, err := s.store.Reserve(ctx, store.ReserveParams{
		TicketTypeID: tt.ID,
		Quantity:     req.Quantity,
		BuyerID:      req.BuyerID,
		BuyerEmail:   req.BuyerEmail,
		SellerID:     seller.ID,
		Amount:       amount,
		HoldUntil:    holdUntil,
		MaxPerBuyer:  tt.MaxPerBuyer,
	})
	if err != nil {
		monitoring.TrackReservation(tt.ID, "rejected")
		return nil, err
	}

	pref, err := s.createPreference(ctx, payment, tt, req, holdUntil)
	if err != nil {
		// Compensating release: the reservation must not outlive a checkout
		// session that was never opened.
		if _, ferr := s.store.FailPayment(ctx, payment.ID, "payment preference creation failed"); ferr != nil {
			s.logger.Error("failed to release reservation after gateway error",
				"payment_id", payment.ID, "error", ferr)
		}
		monitoring.TrackReservation(tt.ID, "gateway_error")
		return nil, fmt.Errorf("%w: %v", status.ErrExternalGateway, err)
	}

	if err := s.store.AttachPreference(ctx, payment.ID, pref.ID); err != nil {
		if _, ferr := s.store.FailPayment(ctx, payment.ID, "failed to persist gateway preference"); ferr != nil {
			s.logger.Error("failed to release reservation after attach error",
				"payment_id", payment.ID, "error", ferr)
		}
		return nil, err
	}

	ticketIDs := make([]string, len(tickets))
	for i, t := range tickets {
		ticketIDs[i] = t.ID
	}

	monitoring.TrackReservation(tt.ID, "reserved")
	monitoring.TrackCheckoutDuration(s.now().Sub(started))

	s.logger.Info("reservation created",
		"payment_id", payment.ID,
		"ticket_type", tt.ID,
		"quantity", req.Quantity,
		"hold_expires_at", holdUntil,
	)

	return &ReserveResult{
		PaymentID:     payment.ID,
		CheckoutURL:   pref.CheckoutURL,
		HoldExpiresAt: holdUntil,
		Summary: ReserveSummary{
			TicketTypeID:   tt.ID,
			TicketTypeName: tt.Name,
			Quantity:       req.Quantity,
			UnitPrice:      tt.UnitPrice,
			Amount:         amount,
			TicketIDs:      ticketIDs,
			SellerID:       seller.ID,
		},
	}, nil
}

func (s *ReservationService) resolveSeller(ctx context.Context, sellerKey string, tt *models.TicketType) (*models.Seller, error) {
	if sellerKey != "" {
		return s.store.SellerByQRKey(ctx, sellerKey)
	}

	event, err := s.store.EventByID(ctx, tt.EventID)
	if err != nil {
		return nil, err
	}
	return s.store.DefaultSellerForProducer(ctx, event.ProducerID)
}

func (s *ReservationService) createPreference(ctx context.Context, payment *models.Payment, tt *models.TicketType, req ReserveRequest, holdUntil time.Time) (*gateway.Preference, error) {
	prefReq := &gateway.PreferenceRequest{
		ExternalReference: payment.ID,
		Items: []gateway.PreferenceItem{{
			Title:     tt.Name,
			Quantity:  req.Quantity,
			UnitPrice: tt.UnitPrice,
		}},
		PayerEmail: req.BuyerEmail,
		SuccessURL: s.cfg.BaseURL + "/checkout/success",
		FailureURL: s.cfg.BaseURL + "/checkout/failure",
		PendingURL: s.cfg.BaseURL + "/checkout/pending",
		NotifyURL:  s.cfg.BaseURL + "/api/v1/payments/webhook",
		ExpiresAt:  holdUntil,
	}

	res, err := s.breaker.Execute(ctx, func() (interface{}, error) {
		return s.gateway.CreatePreference(ctx, prefReq)
	})
	if err != nil {
		return nil, err
	}
	return res.(*gateway.Preference), nil
}
