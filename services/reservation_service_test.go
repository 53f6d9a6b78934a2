package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticketline/config"
	"ticketline/internal/services/gateway"
	"ticketline/internal/status"
	"ticketline/models"
	"ticketline/store"
)

type stubGateway struct {
	prefErr  error
	statuses map[string]*gateway.PaymentStatus
	created  []*gateway.PreferenceRequest
}

func (g *stubGateway) GetProvider() gateway.Provider { return "stub" }

func (g *stubGateway) CreatePreference(ctx context.Context, req *gateway.PreferenceRequest) (*gateway.Preference, error) {
	g.created = append(g.created, req)
	if g.prefErr != nil {
		return nil, g.prefErr
	}
	return &gateway.Preference{ID: "pref-1", CheckoutURL: "https://checkout.test/pref-1"}, nil
}

func (g *stubGateway) FetchPaymentStatus(ctx context.Context, eventID string) (*gateway.PaymentStatus, error) {
	ps, ok := g.statuses[eventID]
	if !ok {
		return nil, errors.New("unknown payment")
	}
	return ps, nil
}

func (g *stubGateway) VerifyWebhookSignature(signatureHeader, eventID string) error { return nil }

func (g *stubGateway) Close(ctx context.Context) error { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	return &config.Config{
		BaseURL:         "https://tickets.test",
		ReservationHold: 15 * time.Minute,
	}
}

func seedCatalog(total int, maxPerBuyer int) *store.MemoryStore {
	s := store.NewMemoryStore()
	s.AddEvent(models.Event{ID: "evt-1", Name: "Launch Party", ProducerID: "prod-1"})
	s.AddSeller(models.Seller{ID: "sel-default", Name: "Box Office", ProducerID: "prod-1", QRKey: "qr-box", IsDefault: true})
	s.AddSeller(models.Seller{ID: "sel-street", Name: "Street Team", ProducerID: "prod-1", QRKey: "qr-street"})
	s.AddTicketType(models.TicketType{
		ID:          "tt-general",
		EventID:     "evt-1",
		Name:        "General",
		UnitPrice:   decimal.NewFromInt(15000),
		TotalCount:  total,
		MaxPerBuyer: maxPerBuyer,
	}, total)
	return s
}

func TestReservationService_Reserve(t *testing.T) {
	st := seedCatalog(5, 0)
	gw := &stubGateway{}
	svc := NewReservationService(st, gw, testConfig(), testLogger())

	result, err := svc.Reserve(context.Background(), ReserveRequest{
		TicketTypeID: "tt-general",
		Quantity:     2,
		BuyerID:      "buyer-1",
		BuyerEmail:   "buyer@example.com",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, result.PaymentID)
	assert.Equal(t, "https://checkout.test/pref-1", result.CheckoutURL)
	assert.True(t, decimal.NewFromInt(30000).Equal(result.Summary.Amount))
	assert.Len(t, result.Summary.TicketIDs, 2)
	assert.Equal(t, "sel-default", result.Summary.SellerID)

	// The checkout session carries our payment id as the external reference
	// and expires with the hold.
	require.Len(t, gw.created, 1)
	assert.Equal(t, result.PaymentID, gw.created[0].ExternalReference)
	assert.Equal(t, result.HoldExpiresAt, gw.created[0].ExpiresAt)
	assert.Equal(t, "https://tickets.test/api/v1/payments/webhook", gw.created[0].NotifyURL)

	payment, err := st.PaymentByID(context.Background(), result.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPending, payment.Status)
	assert.Equal(t, "pref-1", payment.ExternalPreferenceID)

	remaining, err := st.CountAvailable(context.Background(), "tt-general")
	require.NoError(t, err)
	assert.Equal(t, 3, remaining)
}

func TestReservationService_ReserveSellerKey(t *testing.T) {
	st := seedCatalog(5, 0)
	svc := NewReservationService(st, &stubGateway{}, testConfig(), testLogger())

	result, err := svc.Reserve(context.Background(), ReserveRequest{
		TicketTypeID: "tt-general",
		Quantity:     1,
		BuyerID:      "buyer-1",
		SellerKey:    "qr-street",
	})
	require.NoError(t, err)
	assert.Equal(t, "sel-street", result.Summary.SellerID)

	_, err = svc.Reserve(context.Background(), ReserveRequest{
		TicketTypeID: "tt-general",
		Quantity:     1,
		BuyerID:      "buyer-2",
		SellerKey:    "qr-nope",
	})
	assert.ErrorIs(t, err, status.ErrInvalidSellerKey)
}

func TestReservationService_ReserveInvalidQuantity(t *testing.T) {
	svc := NewReservationService(seedCatalog(5, 0), &stubGateway{}, testConfig(), testLogger())

	_, err := svc.Reserve(context.Background(), ReserveRequest{TicketTypeID: "tt-general", Quantity: 0})
	assert.ErrorIs(t, err, status.ErrInvalidQuantity)

	_, err = svc.Reserve(context.Background(), ReserveRequest{TicketTypeID: "tt-general", Quantity: -3})
	assert.ErrorIs(t, err, status.ErrInvalidQuantity)
}

func TestReservationService_ReserveUnknownTicketType(t *testing.T) {
	svc := NewReservationService(seedCatalog(5, 0), &stubGateway{}, testConfig(), testLogger())

	_, err := svc.Reserve(context.Background(), ReserveRequest{TicketTypeID: "tt-nope", Quantity: 1})
	assert.ErrorIs(t, err, status.ErrTicketTypeNotFound)
}

func TestReservationService_ReserveInsufficientInventory(t *testing.T) {
	st := seedCatalog(3, 0)
	svc := NewReservationService(st, &stubGateway{}, testConfig(), testLogger())

	_, err := svc.Reserve(context.Background(), ReserveRequest{
		TicketTypeID: "tt-general",
		Quantity:     5,
		BuyerID:      "buyer-1",
	})
	require.Error(t, err)

	available, ok := status.IsInsufficientInventory(err)
	require.True(t, ok)
	assert.Equal(t, 3, available)

	// Nothing was carved out and no checkout session was opened.
	assert.Equal(t, 0, st.PaymentCount())
	remaining, _ := st.CountAvailable(context.Background(), "tt-general")
	assert.Equal(t, 3, remaining)
}

func TestReservationService_ReserveMaxPerBuyer(t *testing.T) {
	st := seedCatalog(10, 4)
	svc := NewReservationService(st, &stubGateway{}, testConfig(), testLogger())

	_, err := svc.Reserve(context.Background(), ReserveRequest{
		TicketTypeID: "tt-general", Quantity: 3, BuyerID: "buyer-1",
	})
	require.NoError(t, err)

	_, err = svc.Reserve(context.Background(), ReserveRequest{
		TicketTypeID: "tt-general", Quantity: 2, BuyerID: "buyer-1",
	})
	assert.ErrorIs(t, err, status.ErrMaxPerBuyerExceeded)
}

func TestReservationService_ReserveGatewayFailureReleases(t *testing.T) {
	st := seedCatalog(5, 0)
	gw := &stubGateway{prefErr: errors.New("payline: 502")}
	svc := NewReservationService(st, gw, testConfig(), testLogger())

	_, err := svc.Reserve(context.Background(), ReserveRequest{
		TicketTypeID: "tt-general",
		Quantity:     2,
		BuyerID:      "buyer-1",
	})
	assert.ErrorIs(t, err, status.ErrExternalGateway)

	// The carve-out was compensated: tickets are back in the pool and the
	// payment row survives as a failure audit record.
	remaining, _ := st.CountAvailable(context.Background(), "tt-general")
	assert.Equal(t, 5, remaining)

	require.Equal(t, 1, st.PaymentCount())
	payment, err := st.PaymentByID(context.Background(), "pay-0001")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentFailure, payment.Status)
	assert.Equal(t, "payment preference creation failed", payment.FailureReason)
}
