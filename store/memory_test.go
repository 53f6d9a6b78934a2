package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticketline/internal/status"
	"ticketline/models"
)

func seedStore(t *testing.T, total int) *MemoryStore {
	t.Helper()

	s := NewMemoryStore()
	s.AddEvent(models.Event{ID: "evt-1", Name: "Launch Party", ProducerID: "prod-1"})
	s.AddSeller(models.Seller{ID: "sel-1", Name: "Box Office", ProducerID: "prod-1", QRKey: "qr-box", IsDefault: true})
	s.AddTicketType(models.TicketType{
		ID:        "tt-general",
		EventID:   "evt-1",
		Name:      "General",
		UnitPrice: decimal.NewFromInt(15000),
	}, total)
	return s
}

func reserveParams(qty int) ReserveParams {
	return ReserveParams{
		TicketTypeID: "tt-general",
		Quantity:     qty,
		BuyerID:      "buyer-1",
		BuyerEmail:   "buyer@example.com",
		SellerID:     "sel-1",
		Amount:       decimal.NewFromInt(15000).Mul(decimal.NewFromInt(int64(qty))),
		HoldUntil:    time.Now().Add(15 * time.Minute),
	}
}

func TestMemoryStore_ReserveCarvesOutOldestFirst(t *testing.T) {
	s := seedStore(t, 5)
	ctx := context.Background()

	payment, tickets, err := s.Reserve(ctx, reserveParams(2))
	require.NoError(t, err)

	assert.Equal(t, models.PaymentPending, payment.Status)
	assert.Equal(t, []string{"tkt-0001", "tkt-0002"}, payment.TicketIDs)
	require.Len(t, tickets, 2)
	for _, tk := range tickets {
		assert.Equal(t, models.TicketReserved, tk.State)
		assert.Equal(t, "buyer-1", tk.BuyerID)
		assert.NotNil(t, tk.ReservedUntil)
	}

	remaining, err := s.CountAvailable(ctx, "tt-general")
	require.NoError(t, err)
	assert.Equal(t, 3, remaining)
}

func TestMemoryStore_ReserveInsufficientInventory(t *testing.T) {
	s := seedStore(t, 3)
	ctx := context.Background()

	_, _, err := s.Reserve(ctx, reserveParams(5))
	require.Error(t, err)

	available, ok := status.IsInsufficientInventory(err)
	require.True(t, ok)
	assert.Equal(t, 3, available)

	// A rejected request leaves no trace: no payment row, no held tickets.
	assert.Equal(t, 0, s.PaymentCount())
	remaining, err := s.CountAvailable(ctx, "tt-general")
	require.NoError(t, err)
	assert.Equal(t, 3, remaining)
}

func TestMemoryStore_ReserveNeverOversells(t *testing.T) {
	const total = 10
	const workers = 50

	s := seedStore(t, total)
	ctx := context.Background()

	var wg sync.WaitGroup
	reserved := make(chan int, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			p := reserveParams(1)
			p.BuyerID = fmt.Sprintf("buyer-%d", n)
			if _, _, err := s.Reserve(ctx, p); err == nil {
				reserved <- 1
			}
		}(i)
	}
	wg.Wait()
	close(reserved)

	won := 0
	for range reserved {
		won++
	}
	assert.Equal(t, total, won)

	remaining, err := s.CountAvailable(ctx, "tt-general")
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)
}

func TestMemoryStore_MaxPerBuyerAcrossRequests(t *testing.T) {
	s := NewMemoryStore()
	s.AddTicketType(models.TicketType{ID: "tt-general", EventID: "evt-1", Name: "General", MaxPerBuyer: 4}, 10)
	ctx := context.Background()

	p := reserveParams(3)
	p.MaxPerBuyer = 4
	_, _, err := s.Reserve(ctx, p)
	require.NoError(t, err)

	p = reserveParams(2)
	p.MaxPerBuyer = 4
	_, _, err = s.Reserve(ctx, p)
	assert.ErrorIs(t, err, status.ErrMaxPerBuyerExceeded)

	// A different buyer is unaffected by the first buyer's holds.
	p = reserveParams(2)
	p.BuyerID = "buyer-2"
	p.MaxPerBuyer = 4
	_, _, err = s.Reserve(ctx, p)
	assert.NoError(t, err)
}

func TestMemoryStore_ConfirmSoldStampsCodes(t *testing.T) {
	s := seedStore(t, 4)
	ctx := context.Background()

	payment, _, err := s.Reserve(ctx, reserveParams(2))
	require.NoError(t, err)

	codes := map[string]string{
		payment.TicketIDs[0]: "CODEAAAA",
		payment.TicketIDs[1]: "CODEBBBB",
	}
	require.NoError(t, s.ConfirmSold(ctx, payment.ID, "gw-555", codes))

	got, err := s.PaymentByID(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentSuccess, got.Status)
	assert.Equal(t, "gw-555", got.ExternalPaymentID)

	for id, code := range codes {
		tk, ok := s.Ticket(id)
		require.True(t, ok)
		assert.Equal(t, models.TicketSold, tk.State)
		assert.Equal(t, code, tk.QRCode)
		assert.Nil(t, tk.ReservedUntil)
	}
}

func TestMemoryStore_ConfirmSoldOnSettledPayment(t *testing.T) {
	s := seedStore(t, 4)
	ctx := context.Background()

	payment, _, err := s.Reserve(ctx, reserveParams(1))
	require.NoError(t, err)
	codes := map[string]string{payment.TicketIDs[0]: "CODEAAAA"}
	require.NoError(t, s.ConfirmSold(ctx, payment.ID, "gw-1", codes))

	err = s.ConfirmSold(ctx, payment.ID, "gw-1", codes)
	assert.ErrorIs(t, err, status.ErrConflict)
}

func TestMemoryStore_ConfirmSoldAfterHoldReleased(t *testing.T) {
	s := seedStore(t, 4)
	ctx := context.Background()

	p := reserveParams(2)
	p.HoldUntil = time.Now().Add(-time.Minute)
	payment, _, err := s.Reserve(ctx, p)
	require.NoError(t, err)

	released, err := s.ReleaseExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, released)

	err = s.ConfirmSold(ctx, payment.ID, "gw-1", map[string]string{
		payment.TicketIDs[0]: "A", payment.TicketIDs[1]: "B",
	})
	assert.ErrorIs(t, err, status.ErrStaleReservation)

	// The payment stays pending and ticket state is untouched.
	got, err := s.PaymentByID(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPending, got.Status)
	for _, id := range payment.TicketIDs {
		tk, _ := s.Ticket(id)
		assert.Equal(t, models.TicketAvailable, tk.State)
	}
}

func TestMemoryStore_FailPaymentReleasesReservation(t *testing.T) {
	s := seedStore(t, 4)
	ctx := context.Background()

	payment, _, err := s.Reserve(ctx, reserveParams(3))
	require.NoError(t, err)

	released, err := s.FailPayment(ctx, payment.ID, "gateway reported rejected")
	require.NoError(t, err)
	assert.Equal(t, 3, released)

	got, err := s.PaymentByID(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentFailure, got.Status)
	assert.Equal(t, "gateway reported rejected", got.FailureReason)

	remaining, err := s.CountAvailable(ctx, "tt-general")
	require.NoError(t, err)
	assert.Equal(t, 4, remaining)

	// Releasing twice is a conflict, not a double release.
	_, err = s.FailPayment(ctx, payment.ID, "again")
	assert.ErrorIs(t, err, status.ErrConflict)
}

func TestMemoryStore_ReleaseExpiredSkipsLiveHolds(t *testing.T) {
	s := seedStore(t, 6)
	ctx := context.Background()

	expired := reserveParams(2)
	expired.HoldUntil = time.Now().Add(-time.Minute)
	_, _, err := s.Reserve(ctx, expired)
	require.NoError(t, err)

	live := reserveParams(2)
	live.BuyerID = "buyer-2"
	_, _, err = s.Reserve(ctx, live)
	require.NoError(t, err)

	released, err := s.ReleaseExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, released)

	remaining, err := s.CountAvailable(ctx, "tt-general")
	require.NoError(t, err)
	assert.Equal(t, 4, remaining)

	// Nothing left to sweep on the next tick.
	released, err = s.ReleaseExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, released)
}

func TestMemoryStore_ReleasedTicketIsReservableAgain(t *testing.T) {
	s := seedStore(t, 1)
	ctx := context.Background()

	p := reserveParams(1)
	p.HoldUntil = time.Now().Add(-time.Minute)
	first, _, err := s.Reserve(ctx, p)
	require.NoError(t, err)

	_, err = s.ReleaseExpired(ctx, time.Now())
	require.NoError(t, err)

	second, _, err := s.Reserve(ctx, reserveParams(1))
	require.NoError(t, err)
	assert.Equal(t, first.TicketIDs, second.TicketIDs)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestMemoryStore_PaymentByExternalReference(t *testing.T) {
	s := seedStore(t, 2)
	ctx := context.Background()

	payment, _, err := s.Reserve(ctx, reserveParams(1))
	require.NoError(t, err)
	require.NoError(t, s.AttachPreference(ctx, payment.ID, "pref-abc"))

	got, err := s.PaymentByExternalReference(ctx, "pref-abc")
	require.NoError(t, err)
	assert.Equal(t, payment.ID, got.ID)

	_, err = s.PaymentByExternalReference(ctx, "")
	assert.ErrorIs(t, err, status.ErrPaymentNotFound)
}
