package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"ticketline/internal/status"
	"ticketline/models"
)

// MemoryStore is a mutex-guarded Store used by tests and local tooling. It
// enforces the same conditional-transition semantics as PBStore: a transition
// whose precondition no longer holds fails without mutating anything.
type MemoryStore struct {
	mu sync.Mutex

	events      map[string]models.Event
	sellers     map[string]models.Seller
	ticketTypes map[string]models.TicketType
	tickets     map[string]*models.Ticket
	payments    map[string]*models.Payment

	ticketSeq  int
	paymentSeq int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:      map[string]models.Event{},
		sellers:     map[string]models.Seller{},
		ticketTypes: map[string]models.TicketType{},
		tickets:     map[string]*models.Ticket{},
		payments:    map[string]*models.Payment{},
	}
}

// AddEvent seeds an event.
func (s *MemoryStore) AddEvent(e models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[e.ID] = e
}

// AddSeller seeds a seller.
func (s *MemoryStore) AddSeller(sel models.Seller) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sellers[sel.ID] = sel
}

// AddTicketType seeds a ticket type and pre-provisions count available
// tickets for it, oldest first in insertion order.
func (s *MemoryStore) AddTicketType(tt models.TicketType, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticketTypes[tt.ID] = tt
	base := time.Now().Add(-time.Hour)
	for i := 0; i < count; i++ {
		s.ticketSeq++
		id := fmt.Sprintf("tkt-%04d", s.ticketSeq)
		s.tickets[id] = &models.Ticket{
			ID:           id,
			TicketTypeID: tt.ID,
			EventID:      tt.EventID,
			State:        models.TicketAvailable,
			Created:      base.Add(time.Duration(s.ticketSeq) * time.Second),
		}
	}
}

// Ticket returns a copy of the ticket, for assertions.
func (s *MemoryStore) Ticket(id string) (models.Ticket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return models.Ticket{}, false
	}
	return *t, true
}

// PaymentCount reports how many payment rows exist, for no-partial-effect
// assertions.
func (s *MemoryStore) PaymentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payments)
}

func (s *MemoryStore) TicketTypeByID(ctx context.Context, id string) (*models.TicketType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tt, ok := s.ticketTypes[id]
	if !ok {
		return nil, status.ErrTicketTypeNotFound
	}
	return &tt, nil
}

func (s *MemoryStore) SellerByQRKey(ctx context.Context, key string) (*models.Seller, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sel := range s.sellers {
		if sel.QRKey == key {
			out := sel
			return &out, nil
		}
	}
	return nil, status.ErrInvalidSellerKey
}

func (s *MemoryStore) DefaultSellerForProducer(ctx context.Context, producerID string) (*models.Seller, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sel := range s.sellers {
		if sel.ProducerID == producerID && sel.IsDefault {
			out := sel
			return &out, nil
		}
	}
	return nil, status.ErrNoSellerAvailable
}

func (s *MemoryStore) EventByID(ctx context.Context, id string) (*models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return nil, fmt.Errorf("event %s: not found", id)
	}
	return &e, nil
}

func (s *MemoryStore) Reserve(ctx context.Context, p ReserveParams) (*models.Payment, []models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ticketTypes[p.TicketTypeID]; !ok {
		return nil, nil, status.ErrTicketTypeNotFound
	}

	if p.BuyerID != "" && p.MaxPerBuyer > 0 {
		held := 0
		for _, t := range s.tickets {
			if t.TicketTypeID == p.TicketTypeID && t.BuyerID == p.BuyerID && t.State != models.TicketAvailable {
				held++
			}
		}
		if held+p.Quantity > p.MaxPerBuyer {
			return nil, nil, status.ErrMaxPerBuyerExceeded
		}
	}

	available := make([]*models.Ticket, 0, p.Quantity)
	for _, t := range s.tickets {
		if t.TicketTypeID == p.TicketTypeID && t.State == models.TicketAvailable {
			available = append(available, t)
		}
	}
	sort.Slice(available, func(i, j int) bool {
		if available[i].Created.Equal(available[j].Created) {
			return available[i].ID < available[j].ID
		}
		return available[i].Created.Before(available[j].Created)
	})

	if len(available) < p.Quantity {
		return nil, nil, &status.InsufficientInventoryError{Available: len(available)}
	}

	until := p.HoldUntil
	picked := available[:p.Quantity]
	ids := make([]string, len(picked))
	tickets := make([]models.Ticket, len(picked))
	for i, t := range picked {
		t.State = models.TicketReserved
		t.BuyerID = p.BuyerID
		t.SellerID = p.SellerID
		u := until
		t.ReservedUntil = &u
		ids[i] = t.ID
		tickets[i] = *t
	}

	s.paymentSeq++
	pay := &models.Payment{
		ID:           fmt.Sprintf("pay-%04d", s.paymentSeq),
		BuyerID:      p.BuyerID,
		BuyerEmail:   p.BuyerEmail,
		Amount:       p.Amount,
		Status:       models.PaymentPending,
		TicketIDs:    ids,
		TicketTypeID: p.TicketTypeID,
		SellerID:     p.SellerID,
		Quantity:     p.Quantity,
		Created:      time.Now(),
		Updated:      time.Now(),
	}
	s.payments[pay.ID] = pay

	out := *pay
	return &out, tickets, nil
}

func (s *MemoryStore) ConfirmSold(ctx context.Context, paymentID, externalPaymentID string, codes map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pay, ok := s.payments[paymentID]
	if !ok {
		return status.ErrPaymentNotFound
	}
	if pay.Status != models.PaymentPending {
		return status.ErrConflict
	}
	for _, id := range pay.TicketIDs {
		t, ok := s.tickets[id]
		if !ok || t.State != models.TicketReserved {
			return status.ErrStaleReservation
		}
	}
	for _, id := range pay.TicketIDs {
		t := s.tickets[id]
		t.State = models.TicketSold
		t.QRCode = codes[id]
		t.ReservedUntil = nil
	}
	pay.Status = models.PaymentSuccess
	pay.ExternalPaymentID = externalPaymentID
	pay.Updated = time.Now()
	return nil
}

func (s *MemoryStore) FailPayment(ctx context.Context, paymentID, reason string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pay, ok := s.payments[paymentID]
	if !ok {
		return 0, status.ErrPaymentNotFound
	}
	if pay.Status != models.PaymentPending {
		return 0, status.ErrConflict
	}
	released := 0
	for _, id := range pay.TicketIDs {
		t, ok := s.tickets[id]
		if !ok || t.State != models.TicketReserved {
			continue
		}
		t.State = models.TicketAvailable
		t.BuyerID = ""
		t.SellerID = ""
		t.ReservedUntil = nil
		released++
	}
	pay.Status = models.PaymentFailure
	pay.FailureReason = reason
	pay.Updated = time.Now()
	return released, nil
}

func (s *MemoryStore) ReleaseExpired(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	released := 0
	for _, t := range s.tickets {
		if t.State == models.TicketReserved && t.ReservedUntil != nil && t.ReservedUntil.Before(now) {
			t.State = models.TicketAvailable
			t.BuyerID = ""
			t.SellerID = ""
			t.ReservedUntil = nil
			released++
		}
	}
	return released, nil
}

func (s *MemoryStore) CountAvailable(ctx context.Context, ticketTypeID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tickets {
		if t.TicketTypeID == ticketTypeID && t.State == models.TicketAvailable {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) PaymentByID(ctx context.Context, id string) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pay, ok := s.payments[id]
	if !ok {
		return nil, status.ErrPaymentNotFound
	}
	out := *pay
	return &out, nil
}

func (s *MemoryStore) PaymentByExternalReference(ctx context.Context, ref string) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ref == "" {
		return nil, status.ErrPaymentNotFound
	}
	for _, pay := range s.payments {
		if pay.ExternalPreferenceID == ref {
			out := *pay
			return &out, nil
		}
	}
	return nil, status.ErrPaymentNotFound
}

func (s *MemoryStore) AttachPreference(ctx context.Context, paymentID, externalPreferenceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pay, ok := s.payments[paymentID]
	if !ok {
		return status.ErrPaymentNotFound
	}
	if pay.Status != models.PaymentPending {
		return status.ErrConflict
	}
	pay.ExternalPreferenceID = externalPreferenceID
	pay.Updated = time.Now()
	return nil
}

func (s *MemoryStore) TicketsByIDs(ctx context.Context, ids []string) ([]models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Ticket, 0, len(ids))
	for _, id := range ids {
		if t, ok := s.tickets[id]; ok {
			out = append(out, *t)
		}
	}
	return out, nil
}
