package store

import (
	"context"
	"fmt"
	"time"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/types"
	"github.com/shopspring/decimal"

	"ticketline/internal/status"
	"ticketline/models"
)

// PBStore implements Store on top of the PocketBase app database. It is
// constructed once at process start and shared by every component; all
// correctness is delegated to the store's transactional isolation, there is
// no in-process locking here.
type PBStore struct {
	app core.App
}

func NewPBStore(app core.App) *PBStore {
	return &PBStore{app: app}
}

// ticketRow mirrors the tickets collection for direct dbx scans.
type ticketRow struct {
	ID            string         `db:"id"`
	TicketTypeID  string         `db:"ticket_type_id"`
	EventID       string         `db:"event_id"`
	BuyerID       string         `db:"buyer_id"`
	SellerID      string         `db:"seller_id"`
	QRCode        string         `db:"qr_code"`
	State         string         `db:"state"`
	ReservedUntil types.DateTime `db:"reserved_until"`
	Created       types.DateTime `db:"created"`
}

func (r ticketRow) toModel() models.Ticket {
	t := models.Ticket{
		ID:           r.ID,
		TicketTypeID: r.TicketTypeID,
		EventID:      r.EventID,
		BuyerID:      r.BuyerID,
		SellerID:     r.SellerID,
		QRCode:       r.QRCode,
		State:        r.State,
		Created:      r.Created.Time(),
	}
	if !r.ReservedUntil.IsZero() {
		until := r.ReservedUntil.Time()
		t.ReservedUntil = &until
	}
	return t
}

func (s *PBStore) TicketTypeByID(ctx context.Context, id string) (*models.TicketType, error) {
	rec, err := s.app.FindRecordById("ticket_types", id)
	if err != nil {
		return nil, status.ErrTicketTypeNotFound
	}
	return &models.TicketType{
		ID:          rec.Id,
		EventID:     rec.GetString("event_id"),
		Name:        rec.GetString("name"),
		UnitPrice:   decimal.NewFromFloat(rec.GetFloat("unit_price")),
		TotalCount:  rec.GetInt("total_count"),
		MaxPerBuyer: rec.GetInt("max_per_buyer"),
	}, nil
}

func (s *PBStore) SellerByQRKey(ctx context.Context, key string) (*models.Seller, error) {
	rec, err := s.app.FindFirstRecordByFilter("sellers", "qr_key = {:key}", dbx.Params{"key": key})
	if err != nil {
		return nil, status.ErrInvalidSellerKey
	}
	return sellerFromRecord(rec), nil
}

func (s *PBStore) DefaultSellerForProducer(ctx context.Context, producerID string) (*models.Seller, error) {
	rec, err := s.app.FindFirstRecordByFilter(
		"sellers",
		"producer_id = {:producer} && is_default = true",
		dbx.Params{"producer": producerID},
	)
	if err != nil {
		return nil, status.ErrNoSellerAvailable
	}
	return sellerFromRecord(rec), nil
}

func (s *PBStore) EventByID(ctx context.Context, id string) (*models.Event, error) {
	rec, err := s.app.FindRecordById("events", id)
	if err != nil {
		return nil, fmt.Errorf("event %s: %w", id, err)
	}
	return &models.Event{
		ID:         rec.Id,
		Name:       rec.GetString("name"),
		ProducerID: rec.GetString("producer_id"),
		Created:    rec.GetDateTime("created").Time(),
	}, nil
}

func sellerFromRecord(rec *core.Record) *models.Seller {
	return &models.Seller{
		ID:         rec.Id,
		Name:       rec.GetString("name"),
		Email:      rec.GetString("email"),
		ProducerID: rec.GetString("producer_id"),
		QRKey:      rec.GetString("qr_key"),
		IsDefault:  rec.GetBool("is_default"),
	}
}

// Reserve implements InventoryStore. Selection and transition run in one
// transaction; the transition is additionally guarded on state = available so
// two reservations racing for the last rows cannot both win them.
func (s *PBStore) Reserve(ctx context.Context, p ReserveParams) (*models.Payment, []models.Ticket, error) {
	var payment *models.Payment
	var tickets []models.Ticket

	err := s.app.RunInTransaction(func(txApp core.App) error {
		if p.BuyerID != "" && p.MaxPerBuyer > 0 {
			var held int
			err := txApp.DB().
				Select("count(*)").
				From("tickets").
				Where(dbx.HashExp{"ticket_type_id": p.TicketTypeID, "buyer_id": p.BuyerID}).
				AndWhere(dbx.Not(dbx.HashExp{"state": models.TicketAvailable})).
				Row(&held)
			if err != nil {
				return err
			}
			if held+p.Quantity > p.MaxPerBuyer {
				return status.ErrMaxPerBuyerExceeded
			}
		}

		rows := []ticketRow{}
		err := txApp.DB().
			Select("id", "ticket_type_id", "event_id", "buyer_id", "seller_id", "qr_code", "state", "reserved_until", "created").
			From("tickets").
			Where(dbx.HashExp{"ticket_type_id": p.TicketTypeID, "state": models.TicketAvailable}).
			OrderBy("created ASC", "id ASC").
			Limit(int64(p.Quantity)).
			All(&rows)
		if err != nil {
			return err
		}
		if len(rows) < p.Quantity {
			return &status.InsufficientInventoryError{Available: len(rows)}
		}

		ids := make([]string, len(rows))
		for i, r := range rows {
			ids[i] = r.ID
		}

		holdDT, err := types.ParseDateTime(p.HoldUntil.UTC())
		if err != nil {
			return err
		}
		nowDT := types.NowDateTime()

		res, err := txApp.DB().Update("tickets",
			dbx.Params{
				"state":          models.TicketReserved,
				"buyer_id":       p.BuyerID,
				"seller_id":      p.SellerID,
				"reserved_until": holdDT.String(),
				"updated":        nowDT.String(),
			},
			dbx.And(
				dbx.In("id", toAny(ids)...),
				dbx.HashExp{"state": models.TicketAvailable},
			),
		).Execute()
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n != int64(len(ids)) {
			return status.ErrConflict
		}

		col, err := txApp.FindCollectionByNameOrId("payments")
		if err != nil {
			return err
		}
		rec := core.NewRecord(col)
		rec.Set("buyer_id", p.BuyerID)
		rec.Set("buyer_email", p.BuyerEmail)
		rec.Set("amount", p.Amount.InexactFloat64())
		rec.Set("status", models.PaymentPending)
		rec.Set("ticket_ids", ids)
		rec.Set("ticket_type_id", p.TicketTypeID)
		rec.Set("seller_id", p.SellerID)
		rec.Set("quantity", p.Quantity)
		if err := txApp.Save(rec); err != nil {
			return err
		}

		payment = paymentFromRecord(rec)
		tickets = make([]models.Ticket, len(rows))
		for i, r := range rows {
			r.State = models.TicketReserved
			r.BuyerID = p.BuyerID
			r.SellerID = p.SellerID
			tickets[i] = r.toModel()
			until := p.HoldUntil
			tickets[i].ReservedUntil = &until
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return payment, tickets, nil
}

// ConfirmSold implements InventoryStore.
func (s *PBStore) ConfirmSold(ctx context.Context, paymentID, externalPaymentID string, codes map[string]string) error {
	return s.app.RunInTransaction(func(txApp core.App) error {
		rec, err := txApp.FindRecordById("payments", paymentID)
		if err != nil {
			return status.ErrPaymentNotFound
		}
		if rec.GetString("status") != models.PaymentPending {
			return status.ErrConflict
		}

		ids := rec.GetStringSlice("ticket_ids")
		var reserved int
		err = txApp.DB().
			Select("count(*)").
			From("tickets").
			Where(dbx.And(
				dbx.In("id", toAny(ids)...),
				dbx.HashExp{"state": models.TicketReserved},
			)).
			Row(&reserved)
		if err != nil {
			return err
		}
		if reserved != len(ids) {
			return status.ErrStaleReservation
		}

		nowDT := types.NowDateTime()
		for _, id := range ids {
			res, err := txApp.DB().Update("tickets",
				dbx.Params{
					"state":          models.TicketSold,
					"qr_code":        codes[id],
					"reserved_until": "",
					"updated":        nowDT.String(),
				},
				dbx.HashExp{"id": id, "state": models.TicketReserved},
			).Execute()
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n != 1 {
				return status.ErrConflict
			}
		}

		res, err := txApp.DB().Update("payments",
			dbx.Params{
				"status":              models.PaymentSuccess,
				"external_payment_id": externalPaymentID,
				"updated":             nowDT.String(),
			},
			dbx.HashExp{"id": paymentID, "status": models.PaymentPending},
		).Execute()
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return status.ErrConflict
		}
		return nil
	})
}

// FailPayment implements InventoryStore.
func (s *PBStore) FailPayment(ctx context.Context, paymentID, reason string) (int, error) {
	released := 0
	err := s.app.RunInTransaction(func(txApp core.App) error {
		rec, err := txApp.FindRecordById("payments", paymentID)
		if err != nil {
			return status.ErrPaymentNotFound
		}
		if rec.GetString("status") != models.PaymentPending {
			return status.ErrConflict
		}

		ids := rec.GetStringSlice("ticket_ids")
		nowDT := types.NowDateTime()

		res, err := txApp.DB().Update("tickets",
			dbx.Params{
				"state":          models.TicketAvailable,
				"buyer_id":       "",
				"seller_id":      "",
				"reserved_until": "",
				"updated":        nowDT.String(),
			},
			dbx.And(
				dbx.In("id", toAny(ids)...),
				dbx.HashExp{"state": models.TicketReserved},
			),
		).Execute()
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		released = int(n)

		res, err = txApp.DB().Update("payments",
			dbx.Params{
				"status":         models.PaymentFailure,
				"failure_reason": reason,
				"updated":        nowDT.String(),
			},
			dbx.HashExp{"id": paymentID, "status": models.PaymentPending},
		).Execute()
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return status.ErrConflict
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return released, nil
}

// ReleaseExpired implements InventoryStore. The predicate is part of the
// UPDATE itself, so a ticket confirmed to sold a moment before the sweep is
// never clobbered back to available.
func (s *PBStore) ReleaseExpired(ctx context.Context, now time.Time) (int, error) {
	nowDT, err := types.ParseDateTime(now.UTC())
	if err != nil {
		return 0, err
	}

	res, err := s.app.DB().Update("tickets",
		dbx.Params{
			"state":          models.TicketAvailable,
			"buyer_id":       "",
			"seller_id":      "",
			"reserved_until": "",
			"updated":        types.NowDateTime().String(),
		},
		dbx.And(
			dbx.HashExp{"state": models.TicketReserved},
			dbx.NewExp("reserved_until != '' AND reserved_until < {:now}", dbx.Params{"now": nowDT.String()}),
		),
	).Execute()
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *PBStore) CountAvailable(ctx context.Context, ticketTypeID string) (int, error) {
	var n int
	err := s.app.DB().
		Select("count(*)").
		From("tickets").
		Where(dbx.HashExp{"ticket_type_id": ticketTypeID, "state": models.TicketAvailable}).
		Row(&n)
	return n, err
}

func (s *PBStore) PaymentByID(ctx context.Context, id string) (*models.Payment, error) {
	rec, err := s.app.FindRecordById("payments", id)
	if err != nil {
		return nil, status.ErrPaymentNotFound
	}
	return paymentFromRecord(rec), nil
}

func (s *PBStore) PaymentByExternalReference(ctx context.Context, ref string) (*models.Payment, error) {
	if ref == "" {
		return nil, status.ErrPaymentNotFound
	}
	rec, err := s.app.FindFirstRecordByFilter(
		"payments",
		"external_preference_id = {:ref}",
		dbx.Params{"ref": ref},
	)
	if err != nil {
		return nil, status.ErrPaymentNotFound
	}
	return paymentFromRecord(rec), nil
}

func (s *PBStore) AttachPreference(ctx context.Context, paymentID, externalPreferenceID string) error {
	res, err := s.app.DB().Update("payments",
		dbx.Params{
			"external_preference_id": externalPreferenceID,
			"updated":                types.NowDateTime().String(),
		},
		dbx.HashExp{"id": paymentID, "status": models.PaymentPending},
	).Execute()
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return status.ErrConflict
	}
	return nil
}

func (s *PBStore) TicketsByIDs(ctx context.Context, ids []string) ([]models.Ticket, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows := []ticketRow{}
	err := s.app.DB().
		Select("id", "ticket_type_id", "event_id", "buyer_id", "seller_id", "qr_code", "state", "reserved_until", "created").
		From("tickets").
		Where(dbx.In("id", toAny(ids)...)).
		All(&rows)
	if err != nil {
		return nil, err
	}

	// preserve the caller's ordering
	byID := make(map[string]models.Ticket, len(rows))
	for _, r := range rows {
		byID[r.ID] = r.toModel()
	}
	tickets := make([]models.Ticket, 0, len(ids))
	for _, id := range ids {
		if t, ok := byID[id]; ok {
			tickets = append(tickets, t)
		}
	}
	return tickets, nil
}

func paymentFromRecord(rec *core.Record) *models.Payment {
	return &models.Payment{
		ID:                   rec.Id,
		BuyerID:              rec.GetString("buyer_id"),
		BuyerEmail:           rec.GetString("buyer_email"),
		Amount:               decimal.NewFromFloat(rec.GetFloat("amount")),
		Status:               rec.GetString("status"),
		ExternalPreferenceID: rec.GetString("external_preference_id"),
		ExternalPaymentID:    rec.GetString("external_payment_id"),
		TicketIDs:            rec.GetStringSlice("ticket_ids"),
		TicketTypeID:         rec.GetString("ticket_type_id"),
		SellerID:             rec.GetString("seller_id"),
		Quantity:             rec.GetInt("quantity"),
		FailureReason:        rec.GetString("failure_reason"),
		Created:              rec.GetDateTime("created").Time(),
		Updated:              rec.GetDateTime("updated").Time(),
	}
}

func toAny(ids []string) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}
