package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payment statuses. pending is the only non-terminal status; success and
// failure are terminal and never left.
const (
	PaymentPending = "pending"
	PaymentSuccess = "success"
	PaymentFailure = "failure"
)

// Payment covers exactly one reservation. TicketIDs is recorded at creation
// time and never changes; it is the sole linkage reconciliation uses to find
// the reserved tickets.
type Payment struct {
	ID                   string          `db:"id" json:"payment_id"`
	BuyerID              string          `db:"buyer_id" json:"buyer_id,omitempty"`
	BuyerEmail           string          `db:"buyer_email" json:"buyer_email,omitempty"`
	Amount               decimal.Decimal `db:"amount" json:"amount"`
	Status               string          `db:"status" json:"status"`
	ExternalPreferenceID string          `db:"external_preference_id" json:"external_preference_id,omitempty"`
	ExternalPaymentID    string          `db:"external_payment_id" json:"external_payment_id,omitempty"`
	TicketIDs            []string        `db:"-" json:"ticket_ids"`
	TicketTypeID         string          `db:"ticket_type_id" json:"ticket_type_id"`
	SellerID             string          `db:"seller_id" json:"seller_id,omitempty"`
	Quantity             int             `db:"quantity" json:"quantity"`
	FailureReason        string          `db:"failure_reason" json:"failure_reason,omitempty"`
	Created              time.Time       `db:"created" json:"created"`
	Updated              time.Time       `db:"updated" json:"updated"`
}

// Terminal reports whether the payment has reached a terminal status.
// Reconciliation treats any event for a terminal payment as a duplicate.
func (p *Payment) Terminal() bool {
	return p.Status == PaymentSuccess || p.Status == PaymentFailure
}
