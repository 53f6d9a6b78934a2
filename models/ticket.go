package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Ticket states. The only legal transitions are
// available -> reserved -> sold and reserved -> available (release).
const (
	TicketAvailable = "available"
	TicketReserved  = "reserved"
	TicketSold      = "sold"
)

// Ticket is one individually redeemable admission unit. Rows are provisioned
// at catalog-setup time in the available state and cycle between states; the
// engine never creates or deletes them.
type Ticket struct {
	ID            string     `db:"id" json:"id"`
	TicketTypeID  string     `db:"ticket_type_id" json:"ticket_type_id"`
	EventID       string     `db:"event_id" json:"event_id"`
	BuyerID       string     `db:"buyer_id" json:"buyer_id,omitempty"`
	SellerID      string     `db:"seller_id" json:"seller_id,omitempty"`
	QRCode        string     `db:"qr_code" json:"qr_code,omitempty"`
	State         string     `db:"state" json:"state"`
	ReservedUntil *time.Time `db:"reserved_until" json:"reserved_until,omitempty"`
	Created       time.Time  `db:"created" json:"created"`
}

// TicketType is a sellable class of ticket ("General", "VIP") with a price
// and a capacity. TotalCount is advisory; real availability is counted from
// live ticket rows.
type TicketType struct {
	ID          string          `db:"id" json:"id"`
	EventID     string          `db:"event_id" json:"event_id"`
	Name        string          `db:"name" json:"name"`
	UnitPrice   decimal.Decimal `db:"unit_price" json:"unit_price"`
	TotalCount  int             `db:"total_count" json:"total_count"`
	MaxPerBuyer int             `db:"max_per_buyer" json:"max_per_buyer"`
}
