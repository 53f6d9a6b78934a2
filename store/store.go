package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"ticketline/models"
)

// ReserveParams describes one atomic carve-out of inventory. The amount and
// hold deadline are computed by the caller; the store only applies them.
type ReserveParams struct {
	TicketTypeID string
	Quantity     int
	BuyerID      string
	BuyerEmail   string
	SellerID     string
	Amount       decimal.Decimal
	HoldUntil    time.Time

	// MaxPerBuyer caps the buyer's reserved+sold tickets of this type after
	// the carve-out. Zero means no cap. Ignored for anonymous buyers.
	MaxPerBuyer int
}

// CatalogStore reads the immutable catalog side: ticket types and the seller
// directory.
type CatalogStore interface {
	TicketTypeByID(ctx context.Context, id string) (*models.TicketType, error)
	SellerByQRKey(ctx context.Context, key string) (*models.Seller, error)
	DefaultSellerForProducer(ctx context.Context, producerID string) (*models.Seller, error)
	EventByID(ctx context.Context, id string) (*models.Event, error)
}

// InventoryStore owns every ticket state transition. Each method is one
// atomic unit against the backing store; every transition is conditioned on
// the current state so a lost-update race between two actors is impossible.
// The loser observes zero affected rows and gets status.ErrConflict.
type InventoryStore interface {
	// Reserve selects up to Quantity available tickets of the type, oldest
	// first, transitions them to reserved and creates the pending payment
	// covering them, all in one transaction. When fewer than Quantity rows
	// are available it returns status.InsufficientInventoryError and performs
	// no mutation at all.
	Reserve(ctx context.Context, p ReserveParams) (*models.Payment, []models.Ticket, error)

	// ConfirmSold transitions all of the payment's tickets reserved -> sold,
	// stamping each with its redemption code, and the payment
	// pending -> success with the external payment id. If any ticket is no
	// longer reserved it returns status.ErrStaleReservation and mutates
	// nothing, leaving the payment pending.
	ConfirmSold(ctx context.Context, paymentID, externalPaymentID string, codes map[string]string) error

	// FailPayment releases any of the payment's tickets still reserved back
	// to available and transitions the payment pending -> failure with the
	// reason. Tickets already sold are left untouched. Returns the number of
	// tickets released.
	FailPayment(ctx context.Context, paymentID, reason string) (int, error)

	// ReleaseExpired returns every ticket whose hold has lapsed to available,
	// clearing buyer and deadline, in one bulk conditional update evaluated
	// against the store's current state. Returns the released count.
	ReleaseExpired(ctx context.Context, now time.Time) (int, error)

	CountAvailable(ctx context.Context, ticketTypeID string) (int, error)
}

// PaymentStore reads and annotates payment records.
type PaymentStore interface {
	PaymentByID(ctx context.Context, id string) (*models.Payment, error)

	// PaymentByExternalReference resolves the payment a gateway event belongs
	// to via the indexed external preference id. Returns
	// status.ErrPaymentNotFound when nothing matches.
	PaymentByExternalReference(ctx context.Context, ref string) (*models.Payment, error)

	// AttachPreference records the gateway's preference id and checkout
	// reference on a pending payment.
	AttachPreference(ctx context.Context, paymentID, externalPreferenceID string) error

	TicketsByIDs(ctx context.Context, ids []string) ([]models.Ticket, error)
}

// Store is the full surface the engine is wired with at startup.
type Store interface {
	CatalogStore
	InventoryStore
	PaymentStore
}
