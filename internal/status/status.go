package status

import (
	"errors"
	"fmt"
)

var (
	// Reservation preconditions. Callers get these before any mutation happens.
	ErrInvalidQuantity    = errors.New("reservation: quantity must be positive")
	ErrTicketTypeNotFound = errors.New("reservation: ticket type not found")
	ErrInvalidSellerKey   = errors.New("reservation: seller key did not resolve")
	ErrNoSellerAvailable  = errors.New("reservation: no default seller for producer")

	// ErrMaxPerBuyerExceeded is returned when the requested quantity would push
	// the buyer past the ticket type's per-buyer ceiling.
	ErrMaxPerBuyerExceeded = errors.New("reservation: max tickets per buyer exceeded")

	// ErrExternalGateway wraps a failed preference creation. The reservation is
	// compensated (tickets released, payment failed) before it is returned.
	ErrExternalGateway = errors.New("gateway: preference creation failed")

	// ErrPaymentNotFound means a gateway event referenced no local payment.
	// Reconciliation logs it and acknowledges; it must not trigger a retry storm.
	ErrPaymentNotFound = errors.New("reconcile: payment not found")

	// ErrStaleReservation means an approved event arrived for tickets that are
	// no longer reserved (expired and swept, or raced). The payment is left
	// pending for out-of-band resolution.
	ErrStaleReservation = errors.New("reconcile: reservation no longer held")

	// ErrConflict is the losing side of a conditional state transition: the
	// guarded update matched zero rows because another actor got there first.
	ErrConflict = errors.New("store: concurrent state transition lost")
)

// InsufficientInventoryError reports how many tickets were actually available
// when a reservation asked for more. The reserve call that returns it has made
// no mutation at all.
type InsufficientInventoryError struct {
	Available int
}

func (e *InsufficientInventoryError) Error() string {
	return fmt.Sprintf("reservation: insufficient inventory, %d available", e.Available)
}

// IsInsufficientInventory reports whether err is an InsufficientInventoryError
// and returns the available count when it is.
func IsInsufficientInventory(err error) (int, bool) {
	var ie *InsufficientInventoryError
	if errors.As(err, &ie) {
		return ie.Available, true
	}
	return 0, false
}
