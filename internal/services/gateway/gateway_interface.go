package gateway

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Provider represents different payment gateway types
type Provider string

const (
	ProviderPayline Provider = "payline"
)

// Gateway payment statuses as reported by status events. Reconciliation only
// dispatches on these; unknown values are logged and acknowledged.
const (
	StatusApproved  = "approved"
	StatusRejected  = "rejected"
	StatusCancelled = "cancelled"
	StatusPending   = "pending"
	StatusInProcess = "in_process"
)

// PreferenceItem is one line of a checkout preference.
type PreferenceItem struct {
	Title     string          `json:"title"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// PreferenceRequest asks the gateway to open a checkout session. The
// expiration bound equals the reservation hold deadline so the gateway never
// accepts money for seats the sweeper already reclaimed.
type PreferenceRequest struct {
	ExternalReference string
	Items             []PreferenceItem
	PayerEmail        string
	SuccessURL        string
	FailureURL        string
	PendingURL        string
	NotifyURL         string
	ExpiresAt         time.Time
}

// Preference is the gateway's answer: its reference id plus the URL the buyer
// is sent to.
type Preference struct {
	ID          string `json:"id"`
	CheckoutURL string `json:"checkout_url"`
}

// PaymentStatus is the gateway's view of a payment, fetched after a webhook
// event names its id.
type PaymentStatus struct {
	EventID           string `json:"event_id"`
	Status            string `json:"status"`
	PreferenceID      string `json:"preference_id"`
	ExternalReference string `json:"external_reference"`
	StatusDetail      string `json:"status_detail"`
}

// PaymentGateway defines the common interface for payment gateway providers.
type PaymentGateway interface {
	// GetProvider returns the gateway provider type
	GetProvider() Provider

	// CreatePreference opens a checkout session for a reservation
	CreatePreference(ctx context.Context, req *PreferenceRequest) (*Preference, error)

	// FetchPaymentStatus looks up the payment referenced by a webhook event
	FetchPaymentStatus(ctx context.Context, eventID string) (*PaymentStatus, error)

	// VerifyWebhookSignature checks the signature header of a webhook request
	VerifyWebhookSignature(signatureHeader, eventID string) error

	// Close gracefully closes any connections
	Close(ctx context.Context) error
}
