package gateway

import (
	"context"
	"fmt"
	"strconv"

	"ticketline/internal/services/gateway/payline"
)

// PaylineAdapter wraps the Payline client to conform to PaymentGateway.
type PaylineAdapter struct {
	client *payline.Client
}

// NewPaylineAdapter creates a new Payline adapter
func NewPaylineAdapter(ctx context.Context, cfg *payline.Config) (*PaylineAdapter, error) {
	client, err := payline.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Payline client: %w", err)
	}

	return &PaylineAdapter{
		client: client,
	}, nil
}

// GetProvider returns the gateway provider type
func (a *PaylineAdapter) GetProvider() Provider {
	return ProviderPayline
}

// CreatePreference opens a Payline checkout session
func (a *PaylineAdapter) CreatePreference(ctx context.Context, req *PreferenceRequest) (*Preference, error) {
	items := make([]payline.PreferenceItem, len(req.Items))
	for i, it := range req.Items {
		items[i] = payline.PreferenceItem{
			Title:     it.Title,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		}
	}

	form := &payline.FormPreference{
		Items:             items,
		ExternalReference: req.ExternalReference,
		Payer:             payline.Payer{Email: req.PayerEmail},
		BackURLs: payline.BackURLs{
			Success: req.SuccessURL,
			Failure: req.FailureURL,
			Pending: req.PendingURL,
		},
		NotificationURL:  req.NotifyURL,
		Expires:          true,
		ExpirationDateTo: req.ExpiresAt,
	}

	pref, err := a.client.CreatePreference(ctx, form)
	if err != nil {
		return nil, err
	}

	return &Preference{
		ID:          pref.ID,
		CheckoutURL: pref.InitPoint,
	}, nil
}

// FetchPaymentStatus looks up the payment a webhook event refers to
func (a *PaylineAdapter) FetchPaymentStatus(ctx context.Context, eventID string) (*PaymentStatus, error) {
	payment, err := a.client.GetPayment(ctx, eventID)
	if err != nil {
		return nil, err
	}

	return &PaymentStatus{
		EventID:           strconv.FormatInt(payment.ID, 10),
		Status:            payment.Status,
		PreferenceID:      payment.PreferenceID,
		ExternalReference: payment.ExternalReference,
		StatusDetail:      payment.StatusDetail,
	}, nil
}

// VerifyWebhookSignature checks a webhook delivery's x-signature header
func (a *PaylineAdapter) VerifyWebhookSignature(signatureHeader, eventID string) error {
	return a.client.VerifySignature(signatureHeader, eventID)
}

// Close gracefully closes any connections
func (a *PaylineAdapter) Close(ctx context.Context) error {
	// Payline client keeps no persistent connections
	return nil
}
