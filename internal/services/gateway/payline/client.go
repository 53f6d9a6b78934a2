package payline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
)

type Config struct {
	BaseURL       string `json:"base_url" mapstructure:"base_url"`
	AccessToken   string `json:"access_token" mapstructure:"access_token"`
	WebhookSecret string `json:"webhook_secret" mapstructure:"webhook_secret"`
}

// Client talks to the Payline checkout backend.
type Client struct {
	// baseURL is the base url of the Payline backend.
	baseURL string

	// accessToken is the bearer token used to authenticate with Payline.
	accessToken string

	// webhookSecret is the shared HMAC key for webhook signatures.
	webhookSecret string

	// hc is the http client.
	hc *http.Client
}

// New creates new instance of Payline client.
func New(_ context.Context, cfg *Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("payline: base url is required")
	}

	return &Client{
		baseURL:       cfg.BaseURL,
		accessToken:   cfg.AccessToken,
		webhookSecret: cfg.WebhookSecret,

		// set http client with timeout.
		hc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}, nil
}

// FormPreference is the payload for opening a checkout session.
type FormPreference struct {
	Items             []PreferenceItem `json:"items"`
	ExternalReference string           `json:"external_reference"`
	Payer             Payer            `json:"payer"`
	BackURLs          BackURLs         `json:"back_urls"`
	NotificationURL   string           `json:"notification_url"`
	Expires           bool             `json:"expires"`
	ExpirationDateTo  time.Time        `json:"expiration_date_to"`
}

type PreferenceItem struct {
	Title     string          `json:"title"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type Payer struct {
	Email string `json:"email,omitempty"`
}

type BackURLs struct {
	Success string `json:"success"`
	Failure string `json:"failure"`
	Pending string `json:"pending"`
}

// PreferenceResponse is the gateway's checkout session.
type PreferenceResponse struct {
	ID        string `json:"id"`
	InitPoint string `json:"init_point"`
}

// PaymentResponse is the gateway's record of a payment, looked up by the id
// a webhook event carries.
type PaymentResponse struct {
	ID                int64  `json:"id"`
	Status            string `json:"status"`
	StatusDetail      string `json:"status_detail"`
	PreferenceID      string `json:"preference_id"`
	ExternalReference string `json:"external_reference"`
}

type errorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// CreatePreference opens a checkout session and returns its id and the
// init point URL the buyer is redirected to.
func (c *Client) CreatePreference(ctx context.Context, form *FormPreference) (*PreferenceResponse, error) {
	body, err := json.Marshal(form)
	if err != nil {
		return nil, fmt.Errorf("payline: marshal preference: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/checkout/preferences", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("payline: create preference: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, c.asError(resp)
	}

	var pref PreferenceResponse
	if err := json.NewDecoder(resp.Body).Decode(&pref); err != nil {
		return nil, fmt.Errorf("payline: decode preference: %w", err)
	}
	return &pref, nil
}

// GetPayment fetches the payment a webhook event refers to.
func (c *Client) GetPayment(ctx context.Context, paymentID string) (*PaymentResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/payments/"+url.PathEscape(paymentID), nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("payline: get payment: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, c.asError(resp)
	}

	var payment PaymentResponse
	if err := json.NewDecoder(resp.Body).Decode(&payment); err != nil {
		return nil, fmt.Errorf("payline: decode payment: %w", err)
	}
	return &payment, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
}

func (c *Client) asError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var er errorResponse
	if err := json.Unmarshal(raw, &er); err == nil && er.Message != "" {
		return fmt.Errorf("payline: %s (http %d)", er.Message, resp.StatusCode)
	}
	return fmt.Errorf("payline: unexpected status %d", resp.StatusCode)
}
