package gateway

import (
	"context"
	"fmt"

	"ticketline/internal/services/gateway/payline"
)

// Factory creates gateway instances by provider type.
type Factory struct{}

// NewFactory creates a new gateway factory
func NewFactory() *Factory {
	return &Factory{}
}

// CreateGateway creates a gateway instance based on provider type and configuration
func (f *Factory) CreateGateway(ctx context.Context, provider Provider, config interface{}) (PaymentGateway, error) {
	switch provider {
	case ProviderPayline:
		paylineConfig, ok := config.(*payline.Config)
		if !ok {
			return nil, fmt.Errorf("invalid Payline config type, expected *payline.Config")
		}
		return NewPaylineAdapter(ctx, paylineConfig)

	default:
		return nil, fmt.Errorf("unsupported gateway provider: %s", provider)
	}
}

// GetSupportedProviders returns list of supported gateway providers
func (f *Factory) GetSupportedProviders() []Provider {
	return []Provider{
		ProviderPayline,
	}
}
