package di

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/platform/config"
	"github.com/hanko-field/orderflow/internal/repositories/memory"
	"github.com/hanko-field/orderflow/internal/shipping"
)

type nopCarrier struct{}

func (nopCarrier) QuoteFee(context.Context, shipping.QuoteRequest) (domain.FeeBreakdown, error) {
	return domain.FeeBreakdown{}, nil
}

func (nopCarrier) CreateShipment(context.Context, shipping.ShipmentRequest) (shipping.ShipmentLabel, error) {
	return shipping.ShipmentLabel{}, nil
}

func testConfig() config.Config {
	return config.Config{
		Orders:  config.OrderConfig{Currency: "VND", ReturnWindow: 7 * 24 * time.Hour},
		Storage: config.StorageConfig{EvidenceTTL: 15 * time.Minute},
		Shipping: config.ShippingConfig{
			OriginRecipient: "Warehouse",
			OriginLine1:     "1 Nguyen Hue",
			OriginProvince:  "HCM",
		},
	}
}

func TestNewContainerBuildsEveryService(t *testing.T) {
	store := memory.NewStore()

	container, err := NewContainer(context.Background(), testConfig(), store, Integrations{Carrier: nopCarrier{}})
	require.NoError(t, err)

	svc := container.Services
	assert.NotNil(t, svc.Cart)
	assert.NotNil(t, svc.Checkout)
	assert.NotNil(t, svc.Orders)
	assert.NotNil(t, svc.Payments)
	assert.NotNil(t, svc.Returns)
	assert.NotNil(t, svc.Audit)
	assert.NotNil(t, svc.Sweeper)
	assert.NotNil(t, svc.Vouchers)
	assert.NoError(t, container.Close(context.Background()))
}

func TestNewContainerRequiresRegistry(t *testing.T) {
	_, err := NewContainer(context.Background(), testConfig(), nil, Integrations{Carrier: nopCarrier{}})
	require.Error(t, err)
}

func TestNewContainerRequiresCarrierForCheckout(t *testing.T) {
	_, err := NewContainer(context.Background(), testConfig(), memory.NewStore(), Integrations{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checkout")
}

func TestShippingOrigin(t *testing.T) {
	origin := ShippingOrigin(testConfig().Shipping)

	assert.Equal(t, domain.Address{Recipient: "Warehouse", Line1: "1 Nguyen Hue", Province: "HCM"}, origin)
}
