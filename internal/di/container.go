package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/platform/config"
	"github.com/hanko-field/orderflow/internal/platform/observability"
	"github.com/hanko-field/orderflow/internal/repositories"
	"github.com/hanko-field/orderflow/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Cart     services.CartService
	Checkout services.CheckoutService
	Orders   services.OrderService
	Payments services.PaymentService
	Returns  services.ReturnService
	Audit    services.AuditLogService
	Sweeper  services.DiscountSweepService
	Vouchers services.VoucherService
}

// Integrations carries the outbound adapters. Carrier is required by checkout; a nil Verifier
// rejects every payment notification.
type Integrations struct {
	Carrier  services.ShippingCarrier
	Payments services.PaymentProvider
	Verifier services.NotificationVerifier
	Events   services.OrderEventPublisher
	Evidence services.EvidenceURLSigner
	Logger   *zap.Logger
	Meter    metric.Meter
	Clock    func() time.Time
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Tests supply the in-memory registry.
func NewContainer(_ context.Context, cfg config.Config, reg repositories.Registry, deps Integrations) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(reg, cfg, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(reg repositories.Registry, cfg config.Config, deps Integrations) (Services, error) {
	var svc Services

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logFor := func(name string) func(context.Context, string, map[string]any) {
		return observability.ServiceLogger(logger.Named(name))
	}
	origin := ShippingOrigin(cfg.Shipping)

	auditSvc, err := services.NewAuditLogService(services.AuditLogServiceDeps{
		Repository: reg.AuditLogs(),
		Orders:     reg.Orders(),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build audit log service: %w", err)
	}
	svc.Audit = auditSvc

	voucherSvc, err := services.NewVoucherService(services.VoucherServiceDeps{Vouchers: reg.Vouchers()})
	if err != nil {
		return Services{}, fmt.Errorf("build voucher service: %w", err)
	}
	svc.Vouchers = voucherSvc

	calculator := services.NewPricingCalculator(services.PricingCalculatorDeps{Logger: logFor("pricing")})

	cartSvc, err := services.NewCartService(services.CartServiceDeps{
		Carts:           reg.Carts(),
		Products:        reg.Products(),
		Promotions:      reg.Promotions(),
		Vouchers:        voucherSvc,
		Calculator:      calculator,
		Carrier:         deps.Carrier,
		ShippingOrigin:  origin,
		UnitOfWork:      reg,
		Clock:           clock,
		DefaultCurrency: cfg.Orders.Currency,
		Logger:          logFor("cart"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart service: %w", err)
	}
	svc.Cart = cartSvc

	checkoutSvc, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Carts:          reg.Carts(),
		Products:       reg.Products(),
		Promotions:     reg.Promotions(),
		VoucherStore:   reg.Vouchers(),
		Vouchers:       voucherSvc,
		Orders:         reg.Orders(),
		AuditLogs:      reg.AuditLogs(),
		UnitOfWork:     reg,
		Calculator:     calculator,
		Carrier:        deps.Carrier,
		Payments:       deps.Payments,
		ShippingOrigin: origin,
		Events:         deps.Events,
		Meter:          deps.Meter,
		Clock:          clock,
		Logger:         logFor("checkout"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build checkout service: %w", err)
	}
	svc.Checkout = checkoutSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:     reg.Orders(),
		AuditLogs:  reg.AuditLogs(),
		Products:   reg.Products(),
		Vouchers:   reg.Vouchers(),
		UnitOfWork: reg,
		Carrier:    deps.Carrier,
		Events:     deps.Events,
		Clock:      clock,
		Logger:     logFor("orders"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	paymentSvc, err := services.NewPaymentService(services.PaymentServiceDeps{
		Orders:        reg.Orders(),
		Notifications: reg.PaymentNotifications(),
		AuditLogs:     reg.AuditLogs(),
		UnitOfWork:    reg,
		Verifier:      deps.Verifier,
		Events:        deps.Events,
		Meter:         deps.Meter,
		Clock:         clock,
		Logger:        logFor("payments"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build payment service: %w", err)
	}
	svc.Payments = paymentSvc

	returnSvc, err := services.NewReturnService(services.ReturnServiceDeps{
		Orders:       reg.Orders(),
		AuditLogs:    reg.AuditLogs(),
		UnitOfWork:   reg,
		Events:       deps.Events,
		Evidence:     deps.Evidence,
		ReturnWindow: cfg.Orders.ReturnWindow,
		EvidenceTTL:  cfg.Storage.EvidenceTTL,
		Clock:        clock,
		Logger:       logFor("returns"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build return service: %w", err)
	}
	svc.Returns = returnSvc

	sweeper, err := services.NewDiscountSweepService(services.DiscountSweepServiceDeps{
		Vouchers:   reg.Vouchers(),
		Promotions: reg.Promotions(),
		Logger:     logFor("discounts"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build discount sweep service: %w", err)
	}
	svc.Sweeper = sweeper

	return svc, nil
}

// ShippingOrigin maps the configured warehouse onto the address the carrier quotes from.
func ShippingOrigin(cfg config.ShippingConfig) domain.Address {
	return domain.Address{
		Recipient:    cfg.OriginRecipient,
		Phone:        cfg.OriginPhone,
		Line1:        cfg.OriginLine1,
		District:     cfg.OriginDistrict,
		Province:     cfg.OriginProvince,
		DistrictCode: cfg.OriginDistrictCode,
		WardCode:     cfg.OriginWardCode,
	}
}
