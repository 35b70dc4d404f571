package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/payments"
	"github.com/hanko-field/orderflow/internal/platform/textutil"
	"github.com/hanko-field/orderflow/internal/repositories"
	"github.com/hanko-field/orderflow/internal/shipping"
)

const (
	orderIDPrefix      = "ord_"
	orderEventCreated  = "order.created"
	checkoutMeterScope = "github.com/hanko-field/orderflow/internal/services"
)

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Carts          repositories.CartRepository
	Products       repositories.ProductRepository
	Promotions     repositories.PromotionRepository
	VoucherStore   repositories.VoucherRepository
	Vouchers       VoucherService
	Orders         repositories.OrderRepository
	AuditLogs      repositories.AuditLogRepository
	UnitOfWork     repositories.UnitOfWork
	Calculator     *PricingCalculator
	Carrier        ShippingCarrier
	Payments       PaymentProvider
	ShippingOrigin Address
	Events         OrderEventPublisher
	Meter          metric.Meter
	Clock          func() time.Time
	IDGenerator    func() string
	Logger         func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	carts     repositories.CartRepository
	products  repositories.ProductRepository
	vouchers  repositories.VoucherRepository
	orders    repositories.OrderRepository
	audit     repositories.AuditLogRepository
	unit      repositories.UnitOfWork
	pricer    *cartPricer
	carrier   ShippingCarrier
	payments  PaymentProvider
	origin    Address
	lifecycle *lifecycle
	outcomes  metric.Int64Counter
	now       func() time.Time
	newID     func() string
	logger    func(ctx context.Context, event string, fields map[string]any)
}

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	switch {
	case deps.Carts == nil:
		return nil, errors.New("checkout service: cart repository is required")
	case deps.Products == nil:
		return nil, errors.New("checkout service: product repository is required")
	case deps.Orders == nil:
		return nil, errors.New("checkout service: order repository is required")
	case deps.UnitOfWork == nil:
		return nil, errors.New("checkout service: unit of work is required")
	case deps.Carrier == nil:
		return nil, errors.New("checkout service: shipping carrier is required")
	}

	lc := newLifecycle(deps.Orders, deps.AuditLogs, deps.UnitOfWork, deps.Events, deps.Clock, deps.IDGenerator, deps.Logger)

	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(checkoutMeterScope)
	}
	outcomes, err := meter.Int64Counter("checkout.outcomes", metric.WithDescription("Checkout attempts by outcome code"))
	if err != nil {
		lc.logger(context.Background(), "checkout.metric.register_failed", map[string]any{"error": err.Error()})
	}

	return &checkoutService{
		carts:     deps.Carts,
		products:  deps.Products,
		vouchers:  deps.VoucherStore,
		orders:    deps.Orders,
		audit:     deps.AuditLogs,
		unit:      deps.UnitOfWork,
		pricer:    newCartPricer(deps.Products, deps.Promotions, deps.Vouchers, deps.Calculator),
		carrier:   deps.Carrier,
		payments:  deps.Payments,
		origin:    deps.ShippingOrigin,
		lifecycle: lc,
		outcomes:  outcomes,
		now:       lc.clock,
		newID:     lc.newID,
		logger:    lc.logger,
	}, nil
}

// Checkout prices the cart, quotes shipping and, for online payment, creates the provider
// payment before any write. Stock decrements, voucher redemption, order insert and cart clear
// then commit in one transaction.
func (s *checkoutService) Checkout(ctx context.Context, cmd CheckoutCommand) (result CheckoutResult, err error) {
	ctx, span := tracer.Start(ctx, "checkout")
	defer func() {
		code := "ok"
		if err != nil {
			code = ErrorCode(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, code)
		}
		if s.outcomes != nil {
			s.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", code)))
		}
		span.End()
	}()

	customerID := strings.TrimSpace(cmd.CustomerID)
	if customerID == "" {
		return CheckoutResult{}, validationError("customer id is required")
	}
	method := domain.PaymentMethod(strings.ToUpper(strings.TrimSpace(string(cmd.PaymentMethod))))
	switch method {
	case domain.PaymentMethodCOD:
	case domain.PaymentMethodOnline:
		if s.payments == nil {
			return CheckoutResult{}, validationError("online payment is not available")
		}
	default:
		return CheckoutResult{}, validationError("payment method must be COD or ONLINE")
	}
	address, err := normalizeAddress(cmd.ShippingAddress)
	if err != nil {
		return CheckoutResult{}, err
	}
	span.SetAttributes(attribute.String("customer.id", customerID), attribute.String("payment.method", string(method)))

	cart, err := s.carts.Get(ctx, customerID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return CheckoutResult{}, validationError("cart is empty")
		}
		return CheckoutResult{}, mapRepositoryError(err, "cart", customerID)
	}
	if cart.IsEmpty() {
		return CheckoutResult{}, validationError("cart is empty")
	}

	now := s.now()
	priced, err := s.pricer.price(ctx, cart, now, true)
	if err != nil {
		return CheckoutResult{}, err
	}

	fee, err := s.carrier.QuoteFee(ctx, shipping.QuoteRequest{
		Origin:         s.origin,
		Destination:    address,
		Packages:       priced.packages(cart.Items),
		InsuranceValue: priced.pricing.PayableBeforeShipping,
	})
	if err != nil {
		s.logger(ctx, "checkout.shipping_quote.failed", map[string]any{"customerId": customerID, "error": err.Error()})
		return CheckoutResult{}, externalServiceError("shipping carrier", err)
	}
	if fee.Total < 0 {
		return CheckoutResult{}, externalServiceError("shipping carrier", errors.New("negative shipping fee"))
	}

	order := s.buildOrder(cart, priced, address, method, fee.Total, now)
	if !order.TotalsConsistent() {
		return CheckoutResult{}, validationError("order totals are inconsistent")
	}

	if method == domain.PaymentMethodOnline {
		session, err := s.payments.CreatePayment(ctx, payments.PaymentRequest{
			OrderID:     order.ID,
			Amount:      order.TotalAmount,
			Currency:    order.Currency,
			Description: "Order " + order.ID,
			ReturnURL:   strings.TrimSpace(cmd.ReturnURL),
			CustomerID:  customerID,
			Metadata:    textutil.CompactMap(map[string]string{"customerId": customerID, "voucher": order.VoucherCode}),
		})
		if err != nil {
			s.logger(ctx, "checkout.payment.failed", map[string]any{"orderId": order.ID, "provider": s.payments.Name(), "error": err.Error()})
			return CheckoutResult{}, externalServiceError("payment provider", err)
		}
		if order.TotalAmount > 0 && session.PayURL == "" {
			return CheckoutResult{}, externalServiceError("payment provider", errors.New("missing pay url"))
		}
		order.PaymentStatus = domain.PaymentStatusPending
		result.PaymentURL = session.PayURL
		result.ProviderTxnID = session.ProviderTxnID
	}

	err = s.unit.RunInTx(ctx, func(txCtx context.Context) error {
		// The order was priced from a cart read outside the transaction.
		current, err := s.carts.Get(txCtx, customerID)
		if err != nil {
			return mapRepositoryError(err, "cart", customerID)
		}
		if !sameCart(cart, current) {
			return newError(ErrConflict, "cart changed during checkout; review the cart and retry", map[string]any{"customerId": customerID})
		}
		for _, line := range quantitiesByProduct(order.Items) {
			if _, err := s.products.DecrementStock(txCtx, line.ProductID, line.Quantity); err != nil {
				return stockFailure(err, line.ProductID)
			}
		}
		if order.VoucherID != "" {
			if s.vouchers == nil {
				return errors.New("checkout service: voucher repository is not configured")
			}
			if _, err := s.vouchers.IncrementUsage(txCtx, order.VoucherID, customerID); err != nil {
				return voucherUsageFailure(err, order.VoucherCode)
			}
		}
		if err := s.orders.Insert(txCtx, order); err != nil {
			return mapRepositoryError(err, "order", order.ID)
		}
		if s.audit != nil {
			if err := s.audit.Append(txCtx, domain.AuditLogEntry{
				ID:         auditIDPrefix + s.newID(),
				OrderID:    order.ID,
				Action:     orderEventCreated,
				ToStatus:   order.Status,
				ActorID:    customerID,
				ActorRole:  domain.ActorRoleCustomer,
				OccurredAt: now,
				Metadata:   map[string]any{"paymentMethod": string(method), "totalAmount": order.TotalAmount},
			}); err != nil {
				return mapRepositoryError(err, "audit log", order.ID)
			}
		}
		if err := s.carts.Clear(txCtx, customerID, now); err != nil {
			return mapRepositoryError(err, "cart", customerID)
		}
		return nil
	})
	if err != nil {
		if result.ProviderTxnID != "" {
			s.logger(ctx, "checkout.payment.abandoned", map[string]any{
				"orderId":       order.ID,
				"providerTxnId": result.ProviderTxnID,
				"error":         err.Error(),
			})
		}
		return CheckoutResult{}, err
	}

	s.lifecycle.publish(ctx, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       order.ID,
		CustomerID:    customerID,
		CurrentStatus: string(order.Status),
		ActorID:       customerID,
		ActorRole:     string(domain.ActorRoleCustomer),
		OccurredAt:    now,
		Metadata: map[string]any{
			"totalAmount":   order.TotalAmount,
			"paymentMethod": string(method),
		},
	})

	result.Order = order
	return result, nil
}

func (s *checkoutService) buildOrder(cart domain.Cart, priced pricedCart, address Address, method domain.PaymentMethod, shippingFee int64, now time.Time) domain.Order {
	items := make([]domain.OrderItem, 0, len(cart.Items))
	for i, item := range cart.Items {
		line := priced.pricing.Lines[i]
		items = append(items, domain.OrderItem{
			ProductID:   item.ProductID,
			Name:        priced.products[item.ProductID].Name,
			VariantCode: item.VariantCode,
			UnitPrice:   item.UnitPrice,
			Quantity:    item.Quantity,
			LineTotal:   line.LineTotal,
			Discount:    line.PromotionDiscount + line.VoucherDiscount,
			PromotionID: line.PromotionID,
		})
	}
	pricing := priced.pricing
	currency := cart.Currency
	if currency == "" {
		currency = defaultCurrency
	}
	return domain.Order{
		ID:                orderIDPrefix + s.newID(),
		CustomerID:        cart.CustomerID,
		ShippingAddress:   address,
		Items:             items,
		Currency:          currency,
		Subtotal:          pricing.Subtotal,
		PromotionDiscount: pricing.PromotionDiscount,
		VoucherDiscount:   pricing.VoucherDiscount,
		VoucherID:         pricing.VoucherID,
		VoucherCode:       pricing.VoucherCode,
		ShippingFee:       shippingFee,
		TotalAmount:       pricing.PayableBeforeShipping + shippingFee,
		PaymentMethod:     method,
		PaymentStatus:     domain.PaymentStatusUnpaid,
		Status:            domain.OrderStatusCreated,
		Paid:              false,
		Version:           1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// quantitiesByProduct sums quantities per product in first-seen order so each product document
// is touched once per transaction.
func quantitiesByProduct(items []domain.OrderItem) []domain.Package {
	out := make([]domain.Package, 0, len(items))
	index := make(map[string]int, len(items))
	for _, item := range items {
		if i, ok := index[item.ProductID]; ok {
			out[i].Quantity += item.Quantity
			continue
		}
		index[item.ProductID] = len(out)
		out = append(out, domain.Package{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return out
}

func normalizeAddress(addr Address) (Address, error) {
	clean := Address{
		Recipient:    textutil.SanitizePlainText(addr.Recipient, 120),
		Phone:        strings.TrimSpace(addr.Phone),
		Line1:        textutil.SanitizePlainText(addr.Line1, 200),
		Line2:        textutil.SanitizePlainText(addr.Line2, 200),
		Ward:         textutil.SanitizePlainText(addr.Ward, 120),
		District:     textutil.SanitizePlainText(addr.District, 120),
		Province:     textutil.SanitizePlainText(addr.Province, 120),
		PostalCode:   strings.TrimSpace(addr.PostalCode),
		Country:      strings.ToUpper(strings.TrimSpace(addr.Country)),
		DistrictCode: strings.TrimSpace(addr.DistrictCode),
		WardCode:     strings.TrimSpace(addr.WardCode),
	}
	switch {
	case clean.Recipient == "":
		return Address{}, validationError("shipping address recipient is required")
	case clean.Phone == "":
		return Address{}, validationError("shipping address phone is required")
	case clean.Line1 == "":
		return Address{}, validationError("shipping address line1 is required")
	}
	return clean, nil
}

func stockFailure(err error, productID string) error {
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		available := stockErr.Available
		if stockErr.Code == repositories.StockErrorInactive {
			available = 0
		}
		return outOfStockError(stockErr.ProductID, stockErr.Requested, available)
	}
	return mapRepositoryError(err, "product", productID)
}

func voucherUsageFailure(err error, code string) error {
	var usageErr *repositories.VoucherUsageError
	if errors.As(err, &usageErr) {
		reason := "voucher usage limit reached"
		if usageErr.Code == repositories.VoucherPerUserLimitReached {
			reason = "voucher already used the maximum number of times by this customer"
		}
		return voucherNotApplicable(code, reason)
	}
	return mapRepositoryError(err, "voucher", code)
}

// sameCart reports whether b still holds the items and voucher that a was priced from.
func sameCart(a, b domain.Cart) bool {
	if !a.UpdatedAt.Equal(b.UpdatedAt) || a.VoucherCode != b.VoucherCode || len(a.Items) != len(b.Items) {
		return false
	}
	for i, item := range a.Items {
		other := b.Items[i]
		if item.ProductID != other.ProductID || item.VariantCode != other.VariantCode ||
			item.Quantity != other.Quantity || item.UnitPrice != other.UnitPrice {
			return false
		}
	}
	return true
}
