package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/payments"
	"github.com/hanko-field/orderflow/internal/repositories/memory"
	"github.com/hanko-field/orderflow/internal/shipping"
)

type stubCarrier struct {
	fee        int64
	quoteErr   error
	label      shipping.ShipmentLabel
	shipErr    error
	shipCalls  atomic.Int32
	lastQuote  shipping.QuoteRequest
	quoteMutex sync.Mutex
	// onQuote runs after the quote is recorded, standing in for writes racing the caller.
	onQuote func()
}

func (s *stubCarrier) QuoteFee(_ context.Context, req shipping.QuoteRequest) (domain.FeeBreakdown, error) {
	s.quoteMutex.Lock()
	s.lastQuote = req
	onQuote := s.onQuote
	s.quoteMutex.Unlock()
	if onQuote != nil {
		onQuote()
	}
	if s.quoteErr != nil {
		return domain.FeeBreakdown{}, s.quoteErr
	}
	return domain.FeeBreakdown{ServiceFee: s.fee, Total: s.fee, Carrier: "stub"}, nil
}

func (s *stubCarrier) CreateShipment(_ context.Context, _ shipping.ShipmentRequest) (shipping.ShipmentLabel, error) {
	s.shipCalls.Add(1)
	if s.shipErr != nil {
		return shipping.ShipmentLabel{}, s.shipErr
	}
	return s.label, nil
}

type stubPaymentProvider struct {
	err   error
	calls atomic.Int32
}

func (s *stubPaymentProvider) Name() string { return "stub" }

func (s *stubPaymentProvider) CreatePayment(_ context.Context, req payments.PaymentRequest) (payments.PaymentSession, error) {
	s.calls.Add(1)
	if s.err != nil {
		return payments.PaymentSession{}, s.err
	}
	return payments.PaymentSession{
		Provider:      "stub",
		PayURL:        "https://pay.example/" + req.OrderID,
		ProviderTxnID: "txn-" + req.OrderID,
	}, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []OrderEvent
	err    error
}

func (p *recordingPublisher) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, event := range p.events {
		out = append(out, event.Type)
	}
	return out
}

type stubSigner struct {
	object      string
	contentType string
	err         error
}

func (s *stubSigner) SignedUploadURL(_ context.Context, object, contentType string, _ time.Duration) (string, error) {
	s.object = object
	s.contentType = contentType
	if s.err != nil {
		return "", s.err
	}
	return "https://storage.example/" + object + "?sig=1", nil
}

func sequentialIDs() func() string {
	var n atomic.Int64
	return func() string {
		return fmt.Sprintf("%04d", n.Add(1))
	}
}

// engine wires every service against one in-memory store.
type engine struct {
	store     *memory.Store
	carrier   *stubCarrier
	provider  *stubPaymentProvider
	events    *recordingPublisher
	signer    *payments.Signer
	evidence  *stubSigner
	now       time.Time
	cart      CartService
	checkout  CheckoutService
	orders    OrderService
	payments  PaymentService
	returns   ReturnService
	auditLogs AuditLogService
	sweep     DiscountSweepService
}

func newEngine(t *testing.T) *engine {
	t.Helper()
	e := &engine{
		store:    memory.NewStore(),
		carrier:  &stubCarrier{fee: 30_000, label: shipping.ShipmentLabel{TrackingCode: "TRK-1", Fee: domain.FeeBreakdown{Total: 30_000, Carrier: "ghn"}}},
		provider: &stubPaymentProvider{},
		events:   &recordingPublisher{},
		evidence: &stubSigner{},
		now:      pricingNow,
	}
	signer, err := payments.NewSigner("test-secret")
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	e.signer = signer

	clock := func() time.Time { return e.now }
	ids := sequentialIDs()

	vouchers, err := NewVoucherService(VoucherServiceDeps{Vouchers: e.store.Vouchers()})
	if err != nil {
		t.Fatalf("voucher service: %v", err)
	}
	calculator := NewPricingCalculator(PricingCalculatorDeps{})

	e.cart, err = NewCartService(CartServiceDeps{
		Carts:      e.store.Carts(),
		Products:   e.store.Products(),
		Promotions: e.store.Promotions(),
		Vouchers:   vouchers,
		Calculator: calculator,
		Carrier:    e.carrier,
		UnitOfWork: e.store,
		Clock:      clock,
	})
	if err != nil {
		t.Fatalf("cart service: %v", err)
	}
	e.checkout, err = NewCheckoutService(CheckoutServiceDeps{
		Carts:        e.store.Carts(),
		Products:     e.store.Products(),
		Promotions:   e.store.Promotions(),
		VoucherStore: e.store.Vouchers(),
		Vouchers:     vouchers,
		Orders:       e.store.Orders(),
		AuditLogs:    e.store.AuditLogs(),
		UnitOfWork:   e.store,
		Calculator:   calculator,
		Carrier:      e.carrier,
		Payments:     e.provider,
		Events:       e.events,
		Clock:        clock,
		IDGenerator:  ids,
	})
	if err != nil {
		t.Fatalf("checkout service: %v", err)
	}
	e.orders, err = NewOrderService(OrderServiceDeps{
		Orders:      e.store.Orders(),
		AuditLogs:   e.store.AuditLogs(),
		Products:    e.store.Products(),
		Vouchers:    e.store.Vouchers(),
		UnitOfWork:  e.store,
		Carrier:     e.carrier,
		Events:      e.events,
		Clock:       clock,
		IDGenerator: ids,
	})
	if err != nil {
		t.Fatalf("order service: %v", err)
	}
	e.payments, err = NewPaymentService(PaymentServiceDeps{
		Orders:        e.store.Orders(),
		Notifications: e.store.PaymentNotifications(),
		AuditLogs:     e.store.AuditLogs(),
		UnitOfWork:    e.store,
		Verifier:      signer,
		Events:        e.events,
		Clock:         clock,
		IDGenerator:   ids,
	})
	if err != nil {
		t.Fatalf("payment service: %v", err)
	}
	e.returns, err = NewReturnService(ReturnServiceDeps{
		Orders:       e.store.Orders(),
		AuditLogs:    e.store.AuditLogs(),
		UnitOfWork:   e.store,
		Events:       e.events,
		Evidence:     e.evidence,
		ReturnWindow: 7 * 24 * time.Hour,
		Clock:        clock,
		IDGenerator:  ids,
	})
	if err != nil {
		t.Fatalf("return service: %v", err)
	}
	e.auditLogs, err = NewAuditLogService(AuditLogServiceDeps{Repository: e.store.AuditLogs(), Orders: e.store.Orders()})
	if err != nil {
		t.Fatalf("audit log service: %v", err)
	}
	e.sweep, err = NewDiscountSweepService(DiscountSweepServiceDeps{Vouchers: e.store.Vouchers(), Promotions: e.store.Promotions()})
	if err != nil {
		t.Fatalf("sweep service: %v", err)
	}
	return e
}

func (e *engine) putProduct(id string, price int64, stock int) {
	e.store.PutProduct(domain.Product{
		ID:         id,
		Name:       "Product " + id,
		CategoryID: "c-" + id,
		Price:      price,
		Stock:      stock,
		Active:     true,
		Dimensions: domain.Dimensions{WeightGrams: 500, LengthCM: 20, WidthCM: 15, HeightCM: 5},
	})
}

func (e *engine) addItem(t *testing.T, customerID, productID string, qty int) {
	t.Helper()
	if _, err := e.cart.AddItem(context.Background(), AddCartItemCommand{CustomerID: customerID, ProductID: productID, Quantity: qty}); err != nil {
		t.Fatalf("add %s x%d to %s: %v", productID, qty, customerID, err)
	}
}

func (e *engine) stock(t *testing.T, productID string) int {
	t.Helper()
	product, err := e.store.Products().FindByID(context.Background(), productID)
	if err != nil {
		t.Fatalf("find product %s: %v", productID, err)
	}
	return product.Stock
}

func (e *engine) auditActions(t *testing.T, orderID string) []string {
	t.Helper()
	entries, err := e.auditLogs.ListByOrder(context.Background(), orderID)
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry.Action)
	}
	return out
}

func (e *engine) signed(n payments.Notification) payments.Notification {
	n.Signature = e.signer.SignNotification(n)
	return n
}

func testAddress() Address {
	return Address{
		Recipient:    "Nguyen Van A",
		Phone:        "0900000000",
		Line1:        "1 Le Loi",
		District:     "Q1",
		Province:     "HCM",
		DistrictCode: "1442",
		WardCode:     "20308",
	}
}

func customer(id string) Actor { return Actor{ID: id, Role: domain.ActorRoleCustomer} }

var (
	staffActor   = Actor{ID: "staff-1", Role: domain.ActorRoleStaff}
	supportActor = Actor{ID: "support-1", Role: domain.ActorRoleSupport}
	adminActor   = Actor{ID: "admin-1", Role: domain.ActorRoleAdmin}
)
