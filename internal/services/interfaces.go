package services

import (
	"context"
	"time"

	domain "github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/payments"
	"github.com/hanko-field/orderflow/internal/repositories"
	"github.com/hanko-field/orderflow/internal/shipping"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Cart                = domain.Cart
	CartItem            = domain.CartItem
	Order               = domain.Order
	OrderItem           = domain.OrderItem
	OrderStatus         = domain.OrderStatus
	Voucher             = domain.Voucher
	Promotion           = domain.Promotion
	Address             = domain.Address
	Actor               = domain.Actor
	AuditLogEntry       = domain.AuditLogEntry
	PricingResult       = domain.PricingResult
	FeeBreakdown        = domain.FeeBreakdown
	PaymentNotification = domain.PaymentNotification
	OrderListFilter     = repositories.OrderListFilter
)

// ShippingCarrier is the single outbound carrier integration configured per deployment.
type ShippingCarrier interface {
	QuoteFee(ctx context.Context, req shipping.QuoteRequest) (domain.FeeBreakdown, error)
	CreateShipment(ctx context.Context, req shipping.ShipmentRequest) (shipping.ShipmentLabel, error)
}

// PaymentProvider creates provider-side payments for ONLINE orders.
type PaymentProvider interface {
	Name() string
	CreatePayment(ctx context.Context, req payments.PaymentRequest) (payments.PaymentSession, error)
}

// NotificationVerifier checks the shared-secret signature on inbound payment callbacks.
type NotificationVerifier interface {
	Verify(n payments.Notification) bool
}

// EvidenceURLSigner issues signed upload URLs for return evidence objects.
type EvidenceURLSigner interface {
	SignedUploadURL(ctx context.Context, object, contentType string, expires time.Duration) (string, error)
}

// OrderEventPublisher publishes order domain events for downstream consumers. Failures never
// revert the mutation that produced the event.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	ID             string
	Type           string
	OrderID        string
	CustomerID     string
	PreviousStatus string
	CurrentStatus  string
	ActorID        string
	ActorRole      string
	OccurredAt     time.Time
	Metadata       map[string]any
}

// CartService manages the single active cart per customer.
type CartService interface {
	GetCart(ctx context.Context, customerID string) (Cart, error)
	AddItem(ctx context.Context, cmd AddCartItemCommand) (Cart, error)
	UpdateItemQuantity(ctx context.Context, cmd UpdateCartItemCommand) (Cart, error)
	RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error)
	ApplyVoucher(ctx context.Context, cmd ApplyVoucherCommand) (Cart, error)
	RemoveVoucher(ctx context.Context, customerID string) (Cart, error)
	Estimate(ctx context.Context, cmd EstimateCommand) (CartEstimate, error)
}

// VoucherService resolves voucher codes into vouchers plus the customer's redemption count.
type VoucherService interface {
	Lookup(ctx context.Context, code, customerID string) (VoucherLookup, error)
}

// CheckoutService converts a cart into a CREATED order.
type CheckoutService interface {
	Checkout(ctx context.Context, cmd CheckoutCommand) (CheckoutResult, error)
}

// OrderService owns order reads and lifecycle transitions outside the payment and return flows.
type OrderService interface {
	Get(ctx context.Context, orderID string, actor Actor) (Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	Transition(ctx context.Context, cmd TransitionCommand) (Order, error)
	Confirm(ctx context.Context, cmd OrderActionCommand) (Order, error)
	Cancel(ctx context.Context, cmd OrderActionCommand) (Order, error)
	MarkShipped(ctx context.Context, cmd OrderActionCommand) (Order, error)
	MarkDelivered(ctx context.Context, cmd OrderActionCommand) (Order, error)
	UpdateDeliveryStatus(ctx context.Context, cmd DeliveryStatusCommand) (Order, error)
}

// PaymentService applies asynchronous payment provider callbacks at most once.
type PaymentService interface {
	HandleNotification(ctx context.Context, n payments.Notification) (PaymentOutcome, error)
	ApplyVerifiedNotification(ctx context.Context, n payments.Notification) (PaymentOutcome, error)
}

// ReturnService drives the nested return and refund workflow.
type ReturnService interface {
	RequestReturn(ctx context.Context, cmd RequestReturnCommand) (Order, error)
	SupportConfirm(ctx context.Context, cmd ReturnStageCommand) (Order, error)
	StaffInspect(ctx context.Context, cmd StaffInspectCommand) (Order, error)
	AdminRefund(ctx context.Context, cmd AdminRefundCommand) (Order, error)
	Reject(ctx context.Context, cmd RejectReturnCommand) (Order, error)
	EvidenceUploadURL(ctx context.Context, cmd EvidenceUploadCommand) (EvidenceUpload, error)
}

// AuditLogService exposes the order audit trail.
type AuditLogService interface {
	ListByOrder(ctx context.Context, orderID string) ([]AuditLogEntry, error)
}

// DiscountSweepService deactivates vouchers and promotions past their expiry date.
type DiscountSweepService interface {
	ExpireStale(ctx context.Context, now time.Time) (SweepResult, error)
}

// AddCartItemCommand adds quantity of a product to the customer's cart.
type AddCartItemCommand struct {
	CustomerID  string
	ProductID   string
	VariantCode string
	Quantity    int
}

// UpdateCartItemCommand sets the quantity of an existing line. Zero removes it.
type UpdateCartItemCommand struct {
	CustomerID  string
	ProductID   string
	VariantCode string
	Quantity    int
}

// RemoveCartItemCommand removes a line from the cart.
type RemoveCartItemCommand struct {
	CustomerID  string
	ProductID   string
	VariantCode string
}

// ApplyVoucherCommand attaches a voucher code, replacing any previous one.
type ApplyVoucherCommand struct {
	CustomerID string
	Code       string
}

// EstimateCommand prices the cart and optionally quotes shipping to Destination.
type EstimateCommand struct {
	CustomerID  string
	Destination *Address
}

// CartEstimate is the priced view of a cart.
type CartEstimate struct {
	Cart        Cart
	Pricing     PricingResult
	Shipping    *FeeBreakdown
	TotalAmount int64
}

// VoucherLookup is a resolved voucher and the customer's historical redemptions.
type VoucherLookup struct {
	Voucher       Voucher
	CustomerUsage int
}

// CheckoutCommand triggers order assembly from the customer's cart.
type CheckoutCommand struct {
	CustomerID      string
	ShippingAddress Address
	PaymentMethod   domain.PaymentMethod
	ReturnURL       string
}

// CheckoutResult describes the created order and where the customer pays.
type CheckoutResult struct {
	Order         Order
	PaymentURL    string
	ProviderTxnID string
}

// TransitionCommand requests a raw state change by a back office actor.
type TransitionCommand struct {
	OrderID string
	Target  OrderStatus
	Actor   Actor
	Reason  string
}

// OrderActionCommand identifies an order and the actor acting on it.
type OrderActionCommand struct {
	OrderID string
	Actor   Actor
	Reason  string
}

// DeliveryStatusCommand applies a carrier status callback.
type DeliveryStatusCommand struct {
	OrderID      string
	TrackingCode string
	Status       string
	OccurredAt   time.Time
}

// PaymentOutcome reports what HandleNotification did.
type PaymentOutcome struct {
	OrderID string
	Status  OrderStatus
	// Result is one of applied, duplicate, failed, rejected, unknown_order.
	Result string
}

// RequestReturnCommand starts a return on a delivered order.
type RequestReturnCommand struct {
	OrderID         string
	Actor           Actor
	Reason          string
	Description     string
	RequestedAmount int64
	EvidencePaths   []string
}

// ReturnStageCommand advances a return stage that carries no amounts.
type ReturnStageCommand struct {
	OrderID string
	Actor   Actor
	Note    string
}

// StaffInspectCommand records the physical inspection outcome.
type StaffInspectCommand struct {
	OrderID          string
	Actor            Actor
	InspectionResult string
	InspectedAmount  int64
}

// AdminRefundCommand settles the refund.
type AdminRefundCommand struct {
	OrderID           string
	Actor             Actor
	ConfirmedAmount   int64
	Penalty           int64
	SecondShippingFee int64
}

// RejectReturnCommand rejects the return at the actor's stage.
type RejectReturnCommand struct {
	OrderID string
	Actor   Actor
	Reason  string
}

// EvidenceUploadCommand requests a signed URL for one evidence photo.
type EvidenceUploadCommand struct {
	OrderID     string
	Actor       Actor
	FileName    string
	ContentType string
}

// EvidenceUpload is the signed PUT target for an evidence object.
type EvidenceUpload struct {
	ObjectPath string
	UploadURL  string
	ExpiresAt  time.Time
}

// SweepResult counts deactivated discounts.
type SweepResult struct {
	VouchersExpired   int
	PromotionsExpired int
}
