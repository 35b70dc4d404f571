package domain

import "time"

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	OrderStatusCreated              OrderStatus = "CREATED"
	OrderStatusConfirmed            OrderStatus = "CONFIRMED"
	OrderStatusPaid                 OrderStatus = "PAID"
	OrderStatusShipped              OrderStatus = "SHIPPED"
	OrderStatusDelivered            OrderStatus = "DELIVERED"
	OrderStatusCancelled            OrderStatus = "CANCELLED"
	OrderStatusReturnRequested      OrderStatus = "RETURN_REQUESTED"
	OrderStatusReturnCSConfirmed    OrderStatus = "RETURN_CS_CONFIRMED"
	OrderStatusReturnStaffConfirmed OrderStatus = "RETURN_STAFF_CONFIRMED"
	OrderStatusRefunded             OrderStatus = "REFUNDED"
	OrderStatusReturnRejected       OrderStatus = "RETURN_REJECTED"
)

// AllOrderStatuses lists every state in lifecycle order.
var AllOrderStatuses = []OrderStatus{
	OrderStatusCreated,
	OrderStatusConfirmed,
	OrderStatusPaid,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
	OrderStatusReturnRequested,
	OrderStatusReturnCSConfirmed,
	OrderStatusReturnStaffConfirmed,
	OrderStatusRefunded,
	OrderStatusReturnRejected,
}

// IsReturnStage reports whether the status belongs to the nested return workflow.
func (s OrderStatus) IsReturnStage() bool {
	switch s {
	case OrderStatusReturnRequested, OrderStatusReturnCSConfirmed, OrderStatusReturnStaffConfirmed:
		return true
	}
	return false
}

// PaymentMethod selects how the customer pays.
type PaymentMethod string

const (
	PaymentMethodCOD    PaymentMethod = "COD"
	PaymentMethodOnline PaymentMethod = "ONLINE"
)

// PaymentStatus tracks the provider outcome independently of OrderStatus.
type PaymentStatus string

const (
	PaymentStatusUnpaid  PaymentStatus = "UNPAID"
	PaymentStatusPending PaymentStatus = "PENDING"
	PaymentStatusPaid    PaymentStatus = "PAID"
	PaymentStatusFailed  PaymentStatus = "FAILED"
)

// Order is immutable after creation except for status, payment and return fields.
type Order struct {
	ID                   string
	CustomerID           string
	ShippingAddress      Address
	Items                []OrderItem
	Currency             string
	Subtotal             int64
	PromotionDiscount    int64
	VoucherDiscount      int64
	VoucherID            string
	VoucherCode          string
	ShippingFee          int64
	TotalAmount          int64
	PaymentMethod        PaymentMethod
	PaymentStatus        PaymentStatus
	PaymentReference     string
	PaymentFailureReason string
	Paid                 bool
	Status               OrderStatus
	Return               *ReturnRecord
	Shipment             *Shipment
	Version              int64
	CreatedAt            time.Time
	UpdatedAt            time.Time
	ConfirmedAt          *time.Time
	PaidAt               *time.Time
	ShippedAt            *time.Time
	DeliveredAt          *time.Time
	CancelledAt          *time.Time
	CancelReason         string
}

// Discount returns the combined promotion and voucher discount.
func (o Order) Discount() int64 {
	return o.PromotionDiscount + o.VoucherDiscount
}

// TotalsConsistent reports whether TotalAmount = Subtotal - Discount + ShippingFee and is non-negative.
func (o Order) TotalsConsistent() bool {
	return o.TotalAmount >= 0 && o.TotalAmount == o.Subtotal-o.Discount()+o.ShippingFee
}

// Clone returns a deep copy so callers can mutate without aliasing repository state.
func (o Order) Clone() Order {
	out := o
	if o.Items != nil {
		out.Items = append([]OrderItem(nil), o.Items...)
	}
	if o.Return != nil {
		ret := *o.Return
		ret.EvidencePaths = append([]string(nil), o.Return.EvidencePaths...)
		out.Return = &ret
	}
	if o.Shipment != nil {
		shipment := *o.Shipment
		out.Shipment = &shipment
	}
	return out
}

// OrderItem is the immutable snapshot of a cart line at order creation.
type OrderItem struct {
	ProductID   string
	Name        string
	VariantCode string
	UnitPrice   int64
	Quantity    int
	LineTotal   int64
	Discount    int64
	PromotionID string
}

// ReturnRecord carries the evolving refund sub-record of an order.
type ReturnRecord struct {
	Reason                     string
	Description                string
	RequestedAmount            int64
	EvidencePaths              []string
	InspectionResult           string
	InspectedAmount            int64
	ConfirmedAmount            int64
	ConfirmedPenalty           int64
	ConfirmedSecondShippingFee int64
	RejectionReason            string
	RejectionSource            ActorRole
	RequestedAt                *time.Time
	SupportConfirmedAt         *time.Time
	StaffConfirmedAt           *time.Time
	RefundedAt                 *time.Time
	RejectedAt                 *time.Time
}

// Shipment is the carrier handoff referenced by the order.
type Shipment struct {
	TrackingCode   string
	Carrier        string
	ETA            *time.Time
	Fee            FeeBreakdown
	DeliveryStatus string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// PaymentNotification is an inbound provider callback, persisted by provider transaction id.
type PaymentNotification struct {
	TransID    string
	OrderID    string
	Amount     int64
	ResultCode int
	Message    string
	Signature  string
	Applied    bool
	Outcome    string
	ReceivedAt time.Time
}
