package firestore

import (
	"slices"
	"time"

	domain "github.com/hanko-field/orderflow/internal/domain"
)

type productDocument struct {
	Name        string    `firestore:"name"`
	CategoryID  string    `firestore:"categoryId"`
	Price       int64     `firestore:"price"`
	Stock       int       `firestore:"stock"`
	Active      bool      `firestore:"active"`
	WeightGrams int       `firestore:"weightGrams,omitempty"`
	LengthCM    int       `firestore:"lengthCm,omitempty"`
	WidthCM     int       `firestore:"widthCm,omitempty"`
	HeightCM    int       `firestore:"heightCm,omitempty"`
	UpdatedAt   time.Time `firestore:"updatedAt"`
}

func newProductDocument(p domain.Product) productDocument {
	return productDocument{
		Name:        p.Name,
		CategoryID:  p.CategoryID,
		Price:       p.Price,
		Stock:       p.Stock,
		Active:      p.Active,
		WeightGrams: p.Dimensions.WeightGrams,
		LengthCM:    p.Dimensions.LengthCM,
		WidthCM:     p.Dimensions.WidthCM,
		HeightCM:    p.Dimensions.HeightCM,
		UpdatedAt:   p.UpdatedAt.UTC(),
	}
}

func (d productDocument) toDomain(id string) domain.Product {
	return domain.Product{
		ID:         id,
		Name:       d.Name,
		CategoryID: d.CategoryID,
		Price:      d.Price,
		Stock:      d.Stock,
		Active:     d.Active,
		Dimensions: domain.Dimensions{
			WeightGrams: d.WeightGrams,
			LengthCM:    d.LengthCM,
			WidthCM:     d.WidthCM,
			HeightCM:    d.HeightCM,
		},
		UpdatedAt: d.UpdatedAt,
	}
}

type ruleDocument struct {
	Scope         string   `firestore:"scope"`
	Kind          string   `firestore:"kind"`
	Value         int64    `firestore:"value"`
	MaxDiscount   int64    `firestore:"maxDiscount,omitempty"`
	MinOrderValue int64    `firestore:"minOrderValue,omitempty"`
	CategoryIDs   []string `firestore:"categoryIds,omitempty"`
	ProductIDs    []string `firestore:"productIds,omitempty"`
}

func newRuleDocument(r domain.DiscountRule) ruleDocument {
	return ruleDocument{
		Scope:         string(r.Scope),
		Kind:          string(r.Kind),
		Value:         r.Value,
		MaxDiscount:   r.MaxDiscount,
		MinOrderValue: r.MinOrderValue,
		CategoryIDs:   slices.Clone(r.CategoryIDs),
		ProductIDs:    slices.Clone(r.ProductIDs),
	}
}

func (d ruleDocument) toDomain() domain.DiscountRule {
	return domain.DiscountRule{
		Scope:         domain.DiscountScope(d.Scope),
		Kind:          domain.DiscountKind(d.Kind),
		Value:         d.Value,
		MaxDiscount:   d.MaxDiscount,
		MinOrderValue: d.MinOrderValue,
		CategoryIDs:   slices.Clone(d.CategoryIDs),
		ProductIDs:    slices.Clone(d.ProductIDs),
	}
}

type windowDocument struct {
	Status     string    `firestore:"status"`
	IsActive   bool      `firestore:"isActive"`
	StartDate  time.Time `firestore:"startDate"`
	ExpiryDate time.Time `firestore:"expiryDate"`
}

func newWindowDocument(w domain.Window) windowDocument {
	return windowDocument{
		Status:     string(w.Status),
		IsActive:   w.IsActive,
		StartDate:  w.StartDate.UTC(),
		ExpiryDate: w.ExpiryDate.UTC(),
	}
}

func (d windowDocument) toDomain() domain.Window {
	return domain.Window{
		Status:     domain.DiscountStatus(d.Status),
		IsActive:   d.IsActive,
		StartDate:  d.StartDate,
		ExpiryDate: d.ExpiryDate,
	}
}

// Window fields are flattened onto the voucher and promotion documents so queries can filter on
// isActive and expiryDate directly.
type voucherDocument struct {
	Code         string       `firestore:"code"`
	Description  string       `firestore:"description,omitempty"`
	Rule         ruleDocument `firestore:"rule"`
	Status       string       `firestore:"status"`
	IsActive     bool         `firestore:"isActive"`
	StartDate    time.Time    `firestore:"startDate"`
	ExpiryDate   time.Time    `firestore:"expiryDate"`
	UsageCount   int          `firestore:"usageCount"`
	UsageLimit   int          `firestore:"usageLimit"`
	UsagePerUser int          `firestore:"usagePerUser"`
	CreatedAt    time.Time    `firestore:"createdAt"`
	UpdatedAt    time.Time    `firestore:"updatedAt"`
}

func newVoucherDocument(v domain.Voucher) voucherDocument {
	w := newWindowDocument(v.Window)
	return voucherDocument{
		Code:         v.Code,
		Description:  v.Description,
		Rule:         newRuleDocument(v.Rule),
		Status:       w.Status,
		IsActive:     w.IsActive,
		StartDate:    w.StartDate,
		ExpiryDate:   w.ExpiryDate,
		UsageCount:   v.UsageCount,
		UsageLimit:   v.UsageLimit,
		UsagePerUser: v.UsagePerUser,
		CreatedAt:    v.CreatedAt.UTC(),
		UpdatedAt:    v.UpdatedAt.UTC(),
	}
}

func (d voucherDocument) toDomain(id string) domain.Voucher {
	return domain.Voucher{
		ID:           id,
		Code:         d.Code,
		Description:  d.Description,
		Rule:         d.Rule.toDomain(),
		Window:       windowDocument{Status: d.Status, IsActive: d.IsActive, StartDate: d.StartDate, ExpiryDate: d.ExpiryDate}.toDomain(),
		UsageCount:   d.UsageCount,
		UsageLimit:   d.UsageLimit,
		UsagePerUser: d.UsagePerUser,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

type voucherUsageDocument struct {
	Count     int       `firestore:"count"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

type promotionDocument struct {
	Name       string       `firestore:"name"`
	Rule       ruleDocument `firestore:"rule"`
	Status     string       `firestore:"status"`
	IsActive   bool         `firestore:"isActive"`
	StartDate  time.Time    `firestore:"startDate"`
	ExpiryDate time.Time    `firestore:"expiryDate"`
	CreatedAt  time.Time    `firestore:"createdAt"`
	UpdatedAt  time.Time    `firestore:"updatedAt"`
}

func newPromotionDocument(p domain.Promotion) promotionDocument {
	w := newWindowDocument(p.Window)
	return promotionDocument{
		Name:       p.Name,
		Rule:       newRuleDocument(p.Rule),
		Status:     w.Status,
		IsActive:   w.IsActive,
		StartDate:  w.StartDate,
		ExpiryDate: w.ExpiryDate,
		CreatedAt:  p.CreatedAt.UTC(),
		UpdatedAt:  p.UpdatedAt.UTC(),
	}
}

func (d promotionDocument) toDomain(id string) domain.Promotion {
	return domain.Promotion{
		ID:        id,
		Name:      d.Name,
		Rule:      d.Rule.toDomain(),
		Window:    windowDocument{Status: d.Status, IsActive: d.IsActive, StartDate: d.StartDate, ExpiryDate: d.ExpiryDate}.toDomain(),
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

type cartItemDocument struct {
	ProductID   string    `firestore:"productId"`
	VariantCode string    `firestore:"variantCode,omitempty"`
	Quantity    int       `firestore:"quantity"`
	UnitPrice   int64     `firestore:"unitPrice"`
	LineTotal   int64     `firestore:"lineTotal"`
	AddedAt     time.Time `firestore:"addedAt"`
}

type cartDocument struct {
	Currency        string             `firestore:"currency"`
	Items           []cartItemDocument `firestore:"items"`
	VoucherCode     string             `firestore:"voucherCode,omitempty"`
	VoucherDiscount int64              `firestore:"voucherDiscount"`
	CreatedAt       time.Time          `firestore:"createdAt"`
	UpdatedAt       time.Time          `firestore:"updatedAt"`
}

func newCartDocument(c domain.Cart) cartDocument {
	items := make([]cartItemDocument, 0, len(c.Items))
	for _, item := range c.Items {
		items = append(items, cartItemDocument{
			ProductID:   item.ProductID,
			VariantCode: item.VariantCode,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			LineTotal:   item.LineTotal,
			AddedAt:     item.AddedAt.UTC(),
		})
	}
	return cartDocument{
		Currency:        c.Currency,
		Items:           items,
		VoucherCode:     c.VoucherCode,
		VoucherDiscount: c.VoucherDiscount,
		CreatedAt:       c.CreatedAt.UTC(),
		UpdatedAt:       c.UpdatedAt.UTC(),
	}
}

func (d cartDocument) toDomain(customerID string) domain.Cart {
	cart := domain.Cart{
		ID:              customerID,
		CustomerID:      customerID,
		Currency:        d.Currency,
		VoucherCode:     d.VoucherCode,
		VoucherDiscount: d.VoucherDiscount,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
	for _, item := range d.Items {
		cart.Items = append(cart.Items, domain.CartItem{
			ProductID:   item.ProductID,
			VariantCode: item.VariantCode,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			LineTotal:   item.LineTotal,
			AddedAt:     item.AddedAt,
		})
	}
	return cart
}

type addressDocument struct {
	Recipient    string `firestore:"recipient"`
	Phone        string `firestore:"phone"`
	Line1        string `firestore:"line1"`
	Line2        string `firestore:"line2,omitempty"`
	Ward         string `firestore:"ward,omitempty"`
	District     string `firestore:"district,omitempty"`
	Province     string `firestore:"province,omitempty"`
	PostalCode   string `firestore:"postalCode,omitempty"`
	Country      string `firestore:"country,omitempty"`
	DistrictCode string `firestore:"districtCode,omitempty"`
	WardCode     string `firestore:"wardCode,omitempty"`
}

func newAddressDocument(a domain.Address) addressDocument {
	return addressDocument(a)
}

func (d addressDocument) toDomain() domain.Address {
	return domain.Address(d)
}

type orderItemDocument struct {
	ProductID   string `firestore:"productId"`
	Name        string `firestore:"name"`
	VariantCode string `firestore:"variantCode,omitempty"`
	UnitPrice   int64  `firestore:"unitPrice"`
	Quantity    int    `firestore:"quantity"`
	LineTotal   int64  `firestore:"lineTotal"`
	Discount    int64  `firestore:"discount"`
	PromotionID string `firestore:"promotionId,omitempty"`
}

type returnDocument struct {
	Reason                     string     `firestore:"reason"`
	Description                string     `firestore:"description,omitempty"`
	RequestedAmount            int64      `firestore:"requestedAmount"`
	EvidencePaths              []string   `firestore:"evidencePaths,omitempty"`
	InspectionResult           string     `firestore:"inspectionResult,omitempty"`
	InspectedAmount            int64      `firestore:"inspectedAmount"`
	ConfirmedAmount            int64      `firestore:"confirmedAmount"`
	ConfirmedPenalty           int64      `firestore:"confirmedPenalty"`
	ConfirmedSecondShippingFee int64      `firestore:"confirmedSecondShippingFee"`
	RejectionReason            string     `firestore:"rejectionReason,omitempty"`
	RejectionSource            string     `firestore:"rejectionSource,omitempty"`
	RequestedAt                *time.Time `firestore:"requestedAt,omitempty"`
	SupportConfirmedAt         *time.Time `firestore:"supportConfirmedAt,omitempty"`
	StaffConfirmedAt           *time.Time `firestore:"staffConfirmedAt,omitempty"`
	RefundedAt                 *time.Time `firestore:"refundedAt,omitempty"`
	RejectedAt                 *time.Time `firestore:"rejectedAt,omitempty"`
}

type shipmentDocument struct {
	TrackingCode   string     `firestore:"trackingCode"`
	Carrier        string     `firestore:"carrier"`
	ETA            *time.Time `firestore:"eta,omitempty"`
	ServiceFee     int64      `firestore:"serviceFee"`
	InsuranceFee   int64      `firestore:"insuranceFee"`
	FeeTotal       int64      `firestore:"feeTotal"`
	DeliveryStatus string     `firestore:"deliveryStatus"`
	CreatedAt      time.Time  `firestore:"createdAt"`
	UpdatedAt      time.Time  `firestore:"updatedAt"`
}

type orderDocument struct {
	CustomerID           string              `firestore:"customerId"`
	ShippingAddress      addressDocument     `firestore:"shippingAddress"`
	Items                []orderItemDocument `firestore:"items"`
	Currency             string              `firestore:"currency"`
	Subtotal             int64               `firestore:"subtotal"`
	PromotionDiscount    int64               `firestore:"promotionDiscount"`
	VoucherDiscount      int64               `firestore:"voucherDiscount"`
	VoucherID            string              `firestore:"voucherId,omitempty"`
	VoucherCode          string              `firestore:"voucherCode,omitempty"`
	ShippingFee          int64               `firestore:"shippingFee"`
	TotalAmount          int64               `firestore:"totalAmount"`
	PaymentMethod        string              `firestore:"paymentMethod"`
	PaymentStatus        string              `firestore:"paymentStatus"`
	PaymentReference     string              `firestore:"paymentReference,omitempty"`
	PaymentFailureReason string              `firestore:"paymentFailureReason,omitempty"`
	Paid                 bool                `firestore:"paid"`
	Status               string              `firestore:"status"`
	Return               *returnDocument     `firestore:"return,omitempty"`
	Shipment             *shipmentDocument   `firestore:"shipment,omitempty"`
	Version              int64               `firestore:"version"`
	CreatedAt            time.Time           `firestore:"createdAt"`
	UpdatedAt            time.Time           `firestore:"updatedAt"`
	ConfirmedAt          *time.Time          `firestore:"confirmedAt,omitempty"`
	PaidAt               *time.Time          `firestore:"paidAt,omitempty"`
	ShippedAt            *time.Time          `firestore:"shippedAt,omitempty"`
	DeliveredAt          *time.Time          `firestore:"deliveredAt,omitempty"`
	CancelledAt          *time.Time          `firestore:"cancelledAt,omitempty"`
	CancelReason         string              `firestore:"cancelReason,omitempty"`
}

func newOrderDocument(o domain.Order) orderDocument {
	doc := orderDocument{
		CustomerID:           o.CustomerID,
		ShippingAddress:      newAddressDocument(o.ShippingAddress),
		Currency:             o.Currency,
		Subtotal:             o.Subtotal,
		PromotionDiscount:    o.PromotionDiscount,
		VoucherDiscount:      o.VoucherDiscount,
		VoucherID:            o.VoucherID,
		VoucherCode:          o.VoucherCode,
		ShippingFee:          o.ShippingFee,
		TotalAmount:          o.TotalAmount,
		PaymentMethod:        string(o.PaymentMethod),
		PaymentStatus:        string(o.PaymentStatus),
		PaymentReference:     o.PaymentReference,
		PaymentFailureReason: o.PaymentFailureReason,
		Paid:                 o.Paid,
		Status:               string(o.Status),
		Version:              o.Version,
		CreatedAt:            o.CreatedAt.UTC(),
		UpdatedAt:            o.UpdatedAt.UTC(),
		ConfirmedAt:          utcPtr(o.ConfirmedAt),
		PaidAt:               utcPtr(o.PaidAt),
		ShippedAt:            utcPtr(o.ShippedAt),
		DeliveredAt:          utcPtr(o.DeliveredAt),
		CancelledAt:          utcPtr(o.CancelledAt),
		CancelReason:         o.CancelReason,
	}
	for _, item := range o.Items {
		doc.Items = append(doc.Items, orderItemDocument(item))
	}
	if r := o.Return; r != nil {
		doc.Return = &returnDocument{
			Reason:                     r.Reason,
			Description:                r.Description,
			RequestedAmount:            r.RequestedAmount,
			EvidencePaths:              slices.Clone(r.EvidencePaths),
			InspectionResult:           r.InspectionResult,
			InspectedAmount:            r.InspectedAmount,
			ConfirmedAmount:            r.ConfirmedAmount,
			ConfirmedPenalty:           r.ConfirmedPenalty,
			ConfirmedSecondShippingFee: r.ConfirmedSecondShippingFee,
			RejectionReason:            r.RejectionReason,
			RejectionSource:            string(r.RejectionSource),
			RequestedAt:                utcPtr(r.RequestedAt),
			SupportConfirmedAt:         utcPtr(r.SupportConfirmedAt),
			StaffConfirmedAt:           utcPtr(r.StaffConfirmedAt),
			RefundedAt:                 utcPtr(r.RefundedAt),
			RejectedAt:                 utcPtr(r.RejectedAt),
		}
	}
	if s := o.Shipment; s != nil {
		doc.Shipment = &shipmentDocument{
			TrackingCode:   s.TrackingCode,
			Carrier:        s.Carrier,
			ETA:            utcPtr(s.ETA),
			ServiceFee:     s.Fee.ServiceFee,
			InsuranceFee:   s.Fee.InsuranceFee,
			FeeTotal:       s.Fee.Total,
			DeliveryStatus: s.DeliveryStatus,
			CreatedAt:      s.CreatedAt.UTC(),
			UpdatedAt:      s.UpdatedAt.UTC(),
		}
	}
	return doc
}

func (d orderDocument) toDomain(id string) domain.Order {
	order := domain.Order{
		ID:                   id,
		CustomerID:           d.CustomerID,
		ShippingAddress:      d.ShippingAddress.toDomain(),
		Currency:             d.Currency,
		Subtotal:             d.Subtotal,
		PromotionDiscount:    d.PromotionDiscount,
		VoucherDiscount:      d.VoucherDiscount,
		VoucherID:            d.VoucherID,
		VoucherCode:          d.VoucherCode,
		ShippingFee:          d.ShippingFee,
		TotalAmount:          d.TotalAmount,
		PaymentMethod:        domain.PaymentMethod(d.PaymentMethod),
		PaymentStatus:        domain.PaymentStatus(d.PaymentStatus),
		PaymentReference:     d.PaymentReference,
		PaymentFailureReason: d.PaymentFailureReason,
		Paid:                 d.Paid,
		Status:               domain.OrderStatus(d.Status),
		Version:              d.Version,
		CreatedAt:            d.CreatedAt,
		UpdatedAt:            d.UpdatedAt,
		ConfirmedAt:          d.ConfirmedAt,
		PaidAt:               d.PaidAt,
		ShippedAt:            d.ShippedAt,
		DeliveredAt:          d.DeliveredAt,
		CancelledAt:          d.CancelledAt,
		CancelReason:         d.CancelReason,
	}
	for _, item := range d.Items {
		order.Items = append(order.Items, domain.OrderItem(item))
	}
	if r := d.Return; r != nil {
		order.Return = &domain.ReturnRecord{
			Reason:                     r.Reason,
			Description:                r.Description,
			RequestedAmount:            r.RequestedAmount,
			EvidencePaths:              slices.Clone(r.EvidencePaths),
			InspectionResult:           r.InspectionResult,
			InspectedAmount:            r.InspectedAmount,
			ConfirmedAmount:            r.ConfirmedAmount,
			ConfirmedPenalty:           r.ConfirmedPenalty,
			ConfirmedSecondShippingFee: r.ConfirmedSecondShippingFee,
			RejectionReason:            r.RejectionReason,
			RejectionSource:            domain.ActorRole(r.RejectionSource),
			RequestedAt:                r.RequestedAt,
			SupportConfirmedAt:         r.SupportConfirmedAt,
			StaffConfirmedAt:           r.StaffConfirmedAt,
			RefundedAt:                 r.RefundedAt,
			RejectedAt:                 r.RejectedAt,
		}
	}
	if s := d.Shipment; s != nil {
		order.Shipment = &domain.Shipment{
			TrackingCode:   s.TrackingCode,
			Carrier:        s.Carrier,
			ETA:            s.ETA,
			Fee:            domain.FeeBreakdown{ServiceFee: s.ServiceFee, InsuranceFee: s.InsuranceFee, Total: s.FeeTotal, Carrier: s.Carrier},
			DeliveryStatus: s.DeliveryStatus,
			CreatedAt:      s.CreatedAt,
			UpdatedAt:      s.UpdatedAt,
		}
	}
	return order
}

type notificationDocument struct {
	OrderID    string    `firestore:"orderId"`
	Amount     int64     `firestore:"amount"`
	ResultCode int       `firestore:"resultCode"`
	Message    string    `firestore:"message,omitempty"`
	Signature  string    `firestore:"signature,omitempty"`
	Applied    bool      `firestore:"applied"`
	Outcome    string    `firestore:"outcome"`
	ReceivedAt time.Time `firestore:"receivedAt"`
}

type auditDocument struct {
	OrderID    string         `firestore:"orderId"`
	Action     string         `firestore:"action"`
	FromStatus string         `firestore:"fromStatus,omitempty"`
	ToStatus   string         `firestore:"toStatus"`
	ActorID    string         `firestore:"actorId"`
	ActorRole  string         `firestore:"actorRole"`
	Reason     string         `firestore:"reason,omitempty"`
	Metadata   map[string]any `firestore:"metadata,omitempty"`
	OccurredAt time.Time      `firestore:"occurredAt"`
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
