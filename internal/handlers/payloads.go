package handlers

import (
	"time"

	"github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/services"
)

type addressPayload struct {
	Recipient    string `json:"recipient"`
	Phone        string `json:"phone"`
	Line1        string `json:"line1"`
	Line2        string `json:"line2,omitempty"`
	Ward         string `json:"ward,omitempty"`
	District     string `json:"district,omitempty"`
	Province     string `json:"province,omitempty"`
	PostalCode   string `json:"postalCode,omitempty"`
	Country      string `json:"country,omitempty"`
	DistrictCode string `json:"districtCode,omitempty"`
	WardCode     string `json:"wardCode,omitempty"`
}

func (a addressPayload) toDomain() domain.Address {
	return domain.Address(a)
}

func newAddressPayload(a domain.Address) addressPayload {
	return addressPayload(a)
}

type cartItemPayload struct {
	ProductID   string    `json:"productId"`
	VariantCode string    `json:"variantCode,omitempty"`
	Quantity    int       `json:"quantity"`
	UnitPrice   int64     `json:"unitPrice"`
	LineTotal   int64     `json:"lineTotal"`
	AddedAt     time.Time `json:"addedAt"`
}

type cartPayload struct {
	ID              string            `json:"id"`
	Currency        string            `json:"currency"`
	Items           []cartItemPayload `json:"items"`
	ItemsCount      int               `json:"itemsCount"`
	VoucherCode     string            `json:"voucherCode,omitempty"`
	VoucherDiscount int64             `json:"voucherDiscount"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}

func newCartPayload(cart services.Cart) cartPayload {
	out := cartPayload{
		ID:              cart.ID,
		Currency:        cart.Currency,
		Items:           make([]cartItemPayload, 0, len(cart.Items)),
		VoucherCode:     cart.VoucherCode,
		VoucherDiscount: cart.VoucherDiscount,
		UpdatedAt:       cart.UpdatedAt,
	}
	for _, item := range cart.Items {
		out.Items = append(out.Items, cartItemPayload{
			ProductID:   item.ProductID,
			VariantCode: item.VariantCode,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			LineTotal:   item.LineTotal,
			AddedAt:     item.AddedAt,
		})
		out.ItemsCount += item.Quantity
	}
	return out
}

type pricingLinePayload struct {
	ProductID         string `json:"productId"`
	Quantity          int    `json:"quantity"`
	UnitPrice         int64  `json:"unitPrice"`
	LineTotal         int64  `json:"lineTotal"`
	PromotionID       string `json:"promotionId,omitempty"`
	PromotionDiscount int64  `json:"promotionDiscount"`
	VoucherDiscount   int64  `json:"voucherDiscount"`
}

type feePayload struct {
	ServiceFee   int64  `json:"serviceFee"`
	InsuranceFee int64  `json:"insuranceFee"`
	Total        int64  `json:"total"`
	Carrier      string `json:"carrier,omitempty"`
}

type estimatePayload struct {
	Cart              cartPayload          `json:"cart"`
	Subtotal          int64                `json:"subtotal"`
	PromotionDiscount int64                `json:"promotionDiscount"`
	VoucherDiscount   int64                `json:"voucherDiscount"`
	Lines             []pricingLinePayload `json:"lines"`
	Shipping          *feePayload          `json:"shipping,omitempty"`
	TotalAmount       int64                `json:"totalAmount"`
}

func newEstimatePayload(est services.CartEstimate) estimatePayload {
	out := estimatePayload{
		Cart:              newCartPayload(est.Cart),
		Subtotal:          est.Pricing.Subtotal,
		PromotionDiscount: est.Pricing.PromotionDiscount,
		VoucherDiscount:   est.Pricing.VoucherDiscount,
		Lines:             make([]pricingLinePayload, 0, len(est.Pricing.Lines)),
		TotalAmount:       est.TotalAmount,
	}
	for _, line := range est.Pricing.Lines {
		out.Lines = append(out.Lines, pricingLinePayload{
			ProductID:         line.ProductID,
			Quantity:          line.Quantity,
			UnitPrice:         line.UnitPrice,
			LineTotal:         line.LineTotal,
			PromotionID:       line.PromotionID,
			PromotionDiscount: line.PromotionDiscount,
			VoucherDiscount:   line.VoucherDiscount,
		})
	}
	if est.Shipping != nil {
		fee := feePayload(*est.Shipping)
		out.Shipping = &fee
	}
	return out
}

type orderItemPayload struct {
	ProductID   string `json:"productId"`
	Name        string `json:"name"`
	VariantCode string `json:"variantCode,omitempty"`
	UnitPrice   int64  `json:"unitPrice"`
	Quantity    int    `json:"quantity"`
	LineTotal   int64  `json:"lineTotal"`
	Discount    int64  `json:"discount"`
	PromotionID string `json:"promotionId,omitempty"`
}

type returnPayload struct {
	Reason                     string     `json:"reason"`
	Description                string     `json:"description,omitempty"`
	RequestedAmount            int64      `json:"requestedAmount"`
	EvidencePaths              []string   `json:"evidencePaths,omitempty"`
	InspectionResult           string     `json:"inspectionResult,omitempty"`
	InspectedAmount            int64      `json:"inspectedAmount,omitempty"`
	ConfirmedAmount            int64      `json:"confirmedAmount,omitempty"`
	ConfirmedPenalty           int64      `json:"confirmedPenalty,omitempty"`
	ConfirmedSecondShippingFee int64      `json:"confirmedSecondShippingFee,omitempty"`
	RejectionReason            string     `json:"rejectionReason,omitempty"`
	RejectionSource            string     `json:"rejectionSource,omitempty"`
	RequestedAt                *time.Time `json:"requestedAt,omitempty"`
	RefundedAt                 *time.Time `json:"refundedAt,omitempty"`
	RejectedAt                 *time.Time `json:"rejectedAt,omitempty"`
}

type shipmentPayload struct {
	TrackingCode   string     `json:"trackingCode"`
	Carrier        string     `json:"carrier,omitempty"`
	ETA            *time.Time `json:"eta,omitempty"`
	Fee            feePayload `json:"fee"`
	DeliveryStatus string     `json:"deliveryStatus,omitempty"`
}

type orderPayload struct {
	ID                string             `json:"id"`
	CustomerID        string             `json:"customerId"`
	Status            string             `json:"status"`
	Currency          string             `json:"currency"`
	Items             []orderItemPayload `json:"items"`
	ShippingAddress   addressPayload     `json:"shippingAddress"`
	Subtotal          int64              `json:"subtotal"`
	PromotionDiscount int64              `json:"promotionDiscount"`
	VoucherDiscount   int64              `json:"voucherDiscount"`
	VoucherCode       string             `json:"voucherCode,omitempty"`
	ShippingFee       int64              `json:"shippingFee"`
	TotalAmount       int64              `json:"totalAmount"`
	PaymentMethod     string             `json:"paymentMethod"`
	PaymentStatus     string             `json:"paymentStatus"`
	Paid              bool               `json:"paid"`
	Shipment          *shipmentPayload   `json:"shipment,omitempty"`
	Return            *returnPayload     `json:"return,omitempty"`
	CancelReason      string             `json:"cancelReason,omitempty"`
	CreatedAt         time.Time          `json:"createdAt"`
	UpdatedAt         time.Time          `json:"updatedAt"`
	PaidAt            *time.Time         `json:"paidAt,omitempty"`
	ShippedAt         *time.Time         `json:"shippedAt,omitempty"`
	DeliveredAt       *time.Time         `json:"deliveredAt,omitempty"`
	CancelledAt       *time.Time         `json:"cancelledAt,omitempty"`
}

func newOrderPayload(order services.Order) orderPayload {
	out := orderPayload{
		ID:                order.ID,
		CustomerID:        order.CustomerID,
		Status:            string(order.Status),
		Currency:          order.Currency,
		Items:             make([]orderItemPayload, 0, len(order.Items)),
		ShippingAddress:   newAddressPayload(order.ShippingAddress),
		Subtotal:          order.Subtotal,
		PromotionDiscount: order.PromotionDiscount,
		VoucherDiscount:   order.VoucherDiscount,
		VoucherCode:       order.VoucherCode,
		ShippingFee:       order.ShippingFee,
		TotalAmount:       order.TotalAmount,
		PaymentMethod:     string(order.PaymentMethod),
		PaymentStatus:     string(order.PaymentStatus),
		Paid:              order.Paid,
		CancelReason:      order.CancelReason,
		CreatedAt:         order.CreatedAt,
		UpdatedAt:         order.UpdatedAt,
		PaidAt:            order.PaidAt,
		ShippedAt:         order.ShippedAt,
		DeliveredAt:       order.DeliveredAt,
		CancelledAt:       order.CancelledAt,
	}
	for _, item := range order.Items {
		out.Items = append(out.Items, orderItemPayload(item))
	}
	if s := order.Shipment; s != nil {
		out.Shipment = &shipmentPayload{
			TrackingCode:   s.TrackingCode,
			Carrier:        s.Carrier,
			ETA:            s.ETA,
			Fee:            feePayload(s.Fee),
			DeliveryStatus: s.DeliveryStatus,
		}
	}
	if r := order.Return; r != nil {
		out.Return = &returnPayload{
			Reason:                     r.Reason,
			Description:                r.Description,
			RequestedAmount:            r.RequestedAmount,
			EvidencePaths:              r.EvidencePaths,
			InspectionResult:           r.InspectionResult,
			InspectedAmount:            r.InspectedAmount,
			ConfirmedAmount:            r.ConfirmedAmount,
			ConfirmedPenalty:           r.ConfirmedPenalty,
			ConfirmedSecondShippingFee: r.ConfirmedSecondShippingFee,
			RejectionReason:            r.RejectionReason,
			RejectionSource:            string(r.RejectionSource),
			RequestedAt:                r.RequestedAt,
			RefundedAt:                 r.RefundedAt,
			RejectedAt:                 r.RejectedAt,
		}
	}
	return out
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderListResponse struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
}

type auditEntryPayload struct {
	ID         string         `json:"id"`
	Action     string         `json:"action"`
	FromStatus string         `json:"fromStatus,omitempty"`
	ToStatus   string         `json:"toStatus,omitempty"`
	ActorID    string         `json:"actorId,omitempty"`
	ActorRole  string         `json:"actorRole,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
}

func newAuditEntryPayload(e services.AuditLogEntry) auditEntryPayload {
	return auditEntryPayload{
		ID:         e.ID,
		Action:     e.Action,
		FromStatus: string(e.FromStatus),
		ToStatus:   string(e.ToStatus),
		ActorID:    e.ActorID,
		ActorRole:  string(e.ActorRole),
		Reason:     e.Reason,
		Metadata:   e.Metadata,
		OccurredAt: e.OccurredAt,
	}
}
