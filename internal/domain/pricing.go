package domain

// PricingLine is one cart line after discount evaluation.
type PricingLine struct {
	ProductID         string
	CategoryID        string
	UnitPrice         int64
	Quantity          int
	LineTotal         int64
	PromotionID       string
	PromotionDiscount int64
	VoucherDiscount   int64
}

// PricingResult captures the calculator output for a cart.
type PricingResult struct {
	Subtotal              int64
	PromotionDiscount     int64
	VoucherDiscount       int64
	PayableBeforeShipping int64
	VoucherCode           string
	VoucherID             string
	Lines                 []PricingLine
}

// Discount returns the sum of promotion and voucher discounts.
func (r PricingResult) Discount() int64 {
	return r.PromotionDiscount + r.VoucherDiscount
}

// Package is one shippable parcel sent to the carrier quote API.
type Package struct {
	ProductID string
	Quantity  int
	Dimensions
}

// FeeBreakdown is the carrier quote for an order.
type FeeBreakdown struct {
	ServiceFee   int64
	InsuranceFee int64
	Total        int64
	Carrier      string
}
