package domain

import "time"

// Cart is the single active cart owned by a customer.
type Cart struct {
	ID              string
	CustomerID      string
	Currency        string
	Items           []CartItem
	VoucherCode     string
	VoucherDiscount int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CartItem stores the unit price captured when the item was added.
type CartItem struct {
	ProductID   string
	VariantCode string
	Quantity    int
	UnitPrice   int64
	LineTotal   int64
	AddedAt     time.Time
}

// ItemIndex returns the position of productID/variant in the cart or -1.
func (c Cart) ItemIndex(productID, variant string) int {
	for i, item := range c.Items {
		if item.ProductID == productID && item.VariantCode == variant {
			return i
		}
	}
	return -1
}

// IsEmpty reports whether the cart has no items.
func (c Cart) IsEmpty() bool {
	return len(c.Items) == 0
}
