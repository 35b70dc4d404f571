package repositories

import "fmt"

// StockErrorCode enumerates repository error causes for stock operations.
type StockErrorCode string

const (
	// StockErrorInsufficient indicates the requested quantity exceeds availability.
	StockErrorInsufficient StockErrorCode = "stock_insufficient"
	// StockErrorInactive indicates the product is no longer sellable.
	StockErrorInactive StockErrorCode = "stock_product_inactive"
)

// StockError wraps stock failures with the offending product.
type StockError struct {
	Code      StockErrorCode
	ProductID string
	Requested int
	Available int
}

// Error implements the error interface.
func (e *StockError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: product %s requested %d available %d", e.Code, e.ProductID, e.Requested, e.Available)
}

// VoucherUsageErrorCode enumerates voucher counter failures.
type VoucherUsageErrorCode string

const (
	// VoucherUsageLimitReached indicates the global usage limit is exhausted.
	VoucherUsageLimitReached VoucherUsageErrorCode = "voucher_usage_limit_reached"
	// VoucherPerUserLimitReached indicates the customer used the voucher the maximum times.
	VoucherPerUserLimitReached VoucherUsageErrorCode = "voucher_per_user_limit_reached"
)

// VoucherUsageError is returned when a conditional usage increment is refused.
type VoucherUsageError struct {
	Code      VoucherUsageErrorCode
	VoucherID string
}

// Error implements the error interface.
func (e *VoucherUsageError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: voucher %s", e.Code, e.VoucherID)
}
