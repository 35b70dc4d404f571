package domain

import (
	"errors"
	"fmt"
	"time"
)

// DiscountScope selects the cart lines a rule is eligible to affect.
type DiscountScope string

const (
	DiscountScopeOrder    DiscountScope = "ORDER"
	DiscountScopeCategory DiscountScope = "CATEGORY"
	DiscountScopeProduct  DiscountScope = "PRODUCT"
)

// DiscountKind selects how the rule value is interpreted.
type DiscountKind string

const (
	// DiscountKindAmount subtracts a fixed amount in minor units.
	DiscountKindAmount DiscountKind = "AMOUNT"
	// DiscountKindPercent subtracts Value percent (0-100] of the eligible base.
	DiscountKindPercent DiscountKind = "PERCENT"
)

// DiscountStatus is the moderation state of a voucher or promotion.
type DiscountStatus string

const (
	DiscountStatusPending  DiscountStatus = "PENDING"
	DiscountStatusApproved DiscountStatus = "APPROVED"
	DiscountStatusRejected DiscountStatus = "REJECTED"
)

// ErrInvalidDiscountRule is returned by DiscountRule.Validate.
var ErrInvalidDiscountRule = errors.New("discount: invalid rule")

// DiscountRule is the tagged variant shared by vouchers and promotions.
type DiscountRule struct {
	Scope         DiscountScope
	Kind          DiscountKind
	Value         int64
	MaxDiscount   int64
	MinOrderValue int64
	CategoryIDs   []string
	ProductIDs    []string
}

// Validate enforces the scope/id-set exclusivity and value bounds.
func (r DiscountRule) Validate() error {
	switch r.Kind {
	case DiscountKindAmount:
		if r.Value <= 0 {
			return fmt.Errorf("%w: amount must be positive", ErrInvalidDiscountRule)
		}
	case DiscountKindPercent:
		if r.Value <= 0 || r.Value > 100 {
			return fmt.Errorf("%w: percent must be within (0,100]", ErrInvalidDiscountRule)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidDiscountRule, r.Kind)
	}
	if r.MaxDiscount < 0 || r.MinOrderValue < 0 {
		return fmt.Errorf("%w: caps must not be negative", ErrInvalidDiscountRule)
	}

	switch r.Scope {
	case DiscountScopeOrder:
		if len(r.CategoryIDs) > 0 || len(r.ProductIDs) > 0 {
			return fmt.Errorf("%w: order scope must not target categories or products", ErrInvalidDiscountRule)
		}
	case DiscountScopeCategory:
		if len(r.CategoryIDs) == 0 {
			return fmt.Errorf("%w: category scope requires category ids", ErrInvalidDiscountRule)
		}
		if len(r.ProductIDs) > 0 {
			return fmt.Errorf("%w: category scope must not target products", ErrInvalidDiscountRule)
		}
	case DiscountScopeProduct:
		if len(r.ProductIDs) == 0 {
			return fmt.Errorf("%w: product scope requires product ids", ErrInvalidDiscountRule)
		}
		if len(r.CategoryIDs) > 0 {
			return fmt.Errorf("%w: product scope must not target categories", ErrInvalidDiscountRule)
		}
	default:
		return fmt.Errorf("%w: unknown scope %q", ErrInvalidDiscountRule, r.Scope)
	}
	return nil
}

// Window is the moderation and validity state common to vouchers and promotions.
type Window struct {
	Status     DiscountStatus
	IsActive   bool
	StartDate  time.Time
	ExpiryDate time.Time
}

// UsableAt reports whether the discount may be applied at the supplied instant.
// Dates are compared at day granularity in UTC so the expiry day itself is inclusive.
func (w Window) UsableAt(now time.Time) bool {
	if w.Status != DiscountStatusApproved || !w.IsActive {
		return false
	}
	today := truncateDay(now)
	if !w.StartDate.IsZero() && today.Before(truncateDay(w.StartDate)) {
		return false
	}
	if !w.ExpiryDate.IsZero() && today.After(truncateDay(w.ExpiryDate)) {
		return false
	}
	return true
}

// ExpiredAt reports whether the window closed before the supplied instant.
func (w Window) ExpiredAt(now time.Time) bool {
	return !w.ExpiryDate.IsZero() && truncateDay(now).After(truncateDay(w.ExpiryDate))
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Voucher is a customer-entered discount code.
type Voucher struct {
	ID           string
	Code         string
	Description  string
	Rule         DiscountRule
	Window       Window
	UsageCount   int
	UsageLimit   int
	UsagePerUser int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Exhausted reports whether the global usage limit has been reached.
func (v Voucher) Exhausted() bool {
	return v.UsageLimit > 0 && v.UsageCount >= v.UsageLimit
}

// Promotion is an automatically applied discount.
type Promotion struct {
	ID        string
	Name      string
	Rule      DiscountRule
	Window    Window
	CreatedAt time.Time
	UpdatedAt time.Time
}
