package services

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/hanko-field/orderflow/internal/domain"
)

var pricingNow = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func approvedWindow() domain.Window {
	return domain.Window{
		Status:     domain.DiscountStatusApproved,
		IsActive:   true,
		StartDate:  pricingNow.AddDate(0, 0, -7),
		ExpiryDate: pricingNow.AddDate(0, 0, 7),
	}
}

func sale10Voucher() domain.Voucher {
	return domain.Voucher{
		ID:   "v-sale10",
		Code: "SALE10",
		Rule: domain.DiscountRule{
			Scope:         domain.DiscountScopeOrder,
			Kind:          domain.DiscountKindPercent,
			Value:         10,
			MaxDiscount:   40_000,
			MinOrderValue: 100_000,
		},
		Window:       approvedWindow(),
		UsageLimit:   100,
		UsagePerUser: 1,
	}
}

func TestPricingCalculator_Sale10VoucherCapped(t *testing.T) {
	calc := NewPricingCalculator(PricingCalculatorDeps{})
	voucher := sale10Voucher()

	result, err := calc.Calculate(context.Background(), PricingInput{
		Lines: []PricingLineInput{
			{ProductID: "p-1", CategoryID: "c-1", UnitPrice: 200_000, Quantity: 2},
			{ProductID: "p-2", CategoryID: "c-2", UnitPrice: 100_000, Quantity: 1},
		},
		Voucher: &voucher,
		Now:     pricingNow,
	})
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if result.Subtotal != 500_000 {
		t.Fatalf("expected subtotal 500000, got %d", result.Subtotal)
	}
	if result.VoucherDiscount != 40_000 {
		t.Fatalf("expected capped voucher discount 40000, got %d", result.VoucherDiscount)
	}
	if result.PayableBeforeShipping != 460_000 {
		t.Fatalf("expected payable 460000, got %d", result.PayableBeforeShipping)
	}
	if total := result.PayableBeforeShipping + 30_000; total != 490_000 {
		t.Fatalf("expected total 490000 with shipping, got %d", total)
	}
	var allocated int64
	for _, line := range result.Lines {
		allocated += line.VoucherDiscount
	}
	if allocated != result.VoucherDiscount {
		t.Fatalf("expected line allocations to sum to %d, got %d", result.VoucherDiscount, allocated)
	}
}

func TestPricingCalculator_PromotionFirstEligibleWinsByID(t *testing.T) {
	calc := NewPricingCalculator(PricingCalculatorDeps{})
	promotions := []domain.Promotion{
		{
			ID:     "promo-b",
			Rule:   domain.DiscountRule{Scope: domain.DiscountScopeOrder, Kind: domain.DiscountKindPercent, Value: 50},
			Window: approvedWindow(),
		},
		{
			ID:     "promo-a",
			Rule:   domain.DiscountRule{Scope: domain.DiscountScopeProduct, Kind: domain.DiscountKindAmount, Value: 5_000, ProductIDs: []string{"p-1"}},
			Window: approvedWindow(),
		},
	}

	result, err := calc.Calculate(context.Background(), PricingInput{
		Lines: []PricingLineInput{
			{ProductID: "p-1", UnitPrice: 20_000, Quantity: 1},
			{ProductID: "p-2", UnitPrice: 10_000, Quantity: 1},
		},
		Promotions: promotions,
		Now:        pricingNow,
	})
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if got := result.Lines[0].PromotionID; got != "promo-a" {
		t.Fatalf("expected p-1 to take promo-a, got %q", got)
	}
	if got := result.Lines[0].PromotionDiscount; got != 5_000 {
		t.Fatalf("expected p-1 discount 5000, got %d", got)
	}
	if got := result.Lines[1].PromotionID; got != "promo-b" {
		t.Fatalf("expected p-2 to take promo-b, got %q", got)
	}
	if got := result.Lines[1].PromotionDiscount; got != 5_000 {
		t.Fatalf("expected p-2 discount 5000, got %d", got)
	}
	if result.PromotionDiscount != 10_000 {
		t.Fatalf("expected promotion discount 10000, got %d", result.PromotionDiscount)
	}
}

func TestPricingCalculator_PromotionsBeforeVoucher(t *testing.T) {
	calc := NewPricingCalculator(PricingCalculatorDeps{})
	voucher := domain.Voucher{
		ID:     "v-cat",
		Code:   "SHOES20",
		Rule:   domain.DiscountRule{Scope: domain.DiscountScopeCategory, Kind: domain.DiscountKindPercent, Value: 20, CategoryIDs: []string{"shoes"}},
		Window: approvedWindow(),
	}
	promotions := []domain.Promotion{{
		ID:     "promo-1",
		Rule:   domain.DiscountRule{Scope: domain.DiscountScopeProduct, Kind: domain.DiscountKindAmount, Value: 10_000, ProductIDs: []string{"p-shoe"}},
		Window: approvedWindow(),
	}}

	result, err := calc.Calculate(context.Background(), PricingInput{
		Lines: []PricingLineInput{
			{ProductID: "p-shoe", CategoryID: "shoes", UnitPrice: 60_000, Quantity: 1},
			{ProductID: "p-hat", CategoryID: "hats", UnitPrice: 40_000, Quantity: 1},
		},
		Voucher:    &voucher,
		Promotions: promotions,
		Now:        pricingNow,
	})
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	// 20% of (60000 - 10000) on the shoes line only.
	if result.VoucherDiscount != 10_000 {
		t.Fatalf("expected voucher discount 10000, got %d", result.VoucherDiscount)
	}
	if result.PayableBeforeShipping != 80_000 {
		t.Fatalf("expected payable 80000, got %d", result.PayableBeforeShipping)
	}
}

func TestPricingCalculator_VoucherNotApplicable(t *testing.T) {
	calc := NewPricingCalculator(PricingCalculatorDeps{})
	lines := []PricingLineInput{{ProductID: "p-1", CategoryID: "c-1", UnitPrice: 50_000, Quantity: 1}}

	cases := []struct {
		name   string
		mutate func(*domain.Voucher)
		usage  int
	}{
		{name: "below minimum", mutate: func(v *domain.Voucher) {}},
		{name: "expired", mutate: func(v *domain.Voucher) {
			v.Rule.MinOrderValue = 0
			v.Window.ExpiryDate = pricingNow.AddDate(0, 0, -1)
		}},
		{name: "not approved", mutate: func(v *domain.Voucher) {
			v.Rule.MinOrderValue = 0
			v.Window.Status = domain.DiscountStatusPending
		}},
		{name: "inactive", mutate: func(v *domain.Voucher) {
			v.Rule.MinOrderValue = 0
			v.Window.IsActive = false
		}},
		{name: "exhausted", mutate: func(v *domain.Voucher) {
			v.Rule.MinOrderValue = 0
			v.UsageCount = v.UsageLimit
		}},
		{name: "per user", usage: 1, mutate: func(v *domain.Voucher) {
			v.Rule.MinOrderValue = 0
		}},
		{name: "scope mismatch", mutate: func(v *domain.Voucher) {
			v.Rule = domain.DiscountRule{Scope: domain.DiscountScopeProduct, Kind: domain.DiscountKindAmount, Value: 1_000, ProductIDs: []string{"p-other"}}
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			voucher := sale10Voucher()
			tc.mutate(&voucher)
			_, err := calc.Calculate(context.Background(), PricingInput{
				Lines:        lines,
				Voucher:      &voucher,
				VoucherUsage: tc.usage,
				Now:          pricingNow,
			})
			if !errors.Is(err, ErrVoucherNotApplicable) {
				t.Fatalf("expected ErrVoucherNotApplicable, got %v", err)
			}
			if code := ErrorCode(err); code != "voucher_not_applicable" {
				t.Fatalf("expected stable code voucher_not_applicable, got %s", code)
			}
		})
	}
}

func TestPricingCalculator_DiscountClampedToSubtotal(t *testing.T) {
	calc := NewPricingCalculator(PricingCalculatorDeps{})
	voucher := domain.Voucher{
		ID:     "v-big",
		Code:   "BIG",
		Rule:   domain.DiscountRule{Scope: domain.DiscountScopeOrder, Kind: domain.DiscountKindAmount, Value: 1_000_000},
		Window: approvedWindow(),
	}
	result, err := calc.Calculate(context.Background(), PricingInput{
		Lines:   []PricingLineInput{{ProductID: "p-1", UnitPrice: 30_000, Quantity: 1}},
		Voucher: &voucher,
		Now:     pricingNow,
	})
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if result.VoucherDiscount != 30_000 || result.PayableBeforeShipping != 0 {
		t.Fatalf("expected discount clamped to 30000 and payable 0, got %d/%d", result.VoucherDiscount, result.PayableBeforeShipping)
	}
}

func TestPricingCalculator_InvalidInput(t *testing.T) {
	calc := NewPricingCalculator(PricingCalculatorDeps{})
	cases := map[string][]PricingLineInput{
		"empty":    nil,
		"quantity": {{ProductID: "p-1", UnitPrice: 1, Quantity: 0}},
		"negative": {{ProductID: "p-1", UnitPrice: -1, Quantity: 1}},
		"overflow": {{ProductID: "p-1", UnitPrice: math.MaxInt64, Quantity: 2}},
	}
	for name, lines := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := calc.Calculate(context.Background(), PricingInput{Lines: lines, Now: pricingNow})
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestRuleDiscount(t *testing.T) {
	cases := []struct {
		name string
		rule domain.DiscountRule
		base int64
		want int64
	}{
		{"percent", domain.DiscountRule{Kind: domain.DiscountKindPercent, Value: 10}, 500_000, 50_000},
		{"percent capped", domain.DiscountRule{Kind: domain.DiscountKindPercent, Value: 10, MaxDiscount: 40_000}, 500_000, 40_000},
		{"percent floors", domain.DiscountRule{Kind: domain.DiscountKindPercent, Value: 15}, 999, 149},
		{"amount", domain.DiscountRule{Kind: domain.DiscountKindAmount, Value: 20_000}, 500_000, 20_000},
		{"amount clamped", domain.DiscountRule{Kind: domain.DiscountKindAmount, Value: 20_000}, 5_000, 5_000},
		{"zero base", domain.DiscountRule{Kind: domain.DiscountKindAmount, Value: 20_000}, 0, 0},
	}
	for _, tc := range cases {
		if got := ruleDiscount(tc.rule, tc.base); got != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.want, got)
		}
	}
}

func TestAllocateByWeight(t *testing.T) {
	got := allocateByWeight(100, []int64{1, 1, 1})
	if got[0]+got[1]+got[2] != 100 {
		t.Fatalf("expected allocations to sum to 100, got %v", got)
	}
	if got[0] != 34 || got[1] != 33 || got[2] != 33 {
		t.Fatalf("unexpected allocation %v", got)
	}
}
