package services

import (
	"context"
	"math"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/hanko-field/orderflow/internal/domain"
)

// PricingCalculator applies promotions and at most one voucher to a set of cart lines.
// Calculate is a pure function of its input; the logger only observes clamping.
type PricingCalculator struct {
	logger func(context.Context, string, map[string]any)
}

type PricingCalculatorDeps struct {
	Logger func(context.Context, string, map[string]any)
}

func NewPricingCalculator(deps PricingCalculatorDeps) *PricingCalculator {
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &PricingCalculator{logger: logger}
}

// PricingLineInput is one cart line as seen by the calculator.
type PricingLineInput struct {
	ProductID  string
	CategoryID string
	UnitPrice  int64
	Quantity   int
}

// PricingInput bundles everything Calculate needs. VoucherUsage is the customer's historical
// redemption count for Voucher.
type PricingInput struct {
	Lines        []PricingLineInput
	Voucher      *domain.Voucher
	VoucherUsage int
	Promotions   []domain.Promotion
	Now          time.Time
}

// Calculate computes subtotal, promotion discount, voucher discount and the payable amount.
//
// Promotions are visited by ascending id and each claims the eligible lines not yet claimed,
// so every line receives at most one promotion. Amount-off and caps apply once per promotion
// across the lines it claimed. The voucher is then applied to the remaining amount of its
// scoped lines. Discounts never exceed the amount they reduce.
func (c *PricingCalculator) Calculate(ctx context.Context, in PricingInput) (domain.PricingResult, error) {
	if len(in.Lines) == 0 {
		return domain.PricingResult{}, validationError("cart has no items to price")
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}

	lines := make([]domain.PricingLine, len(in.Lines))
	var subtotal int64
	for i, item := range in.Lines {
		if strings.TrimSpace(item.ProductID) == "" {
			return domain.PricingResult{}, validationError("line %d is missing a product id", i)
		}
		if item.Quantity <= 0 {
			return domain.PricingResult{}, validationError("product %s quantity must be positive", item.ProductID)
		}
		if item.UnitPrice < 0 {
			return domain.PricingResult{}, validationError("product %s has a negative unit price", item.ProductID)
		}
		quantity := int64(item.Quantity)
		if item.UnitPrice > 0 && item.UnitPrice > math.MaxInt64/quantity {
			return domain.PricingResult{}, validationError("product %s line total overflows", item.ProductID)
		}
		lineTotal := item.UnitPrice * quantity
		if lineTotal > 0 && subtotal > math.MaxInt64-lineTotal {
			return domain.PricingResult{}, validationError("cart subtotal overflows")
		}
		subtotal += lineTotal
		lines[i] = domain.PricingLine{
			ProductID:  item.ProductID,
			CategoryID: item.CategoryID,
			UnitPrice:  item.UnitPrice,
			Quantity:   item.Quantity,
			LineTotal:  lineTotal,
		}
	}

	promotionDiscount := c.applyPromotions(ctx, lines, in.Promotions, subtotal, now)

	result := domain.PricingResult{
		Subtotal:          subtotal,
		PromotionDiscount: promotionDiscount,
		Lines:             lines,
	}

	if in.Voucher != nil {
		voucherDiscount, err := c.applyVoucher(ctx, lines, *in.Voucher, in.VoucherUsage, subtotal, now)
		if err != nil {
			return domain.PricingResult{}, err
		}
		result.VoucherDiscount = voucherDiscount
		result.VoucherCode = in.Voucher.Code
		result.VoucherID = in.Voucher.ID
	}

	payable := subtotal - result.PromotionDiscount - result.VoucherDiscount
	if payable < 0 {
		c.logger(ctx, "pricing_discount_clamped", map[string]any{"subtotal": subtotal, "discount": result.Discount()})
		result.VoucherDiscount = max(subtotal-result.PromotionDiscount, 0)
		payable = subtotal - result.PromotionDiscount - result.VoucherDiscount
	}
	result.PayableBeforeShipping = payable
	return result, nil
}

func (c *PricingCalculator) applyPromotions(ctx context.Context, lines []domain.PricingLine, promotions []domain.Promotion, subtotal int64, now time.Time) int64 {
	if len(promotions) == 0 {
		return 0
	}
	ordered := slices.Clone(promotions)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	claimed := make([]bool, len(lines))
	var total int64
	for _, promo := range ordered {
		if !promo.Window.UsableAt(now) {
			continue
		}
		if promo.Rule.Validate() != nil {
			c.logger(ctx, "pricing_promotion_invalid_rule", map[string]any{"promotionId": promo.ID})
			continue
		}
		if subtotal < promo.Rule.MinOrderValue {
			continue
		}

		var idx []int
		var base int64
		for i, line := range lines {
			if claimed[i] || !ruleMatchesLine(promo.Rule, line) {
				continue
			}
			idx = append(idx, i)
			base += line.LineTotal
		}
		if len(idx) == 0 {
			continue
		}

		discount := ruleDiscount(promo.Rule, base)
		weights := make([]int64, len(idx))
		for k, i := range idx {
			weights[k] = lines[i].LineTotal
			claimed[i] = true
		}
		for k, share := range allocateByWeight(discount, weights) {
			line := &lines[idx[k]]
			line.PromotionID = promo.ID
			line.PromotionDiscount = min(share, line.LineTotal)
			total += line.PromotionDiscount
		}
	}
	return total
}

func (c *PricingCalculator) applyVoucher(ctx context.Context, lines []domain.PricingLine, voucher domain.Voucher, usage int, subtotal int64, now time.Time) (int64, error) {
	code := voucher.Code
	if !voucher.Window.UsableAt(now) {
		return 0, voucherNotApplicable(code, "voucher is inactive, unapproved or outside its validity window")
	}
	if voucher.Exhausted() {
		return 0, voucherNotApplicable(code, "voucher usage limit reached")
	}
	if voucher.UsagePerUser > 0 && usage >= voucher.UsagePerUser {
		return 0, voucherNotApplicable(code, "voucher already used the maximum number of times by this customer")
	}
	if err := voucher.Rule.Validate(); err != nil {
		return 0, voucherNotApplicable(code, "voucher rule is misconfigured")
	}
	if subtotal < voucher.Rule.MinOrderValue {
		return 0, voucherNotApplicable(code, "order subtotal below the voucher minimum")
	}

	var idx []int
	var base int64
	for i, line := range lines {
		if !ruleMatchesLine(voucher.Rule, line) {
			continue
		}
		idx = append(idx, i)
		base += line.LineTotal - line.PromotionDiscount
	}
	if len(idx) == 0 {
		return 0, voucherNotApplicable(code, "cart has no items in the voucher scope")
	}

	discount := ruleDiscount(voucher.Rule, base)
	weights := make([]int64, len(idx))
	for k, i := range idx {
		weights[k] = lines[i].LineTotal - lines[i].PromotionDiscount
	}
	for k, share := range allocateByWeight(discount, weights) {
		lines[idx[k]].VoucherDiscount = share
	}
	if discount == 0 {
		c.logger(ctx, "pricing_voucher_zero_base", map[string]any{"code": code})
	}
	return discount, nil
}

// ruleDiscount evaluates a rule against base and applies the cap, clamped to base.
func ruleDiscount(rule domain.DiscountRule, base int64) int64 {
	if base <= 0 {
		return 0
	}
	var discount int64
	switch rule.Kind {
	case domain.DiscountKindAmount:
		discount = rule.Value
	case domain.DiscountKindPercent:
		discount = (base/100)*rule.Value + (base%100)*rule.Value/100
	}
	if rule.MaxDiscount > 0 && discount > rule.MaxDiscount {
		discount = rule.MaxDiscount
	}
	return max(min(discount, base), 0)
}

func ruleMatchesLine(rule domain.DiscountRule, line domain.PricingLine) bool {
	switch rule.Scope {
	case domain.DiscountScopeOrder:
		return true
	case domain.DiscountScopeCategory:
		return line.CategoryID != "" && slices.Contains(rule.CategoryIDs, line.CategoryID)
	case domain.DiscountScopeProduct:
		return slices.Contains(rule.ProductIDs, line.ProductID)
	}
	return false
}

// allocateByWeight splits amount across weights proportionally, handing out the remainder by
// largest fractional part.
func allocateByWeight(amount int64, weights []int64) []int64 {
	if len(weights) == 0 {
		return nil
	}
	allocations := make([]int64, len(weights))
	if amount == 0 {
		return allocations
	}
	totalWeight := int64(0)
	for _, w := range weights {
		if w > 0 {
			totalWeight += w
		}
	}
	if totalWeight == 0 {
		base := amount / int64(len(weights))
		remainder := amount % int64(len(weights))
		for i := range weights {
			allocations[i] = base
			if remainder > 0 {
				allocations[i]++
				remainder--
			}
		}
		return allocations
	}

	type remainderPair struct {
		idx       int
		remainder int64
	}
	pairs := make([]remainderPair, len(weights))

	distributed := int64(0)
	for i, w := range weights {
		if w < 0 {
			w = 0
		}
		share, rem := mulDiv(amount, w, totalWeight)
		allocations[i] = share
		distributed += share
		pairs[i] = remainderPair{idx: i, remainder: rem}
	}

	remainder := amount - distributed
	if remainder <= 0 {
		return allocations
	}

	sort.SliceStable(pairs, func(i, j int) bool {
		if pairs[i].remainder == pairs[j].remainder {
			return pairs[i].idx < pairs[j].idx
		}
		return pairs[i].remainder > pairs[j].remainder
	})

	for _, entry := range pairs {
		if remainder == 0 {
			break
		}
		allocations[entry.idx]++
		remainder--
	}
	return allocations
}

// mulDiv returns floor(a*b/c) and the remainder. Falls back to float math when a*b overflows.
func mulDiv(a, b, c int64) (int64, int64) {
	if b != 0 && a > math.MaxInt64/b {
		share := int64(float64(a) * (float64(b) / float64(c)))
		return share, 0
	}
	product := a * b
	return product / c, product % c
}
