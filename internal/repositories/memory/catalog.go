package memory

import (
	"context"
	"slices"
	"strings"
	"time"

	domain "github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/repositories"
)

// PutProduct inserts or replaces a catalog product.
func (s *Store) PutProduct(product domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[product.ID] = product
}

// PutVoucher inserts or replaces a voucher, indexing it by upper-cased code.
func (s *Store) PutVoucher(voucher domain.Voucher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	voucher.Rule = cloneRule(voucher.Rule)
	s.vouchers[voucher.ID] = voucher
	s.voucherCodes[strings.ToUpper(voucher.Code)] = voucher.ID
}

// PutPromotion inserts or replaces a promotion.
func (s *Store) PutPromotion(promotion domain.Promotion) {
	s.mu.Lock()
	defer s.mu.Unlock()
	promotion.Rule = cloneRule(promotion.Rule)
	s.promotions[promotion.ID] = promotion
}

func cloneRule(rule domain.DiscountRule) domain.DiscountRule {
	rule.CategoryIDs = slices.Clone(rule.CategoryIDs)
	rule.ProductIDs = slices.Clone(rule.ProductIDs)
	return rule
}

type productRepository struct{ s *Store }

func (r productRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	var out domain.Product
	err := r.s.with(ctx, func() error {
		product, ok := r.s.products[productID]
		if !ok {
			return notFound("product.find", productID)
		}
		out = product
		return nil
	})
	return out, err
}

func (r productRepository) FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	out := make(map[string]domain.Product, len(productIDs))
	err := r.s.with(ctx, func() error {
		for _, id := range productIDs {
			if product, ok := r.s.products[id]; ok {
				out[id] = product
			}
		}
		return nil
	})
	return out, err
}

func (r productRepository) IncrementStock(ctx context.Context, productID string, qty int) (domain.Product, error) {
	var out domain.Product
	err := r.s.with(ctx, func() error {
		product, ok := r.s.products[productID]
		if !ok {
			return notFound("product.increment", productID)
		}
		product.Stock += qty
		r.s.products[productID] = product
		out = product
		return nil
	})
	return out, err
}

func (r productRepository) DecrementStock(ctx context.Context, productID string, qty int) (domain.Product, error) {
	var out domain.Product
	err := r.s.with(ctx, func() error {
		product, ok := r.s.products[productID]
		if !ok {
			return notFound("product.decrement", productID)
		}
		if !product.Active {
			return &repositories.StockError{Code: repositories.StockErrorInactive, ProductID: productID, Requested: qty, Available: product.Stock}
		}
		if product.Stock-qty < 0 {
			return &repositories.StockError{Code: repositories.StockErrorInsufficient, ProductID: productID, Requested: qty, Available: product.Stock}
		}
		product.Stock -= qty
		r.s.products[productID] = product
		out = product
		return nil
	})
	return out, err
}

type voucherRepository struct{ s *Store }

func usageKey(voucherID, customerID string) string {
	return voucherID + "|" + customerID
}

func (r voucherRepository) FindByCode(ctx context.Context, code string) (domain.Voucher, error) {
	var out domain.Voucher
	err := r.s.with(ctx, func() error {
		id, ok := r.s.voucherCodes[strings.ToUpper(code)]
		if !ok {
			return notFound("voucher.find", code)
		}
		out = r.s.vouchers[id]
		return nil
	})
	return out, err
}

func (r voucherRepository) CustomerUsage(ctx context.Context, voucherID, customerID string) (int, error) {
	var out int
	err := r.s.with(ctx, func() error {
		out = r.s.voucherUsage[usageKey(voucherID, customerID)]
		return nil
	})
	return out, err
}

func (r voucherRepository) IncrementUsage(ctx context.Context, voucherID, customerID string) (domain.Voucher, error) {
	var out domain.Voucher
	err := r.s.with(ctx, func() error {
		voucher, ok := r.s.vouchers[voucherID]
		if !ok {
			return notFound("voucher.increment", voucherID)
		}
		if voucher.Exhausted() {
			return &repositories.VoucherUsageError{Code: repositories.VoucherUsageLimitReached, VoucherID: voucherID}
		}
		key := usageKey(voucherID, customerID)
		used := r.s.voucherUsage[key]
		if voucher.UsagePerUser > 0 && used >= voucher.UsagePerUser {
			return &repositories.VoucherUsageError{Code: repositories.VoucherPerUserLimitReached, VoucherID: voucherID}
		}
		voucher.UsageCount++
		r.s.vouchers[voucherID] = voucher
		r.s.voucherUsage[key] = used + 1
		out = voucher
		return nil
	})
	return out, err
}

func (r voucherRepository) DecrementUsage(ctx context.Context, voucherID, customerID string) (domain.Voucher, error) {
	var out domain.Voucher
	err := r.s.with(ctx, func() error {
		voucher, ok := r.s.vouchers[voucherID]
		if !ok {
			return notFound("voucher.decrement", voucherID)
		}
		voucher.UsageCount = max(voucher.UsageCount-1, 0)
		r.s.vouchers[voucherID] = voucher
		key := usageKey(voucherID, customerID)
		if used := r.s.voucherUsage[key]; used > 1 {
			r.s.voucherUsage[key] = used - 1
		} else {
			delete(r.s.voucherUsage, key)
		}
		out = voucher
		return nil
	})
	return out, err
}

func (r voucherRepository) ListExpired(ctx context.Context, now time.Time) ([]domain.Voucher, error) {
	var out []domain.Voucher
	err := r.s.with(ctx, func() error {
		for _, voucher := range r.s.vouchers {
			if voucher.Window.IsActive && voucher.Window.ExpiredAt(now) {
				out = append(out, voucher)
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b domain.Voucher) int { return strings.Compare(a.ID, b.ID) })
	return out, err
}

func (r voucherRepository) Deactivate(ctx context.Context, voucherID string, at time.Time) error {
	return r.s.with(ctx, func() error {
		voucher, ok := r.s.vouchers[voucherID]
		if !ok {
			return notFound("voucher.deactivate", voucherID)
		}
		voucher.Window.IsActive = false
		voucher.UpdatedAt = at
		r.s.vouchers[voucherID] = voucher
		return nil
	})
}

type promotionRepository struct{ s *Store }

func (r promotionRepository) ListActive(ctx context.Context, productIDs, categoryIDs []string, now time.Time) ([]domain.Promotion, error) {
	var out []domain.Promotion
	err := r.s.with(ctx, func() error {
		for _, promo := range r.s.promotions {
			if !promo.Window.UsableAt(now) {
				continue
			}
			switch promo.Rule.Scope {
			case domain.DiscountScopeOrder:
				out = append(out, promo)
			case domain.DiscountScopeProduct:
				if intersects(promo.Rule.ProductIDs, productIDs) {
					out = append(out, promo)
				}
			case domain.DiscountScopeCategory:
				if intersects(promo.Rule.CategoryIDs, categoryIDs) {
					out = append(out, promo)
				}
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b domain.Promotion) int { return strings.Compare(a.ID, b.ID) })
	return out, err
}

func (r promotionRepository) ListExpired(ctx context.Context, now time.Time) ([]domain.Promotion, error) {
	var out []domain.Promotion
	err := r.s.with(ctx, func() error {
		for _, promo := range r.s.promotions {
			if promo.Window.IsActive && promo.Window.ExpiredAt(now) {
				out = append(out, promo)
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b domain.Promotion) int { return strings.Compare(a.ID, b.ID) })
	return out, err
}

func (r promotionRepository) Deactivate(ctx context.Context, promotionID string, at time.Time) error {
	return r.s.with(ctx, func() error {
		promo, ok := r.s.promotions[promotionID]
		if !ok {
			return notFound("promotion.deactivate", promotionID)
		}
		promo.Window.IsActive = false
		promo.UpdatedAt = at
		r.s.promotions[promotionID] = promo
		return nil
	})
}

func intersects(a, b []string) bool {
	for _, v := range a {
		if slices.Contains(b, v) {
			return true
		}
	}
	return false
}
