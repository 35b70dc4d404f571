package services

import (
	"context"
	"errors"
	"time"

	"github.com/hanko-field/orderflow/internal/repositories"
)

// DiscountSweepServiceDeps wires the expiry sweep.
type DiscountSweepServiceDeps struct {
	Vouchers   repositories.VoucherRepository
	Promotions repositories.PromotionRepository
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type discountSweepService struct {
	vouchers   repositories.VoucherRepository
	promotions repositories.PromotionRepository
	logger     func(context.Context, string, map[string]any)
}

// NewDiscountSweepService constructs the sweep that deactivates expired discounts.
func NewDiscountSweepService(deps DiscountSweepServiceDeps) (DiscountSweepService, error) {
	if deps.Vouchers == nil || deps.Promotions == nil {
		return nil, errors.New("discount sweep: voucher and promotion repositories are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &discountSweepService{vouchers: deps.Vouchers, promotions: deps.Promotions, logger: logger}, nil
}

// ExpireStale marks every voucher and promotion whose expiry day has passed as inactive.
// Individual failures are logged and skipped so one bad record does not block the sweep.
func (s *discountSweepService) ExpireStale(ctx context.Context, now time.Time) (SweepResult, error) {
	now = now.UTC()
	var result SweepResult

	vouchers, err := s.vouchers.ListExpired(ctx, now)
	if err != nil {
		return result, mapRepositoryError(err, "voucher", "")
	}
	for _, voucher := range vouchers {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := s.vouchers.Deactivate(ctx, voucher.ID, now); err != nil {
			s.logger(ctx, "discounts.sweep.voucher_failed", map[string]any{"voucherId": voucher.ID, "error": err.Error()})
			continue
		}
		result.VouchersExpired++
	}

	promotions, err := s.promotions.ListExpired(ctx, now)
	if err != nil {
		return result, mapRepositoryError(err, "promotion", "")
	}
	for _, promo := range promotions {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := s.promotions.Deactivate(ctx, promo.ID, now); err != nil {
			s.logger(ctx, "discounts.sweep.promotion_failed", map[string]any{"promotionId": promo.ID, "error": err.Error()})
			continue
		}
		result.PromotionsExpired++
	}

	s.logger(ctx, "discounts.sweep.completed", map[string]any{
		"vouchers":   result.VouchersExpired,
		"promotions": result.PromotionsExpired,
	})
	return result, nil
}
