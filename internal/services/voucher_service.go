package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/hanko-field/orderflow/internal/platform/textutil"
	"github.com/hanko-field/orderflow/internal/repositories"
)

const maxVoucherCodeLength = 64

// VoucherServiceDeps wires the voucher repository.
type VoucherServiceDeps struct {
	Vouchers repositories.VoucherRepository
}

type voucherService struct {
	vouchers repositories.VoucherRepository
}

// NewVoucherService constructs a VoucherService.
func NewVoucherService(deps VoucherServiceDeps) (VoucherService, error) {
	if deps.Vouchers == nil {
		return nil, errors.New("voucher service: repository is required")
	}
	return &voucherService{vouchers: deps.Vouchers}, nil
}

// Lookup normalizes the code and loads the voucher with the customer's redemption count.
// Unknown codes fail with VoucherInvalid; applicability is decided by the pricing calculator.
func (s *voucherService) Lookup(ctx context.Context, code, customerID string) (VoucherLookup, error) {
	normalized := textutil.NormalizeCode(code)
	if normalized == "" {
		return VoucherLookup{}, validationError("voucher code is required")
	}
	if len(normalized) > maxVoucherCodeLength {
		return VoucherLookup{}, voucherInvalid(normalized)
	}

	voucher, err := s.vouchers.FindByCode(ctx, normalized)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return VoucherLookup{}, voucherInvalid(normalized)
		}
		return VoucherLookup{}, mapRepositoryError(err, "voucher", normalized)
	}

	lookup := VoucherLookup{Voucher: voucher}
	if customerID != "" {
		usage, err := s.vouchers.CustomerUsage(ctx, voucher.ID, customerID)
		if err != nil {
			return VoucherLookup{}, mapRepositoryError(err, "voucher", voucher.ID)
		}
		lookup.CustomerUsage = usage
	}
	return lookup, nil
}

func voucherInvalid(code string) error {
	return newError(ErrVoucherInvalid, fmt.Sprintf("voucher %s does not exist", code), map[string]any{"code": code})
}
