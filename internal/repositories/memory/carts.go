package memory

import (
	"context"
	"slices"
	"time"

	domain "github.com/hanko-field/orderflow/internal/domain"
)

type cartRepository struct{ s *Store }

func (r cartRepository) Get(ctx context.Context, customerID string) (domain.Cart, error) {
	var out domain.Cart
	err := r.s.with(ctx, func() error {
		cart, ok := r.s.carts[customerID]
		if !ok {
			return notFound("cart.get", customerID)
		}
		out = cart
		out.Items = slices.Clone(cart.Items)
		return nil
	})
	return out, err
}

func (r cartRepository) Save(ctx context.Context, cart domain.Cart) error {
	return r.s.with(ctx, func() error {
		cart.Items = slices.Clone(cart.Items)
		r.s.carts[cart.CustomerID] = cart
		return nil
	})
}

func (r cartRepository) Clear(ctx context.Context, customerID string, clearedAt time.Time) error {
	return r.s.with(ctx, func() error {
		cart, ok := r.s.carts[customerID]
		if !ok {
			return nil
		}
		cart.Items = nil
		cart.VoucherCode = ""
		cart.VoucherDiscount = 0
		cart.UpdatedAt = clearedAt
		r.s.carts[customerID] = cart
		return nil
	})
}
