package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/hanko-field/orderflow/internal/domain"
	pfirestore "github.com/hanko-field/orderflow/internal/platform/firestore"
	"github.com/hanko-field/orderflow/internal/repositories"
)

const cartCollection = "carts"

// CartRepository persists one cart document per customer, keyed by customer id.
type CartRepository struct {
	base *pfirestore.BaseRepository[cartDocument]
}

var _ repositories.CartRepository = (*CartRepository)(nil)

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	return &CartRepository{base: pfirestore.NewBaseRepository[cartDocument](provider, cartCollection)}, nil
}

// Get loads the cart for customerID.
func (r *CartRepository) Get(ctx context.Context, customerID string) (domain.Cart, error) {
	id := strings.TrimSpace(customerID)
	if id == "" {
		return domain.Cart{}, errors.New("cart repository: customer id is required")
	}
	ref, err := r.base.DocumentRef(ctx, id)
	if err != nil {
		return domain.Cart{}, pfirestore.WrapError("cart.get", err)
	}
	doc, found, err := readDoc[cartDocument](ctx, ref)
	if err != nil {
		return domain.Cart{}, pfirestore.WrapError("cart.get", err)
	}
	if !found {
		return domain.Cart{}, notFoundError("cart.get", id)
	}
	return doc.toDomain(id), nil
}

// Save replaces the cart document.
func (r *CartRepository) Save(ctx context.Context, cart domain.Cart) error {
	id := strings.TrimSpace(cart.CustomerID)
	if id == "" {
		return errors.New("cart repository: customer id is required")
	}
	ref, err := r.base.DocumentRef(ctx, id)
	if err != nil {
		return pfirestore.WrapError("cart.save", err)
	}
	return pfirestore.WrapError("cart.save", writeDoc(ctx, ref, newCartDocument(cart), false))
}

// Clear empties the cart and drops the voucher. Missing carts are ignored.
func (r *CartRepository) Clear(ctx context.Context, customerID string, clearedAt time.Time) error {
	cart, err := r.Get(ctx, customerID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return nil
		}
		return err
	}
	cart.Items = nil
	cart.VoucherCode = ""
	cart.VoucherDiscount = 0
	cart.UpdatedAt = clearedAt
	return r.Save(ctx, cart)
}
