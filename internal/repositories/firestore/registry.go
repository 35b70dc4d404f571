package firestore

import (
	"context"
	"errors"

	pfirestore "github.com/hanko-field/orderflow/internal/platform/firestore"
	"github.com/hanko-field/orderflow/internal/repositories"
)

// Registry wires every Firestore repository onto one provider and unit of work.
type Registry struct {
	*UnitOfWork

	provider      *pfirestore.Provider
	carts         *CartRepository
	products      *ProductRepository
	vouchers      *VoucherRepository
	promotions    *PromotionRepository
	orders        *OrderRepository
	notifications *PaymentNotificationRepository
	audit         *AuditLogRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs the repositories backed by provider.
func NewRegistry(provider *pfirestore.Provider, txOpts ...pfirestore.TxOption) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}
	uow, err := NewUnitOfWork(provider, txOpts...)
	if err != nil {
		return nil, err
	}
	reg := &Registry{UnitOfWork: uow, provider: provider}
	if reg.carts, err = NewCartRepository(provider); err != nil {
		return nil, err
	}
	if reg.products, err = NewProductRepository(provider, uow); err != nil {
		return nil, err
	}
	if reg.vouchers, err = NewVoucherRepository(provider, uow); err != nil {
		return nil, err
	}
	if reg.promotions, err = NewPromotionRepository(provider, uow); err != nil {
		return nil, err
	}
	if reg.orders, err = NewOrderRepository(provider, uow); err != nil {
		return nil, err
	}
	if reg.notifications, err = NewPaymentNotificationRepository(provider); err != nil {
		return nil, err
	}
	if reg.audit, err = NewAuditLogRepository(provider); err != nil {
		return nil, err
	}
	return reg, nil
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	return r.provider.Close(ctx)
}

func (r *Registry) Carts() repositories.CartRepository           { return r.carts }
func (r *Registry) Products() repositories.ProductRepository     { return r.products }
func (r *Registry) Vouchers() repositories.VoucherRepository     { return r.vouchers }
func (r *Registry) Promotions() repositories.PromotionRepository { return r.promotions }
func (r *Registry) Orders() repositories.OrderRepository         { return r.orders }
func (r *Registry) PaymentNotifications() repositories.PaymentNotificationRepository {
	return r.notifications
}
func (r *Registry) AuditLogs() repositories.AuditLogRepository { return r.audit }

// Catalog exposes the concrete catalog repositories for seeding.
func (r *Registry) Catalog() (*ProductRepository, *VoucherRepository, *PromotionRepository) {
	return r.products, r.vouchers, r.promotions
}
