package repositories

import (
	"context"
	"time"

	domain "github.com/hanko-field/orderflow/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Carts() CartRepository
	Products() ProductRepository
	Vouchers() VoucherRepository
	Promotions() PromotionRepository
	Orders() OrderRepository
	PaymentNotifications() PaymentNotificationRepository
	AuditLogs() AuditLogRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork groups repository operations in one transactional boundary. Repository calls made
// with the ctx passed to fn participate in the transaction; if fn returns an error every write
// made through that ctx is rolled back.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// CartRepository persists the single active cart per customer.
type CartRepository interface {
	Get(ctx context.Context, customerID string) (domain.Cart, error)
	Save(ctx context.Context, cart domain.Cart) error
	Clear(ctx context.Context, customerID string, clearedAt time.Time) error
}

// ProductRepository is the catalog collaborator view used by checkout.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error)
	// DecrementStock subtracts qty only if the resulting stock stays non-negative; otherwise it
	// returns a *StockError with StockErrorInsufficient and leaves stock unchanged.
	DecrementStock(ctx context.Context, productID string, qty int) (domain.Product, error)
	// IncrementStock returns qty units to stock, used when an unpaid order is cancelled.
	IncrementStock(ctx context.Context, productID string, qty int) (domain.Product, error)
}

// VoucherRepository stores vouchers and their usage counters.
type VoucherRepository interface {
	FindByCode(ctx context.Context, code string) (domain.Voucher, error)
	CustomerUsage(ctx context.Context, voucherID, customerID string) (int, error)
	// IncrementUsage bumps the global and per-customer counters only while both stay within their
	// limits; otherwise it returns a *VoucherUsageError and leaves counters unchanged.
	IncrementUsage(ctx context.Context, voucherID, customerID string) (domain.Voucher, error)
	// DecrementUsage gives back one redemption on both counters, never going below zero.
	DecrementUsage(ctx context.Context, voucherID, customerID string) (domain.Voucher, error)
	ListExpired(ctx context.Context, now time.Time) ([]domain.Voucher, error)
	Deactivate(ctx context.Context, voucherID string, at time.Time) error
}

// PromotionRepository stores automatically applied promotions.
type PromotionRepository interface {
	// ListActive returns usable promotions whose scope may match the supplied products or
	// categories, including every ORDER scoped promotion.
	ListActive(ctx context.Context, productIDs, categoryIDs []string, now time.Time) ([]domain.Promotion, error)
	ListExpired(ctx context.Context, now time.Time) ([]domain.Promotion, error)
	Deactivate(ctx context.Context, promotionID string, at time.Time) error
}

// OrderListFilter narrows order listings.
type OrderListFilter struct {
	CustomerID string
	Status     []domain.OrderStatus
	Pagination domain.Pagination
}

// PaymentMatchFilter selects unpaid CREATED or CONFIRMED orders whose total equals Amount and
// whose CreatedAt falls within [CreatedFrom, CreatedTo].
type PaymentMatchFilter struct {
	Amount      int64
	CreatedFrom time.Time
	CreatedTo   time.Time
	Limit       int
}

// OrderRepository persists orders. Mutate is the single mutation point after creation.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	// FindUnpaidByAmount correlates a payment that names no order. At most Limit orders are
	// returned when Limit is positive.
	FindUnpaidByAmount(ctx context.Context, filter PaymentMatchFilter) ([]domain.Order, error)
	// Mutate loads the order, applies fn and persists the result with an incremented Version.
	// Calls for the same order id are serialized. If fn returns an error nothing is written.
	Mutate(ctx context.Context, orderID string, fn func(order *domain.Order) error) (domain.Order, error)
}

// PaymentNotificationRepository keeps inbound provider callbacks keyed by transaction id.
type PaymentNotificationRepository interface {
	Save(ctx context.Context, notification domain.PaymentNotification) error
	FindByTransID(ctx context.Context, transID string) (domain.PaymentNotification, error)
}

// AuditLogRepository persists order audit entries.
type AuditLogRepository interface {
	Append(ctx context.Context, entry domain.AuditLogEntry) error
	ListByOrder(ctx context.Context, orderID string) ([]domain.AuditLogEntry, error)
}
