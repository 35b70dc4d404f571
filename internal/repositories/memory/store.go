// Package memory provides an in-process repository registry used for tests and local development.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sync"

	domain "github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/repositories"
)

type txKey struct{}

// Store holds every collection behind one mutex. RunInTx holds the mutex for the whole callback
// and restores a snapshot when the callback fails, so transactional writes are all-or-nothing.
type Store struct {
	mu sync.Mutex

	carts         map[string]domain.Cart
	products      map[string]domain.Product
	vouchers      map[string]domain.Voucher
	voucherCodes  map[string]string
	voucherUsage  map[string]int
	promotions    map[string]domain.Promotion
	orders        map[string]domain.Order
	notifications map[string]domain.PaymentNotification
	audit         map[string][]domain.AuditLogEntry
}

var _ repositories.Registry = (*Store)(nil)

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{
		carts:         make(map[string]domain.Cart),
		products:      make(map[string]domain.Product),
		vouchers:      make(map[string]domain.Voucher),
		voucherCodes:  make(map[string]string),
		voucherUsage:  make(map[string]int),
		promotions:    make(map[string]domain.Promotion),
		orders:        make(map[string]domain.Order),
		notifications: make(map[string]domain.PaymentNotification),
		audit:         make(map[string][]domain.AuditLogEntry),
	}
}

// Close implements repositories.Registry.
func (s *Store) Close(context.Context) error { return nil }

func (s *Store) Carts() repositories.CartRepository       { return cartRepository{s} }
func (s *Store) Products() repositories.ProductRepository { return productRepository{s} }
func (s *Store) Vouchers() repositories.VoucherRepository { return voucherRepository{s} }
func (s *Store) Promotions() repositories.PromotionRepository {
	return promotionRepository{s}
}
func (s *Store) Orders() repositories.OrderRepository { return orderRepository{s} }
func (s *Store) PaymentNotifications() repositories.PaymentNotificationRepository {
	return notificationRepository{s}
}
func (s *Store) AuditLogs() repositories.AuditLogRepository { return auditRepository{s} }

// RunInTx implements repositories.UnitOfWork. Nested calls join the outer transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return nil
	}
	if s.inTx(ctx) {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

func (s *Store) inTx(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	owner, ok := ctx.Value(txKey{}).(*Store)
	return ok && owner == s
}

// with runs fn under the store mutex unless ctx already belongs to a transaction on s.
func (s *Store) with(ctx context.Context, fn func() error) error {
	if s.inTx(ctx) {
		return fn()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}

type snapshot struct {
	carts         map[string]domain.Cart
	products      map[string]domain.Product
	vouchers      map[string]domain.Voucher
	voucherCodes  map[string]string
	voucherUsage  map[string]int
	promotions    map[string]domain.Promotion
	orders        map[string]domain.Order
	notifications map[string]domain.PaymentNotification
	audit         map[string][]domain.AuditLogEntry
}

func (s *Store) snapshot() snapshot {
	audit := make(map[string][]domain.AuditLogEntry, len(s.audit))
	for k, v := range s.audit {
		audit[k] = append([]domain.AuditLogEntry(nil), v...)
	}
	return snapshot{
		carts:         maps.Clone(s.carts),
		products:      maps.Clone(s.products),
		vouchers:      maps.Clone(s.vouchers),
		voucherCodes:  maps.Clone(s.voucherCodes),
		voucherUsage:  maps.Clone(s.voucherUsage),
		promotions:    maps.Clone(s.promotions),
		orders:        maps.Clone(s.orders),
		notifications: maps.Clone(s.notifications),
		audit:         audit,
	}
}

func (s *Store) restore(snap snapshot) {
	s.carts = snap.carts
	s.products = snap.products
	s.vouchers = snap.vouchers
	s.voucherCodes = snap.voucherCodes
	s.voucherUsage = snap.voucherUsage
	s.promotions = snap.promotions
	s.orders = snap.orders
	s.notifications = snap.notifications
	s.audit = snap.audit
}

type repoError struct {
	op       string
	msg      string
	notFound bool
	conflict bool
}

func (e *repoError) Error() string       { return fmt.Sprintf("memory %s: %s", e.op, e.msg) }
func (e *repoError) IsNotFound() bool    { return e.notFound }
func (e *repoError) IsConflict() bool    { return e.conflict }
func (e *repoError) IsUnavailable() bool { return false }

func notFound(op, id string) error {
	return &repoError{op: op, msg: fmt.Sprintf("%q not found", id), notFound: true}
}

func conflict(op, id string) error {
	return &repoError{op: op, msg: fmt.Sprintf("%q already exists", id), conflict: true}
}
