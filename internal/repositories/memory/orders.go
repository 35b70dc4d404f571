package memory

import (
	"context"
	"slices"

	domain "github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/platform/pagination"
	"github.com/hanko-field/orderflow/internal/repositories"
)

const defaultPageSize = 20

type orderRepository struct{ s *Store }

func (r orderRepository) Insert(ctx context.Context, order domain.Order) error {
	return r.s.with(ctx, func() error {
		if _, exists := r.s.orders[order.ID]; exists {
			return conflict("order.insert", order.ID)
		}
		if order.Version == 0 {
			order.Version = 1
		}
		r.s.orders[order.ID] = order.Clone()
		return nil
	})
}

func (r orderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	var out domain.Order
	err := r.s.with(ctx, func() error {
		order, ok := r.s.orders[orderID]
		if !ok {
			return notFound("order.find", orderID)
		}
		out = order.Clone()
		return nil
	})
	return out, err
}

func (r orderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	var matched []domain.Order
	err := r.s.with(ctx, func() error {
		for _, order := range r.s.orders {
			if filter.CustomerID != "" && order.CustomerID != filter.CustomerID {
				continue
			}
			if len(filter.Status) > 0 && !slices.Contains(filter.Status, order.Status) {
				continue
			}
			matched = append(matched, order.Clone())
		}
		return nil
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	slices.SortFunc(matched, func(a, b domain.Order) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return 1
		}
		if a.ID > b.ID {
			return -1
		}
		return 0
	})

	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	offset := 0
	if !cursor.IsZero() {
		// Resume after the cursor position even if that order has since been removed.
		offset = len(matched)
		for i, order := range matched {
			if order.CreatedAt.Before(cursor.CreatedAt) || (order.CreatedAt.Equal(cursor.CreatedAt) && order.ID < cursor.ID) {
				offset = i
				break
			}
		}
	}
	size := filter.Pagination.PageSize
	if size <= 0 {
		size = defaultPageSize
	}
	end := min(offset+size, len(matched))
	page := domain.CursorPage[domain.Order]{Items: matched[offset:end]}
	if end < len(matched) {
		last := page.Items[len(page.Items)-1]
		page.NextPageToken = pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return page, nil
}

func (r orderRepository) FindUnpaidByAmount(ctx context.Context, filter repositories.PaymentMatchFilter) ([]domain.Order, error) {
	var out []domain.Order
	err := r.s.with(ctx, func() error {
		for _, order := range r.s.orders {
			if order.Paid || order.TotalAmount != filter.Amount {
				continue
			}
			if order.Status != domain.OrderStatusCreated && order.Status != domain.OrderStatusConfirmed {
				continue
			}
			if order.CreatedAt.Before(filter.CreatedFrom) || order.CreatedAt.After(filter.CreatedTo) {
				continue
			}
			out = append(out, order.Clone())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(out, func(a, b domain.Order) int { return a.CreatedAt.Compare(b.CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r orderRepository) Mutate(ctx context.Context, orderID string, fn func(order *domain.Order) error) (domain.Order, error) {
	var out domain.Order
	err := r.s.with(ctx, func() error {
		current, ok := r.s.orders[orderID]
		if !ok {
			return notFound("order.mutate", orderID)
		}
		working := current.Clone()
		if err := fn(&working); err != nil {
			return err
		}
		working.ID = current.ID
		working.Version = current.Version + 1
		r.s.orders[orderID] = working.Clone()
		out = working
		return nil
	})
	return out, err
}

type notificationRepository struct{ s *Store }

func (r notificationRepository) Save(ctx context.Context, notification domain.PaymentNotification) error {
	return r.s.with(ctx, func() error {
		r.s.notifications[notification.TransID] = notification
		return nil
	})
}

func (r notificationRepository) FindByTransID(ctx context.Context, transID string) (domain.PaymentNotification, error) {
	var out domain.PaymentNotification
	err := r.s.with(ctx, func() error {
		n, ok := r.s.notifications[transID]
		if !ok {
			return notFound("payment_notification.find", transID)
		}
		out = n
		return nil
	})
	return out, err
}

type auditRepository struct{ s *Store }

func (r auditRepository) Append(ctx context.Context, entry domain.AuditLogEntry) error {
	return r.s.with(ctx, func() error {
		r.s.audit[entry.OrderID] = append(r.s.audit[entry.OrderID], entry)
		return nil
	})
}

func (r auditRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.AuditLogEntry, error) {
	var out []domain.AuditLogEntry
	err := r.s.with(ctx, func() error {
		out = slices.Clone(r.s.audit[orderID])
		return nil
	})
	return out, err
}
