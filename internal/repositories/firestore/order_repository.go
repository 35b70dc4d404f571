package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"

	domain "github.com/hanko-field/orderflow/internal/domain"
	pfirestore "github.com/hanko-field/orderflow/internal/platform/firestore"
	"github.com/hanko-field/orderflow/internal/platform/pagination"
	"github.com/hanko-field/orderflow/internal/repositories"
)

const (
	orderCollection        = "orders"
	auditCollection        = "audit"
	notificationCollection = "paymentNotifications"
	defaultOrderPageSize   = 20
)

// ErrInvalidOrderCursor is returned when an order page token cannot be decoded.
var ErrInvalidOrderCursor = errors.New("order repository: invalid page token")

// OrderRepository persists orders, versioning every mutation.
type OrderRepository struct {
	base *pfirestore.BaseRepository[orderDocument]
	uow  *UnitOfWork
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider, uow *UnitOfWork) (*OrderRepository, error) {
	if provider == nil || uow == nil {
		return nil, errors.New("order repository requires firestore provider and unit of work")
	}
	return &OrderRepository{
		base: pfirestore.NewBaseRepository[orderDocument](provider, orderCollection),
		uow:  uow,
	}, nil
}

// Insert creates the order document; an existing id is reported as a conflict.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if order.Version == 0 {
		order.Version = 1
	}
	ref, err := r.base.DocumentRef(ctx, order.ID)
	if err != nil {
		return err
	}
	return pfirestore.WrapError("order.insert", writeDoc(ctx, ref, newOrderDocument(order), true))
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	ref, err := r.base.DocumentRef(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	doc, found, err := readDoc[orderDocument](ctx, ref)
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("order.find", err)
	}
	if !found {
		return domain.Order{}, notFoundError("order.find", orderID)
	}
	return doc.toDomain(orderID), nil
}

// List returns orders newest first. Page tokens carry the createdAt and id of the last item.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	coll, err := r.base.CollectionRef(ctx)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	query := coll.Query
	if id := strings.TrimSpace(filter.CustomerID); id != "" {
		query = query.Where("customerId", "==", id)
	}
	if len(filter.Status) > 0 {
		statuses := make([]string, 0, len(filter.Status))
		for _, s := range filter.Status {
			statuses = append(statuses, string(s))
		}
		query = query.Where("status", "in", statuses)
	}
	query = query.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)

	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		cursor, err := pagination.DecodeToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("%w: %v", ErrInvalidOrderCursor, err)
		}
		// DocumentID ordering expects a document reference, not a bare id.
		query = query.StartAfter(cursor.CreatedAt, coll.Doc(cursor.ID))
	}

	size := filter.Pagination.PageSize
	if size <= 0 {
		size = defaultOrderPageSize
	}
	docs, err := queryDocs[orderDocument](ctx, query.Limit(size+1))
	if err != nil {
		return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("order.list", err)
	}

	page := domain.CursorPage[domain.Order]{}
	for i, d := range docs {
		if i == size {
			break
		}
		page.Items = append(page.Items, d.doc.toDomain(d.id))
	}
	if len(docs) > size {
		last := page.Items[len(page.Items)-1]
		page.NextPageToken = pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return page, nil
}

// FindUnpaidByAmount needs the composite index (paid, totalAmount, status, createdAt).
func (r *OrderRepository) FindUnpaidByAmount(ctx context.Context, filter repositories.PaymentMatchFilter) ([]domain.Order, error) {
	coll, err := r.base.CollectionRef(ctx)
	if err != nil {
		return nil, err
	}
	query := coll.Where("paid", "==", false).
		Where("totalAmount", "==", filter.Amount).
		Where("status", "in", []string{string(domain.OrderStatusCreated), string(domain.OrderStatusConfirmed)}).
		Where("createdAt", ">=", filter.CreatedFrom).
		Where("createdAt", "<=", filter.CreatedTo).
		OrderBy("createdAt", firestore.Asc)
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	docs, err := queryDocs[orderDocument](ctx, query)
	if err != nil {
		return nil, pfirestore.WrapError("order.find_unpaid_by_amount", err)
	}
	out := make([]domain.Order, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.doc.toDomain(d.id))
	}
	return out, nil
}

// Mutate runs fn inside a transaction so concurrent mutations of one order serialize on the
// document; Firestore retries the loser against the fresh state.
func (r *OrderRepository) Mutate(ctx context.Context, orderID string, fn func(order *domain.Order) error) (domain.Order, error) {
	var out domain.Order
	err := r.uow.RunInTx(ctx, func(txCtx context.Context) error {
		current, err := r.FindByID(txCtx, orderID)
		if err != nil {
			return err
		}
		working := current.Clone()
		if err := fn(&working); err != nil {
			return err
		}
		working.ID = current.ID
		working.Version = current.Version + 1
		ref, err := r.base.DocumentRef(txCtx, orderID)
		if err != nil {
			return err
		}
		if err := writeDoc(txCtx, ref, newOrderDocument(working), false); err != nil {
			return pfirestore.WrapError("order.mutate", err)
		}
		out = working
		return nil
	})
	return out, err
}

// PaymentNotificationRepository stores provider callbacks keyed by transaction id.
type PaymentNotificationRepository struct {
	base *pfirestore.BaseRepository[notificationDocument]
}

var _ repositories.PaymentNotificationRepository = (*PaymentNotificationRepository)(nil)

// NewPaymentNotificationRepository constructs a Firestore-backed notification repository.
func NewPaymentNotificationRepository(provider *pfirestore.Provider) (*PaymentNotificationRepository, error) {
	if provider == nil {
		return nil, errors.New("payment notification repository requires firestore provider")
	}
	return &PaymentNotificationRepository{
		base: pfirestore.NewBaseRepository[notificationDocument](provider, notificationCollection),
	}, nil
}

func (r *PaymentNotificationRepository) Save(ctx context.Context, n domain.PaymentNotification) error {
	ref, err := r.base.DocumentRef(ctx, n.TransID)
	if err != nil {
		return err
	}
	doc := notificationDocument{
		OrderID:    n.OrderID,
		Amount:     n.Amount,
		ResultCode: n.ResultCode,
		Message:    n.Message,
		Signature:  n.Signature,
		Applied:    n.Applied,
		Outcome:    n.Outcome,
		ReceivedAt: n.ReceivedAt.UTC(),
	}
	return pfirestore.WrapError("payment_notification.save", writeDoc(ctx, ref, doc, false))
}

func (r *PaymentNotificationRepository) FindByTransID(ctx context.Context, transID string) (domain.PaymentNotification, error) {
	ref, err := r.base.DocumentRef(ctx, transID)
	if err != nil {
		return domain.PaymentNotification{}, err
	}
	doc, found, err := readDoc[notificationDocument](ctx, ref)
	if err != nil {
		return domain.PaymentNotification{}, pfirestore.WrapError("payment_notification.find", err)
	}
	if !found {
		return domain.PaymentNotification{}, notFoundError("payment_notification.find", transID)
	}
	return domain.PaymentNotification{
		TransID:    transID,
		OrderID:    doc.OrderID,
		Amount:     doc.Amount,
		ResultCode: doc.ResultCode,
		Message:    doc.Message,
		Signature:  doc.Signature,
		Applied:    doc.Applied,
		Outcome:    doc.Outcome,
		ReceivedAt: doc.ReceivedAt,
	}, nil
}

// AuditLogRepository writes audit entries under orders/{orderId}/audit.
type AuditLogRepository struct {
	orders *pfirestore.BaseRepository[orderDocument]
}

var _ repositories.AuditLogRepository = (*AuditLogRepository)(nil)

// NewAuditLogRepository constructs a Firestore-backed audit repository.
func NewAuditLogRepository(provider *pfirestore.Provider) (*AuditLogRepository, error) {
	if provider == nil {
		return nil, errors.New("audit log repository requires firestore provider")
	}
	return &AuditLogRepository{orders: pfirestore.NewBaseRepository[orderDocument](provider, orderCollection)}, nil
}

func (r *AuditLogRepository) entries(ctx context.Context, orderID string) (*firestore.CollectionRef, error) {
	ref, err := r.orders.DocumentRef(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return ref.Collection(auditCollection), nil
}

func (r *AuditLogRepository) Append(ctx context.Context, entry domain.AuditLogEntry) error {
	if strings.TrimSpace(entry.ID) == "" {
		return errors.New("audit log repository: entry id is required")
	}
	coll, err := r.entries(ctx, entry.OrderID)
	if err != nil {
		return err
	}
	doc := auditDocument{
		OrderID:    entry.OrderID,
		Action:     entry.Action,
		FromStatus: string(entry.FromStatus),
		ToStatus:   string(entry.ToStatus),
		ActorID:    entry.ActorID,
		ActorRole:  string(entry.ActorRole),
		Reason:     entry.Reason,
		Metadata:   entry.Metadata,
		OccurredAt: entry.OccurredAt.UTC(),
	}
	return pfirestore.WrapError("audit.append", writeDoc(ctx, coll.Doc(entry.ID), doc, true))
}

func (r *AuditLogRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.AuditLogEntry, error) {
	coll, err := r.entries(ctx, orderID)
	if err != nil {
		return nil, err
	}
	docs, err := queryDocs[auditDocument](ctx, coll.OrderBy("occurredAt", firestore.Asc))
	if err != nil {
		return nil, pfirestore.WrapError("audit.list", err)
	}
	out := make([]domain.AuditLogEntry, 0, len(docs))
	for _, d := range docs {
		out = append(out, domain.AuditLogEntry{
			ID:         d.id,
			OrderID:    d.doc.OrderID,
			Action:     d.doc.Action,
			FromStatus: domain.OrderStatus(d.doc.FromStatus),
			ToStatus:   domain.OrderStatus(d.doc.ToStatus),
			ActorID:    d.doc.ActorID,
			ActorRole:  domain.ActorRole(d.doc.ActorRole),
			Reason:     d.doc.Reason,
			Metadata:   d.doc.Metadata,
			OccurredAt: d.doc.OccurredAt,
		})
	}
	return out, nil
}
