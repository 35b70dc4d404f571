package services

import (
	"context"
	"errors"
	"maps"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/repositories"
)

const (
	orderEventStatusChanged = "order.status.changed"
	orderEventUpdated       = "order.updated"

	auditIDPrefix = "aud_"
	eventIDPrefix = "evt_"
)

var tracer trace.Tracer = otel.Tracer("github.com/hanko-field/orderflow/internal/services")

var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusCreated:              {domain.OrderStatusConfirmed, domain.OrderStatusCancelled},
	domain.OrderStatusConfirmed:            {domain.OrderStatusPaid, domain.OrderStatusCancelled},
	domain.OrderStatusPaid:                 {domain.OrderStatusShipped},
	domain.OrderStatusShipped:              {domain.OrderStatusDelivered},
	domain.OrderStatusDelivered:            {domain.OrderStatusReturnRequested},
	domain.OrderStatusReturnRequested:      {domain.OrderStatusReturnCSConfirmed, domain.OrderStatusReturnRejected},
	domain.OrderStatusReturnCSConfirmed:    {domain.OrderStatusReturnStaffConfirmed, domain.OrderStatusReturnRejected},
	domain.OrderStatusReturnStaffConfirmed: {domain.OrderStatusRefunded, domain.OrderStatusReturnRejected},
}

// CanTransition reports whether target is a legal next state of current.
func CanTransition(current, target domain.OrderStatus) bool {
	return slices.Contains(orderStateTransitions[current], target)
}

// orderChange is one audited step produced while mutating an order. An empty To records an
// annotation on the current status without a transition.
type orderChange struct {
	To       domain.OrderStatus
	Action   string
	Reason   string
	Metadata map[string]any
}

// lifecycle is the single mutation point for orders after creation. Every order-changing
// service goes through apply so that transitions are checked, serialized per order, audited
// and published the same way.
type lifecycle struct {
	orders repositories.OrderRepository
	audit  repositories.AuditLogRepository
	unit   repositories.UnitOfWork
	events OrderEventPublisher
	clock  func() time.Time
	newID  func() string
	logger func(context.Context, string, map[string]any)
}

// planFunc inspects and edits the order under lock and returns the changes to record.
type planFunc func(order *domain.Order, now time.Time) ([]orderChange, error)

// txHook runs inside the same transaction after the order was mutated.
type txHook func(ctx context.Context, order domain.Order) error

func (l *lifecycle) apply(ctx context.Context, orderID string, actor domain.Actor, span string, plan planFunc, hooks ...txHook) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, validationError("order id is required")
	}

	ctx, sp := tracer.Start(ctx, span, trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.String("actor.role", string(actor.Role)),
	))
	defer sp.End()

	var (
		updated  domain.Order
		previous domain.OrderStatus
		entries  []domain.AuditLogEntry
	)
	err := l.runInTx(ctx, func(txCtx context.Context) error {
		entries = entries[:0]
		now := l.clock()
		var err error
		updated, err = l.orders.Mutate(txCtx, orderID, func(order *domain.Order) error {
			previous = order.Status
			changes, err := plan(order, now)
			if err != nil {
				return err
			}
			if len(changes) == 0 {
				return errNoChange
			}
			for _, change := range changes {
				from := order.Status
				if change.To != "" {
					if !CanTransition(from, change.To) {
						return transitionError(from, change.To)
					}
					order.Status = change.To
					stampStatus(order, change.To, now)
				}
				entries = append(entries, domain.AuditLogEntry{
					ID:         auditIDPrefix + l.newID(),
					OrderID:    order.ID,
					Action:     change.Action,
					FromStatus: from,
					ToStatus:   order.Status,
					ActorID:    actor.ID,
					ActorRole:  actor.Role,
					Reason:     change.Reason,
					Metadata:   maps.Clone(change.Metadata),
					OccurredAt: now,
				})
			}
			order.UpdatedAt = now
			return nil
		})
		if err != nil {
			return err
		}
		if l.audit != nil {
			for _, entry := range entries {
				if err := l.audit.Append(txCtx, entry); err != nil {
					return mapRepositoryError(err, "audit log", entry.ID)
				}
			}
		}
		for _, hook := range hooks {
			if err := hook(txCtx, updated); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, errNoChange) {
		order, findErr := l.orders.FindByID(ctx, orderID)
		if findErr != nil {
			return domain.Order{}, mapRepositoryError(findErr, "order", orderID)
		}
		return order, nil
	}
	if err != nil {
		err = mapRepositoryError(err, "order", orderID)
		sp.RecordError(err)
		sp.SetStatus(codes.Error, ErrorCode(err))
		return domain.Order{}, err
	}

	sp.SetAttributes(
		attribute.String("order.status.from", string(previous)),
		attribute.String("order.status.to", string(updated.Status)),
	)
	for _, entry := range entries {
		eventType := orderEventStatusChanged
		if entry.FromStatus == entry.ToStatus {
			eventType = orderEventUpdated
		}
		metadata := maps.Clone(entry.Metadata)
		if metadata == nil {
			metadata = map[string]any{}
		}
		metadata["action"] = entry.Action
		if entry.Reason != "" {
			metadata["reason"] = entry.Reason
		}
		l.publish(ctx, OrderEvent{
			Type:           eventType,
			OrderID:        updated.ID,
			CustomerID:     updated.CustomerID,
			PreviousStatus: string(entry.FromStatus),
			CurrentStatus:  string(entry.ToStatus),
			ActorID:        entry.ActorID,
			ActorRole:      string(entry.ActorRole),
			OccurredAt:     entry.OccurredAt,
			Metadata:       metadata,
		})
	}
	return updated, nil
}

// errNoChange aborts Mutate without writing when the plan decided nothing changes.
var errNoChange = errors.New("order: no change")

func (l *lifecycle) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if l.unit == nil {
		return fn(ctx)
	}
	return l.unit.RunInTx(ctx, fn)
}

func (l *lifecycle) publish(ctx context.Context, event OrderEvent) {
	if l.events == nil {
		return
	}
	if event.ID == "" {
		event.ID = eventIDPrefix + l.newID()
	}
	if err := l.events.PublishOrderEvent(ctx, event); err != nil {
		l.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"status": event.CurrentStatus,
			"error":  err.Error(),
		})
	}
}

func stampStatus(order *domain.Order, status domain.OrderStatus, now time.Time) {
	at := now
	switch status {
	case domain.OrderStatusConfirmed:
		order.ConfirmedAt = &at
	case domain.OrderStatusPaid:
		order.PaidAt = &at
	case domain.OrderStatusShipped:
		order.ShippedAt = &at
	case domain.OrderStatusDelivered:
		order.DeliveredAt = &at
	case domain.OrderStatusCancelled:
		order.CancelledAt = &at
	}
}

func newLifecycle(orders repositories.OrderRepository, audit repositories.AuditLogRepository, unit repositories.UnitOfWork, events OrderEventPublisher, clock func() time.Time, idGen func() string, logger func(context.Context, string, map[string]any)) *lifecycle {
	if clock == nil {
		clock = time.Now
	}
	if idGen == nil {
		idGen = defaultIDGenerator
	}
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &lifecycle{
		orders: orders,
		audit:  audit,
		unit:   unit,
		events: events,
		clock:  func() time.Time { return clock().UTC() },
		newID:  idGen,
		logger: logger,
	}
}
