package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/payments"
	"github.com/hanko-field/orderflow/internal/repositories"
)

const (
	paymentResultApplied      = "applied"
	paymentResultDuplicate    = "duplicate"
	paymentResultFailed       = "failed"
	paymentResultRejected     = "rejected"
	paymentResultUnknownOrder = "unknown_order"

	maxPaymentMessageLength = 255

	defaultCorrelationWindow = 30 * time.Minute
)

var errDuplicateNotification = errors.New("payment: notification already processed")

// PaymentServiceDeps wires the payment confirmation handler.
type PaymentServiceDeps struct {
	Orders        repositories.OrderRepository
	Notifications repositories.PaymentNotificationRepository
	AuditLogs     repositories.AuditLogRepository
	UnitOfWork    repositories.UnitOfWork
	Verifier      NotificationVerifier
	// CorrelationWindow bounds how far back an order may have been created for a notification
	// without an order id to be matched to it by amount. Defaults to 30 minutes.
	CorrelationWindow time.Duration
	Events        OrderEventPublisher
	Meter         metric.Meter
	Clock         func() time.Time
	IDGenerator   func() string
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type paymentService struct {
	orders        repositories.OrderRepository
	notifications repositories.PaymentNotificationRepository
	window        time.Duration
	verifier      NotificationVerifier
	lifecycle     *lifecycle
	received      metric.Int64Counter
	logger        func(context.Context, string, map[string]any)
}

// NewPaymentService constructs the payment confirmation handler.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment service: order repository is required")
	}
	if deps.Notifications == nil {
		return nil, errors.New("payment service: notification repository is required")
	}
	lc := newLifecycle(deps.Orders, deps.AuditLogs, deps.UnitOfWork, deps.Events, deps.Clock, deps.IDGenerator, deps.Logger)

	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(checkoutMeterScope)
	}
	received, err := meter.Int64Counter("payments.notifications", metric.WithDescription("Payment provider notifications by result"))
	if err != nil {
		lc.logger(context.Background(), "payments.metric.register_failed", map[string]any{"error": err.Error()})
	}

	window := deps.CorrelationWindow
	if window <= 0 {
		window = defaultCorrelationWindow
	}

	return &paymentService{
		orders:        deps.Orders,
		notifications: deps.Notifications,
		window:        window,
		verifier:      deps.Verifier,
		lifecycle:     lc,
		received:      received,
		logger:        lc.logger,
	}, nil
}

// HandleNotification verifies the provider signature and applies the callback.
func (s *paymentService) HandleNotification(ctx context.Context, n payments.Notification) (PaymentOutcome, error) {
	if s.verifier == nil || !s.verifier.Verify(n) {
		s.count(ctx, paymentResultRejected)
		s.logger(ctx, "payments.notification.invalid_signature", map[string]any{
			"orderId": n.OrderID,
			"transId": n.TransID,
		})
		return PaymentOutcome{}, newError(ErrInvalidSignature, "payment notification signature does not verify", nil)
	}
	return s.ApplyVerifiedNotification(ctx, n)
}

// ApplyVerifiedNotification applies a notification whose authenticity was already established.
// Each provider transaction id is applied at most once.
func (s *paymentService) ApplyVerifiedNotification(ctx context.Context, n payments.Notification) (PaymentOutcome, error) {
	orderID := strings.TrimSpace(n.OrderID)
	transID := strings.TrimSpace(n.TransID)
	if transID == "" {
		return PaymentOutcome{}, validationError("transId is required")
	}
	outcome := PaymentOutcome{OrderID: orderID}

	if existing, err := s.notifications.FindByTransID(ctx, transID); err == nil {
		outcome.Result = paymentResultDuplicate
		s.count(ctx, outcome.Result)
		s.logger(ctx, "payments.notification.duplicate", map[string]any{"orderId": existing.OrderID, "transId": transID})
		return outcome, nil
	} else if !isRepoNotFound(err) {
		return PaymentOutcome{}, mapRepositoryError(err, "payment notification", transID)
	}

	message := strings.TrimSpace(n.Message)
	if len(message) > maxPaymentMessageLength {
		message = message[:maxPaymentMessageLength]
	}

	if orderID == "" {
		matched, err := s.correlate(ctx, n)
		if err != nil {
			return PaymentOutcome{}, err
		}
		if matched == "" {
			return s.unknownOrder(ctx, n, transID, "", message), nil
		}
		orderID = matched
		outcome.OrderID = orderID
		s.logger(ctx, "payments.notification.correlated", map[string]any{"orderId": orderID, "transId": transID, "amount": n.Amount})
	}

	system := domain.Actor{ID: "payment-provider", Role: domain.ActorRoleSystem}

	result := ""
	plan := func(order *domain.Order, _ time.Time) ([]orderChange, error) {
		meta := map[string]any{"transId": transID, "amount": n.Amount, "resultCode": n.ResultCode}
		switch {
		case order.Paid && order.PaymentReference == transID:
			result = paymentResultDuplicate
			return nil, nil
		case order.Paid:
			result = paymentResultRejected
			return []orderChange{{Action: "payment.rejected", Reason: "order already paid by another transaction", Metadata: meta}}, nil
		case !n.Succeeded():
			result = paymentResultFailed
			order.PaymentStatus = domain.PaymentStatusFailed
			order.PaymentFailureReason = fmt.Sprintf("provider result %d: %s", n.ResultCode, message)
			return []orderChange{{Action: "payment.failed", Reason: order.PaymentFailureReason, Metadata: meta}}, nil
		case n.Amount != order.TotalAmount:
			result = paymentResultFailed
			order.PaymentStatus = domain.PaymentStatusFailed
			order.PaymentFailureReason = fmt.Sprintf("amount mismatch: expected %d, got %d", order.TotalAmount, n.Amount)
			return []orderChange{{Action: "payment.failed", Reason: order.PaymentFailureReason, Metadata: meta}}, nil
		case order.Status != domain.OrderStatusCreated && order.Status != domain.OrderStatusConfirmed:
			result = paymentResultRejected
			return []orderChange{{Action: "payment.rejected", Reason: "order is " + string(order.Status), Metadata: meta}}, nil
		}

		result = paymentResultApplied
		order.Paid = true
		order.PaymentStatus = domain.PaymentStatusPaid
		order.PaymentReference = transID
		order.PaymentFailureReason = ""
		changes := make([]orderChange, 0, 2)
		if order.Status == domain.OrderStatusCreated {
			changes = append(changes, orderChange{To: domain.OrderStatusConfirmed, Action: "payment.confirmed", Metadata: meta})
		}
		changes = append(changes, orderChange{To: domain.OrderStatusPaid, Action: "payment.paid", Metadata: meta})
		return changes, nil
	}

	record := func(txCtx context.Context, order domain.Order) error {
		if _, err := s.notifications.FindByTransID(txCtx, transID); err == nil {
			return errDuplicateNotification
		} else if !isRepoNotFound(err) {
			return mapRepositoryError(err, "payment notification", transID)
		}
		return s.saveNotification(txCtx, n, transID, order.ID, message, result, s.lifecycle.clock())
	}

	order, err := s.lifecycle.apply(ctx, orderID, system, "payments.notification", plan, record)
	switch {
	case errors.Is(err, errDuplicateNotification):
		outcome.Result = paymentResultDuplicate
		s.count(ctx, outcome.Result)
		return outcome, nil
	case errors.Is(err, ErrNotFound):
		return s.unknownOrder(ctx, n, transID, orderID, message), nil
	case err != nil:
		return PaymentOutcome{}, err
	}

	outcome.Status = order.Status
	outcome.Result = result
	s.count(ctx, result)
	s.logger(ctx, "payments.notification.processed", map[string]any{
		"orderId": orderID,
		"transId": transID,
		"result":  result,
		"status":  string(order.Status),
	})
	return outcome, nil
}

// correlate resolves a notification without an order id to the single unpaid order awaiting
// exactly that amount. It returns "" when no order or more than one order matches.
func (s *paymentService) correlate(ctx context.Context, n payments.Notification) (string, error) {
	anchor := n.CompletedAt()
	if anchor.IsZero() {
		anchor = s.lifecycle.clock()
	}
	candidates, err := s.orders.FindUnpaidByAmount(ctx, repositories.PaymentMatchFilter{
		Amount:      n.Amount,
		CreatedFrom: anchor.Add(-s.window),
		CreatedTo:   anchor,
		Limit:       2,
	})
	if err != nil {
		return "", mapRepositoryError(err, "order", "")
	}
	if len(candidates) != 1 {
		s.logger(ctx, "payments.notification.uncorrelated", map[string]any{
			"transId":    n.TransID,
			"amount":     n.Amount,
			"candidates": len(candidates),
		})
		return "", nil
	}
	return candidates[0].ID, nil
}

// unknownOrder records a notification that matched no order and acknowledges it.
func (s *paymentService) unknownOrder(ctx context.Context, n payments.Notification, transID, orderID, message string) PaymentOutcome {
	s.count(ctx, paymentResultUnknownOrder)
	s.logger(ctx, "payments.notification.unknown_order", map[string]any{"orderId": orderID, "transId": transID})
	if err := s.saveNotification(ctx, n, transID, orderID, message, paymentResultUnknownOrder, s.lifecycle.clock()); err != nil {
		s.logger(ctx, "payments.notification.save_failed", map[string]any{"transId": transID, "error": err.Error()})
	}
	return PaymentOutcome{OrderID: orderID, Result: paymentResultUnknownOrder}
}

func (s *paymentService) saveNotification(ctx context.Context, n payments.Notification, transID, orderID, message, result string, now time.Time) error {
	err := s.notifications.Save(ctx, domain.PaymentNotification{
		TransID:    transID,
		OrderID:    orderID,
		Amount:     n.Amount,
		ResultCode: n.ResultCode,
		Message:    message,
		Signature:  n.Signature,
		Applied:    result == paymentResultApplied,
		Outcome:    result,
		ReceivedAt: now,
	})
	if err != nil {
		return mapRepositoryError(err, "payment notification", transID)
	}
	return nil
}

func (s *paymentService) count(ctx context.Context, result string) {
	if s.received == nil {
		return
	}
	s.received.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
