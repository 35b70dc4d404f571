package services

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/payments"
)

func paymentNotification(order domain.Order) payments.Notification {
	return payments.Notification{
		OrderID:    order.ID,
		TransID:    "trans-" + order.ID,
		Amount:     order.TotalAmount,
		ResultCode: 0,
		Message:    "Successful.",
	}
}

func TestPaymentNotificationMarksOrderPaid(t *testing.T) {
	e := newEngine(t)
	e.putProduct("p-1", 100_000, 5)
	order := placeOrder(t, e, "cust-1", domain.PaymentMethodOnline, 1)

	outcome, err := e.payments.HandleNotification(context.Background(), e.signed(paymentNotification(order)))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if outcome.Result != paymentResultApplied || outcome.Status != domain.OrderStatusPaid {
		t.Fatalf("expected applied/PAID, got %s/%s", outcome.Result, outcome.Status)
	}
	paid, err := e.orders.Get(context.Background(), order.ID, staffActor)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !paid.Paid || paid.PaymentReference != "trans-"+order.ID || paid.PaidAt == nil || paid.ConfirmedAt == nil {
		t.Fatalf("expected paid order with reference and timestamps, got %+v", paid)
	}
	want := []string{"order.created", "payment.confirmed", "payment.paid"}
	if actions := e.auditActions(t, order.ID); !slices.Equal(actions, want) {
		t.Fatalf("expected audit %v, got %v", want, actions)
	}
}

func TestPaymentNotificationIsIdempotent(t *testing.T) {
	e := newEngine(t)
	e.putProduct("p-1", 100_000, 5)
	order := placeOrder(t, e, "cust-1", domain.PaymentMethodOnline, 1)
	n := e.signed(paymentNotification(order))
	ctx := context.Background()

	if _, err := e.payments.HandleNotification(ctx, n); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	before := e.auditActions(t, order.ID)
	events := len(e.events.types())

	outcome, err := e.payments.HandleNotification(ctx, n)
	if err != nil {
		t.Fatalf("second delivery: %v", err)
	}
	if outcome.Result != paymentResultDuplicate {
		t.Fatalf("expected duplicate, got %s", outcome.Result)
	}
	if after := e.auditActions(t, order.ID); !slices.Equal(before, after) {
		t.Fatalf("expected audit trail unchanged, got %v", after)
	}
	if got := len(e.events.types()); got != events {
		t.Fatalf("expected no new events, got %d more", got-events)
	}
}

func TestPaymentNotificationBadSignature(t *testing.T) {
	e := newEngine(t)
	e.putProduct("p-1", 100_000, 5)
	order := placeOrder(t, e, "cust-1", domain.PaymentMethodOnline, 1)
	n := e.signed(paymentNotification(order))
	n.Amount = 1

	_, err := e.payments.HandleNotification(context.Background(), n)
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected invalid signature, got %v", err)
	}
	current, _ := e.orders.Get(context.Background(), order.ID, staffActor)
	if current.Status != domain.OrderStatusCreated || current.Paid {
		t.Fatalf("expected order untouched, got %s paid=%v", current.Status, current.Paid)
	}
	if _, err := e.store.PaymentNotifications().FindByTransID(context.Background(), n.TransID); err == nil {
		t.Fatalf("expected rejected notification not to be stored")
	}
}

func TestPaymentNotificationFailureAndMismatch(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*payments.Notification)
	}{
		{name: "provider failure", mutate: func(n *payments.Notification) { n.ResultCode = 1006; n.Message = "declined" }},
		{name: "amount mismatch", mutate: func(n *payments.Notification) { n.Amount-- }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newEngine(t)
			e.putProduct("p-1", 100_000, 5)
			order := placeOrder(t, e, "cust-1", domain.PaymentMethodOnline, 1)
			n := paymentNotification(order)
			tc.mutate(&n)

			outcome, err := e.payments.HandleNotification(context.Background(), e.signed(n))
			if err != nil {
				t.Fatalf("handle: %v", err)
			}
			if outcome.Result != paymentResultFailed {
				t.Fatalf("expected failed, got %s", outcome.Result)
			}
			current, _ := e.orders.Get(context.Background(), order.ID, staffActor)
			if current.Status != domain.OrderStatusCreated || current.Paid {
				t.Fatalf("expected order to stay CREATED and unpaid, got %s", current.Status)
			}
			if current.PaymentStatus != domain.PaymentStatusFailed || current.PaymentFailureReason == "" {
				t.Fatalf("expected recorded failure, got %s %q", current.PaymentStatus, current.PaymentFailureReason)
			}
			stored, err := e.store.PaymentNotifications().FindByTransID(context.Background(), n.TransID)
			if err != nil {
				t.Fatalf("expected notification to be stored: %v", err)
			}
			if stored.Applied || stored.Outcome != paymentResultFailed {
				t.Fatalf("unexpected stored notification %+v", stored)
			}
		})
	}
}

func TestPaymentNotificationUnknownOrderIsAcknowledged(t *testing.T) {
	e := newEngine(t)
	n := e.signed(payments.Notification{OrderID: "ord_ghost", TransID: "t-ghost", Amount: 10})

	outcome, err := e.payments.HandleNotification(context.Background(), n)
	if err != nil {
		t.Fatalf("expected acknowledgement, got %v", err)
	}
	if outcome.Result != paymentResultUnknownOrder {
		t.Fatalf("expected unknown_order, got %s", outcome.Result)
	}
	stored, err := e.store.PaymentNotifications().FindByTransID(context.Background(), "t-ghost")
	if err != nil {
		t.Fatalf("expected notification to be kept: %v", err)
	}
	if stored.Outcome != paymentResultUnknownOrder {
		t.Fatalf("unexpected outcome %q", stored.Outcome)
	}
}

func TestPaymentNotificationSecondTransactionRejected(t *testing.T) {
	e := newEngine(t)
	e.putProduct("p-1", 100_000, 5)
	order := placeOrder(t, e, "cust-1", domain.PaymentMethodOnline, 1)
	ctx := context.Background()
	if _, err := e.payments.HandleNotification(ctx, e.signed(paymentNotification(order))); err != nil {
		t.Fatalf("first payment: %v", err)
	}

	second := paymentNotification(order)
	second.TransID = "other-trans"
	outcome, err := e.payments.HandleNotification(ctx, e.signed(second))
	if err != nil {
		t.Fatalf("second payment: %v", err)
	}
	if outcome.Result != paymentResultRejected {
		t.Fatalf("expected rejected, got %s", outcome.Result)
	}
	current, _ := e.orders.Get(ctx, order.ID, staffActor)
	if current.PaymentReference != "trans-"+order.ID {
		t.Fatalf("expected original payment reference kept, got %q", current.PaymentReference)
	}
	actions := e.auditActions(t, order.ID)
	if actions[len(actions)-1] != "payment.rejected" {
		t.Fatalf("expected payment.rejected annotation, got %v", actions)
	}
}

func TestPaymentNotificationWithoutOrderIDMatchesByAmount(t *testing.T) {
	e := newEngine(t)
	e.putProduct("p-1", 100_000, 5)
	e.putProduct("p-2", 70_000, 5)
	ctx := context.Background()
	order := placeOrder(t, e, "cust-1", domain.PaymentMethodOnline, 1)
	e.now = e.now.Add(time.Minute)
	e.addItem(t, "cust-2", "p-2", 1)
	other, err := e.checkout.Checkout(ctx, CheckoutCommand{CustomerID: "cust-2", ShippingAddress: testAddress(), PaymentMethod: domain.PaymentMethodOnline})
	if err != nil {
		t.Fatalf("second checkout: %v", err)
	}
	if other.Order.TotalAmount == order.TotalAmount {
		t.Fatalf("fixture needs distinct totals, both are %d", order.TotalAmount)
	}

	n := paymentNotification(order)
	n.OrderID = ""
	outcome, err := e.payments.HandleNotification(ctx, e.signed(n))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if outcome.Result != paymentResultApplied || outcome.OrderID != order.ID {
		t.Fatalf("expected applied to %s, got %s/%s", order.ID, outcome.Result, outcome.OrderID)
	}
	paid, _ := e.orders.Get(ctx, order.ID, staffActor)
	if !paid.Paid || paid.PaymentReference != n.TransID {
		t.Fatalf("expected correlated order paid, got %+v", paid)
	}
	untouched, _ := e.orders.Get(ctx, other.Order.ID, staffActor)
	if untouched.Paid {
		t.Fatal("order with a different total must stay unpaid")
	}
}

func TestPaymentNotificationWithoutOrderIDUsesResponseTime(t *testing.T) {
	e := newEngine(t)
	e.putProduct("p-1", 100_000, 5)
	order := placeOrder(t, e, "cust-1", domain.PaymentMethodOnline, 1)
	e.now = e.now.Add(3 * time.Hour)

	n := paymentNotification(order)
	n.OrderID = ""
	n.ResponseTime = order.CreatedAt.Add(2 * time.Minute).UnixMilli()
	outcome, err := e.payments.HandleNotification(context.Background(), e.signed(n))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if outcome.Result != paymentResultApplied || outcome.OrderID != order.ID {
		t.Fatalf("expected late delivery matched by provider time, got %s/%s", outcome.Result, outcome.OrderID)
	}
}

func TestPaymentNotificationWithoutOrderIDUnmatchedIsAcknowledged(t *testing.T) {
	tests := map[string]func(t *testing.T, e *engine) (ids []string, n payments.Notification){
		"ambiguous": func(t *testing.T, e *engine) ([]string, payments.Notification) {
			first := placeOrder(t, e, "cust-1", domain.PaymentMethodOnline, 1)
			e.now = e.now.Add(time.Minute)
			second := placeOrder(t, e, "cust-2", domain.PaymentMethodOnline, 1)
			return []string{first.ID, second.ID}, paymentNotification(first)
		},
		"no amount match": func(t *testing.T, e *engine) ([]string, payments.Notification) {
			order := placeOrder(t, e, "cust-1", domain.PaymentMethodOnline, 1)
			n := paymentNotification(order)
			n.Amount = order.TotalAmount + 1
			return []string{order.ID}, n
		},
		"outside window": func(t *testing.T, e *engine) ([]string, payments.Notification) {
			order := placeOrder(t, e, "cust-1", domain.PaymentMethodOnline, 1)
			e.now = e.now.Add(2 * time.Hour)
			return []string{order.ID}, paymentNotification(order)
		},
	}
	for name, setup := range tests {
		t.Run(name, func(t *testing.T) {
			e := newEngine(t)
			e.putProduct("p-1", 100_000, 5)
			ctx := context.Background()
			ids, n := setup(t, e)
			n.OrderID = ""

			outcome, err := e.payments.HandleNotification(ctx, e.signed(n))
			if err != nil {
				t.Fatalf("expected acknowledgement, got %v", err)
			}
			if outcome.Result != paymentResultUnknownOrder {
				t.Fatalf("expected unknown_order, got %s", outcome.Result)
			}
			for _, id := range ids {
				current, _ := e.orders.Get(ctx, id, staffActor)
				if current.Paid || current.PaymentReference != "" {
					t.Fatalf("order %s must stay unpaid, got %+v", id, current)
				}
			}
			stored, err := e.store.PaymentNotifications().FindByTransID(ctx, n.TransID)
			if err != nil {
				t.Fatalf("expected notification to be kept: %v", err)
			}
			if stored.Outcome != paymentResultUnknownOrder || stored.OrderID != "" {
				t.Fatalf("unexpected stored notification %+v", stored)
			}
		})
	}
}

func TestApplyVerifiedNotificationValidates(t *testing.T) {
	e := newEngine(t)
	if _, err := e.payments.ApplyVerifiedNotification(context.Background(), payments.Notification{OrderID: "ord_1"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
