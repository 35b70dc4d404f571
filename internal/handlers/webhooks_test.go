package handlers

import (
	"context"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/payments"
	"github.com/hanko-field/orderflow/internal/platform/auth"
	"github.com/hanko-field/orderflow/internal/services"
)

const ipnBody = `{"orderId":"ord-1","transId":"txn-1","amount":230000,"resultCode":0,"message":"ok","signature":"abc","extraField":"ignored"}`

func TestWebhookHandlersPaymentIPN(t *testing.T) {
	tests := []struct {
		name     string
		outcome  services.PaymentOutcome
		err      error
		wantCode int
	}{
		{name: "applied", outcome: services.PaymentOutcome{OrderID: "ord-1", Status: domain.OrderStatusPaid, Result: "applied"}, wantCode: http.StatusNoContent},
		{name: "duplicate", outcome: services.PaymentOutcome{OrderID: "ord-1", Result: "duplicate"}, wantCode: http.StatusNoContent},
		{name: "unknown order", outcome: services.PaymentOutcome{OrderID: "ord-1", Result: "unknown_order"}, wantCode: http.StatusNoContent},
		{name: "bad signature", err: serviceError(services.ErrInvalidSignature, "payment notification signature does not verify"), wantCode: http.StatusUnauthorized},
		{name: "store down", err: serviceError(services.ErrUnavailable, "order store unavailable"), wantCode: http.StatusServiceUnavailable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var got payments.Notification
			svc := &stubPaymentService{
				handleFunc: func(_ context.Context, n payments.Notification) (services.PaymentOutcome, error) {
					got = n
					return tc.outcome, tc.err
				},
			}
			h := NewWebhookHandlers(svc, nil)

			rr := serve(t, "/webhooks", h.Routes, jsonRequest(http.MethodPost, "/webhooks/payments/ipn", ipnBody), nil)

			assert.Equal(t, tc.wantCode, rr.Code, rr.Body.String())
			assert.Equal(t, payments.Notification{OrderID: "ord-1", TransID: "txn-1", Amount: 230000, ResultCode: 0, Message: "ok", Signature: "abc"}, got)
		})
	}
}

func TestWebhookHandlersPaymentIPNRejectsGarbage(t *testing.T) {
	h := NewWebhookHandlers(&stubPaymentService{}, nil)

	rr := serve(t, "/webhooks", h.Routes, jsonRequest(http.MethodPost, "/webhooks/payments/ipn", "not json"), nil)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

type fakeStripeParser struct {
	notification payments.Notification
	err          error
	header       string
}

func (f *fakeStripeParser) ParseWebhook(_ []byte, header string) (payments.Notification, error) {
	f.header = header
	return f.notification, f.err
}

func TestWebhookHandlersStripe(t *testing.T) {
	parser := &fakeStripeParser{notification: payments.Notification{OrderID: "ord-1", TransID: "pi_1", Amount: 230000}}
	svc := &stubPaymentService{}
	h := NewWebhookHandlers(svc, nil, WithStripeWebhooks(parser))

	req := jsonRequest(http.MethodPost, "/webhooks/payments/stripe", `{"id":"evt_1"}`)
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")
	rr := serve(t, "/webhooks", h.Routes, req, nil)

	require.Equal(t, http.StatusNoContent, rr.Code, rr.Body.String())
	assert.Equal(t, "t=1,v1=abc", parser.header)
	require.NotNil(t, svc.lastApplied)
	assert.Equal(t, "pi_1", svc.lastApplied.TransID)

	svc.lastApplied = nil
	parser.err = payments.ErrStripeEventIgnored
	rr = serve(t, "/webhooks", h.Routes, jsonRequest(http.MethodPost, "/webhooks/payments/stripe", `{}`), nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Nil(t, svc.lastApplied)

	parser.err = errors.New("stripe: verify webhook: bad signature")
	rr = serve(t, "/webhooks", h.Routes, jsonRequest(http.MethodPost, "/webhooks/payments/stripe", `{}`), nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "invalid_signature", errorCodeOf(t, rr))
}

func TestWebhookHandlersStripeRouteDisabledWithoutParser(t *testing.T) {
	h := NewWebhookHandlers(&stubPaymentService{}, nil)

	rr := serve(t, "/webhooks", h.Routes, jsonRequest(http.MethodPost, "/webhooks/payments/stripe", `{}`), nil)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func signedCarrierRequest(t *testing.T, secret, body, nonce string, now time.Time) *http.Request {
	t.Helper()
	req := jsonRequest(http.MethodPost, "/webhooks/shipping/status", body)
	ts := strconv.FormatInt(now.Unix(), 10)
	sig := auth.SignRequest([]byte(secret), http.MethodPost, "/webhooks/shipping/status", ts, nonce, []byte(body))
	req.Header.Set("X-Signature", hex.EncodeToString(sig))
	req.Header.Set("X-Signature-Timestamp", ts)
	req.Header.Set("X-Signature-Nonce", nonce)
	return req
}

func TestWebhookHandlersDeliveryStatusRequiresHMAC(t *testing.T) {
	var got services.DeliveryStatusCommand
	orders := &stubOrderService{
		deliveryFunc: func(_ context.Context, cmd services.DeliveryStatusCommand) (services.Order, error) {
			got = cmd
			order := sampleOrder(cmd.OrderID, domain.OrderStatusDelivered)
			order.Paid = true
			return order, nil
		},
	}
	now := fixedNow
	validator := auth.NewHMACValidator(auth.StaticSecrets{"shipping": "carrier-secret"}, auth.NewInMemoryNonceStore(),
		auth.WithHMACClock(func() time.Time { return now }))
	h := NewWebhookHandlers(nil, orders, WithCarrierAuth(validator.RequireHMAC("shipping")))

	body := `{"orderId":"ord-1","trackingCode":"TRK1","status":"delivered","occurredAt":"2024-05-12T09:30:00Z"}`

	rr := serve(t, "/webhooks", h.Routes, jsonRequest(http.MethodPost, "/webhooks/shipping/status", body), nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = serve(t, "/webhooks", h.Routes, signedCarrierRequest(t, "carrier-secret", body, "n-1", now), nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "ord-1", got.OrderID)
	assert.Equal(t, "TRK1", got.TrackingCode)
	assert.Equal(t, "delivered", got.Status)
	assert.Equal(t, time.Date(2024, 5, 12, 9, 30, 0, 0, time.UTC), got.OccurredAt)
	resp := decodeBody[orderResponse](t, rr)
	assert.Equal(t, "DELIVERED", resp.Order.Status)
	assert.True(t, resp.Order.Paid)

	rr = serve(t, "/webhooks", h.Routes, signedCarrierRequest(t, "carrier-secret", body, "n-1", now), nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code, "nonce replay")

	rr = serve(t, "/webhooks", h.Routes, signedCarrierRequest(t, "wrong-secret", body, "n-2", now), nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestWebhookHandlersDeliveryStatusValidation(t *testing.T) {
	passThrough := func(next http.Handler) http.Handler { return next }
	h := NewWebhookHandlers(nil, &stubOrderService{}, WithCarrierAuth(passThrough))

	rr := serve(t, "/webhooks", h.Routes, jsonRequest(http.MethodPost, "/webhooks/shipping/status", `{"status":"delivered"}`), nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = serve(t, "/webhooks", h.Routes, jsonRequest(http.MethodPost, "/webhooks/shipping/status", `{"orderId":"o","status":"delivered","occurredAt":"yesterday"}`), nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestWebhookHandlersDeliveryStatusRequiresCarrierAuth(t *testing.T) {
	h := NewWebhookHandlers(nil, &stubOrderService{})
	rr := serve(t, "/webhooks", h.Routes, jsonRequest(http.MethodPost, "/webhooks/shipping/status", `{"orderId":"o","status":"delivered"}`), nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
