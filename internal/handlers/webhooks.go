package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hanko-field/orderflow/internal/payments"
	"github.com/hanko-field/orderflow/internal/platform/httpx"
	"github.com/hanko-field/orderflow/internal/platform/requestctx"
	"github.com/hanko-field/orderflow/internal/services"
)

const maxWebhookBodySize = 256 * 1024

// StripeWebhookParser verifies and decodes Stripe webhook deliveries.
type StripeWebhookParser interface {
	ParseWebhook(payload []byte, signatureHeader string) (payments.Notification, error)
}

// WebhookHandlers receives provider and carrier callbacks. Authentication is per route: the IPN
// carries its own payload signature, Stripe signs the raw body and the carrier route is wrapped
// by the HMAC middleware passed in.
type WebhookHandlers struct {
	payments services.PaymentService
	orders   services.OrderService
	stripe   StripeWebhookParser
	carrier  func(http.Handler) http.Handler
}

type WebhookOption func(*WebhookHandlers)

// WithStripeWebhooks enables POST /payments/stripe.
func WithStripeWebhooks(parser StripeWebhookParser) WebhookOption {
	return func(h *WebhookHandlers) {
		h.stripe = parser
	}
}

// WithCarrierAuth guards the carrier status route.
func WithCarrierAuth(mw func(http.Handler) http.Handler) WebhookOption {
	return func(h *WebhookHandlers) {
		h.carrier = mw
	}
}

func NewWebhookHandlers(paymentSvc services.PaymentService, orders services.OrderService, opts ...WebhookOption) *WebhookHandlers {
	h := &WebhookHandlers{payments: paymentSvc, orders: orders}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes registers /webhooks endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	r.Post("/payments/ipn", h.paymentIPN)
	if h.stripe != nil {
		r.Post("/payments/stripe", h.stripeEvent)
	}
	// Delivery updates move orders forward, so the route exists only behind carrier auth.
	if h.carrier != nil {
		r.With(h.carrier).Post("/shipping/status", h.deliveryStatus)
	}
}

type deliveryStatusRequest struct {
	OrderID      string `json:"orderId"`
	TrackingCode string `json:"trackingCode"`
	Status       string `json:"status"`
	OccurredAt   string `json:"occurredAt"`
}

// paymentIPN acknowledges every verified notification with 204 so the provider stops retrying,
// including duplicates and unknown orders. Only signature and dependency failures are surfaced.
func (h *WebhookHandlers) paymentIPN(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		writeUnavailable(ctx, w, "payment service")
		return
	}
	var n payments.Notification
	dec := decodeLenient(r)
	if err := dec.Decode(&n); err != nil {
		writeBadRequest(ctx, w, "invalid JSON body")
		return
	}
	outcome, err := h.payments.HandleNotification(ctx, n)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	logOutcome(r, "ipn", outcome)
	w.WriteHeader(http.StatusNoContent)
}

func (h *WebhookHandlers) stripeEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		writeUnavailable(ctx, w, "payment service")
		return
	}
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize))
	if err != nil {
		writeBadRequest(ctx, w, "unable to read body")
		return
	}
	n, err := h.stripe.ParseWebhook(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, payments.ErrStripeEventIgnored) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		requestctx.Logger(ctx).Warn("stripe webhook rejected", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature does not verify", http.StatusUnauthorized))
		return
	}
	outcome, err := h.payments.ApplyVerifiedNotification(ctx, n)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	logOutcome(r, "stripe", outcome)
	w.WriteHeader(http.StatusNoContent)
}

func (h *WebhookHandlers) deliveryStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "order service")
		return
	}
	var req deliveryStatusRequest
	if err := decodeLenient(r).Decode(&req); err != nil {
		writeBadRequest(ctx, w, "invalid JSON body")
		return
	}
	cmd := services.DeliveryStatusCommand{
		OrderID:      strings.TrimSpace(req.OrderID),
		TrackingCode: req.TrackingCode,
		Status:       req.Status,
	}
	if raw := strings.TrimSpace(req.OccurredAt); raw != "" {
		occurred, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeBadRequest(ctx, w, "occurredAt must be RFC3339")
			return
		}
		cmd.OccurredAt = occurred
	}
	if cmd.OrderID == "" {
		writeBadRequest(ctx, w, "orderId is required")
		return
	}
	order, err := h.orders.UpdateDeliveryStatus(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: newOrderPayload(order)})
}

func logOutcome(r *http.Request, source string, outcome services.PaymentOutcome) {
	requestctx.Logger(r.Context()).Info("payment notification handled",
		zap.String("source", source),
		zap.String("orderId", outcome.OrderID),
		zap.String("result", outcome.Result),
		zap.String("status", string(outcome.Status)),
	)
}
