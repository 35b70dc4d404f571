package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/platform/auth"
	"github.com/hanko-field/orderflow/internal/platform/httpx"
	"github.com/hanko-field/orderflow/internal/services"
)

const (
	defaultCheckoutRateLimit  = 10
	defaultCheckoutRateWindow = time.Minute
)

// CheckoutHandlers turns the caller's cart into an order. The route is expected to sit behind
// the idempotency middleware.
type CheckoutHandlers struct {
	authn    *auth.Authenticator
	checkout services.CheckoutService
	limiter  rateLimiter
}

type CheckoutOption func(*CheckoutHandlers)

// WithCheckoutRateLimit caps checkout attempts per customer. A non-positive limit disables it.
func WithCheckoutRateLimit(limit int, window time.Duration, clock func() time.Time) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.limiter = newSimpleRateLimiter(limit, window, clock)
	}
}

func NewCheckoutHandlers(authn *auth.Authenticator, checkout services.CheckoutService, opts ...CheckoutOption) *CheckoutHandlers {
	h := &CheckoutHandlers{
		authn:    authn,
		checkout: checkout,
		limiter:  newSimpleRateLimiter(defaultCheckoutRateLimit, defaultCheckoutRateWindow, nil),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *CheckoutHandlers) Routes(r chi.Router) {
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/", h.createOrder)
}

type checkoutRequest struct {
	ShippingAddress addressPayload `json:"shippingAddress"`
	PaymentMethod   string         `json:"paymentMethod"`
	ReturnURL       string         `json:"returnUrl"`
}

type checkoutResponse struct {
	Order         orderPayload `json:"order"`
	PaymentURL    string       `json:"paymentUrl,omitempty"`
	ProviderTxnID string       `json:"providerTxnId,omitempty"`
}

func (h *CheckoutHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		writeUnavailable(ctx, w, "checkout service")
		return
	}
	actor, ok := customerActor(ctx)
	if !ok {
		writeUnauthenticated(ctx, w)
		return
	}
	if h.limiter != nil && !h.limiter.Allow(actor.ID) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many checkout attempts", http.StatusTooManyRequests))
		return
	}
	var req checkoutRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeBadRequest(ctx, w, err.Error())
		return
	}
	result, err := h.checkout.Checkout(ctx, services.CheckoutCommand{
		CustomerID:      actor.ID,
		ShippingAddress: req.ShippingAddress.toDomain(),
		PaymentMethod:   domain.PaymentMethod(strings.ToUpper(strings.TrimSpace(req.PaymentMethod))),
		ReturnURL:       req.ReturnURL,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/orders/"+result.Order.ID)
	httpx.WriteJSON(w, http.StatusCreated, checkoutResponse{
		Order:         newOrderPayload(result.Order),
		PaymentURL:    result.PaymentURL,
		ProviderTxnID: result.ProviderTxnID,
	})
}
