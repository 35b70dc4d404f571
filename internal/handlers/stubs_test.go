package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/payments"
	"github.com/hanko-field/orderflow/internal/platform/auth"
	"github.com/hanko-field/orderflow/internal/services"
)

var fixedNow = time.Date(2024, 5, 12, 10, 0, 0, 0, time.UTC)

func serviceError(kind error, message string) error {
	return &services.Error{Kind: kind, Message: message}
}

func sampleOrder(id string, status domain.OrderStatus) services.Order {
	return services.Order{
		ID:            id,
		CustomerID:    "cust-1",
		Status:        status,
		Currency:      "VND",
		Items:         []domain.OrderItem{{ProductID: "p1", Name: "Mug", UnitPrice: 100000, Quantity: 2, LineTotal: 200000}},
		Subtotal:      200000,
		TotalAmount:   230000,
		ShippingFee:   30000,
		PaymentMethod: domain.PaymentMethodOnline,
		CreatedAt:     fixedNow,
		UpdatedAt:     fixedNow,
	}
}

// serve routes req through mount at prefix, attaching identity when set.
func serve(t *testing.T, prefix string, routes func(chi.Router), req *http.Request, identity *auth.Identity) *httptest.ResponseRecorder {
	t.Helper()
	router := chi.NewRouter()
	router.Route(prefix, routes)
	if identity != nil {
		req = req.WithContext(auth.WithIdentity(req.Context(), identity))
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func jsonRequest(method, target, body string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func errorCodeOf(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	body := decodeBody[map[string]any](t, rr)
	code, _ := body["error"].(string)
	return code
}

type stubCartService struct {
	getFunc           func(ctx context.Context, customerID string) (services.Cart, error)
	addFunc           func(ctx context.Context, cmd services.AddCartItemCommand) (services.Cart, error)
	updateFunc        func(ctx context.Context, cmd services.UpdateCartItemCommand) (services.Cart, error)
	removeFunc        func(ctx context.Context, cmd services.RemoveCartItemCommand) (services.Cart, error)
	applyVoucherFunc  func(ctx context.Context, cmd services.ApplyVoucherCommand) (services.Cart, error)
	removeVoucherFunc func(ctx context.Context, customerID string) (services.Cart, error)
	estimateFunc      func(ctx context.Context, cmd services.EstimateCommand) (services.CartEstimate, error)
}

func (s *stubCartService) GetCart(ctx context.Context, customerID string) (services.Cart, error) {
	if s.getFunc == nil {
		return services.Cart{}, nil
	}
	return s.getFunc(ctx, customerID)
}

func (s *stubCartService) AddItem(ctx context.Context, cmd services.AddCartItemCommand) (services.Cart, error) {
	if s.addFunc == nil {
		return services.Cart{}, nil
	}
	return s.addFunc(ctx, cmd)
}

func (s *stubCartService) UpdateItemQuantity(ctx context.Context, cmd services.UpdateCartItemCommand) (services.Cart, error) {
	if s.updateFunc == nil {
		return services.Cart{}, nil
	}
	return s.updateFunc(ctx, cmd)
}

func (s *stubCartService) RemoveItem(ctx context.Context, cmd services.RemoveCartItemCommand) (services.Cart, error) {
	if s.removeFunc == nil {
		return services.Cart{}, nil
	}
	return s.removeFunc(ctx, cmd)
}

func (s *stubCartService) ApplyVoucher(ctx context.Context, cmd services.ApplyVoucherCommand) (services.Cart, error) {
	if s.applyVoucherFunc == nil {
		return services.Cart{}, nil
	}
	return s.applyVoucherFunc(ctx, cmd)
}

func (s *stubCartService) RemoveVoucher(ctx context.Context, customerID string) (services.Cart, error) {
	if s.removeVoucherFunc == nil {
		return services.Cart{}, nil
	}
	return s.removeVoucherFunc(ctx, customerID)
}

func (s *stubCartService) Estimate(ctx context.Context, cmd services.EstimateCommand) (services.CartEstimate, error) {
	if s.estimateFunc == nil {
		return services.CartEstimate{}, nil
	}
	return s.estimateFunc(ctx, cmd)
}

type stubCheckoutService struct {
	checkoutFunc func(ctx context.Context, cmd services.CheckoutCommand) (services.CheckoutResult, error)
}

func (s *stubCheckoutService) Checkout(ctx context.Context, cmd services.CheckoutCommand) (services.CheckoutResult, error) {
	return s.checkoutFunc(ctx, cmd)
}

type stubOrderService struct {
	getFunc        func(ctx context.Context, orderID string, actor services.Actor) (services.Order, error)
	listFunc       func(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error)
	transitionFunc func(ctx context.Context, cmd services.TransitionCommand) (services.Order, error)
	actionFunc     func(name string, cmd services.OrderActionCommand) (services.Order, error)
	deliveryFunc   func(ctx context.Context, cmd services.DeliveryStatusCommand) (services.Order, error)
}

func (s *stubOrderService) Get(ctx context.Context, orderID string, actor services.Actor) (services.Order, error) {
	return s.getFunc(ctx, orderID, actor)
}

func (s *stubOrderService) List(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
	return s.listFunc(ctx, filter)
}

func (s *stubOrderService) Transition(ctx context.Context, cmd services.TransitionCommand) (services.Order, error) {
	return s.transitionFunc(ctx, cmd)
}

func (s *stubOrderService) Confirm(_ context.Context, cmd services.OrderActionCommand) (services.Order, error) {
	return s.actionFunc("confirm", cmd)
}

func (s *stubOrderService) Cancel(_ context.Context, cmd services.OrderActionCommand) (services.Order, error) {
	return s.actionFunc("cancel", cmd)
}

func (s *stubOrderService) MarkShipped(_ context.Context, cmd services.OrderActionCommand) (services.Order, error) {
	return s.actionFunc("ship", cmd)
}

func (s *stubOrderService) MarkDelivered(_ context.Context, cmd services.OrderActionCommand) (services.Order, error) {
	return s.actionFunc("deliver", cmd)
}

func (s *stubOrderService) UpdateDeliveryStatus(ctx context.Context, cmd services.DeliveryStatusCommand) (services.Order, error) {
	return s.deliveryFunc(ctx, cmd)
}

type stubReturnService struct {
	requestFunc  func(ctx context.Context, cmd services.RequestReturnCommand) (services.Order, error)
	stageFunc    func(ctx context.Context, cmd services.ReturnStageCommand) (services.Order, error)
	inspectFunc  func(ctx context.Context, cmd services.StaffInspectCommand) (services.Order, error)
	refundFunc   func(ctx context.Context, cmd services.AdminRefundCommand) (services.Order, error)
	rejectFunc   func(ctx context.Context, cmd services.RejectReturnCommand) (services.Order, error)
	evidenceFunc func(ctx context.Context, cmd services.EvidenceUploadCommand) (services.EvidenceUpload, error)
}

func (s *stubReturnService) RequestReturn(ctx context.Context, cmd services.RequestReturnCommand) (services.Order, error) {
	return s.requestFunc(ctx, cmd)
}

func (s *stubReturnService) SupportConfirm(ctx context.Context, cmd services.ReturnStageCommand) (services.Order, error) {
	return s.stageFunc(ctx, cmd)
}

func (s *stubReturnService) StaffInspect(ctx context.Context, cmd services.StaffInspectCommand) (services.Order, error) {
	return s.inspectFunc(ctx, cmd)
}

func (s *stubReturnService) AdminRefund(ctx context.Context, cmd services.AdminRefundCommand) (services.Order, error) {
	return s.refundFunc(ctx, cmd)
}

func (s *stubReturnService) Reject(ctx context.Context, cmd services.RejectReturnCommand) (services.Order, error) {
	return s.rejectFunc(ctx, cmd)
}

func (s *stubReturnService) EvidenceUploadURL(ctx context.Context, cmd services.EvidenceUploadCommand) (services.EvidenceUpload, error) {
	return s.evidenceFunc(ctx, cmd)
}

type stubAuditService struct {
	entries []services.AuditLogEntry
	err     error
}

func (s *stubAuditService) ListByOrder(context.Context, string) ([]services.AuditLogEntry, error) {
	return s.entries, s.err
}

type stubPaymentService struct {
	handleFunc  func(ctx context.Context, n payments.Notification) (services.PaymentOutcome, error)
	applyFunc   func(ctx context.Context, n payments.Notification) (services.PaymentOutcome, error)
	lastApplied *payments.Notification
}

func (s *stubPaymentService) HandleNotification(ctx context.Context, n payments.Notification) (services.PaymentOutcome, error) {
	return s.handleFunc(ctx, n)
}

func (s *stubPaymentService) ApplyVerifiedNotification(ctx context.Context, n payments.Notification) (services.PaymentOutcome, error) {
	s.lastApplied = &n
	if s.applyFunc == nil {
		return services.PaymentOutcome{OrderID: n.OrderID, Result: "applied"}, nil
	}
	return s.applyFunc(ctx, n)
}

type stubSweepService struct {
	result services.SweepResult
	err    error
	calls  []time.Time
}

func (s *stubSweepService) ExpireStale(_ context.Context, now time.Time) (services.SweepResult, error) {
	s.calls = append(s.calls, now)
	return s.result, s.err
}
