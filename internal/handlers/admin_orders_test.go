package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/platform/auth"
	"github.com/hanko-field/orderflow/internal/services"
)

func TestAdminOrderHandlersLifecycleActions(t *testing.T) {
	var calls []string
	var lastActor services.Actor
	orders := &stubOrderService{
		actionFunc: func(name string, cmd services.OrderActionCommand) (services.Order, error) {
			calls = append(calls, name+":"+cmd.OrderID)
			lastActor = cmd.Actor
			return sampleOrder(cmd.OrderID, domain.OrderStatusConfirmed), nil
		},
	}
	h := NewAdminOrderHandlers(nil, orders, nil, nil)
	identity := &auth.Identity{UID: "ops-1", Roles: []string{auth.RoleSupport, auth.RoleStaff}}

	for _, action := range []string{"confirm", "ship", "deliver", "cancel"} {
		rr := serve(t, "/admin/orders", h.Routes, jsonRequest(http.MethodPost, "/admin/orders/ord-1:"+action, ""), identity)
		require.Equal(t, http.StatusOK, rr.Code, action+": "+rr.Body.String())
	}

	assert.Equal(t, []string{"confirm:ord-1", "ship:ord-1", "deliver:ord-1", "cancel:ord-1"}, calls)
	assert.Equal(t, services.Actor{ID: "ops-1", Role: domain.ActorRoleStaff}, lastActor)
}

func TestAdminOrderHandlersTransition(t *testing.T) {
	var got services.TransitionCommand
	orders := &stubOrderService{
		transitionFunc: func(_ context.Context, cmd services.TransitionCommand) (services.Order, error) {
			got = cmd
			if cmd.Target == domain.OrderStatusRefunded {
				return services.Order{}, serviceError(services.ErrInvalidOrderTransition, "CREATED cannot move to REFUNDED")
			}
			return sampleOrder(cmd.OrderID, cmd.Target), nil
		},
	}
	h := NewAdminOrderHandlers(nil, orders, nil, nil)
	identity := &auth.Identity{UID: "admin-1", Roles: []string{auth.RoleAdmin}}

	rr := serve(t, "/admin/orders", h.Routes, jsonRequest(http.MethodPost, "/admin/orders/ord-1:transition", `{"status":"CONFIRMED","reason":"phone check"}`), identity)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, domain.OrderStatusConfirmed, got.Target)
	assert.Equal(t, "phone check", got.Reason)
	assert.Equal(t, domain.ActorRoleAdmin, got.Actor.Role)

	rr = serve(t, "/admin/orders", h.Routes, jsonRequest(http.MethodPost, "/admin/orders/ord-1:transition", `{"status":"REFUNDED"}`), identity)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "invalid_order_transition", errorCodeOf(t, rr))
}

func TestAdminOrderHandlersReturnStagesRequireOwningRole(t *testing.T) {
	var stage services.ReturnStageCommand
	var inspect services.StaffInspectCommand
	var refund services.AdminRefundCommand
	returns := &stubReturnService{
		stageFunc: func(_ context.Context, cmd services.ReturnStageCommand) (services.Order, error) {
			stage = cmd
			return sampleOrder(cmd.OrderID, domain.OrderStatusReturnCSConfirmed), nil
		},
		inspectFunc: func(_ context.Context, cmd services.StaffInspectCommand) (services.Order, error) {
			inspect = cmd
			return sampleOrder(cmd.OrderID, domain.OrderStatusReturnStaffConfirmed), nil
		},
		refundFunc: func(_ context.Context, cmd services.AdminRefundCommand) (services.Order, error) {
			refund = cmd
			if cmd.ConfirmedAmount > 200000 {
				return services.Order{}, serviceError(services.ErrInvalidRefundAmount, "refund exceeds limit")
			}
			return sampleOrder(cmd.OrderID, domain.OrderStatusRefunded), nil
		},
	}
	h := NewAdminOrderHandlers(nil, nil, returns, nil)
	// The most privileged role is admin, but each stage acts under its own role.
	multi := &auth.Identity{UID: "ops-1", Roles: []string{auth.RoleSupport, auth.RoleStaff, auth.RoleAdmin}}

	rr := serve(t, "/admin/orders", h.Routes, jsonRequest(http.MethodPost, "/admin/orders/ord-1/returns:support-confirm", `{"note":"photos ok"}`), multi)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, domain.ActorRoleSupport, stage.Actor.Role)
	assert.Equal(t, "photos ok", stage.Note)

	rr = serve(t, "/admin/orders", h.Routes, jsonRequest(http.MethodPost, "/admin/orders/ord-1/returns:inspect", `{"inspectionResult":"scratched","inspectedAmount":150000}`), multi)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, domain.ActorRoleStaff, inspect.Actor.Role)
	assert.Equal(t, int64(150000), inspect.InspectedAmount)

	rr = serve(t, "/admin/orders", h.Routes, jsonRequest(http.MethodPost, "/admin/orders/ord-1/returns:refund", `{"confirmedAmount":120000,"penalty":20000,"secondShippingFee":10000}`), multi)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, services.AdminRefundCommand{OrderID: "ord-1", Actor: services.Actor{ID: "ops-1", Role: domain.ActorRoleAdmin}, ConfirmedAmount: 120000, Penalty: 20000, SecondShippingFee: 10000}, refund)

	rr = serve(t, "/admin/orders", h.Routes, jsonRequest(http.MethodPost, "/admin/orders/ord-1/returns:refund", `{"confirmedAmount":999999}`), multi)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, "invalid_refund_amount", errorCodeOf(t, rr))

	supportOnly := &auth.Identity{UID: "cs-1", Roles: []string{auth.RoleSupport}}
	rr = serve(t, "/admin/orders", h.Routes, jsonRequest(http.MethodPost, "/admin/orders/ord-1/returns:inspect", `{"inspectionResult":"ok","inspectedAmount":1}`), supportOnly)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	rr = serve(t, "/admin/orders", h.Routes, jsonRequest(http.MethodPost, "/admin/orders/ord-1/returns:refund", `{"confirmedAmount":1}`), supportOnly)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestAdminOrderHandlersRejectUsesCurrentStageOwner(t *testing.T) {
	status := domain.OrderStatusReturnCSConfirmed
	orders := &stubOrderService{
		getFunc: func(_ context.Context, orderID string, _ services.Actor) (services.Order, error) {
			return sampleOrder(orderID, status), nil
		},
	}
	var got services.RejectReturnCommand
	returns := &stubReturnService{
		rejectFunc: func(_ context.Context, cmd services.RejectReturnCommand) (services.Order, error) {
			got = cmd
			return sampleOrder(cmd.OrderID, domain.OrderStatusReturnRejected), nil
		},
	}
	h := NewAdminOrderHandlers(nil, orders, returns, nil)
	identity := &auth.Identity{UID: "ops-1", Roles: []string{auth.RoleSupport, auth.RoleStaff}}

	rr := serve(t, "/admin/orders", h.Routes, jsonRequest(http.MethodPost, "/admin/orders/ord-1/returns:reject", `{"reason":"used item"}`), identity)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, domain.ActorRoleStaff, got.Actor.Role)
	assert.Equal(t, "used item", got.Reason)

	status = domain.OrderStatusReturnStaffConfirmed
	rr = serve(t, "/admin/orders", h.Routes, jsonRequest(http.MethodPost, "/admin/orders/ord-1/returns:reject", `{"reason":"late"}`), identity)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	status = domain.OrderStatusDelivered
	rr = serve(t, "/admin/orders", h.Routes, jsonRequest(http.MethodPost, "/admin/orders/ord-1/returns:reject", `{"reason":"late"}`), identity)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "invalid_order_transition", errorCodeOf(t, rr))
}

func TestAdminOrderHandlersListAndAudit(t *testing.T) {
	var filter services.OrderListFilter
	orders := &stubOrderService{
		listFunc: func(_ context.Context, f services.OrderListFilter) (domain.CursorPage[services.Order], error) {
			filter = f
			return domain.CursorPage[services.Order]{Items: []services.Order{sampleOrder("ord-9", domain.OrderStatusReturnRequested)}}, nil
		},
	}
	audit := &stubAuditService{entries: []services.AuditLogEntry{
		{ID: "a1", OrderID: "ord-9", Action: "order.create", ToStatus: domain.OrderStatusCreated, ActorID: "cust-1", ActorRole: domain.ActorRoleCustomer, OccurredAt: fixedNow},
		{ID: "a2", OrderID: "ord-9", Action: "order.confirm", FromStatus: domain.OrderStatusCreated, ToStatus: domain.OrderStatusConfirmed, ActorID: "ops-1", ActorRole: domain.ActorRoleSupport, OccurredAt: fixedNow},
	}}
	h := NewAdminOrderHandlers(nil, orders, nil, audit)
	identity := &auth.Identity{UID: "ops-1", Roles: []string{auth.RoleSupport}}

	rr := serve(t, "/admin/orders", h.Routes, jsonRequest(http.MethodGet, "/admin/orders?status=RETURN_REQUESTED&customerId=cust-1", ""), identity)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "cust-1", filter.CustomerID)
	assert.Equal(t, []domain.OrderStatus{domain.OrderStatusReturnRequested}, filter.Status)

	rr = serve(t, "/admin/orders", h.Routes, jsonRequest(http.MethodGet, "/admin/orders/ord-9/audit", ""), identity)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	body := decodeBody[auditResponse](t, rr)
	require.Len(t, body.Items, 2)
	assert.Equal(t, "order.confirm", body.Items[1].Action)
	assert.Equal(t, "CREATED", body.Items[1].FromStatus)
	assert.Equal(t, "support", body.Items[1].ActorRole)
}
