package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/platform/auth"
	"github.com/hanko-field/orderflow/internal/platform/httpx"
	"github.com/hanko-field/orderflow/internal/services"
)

// stageOwners maps each return stage to the only role allowed to act on it.
var stageOwners = map[domain.OrderStatus]string{
	domain.OrderStatusReturnRequested:      auth.RoleSupport,
	domain.OrderStatusReturnCSConfirmed:    auth.RoleStaff,
	domain.OrderStatusReturnStaffConfirmed: auth.RoleAdmin,
}

// AdminOrderHandlers exposes back office order operations to support, staff and admin users.
type AdminOrderHandlers struct {
	authn   *auth.Authenticator
	orders  services.OrderService
	returns services.ReturnService
	audit   services.AuditLogService
}

func NewAdminOrderHandlers(authn *auth.Authenticator, orders services.OrderService, returns services.ReturnService, audit services.AuditLogService) *AdminOrderHandlers {
	return &AdminOrderHandlers{authn: authn, orders: orders, returns: returns, audit: audit}
}

// Routes registers /admin/orders endpoints.
func (h *AdminOrderHandlers) Routes(r chi.Router) {
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleSupport, auth.RoleStaff, auth.RoleAdmin))
	}
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Get("/{orderID}/audit", h.listAudit)
	r.Post("/{orderID}:confirm", h.action(func(svc services.OrderService) orderAction { return svc.Confirm }))
	r.Post("/{orderID}:ship", h.action(func(svc services.OrderService) orderAction { return svc.MarkShipped }))
	r.Post("/{orderID}:deliver", h.action(func(svc services.OrderService) orderAction { return svc.MarkDelivered }))
	r.Post("/{orderID}:cancel", h.action(func(svc services.OrderService) orderAction { return svc.Cancel }))
	r.Post("/{orderID}:transition", h.transition)
	r.Post("/{orderID}/returns:support-confirm", h.supportConfirm)
	r.Post("/{orderID}/returns:inspect", h.inspect)
	r.Post("/{orderID}/returns:refund", h.refund)
	r.Post("/{orderID}/returns:reject", h.reject)
}

type orderAction func(ctx context.Context, cmd services.OrderActionCommand) (services.Order, error)

type transitionRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

type stageNoteRequest struct {
	Note string `json:"note"`
}

type inspectRequest struct {
	InspectionResult string `json:"inspectionResult"`
	InspectedAmount  int64  `json:"inspectedAmount"`
}

type refundRequest struct {
	ConfirmedAmount   int64 `json:"confirmedAmount"`
	Penalty           int64 `json:"penalty"`
	SecondShippingFee int64 `json:"secondShippingFee"`
}

type auditResponse struct {
	Items []auditEntryPayload `json:"items"`
}

func (h *AdminOrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "order service")
		return
	}
	filter, ok := parseOrderListFilter(w, r)
	if !ok {
		return
	}
	filter.CustomerID = strings.TrimSpace(r.URL.Query().Get("customerId"))
	writeOrderPage(w, r, h.orders, filter)
}

func (h *AdminOrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "order service")
		return
	}
	actor, ok := backOfficeActor(ctx)
	if !ok {
		writeUnauthenticated(ctx, w)
		return
	}
	order, err := h.orders.Get(ctx, chi.URLParam(r, "orderID"), actor)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: newOrderPayload(order)})
}

func (h *AdminOrderHandlers) listAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.audit == nil {
		writeUnavailable(ctx, w, "audit log")
		return
	}
	entries, err := h.audit.ListByOrder(ctx, chi.URLParam(r, "orderID"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	resp := auditResponse{Items: make([]auditEntryPayload, 0, len(entries))}
	for _, entry := range entries {
		resp.Items = append(resp.Items, newAuditEntryPayload(entry))
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (h *AdminOrderHandlers) action(pick func(services.OrderService) orderAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if h.orders == nil {
			writeUnavailable(ctx, w, "order service")
			return
		}
		actor, ok := backOfficeActor(ctx)
		if !ok {
			writeUnauthenticated(ctx, w)
			return
		}
		var req reasonRequest
		if err := decodeJSON(r, &req, true); err != nil {
			writeBadRequest(ctx, w, err.Error())
			return
		}
		order, err := pick(h.orders)(ctx, services.OrderActionCommand{OrderID: chi.URLParam(r, "orderID"), Actor: actor, Reason: req.Reason})
		if err != nil {
			writeServiceError(ctx, w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: newOrderPayload(order)})
	}
}

func (h *AdminOrderHandlers) transition(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "order service")
		return
	}
	actor, ok := backOfficeActor(ctx)
	if !ok {
		writeUnauthenticated(ctx, w)
		return
	}
	var req transitionRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeBadRequest(ctx, w, err.Error())
		return
	}
	order, err := h.orders.Transition(ctx, services.TransitionCommand{
		OrderID: chi.URLParam(r, "orderID"),
		Target:  domain.OrderStatus(req.Status),
		Actor:   actor,
		Reason:  req.Reason,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: newOrderPayload(order)})
}

// stageActor resolves the caller acting in role, answering 403 when they lack it.
func stageActor(w http.ResponseWriter, r *http.Request, role string) (domain.Actor, bool) {
	ctx := r.Context()
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		writeUnauthenticated(ctx, w)
		return domain.Actor{}, false
	}
	actor, ok := identity.ActorAs(role)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "this return stage requires the "+role+" role", http.StatusForbidden))
		return domain.Actor{}, false
	}
	return actor, true
}

func (h *AdminOrderHandlers) supportConfirm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.returns == nil {
		writeUnavailable(ctx, w, "return service")
		return
	}
	actor, ok := stageActor(w, r, auth.RoleSupport)
	if !ok {
		return
	}
	var req stageNoteRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeBadRequest(ctx, w, err.Error())
		return
	}
	order, err := h.returns.SupportConfirm(ctx, services.ReturnStageCommand{OrderID: chi.URLParam(r, "orderID"), Actor: actor, Note: req.Note})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: newOrderPayload(order)})
}

func (h *AdminOrderHandlers) inspect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.returns == nil {
		writeUnavailable(ctx, w, "return service")
		return
	}
	actor, ok := stageActor(w, r, auth.RoleStaff)
	if !ok {
		return
	}
	var req inspectRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeBadRequest(ctx, w, err.Error())
		return
	}
	order, err := h.returns.StaffInspect(ctx, services.StaffInspectCommand{
		OrderID:          chi.URLParam(r, "orderID"),
		Actor:            actor,
		InspectionResult: req.InspectionResult,
		InspectedAmount:  req.InspectedAmount,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: newOrderPayload(order)})
}

func (h *AdminOrderHandlers) refund(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.returns == nil {
		writeUnavailable(ctx, w, "return service")
		return
	}
	actor, ok := stageActor(w, r, auth.RoleAdmin)
	if !ok {
		return
	}
	var req refundRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeBadRequest(ctx, w, err.Error())
		return
	}
	order, err := h.returns.AdminRefund(ctx, services.AdminRefundCommand{
		OrderID:           chi.URLParam(r, "orderID"),
		Actor:             actor,
		ConfirmedAmount:   req.ConfirmedAmount,
		Penalty:           req.Penalty,
		SecondShippingFee: req.SecondShippingFee,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: newOrderPayload(order)})
}

// reject acts as the owner of the order's current return stage.
func (h *AdminOrderHandlers) reject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.returns == nil || h.orders == nil {
		writeUnavailable(ctx, w, "return service")
		return
	}
	viewer, ok := backOfficeActor(ctx)
	if !ok {
		writeUnauthenticated(ctx, w)
		return
	}
	var req reasonRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeBadRequest(ctx, w, err.Error())
		return
	}
	orderID := chi.URLParam(r, "orderID")
	current, err := h.orders.Get(ctx, orderID, viewer)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	role, ok := stageOwners[current.Status]
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_order_transition",
			"order "+current.ID+" has no return awaiting review", http.StatusConflict))
		return
	}
	actor, ok := stageActor(w, r, role)
	if !ok {
		return
	}
	order, err := h.returns.Reject(ctx, services.RejectReturnCommand{OrderID: orderID, Actor: actor, Reason: req.Reason})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: newOrderPayload(order)})
}
