package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/platform/auth"
	"github.com/hanko-field/orderflow/internal/platform/httpx"
	"github.com/hanko-field/orderflow/internal/platform/pagination"
	"github.com/hanko-field/orderflow/internal/services"
)

// OrderHandlers serves the caller's own orders, cancellation and return requests.
type OrderHandlers struct {
	authn   *auth.Authenticator
	orders  services.OrderService
	returns services.ReturnService
}

func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, returns services.ReturnService) *OrderHandlers {
	return &OrderHandlers{authn: authn, orders: orders, returns: returns}
}

// Routes registers /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}/cancel", h.cancelOrder)
	r.Post("/{orderID}/returns", h.requestReturn)
	r.Post("/{orderID}/returns/evidence-uploads", h.evidenceUpload)
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

type returnRequest struct {
	Reason          string   `json:"reason"`
	Description     string   `json:"description"`
	RequestedAmount int64    `json:"requestedAmount"`
	EvidencePaths   []string `json:"evidencePaths"`
}

type evidenceUploadRequest struct {
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
}

type evidenceUploadResponse struct {
	ObjectPath string `json:"objectPath"`
	UploadURL  string `json:"uploadUrl"`
	ExpiresAt  string `json:"expiresAt"`
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "order service")
		return
	}
	actor, ok := customerActor(ctx)
	if !ok {
		writeUnauthenticated(ctx, w)
		return
	}
	filter, ok := parseOrderListFilter(w, r)
	if !ok {
		return
	}
	filter.CustomerID = actor.ID
	writeOrderPage(w, r, h.orders, filter)
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "order service")
		return
	}
	actor, ok := customerActor(ctx)
	if !ok {
		writeUnauthenticated(ctx, w)
		return
	}
	order, err := h.orders.Get(ctx, chi.URLParam(r, "orderID"), actor)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: newOrderPayload(order)})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "order service")
		return
	}
	actor, ok := customerActor(ctx)
	if !ok {
		writeUnauthenticated(ctx, w)
		return
	}
	var req reasonRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeBadRequest(ctx, w, err.Error())
		return
	}
	order, err := h.orders.Cancel(ctx, services.OrderActionCommand{OrderID: chi.URLParam(r, "orderID"), Actor: actor, Reason: req.Reason})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: newOrderPayload(order)})
}

func (h *OrderHandlers) requestReturn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.returns == nil {
		writeUnavailable(ctx, w, "return service")
		return
	}
	actor, ok := customerActor(ctx)
	if !ok {
		writeUnauthenticated(ctx, w)
		return
	}
	var req returnRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeBadRequest(ctx, w, err.Error())
		return
	}
	order, err := h.returns.RequestReturn(ctx, services.RequestReturnCommand{
		OrderID:         chi.URLParam(r, "orderID"),
		Actor:           actor,
		Reason:          req.Reason,
		Description:     req.Description,
		RequestedAmount: req.RequestedAmount,
		EvidencePaths:   req.EvidencePaths,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: newOrderPayload(order)})
}

func (h *OrderHandlers) evidenceUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.returns == nil {
		writeUnavailable(ctx, w, "return service")
		return
	}
	actor, ok := customerActor(ctx)
	if !ok {
		writeUnauthenticated(ctx, w)
		return
	}
	var req evidenceUploadRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeBadRequest(ctx, w, err.Error())
		return
	}
	upload, err := h.returns.EvidenceUploadURL(ctx, services.EvidenceUploadCommand{
		OrderID:     chi.URLParam(r, "orderID"),
		Actor:       actor,
		FileName:    req.FileName,
		ContentType: req.ContentType,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, evidenceUploadResponse{
		ObjectPath: upload.ObjectPath,
		UploadURL:  upload.UploadURL,
		ExpiresAt:  upload.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// parseOrderListFilter reads pageSize, pageToken and repeated or comma separated status values.
func parseOrderListFilter(w http.ResponseWriter, r *http.Request) (services.OrderListFilter, bool) {
	params, err := pagination.FromRequest(r)
	if err != nil {
		writeBadRequest(r.Context(), w, err.Error())
		return services.OrderListFilter{}, false
	}
	filter := services.OrderListFilter{
		Pagination: domain.Pagination{PageSize: params.PageSize, PageToken: params.PageToken},
	}
	for _, raw := range r.URL.Query()["status"] {
		for _, part := range strings.Split(raw, ",") {
			status := domain.OrderStatus(strings.ToUpper(strings.TrimSpace(part)))
			if status == "" {
				continue
			}
			if !isKnownStatus(status) {
				writeBadRequest(r.Context(), w, "unknown order status "+string(status))
				return services.OrderListFilter{}, false
			}
			filter.Status = append(filter.Status, status)
		}
	}
	return filter, true
}

func isKnownStatus(status domain.OrderStatus) bool {
	for _, known := range domain.AllOrderStatuses {
		if known == status {
			return true
		}
	}
	return false
}

func writeOrderPage(w http.ResponseWriter, r *http.Request, orders services.OrderService, filter services.OrderListFilter) {
	ctx := r.Context()
	page, err := orders.List(ctx, filter)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	resp := orderListResponse{Items: make([]orderPayload, 0, len(page.Items)), NextPageToken: page.NextPageToken}
	for _, order := range page.Items {
		resp.Items = append(resp.Items, newOrderPayload(order))
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}
