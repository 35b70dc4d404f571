package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/orderflow/internal/platform/auth"
	"github.com/hanko-field/orderflow/internal/platform/httpx"
	"github.com/hanko-field/orderflow/internal/services"
)

// CartHandlers serves the caller's single active cart.
type CartHandlers struct {
	authn *auth.Authenticator
	carts services.CartService
}

func NewCartHandlers(authn *auth.Authenticator, carts services.CartService) *CartHandlers {
	return &CartHandlers{authn: authn, carts: carts}
}

// Routes registers /cart endpoints.
func (h *CartHandlers) Routes(r chi.Router) {
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.getCart)
	r.Post("/items", h.addItem)
	r.Patch("/items/{productID}", h.updateItem)
	r.Delete("/items/{productID}", h.removeItem)
	r.Post("/voucher", h.applyVoucher)
	r.Delete("/voucher", h.removeVoucher)
	r.Get("/estimate", h.estimate)
}

type cartResponse struct {
	Cart cartPayload `json:"cart"`
}

type cartItemRequest struct {
	ProductID   string `json:"productId"`
	VariantCode string `json:"variantCode"`
	Quantity    int    `json:"quantity"`
}

type voucherRequest struct {
	Code string `json:"code"`
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeUnavailable(ctx, w, "cart service")
		return
	}
	actor, ok := customerActor(ctx)
	if !ok {
		writeUnauthenticated(ctx, w)
		return
	}
	cart, err := h.carts.GetCart(ctx, actor.ID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	httpx.WriteJSON(w, http.StatusOK, cartResponse{Cart: newCartPayload(cart)})
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeUnavailable(ctx, w, "cart service")
		return
	}
	actor, ok := customerActor(ctx)
	if !ok {
		writeUnauthenticated(ctx, w)
		return
	}
	var req cartItemRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeBadRequest(ctx, w, err.Error())
		return
	}
	cart, err := h.carts.AddItem(ctx, services.AddCartItemCommand{
		CustomerID:  actor.ID,
		ProductID:   req.ProductID,
		VariantCode: req.VariantCode,
		Quantity:    req.Quantity,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, cartResponse{Cart: newCartPayload(cart)})
}

func (h *CartHandlers) updateItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeUnavailable(ctx, w, "cart service")
		return
	}
	actor, ok := customerActor(ctx)
	if !ok {
		writeUnauthenticated(ctx, w)
		return
	}
	var req cartItemRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeBadRequest(ctx, w, err.Error())
		return
	}
	cart, err := h.carts.UpdateItemQuantity(ctx, services.UpdateCartItemCommand{
		CustomerID:  actor.ID,
		ProductID:   strings.TrimSpace(chi.URLParam(r, "productID")),
		VariantCode: req.VariantCode,
		Quantity:    req.Quantity,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, cartResponse{Cart: newCartPayload(cart)})
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeUnavailable(ctx, w, "cart service")
		return
	}
	actor, ok := customerActor(ctx)
	if !ok {
		writeUnauthenticated(ctx, w)
		return
	}
	cart, err := h.carts.RemoveItem(ctx, services.RemoveCartItemCommand{
		CustomerID:  actor.ID,
		ProductID:   strings.TrimSpace(chi.URLParam(r, "productID")),
		VariantCode: strings.TrimSpace(r.URL.Query().Get("variantCode")),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, cartResponse{Cart: newCartPayload(cart)})
}

func (h *CartHandlers) applyVoucher(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeUnavailable(ctx, w, "cart service")
		return
	}
	actor, ok := customerActor(ctx)
	if !ok {
		writeUnauthenticated(ctx, w)
		return
	}
	var req voucherRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeBadRequest(ctx, w, err.Error())
		return
	}
	cart, err := h.carts.ApplyVoucher(ctx, services.ApplyVoucherCommand{CustomerID: actor.ID, Code: req.Code})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, cartResponse{Cart: newCartPayload(cart)})
}

func (h *CartHandlers) removeVoucher(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeUnavailable(ctx, w, "cart service")
		return
	}
	actor, ok := customerActor(ctx)
	if !ok {
		writeUnauthenticated(ctx, w)
		return
	}
	cart, err := h.carts.RemoveVoucher(ctx, actor.ID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, cartResponse{Cart: newCartPayload(cart)})
}

// estimate prices the cart. Shipping is quoted only when the destination query parameters
// are present.
func (h *CartHandlers) estimate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeUnavailable(ctx, w, "cart service")
		return
	}
	actor, ok := customerActor(ctx)
	if !ok {
		writeUnauthenticated(ctx, w)
		return
	}
	cmd := services.EstimateCommand{CustomerID: actor.ID}
	q := r.URL.Query()
	if province := strings.TrimSpace(q.Get("province")); province != "" {
		cmd.Destination = &services.Address{
			Province:     province,
			District:     strings.TrimSpace(q.Get("district")),
			Ward:         strings.TrimSpace(q.Get("ward")),
			DistrictCode: strings.TrimSpace(q.Get("districtCode")),
			WardCode:     strings.TrimSpace(q.Get("wardCode")),
		}
	}
	est, err := h.carts.Estimate(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	httpx.WriteJSON(w, http.StatusOK, newEstimatePayload(est))
}
