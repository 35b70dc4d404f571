package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hanko-field/orderflow/internal/platform/auth"
	"github.com/hanko-field/orderflow/internal/platform/httpx"
	"github.com/hanko-field/orderflow/internal/platform/requestctx"
	"github.com/hanko-field/orderflow/internal/services"
)

// InternalHandlers serves scheduler-invoked maintenance endpoints. The group is expected to sit
// behind the OIDC middleware.
type InternalHandlers struct {
	sweeper services.DiscountSweepService
	now     func() time.Time
}

func NewInternalHandlers(sweeper services.DiscountSweepService, now func() time.Time) *InternalHandlers {
	if now == nil {
		now = time.Now
	}
	return &InternalHandlers{sweeper: sweeper, now: now}
}

func (h *InternalHandlers) Routes(r chi.Router) {
	r.Post("/discounts:expire", h.expireDiscounts)
}

type expireDiscountsResponse struct {
	VouchersExpired   int    `json:"vouchersExpired"`
	PromotionsExpired int    `json:"promotionsExpired"`
	RanAt             string `json:"ranAt"`
}

func (h *InternalHandlers) expireDiscounts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.sweeper == nil {
		writeUnavailable(ctx, w, "discount sweep")
		return
	}
	now := h.now().UTC()
	result, err := h.sweeper.ExpireStale(ctx, now)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	fields := []zap.Field{
		zap.Int("vouchersExpired", result.VouchersExpired),
		zap.Int("promotionsExpired", result.PromotionsExpired),
	}
	if svc, ok := auth.ServiceIdentityFromContext(ctx); ok {
		fields = append(fields, zap.String("caller", svc.Subject))
	}
	requestctx.Logger(ctx).Info("discount sweep finished", fields...)
	httpx.WriteJSON(w, http.StatusOK, expireDiscountsResponse{
		VouchersExpired:   result.VouchersExpired,
		PromotionsExpired: result.PromotionsExpired,
		RanAt:             now.Format(time.RFC3339),
	})
}
