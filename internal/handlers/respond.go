package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/platform/auth"
	"github.com/hanko-field/orderflow/internal/platform/httpx"
	"github.com/hanko-field/orderflow/internal/platform/requestctx"
	"github.com/hanko-field/orderflow/internal/services"
)

const maxJSONBodySize = 64 * 1024

var statusByCode = map[string]int{
	"validation_error":         http.StatusBadRequest,
	"not_found":                http.StatusNotFound,
	"invalid_order_transition": http.StatusConflict,
	"voucher_not_applicable":   http.StatusUnprocessableEntity,
	"voucher_invalid":          http.StatusNotFound,
	"out_of_stock":             http.StatusConflict,
	"invalid_signature":        http.StatusUnauthorized,
	"invalid_refund_amount":    http.StatusUnprocessableEntity,
	"external_service_error":   http.StatusBadGateway,
	"forbidden":                http.StatusForbidden,
	"conflict":                 http.StatusConflict,
	"unavailable":              http.StatusServiceUnavailable,
}

// writeServiceError renders a services error with its stable code. Unknown errors are logged
// and hidden behind internal_error.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	code := services.ErrorCode(err)
	status, ok := statusByCode[code]
	if !ok {
		requestctx.Logger(ctx).Error("unhandled service error", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "internal server error", http.StatusInternalServerError))
		return
	}
	if status >= http.StatusInternalServerError {
		requestctx.Logger(ctx).Warn("dependency failure", zap.String("code", code), zap.Error(err))
	}
	httpx.WriteError(ctx, w, httpx.NewError(code, services.ErrorMessage(err), status).WithDetails(services.ErrorDetails(err)))
}

func writeBadRequest(ctx context.Context, w http.ResponseWriter, message string) {
	httpx.WriteError(ctx, w, httpx.NewError("invalid_request", message, http.StatusBadRequest))
}

// decodeJSON reads a size-limited JSON object into dst, rejecting unknown fields. An empty body
// leaves dst untouched when allowEmpty is set.
func decodeJSON(r *http.Request, dst any, allowEmpty bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) && allowEmpty {
			return nil
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if dec.More() {
		return errors.New("invalid JSON body: trailing data")
	}
	return nil
}

// decodeLenient accepts unknown fields. Provider payloads grow fields without notice.
func decodeLenient(r *http.Request) *json.Decoder {
	return json.NewDecoder(io.LimitReader(r.Body, maxWebhookBodySize))
}

// customerActor returns the caller acting as a customer on their own resources.
func customerActor(ctx context.Context) (domain.Actor, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || strings.TrimSpace(identity.UID) == "" {
		return domain.Actor{}, false
	}
	return domain.Actor{ID: identity.UID, Role: domain.ActorRoleCustomer}, true
}

// backOfficeActor returns the caller acting with their most privileged role.
func backOfficeActor(ctx context.Context) (domain.Actor, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || strings.TrimSpace(identity.UID) == "" {
		return domain.Actor{}, false
	}
	return identity.Actor(), true
}

func writeUnauthenticated(ctx context.Context, w http.ResponseWriter) {
	httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
}

func writeUnavailable(ctx context.Context, w http.ResponseWriter, name string) {
	httpx.WriteError(ctx, w, httpx.NewError("unavailable", name+" unavailable", http.StatusServiceUnavailable))
}
