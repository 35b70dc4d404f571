package services

import (
	"errors"
	"fmt"

	"github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/repositories"
)

var (
	// ErrValidation marks malformed requests rejected before touching state.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks an absent order, voucher, product or cart.
	ErrNotFound = errors.New("resource not found")
	// ErrInvalidOrderTransition marks a state machine violation.
	ErrInvalidOrderTransition = errors.New("invalid order transition")
	// ErrVoucherNotApplicable marks a voucher that exists but cannot be used for this cart.
	ErrVoucherNotApplicable = errors.New("voucher not applicable")
	// ErrVoucherInvalid marks an unknown voucher code.
	ErrVoucherInvalid = errors.New("voucher invalid")
	// ErrOutOfStock marks insufficient inventory for a requested quantity.
	ErrOutOfStock = errors.New("out of stock")
	// ErrInvalidSignature marks a payment callback whose signature does not verify.
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrInvalidRefundAmount marks a refund that breaches the monetary invariant.
	ErrInvalidRefundAmount = errors.New("invalid refund amount")
	// ErrExternalService marks a provider timeout, transport failure or non-2xx response.
	ErrExternalService = errors.New("external service error")
	// ErrForbidden marks an actor acting on a resource it does not own.
	ErrForbidden = errors.New("forbidden")
	// ErrConflict marks a concurrent modification that exhausted retries.
	ErrConflict = errors.New("concurrent modification")
	// ErrUnavailable marks an unavailable persistence backend.
	ErrUnavailable = errors.New("service unavailable")
)

var errorCodes = []struct {
	kind error
	code string
}{
	{ErrValidation, "validation_error"},
	{ErrNotFound, "not_found"},
	{ErrInvalidOrderTransition, "invalid_order_transition"},
	{ErrVoucherNotApplicable, "voucher_not_applicable"},
	{ErrVoucherInvalid, "voucher_invalid"},
	{ErrOutOfStock, "out_of_stock"},
	{ErrInvalidSignature, "invalid_signature"},
	{ErrInvalidRefundAmount, "invalid_refund_amount"},
	{ErrExternalService, "external_service_error"},
	{ErrForbidden, "forbidden"},
	{ErrConflict, "conflict"},
	{ErrUnavailable, "unavailable"},
}

// Error is the typed failure surfaced by the order engine. Kind is one of the sentinel
// errors above so callers can match with errors.Is.
type Error struct {
	Kind    error
	Message string
	Details map[string]any
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap exposes both the kind and the cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	if e == nil {
		return nil
	}
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Cause != nil {
		out = append(out, e.Cause)
	}
	return out
}

// Code returns the stable machine-readable code for the error kind.
func (e *Error) Code() string {
	if e == nil {
		return ""
	}
	return codeForKind(e.Kind)
}

// ErrorCode returns the stable code for any error produced by this package, or "internal_error".
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var svcErr *Error
	if errors.As(err, &svcErr) {
		if code := svcErr.Code(); code != "" {
			return code
		}
	}
	for _, entry := range errorCodes {
		if errors.Is(err, entry.kind) {
			return entry.code
		}
	}
	return "internal_error"
}

// ErrorDetails returns structured details attached to the error, if any.
func ErrorDetails(err error) map[string]any {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr.Details
	}
	return nil
}

// ErrorMessage returns the human-readable message without the wrapped cause.
func ErrorMessage(err error) string {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

func codeForKind(kind error) string {
	for _, entry := range errorCodes {
		if entry.kind == kind {
			return entry.code
		}
	}
	return ""
}

func newError(kind error, message string, details map[string]any) *Error {
	return &Error{Kind: kind, Message: message, Details: details}
}

func validationError(format string, args ...any) error {
	return newError(ErrValidation, fmt.Sprintf(format, args...), nil)
}

func notFoundError(resource, id string) error {
	return newError(ErrNotFound, fmt.Sprintf("%s %q not found", resource, id), map[string]any{
		"resource": resource,
		"id":       id,
	})
}

func transitionError(from, to domain.OrderStatus) error {
	return newError(ErrInvalidOrderTransition, fmt.Sprintf("cannot transition order from %s to %s", from, to), map[string]any{
		"from": string(from),
		"to":   string(to),
	})
}

func outOfStockError(productID string, requested, available int) error {
	return newError(ErrOutOfStock, fmt.Sprintf("product %s has %d units available, %d requested", productID, available, requested), map[string]any{
		"productId": productID,
		"requested": requested,
		"available": available,
	})
}

func voucherNotApplicable(code, reason string) error {
	return newError(ErrVoucherNotApplicable, fmt.Sprintf("voucher %s is not applicable: %s", code, reason), map[string]any{
		"code":   code,
		"reason": reason,
	})
}

func externalServiceError(service string, cause error) error {
	return &Error{
		Kind:    ErrExternalService,
		Message: fmt.Sprintf("%s request failed", service),
		Details: map[string]any{"service": service},
		Cause:   cause,
	}
}

// mapRepositoryError converts RepositoryError categories into service kinds.
func mapRepositoryError(err error, resource, id string) error {
	if err == nil {
		return nil
	}
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return err
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return notFoundError(resource, id)
		case repoErr.IsConflict():
			return &Error{Kind: ErrConflict, Message: fmt.Sprintf("%s %q was modified concurrently", resource, id), Cause: err}
		case repoErr.IsUnavailable():
			return &Error{Kind: ErrUnavailable, Message: fmt.Sprintf("%s repository unavailable", resource), Cause: err}
		}
	}
	return err
}
