package services

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	domain "github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/platform/textutil"
	"github.com/hanko-field/orderflow/internal/repositories"
)

const (
	maxReturnReasonLength      = 500
	maxReturnDescriptionLength = 2000
	maxEvidenceFiles           = 10
	defaultEvidenceURLTTL      = 15 * time.Minute
	evidencePrefix             = "returns"
)

var evidenceContentTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/heic": ".heic",
	"video/mp4":  ".mp4",
}

// returnStageOwner maps each return stage to the role allowed to advance or reject it.
var returnStageOwner = map[domain.OrderStatus]domain.ActorRole{
	domain.OrderStatusReturnRequested:      domain.ActorRoleSupport,
	domain.OrderStatusReturnCSConfirmed:    domain.ActorRoleStaff,
	domain.OrderStatusReturnStaffConfirmed: domain.ActorRoleAdmin,
}

// ReturnServiceDeps wires the return workflow.
type ReturnServiceDeps struct {
	Orders       repositories.OrderRepository
	AuditLogs    repositories.AuditLogRepository
	UnitOfWork   repositories.UnitOfWork
	Events       OrderEventPublisher
	Evidence     EvidenceURLSigner
	ReturnWindow time.Duration
	EvidenceTTL  time.Duration
	Clock        func() time.Time
	IDGenerator  func() string
	Logger       func(ctx context.Context, event string, fields map[string]any)
}

type returnService struct {
	orders      repositories.OrderRepository
	lifecycle   *lifecycle
	evidence    EvidenceURLSigner
	window      time.Duration
	evidenceTTL time.Duration
}

// NewReturnService constructs the return workflow service.
func NewReturnService(deps ReturnServiceDeps) (ReturnService, error) {
	if deps.Orders == nil {
		return nil, errors.New("return service: order repository is required")
	}
	ttl := deps.EvidenceTTL
	if ttl <= 0 {
		ttl = defaultEvidenceURLTTL
	}
	return &returnService{
		orders:      deps.Orders,
		lifecycle:   newLifecycle(deps.Orders, deps.AuditLogs, deps.UnitOfWork, deps.Events, deps.Clock, deps.IDGenerator, deps.Logger),
		evidence:    deps.Evidence,
		window:      deps.ReturnWindow,
		evidenceTTL: ttl,
	}, nil
}

// RequestReturn opens a return on a delivered order owned by the customer.
func (s *returnService) RequestReturn(ctx context.Context, cmd RequestReturnCommand) (Order, error) {
	if err := requireRole(cmd.Actor, domain.ActorRoleCustomer); err != nil {
		return Order{}, err
	}
	reason := textutil.SanitizePlainText(cmd.Reason, maxReturnReasonLength)
	if reason == "" {
		return Order{}, validationError("return reason is required")
	}
	description := textutil.SanitizePlainText(cmd.Description, maxReturnDescriptionLength)
	if len(cmd.EvidencePaths) > maxEvidenceFiles {
		return Order{}, validationError("at most %d evidence files are allowed", maxEvidenceFiles)
	}

	return s.lifecycle.apply(ctx, cmd.OrderID, cmd.Actor, "returns.request", func(order *domain.Order, now time.Time) ([]orderChange, error) {
		if order.CustomerID != cmd.Actor.ID {
			return nil, notFoundError("order", order.ID)
		}
		if !CanTransition(order.Status, domain.OrderStatusReturnRequested) {
			return nil, transitionError(order.Status, domain.OrderStatusReturnRequested)
		}
		if s.window > 0 && order.DeliveredAt != nil && now.After(order.DeliveredAt.Add(s.window)) {
			return nil, newError(ErrInvalidOrderTransition, "return window has elapsed", map[string]any{
				"from":         string(order.Status),
				"to":           string(domain.OrderStatusReturnRequested),
				"returnWindow": s.window.String(),
			})
		}
		if cmd.RequestedAmount <= 0 || cmd.RequestedAmount > order.TotalAmount {
			return nil, refundAmountError("requested amount must be between 1 and the order total", map[string]any{
				"requestedAmount": cmd.RequestedAmount,
				"totalAmount":     order.TotalAmount,
			})
		}
		evidence, err := evidencePathsFor(order.ID, cmd.EvidencePaths)
		if err != nil {
			return nil, err
		}
		at := now
		order.Return = &domain.ReturnRecord{
			Reason:          reason,
			Description:     description,
			RequestedAmount: cmd.RequestedAmount,
			EvidencePaths:   evidence,
			RequestedAt:     &at,
		}
		return []orderChange{{
			To:       domain.OrderStatusReturnRequested,
			Action:   "return.request",
			Reason:   reason,
			Metadata: map[string]any{"requestedAmount": cmd.RequestedAmount},
		}}, nil
	})
}

// SupportConfirm is the customer support triage step.
func (s *returnService) SupportConfirm(ctx context.Context, cmd ReturnStageCommand) (Order, error) {
	note := textutil.SanitizePlainText(cmd.Note, maxReturnReasonLength)
	return s.advance(ctx, cmd.OrderID, cmd.Actor, domain.OrderStatusReturnCSConfirmed, "returns.support_confirm", func(order *domain.Order, now time.Time) (orderChange, error) {
		at := now
		order.Return.SupportConfirmedAt = &at
		return orderChange{Action: "return.support_confirm", Reason: note}, nil
	})
}

// StaffInspect records the physical inspection result and inspected amount.
func (s *returnService) StaffInspect(ctx context.Context, cmd StaffInspectCommand) (Order, error) {
	result := textutil.SanitizePlainText(cmd.InspectionResult, maxReturnReasonLength)
	if result == "" {
		return Order{}, validationError("inspection result is required")
	}
	return s.advance(ctx, cmd.OrderID, cmd.Actor, domain.OrderStatusReturnStaffConfirmed, "returns.staff_inspect", func(order *domain.Order, now time.Time) (orderChange, error) {
		if cmd.InspectedAmount < 0 || cmd.InspectedAmount > order.Return.RequestedAmount {
			return orderChange{}, refundAmountError("inspected amount must be between 0 and the requested amount", map[string]any{
				"inspectedAmount": cmd.InspectedAmount,
				"requestedAmount": order.Return.RequestedAmount,
			})
		}
		at := now
		order.Return.InspectionResult = result
		order.Return.InspectedAmount = cmd.InspectedAmount
		order.Return.StaffConfirmedAt = &at
		return orderChange{
			Action:   "return.staff_inspect",
			Reason:   result,
			Metadata: map[string]any{"inspectedAmount": cmd.InspectedAmount},
		}, nil
	})
}

// AdminRefund settles the refund. The confirmed amount may not exceed what was paid minus
// the penalty and the second shipping fee.
func (s *returnService) AdminRefund(ctx context.Context, cmd AdminRefundCommand) (Order, error) {
	return s.advance(ctx, cmd.OrderID, cmd.Actor, domain.OrderStatusRefunded, "returns.admin_refund", func(order *domain.Order, now time.Time) (orderChange, error) {
		details := map[string]any{
			"confirmedAmount":   cmd.ConfirmedAmount,
			"penalty":           cmd.Penalty,
			"secondShippingFee": cmd.SecondShippingFee,
		}
		if cmd.ConfirmedAmount < 0 || cmd.Penalty < 0 || cmd.SecondShippingFee < 0 {
			return orderChange{}, refundAmountError("refund amounts must not be negative", details)
		}
		if cmd.Penalty > order.TotalAmount || cmd.SecondShippingFee > order.TotalAmount {
			return orderChange{}, refundAmountError("deductions must not exceed the order total", details)
		}
		limit := RefundLimit(*order, cmd.Penalty, cmd.SecondShippingFee)
		details["limit"] = limit
		if cmd.ConfirmedAmount > limit {
			return orderChange{}, refundAmountError(fmt.Sprintf("confirmed amount %d exceeds refundable %d", cmd.ConfirmedAmount, limit), details)
		}
		at := now
		order.Return.ConfirmedAmount = cmd.ConfirmedAmount
		order.Return.ConfirmedPenalty = cmd.Penalty
		order.Return.ConfirmedSecondShippingFee = cmd.SecondShippingFee
		order.Return.RefundedAt = &at
		return orderChange{Action: "return.refund", Metadata: details}, nil
	})
}

// Reject ends the return at the current stage. Only the role that owns the stage may reject.
func (s *returnService) Reject(ctx context.Context, cmd RejectReturnCommand) (Order, error) {
	reason := textutil.SanitizePlainText(cmd.Reason, maxReturnReasonLength)
	if reason == "" {
		return Order{}, validationError("rejection reason is required")
	}
	return s.advance(ctx, cmd.OrderID, cmd.Actor, domain.OrderStatusReturnRejected, "returns.reject", func(order *domain.Order, now time.Time) (orderChange, error) {
		at := now
		order.Return.RejectionReason = reason
		order.Return.RejectionSource = cmd.Actor.Role
		order.Return.RejectedAt = &at
		return orderChange{
			Action:   "return.reject",
			Reason:   reason,
			Metadata: map[string]any{"source": string(cmd.Actor.Role)},
		}, nil
	})
}

// EvidenceUploadURL issues a signed upload URL under the order's evidence prefix.
func (s *returnService) EvidenceUploadURL(ctx context.Context, cmd EvidenceUploadCommand) (EvidenceUpload, error) {
	if s.evidence == nil {
		return EvidenceUpload{}, newError(ErrUnavailable, "evidence uploads are not configured", nil)
	}
	if err := requireRole(cmd.Actor, domain.ActorRoleCustomer); err != nil {
		return EvidenceUpload{}, err
	}
	contentType := strings.ToLower(strings.TrimSpace(cmd.ContentType))
	ext, ok := evidenceContentTypes[contentType]
	if !ok {
		return EvidenceUpload{}, validationError("unsupported evidence content type %q", cmd.ContentType)
	}
	order, err := s.orders.FindByID(ctx, strings.TrimSpace(cmd.OrderID))
	if err != nil {
		return EvidenceUpload{}, mapRepositoryError(err, "order", cmd.OrderID)
	}
	if order.CustomerID != cmd.Actor.ID {
		return EvidenceUpload{}, notFoundError("order", order.ID)
	}
	if order.Status != domain.OrderStatusDelivered && order.Status != domain.OrderStatusReturnRequested {
		return EvidenceUpload{}, transitionError(order.Status, domain.OrderStatusReturnRequested)
	}

	object := path.Join(evidencePrefix, order.ID, strings.ToLower(s.lifecycle.newID())+ext)
	url, err := s.evidence.SignedUploadURL(ctx, object, contentType, s.evidenceTTL)
	if err != nil {
		return EvidenceUpload{}, externalServiceError("object storage", err)
	}
	return EvidenceUpload{
		ObjectPath: object,
		UploadURL:  url,
		ExpiresAt:  s.lifecycle.clock().Add(s.evidenceTTL),
	}, nil
}

// advance moves the return to target after checking that the actor owns the current stage.
func (s *returnService) advance(ctx context.Context, orderID string, actor Actor, target domain.OrderStatus, span string, fn func(order *domain.Order, now time.Time) (orderChange, error)) (Order, error) {
	return s.lifecycle.apply(ctx, orderID, actor, span, func(order *domain.Order, now time.Time) ([]orderChange, error) {
		owner, inReturn := returnStageOwner[order.Status]
		if !inReturn || owner != actor.Role || !CanTransition(order.Status, target) || order.Return == nil {
			return nil, transitionError(order.Status, target)
		}
		change, err := fn(order, now)
		if err != nil {
			return nil, err
		}
		change.To = target
		return []orderChange{change}, nil
	})
}

// RefundLimit returns max(0, totalPaid - penalty - secondShippingFee).
func RefundLimit(order domain.Order, penalty, secondShippingFee int64) int64 {
	paid := int64(0)
	if order.Paid {
		paid = order.TotalAmount
	}
	// Deductions saturate at zero; subtracting them in one expression can wrap.
	penalty, secondShippingFee = max(penalty, 0), max(secondShippingFee, 0)
	if penalty >= paid {
		return 0
	}
	rest := paid - penalty
	if secondShippingFee >= rest {
		return 0
	}
	return rest - secondShippingFee
}

func refundAmountError(message string, details map[string]any) error {
	return newError(ErrInvalidRefundAmount, message, details)
}

func evidencePathsFor(orderID string, paths []string) ([]string, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	prefix := evidencePrefix + "/" + orderID + "/"
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		clean := path.Clean(strings.TrimSpace(p))
		if !strings.HasPrefix(clean, prefix) {
			return nil, validationError("evidence path %q does not belong to order %s", p, orderID)
		}
		out = append(out, clean)
	}
	return out, nil
}
