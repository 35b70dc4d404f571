package services

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/hanko-field/orderflow/internal/repositories"
)

// AuditLogServiceDeps bundles constructor inputs for the audit trail reader.
type AuditLogServiceDeps struct {
	Repository repositories.AuditLogRepository
	Orders     repositories.OrderRepository
}

type auditLogService struct {
	repo   repositories.AuditLogRepository
	orders repositories.OrderRepository
}

// NewAuditLogService creates an audit trail reader backed by the supplied repository.
func NewAuditLogService(deps AuditLogServiceDeps) (AuditLogService, error) {
	if deps.Repository == nil {
		return nil, errors.New("audit log service: repository is required")
	}
	return &auditLogService{repo: deps.Repository, orders: deps.Orders}, nil
}

// ListByOrder returns the order's entries oldest first. Unknown orders are reported as not found
// rather than as an empty trail.
func (s *auditLogService) ListByOrder(ctx context.Context, orderID string) ([]AuditLogEntry, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, validationError("order id is required")
	}
	if s.orders != nil {
		if _, err := s.orders.FindByID(ctx, orderID); err != nil {
			return nil, mapRepositoryError(err, "order", orderID)
		}
	}
	entries, err := s.repo.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, mapRepositoryError(err, "audit log", orderID)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].OccurredAt.Before(entries[j].OccurredAt)
	})
	return entries, nil
}
