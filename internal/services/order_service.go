package services

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/repositories"
	"github.com/hanko-field/orderflow/internal/shipping"
)

const deliveredCarrierStatus = "delivered"

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	AuditLogs   repositories.AuditLogRepository
	Products    repositories.ProductRepository
	Vouchers    repositories.VoucherRepository
	UnitOfWork  repositories.UnitOfWork
	Carrier     ShippingCarrier
	Events      OrderEventPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders    repositories.OrderRepository
	products  repositories.ProductRepository
	vouchers  repositories.VoucherRepository
	carrier   ShippingCarrier
	lifecycle *lifecycle
	logger    func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	lc := newLifecycle(deps.Orders, deps.AuditLogs, deps.UnitOfWork, deps.Events, deps.Clock, deps.IDGenerator, deps.Logger)
	return &orderService{
		orders:    deps.Orders,
		products:  deps.Products,
		vouchers:  deps.Vouchers,
		carrier:   deps.Carrier,
		lifecycle: lc,
		logger:    lc.logger,
	}, nil
}

// Get returns the order. Customers only see their own orders; others are reported as not found.
func (s *orderService) Get(ctx context.Context, orderID string, actor Actor) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, validationError("order id is required")
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err, "order", orderID)
	}
	if actor.Role == domain.ActorRoleCustomer && order.CustomerID != actor.ID {
		return Order{}, notFoundError("order", orderID)
	}
	return order, nil
}

func (s *orderService) List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	filter.CustomerID = strings.TrimSpace(filter.CustomerID)
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, mapRepositoryError(err, "order", "")
	}
	return page, nil
}

// Transition applies a raw table transition requested by back office staff.
func (s *orderService) Transition(ctx context.Context, cmd TransitionCommand) (Order, error) {
	if err := requireRole(cmd.Actor, domain.ActorRoleStaff, domain.ActorRoleAdmin); err != nil {
		return Order{}, err
	}
	target := domain.OrderStatus(strings.ToUpper(strings.TrimSpace(string(cmd.Target))))
	if !slices.Contains(domain.AllOrderStatuses, target) {
		return Order{}, validationError("unknown order status %q", cmd.Target)
	}
	if target.IsReturnStage() || target == domain.OrderStatusRefunded || target == domain.OrderStatusReturnRejected {
		return Order{}, validationError("return states are managed by the return workflow")
	}
	if target == domain.OrderStatusCancelled {
		return s.Cancel(ctx, OrderActionCommand{OrderID: cmd.OrderID, Actor: cmd.Actor, Reason: cmd.Reason})
	}
	reason := strings.TrimSpace(cmd.Reason)
	return s.lifecycle.apply(ctx, cmd.OrderID, cmd.Actor, "orders.transition", func(order *domain.Order, _ time.Time) ([]orderChange, error) {
		if target == domain.OrderStatusPaid {
			// COD orders are released for shipping here; cash is collected on delivery.
			// Online orders become PAID only through a verified provider notification, which
			// also records the payment reference.
			if order.PaymentMethod != domain.PaymentMethodCOD {
				return nil, newError(ErrInvalidOrderTransition, "online payments are confirmed by the payment provider", map[string]any{
					"from":          string(order.Status),
					"to":            string(target),
					"paymentMethod": string(order.PaymentMethod),
				})
			}
			order.PaymentStatus = domain.PaymentStatusPending
		}
		return []orderChange{{To: target, Action: "order.transition", Reason: reason}}, nil
	})
}

// Confirm moves a CREATED order to CONFIRMED.
func (s *orderService) Confirm(ctx context.Context, cmd OrderActionCommand) (Order, error) {
	if err := requireRole(cmd.Actor, domain.ActorRoleStaff, domain.ActorRoleAdmin, domain.ActorRoleSystem); err != nil {
		return Order{}, err
	}
	return s.lifecycle.apply(ctx, cmd.OrderID, cmd.Actor, "orders.confirm", func(*domain.Order, time.Time) ([]orderChange, error) {
		return []orderChange{{To: domain.OrderStatusConfirmed, Action: "order.confirm", Reason: strings.TrimSpace(cmd.Reason)}}, nil
	})
}

// Cancel cancels an unpaid order. Its units go back to stock and its voucher redemption is
// released in the same transaction.
func (s *orderService) Cancel(ctx context.Context, cmd OrderActionCommand) (Order, error) {
	if err := requireRole(cmd.Actor, domain.ActorRoleCustomer, domain.ActorRoleStaff, domain.ActorRoleAdmin); err != nil {
		return Order{}, err
	}
	reason := strings.TrimSpace(cmd.Reason)
	var (
		restock []domain.Package
		voucher string
	)
	plan := func(order *domain.Order, _ time.Time) ([]orderChange, error) {
		if cmd.Actor.Role == domain.ActorRoleCustomer && order.CustomerID != cmd.Actor.ID {
			return nil, notFoundError("order", order.ID)
		}
		if order.Paid {
			return nil, transitionError(order.Status, domain.OrderStatusCancelled)
		}
		order.CancelReason = reason
		restock = quantitiesByProduct(order.Items)
		voucher = order.VoucherID
		return []orderChange{{To: domain.OrderStatusCancelled, Action: "order.cancel", Reason: reason}}, nil
	}
	returnStock := func(txCtx context.Context, _ domain.Order) error {
		if s.products == nil {
			return nil
		}
		for _, item := range restock {
			if _, err := s.products.IncrementStock(txCtx, item.ProductID, item.Quantity); err != nil {
				return mapRepositoryError(err, "product", item.ProductID)
			}
		}
		return nil
	}
	releaseVoucher := func(txCtx context.Context, order domain.Order) error {
		if voucher == "" {
			return nil
		}
		if s.vouchers == nil {
			return errors.New("order service: voucher repository is not configured")
		}
		if _, err := s.vouchers.DecrementUsage(txCtx, voucher, order.CustomerID); err != nil {
			return mapRepositoryError(err, "voucher", voucher)
		}
		return nil
	}
	return s.lifecycle.apply(ctx, cmd.OrderID, cmd.Actor, "orders.cancel", plan, returnStock, releaseVoucher)
}

// MarkShipped hands a PAID order to the carrier and records the tracking code.
func (s *orderService) MarkShipped(ctx context.Context, cmd OrderActionCommand) (Order, error) {
	if err := requireRole(cmd.Actor, domain.ActorRoleStaff, domain.ActorRoleAdmin); err != nil {
		return Order{}, err
	}
	if s.carrier == nil {
		return Order{}, errors.New("order service: shipping carrier is not configured")
	}
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, validationError("order id is required")
	}

	current, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err, "order", orderID)
	}
	if !CanTransition(current.Status, domain.OrderStatusShipped) {
		return Order{}, transitionError(current.Status, domain.OrderStatusShipped)
	}

	packages, err := s.packagesFor(ctx, current.Items)
	if err != nil {
		return Order{}, err
	}
	label, err := s.carrier.CreateShipment(ctx, shipping.ShipmentRequest{Order: current, Packages: packages})
	if err != nil {
		s.logger(ctx, "orders.shipment.failed", map[string]any{"orderId": orderID, "error": err.Error()})
		return Order{}, externalServiceError("shipping carrier", err)
	}

	order, err := s.lifecycle.apply(ctx, orderID, cmd.Actor, "orders.ship", func(order *domain.Order, now time.Time) ([]orderChange, error) {
		fee := label.Fee
		if fee.Total == 0 {
			fee.Total = order.ShippingFee
		}
		order.Shipment = &domain.Shipment{
			TrackingCode:   label.TrackingCode,
			Carrier:        fee.Carrier,
			ETA:            label.ETA,
			Fee:            fee,
			DeliveryStatus: "ready_to_pick",
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		return []orderChange{{
			To:       domain.OrderStatusShipped,
			Action:   "order.ship",
			Metadata: map[string]any{"trackingCode": label.TrackingCode},
		}}, nil
	})
	if err != nil {
		s.logger(ctx, "orders.shipment.orphaned", map[string]any{
			"orderId":      orderID,
			"trackingCode": label.TrackingCode,
			"error":        err.Error(),
		})
		return Order{}, err
	}
	return order, nil
}

// MarkDelivered moves a SHIPPED order to DELIVERED.
func (s *orderService) MarkDelivered(ctx context.Context, cmd OrderActionCommand) (Order, error) {
	if err := requireRole(cmd.Actor, domain.ActorRoleStaff, domain.ActorRoleAdmin, domain.ActorRoleSystem); err != nil {
		return Order{}, err
	}
	return s.lifecycle.apply(ctx, cmd.OrderID, cmd.Actor, "orders.deliver", func(order *domain.Order, now time.Time) ([]orderChange, error) {
		if order.Shipment != nil {
			order.Shipment.DeliveryStatus = deliveredCarrierStatus
			order.Shipment.UpdatedAt = now
		}
		if order.PaymentMethod == domain.PaymentMethodCOD {
			order.Paid = true
			order.PaymentStatus = domain.PaymentStatusPaid
		}
		return []orderChange{{To: domain.OrderStatusDelivered, Action: "order.deliver", Reason: strings.TrimSpace(cmd.Reason)}}, nil
	})
}

// UpdateDeliveryStatus applies a carrier status callback. "delivered" completes the shipment;
// other statuses are recorded on the shipment without a transition.
func (s *orderService) UpdateDeliveryStatus(ctx context.Context, cmd DeliveryStatusCommand) (Order, error) {
	status := strings.ToLower(strings.TrimSpace(cmd.Status))
	if status == "" {
		return Order{}, validationError("delivery status is required")
	}
	tracking := strings.TrimSpace(cmd.TrackingCode)
	system := domain.Actor{ID: "carrier", Role: domain.ActorRoleSystem}

	return s.lifecycle.apply(ctx, cmd.OrderID, system, "orders.delivery_status", func(order *domain.Order, now time.Time) ([]orderChange, error) {
		if order.Shipment == nil {
			return nil, transitionError(order.Status, domain.OrderStatusDelivered)
		}
		if tracking != "" && order.Shipment.TrackingCode != tracking {
			return nil, validationError("tracking code %q does not match order %s", tracking, order.ID)
		}
		if order.Shipment.DeliveryStatus == status {
			return nil, nil
		}
		order.Shipment.DeliveryStatus = status
		order.Shipment.UpdatedAt = now
		meta := map[string]any{"deliveryStatus": status}
		if status != deliveredCarrierStatus {
			return []orderChange{{Action: "shipment.status", Metadata: meta}}, nil
		}
		if order.PaymentMethod == domain.PaymentMethodCOD {
			order.Paid = true
			order.PaymentStatus = domain.PaymentStatusPaid
		}
		return []orderChange{{To: domain.OrderStatusDelivered, Action: "order.deliver", Metadata: meta}}, nil
	})
}

func (s *orderService) packagesFor(ctx context.Context, items []domain.OrderItem) ([]domain.Package, error) {
	packages := make([]domain.Package, 0, len(items))
	var products map[string]domain.Product
	if s.products != nil {
		ids := make([]string, 0, len(items))
		for _, item := range items {
			ids = append(ids, item.ProductID)
		}
		found, err := s.products.FindByIDs(ctx, ids)
		if err != nil {
			return nil, mapRepositoryError(err, "product", "")
		}
		products = found
	}
	for _, item := range items {
		pkg := domain.Package{ProductID: item.ProductID, Quantity: item.Quantity}
		if product, ok := products[item.ProductID]; ok {
			pkg.Dimensions = product.Dimensions
		}
		packages = append(packages, pkg)
	}
	return packages, nil
}

func requireRole(actor Actor, roles ...domain.ActorRole) error {
	if slices.Contains(roles, actor.Role) {
		return nil
	}
	return newError(ErrForbidden, "actor role is not permitted for this operation", map[string]any{
		"role": string(actor.Role),
	})
}

func defaultIDGenerator() string {
	return ulid.Make().String()
}
