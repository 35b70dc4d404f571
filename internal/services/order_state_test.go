package services

import (
	"testing"

	"github.com/hanko-field/orderflow/internal/domain"
)

func TestCanTransitionAllPairs(t *testing.T) {
	edges := [][2]domain.OrderStatus{
		{domain.OrderStatusCreated, domain.OrderStatusConfirmed},
		{domain.OrderStatusCreated, domain.OrderStatusCancelled},
		{domain.OrderStatusConfirmed, domain.OrderStatusPaid},
		{domain.OrderStatusConfirmed, domain.OrderStatusCancelled},
		{domain.OrderStatusPaid, domain.OrderStatusShipped},
		{domain.OrderStatusShipped, domain.OrderStatusDelivered},
		{domain.OrderStatusDelivered, domain.OrderStatusReturnRequested},
		{domain.OrderStatusReturnRequested, domain.OrderStatusReturnCSConfirmed},
		{domain.OrderStatusReturnRequested, domain.OrderStatusReturnRejected},
		{domain.OrderStatusReturnCSConfirmed, domain.OrderStatusReturnStaffConfirmed},
		{domain.OrderStatusReturnCSConfirmed, domain.OrderStatusReturnRejected},
		{domain.OrderStatusReturnStaffConfirmed, domain.OrderStatusRefunded},
		{domain.OrderStatusReturnStaffConfirmed, domain.OrderStatusReturnRejected},
	}
	legal := make(map[[2]domain.OrderStatus]bool, len(edges))
	for _, edge := range edges {
		legal[edge] = true
	}

	for _, from := range domain.AllOrderStatuses {
		for _, to := range domain.AllOrderStatuses {
			want := legal[[2]domain.OrderStatus{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestTerminalStatesHaveNoExits(t *testing.T) {
	for _, status := range []domain.OrderStatus{domain.OrderStatusCancelled, domain.OrderStatusRefunded, domain.OrderStatusReturnRejected} {
		for _, to := range domain.AllOrderStatuses {
			if CanTransition(status, to) {
				t.Fatalf("expected %s to be terminal, but it can move to %s", status, to)
			}
		}
	}
}

func TestCanTransitionRejectsUnknownStatus(t *testing.T) {
	if CanTransition("SHIPPING", domain.OrderStatusDelivered) {
		t.Fatalf("expected unknown status to have no transitions")
	}
}
