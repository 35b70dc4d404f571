//go:build integration

package firestore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	domain "github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/platform/firestore/firestoretest"
	"github.com/hanko-field/orderflow/internal/repositories"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := NewRegistry(firestoretest.NewProvider(t, "orderflow-test"))
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return reg
}

func TestRegistryStockAndVoucherGuards(t *testing.T) {
	reg := newTestRegistry(t)
	products, vouchers, _ := reg.Catalog()
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if err := products.Put(ctx, domain.Product{ID: "p-1", Name: "Mug", Price: 50_000, Stock: 3, Active: true}); err != nil {
		t.Fatalf("put product: %v", err)
	}
	if _, err := reg.Products().DecrementStock(ctx, "p-1", 4); err == nil {
		t.Fatalf("expected insufficient stock")
	} else {
		var stockErr *repositories.StockError
		if !errors.As(err, &stockErr) || stockErr.Available != 3 {
			t.Fatalf("expected stock error with available 3, got %v", err)
		}
	}

	// Staged writes must be visible to later reads of the same transaction.
	err := reg.RunInTx(ctx, func(txCtx context.Context) error {
		if _, err := reg.Products().DecrementStock(txCtx, "p-1", 2); err != nil {
			return err
		}
		product, err := reg.Products().FindByID(txCtx, "p-1")
		if err != nil {
			return err
		}
		if product.Stock != 1 {
			t.Errorf("expected staged stock 1, got %d", product.Stock)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}

	sentinel := errors.New("abort")
	err = reg.RunInTx(ctx, func(txCtx context.Context) error {
		if _, err := reg.Products().DecrementStock(txCtx, "p-1", 1); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected callback error unchanged, got %v", err)
	}
	product, err := reg.Products().FindByID(ctx, "p-1")
	if err != nil {
		t.Fatalf("find product: %v", err)
	}
	if product.Stock != 1 {
		t.Fatalf("expected rollback to keep stock 1, got %d", product.Stock)
	}

	voucher := domain.Voucher{
		ID:         "v-1",
		Code:       "once",
		Rule:       domain.DiscountRule{Scope: domain.DiscountScopeOrder, Kind: domain.DiscountKindAmount, Value: 10_000},
		Window:     domain.Window{Status: domain.DiscountStatusApproved, IsActive: true},
		UsageLimit: 1,
	}
	if err := vouchers.Put(ctx, voucher); err != nil {
		t.Fatalf("put voucher: %v", err)
	}
	found, err := reg.Vouchers().FindByCode(ctx, "Once")
	if err != nil || found.ID != "v-1" {
		t.Fatalf("expected case-insensitive lookup, got %+v %v", found, err)
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, customer := range []string{"cust-a", "cust-b"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = reg.Vouchers().IncrementUsage(ctx, "v-1", customer)
		}()
	}
	wg.Wait()
	succeeded := 0
	for _, err := range errs {
		var usageErr *repositories.VoucherUsageError
		switch {
		case err == nil:
			succeeded++
		case errors.As(err, &usageErr):
		default:
			t.Fatalf("unexpected usage error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly one usage to succeed, got %d", succeeded)
	}
}

func TestRegistryOrdersAuditAndPaging(t *testing.T) {
	reg := newTestRegistry(t)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, id := range []string{"ord_a", "ord_b", "ord_c"} {
		order := domain.Order{
			ID:            id,
			CustomerID:    "cust-1",
			Items:         []domain.OrderItem{{ProductID: "p-1", Name: "Mug", UnitPrice: 50_000, Quantity: 1, LineTotal: 50_000}},
			Currency:      "VND",
			Subtotal:      50_000,
			TotalAmount:   50_000,
			PaymentMethod: domain.PaymentMethodCOD,
			PaymentStatus: domain.PaymentStatusUnpaid,
			Status:        domain.OrderStatusCreated,
			CreatedAt:     base.Add(time.Duration(i) * time.Minute),
			UpdatedAt:     base.Add(time.Duration(i) * time.Minute),
		}
		if err := reg.Orders().Insert(ctx, order); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}
	if err := reg.Orders().Insert(ctx, domain.Order{ID: "ord_a", CreatedAt: base}); err == nil {
		t.Fatalf("expected duplicate insert to fail")
	}

	updated, err := reg.Orders().Mutate(ctx, "ord_a", func(order *domain.Order) error {
		order.Status = domain.OrderStatusConfirmed
		return nil
	})
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if updated.Version != 2 || updated.Status != domain.OrderStatusConfirmed {
		t.Fatalf("unexpected mutate result: version %d status %s", updated.Version, updated.Status)
	}

	first, err := reg.Orders().List(ctx, repositories.OrderListFilter{CustomerID: "cust-1", Pagination: domain.Pagination{PageSize: 2}})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(first.Items) != 2 || first.Items[0].ID != "ord_c" || first.NextPageToken == "" {
		t.Fatalf("unexpected first page: %+v", first)
	}
	second, err := reg.Orders().List(ctx, repositories.OrderListFilter{CustomerID: "cust-1", Pagination: domain.Pagination{PageSize: 2, PageToken: first.NextPageToken}})
	if err != nil {
		t.Fatalf("list page 2: %v", err)
	}
	if len(second.Items) != 1 || second.Items[0].ID != "ord_a" || second.NextPageToken != "" {
		t.Fatalf("unexpected second page: %+v", second)
	}

	for i, action := range []string{"order.created", "order.confirm"} {
		entry := domain.AuditLogEntry{
			ID:         "aud_" + action,
			OrderID:    "ord_a",
			Action:     action,
			ToStatus:   domain.OrderStatusConfirmed,
			ActorID:    "staff-1",
			ActorRole:  domain.ActorRoleStaff,
			OccurredAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := reg.AuditLogs().Append(ctx, entry); err != nil {
			t.Fatalf("append audit: %v", err)
		}
	}
	entries, err := reg.AuditLogs().ListByOrder(ctx, "ord_a")
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(entries) != 2 || entries[0].Action != "order.created" {
		t.Fatalf("unexpected audit entries: %+v", entries)
	}

	notification := domain.PaymentNotification{TransID: "trans-1", OrderID: "ord_a", Amount: 50_000, Outcome: "paid", Applied: true, ReceivedAt: base}
	if err := reg.PaymentNotifications().Save(ctx, notification); err != nil {
		t.Fatalf("save notification: %v", err)
	}
	stored, err := reg.PaymentNotifications().FindByTransID(ctx, "trans-1")
	if err != nil || !stored.Applied || stored.OrderID != "ord_a" {
		t.Fatalf("unexpected stored notification: %+v %v", stored, err)
	}
}
