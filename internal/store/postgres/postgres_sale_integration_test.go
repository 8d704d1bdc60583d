package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tyrestock/backend/internal/domain"
	"tyrestock/backend/internal/store"
	"tyrestock/backend/internal/xid"
)

func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("TYRESTOCK_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set TYRESTOCK_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func seedItem(t *testing.T, s *Store, stock int) domain.Item {
	t.Helper()
	ctx := context.Background()
	stamp := time.Now().UnixNano()
	now := time.Now().UTC()
	item := domain.Item{
		ID:              xid.New(),
		ItemCode:        fmt.Sprintf("IT%d", stamp),
		Name:            fmt.Sprintf("Integration Tyre %d", stamp),
		QuantityInStock: stock,
		PurchasePrice:   decimal.NewFromInt(100),
		RetailPrice:     decimal.NewFromInt(150),
		IsActive:        true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if _, err := s.CreateItem(ctx, item); err != nil {
		t.Fatalf("create item: %v", err)
	}
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM stock_edit_logs WHERE item_id = $1`, item.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM stock_purchases WHERE item_id = $1`, item.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM items WHERE id = $1`, item.ID)
	})
	return item
}

func TestCreateSaleDecrementsAndDeleteRestocks(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	item := seedItem(t, s, 10)

	sale := domain.Sale{
		ID:         xid.New(),
		BillNumber: fmt.Sprintf("INV-IT-%d", time.Now().UnixNano()),
		Items: []domain.SaleLine{{
			Item:     item.ID,
			Quantity: 3,
			Price:    decimal.NewFromInt(150),
			Total:    decimal.NewFromInt(450),
		}},
		Subtotal:      decimal.NewFromInt(450),
		Total:         decimal.NewFromInt(450),
		AmountPaid:    decimal.NewFromInt(450),
		PaymentMethod: domain.PaymentCash,
		PaymentStatus: domain.PaymentStatusPaid,
		Cashier:       "integration",
		CreatedAt:     time.Now().UTC(),
	}
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, sale.ID)
	})

	_, logs, err := s.CreateSale(ctx, sale)
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if len(logs) != 1 || logs[0].OldStock-logs[0].NewStock != 3 {
		t.Fatalf("expected one log with a 3 unit decrement, got %+v", logs)
	}

	got, err := s.GetItemByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if got.QuantityInStock != 7 {
		t.Fatalf("expected stock 7 after sale, got %d", got.QuantityInStock)
	}

	if _, _, err := s.DeleteSale(ctx, sale.ID, "integration"); err != nil {
		t.Fatalf("delete sale: %v", err)
	}
	got, err = s.GetItemByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if got.QuantityInStock != 10 {
		t.Fatalf("expected stock 10 after delete restock, got %d", got.QuantityInStock)
	}
}

func TestCreateSaleRejectsInsufficientStock(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	item := seedItem(t, s, 2)

	_, _, err := s.CreateSale(ctx, domain.Sale{
		ID:         xid.New(),
		BillNumber: fmt.Sprintf("INV-IT-%d", time.Now().UnixNano()),
		Items: []domain.SaleLine{{
			Item:     item.ID,
			Quantity: 3,
			Price:    decimal.NewFromInt(150),
			Total:    decimal.NewFromInt(450),
		}},
		PaymentMethod: domain.PaymentCash,
		PaymentStatus: domain.PaymentStatusPaid,
		Cashier:       "integration",
		CreatedAt:     time.Now().UTC(),
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	got, err := s.GetItemByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if got.QuantityInStock != 2 {
		t.Fatalf("expected stock untouched at 2, got %d", got.QuantityInStock)
	}
}
