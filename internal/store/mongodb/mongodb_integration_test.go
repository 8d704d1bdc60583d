package mongodb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"

	"tyrestock/backend/internal/domain"
	"tyrestock/backend/internal/store"
	"tyrestock/backend/internal/xid"
)

func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	uri := os.Getenv("TYRESTOCK_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("set TYRESTOCK_TEST_MONGO_URI to run mongodb integration test")
	}

	s, err := New(context.Background(), uri, fmt.Sprintf("tyrestock_test_%d", time.Now().UnixNano()))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.db.Drop(context.Background())
		_ = s.Close()
	})
	return s
}

func seedItem(t *testing.T, s *Store, stock int) domain.Item {
	t.Helper()
	now := time.Now().UTC()
	item := domain.Item{
		ID:              xid.New(),
		ItemCode:        "RT9001",
		Name:            "Integration Tyre",
		QuantityInStock: stock,
		PurchasePrice:   decimal.NewFromInt(100),
		RetailPrice:     decimal.NewFromInt(150),
		IsActive:        true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if _, err := s.CreateItem(context.Background(), item); err != nil {
		t.Fatalf("create item: %v", err)
	}
	return item
}

func saleOf(item domain.Item, qty int) domain.Sale {
	total := decimal.NewFromInt(int64(150 * qty))
	return domain.Sale{
		ID:         xid.New(),
		BillNumber: fmt.Sprintf("INV-IT-%s", xid.New()),
		Items: []domain.SaleLine{{
			Item:     item.ID,
			Quantity: qty,
			Price:    decimal.NewFromInt(150),
			Total:    total,
		}},
		Subtotal:      total,
		Total:         total,
		AmountPaid:    total,
		PaymentMethod: domain.PaymentCash,
		PaymentStatus: domain.PaymentStatusPaid,
		Cashier:       "integration",
		CreatedAt:     time.Now().UTC(),
	}
}

func TestCreateSaleDecrementsAndDeleteRestocks(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	item := seedItem(t, s, 10)

	sale := saleOf(item, 3)
	created, logs, err := s.CreateSale(ctx, sale)
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if created.Items[0].ItemCode != item.ItemCode {
		t.Fatalf("expected line snapshot of %s, got %+v", item.ItemCode, created.Items[0])
	}
	if len(logs) != 1 || logs[0].OldStock != 10 || logs[0].NewStock != 7 {
		t.Fatalf("expected one 10->7 log, got %+v", logs)
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

	_, _, err := s.CreateSale(ctx, saleOf(item, 3))
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	count, err := s.db.Collection(colSales).CountDocuments(ctx, bson.M{})
	if err != nil {
		t.Fatalf("count sales: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no sale persisted, got %d", count)
	}
}

func TestConcurrentSalesNeverOversell(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	item := seedItem(t, s, 5)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := s.CreateSale(ctx, saleOf(item, 1)); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	got, err := s.GetItemByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if succeeded != 5 || got.QuantityInStock != 0 {
		t.Fatalf("expected 5 sales and zero stock, got %d sales and stock %d", succeeded, got.QuantityInStock)
	}
}

func TestAdjustCustomerStatsDerivesLoyaltyPoints(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	customer := domain.Customer{ID: xid.New(), NIC: "901234567V", Name: "Nimal", CreatedAt: now, UpdatedAt: now}
	if _, err := s.CreateCustomer(ctx, customer); err != nil {
		t.Fatalf("create customer: %v", err)
	}

	updated, err := s.AdjustCustomerStats(ctx, customer.ID, domain.CustomerStatsDelta{Spent: decimal.NewFromInt(1250), Purchases: 1, At: now})
	if err != nil {
		t.Fatalf("adjust stats: %v", err)
	}
	if updated.PurchaseCount != 1 || updated.LoyaltyPoints != 12 || updated.LastPurchaseDate == nil {
		t.Fatalf("unexpected customer after stats update: %+v", updated)
	}
}
