package store

import (
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tyrestock/backend/internal/domain"
	"tyrestock/backend/internal/xid"
)

// ApplyStockChange mutates item according to change and reports the stock
// level before the change. It never lets the stock go negative.
func ApplyStockChange(item *domain.Item, change domain.StockChange) (int, error) {
	oldStock := item.QuantityInStock
	newStock := oldStock + change.Delta
	if newStock < 0 {
		return oldStock, fmt.Errorf("%w: %s has %d, requested %d", ErrInsufficientStock, item.ItemCode, oldStock, -change.Delta)
	}
	item.QuantityInStock = newStock
	if change.Location != nil {
		item.Location = *change.Location
	}
	if change.LowerLimit != nil {
		item.LowerLimit = *change.LowerLimit
	}
	if change.PurchasePrice != nil {
		item.PurchasePrice = *change.PurchasePrice
	}
	if change.RetailPrice != nil {
		item.RetailPrice = *change.RetailPrice
	}
	if change.Discount != nil {
		item.Discount = *change.Discount
	}
	item.UpdatedAt = change.At
	return oldStock, nil
}

// NewStockEditLog snapshots the difference between two versions of an item.
// Price fields are only recorded when they changed.
func NewStockEditLog(before domain.Item, after domain.Item, changeType string, reason string, editedBy string, at time.Time) domain.StockEditLog {
	entry := domain.StockEditLog{
		ID:         xid.New(),
		Item:       after.ID,
		ItemCode:   after.ItemCode,
		ItemName:   after.Name,
		ChangeType: changeType,
		OldStock:   before.QuantityInStock,
		NewStock:   after.QuantityInStock,
		Reason:     reason,
		EditedBy:   editedBy,
		CreatedAt:  at,
	}
	if !before.PurchasePrice.Equal(after.PurchasePrice) {
		entry.OldPurchasePrice, entry.NewPurchasePrice = decimalPtr(before.PurchasePrice), decimalPtr(after.PurchasePrice)
	}
	if !before.RetailPrice.Equal(after.RetailPrice) {
		entry.OldRetailPrice, entry.NewRetailPrice = decimalPtr(before.RetailPrice), decimalPtr(after.RetailPrice)
	}
	if !before.Discount.Equal(after.Discount) {
		entry.OldDiscount, entry.NewDiscount = decimalPtr(before.Discount), decimalPtr(after.Discount)
	}
	return entry
}

// NewStockPurchase records quantity units bought at the item's current purchase price.
func NewStockPurchase(item domain.Item, quantity int, supplier string, purchasedBy string, at time.Time) domain.StockPurchase {
	return domain.StockPurchase{
		ID:                 xid.New(),
		Item:               item.ID,
		ItemCode:           item.ItemCode,
		ItemName:           item.Name,
		Quantity:           quantity,
		PurchasePrice:      item.PurchasePrice,
		TotalPurchaseValue: item.PurchasePrice.Mul(decimal.NewFromInt(int64(quantity))),
		Supplier:           supplier,
		PurchasedBy:        purchasedBy,
		CreatedAt:          at,
	}
}

// SnapshotSaleLine copies the item fields a sale keeps for history.
func SnapshotSaleLine(line *domain.SaleLine, item domain.Item) {
	line.ItemCode = item.ItemCode
	line.Name = item.Name
	line.Category = item.Category
	line.CostPrice = item.PurchasePrice
}

// SaleLogReason is the reason text written on stock logs created by a sale.
func SaleLogReason(billNumber string, reversal bool) string {
	if reversal {
		return "sale deleted: " + billNumber
	}
	return "sale: " + billNumber
}

// ApplyCustomerStats adds delta to the customer's counters and recomputes loyalty points.
func ApplyCustomerStats(customer *domain.Customer, delta domain.CustomerStatsDelta) {
	customer.TotalSpent = customer.TotalSpent.Add(delta.Spent)
	if customer.TotalSpent.Sign() < 0 {
		customer.TotalSpent = decimal.Zero
	}
	customer.PurchaseCount += delta.Purchases
	if customer.PurchaseCount < 0 {
		customer.PurchaseCount = 0
	}
	if delta.Purchases > 0 {
		at := delta.At
		customer.LastPurchaseDate = &at
	}
	customer.LoyaltyPoints = domain.LoyaltyPointsFor(customer.TotalSpent)
	customer.UpdatedAt = delta.At
}

func decimalPtr(d decimal.Decimal) *decimal.Decimal {
	return &d
}

// NormalizeEmail trims and lower-cases an address and checks its syntax.
func NormalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: invalid email %q", ErrInvalidInput, raw)
	}
	return email, nil
}
