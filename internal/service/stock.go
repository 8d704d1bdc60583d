package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"tyrestock/backend/internal/domain"
	"tyrestock/backend/internal/spreadsheet"
	"tyrestock/backend/internal/store"
)

const (
	operationAdd      = "add"
	operationSubtract = "subtract"
)

// UpdateStockByCode adds or removes stock and optionally updates location,
// reorder threshold and prices, as one atomic store step.
func (s *Service) UpdateStockByCode(ctx context.Context, itemCode string, req domain.StockUpdateRequest) (domain.StockAdjustment, error) {
	actor, err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager)
	if err != nil {
		return domain.StockAdjustment{}, err
	}
	item, err := s.GetItemByCode(ctx, itemCode)
	if err != nil {
		return domain.StockAdjustment{}, err
	}

	if req.Quantity < 0 {
		return domain.StockAdjustment{}, fmt.Errorf("%w: quantity must not be negative, use operation=subtract", store.ErrInvalidInput)
	}
	delta := req.Quantity
	switch strings.ToLower(strings.TrimSpace(req.Operation)) {
	case "", operationAdd:
	case operationSubtract:
		delta = -req.Quantity
	default:
		return domain.StockAdjustment{}, fmt.Errorf("%w: operation must be add or subtract", store.ErrInvalidInput)
	}

	purchase, retail, discount := item.PurchasePrice, item.RetailPrice, item.Discount
	if req.PurchasePrice != nil {
		purchase = *req.PurchasePrice
	}
	if req.RetailPrice != nil {
		retail = *req.RetailPrice
	}
	if req.Discount != nil {
		discount = *req.Discount
	}
	if err := validatePrices(purchase, retail, discount); err != nil {
		return domain.StockAdjustment{}, err
	}
	if req.LowerLimit != nil && *req.LowerLimit < 0 {
		return domain.StockAdjustment{}, fmt.Errorf("%w: lowerLimit must not be negative", store.ErrInvalidInput)
	}

	changeType := domain.StockChangeEdit
	switch {
	case delta > 0:
		changeType = domain.StockChangeAdd
	case delta < 0:
		changeType = domain.StockChangeSubtract
	}
	if delta == 0 && req.Location == nil && req.LowerLimit == nil && req.PurchasePrice == nil && req.RetailPrice == nil && req.Discount == nil {
		return domain.StockAdjustment{}, fmt.Errorf("%w: nothing to update", store.ErrInvalidInput)
	}

	adjusted, err := s.repo.AdjustStock(ctx, domain.StockChange{
		ItemCode:      item.ItemCode,
		Delta:         delta,
		Location:      trimmedPtr(req.Location),
		LowerLimit:    req.LowerLimit,
		PurchasePrice: req.PurchasePrice,
		RetailPrice:   req.RetailPrice,
		Discount:      req.Discount,
		Supplier:      strings.TrimSpace(req.Supplier),
		Reason:        strings.TrimSpace(req.Reason),
		ChangeType:    changeType,
		EditedBy:      actor.Username,
		At:            s.now(),
	})
	if err != nil {
		return domain.StockAdjustment{}, err
	}

	s.logActivity(ctx, "stock_update", "item", adjusted.Item.ID,
		fmt.Sprintf("code=%s,delta=%d,stock=%d->%d", adjusted.Item.ItemCode, delta, adjusted.Log.OldStock, adjusted.Log.NewStock))
	return *adjusted, nil
}

// BulkCreateItems creates items row by row. A bad row is reported and the
// rest of the batch continues.
func (s *Service) BulkCreateItems(ctx context.Context, rows []domain.BulkItemRow) (domain.BulkResult, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager); err != nil {
		return domain.BulkResult{}, err
	}
	if len(rows) == 0 {
		return domain.BulkResult{}, fmt.Errorf("%w: no rows", store.ErrInvalidInput)
	}

	result := domain.BulkResult{Successful: []domain.Item{}, Failed: []domain.BulkFailure{}}
	for i, row := range rows {
		item, err := s.CreateItem(ctx, domain.ItemCreateRequest{
			Name:          row.Name,
			Category:      row.Category,
			Brand:         row.Brand,
			Size:          row.Size,
			Location:      row.Location,
			PurchasePrice: row.PurchasePrice,
			RetailPrice:   row.RetailPrice,
			Discount:      row.Discount,
			LowerLimit:    row.LowerLimit,
			InitialStock:  row.InitialStock,
		})
		if err != nil {
			result.Failed = append(result.Failed, domain.BulkFailure{Row: rowNumber(row.Row, i), Key: row.Name, Error: err.Error()})
			continue
		}
		result.Successful = append(result.Successful, item)
	}
	return result, nil
}

// BulkUpdateStock applies stock rows one by one through UpdateStockByCode.
func (s *Service) BulkUpdateStock(ctx context.Context, rows []domain.BulkStockRow) (domain.BulkResult, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager); err != nil {
		return domain.BulkResult{}, err
	}
	if len(rows) == 0 {
		return domain.BulkResult{}, fmt.Errorf("%w: no rows", store.ErrInvalidInput)
	}

	result := domain.BulkResult{Successful: []domain.Item{}, Failed: []domain.BulkFailure{}}
	for i, row := range rows {
		adjusted, err := s.UpdateStockByCode(ctx, row.ItemCode, domain.StockUpdateRequest{
			Quantity:      row.Quantity,
			Operation:     row.Operation,
			Location:      row.Location,
			LowerLimit:    row.LowerLimit,
			PurchasePrice: row.PurchasePrice,
			RetailPrice:   row.RetailPrice,
			Discount:      row.Discount,
			Supplier:      row.Supplier,
			Reason:        "bulk stock update",
		})
		if err != nil {
			result.Failed = append(result.Failed, domain.BulkFailure{Row: rowNumber(row.Row, i), Key: row.ItemCode, Error: err.Error()})
			continue
		}
		result.Successful = append(result.Successful, adjusted.Item)
	}
	return result, nil
}

func rowNumber(sheetRow int, index int) int {
	if sheetRow > 0 {
		return sheetRow
	}
	return index + 1
}

// ImportItems reads an uploaded workbook and bulk-creates its rows. Rows the
// parser rejected are reported alongside rows the import rejected.
func (s *Service) ImportItems(ctx context.Context, r io.Reader) (domain.BulkResult, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager); err != nil {
		return domain.BulkResult{}, err
	}
	rows, parseFailures, err := spreadsheet.ParseItemRows(r)
	if err != nil {
		return domain.BulkResult{}, fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
	}
	result := domain.BulkResult{Successful: []domain.Item{}, Failed: parseFailures}
	if len(rows) > 0 {
		imported, err := s.BulkCreateItems(ctx, rows)
		if err != nil {
			return domain.BulkResult{}, err
		}
		result.Successful = imported.Successful
		result.Failed = append(result.Failed, imported.Failed...)
	}
	s.logActivity(ctx, "item_import", "item", "", fmt.Sprintf("created=%d,failed=%d", len(result.Successful), len(result.Failed)))
	return result, nil
}

func (s *Service) ImportStock(ctx context.Context, r io.Reader) (domain.BulkResult, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager); err != nil {
		return domain.BulkResult{}, err
	}
	rows, parseFailures, err := spreadsheet.ParseStockRows(r)
	if err != nil {
		return domain.BulkResult{}, fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
	}
	result := domain.BulkResult{Successful: []domain.Item{}, Failed: parseFailures}
	if len(rows) > 0 {
		updated, err := s.BulkUpdateStock(ctx, rows)
		if err != nil {
			return domain.BulkResult{}, err
		}
		result.Successful = updated.Successful
		result.Failed = append(result.Failed, updated.Failed...)
	}
	return result, nil
}

func (s *Service) ExportItems(ctx context.Context, filter domain.ItemFilter) (*bytes.Buffer, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager); err != nil {
		return nil, err
	}
	items, err := s.ListItems(ctx, filter)
	if err != nil {
		return nil, err
	}
	names, err := s.categoryNames(ctx)
	if err != nil {
		return nil, err
	}
	return spreadsheet.ExportItems(items, names)
}

// ListStockPurchases returns purchases between the inclusive dates. Without
// dates the last 30 days are returned.
func (s *Service) ListStockPurchases(ctx context.Context, fromDate string, toDate string, limit int) ([]domain.StockPurchase, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager); err != nil {
		return nil, err
	}
	from, to, err := s.dateRange(fromDate, toDate)
	if err != nil {
		return nil, err
	}
	if to.IsZero() {
		to = s.now().Add(time.Minute)
	}
	if from.IsZero() {
		from = to.AddDate(0, 0, -30)
	}
	return s.repo.ListStockPurchases(ctx, from, to, clampLimit(limit, 200, 1000))
}
