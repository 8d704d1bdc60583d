package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"tyrestock/backend/internal/domain"
	"tyrestock/backend/internal/store"
	"tyrestock/backend/internal/xid"
)

var maxDiscount = decimal.NewFromInt(100)

func (s *Service) ListCategories(ctx context.Context) ([]domain.Category, error) {
	return s.repo.ListCategories(ctx)
}

func (s *Service) CreateCategory(ctx context.Context, req domain.CategoryCreateRequest) (domain.Category, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager); err != nil {
		return domain.Category{}, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Category{}, fmt.Errorf("%w: category name is required", store.ErrInvalidInput)
	}

	created, err := s.repo.CreateCategory(ctx, domain.Category{
		ID:          xid.New(),
		Name:        name,
		Description: strings.TrimSpace(req.Description),
		CreatedAt:   s.now(),
	})
	if err != nil {
		return domain.Category{}, err
	}
	s.logActivity(ctx, "category_create", "category", created.ID, "name="+created.Name)
	return *created, nil
}

// resolveCategory accepts a category id or a category name (case-insensitive)
// and returns the id.
func (s *Service) resolveCategory(ctx context.Context, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("%w: category is required", store.ErrInvalidInput)
	}
	category, err := s.repo.GetCategory(ctx, ref)
	if err == nil {
		return category.ID, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return "", err
	}

	categories, err := s.repo.ListCategories(ctx)
	if err != nil {
		return "", err
	}
	for _, c := range categories {
		if strings.EqualFold(c.Name, ref) {
			return c.ID, nil
		}
	}
	return "", fmt.Errorf("%w: unknown category %q", store.ErrInvalidInput, ref)
}

func (s *Service) categoryNames(ctx context.Context) (map[string]string, error) {
	categories, err := s.repo.ListCategories(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(categories))
	for _, c := range categories {
		names[c.ID] = c.Name
	}
	return names, nil
}

func validatePrices(purchase decimal.Decimal, retail decimal.Decimal, discount decimal.Decimal) error {
	if purchase.IsNegative() {
		return fmt.Errorf("%w: purchasePrice must not be negative", store.ErrInvalidInput)
	}
	if !retail.IsPositive() {
		return fmt.Errorf("%w: retailPrice must be greater than zero", store.ErrInvalidInput)
	}
	return validateDiscount(discount)
}

func validateDiscount(discount decimal.Decimal) error {
	if discount.IsNegative() || discount.GreaterThan(maxDiscount) {
		return fmt.Errorf("%w: discount must be between 0 and 100", store.ErrInvalidInput)
	}
	return nil
}

func (s *Service) CreateItem(ctx context.Context, req domain.ItemCreateRequest) (domain.Item, error) {
	actor, err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager)
	if err != nil {
		return domain.Item{}, err
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Item{}, fmt.Errorf("%w: name is required", store.ErrInvalidInput)
	}
	if err := validatePrices(req.PurchasePrice, req.RetailPrice, req.Discount); err != nil {
		return domain.Item{}, err
	}
	if req.LowerLimit < 0 || req.InitialStock < 0 {
		return domain.Item{}, fmt.Errorf("%w: lowerLimit and initialStock must not be negative", store.ErrInvalidInput)
	}
	categoryID, err := s.resolveCategory(ctx, req.Category)
	if err != nil {
		return domain.Item{}, err
	}

	seq, err := s.repo.NextSequence(ctx, domain.SequenceItemCode)
	if err != nil {
		return domain.Item{}, err
	}
	now := s.now()
	created, err := s.repo.CreateItem(ctx, domain.Item{
		ID:            xid.New(),
		ItemCode:      xid.ItemCode(seq),
		Name:          name,
		Category:      categoryID,
		Brand:         strings.TrimSpace(req.Brand),
		Size:          strings.TrimSpace(req.Size),
		Location:      strings.TrimSpace(req.Location),
		PurchasePrice: req.PurchasePrice,
		RetailPrice:   req.RetailPrice,
		Discount:      req.Discount,
		LowerLimit:    req.LowerLimit,
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		return domain.Item{}, err
	}

	item := *created
	if req.InitialStock > 0 {
		adjusted, err := s.repo.AdjustStock(ctx, domain.StockChange{
			ItemCode:   item.ItemCode,
			Delta:      req.InitialStock,
			Supplier:   strings.TrimSpace(req.Supplier),
			Reason:     "initial stock",
			ChangeType: domain.StockChangeAdd,
			EditedBy:   actor.Username,
			At:         now,
		})
		if err != nil {
			return domain.Item{}, fmt.Errorf("item %s created but initial stock failed: %w", item.ItemCode, err)
		}
		item = adjusted.Item
	}

	s.logActivity(ctx, "item_create", "item", item.ID, fmt.Sprintf("code=%s,name=%s,stock=%d", item.ItemCode, item.Name, item.QuantityInStock))
	return item, nil
}

func (s *Service) GetItem(ctx context.Context, id string) (domain.Item, error) {
	item, err := s.repo.GetItemByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Item{}, err
	}
	return *item, nil
}

func (s *Service) GetItemByCode(ctx context.Context, itemCode string) (domain.Item, error) {
	code := strings.ToUpper(strings.TrimSpace(itemCode))
	if !xid.IsItemCode(code) {
		return domain.Item{}, fmt.Errorf("%w: item code %q", store.ErrNotFound, itemCode)
	}
	item, err := s.repo.GetItemByCode(ctx, code)
	if err != nil {
		return domain.Item{}, err
	}
	return *item, nil
}

func (s *Service) ListItems(ctx context.Context, filter domain.ItemFilter) ([]domain.Item, error) {
	filter.Search = strings.TrimSpace(filter.Search)
	if filter.Category != "" {
		id, err := s.resolveCategory(ctx, filter.Category)
		if err != nil {
			return nil, err
		}
		filter.Category = id
	}
	if filter.Limit < 0 {
		filter.Limit = 0
	}
	return s.repo.ListItems(ctx, filter)
}

func (s *Service) LowStockItems(ctx context.Context) ([]domain.Item, error) {
	return s.repo.ListItems(ctx, domain.ItemFilter{LowStockOnly: true})
}

// UpdateItem edits descriptive fields and prices. Stock is not touched here;
// price and discount changes are written to the stock edit log.
func (s *Service) UpdateItem(ctx context.Context, id string, req domain.ItemUpdateRequest) (domain.Item, error) {
	actor, err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager)
	if err != nil {
		return domain.Item{}, err
	}

	existing, err := s.repo.GetItemByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Item{}, err
	}
	before := *existing
	updated := before

	if v := trimmedPtr(req.Name); v != nil {
		if *v == "" {
			return domain.Item{}, fmt.Errorf("%w: name must not be empty", store.ErrInvalidInput)
		}
		updated.Name = *v
	}
	if req.Category != nil {
		categoryID, err := s.resolveCategory(ctx, *req.Category)
		if err != nil {
			return domain.Item{}, err
		}
		updated.Category = categoryID
	}
	if v := trimmedPtr(req.Brand); v != nil {
		updated.Brand = *v
	}
	if v := trimmedPtr(req.Size); v != nil {
		updated.Size = *v
	}
	if v := trimmedPtr(req.Location); v != nil {
		updated.Location = *v
	}
	if req.PurchasePrice != nil {
		updated.PurchasePrice = *req.PurchasePrice
	}
	if req.RetailPrice != nil {
		updated.RetailPrice = *req.RetailPrice
	}
	if req.Discount != nil {
		updated.Discount = *req.Discount
	}
	if req.LowerLimit != nil {
		if *req.LowerLimit < 0 {
			return domain.Item{}, fmt.Errorf("%w: lowerLimit must not be negative", store.ErrInvalidInput)
		}
		updated.LowerLimit = *req.LowerLimit
	}
	if req.IsActive != nil {
		updated.IsActive = *req.IsActive
	}
	if err := validatePrices(updated.PurchasePrice, updated.RetailPrice, updated.Discount); err != nil {
		return domain.Item{}, err
	}

	now := s.now()
	updated.UpdatedAt = now
	saved, err := s.repo.UpdateItem(ctx, updated)
	if err != nil {
		return domain.Item{}, err
	}

	if pricesChanged(before, *saved) {
		reason := strings.TrimSpace(req.Reason)
		if reason == "" {
			reason = "price update"
		}
		entry := store.NewStockEditLog(before, *saved, domain.StockChangeEdit, reason, actor.Username, now)
		if _, err := s.repo.CreateStockEditLog(ctx, entry); err != nil {
			return domain.Item{}, fmt.Errorf("item updated but price log failed: %w", err)
		}
	}

	action := "item_update"
	if before.IsActive && !saved.IsActive {
		action = "item_deactivate"
	}
	s.logActivity(ctx, action, "item", saved.ID, fmt.Sprintf("code=%s,name=%s", saved.ItemCode, saved.Name))
	return *saved, nil
}

// DeactivateItem hides an item from sale without deleting its history.
func (s *Service) DeactivateItem(ctx context.Context, id string) (domain.Item, error) {
	inactive := false
	return s.UpdateItem(ctx, id, domain.ItemUpdateRequest{IsActive: &inactive})
}

func (s *Service) DeleteItem(ctx context.Context, id string) error {
	if _, err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return err
	}
	item, err := s.repo.GetItemByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return err
	}
	if err := s.repo.DeleteItem(ctx, item.ID); err != nil {
		return err
	}
	s.logActivity(ctx, "item_delete", "item", item.ID, fmt.Sprintf("code=%s,name=%s", item.ItemCode, item.Name))
	return nil
}

func pricesChanged(before domain.Item, after domain.Item) bool {
	return !before.PurchasePrice.Equal(after.PurchasePrice) ||
		!before.RetailPrice.Equal(after.RetailPrice) ||
		!before.Discount.Equal(after.Discount)
}
