package memory

import (
	"cmp"
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"tyrestock/backend/internal/domain"
	"tyrestock/backend/internal/store"
	"tyrestock/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	sequences       map[string]int64
	categories      map[string]domain.Category
	items           map[string]domain.Item
	itemIDByCode    map[string]string
	sales           map[string]domain.Sale
	customers       map[string]domain.Customer
	stockPurchases  []domain.StockPurchase
	stockEditLogs   []domain.StockEditLog
	activityLogs    []domain.ActivityLog
	subscriptions   map[string]domain.EmailSubscription
	usersByUsername map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD, SEED_MANAGER_PASSWORD and
// SEED_CASHIER_PASSWORD. If unset, dev defaults are used with a warning.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	managerPwd := envOr("SEED_MANAGER_PASSWORD", "manager123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"manager", managerPwd, domain.RoleManager},
		{"cashier", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.MinCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func New() *Store {
	return &Store{
		sequences:       make(map[string]int64),
		categories:      make(map[string]domain.Category),
		items:           make(map[string]domain.Item),
		itemIDByCode:    make(map[string]string),
		sales:           make(map[string]domain.Sale),
		customers:       make(map[string]domain.Customer),
		stockPurchases:  make([]domain.StockPurchase, 0, 64),
		stockEditLogs:   make([]domain.StockEditLog, 0, 128),
		activityLogs:    make([]domain.ActivityLog, 0, 128),
		subscriptions:   make(map[string]domain.EmailSubscription),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// NewSeeded returns a store with demo users and the default tyre categories.
// No items are seeded so the first created item gets RT0001.
func NewSeeded() *Store {
	s := New()
	s.usersByUsername = seedUsers()
	now := time.Now().UTC()
	for _, name := range []string{"Passenger", "SUV", "Light Truck", "Motorcycle"} {
		id := xid.New()
		s.categories[id] = domain.Category{ID: id, Name: name, CreatedAt: now}
	}
	return s
}

func (s *Store) NextSequence(_ context.Context, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextSequenceLocked(name), nil
}

func (s *Store) nextSequenceLocked(name string) int64 {
	s.sequences[name]++
	return s.sequences[name]
}

func (s *Store) CreateCategory(_ context.Context, category domain.Category) (*domain.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.categories {
		if strings.EqualFold(existing.Name, category.Name) {
			return nil, fmt.Errorf("%w: category %q", store.ErrDuplicate, category.Name)
		}
	}
	s.categories[category.ID] = category
	return &category, nil
}

func (s *Store) GetCategory(_ context.Context, id string) (*domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	category, ok := s.categories[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &category, nil
}

func (s *Store) ListCategories(_ context.Context) ([]domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Category, 0, len(s.categories))
	for _, category := range s.categories {
		out = append(out, category)
	}
	slices.SortFunc(out, func(a, b domain.Category) int {
		return cmp.Compare(a.Name, b.Name)
	})
	return out, nil
}

func (s *Store) CreateItem(_ context.Context, item domain.Item) (*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.itemIDByCode[item.ItemCode]; exists {
		return nil, fmt.Errorf("%w: item code %s", store.ErrDuplicate, item.ItemCode)
	}
	for _, existing := range s.items {
		if strings.EqualFold(existing.Name, item.Name) {
			return nil, fmt.Errorf("%w: item name %q", store.ErrDuplicate, item.Name)
		}
	}
	s.items[item.ID] = item
	s.itemIDByCode[item.ItemCode] = item.ID
	return &item, nil
}

func (s *Store) GetItemByID(_ context.Context, id string) (*domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &item, nil
}

func (s *Store) GetItemByCode(_ context.Context, itemCode string) (*domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.itemIDByCode[itemCode]
	if !ok {
		return nil, store.ErrNotFound
	}
	item := s.items[id]
	return &item, nil
}

func (s *Store) ListItems(_ context.Context, filter domain.ItemFilter) ([]domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	search := strings.ToLower(strings.TrimSpace(filter.Search))
	out := make([]domain.Item, 0, len(s.items))
	for _, item := range s.items {
		if !filter.IncludeInactive && !item.IsActive {
			continue
		}
		if filter.Category != "" && item.Category != filter.Category {
			continue
		}
		if filter.LowStockOnly && !item.IsLowStock() {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(item.Name), search) &&
			!strings.Contains(strings.ToLower(item.ItemCode), search) &&
			!strings.Contains(strings.ToLower(item.Brand), search) &&
			!strings.Contains(strings.ToLower(item.Size), search) {
			continue
		}
		out = append(out, item)
	}
	slices.SortFunc(out, func(a, b domain.Item) int {
		return cmp.Compare(a.ItemCode, b.ItemCode)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) UpdateItem(_ context.Context, item domain.Item) (*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.items[item.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	for id, other := range s.items {
		if id != item.ID && strings.EqualFold(other.Name, item.Name) {
			return nil, fmt.Errorf("%w: item name %q", store.ErrDuplicate, item.Name)
		}
	}
	// Stock only moves through AdjustStock and sales.
	item.ItemCode = existing.ItemCode
	item.QuantityInStock = existing.QuantityInStock
	item.CreatedAt = existing.CreatedAt
	s.items[item.ID] = item
	return &item, nil
}

func (s *Store) DeleteItem(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return store.ErrNotFound
	}
	delete(s.items, id)
	delete(s.itemIDByCode, item.ItemCode)
	return nil
}

func (s *Store) AdjustStock(_ context.Context, change domain.StockChange) (*domain.StockAdjustment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.itemIDByCode[change.ItemCode]
	if !ok {
		return nil, store.ErrNotFound
	}
	before := s.items[id]
	after := before
	if _, err := store.ApplyStockChange(&after, change); err != nil {
		return nil, err
	}
	s.items[id] = after

	entry := store.NewStockEditLog(before, after, change.ChangeType, change.Reason, change.EditedBy, change.At)
	entry.Sequence = s.nextSequenceLocked(domain.SequenceStockEditLog)
	s.stockEditLogs = append(s.stockEditLogs, entry)

	result := &domain.StockAdjustment{Item: after, Log: entry}
	if change.Delta > 0 {
		purchase := store.NewStockPurchase(after, change.Delta, change.Supplier, change.EditedBy, change.At)
		s.stockPurchases = append(s.stockPurchases, purchase)
		result.Purchase = &purchase
	}
	return result, nil
}

func (s *Store) ListStockPurchases(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.StockPurchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.StockPurchase, 0, 32)
	for i := len(s.stockPurchases) - 1; i >= 0; i-- {
		p := s.stockPurchases[i]
		if p.CreatedAt.Before(from) || !p.CreatedAt.Before(to) {
			continue
		}
		out = append(out, p)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, []domain.StockEditLog, error) {
	if len(sale.Items) == 0 {
		return nil, nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate every line against the current stock before touching anything,
	// summing quantities so repeated lines of the same item are checked together.
	requested := make(map[string]int, len(sale.Items))
	for _, line := range sale.Items {
		item, ok := s.items[line.Item]
		if !ok || !item.IsActive {
			return nil, nil, fmt.Errorf("%w: item %s", store.ErrNotFound, line.Item)
		}
		requested[line.Item] += line.Quantity
		if item.QuantityInStock < requested[line.Item] {
			return nil, nil, fmt.Errorf("%w: %s has %d, requested %d", store.ErrInsufficientStock, item.ItemCode, item.QuantityInStock, requested[line.Item])
		}
	}

	reason := store.SaleLogReason(sale.BillNumber, false)
	logs := make([]domain.StockEditLog, 0, len(sale.Items))
	for i := range sale.Items {
		line := &sale.Items[i]
		before := s.items[line.Item]
		store.SnapshotSaleLine(line, before)

		after := before
		after.QuantityInStock -= line.Quantity
		after.UpdatedAt = sale.CreatedAt
		s.items[after.ID] = after

		entry := store.NewStockEditLog(before, after, domain.StockChangeSale, reason, sale.Cashier, sale.CreatedAt)
		entry.Sale = sale.ID
		entry.Sequence = s.nextSequenceLocked(domain.SequenceStockEditLog)
		s.stockEditLogs = append(s.stockEditLogs, entry)
		logs = append(logs, entry)
	}

	s.sales[sale.ID] = cloneSale(sale)
	return &sale, logs, nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.sales[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneSale(sale)
	return &out, nil
}

func (s *Store) ListSales(_ context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	search := strings.ToLower(strings.TrimSpace(filter.CustomerSearch))
	out := make([]domain.Sale, 0, len(s.sales))
	for _, sale := range s.sales {
		if !filter.From.IsZero() && sale.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !sale.CreatedAt.Before(filter.To) {
			continue
		}
		if filter.PaymentMethod != "" && sale.PaymentMethod != filter.PaymentMethod {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(sale.CustomerName), search) &&
			!strings.Contains(strings.ToLower(sale.BillNumber), search) {
			continue
		}
		out = append(out, cloneSale(sale))
	}
	slices.SortFunc(out, func(a, b domain.Sale) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) DeleteSale(_ context.Context, id string, editedBy string) (*domain.Sale, []domain.StockEditLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.sales[id]
	if !ok {
		return nil, nil, store.ErrNotFound
	}

	now := time.Now().UTC()
	reason := store.SaleLogReason(sale.BillNumber, true)
	logs := make([]domain.StockEditLog, 0, len(sale.Items))
	for _, line := range sale.Items {
		before, exists := s.items[line.Item]
		if !exists {
			log.Printf("[memory-store] WARN: item %s of sale %s no longer exists, stock not restored", line.ItemCode, sale.BillNumber)
			continue
		}
		after := before
		after.QuantityInStock += line.Quantity
		after.UpdatedAt = now
		s.items[after.ID] = after

		entry := store.NewStockEditLog(before, after, domain.StockChangeSaleReversal, reason, editedBy, now)
		entry.Sale = sale.ID
		entry.Sequence = s.nextSequenceLocked(domain.SequenceStockEditLog)
		s.stockEditLogs = append(s.stockEditLogs, entry)
		logs = append(logs, entry)
	}
	delete(s.sales, id)
	return &sale, logs, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.customers {
		if strings.EqualFold(existing.NIC, customer.NIC) {
			return nil, fmt.Errorf("%w: customer nic %s", store.ErrDuplicate, customer.NIC)
		}
	}
	s.customers[customer.ID] = customer
	return &customer, nil
}

func (s *Store) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, ok := s.customers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &customer, nil
}

func (s *Store) GetCustomerByNIC(_ context.Context, nic string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, customer := range s.customers {
		if strings.EqualFold(customer.NIC, nic) {
			return &customer, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListCustomers(_ context.Context, search string, limit int) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	search = strings.ToLower(strings.TrimSpace(search))
	out := make([]domain.Customer, 0, len(s.customers))
	for _, customer := range s.customers {
		if search != "" &&
			!strings.Contains(strings.ToLower(customer.Name), search) &&
			!strings.Contains(strings.ToLower(customer.NIC), search) &&
			!strings.Contains(customer.Phone, search) {
			continue
		}
		out = append(out, customer)
	}
	slices.SortFunc(out, func(a, b domain.Customer) int {
		return cmp.Compare(a.Name, b.Name)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) UpdateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.customers[customer.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	// Purchase statistics are owned by AdjustCustomerStats.
	customer.NIC = existing.NIC
	customer.TotalSpent = existing.TotalSpent
	customer.PurchaseCount = existing.PurchaseCount
	customer.LastPurchaseDate = existing.LastPurchaseDate
	customer.LoyaltyPoints = existing.LoyaltyPoints
	customer.CreatedAt = existing.CreatedAt
	s.customers[customer.ID] = customer
	return &customer, nil
}

func (s *Store) DeleteCustomer(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.customers[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.customers, id)
	return nil
}

func (s *Store) AdjustCustomerStats(_ context.Context, id string, delta domain.CustomerStatsDelta) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	customer, ok := s.customers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	store.ApplyCustomerStats(&customer, delta)
	s.customers[id] = customer
	return &customer, nil
}

func (s *Store) CreateStockEditLog(_ context.Context, entry domain.StockEditLog) (*domain.StockEditLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry.Sequence = s.nextSequenceLocked(domain.SequenceStockEditLog)
	s.stockEditLogs = append(s.stockEditLogs, entry)
	return &entry, nil
}

func (s *Store) ListStockEditLogs(_ context.Context, itemCode string, limit int) ([]domain.StockEditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.StockEditLog, 0, 32)
	for i := len(s.stockEditLogs) - 1; i >= 0; i-- {
		entry := s.stockEditLogs[i]
		if itemCode != "" && entry.ItemCode != itemCode {
			continue
		}
		out = append(out, entry)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) CreateActivityLog(_ context.Context, entry domain.ActivityLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry.Sequence = s.nextSequenceLocked(domain.SequenceActivityLog)
	s.activityLogs = append(s.activityLogs, entry)
	return nil
}

func (s *Store) ListActivityLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.ActivityLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.ActivityLog, 0, 32)
	for i := len(s.activityLogs) - 1; i >= 0; i-- {
		entry := s.activityLogs[i]
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		out = append(out, entry)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) CreateSubscription(_ context.Context, sub domain.EmailSubscription) (*domain.EmailSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.subscriptions {
		if strings.EqualFold(existing.Email, sub.Email) && existing.ReportType == sub.ReportType {
			return nil, fmt.Errorf("%w: subscription for %s", store.ErrDuplicate, sub.Email)
		}
	}
	s.subscriptions[sub.ID] = sub
	return &sub, nil
}

func (s *Store) GetSubscription(_ context.Context, id string) (*domain.EmailSubscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subscriptions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &sub, nil
}

func (s *Store) ListSubscriptions(_ context.Context, activeOnly bool) ([]domain.EmailSubscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.EmailSubscription, 0, len(s.subscriptions))
	for _, sub := range s.subscriptions {
		if activeOnly && !sub.IsActive {
			continue
		}
		out = append(out, sub)
	}
	slices.SortFunc(out, func(a, b domain.EmailSubscription) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out, nil
}

func (s *Store) UpdateSubscription(_ context.Context, sub domain.EmailSubscription) (*domain.EmailSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.subscriptions[sub.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	for id, other := range s.subscriptions {
		if id != sub.ID && strings.EqualFold(other.Email, sub.Email) && other.ReportType == sub.ReportType {
			return nil, fmt.Errorf("%w: subscription for %s", store.ErrDuplicate, sub.Email)
		}
	}
	sub.CreatedAt = existing.CreatedAt
	sub.LastSent = existing.LastSent
	s.subscriptions[sub.ID] = sub
	return &sub, nil
}

func (s *Store) DeleteSubscription(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subscriptions[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.subscriptions, id)
	return nil
}

func (s *Store) MarkSubscriptionSent(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[id]
	if !ok {
		return store.ErrNotFound
	}
	sub.LastSent = &at
	s.subscriptions[id] = sub
	return nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" {
		return store.ErrInvalidInput
	}
	if _, exists := s.usersByUsername[username]; exists {
		return fmt.Errorf("%w: username %s", store.ErrDuplicate, username)
	}
	user.Username = username
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		out = append(out, user)
	}
	slices.SortFunc(out, func(a, b domain.UserAccount) int {
		return cmp.Compare(a.Username, b.Username)
	})
	return out, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.usersByUsername[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func cloneSale(src domain.Sale) domain.Sale {
	dst := src
	dst.Items = append([]domain.SaleLine(nil), src.Items...)
	return dst
}
