package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"tyrestock/backend/internal/domain"
	"tyrestock/backend/internal/store"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db *sql.DB
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Migrate creates any missing tables and indexes. It is safe to run on every start.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaSQL)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) NextSequence(ctx context.Context, name string) (int64, error) {
	return nextSequence(ctx, s.db, name)
}

func nextSequence(ctx context.Context, q querier, name string) (int64, error) {
	var value int64
	err := q.QueryRowContext(ctx, `
		INSERT INTO sequences (name, value) VALUES ($1, 1)
		ON CONFLICT (name) DO UPDATE SET value = sequences.value + 1
		RETURNING value
	`, name).Scan(&value)
	return value, err
}

func (s *Store) CreateCategory(ctx context.Context, category domain.Category) (*domain.Category, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO categories (id, name, description, created_at)
		VALUES ($1, $2, $3, $4)
	`, category.ID, category.Name, category.Description, category.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: category %q", store.ErrDuplicate, category.Name)
		}
		return nil, err
	}
	return &category, nil
}

func (s *Store) GetCategory(ctx context.Context, id string) (*domain.Category, error) {
	var c domain.Category
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, created_at FROM categories WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.Description, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

func (s *Store) ListCategories(ctx context.Context) ([]domain.Category, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, created_at FROM categories ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Category, 0, 16)
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.CreatedAt = c.CreatedAt.UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

const itemColumns = `id, item_code, name, category_id, brand, size, location, quantity_in_stock,
	purchase_price, retail_price, discount, lower_limit, is_active, created_at, updated_at`

func scanItem(row rowScanner) (domain.Item, error) {
	var item domain.Item
	err := row.Scan(&item.ID, &item.ItemCode, &item.Name, &item.Category, &item.Brand, &item.Size, &item.Location,
		&item.QuantityInStock, &item.PurchasePrice, &item.RetailPrice, &item.Discount, &item.LowerLimit,
		&item.IsActive, &item.CreatedAt, &item.UpdatedAt)
	item.CreatedAt = item.CreatedAt.UTC()
	item.UpdatedAt = item.UpdatedAt.UTC()
	return item, err
}

func (s *Store) CreateItem(ctx context.Context, item domain.Item) (*domain.Item, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO items (`+itemColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, item.ID, item.ItemCode, item.Name, item.Category, item.Brand, item.Size, item.Location,
		item.QuantityInStock, item.PurchasePrice, item.RetailPrice, item.Discount, item.LowerLimit,
		item.IsActive, item.CreatedAt, item.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: item %q", store.ErrDuplicate, item.Name)
		}
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetItemByID(ctx context.Context, id string) (*domain.Item, error) {
	return getItem(ctx, s.db, "id", id, false)
}

func (s *Store) GetItemByCode(ctx context.Context, itemCode string) (*domain.Item, error) {
	return getItem(ctx, s.db, "item_code", itemCode, false)
}

func getItem(ctx context.Context, q querier, column string, value string, forUpdate bool) (*domain.Item, error) {
	query := fmt.Sprintf(`SELECT %s FROM items WHERE %s = $1`, itemColumns, column)
	if forUpdate {
		query += " FOR UPDATE"
	}
	item, err := scanItem(q.QueryRowContext(ctx, query, value))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListItems(ctx context.Context, filter domain.ItemFilter) ([]domain.Item, error) {
	where := make([]string, 0, 4)
	args := make([]any, 0, 4)
	if !filter.IncludeInactive {
		where = append(where, "is_active = true")
	}
	if filter.Category != "" {
		args = append(args, filter.Category)
		where = append(where, fmt.Sprintf("category_id = $%d", len(args)))
	}
	if filter.LowStockOnly {
		where = append(where, "quantity_in_stock <= lower_limit")
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		args = append(args, "%"+search+"%")
		n := len(args)
		where = append(where, fmt.Sprintf("(name ILIKE $%d OR item_code ILIKE $%d OR brand ILIKE $%d OR size ILIKE $%d)", n, n, n, n))
	}

	query := `SELECT ` + itemColumns + ` FROM items`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY item_code"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Item, 0, 64)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (s *Store) UpdateItem(ctx context.Context, item domain.Item) (*domain.Item, error) {
	updated, err := scanItem(s.db.QueryRowContext(ctx, `
		UPDATE items
		SET name = $2, category_id = $3, brand = $4, size = $5, location = $6,
			purchase_price = $7, retail_price = $8, discount = $9, lower_limit = $10,
			is_active = $11, updated_at = $12
		WHERE id = $1
		RETURNING `+itemColumns,
		item.ID, item.Name, item.Category, item.Brand, item.Size, item.Location,
		item.PurchasePrice, item.RetailPrice, item.Discount, item.LowerLimit, item.IsActive, item.UpdatedAt))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: item %q", store.ErrDuplicate, item.Name)
		}
		return nil, err
	}
	return &updated, nil
}

func (s *Store) DeleteItem(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM items WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (s *Store) AdjustStock(ctx context.Context, change domain.StockChange) (*domain.StockAdjustment, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	before, err := getItem(ctx, tx, "item_code", change.ItemCode, true)
	if err != nil {
		return nil, err
	}
	after := *before
	if _, err := store.ApplyStockChange(&after, change); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE items
		SET quantity_in_stock = $2, location = $3, lower_limit = $4,
			purchase_price = $5, retail_price = $6, discount = $7, updated_at = $8
		WHERE id = $1
	`, after.ID, after.QuantityInStock, after.Location, after.LowerLimit,
		after.PurchasePrice, after.RetailPrice, after.Discount, after.UpdatedAt); err != nil {
		return nil, err
	}

	entry := store.NewStockEditLog(*before, after, change.ChangeType, change.Reason, change.EditedBy, change.At)
	if err := insertStockEditLog(ctx, tx, &entry); err != nil {
		return nil, err
	}

	result := &domain.StockAdjustment{Item: after, Log: entry}
	if change.Delta > 0 {
		purchase := store.NewStockPurchase(after, change.Delta, change.Supplier, change.EditedBy, change.At)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO stock_purchases (
				id, item_id, item_code, item_name, quantity, purchase_price,
				total_purchase_value, supplier, purchased_by, created_at
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`, purchase.ID, purchase.Item, purchase.ItemCode, purchase.ItemName, purchase.Quantity, purchase.PurchasePrice,
			purchase.TotalPurchaseValue, purchase.Supplier, purchase.PurchasedBy, purchase.CreatedAt); err != nil {
			return nil, err
		}
		result.Purchase = &purchase
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) ListStockPurchases(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.StockPurchase, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, item_id, item_code, item_name, quantity, purchase_price,
			total_purchase_value, supplier, purchased_by, created_at
		FROM stock_purchases
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.StockPurchase, 0, limit)
	for rows.Next() {
		var p domain.StockPurchase
		if err := rows.Scan(&p.ID, &p.Item, &p.ItemCode, &p.ItemName, &p.Quantity, &p.PurchasePrice,
			&p.TotalPurchaseValue, &p.Supplier, &p.PurchasedBy, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.CreatedAt = p.CreatedAt.UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, []domain.StockEditLog, error) {
	if len(sale.Items) == 0 {
		return nil, nil, store.ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	ids := make([]string, 0, len(sale.Items))
	seen := make(map[string]bool, len(sale.Items))
	for _, line := range sale.Items {
		if !seen[line.Item] {
			seen[line.Item] = true
			ids = append(ids, line.Item)
		}
	}

	// Lock rows in a stable order so concurrent sales cannot deadlock.
	rows, err := tx.QueryContext(ctx, `
		SELECT `+itemColumns+`
		FROM items
		WHERE id = ANY($1) AND is_active = true
		ORDER BY id
		FOR UPDATE
	`, ids)
	if err != nil {
		return nil, nil, err
	}
	current := make(map[string]domain.Item, len(ids))
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			_ = rows.Close()
			return nil, nil, err
		}
		current[item.ID] = item
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, nil, err
	}
	_ = rows.Close()

	requested := make(map[string]int, len(ids))
	for _, line := range sale.Items {
		item, ok := current[line.Item]
		if !ok {
			return nil, nil, fmt.Errorf("%w: item %s", store.ErrNotFound, line.Item)
		}
		requested[line.Item] += line.Quantity
		if item.QuantityInStock < requested[line.Item] {
			return nil, nil, fmt.Errorf("%w: %s has %d, requested %d", store.ErrInsufficientStock, item.ItemCode, item.QuantityInStock, requested[line.Item])
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sales (
			id, bill_number, subtotal, tax, total, payment_method, payment_status,
			customer_id, customer_name, amount_paid, balance, notes, cashier, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, sale.ID, sale.BillNumber, sale.Subtotal, sale.Tax, sale.Total, sale.PaymentMethod, sale.PaymentStatus,
		sale.Customer, sale.CustomerName, sale.AmountPaid, sale.Balance, sale.Notes, sale.Cashier, sale.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return nil, nil, fmt.Errorf("%w: bill number %s", store.ErrDuplicate, sale.BillNumber)
		}
		return nil, nil, err
	}

	reason := store.SaleLogReason(sale.BillNumber, false)
	logs := make([]domain.StockEditLog, 0, len(sale.Items))
	for i := range sale.Items {
		line := &sale.Items[i]
		before := current[line.Item]
		store.SnapshotSaleLine(line, before)

		after := before
		after.QuantityInStock -= line.Quantity
		after.UpdatedAt = sale.CreatedAt
		current[after.ID] = after

		if _, err := tx.ExecContext(ctx, `
			UPDATE items SET quantity_in_stock = $2, updated_at = $3 WHERE id = $1
		`, after.ID, after.QuantityInStock, after.UpdatedAt); err != nil {
			return nil, nil, err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sale_items (
				sale_id, line_no, item_id, item_code, name, category_id,
				quantity, price, discount, cost_price, total
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		`, sale.ID, i, line.Item, line.ItemCode, line.Name, line.Category,
			line.Quantity, line.Price, line.Discount, line.CostPrice, line.Total); err != nil {
			return nil, nil, err
		}

		entry := store.NewStockEditLog(before, after, domain.StockChangeSale, reason, sale.Cashier, sale.CreatedAt)
		entry.Sale = sale.ID
		if err := insertStockEditLog(ctx, tx, &entry); err != nil {
			return nil, nil, err
		}
		logs = append(logs, entry)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return &sale, logs, nil
}

const saleColumns = `id, bill_number, subtotal, tax, total, payment_method, payment_status,
	customer_id, customer_name, amount_paid, balance, notes, cashier, created_at`

func scanSale(row rowScanner) (domain.Sale, error) {
	var sale domain.Sale
	err := row.Scan(&sale.ID, &sale.BillNumber, &sale.Subtotal, &sale.Tax, &sale.Total, &sale.PaymentMethod,
		&sale.PaymentStatus, &sale.Customer, &sale.CustomerName, &sale.AmountPaid, &sale.Balance, &sale.Notes,
		&sale.Cashier, &sale.CreatedAt)
	sale.CreatedAt = sale.CreatedAt.UTC()
	return sale, err
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	return getSale(ctx, s.db, id, false)
}

func getSale(ctx context.Context, q querier, id string, forUpdate bool) (*domain.Sale, error) {
	query := `SELECT ` + saleColumns + ` FROM sales WHERE id = $1`
	if forUpdate {
		query += " FOR UPDATE"
	}
	sale, err := scanSale(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sales := []domain.Sale{sale}
	if err := attachSaleLines(ctx, q, sales); err != nil {
		return nil, err
	}
	return &sales[0], nil
}

func (s *Store) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	where := make([]string, 0, 4)
	args := make([]any, 0, 5)
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		where = append(where, fmt.Sprintf("created_at < $%d", len(args)))
	}
	if filter.PaymentMethod != "" {
		args = append(args, filter.PaymentMethod)
		where = append(where, fmt.Sprintf("payment_method = $%d", len(args)))
	}
	if search := strings.TrimSpace(filter.CustomerSearch); search != "" {
		args = append(args, "%"+search+"%")
		n := len(args)
		where = append(where, fmt.Sprintf("(customer_name ILIKE $%d OR bill_number ILIKE $%d)", n, n))
	}

	query := `SELECT ` + saleColumns + ` FROM sales`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	sales := make([]domain.Sale, 0, 64)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	if err := attachSaleLines(ctx, s.db, sales); err != nil {
		return nil, err
	}
	return sales, nil
}

func attachSaleLines(ctx context.Context, q querier, sales []domain.Sale) error {
	if len(sales) == 0 {
		return nil
	}
	ids := make([]string, len(sales))
	index := make(map[string]int, len(sales))
	for i, sale := range sales {
		ids[i] = sale.ID
		index[sale.ID] = i
	}

	rows, err := q.QueryContext(ctx, `
		SELECT sale_id, item_id, item_code, name, category_id, quantity, price, discount, cost_price, total
		FROM sale_items
		WHERE sale_id = ANY($1)
		ORDER BY sale_id, line_no
	`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var saleID string
		var line domain.SaleLine
		if err := rows.Scan(&saleID, &line.Item, &line.ItemCode, &line.Name, &line.Category, &line.Quantity,
			&line.Price, &line.Discount, &line.CostPrice, &line.Total); err != nil {
			return err
		}
		i := index[saleID]
		sales[i].Items = append(sales[i].Items, line)
	}
	return rows.Err()
}

func (s *Store) DeleteSale(ctx context.Context, id string, editedBy string) (*domain.Sale, []domain.StockEditLog, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	sale, err := getSale(ctx, tx, id, true)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	reason := store.SaleLogReason(sale.BillNumber, true)
	logs := make([]domain.StockEditLog, 0, len(sale.Items))
	for _, line := range sale.Items {
		before, err := getItem(ctx, tx, "id", line.Item, true)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		after := *before
		after.QuantityInStock += line.Quantity
		after.UpdatedAt = now
		if _, err := tx.ExecContext(ctx, `
			UPDATE items SET quantity_in_stock = $2, updated_at = $3 WHERE id = $1
		`, after.ID, after.QuantityInStock, after.UpdatedAt); err != nil {
			return nil, nil, err
		}
		entry := store.NewStockEditLog(*before, after, domain.StockChangeSaleReversal, reason, editedBy, now)
		entry.Sale = sale.ID
		if err := insertStockEditLog(ctx, tx, &entry); err != nil {
			return nil, nil, err
		}
		logs = append(logs, entry)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, id); err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return sale, logs, nil
}

const customerColumns = `id, nic, name, phone, email, address, vehicle_number, total_spent,
	purchase_count, last_purchase_date, loyalty_points, created_at, updated_at`

func scanCustomer(row rowScanner) (domain.Customer, error) {
	var c domain.Customer
	var lastPurchase sql.NullTime
	err := row.Scan(&c.ID, &c.NIC, &c.Name, &c.Phone, &c.Email, &c.Address, &c.VehicleNumber, &c.TotalSpent,
		&c.PurchaseCount, &lastPurchase, &c.LoyaltyPoints, &c.CreatedAt, &c.UpdatedAt)
	if lastPurchase.Valid {
		at := lastPurchase.Time.UTC()
		c.LastPurchaseDate = &at
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return c, err
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (`+customerColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, customer.ID, customer.NIC, customer.Name, customer.Phone, customer.Email, customer.Address,
		customer.VehicleNumber, customer.TotalSpent, customer.PurchaseCount, nullTime(customer.LastPurchaseDate),
		customer.LoyaltyPoints, customer.CreatedAt, customer.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: customer nic %s", store.ErrDuplicate, customer.NIC)
		}
		return nil, err
	}
	return &customer, nil
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	return s.getCustomer(ctx, `id = $1`, id)
}

func (s *Store) GetCustomerByNIC(ctx context.Context, nic string) (*domain.Customer, error) {
	return s.getCustomer(ctx, `lower(nic) = lower($1)`, nic)
}

func (s *Store) getCustomer(ctx context.Context, predicate string, value string) (*domain.Customer, error) {
	c, err := scanCustomer(s.db.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE `+predicate, value))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) ListCustomers(ctx context.Context, search string, limit int) ([]domain.Customer, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+customerColumns+`
		FROM customers
		WHERE $1 = '' OR name ILIKE '%' || $1 || '%' OR nic ILIKE '%' || $1 || '%' OR phone LIKE '%' || $1 || '%'
		ORDER BY name
		LIMIT $2
	`, strings.TrimSpace(search), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Customer, 0, limit)
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	updated, err := scanCustomer(s.db.QueryRowContext(ctx, `
		UPDATE customers
		SET name = $2, phone = $3, email = $4, address = $5, vehicle_number = $6, updated_at = $7
		WHERE id = $1
		RETURNING `+customerColumns,
		customer.ID, customer.Name, customer.Phone, customer.Email, customer.Address, customer.VehicleNumber, customer.UpdatedAt))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (s *Store) DeleteCustomer(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM customers WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (s *Store) AdjustCustomerStats(ctx context.Context, id string, delta domain.CustomerStatsDelta) (*domain.Customer, error) {
	updated, err := scanCustomer(s.db.QueryRowContext(ctx, `
		UPDATE customers
		SET total_spent = GREATEST(total_spent + $2::numeric, 0),
			purchase_count = GREATEST(purchase_count + $3::int, 0),
			last_purchase_date = CASE WHEN $3::int > 0 THEN $4 ELSE last_purchase_date END,
			loyalty_points = FLOOR(GREATEST(total_spent + $2::numeric, 0) / 100),
			updated_at = $4
		WHERE id = $1
		RETURNING `+customerColumns,
		id, delta.Spent, delta.Purchases, delta.At))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (s *Store) CreateStockEditLog(ctx context.Context, entry domain.StockEditLog) (*domain.StockEditLog, error) {
	if err := insertStockEditLog(ctx, s.db, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func insertStockEditLog(ctx context.Context, q querier, entry *domain.StockEditLog) error {
	seq, err := nextSequence(ctx, q, domain.SequenceStockEditLog)
	if err != nil {
		return err
	}
	entry.Sequence = seq
	_, err = q.ExecContext(ctx, `
		INSERT INTO stock_edit_logs (
			id, sequence, item_id, item_code, item_name, change_type, old_stock, new_stock,
			old_purchase_price, new_purchase_price, old_retail_price, new_retail_price,
			old_discount, new_discount, reason, edited_by, sale_id, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
	`, entry.ID, entry.Sequence, entry.Item, entry.ItemCode, entry.ItemName, entry.ChangeType, entry.OldStock, entry.NewStock,
		nullDecimal(entry.OldPurchasePrice), nullDecimal(entry.NewPurchasePrice),
		nullDecimal(entry.OldRetailPrice), nullDecimal(entry.NewRetailPrice),
		nullDecimal(entry.OldDiscount), nullDecimal(entry.NewDiscount),
		entry.Reason, entry.EditedBy, entry.Sale, entry.CreatedAt)
	return err
}

func (s *Store) ListStockEditLogs(ctx context.Context, itemCode string, limit int) ([]domain.StockEditLog, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sequence, item_id, item_code, item_name, change_type, old_stock, new_stock,
			old_purchase_price, new_purchase_price, old_retail_price, new_retail_price,
			old_discount, new_discount, reason, edited_by, sale_id, created_at
		FROM stock_edit_logs
		WHERE $1 = '' OR item_code = $1
		ORDER BY sequence DESC
		LIMIT $2
	`, itemCode, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.StockEditLog, 0, limit)
	for rows.Next() {
		var e domain.StockEditLog
		var oldPurchase, newPurchase, oldRetail, newRetail, oldDiscount, newDiscount decimal.NullDecimal
		if err := rows.Scan(&e.ID, &e.Sequence, &e.Item, &e.ItemCode, &e.ItemName, &e.ChangeType, &e.OldStock, &e.NewStock,
			&oldPurchase, &newPurchase, &oldRetail, &newRetail, &oldDiscount, &newDiscount,
			&e.Reason, &e.EditedBy, &e.Sale, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.OldPurchasePrice, e.NewPurchasePrice = decimalOrNil(oldPurchase), decimalOrNil(newPurchase)
		e.OldRetailPrice, e.NewRetailPrice = decimalOrNil(oldRetail), decimalOrNil(newRetail)
		e.OldDiscount, e.NewDiscount = decimalOrNil(oldDiscount), decimalOrNil(newDiscount)
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) CreateActivityLog(ctx context.Context, entry domain.ActivityLog) error {
	seq, err := nextSequence(ctx, s.db, domain.SequenceActivityLog)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO activity_logs (
			id, sequence, action, entity_type, entity_id, description, actor_username, actor_role, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, seq, entry.Action, entry.EntityType, entry.EntityID, entry.Description,
		entry.ActorUsername, entry.ActorRole, entry.CreatedAt)
	return err
}

func (s *Store) ListActivityLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.ActivityLog, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sequence, action, entity_type, entity_id, description, actor_username, actor_role, created_at
		FROM activity_logs
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY sequence DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.ActivityLog, 0, limit)
	for rows.Next() {
		var e domain.ActivityLog
		if err := rows.Scan(&e.ID, &e.Sequence, &e.Action, &e.EntityType, &e.EntityID, &e.Description,
			&e.ActorUsername, &e.ActorRole, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

const subscriptionColumns = `id, email, report_type, schedule_time, is_active, last_sent, created_by, created_at, updated_at`

func scanSubscription(row rowScanner) (domain.EmailSubscription, error) {
	var sub domain.EmailSubscription
	var lastSent sql.NullTime
	err := row.Scan(&sub.ID, &sub.Email, &sub.ReportType, &sub.ScheduleTime, &sub.IsActive, &lastSent,
		&sub.CreatedBy, &sub.CreatedAt, &sub.UpdatedAt)
	if lastSent.Valid {
		at := lastSent.Time.UTC()
		sub.LastSent = &at
	}
	sub.CreatedAt = sub.CreatedAt.UTC()
	sub.UpdatedAt = sub.UpdatedAt.UTC()
	return sub, err
}

func (s *Store) CreateSubscription(ctx context.Context, sub domain.EmailSubscription) (*domain.EmailSubscription, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO email_subscriptions (`+subscriptionColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, sub.ID, sub.Email, sub.ReportType, sub.ScheduleTime, sub.IsActive, nullTime(sub.LastSent),
		sub.CreatedBy, sub.CreatedAt, sub.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: subscription for %s", store.ErrDuplicate, sub.Email)
		}
		return nil, err
	}
	return &sub, nil
}

func (s *Store) GetSubscription(ctx context.Context, id string) (*domain.EmailSubscription, error) {
	sub, err := scanSubscription(s.db.QueryRowContext(ctx, `SELECT `+subscriptionColumns+` FROM email_subscriptions WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *Store) ListSubscriptions(ctx context.Context, activeOnly bool) ([]domain.EmailSubscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+subscriptionColumns+`
		FROM email_subscriptions
		WHERE NOT $1 OR is_active
		ORDER BY created_at
	`, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.EmailSubscription, 0, 16)
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *Store) UpdateSubscription(ctx context.Context, sub domain.EmailSubscription) (*domain.EmailSubscription, error) {
	updated, err := scanSubscription(s.db.QueryRowContext(ctx, `
		UPDATE email_subscriptions
		SET email = $2, schedule_time = $3, is_active = $4, updated_at = $5
		WHERE id = $1
		RETURNING `+subscriptionColumns,
		sub.ID, sub.Email, sub.ScheduleTime, sub.IsActive, sub.UpdatedAt))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: subscription for %s", store.ErrDuplicate, sub.Email)
		}
		return nil, err
	}
	return &updated, nil
}

func (s *Store) DeleteSubscription(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM email_subscriptions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (s *Store) MarkSubscriptionSent(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE email_subscriptions SET last_sent = $2 WHERE id = $1`, id, at)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: username %s", store.ErrDuplicate, user.Username)
	}
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at FROM users ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.UserAccount, 0, 8)
	for rows.Next() {
		var u domain.UserAccount
		if err := rows.Scan(&u.Username, &u.Password, &u.Role, &u.Active, &u.CreatedAt); err != nil {
			return nil, err
		}
		u.CreatedAt = u.CreatedAt.UTC()
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET password = $2 WHERE username = $1`, username, password)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func expectAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func decimalOrNil(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
