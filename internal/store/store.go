package store

import (
	"context"
	"errors"
	"time"

	"tyrestock/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidInput      = errors.New("invalid input")
	ErrDuplicate         = errors.New("already exists")
)

type Repository interface {
	// NextSequence returns the next value of the named counter, starting at 1.
	NextSequence(ctx context.Context, name string) (int64, error)

	CreateCategory(ctx context.Context, category domain.Category) (*domain.Category, error)
	GetCategory(ctx context.Context, id string) (*domain.Category, error)
	ListCategories(ctx context.Context) ([]domain.Category, error)

	CreateItem(ctx context.Context, item domain.Item) (*domain.Item, error)
	GetItemByID(ctx context.Context, id string) (*domain.Item, error)
	GetItemByCode(ctx context.Context, itemCode string) (*domain.Item, error)
	ListItems(ctx context.Context, filter domain.ItemFilter) ([]domain.Item, error)
	UpdateItem(ctx context.Context, item domain.Item) (*domain.Item, error)
	DeleteItem(ctx context.Context, id string) error
	// AdjustStock applies a signed stock delta and optional field updates as one
	// atomic step, rejecting with ErrInsufficientStock if the result would be
	// negative. It appends the StockEditLog and, for additions, a StockPurchase.
	AdjustStock(ctx context.Context, change domain.StockChange) (*domain.StockAdjustment, error)
	ListStockPurchases(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.StockPurchase, error)

	// CreateSale persists the sale, decrements stock for every line and appends
	// one StockEditLog per line, all or nothing.
	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, []domain.StockEditLog, error)
	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error)
	// DeleteSale removes the sale and restores the stock of every line.
	DeleteSale(ctx context.Context, id string, editedBy string) (*domain.Sale, []domain.StockEditLog, error)

	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	GetCustomerByNIC(ctx context.Context, nic string) (*domain.Customer, error)
	ListCustomers(ctx context.Context, search string, limit int) ([]domain.Customer, error)
	UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	DeleteCustomer(ctx context.Context, id string) error
	AdjustCustomerStats(ctx context.Context, id string, delta domain.CustomerStatsDelta) (*domain.Customer, error)

	CreateStockEditLog(ctx context.Context, entry domain.StockEditLog) (*domain.StockEditLog, error)
	ListStockEditLogs(ctx context.Context, itemCode string, limit int) ([]domain.StockEditLog, error)
	CreateActivityLog(ctx context.Context, entry domain.ActivityLog) error
	ListActivityLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.ActivityLog, error)

	CreateSubscription(ctx context.Context, sub domain.EmailSubscription) (*domain.EmailSubscription, error)
	GetSubscription(ctx context.Context, id string) (*domain.EmailSubscription, error)
	ListSubscriptions(ctx context.Context, activeOnly bool) ([]domain.EmailSubscription, error)
	UpdateSubscription(ctx context.Context, sub domain.EmailSubscription) (*domain.EmailSubscription, error)
	DeleteSubscription(ctx context.Context, id string) error
	MarkSubscriptionSent(ctx context.Context, id string, at time.Time) error

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
