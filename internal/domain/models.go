package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	decimal.MarshalJSONWithoutQuotes = true
}

type Category struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

type CategoryCreateRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type Item struct {
	ID              string          `json:"id"`
	ItemCode        string          `json:"itemCode"`
	Name            string          `json:"name"`
	Category        string          `json:"category"`
	Brand           string          `json:"brand,omitempty"`
	Size            string          `json:"size,omitempty"`
	Location        string          `json:"location,omitempty"`
	QuantityInStock int             `json:"quantityInStock"`
	PurchasePrice   decimal.Decimal `json:"purchasePrice"`
	RetailPrice     decimal.Decimal `json:"retailPrice"`
	Discount        decimal.Decimal `json:"discount"`
	LowerLimit      int             `json:"lowerLimit"`
	IsActive        bool            `json:"isActive"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// IsLowStock reports whether the item is at or below its reorder threshold.
func (i Item) IsLowStock() bool {
	return i.QuantityInStock <= i.LowerLimit
}

type ItemCreateRequest struct {
	Name          string          `json:"name"`
	Category      string          `json:"category"`
	Brand         string          `json:"brand"`
	Size          string          `json:"size"`
	Location      string          `json:"location"`
	PurchasePrice decimal.Decimal `json:"purchasePrice"`
	RetailPrice   decimal.Decimal `json:"retailPrice"`
	Discount      decimal.Decimal `json:"discount"`
	LowerLimit    int             `json:"lowerLimit"`
	InitialStock  int             `json:"initialStock"`
	Supplier      string          `json:"supplier"`
}

type ItemUpdateRequest struct {
	Name          *string          `json:"name,omitempty"`
	Category      *string          `json:"category,omitempty"`
	Brand         *string          `json:"brand,omitempty"`
	Size          *string          `json:"size,omitempty"`
	Location      *string          `json:"location,omitempty"`
	PurchasePrice *decimal.Decimal `json:"purchasePrice,omitempty"`
	RetailPrice   *decimal.Decimal `json:"retailPrice,omitempty"`
	Discount      *decimal.Decimal `json:"discount,omitempty"`
	LowerLimit    *int             `json:"lowerLimit,omitempty"`
	IsActive      *bool            `json:"isActive,omitempty"`
	Reason        string           `json:"reason,omitempty"`
}

type ItemFilter struct {
	Search          string
	Category        string
	LowStockOnly    bool
	IncludeInactive bool
	Limit           int
}

// StockUpdateRequest is the body of PATCH /api/items/code/{itemCode}/stock.
// A positive Quantity is added unless Operation is "subtract".
type StockUpdateRequest struct {
	Quantity      int              `json:"quantity"`
	Operation     string           `json:"operation,omitempty"`
	Location      *string          `json:"location,omitempty"`
	LowerLimit    *int             `json:"lowerLimit,omitempty"`
	PurchasePrice *decimal.Decimal `json:"purchasePrice,omitempty"`
	RetailPrice   *decimal.Decimal `json:"retailPrice,omitempty"`
	Discount      *decimal.Decimal `json:"discount,omitempty"`
	Supplier      string           `json:"supplier,omitempty"`
	Reason        string           `json:"reason,omitempty"`
}

// StockChange is the storage-level form of a stock adjustment. Delta is signed.
type StockChange struct {
	ItemCode      string
	Delta         int
	Location      *string
	LowerLimit    *int
	PurchasePrice *decimal.Decimal
	RetailPrice   *decimal.Decimal
	Discount      *decimal.Decimal
	Supplier      string
	Reason        string
	ChangeType    string
	EditedBy      string
	At            time.Time
}

type StockAdjustment struct {
	Item     Item           `json:"item"`
	Log      StockEditLog   `json:"log"`
	Purchase *StockPurchase `json:"purchase,omitempty"`
}

type StockPurchase struct {
	ID                 string          `json:"id"`
	Item               string          `json:"item"`
	ItemCode           string          `json:"itemCode"`
	ItemName           string          `json:"itemName"`
	Quantity           int             `json:"quantity"`
	PurchasePrice      decimal.Decimal `json:"purchasePrice"`
	TotalPurchaseValue decimal.Decimal `json:"totalPurchaseValue"`
	Supplier           string          `json:"supplier,omitempty"`
	PurchasedBy        string          `json:"purchasedBy"`
	CreatedAt          time.Time       `json:"createdAt"`
}

type StockEditLog struct {
	ID               string           `json:"id"`
	Sequence         int64            `json:"sequence"`
	Item             string           `json:"item"`
	ItemCode         string           `json:"itemCode"`
	ItemName         string           `json:"itemName"`
	ChangeType       string           `json:"changeType"`
	OldStock         int              `json:"oldStock"`
	NewStock         int              `json:"newStock"`
	OldPurchasePrice *decimal.Decimal `json:"oldPurchasePrice,omitempty"`
	NewPurchasePrice *decimal.Decimal `json:"newPurchasePrice,omitempty"`
	OldRetailPrice   *decimal.Decimal `json:"oldRetailPrice,omitempty"`
	NewRetailPrice   *decimal.Decimal `json:"newRetailPrice,omitempty"`
	OldDiscount      *decimal.Decimal `json:"oldDiscount,omitempty"`
	NewDiscount      *decimal.Decimal `json:"newDiscount,omitempty"`
	Reason           string           `json:"reason,omitempty"`
	EditedBy         string           `json:"editedBy"`
	Sale             string           `json:"sale,omitempty"`
	CreatedAt        time.Time        `json:"createdAt"`
}

// BulkItemRow is one row of a bulk item import. Row is the source sheet row
// when the rows came from a spreadsheet upload.
type BulkItemRow struct {
	Row           int             `json:"row,omitempty"`
	Name          string          `json:"name"`
	Category      string          `json:"category"`
	Brand         string          `json:"brand"`
	Size          string          `json:"size"`
	Location      string          `json:"location"`
	PurchasePrice decimal.Decimal `json:"purchasePrice"`
	RetailPrice   decimal.Decimal `json:"retailPrice"`
	Discount      decimal.Decimal `json:"discount"`
	LowerLimit    int             `json:"lowerLimit"`
	InitialStock  int             `json:"initialStock"`
}

type BulkStockRow struct {
	Row           int              `json:"row,omitempty"`
	ItemCode      string           `json:"itemCode"`
	Quantity      int              `json:"quantity"`
	Operation     string           `json:"operation,omitempty"`
	Location      *string          `json:"location,omitempty"`
	LowerLimit    *int             `json:"lowerLimit,omitempty"`
	PurchasePrice *decimal.Decimal `json:"purchasePrice,omitempty"`
	RetailPrice   *decimal.Decimal `json:"retailPrice,omitempty"`
	Discount      *decimal.Decimal `json:"discount,omitempty"`
	Supplier      string           `json:"supplier,omitempty"`
}

type BulkItemsRequest struct {
	Items []BulkItemRow `json:"items"`
}

type BulkStockRequest struct {
	Items []BulkStockRow `json:"items"`
}

type BulkFailure struct {
	Row   int    `json:"row"`
	Key   string `json:"key"`
	Error string `json:"error"`
}

type BulkResult struct {
	Successful []Item        `json:"successful"`
	Failed     []BulkFailure `json:"failed"`
}

type SaleLine struct {
	Item      string          `json:"item"`
	ItemCode  string          `json:"itemCode"`
	Name      string          `json:"name"`
	Category  string          `json:"category,omitempty"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Discount  decimal.Decimal `json:"discount"`
	CostPrice decimal.Decimal `json:"costPrice"`
	Total     decimal.Decimal `json:"total"`
}

type Sale struct {
	ID            string          `json:"id"`
	BillNumber    string          `json:"billNumber"`
	Items         []SaleLine      `json:"items"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Tax           decimal.Decimal `json:"tax"`
	Total         decimal.Decimal `json:"total"`
	PaymentMethod string          `json:"paymentMethod"`
	PaymentStatus string          `json:"paymentStatus"`
	Customer      string          `json:"customer,omitempty"`
	CustomerName  string          `json:"customerName,omitempty"`
	AmountPaid    decimal.Decimal `json:"amountPaid"`
	Balance       decimal.Decimal `json:"balance"`
	Notes         string          `json:"notes,omitempty"`
	Cashier       string          `json:"cashier"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// ItemCount is the number of units across all lines.
func (s Sale) ItemCount() int {
	count := 0
	for _, line := range s.Items {
		count += line.Quantity
	}
	return count
}

type SaleLineRequest struct {
	Item     string           `json:"item"`
	Quantity int              `json:"quantity"`
	Price    *decimal.Decimal `json:"price"`
	Discount decimal.Decimal  `json:"discount"`
	Total    *decimal.Decimal `json:"total"`
}

type SaleCreateRequest struct {
	Items         []SaleLineRequest `json:"items"`
	Subtotal      *decimal.Decimal  `json:"subtotal"`
	Tax           decimal.Decimal   `json:"tax"`
	Total         *decimal.Decimal  `json:"total"`
	PaymentMethod string            `json:"paymentMethod"`
	PaymentStatus string            `json:"paymentStatus,omitempty"`
	Customer      string            `json:"customer,omitempty"`
	CustomerName  string            `json:"customerName,omitempty"`
	AmountPaid    *decimal.Decimal  `json:"amountPaid,omitempty"`
	Notes         string            `json:"notes,omitempty"`
}

type SaleFilter struct {
	From           time.Time
	To             time.Time
	CustomerSearch string
	PaymentMethod  string
	Limit          int
}

type SalesReportResponse struct {
	Sales   []Sale      `json:"sales"`
	Summary SalesReport `json:"summary"`
}

type Customer struct {
	ID               string          `json:"id"`
	NIC              string          `json:"nic"`
	Name             string          `json:"name"`
	Phone            string          `json:"phone,omitempty"`
	Email            string          `json:"email,omitempty"`
	Address          string          `json:"address,omitempty"`
	VehicleNumber    string          `json:"vehicleNumber,omitempty"`
	TotalSpent       decimal.Decimal `json:"totalSpent"`
	PurchaseCount    int             `json:"purchaseCount"`
	LastPurchaseDate *time.Time      `json:"lastPurchaseDate,omitempty"`
	LoyaltyPoints    int64           `json:"loyaltyPoints"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

type CustomerCreateRequest struct {
	NIC           string `json:"nic"`
	Name          string `json:"name"`
	Phone         string `json:"phone"`
	Email         string `json:"email"`
	Address       string `json:"address"`
	VehicleNumber string `json:"vehicleNumber"`
}

type CustomerUpdateRequest struct {
	Name          *string `json:"name,omitempty"`
	Phone         *string `json:"phone,omitempty"`
	Email         *string `json:"email,omitempty"`
	Address       *string `json:"address,omitempty"`
	VehicleNumber *string `json:"vehicleNumber,omitempty"`
}

// CustomerStatsDelta is applied atomically to a customer's purchase counters.
type CustomerStatsDelta struct {
	Spent     decimal.Decimal
	Purchases int
	At        time.Time
}

// LoyaltyPointsFor returns one point per 100 currency units spent.
func LoyaltyPointsFor(totalSpent decimal.Decimal) int64 {
	if totalSpent.Sign() <= 0 {
		return 0
	}
	return totalSpent.Div(decimal.NewFromInt(100)).Floor().IntPart()
}

type ActivityLog struct {
	ID            string    `json:"id"`
	Sequence      int64     `json:"sequence"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entityType"`
	EntityID      string    `json:"entityId"`
	Description   string    `json:"description"`
	ActorUsername string    `json:"actorUsername"`
	ActorRole     string    `json:"actorRole"`
	CreatedAt     time.Time `json:"createdAt"`
}

type EmailSubscription struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	ReportType   string     `json:"reportType"`
	ScheduleTime string     `json:"scheduleTime"`
	IsActive     bool       `json:"isActive"`
	LastSent     *time.Time `json:"lastSent,omitempty"`
	CreatedBy    string     `json:"createdBy,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

type SubscriptionCreateRequest struct {
	Email        string `json:"email"`
	ScheduleTime string `json:"scheduleTime"`
	IsActive     *bool  `json:"isActive,omitempty"`
}

type SubscriptionUpdateRequest struct {
	Email        *string `json:"email,omitempty"`
	ScheduleTime *string `json:"scheduleTime,omitempty"`
	IsActive     *bool   `json:"isActive,omitempty"`
}

type SendNowRequest struct {
	Emails []string `json:"emails,omitempty"`
	Date   string   `json:"date,omitempty"`
}

type SendNowResponse struct {
	SuccessfulEmails []string         `json:"successfulEmails"`
	FailedEmails     []FailedDelivery `json:"failedEmails"`
}

// RunDueRequest triggers the scheduled reports of one HH:MM slot of today.
// An empty Time means the current minute.
type RunDueRequest struct {
	Time string `json:"time,omitempty"`
}

type RunDueResponse struct {
	Slot  string `json:"slot"`
	Sent  int    `json:"sent"`
	Error string `json:"error,omitempty"`
}

type FailedDelivery struct {
	Email string `json:"email"`
	Error string `json:"error"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"accessToken"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expiresAt"`
}

type Actor struct {
	Username string
	Role     string
}

type UserCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type User struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
}

type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleCashier = "cashier"
)

const (
	PaymentCash         = "cash"
	PaymentCard         = "card"
	PaymentBankTransfer = "bank_transfer"
	PaymentCheque       = "cheque"
	PaymentCredit       = "credit"
)

const (
	PaymentStatusPaid    = "paid"
	PaymentStatusPartial = "partial"
	PaymentStatusPending = "pending"
)

const (
	StockChangeSale         = "sale"
	StockChangeSaleReversal = "sale_reversal"
	StockChangeAdd          = "stock_add"
	StockChangeSubtract     = "stock_subtract"
	StockChangeEdit         = "edit"
)

const ReportTypeDailySales = "daily_sales"

// Counter names handed to Repository.NextSequence.
const (
	SequenceItemCode     = "item_code"
	SequenceBillNumber   = "bill_number"
	SequenceStockEditLog = "stock_edit_log"
	SequenceActivityLog  = "activity_log"
)
