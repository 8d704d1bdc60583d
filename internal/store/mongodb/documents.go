package mongodb

import (
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"tyrestock/backend/internal/domain"
)

type categoryDoc struct {
	ID          string    `bson:"_id"`
	Name        string    `bson:"name"`
	Description string    `bson:"description"`
	CreatedAt   time.Time `bson:"createdAt"`
}

type itemDoc struct {
	ID              string               `bson:"_id"`
	ItemCode        string               `bson:"itemCode"`
	Name            string               `bson:"name"`
	Category        string               `bson:"category"`
	Brand           string               `bson:"brand"`
	Size            string               `bson:"size"`
	Location        string               `bson:"location"`
	QuantityInStock int                  `bson:"quantityInStock"`
	PurchasePrice   primitive.Decimal128 `bson:"purchasePrice"`
	RetailPrice     primitive.Decimal128 `bson:"retailPrice"`
	Discount        primitive.Decimal128 `bson:"discount"`
	LowerLimit      int                  `bson:"lowerLimit"`
	IsActive        bool                 `bson:"isActive"`
	CreatedAt       time.Time            `bson:"createdAt"`
	UpdatedAt       time.Time            `bson:"updatedAt"`
}

type saleLineDoc struct {
	Item      string               `bson:"item"`
	ItemCode  string               `bson:"itemCode"`
	Name      string               `bson:"name"`
	Category  string               `bson:"category"`
	Quantity  int                  `bson:"quantity"`
	Price     primitive.Decimal128 `bson:"price"`
	Discount  primitive.Decimal128 `bson:"discount"`
	CostPrice primitive.Decimal128 `bson:"costPrice"`
	Total     primitive.Decimal128 `bson:"total"`
}

type saleDoc struct {
	ID            string               `bson:"_id"`
	BillNumber    string               `bson:"billNumber"`
	Items         []saleLineDoc        `bson:"items"`
	Subtotal      primitive.Decimal128 `bson:"subtotal"`
	Tax           primitive.Decimal128 `bson:"tax"`
	Total         primitive.Decimal128 `bson:"total"`
	PaymentMethod string               `bson:"paymentMethod"`
	PaymentStatus string               `bson:"paymentStatus"`
	Customer      string               `bson:"customer,omitempty"`
	CustomerName  string               `bson:"customerName,omitempty"`
	AmountPaid    primitive.Decimal128 `bson:"amountPaid"`
	Balance       primitive.Decimal128 `bson:"balance"`
	Notes         string               `bson:"notes,omitempty"`
	Cashier       string               `bson:"cashier"`
	CreatedAt     time.Time            `bson:"createdAt"`
}

type customerDoc struct {
	ID               string               `bson:"_id"`
	NIC              string               `bson:"nic"`
	Name             string               `bson:"name"`
	Phone            string               `bson:"phone"`
	Email            string               `bson:"email"`
	Address          string               `bson:"address"`
	VehicleNumber    string               `bson:"vehicleNumber"`
	TotalSpent       primitive.Decimal128 `bson:"totalSpent"`
	PurchaseCount    int                  `bson:"purchaseCount"`
	LastPurchaseDate *time.Time           `bson:"lastPurchaseDate,omitempty"`
	LoyaltyPoints    int64                `bson:"loyaltyPoints"`
	CreatedAt        time.Time            `bson:"createdAt"`
	UpdatedAt        time.Time            `bson:"updatedAt"`
}

type stockPurchaseDoc struct {
	ID                 string               `bson:"_id"`
	Item               string               `bson:"item"`
	ItemCode           string               `bson:"itemCode"`
	ItemName           string               `bson:"itemName"`
	Quantity           int                  `bson:"quantity"`
	PurchasePrice      primitive.Decimal128 `bson:"purchasePrice"`
	TotalPurchaseValue primitive.Decimal128 `bson:"totalPurchaseValue"`
	Supplier           string               `bson:"supplier,omitempty"`
	PurchasedBy        string               `bson:"purchasedBy"`
	CreatedAt          time.Time            `bson:"createdAt"`
}

type stockEditLogDoc struct {
	ID               string                `bson:"_id"`
	Sequence         int64                 `bson:"sequence"`
	Item             string                `bson:"item"`
	ItemCode         string                `bson:"itemCode"`
	ItemName         string                `bson:"itemName"`
	ChangeType       string                `bson:"changeType"`
	OldStock         int                   `bson:"oldStock"`
	NewStock         int                   `bson:"newStock"`
	OldPurchasePrice *primitive.Decimal128 `bson:"oldPurchasePrice,omitempty"`
	NewPurchasePrice *primitive.Decimal128 `bson:"newPurchasePrice,omitempty"`
	OldRetailPrice   *primitive.Decimal128 `bson:"oldRetailPrice,omitempty"`
	NewRetailPrice   *primitive.Decimal128 `bson:"newRetailPrice,omitempty"`
	OldDiscount      *primitive.Decimal128 `bson:"oldDiscount,omitempty"`
	NewDiscount      *primitive.Decimal128 `bson:"newDiscount,omitempty"`
	Reason           string                `bson:"reason,omitempty"`
	EditedBy         string                `bson:"editedBy"`
	Sale             string                `bson:"sale,omitempty"`
	CreatedAt        time.Time             `bson:"createdAt"`
}

type activityLogDoc struct {
	ID            string    `bson:"_id"`
	Sequence      int64     `bson:"sequence"`
	Action        string    `bson:"action"`
	EntityType    string    `bson:"entityType"`
	EntityID      string    `bson:"entityId"`
	Description   string    `bson:"description"`
	ActorUsername string    `bson:"actorUsername"`
	ActorRole     string    `bson:"actorRole"`
	CreatedAt     time.Time `bson:"createdAt"`
}

type subscriptionDoc struct {
	ID           string     `bson:"_id"`
	Email        string     `bson:"email"`
	ReportType   string     `bson:"reportType"`
	ScheduleTime string     `bson:"scheduleTime"`
	IsActive     bool       `bson:"isActive"`
	LastSent     *time.Time `bson:"lastSent,omitempty"`
	CreatedBy    string     `bson:"createdBy,omitempty"`
	CreatedAt    time.Time  `bson:"createdAt"`
	UpdatedAt    time.Time  `bson:"updatedAt"`
}

type userDoc struct {
	Username  string    `bson:"_id"`
	Password  string    `bson:"password"`
	Role      string    `bson:"role"`
	Active    bool      `bson:"active"`
	CreatedAt time.Time `bson:"createdAt"`
}

func toD128(d decimal.Decimal) primitive.Decimal128 {
	v, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		return primitive.NewDecimal128(0, 0)
	}
	return v
}

func fromD128(v primitive.Decimal128) decimal.Decimal {
	d, err := decimal.NewFromString(v.String())
	if err != nil {
		return decimal.Zero
	}
	return d
}

func toD128Ptr(d *decimal.Decimal) *primitive.Decimal128 {
	if d == nil {
		return nil
	}
	v := toD128(*d)
	return &v
}

func fromD128Ptr(v *primitive.Decimal128) *decimal.Decimal {
	if v == nil {
		return nil
	}
	d := fromD128(*v)
	return &d
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

func categoryToDoc(c domain.Category) categoryDoc {
	return categoryDoc{ID: c.ID, Name: c.Name, Description: c.Description, CreatedAt: c.CreatedAt}
}

func (d categoryDoc) toDomain() domain.Category {
	return domain.Category{ID: d.ID, Name: d.Name, Description: d.Description, CreatedAt: d.CreatedAt.UTC()}
}

func itemToDoc(i domain.Item) itemDoc {
	return itemDoc{
		ID:              i.ID,
		ItemCode:        i.ItemCode,
		Name:            i.Name,
		Category:        i.Category,
		Brand:           i.Brand,
		Size:            i.Size,
		Location:        i.Location,
		QuantityInStock: i.QuantityInStock,
		PurchasePrice:   toD128(i.PurchasePrice),
		RetailPrice:     toD128(i.RetailPrice),
		Discount:        toD128(i.Discount),
		LowerLimit:      i.LowerLimit,
		IsActive:        i.IsActive,
		CreatedAt:       i.CreatedAt,
		UpdatedAt:       i.UpdatedAt,
	}
}

func (d itemDoc) toDomain() domain.Item {
	return domain.Item{
		ID:              d.ID,
		ItemCode:        d.ItemCode,
		Name:            d.Name,
		Category:        d.Category,
		Brand:           d.Brand,
		Size:            d.Size,
		Location:        d.Location,
		QuantityInStock: d.QuantityInStock,
		PurchasePrice:   fromD128(d.PurchasePrice),
		RetailPrice:     fromD128(d.RetailPrice),
		Discount:        fromD128(d.Discount),
		LowerLimit:      d.LowerLimit,
		IsActive:        d.IsActive,
		CreatedAt:       d.CreatedAt.UTC(),
		UpdatedAt:       d.UpdatedAt.UTC(),
	}
}

func saleToDoc(s domain.Sale) saleDoc {
	lines := make([]saleLineDoc, 0, len(s.Items))
	for _, line := range s.Items {
		lines = append(lines, saleLineDoc{
			Item:      line.Item,
			ItemCode:  line.ItemCode,
			Name:      line.Name,
			Category:  line.Category,
			Quantity:  line.Quantity,
			Price:     toD128(line.Price),
			Discount:  toD128(line.Discount),
			CostPrice: toD128(line.CostPrice),
			Total:     toD128(line.Total),
		})
	}
	return saleDoc{
		ID:            s.ID,
		BillNumber:    s.BillNumber,
		Items:         lines,
		Subtotal:      toD128(s.Subtotal),
		Tax:           toD128(s.Tax),
		Total:         toD128(s.Total),
		PaymentMethod: s.PaymentMethod,
		PaymentStatus: s.PaymentStatus,
		Customer:      s.Customer,
		CustomerName:  s.CustomerName,
		AmountPaid:    toD128(s.AmountPaid),
		Balance:       toD128(s.Balance),
		Notes:         s.Notes,
		Cashier:       s.Cashier,
		CreatedAt:     s.CreatedAt,
	}
}

func (d saleDoc) toDomain() domain.Sale {
	lines := make([]domain.SaleLine, 0, len(d.Items))
	for _, line := range d.Items {
		lines = append(lines, domain.SaleLine{
			Item:      line.Item,
			ItemCode:  line.ItemCode,
			Name:      line.Name,
			Category:  line.Category,
			Quantity:  line.Quantity,
			Price:     fromD128(line.Price),
			Discount:  fromD128(line.Discount),
			CostPrice: fromD128(line.CostPrice),
			Total:     fromD128(line.Total),
		})
	}
	return domain.Sale{
		ID:            d.ID,
		BillNumber:    d.BillNumber,
		Items:         lines,
		Subtotal:      fromD128(d.Subtotal),
		Tax:           fromD128(d.Tax),
		Total:         fromD128(d.Total),
		PaymentMethod: d.PaymentMethod,
		PaymentStatus: d.PaymentStatus,
		Customer:      d.Customer,
		CustomerName:  d.CustomerName,
		AmountPaid:    fromD128(d.AmountPaid),
		Balance:       fromD128(d.Balance),
		Notes:         d.Notes,
		Cashier:       d.Cashier,
		CreatedAt:     d.CreatedAt.UTC(),
	}
}

func customerToDoc(c domain.Customer) customerDoc {
	return customerDoc{
		ID:               c.ID,
		NIC:              c.NIC,
		Name:             c.Name,
		Phone:            c.Phone,
		Email:            c.Email,
		Address:          c.Address,
		VehicleNumber:    c.VehicleNumber,
		TotalSpent:       toD128(c.TotalSpent),
		PurchaseCount:    c.PurchaseCount,
		LastPurchaseDate: c.LastPurchaseDate,
		LoyaltyPoints:    c.LoyaltyPoints,
		CreatedAt:        c.CreatedAt,
		UpdatedAt:        c.UpdatedAt,
	}
}

func (d customerDoc) toDomain() domain.Customer {
	return domain.Customer{
		ID:               d.ID,
		NIC:              d.NIC,
		Name:             d.Name,
		Phone:            d.Phone,
		Email:            d.Email,
		Address:          d.Address,
		VehicleNumber:    d.VehicleNumber,
		TotalSpent:       fromD128(d.TotalSpent),
		PurchaseCount:    d.PurchaseCount,
		LastPurchaseDate: utcPtr(d.LastPurchaseDate),
		LoyaltyPoints:    d.LoyaltyPoints,
		CreatedAt:        d.CreatedAt.UTC(),
		UpdatedAt:        d.UpdatedAt.UTC(),
	}
}

func stockPurchaseToDoc(p domain.StockPurchase) stockPurchaseDoc {
	return stockPurchaseDoc{
		ID:                 p.ID,
		Item:               p.Item,
		ItemCode:           p.ItemCode,
		ItemName:           p.ItemName,
		Quantity:           p.Quantity,
		PurchasePrice:      toD128(p.PurchasePrice),
		TotalPurchaseValue: toD128(p.TotalPurchaseValue),
		Supplier:           p.Supplier,
		PurchasedBy:        p.PurchasedBy,
		CreatedAt:          p.CreatedAt,
	}
}

func (d stockPurchaseDoc) toDomain() domain.StockPurchase {
	return domain.StockPurchase{
		ID:                 d.ID,
		Item:               d.Item,
		ItemCode:           d.ItemCode,
		ItemName:           d.ItemName,
		Quantity:           d.Quantity,
		PurchasePrice:      fromD128(d.PurchasePrice),
		TotalPurchaseValue: fromD128(d.TotalPurchaseValue),
		Supplier:           d.Supplier,
		PurchasedBy:        d.PurchasedBy,
		CreatedAt:          d.CreatedAt.UTC(),
	}
}

func stockEditLogToDoc(e domain.StockEditLog) stockEditLogDoc {
	return stockEditLogDoc{
		ID:               e.ID,
		Sequence:         e.Sequence,
		Item:             e.Item,
		ItemCode:         e.ItemCode,
		ItemName:         e.ItemName,
		ChangeType:       e.ChangeType,
		OldStock:         e.OldStock,
		NewStock:         e.NewStock,
		OldPurchasePrice: toD128Ptr(e.OldPurchasePrice),
		NewPurchasePrice: toD128Ptr(e.NewPurchasePrice),
		OldRetailPrice:   toD128Ptr(e.OldRetailPrice),
		NewRetailPrice:   toD128Ptr(e.NewRetailPrice),
		OldDiscount:      toD128Ptr(e.OldDiscount),
		NewDiscount:      toD128Ptr(e.NewDiscount),
		Reason:           e.Reason,
		EditedBy:         e.EditedBy,
		Sale:             e.Sale,
		CreatedAt:        e.CreatedAt,
	}
}

func (d stockEditLogDoc) toDomain() domain.StockEditLog {
	return domain.StockEditLog{
		ID:               d.ID,
		Sequence:         d.Sequence,
		Item:             d.Item,
		ItemCode:         d.ItemCode,
		ItemName:         d.ItemName,
		ChangeType:       d.ChangeType,
		OldStock:         d.OldStock,
		NewStock:         d.NewStock,
		OldPurchasePrice: fromD128Ptr(d.OldPurchasePrice),
		NewPurchasePrice: fromD128Ptr(d.NewPurchasePrice),
		OldRetailPrice:   fromD128Ptr(d.OldRetailPrice),
		NewRetailPrice:   fromD128Ptr(d.NewRetailPrice),
		OldDiscount:      fromD128Ptr(d.OldDiscount),
		NewDiscount:      fromD128Ptr(d.NewDiscount),
		Reason:           d.Reason,
		EditedBy:         d.EditedBy,
		Sale:             d.Sale,
		CreatedAt:        d.CreatedAt.UTC(),
	}
}

func (d activityLogDoc) toDomain() domain.ActivityLog {
	return domain.ActivityLog{
		ID:            d.ID,
		Sequence:      d.Sequence,
		Action:        d.Action,
		EntityType:    d.EntityType,
		EntityID:      d.EntityID,
		Description:   d.Description,
		ActorUsername: d.ActorUsername,
		ActorRole:     d.ActorRole,
		CreatedAt:     d.CreatedAt.UTC(),
	}
}

func subscriptionToDoc(s domain.EmailSubscription) subscriptionDoc {
	return subscriptionDoc{
		ID:           s.ID,
		Email:        s.Email,
		ReportType:   s.ReportType,
		ScheduleTime: s.ScheduleTime,
		IsActive:     s.IsActive,
		LastSent:     s.LastSent,
		CreatedBy:    s.CreatedBy,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}
}

func (d subscriptionDoc) toDomain() domain.EmailSubscription {
	return domain.EmailSubscription{
		ID:           d.ID,
		Email:        d.Email,
		ReportType:   d.ReportType,
		ScheduleTime: d.ScheduleTime,
		IsActive:     d.IsActive,
		LastSent:     utcPtr(d.LastSent),
		CreatedBy:    d.CreatedBy,
		CreatedAt:    d.CreatedAt.UTC(),
		UpdatedAt:    d.UpdatedAt.UTC(),
	}
}
