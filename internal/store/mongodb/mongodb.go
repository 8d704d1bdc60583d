package mongodb

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"tyrestock/backend/internal/domain"
	"tyrestock/backend/internal/store"
)

const (
	colCounters       = "counters"
	colCategories     = "categories"
	colItems          = "items"
	colSales          = "sales"
	colCustomers      = "customers"
	colStockPurchases = "stock_purchases"
	colStockEditLogs  = "stock_edit_logs"
	colActivityLogs   = "activity_logs"
	colSubscriptions  = "email_subscriptions"
	colUsers          = "users"
)

// caseInsensitive is the collation used by the unique name indexes.
var caseInsensitive = &options.Collation{Locale: "en", Strength: 2}

type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

func New(ctx context.Context, uri string, database string) (*Store, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	s := &Store{client: client, db: client.Database(database)}
	if err := s.ensureIndexes(connectCtx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ensure indexes: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	unique := func() *options.IndexOptions { return options.Index().SetUnique(true) }
	indexes := map[string][]mongo.IndexModel{
		colCategories: {
			{Keys: bson.D{{Key: "name", Value: 1}}, Options: unique().SetCollation(caseInsensitive)},
		},
		colItems: {
			{Keys: bson.D{{Key: "itemCode", Value: 1}}, Options: unique()},
			{Keys: bson.D{{Key: "name", Value: 1}}, Options: unique().SetCollation(caseInsensitive)},
			{Keys: bson.D{{Key: "category", Value: 1}}},
		},
		colSales: {
			{Keys: bson.D{{Key: "billNumber", Value: 1}}, Options: unique()},
			{Keys: bson.D{{Key: "createdAt", Value: -1}}},
		},
		colCustomers: {
			{Keys: bson.D{{Key: "nic", Value: 1}}, Options: unique().SetCollation(caseInsensitive)},
		},
		colStockPurchases: {
			{Keys: bson.D{{Key: "createdAt", Value: -1}}},
		},
		colStockEditLogs: {
			{Keys: bson.D{{Key: "itemCode", Value: 1}, {Key: "sequence", Value: -1}}},
		},
		colActivityLogs: {
			{Keys: bson.D{{Key: "createdAt", Value: -1}}},
		},
		colSubscriptions: {
			{Keys: bson.D{{Key: "email", Value: 1}, {Key: "reportType", Value: 1}}, Options: unique().SetCollation(caseInsensitive)},
		},
	}
	for name, models := range indexes {
		if _, err := s.db.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func (s *Store) NextSequence(ctx context.Context, name string) (int64, error) {
	var counter struct {
		Value int64 `bson:"value"`
	}
	err := s.db.Collection(colCounters).FindOneAndUpdate(ctx,
		bson.M{"_id": name},
		bson.M{"$inc": bson.M{"value": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	return counter.Value, err
}

func (s *Store) CreateCategory(ctx context.Context, category domain.Category) (*domain.Category, error) {
	if _, err := s.db.Collection(colCategories).InsertOne(ctx, categoryToDoc(category)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, fmt.Errorf("%w: category %q", store.ErrDuplicate, category.Name)
		}
		return nil, err
	}
	return &category, nil
}

func (s *Store) GetCategory(ctx context.Context, id string) (*domain.Category, error) {
	var doc categoryDoc
	if err := findOne(ctx, s.db.Collection(colCategories), bson.M{"_id": id}, &doc); err != nil {
		return nil, err
	}
	c := doc.toDomain()
	return &c, nil
}

func (s *Store) ListCategories(ctx context.Context) ([]domain.Category, error) {
	cursor, err := s.db.Collection(colCategories).Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var docs []categoryDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]domain.Category, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.toDomain())
	}
	return out, nil
}

func (s *Store) CreateItem(ctx context.Context, item domain.Item) (*domain.Item, error) {
	if _, err := s.db.Collection(colItems).InsertOne(ctx, itemToDoc(item)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, fmt.Errorf("%w: item %q", store.ErrDuplicate, item.Name)
		}
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetItemByID(ctx context.Context, id string) (*domain.Item, error) {
	return s.getItem(ctx, bson.M{"_id": id})
}

func (s *Store) GetItemByCode(ctx context.Context, itemCode string) (*domain.Item, error) {
	return s.getItem(ctx, bson.M{"itemCode": itemCode})
}

func (s *Store) getItem(ctx context.Context, filter bson.M) (*domain.Item, error) {
	var doc itemDoc
	if err := findOne(ctx, s.db.Collection(colItems), filter, &doc); err != nil {
		return nil, err
	}
	item := doc.toDomain()
	return &item, nil
}

func (s *Store) ListItems(ctx context.Context, filter domain.ItemFilter) ([]domain.Item, error) {
	query := bson.M{}
	if !filter.IncludeInactive {
		query["isActive"] = true
	}
	if filter.Category != "" {
		query["category"] = filter.Category
	}
	if filter.LowStockOnly {
		query["$expr"] = bson.M{"$lte": bson.A{"$quantityInStock", "$lowerLimit"}}
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		pattern := containsPattern(search)
		query["$or"] = bson.A{
			bson.M{"name": pattern},
			bson.M{"itemCode": pattern},
			bson.M{"brand": pattern},
			bson.M{"size": pattern},
		}
	}

	opts := options.Find().SetSort(bson.D{{Key: "itemCode", Value: 1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}
	cursor, err := s.db.Collection(colItems).Find(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	var docs []itemDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]domain.Item, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.toDomain())
	}
	return out, nil
}

func (s *Store) UpdateItem(ctx context.Context, item domain.Item) (*domain.Item, error) {
	var doc itemDoc
	err := s.db.Collection(colItems).FindOneAndUpdate(ctx,
		bson.M{"_id": item.ID},
		bson.M{"$set": bson.M{
			"name":          item.Name,
			"category":      item.Category,
			"brand":         item.Brand,
			"size":          item.Size,
			"location":      item.Location,
			"purchasePrice": toD128(item.PurchasePrice),
			"retailPrice":   toD128(item.RetailPrice),
			"discount":      toD128(item.Discount),
			"lowerLimit":    item.LowerLimit,
			"isActive":      item.IsActive,
			"updatedAt":     item.UpdatedAt,
		}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, fmt.Errorf("%w: item %q", store.ErrDuplicate, item.Name)
		}
		return nil, err
	}
	updated := doc.toDomain()
	return &updated, nil
}

func (s *Store) DeleteItem(ctx context.Context, id string) error {
	return deleteOne(ctx, s.db.Collection(colItems), id)
}

// AdjustStock performs a guarded $inc: the filter only matches while the
// resulting stock stays non-negative, so concurrent writers cannot oversell.
func (s *Store) AdjustStock(ctx context.Context, change domain.StockChange) (*domain.StockAdjustment, error) {
	filter := bson.M{"itemCode": change.ItemCode}
	if change.Delta < 0 {
		filter["quantityInStock"] = bson.M{"$gte": -change.Delta}
	}
	set := bson.M{"updatedAt": change.At}
	if change.Location != nil {
		set["location"] = *change.Location
	}
	if change.LowerLimit != nil {
		set["lowerLimit"] = *change.LowerLimit
	}
	if change.PurchasePrice != nil {
		set["purchasePrice"] = toD128(*change.PurchasePrice)
	}
	if change.RetailPrice != nil {
		set["retailPrice"] = toD128(*change.RetailPrice)
	}
	if change.Discount != nil {
		set["discount"] = toD128(*change.Discount)
	}

	var doc itemDoc
	err := s.db.Collection(colItems).FindOneAndUpdate(ctx, filter,
		bson.M{"$inc": bson.M{"quantityInStock": change.Delta}, "$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.Before),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		existing, lookupErr := s.GetItemByCode(ctx, change.ItemCode)
		if lookupErr != nil {
			return nil, lookupErr
		}
		return nil, fmt.Errorf("%w: %s has %d, requested %d", store.ErrInsufficientStock, existing.ItemCode, existing.QuantityInStock, -change.Delta)
	}
	if err != nil {
		return nil, err
	}

	before := doc.toDomain()
	after := before
	if _, err := store.ApplyStockChange(&after, change); err != nil {
		return nil, err
	}

	entry := store.NewStockEditLog(before, after, change.ChangeType, change.Reason, change.EditedBy, change.At)
	if err := s.insertStockEditLog(ctx, &entry); err != nil {
		return nil, err
	}
	result := &domain.StockAdjustment{Item: after, Log: entry}
	if change.Delta > 0 {
		purchase := store.NewStockPurchase(after, change.Delta, change.Supplier, change.EditedBy, change.At)
		if _, err := s.db.Collection(colStockPurchases).InsertOne(ctx, stockPurchaseToDoc(purchase)); err != nil {
			return nil, err
		}
		result.Purchase = &purchase
	}
	return result, nil
}

func (s *Store) ListStockPurchases(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.StockPurchase, error) {
	if limit < 1 {
		limit = 100
	}
	cursor, err := s.db.Collection(colStockPurchases).Find(ctx,
		bson.M{"createdAt": bson.M{"$gte": from, "$lt": to}},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}).SetLimit(int64(limit)),
	)
	if err != nil {
		return nil, err
	}
	var docs []stockPurchaseDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]domain.StockPurchase, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.toDomain())
	}
	return out, nil
}

// CreateSale reserves stock with one guarded $inc per item, rolling earlier
// reservations back if any later item or the sale insert fails.
func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, []domain.StockEditLog, error) {
	if len(sale.Items) == 0 {
		return nil, nil, store.ErrInvalidInput
	}

	order := make([]string, 0, len(sale.Items))
	requested := make(map[string]int, len(sale.Items))
	for _, line := range sale.Items {
		if _, ok := requested[line.Item]; !ok {
			order = append(order, line.Item)
		}
		requested[line.Item] += line.Quantity
	}

	items := s.db.Collection(colItems)
	reserved := make(map[string]domain.Item, len(order))
	release := func() {
		for id := range reserved {
			if _, err := items.UpdateOne(context.Background(), bson.M{"_id": id}, bson.M{"$inc": bson.M{"quantityInStock": requested[id]}}); err != nil {
				log.Printf("[mongo-store] WARN: failed to release reserved stock item=%s qty=%d: %v", id, requested[id], err)
			}
		}
	}

	for _, id := range order {
		qty := requested[id]
		var doc itemDoc
		err := items.FindOneAndUpdate(ctx,
			bson.M{"_id": id, "isActive": true, "quantityInStock": bson.M{"$gte": qty}},
			bson.M{"$inc": bson.M{"quantityInStock": -qty}, "$set": bson.M{"updatedAt": sale.CreatedAt}},
			options.FindOneAndUpdate().SetReturnDocument(options.Before),
		).Decode(&doc)
		if errors.Is(err, mongo.ErrNoDocuments) {
			release()
			existing, lookupErr := s.GetItemByID(ctx, id)
			if lookupErr != nil || !existing.IsActive {
				return nil, nil, fmt.Errorf("%w: item %s", store.ErrNotFound, id)
			}
			return nil, nil, fmt.Errorf("%w: %s has %d, requested %d", store.ErrInsufficientStock, existing.ItemCode, existing.QuantityInStock, qty)
		}
		if err != nil {
			release()
			return nil, nil, err
		}
		reserved[id] = doc.toDomain()
	}

	// Walk lines in order so repeated items log consecutive before/after values.
	reason := store.SaleLogReason(sale.BillNumber, false)
	logs := make([]domain.StockEditLog, 0, len(sale.Items))
	for i := range sale.Items {
		line := &sale.Items[i]
		before := reserved[line.Item]
		store.SnapshotSaleLine(line, before)
		after := before
		after.QuantityInStock -= line.Quantity
		after.UpdatedAt = sale.CreatedAt
		reserved[line.Item] = after

		entry := store.NewStockEditLog(before, after, domain.StockChangeSale, reason, sale.Cashier, sale.CreatedAt)
		entry.Sale = sale.ID
		logs = append(logs, entry)
	}

	if _, err := s.db.Collection(colSales).InsertOne(ctx, saleToDoc(sale)); err != nil {
		release()
		if mongo.IsDuplicateKeyError(err) {
			return nil, nil, fmt.Errorf("%w: bill number %s", store.ErrDuplicate, sale.BillNumber)
		}
		return nil, nil, err
	}

	for i := range logs {
		if err := s.insertStockEditLog(ctx, &logs[i]); err != nil {
			log.Printf("[mongo-store] WARN: failed to write stock log sale=%s item=%s: %v", sale.BillNumber, logs[i].ItemCode, err)
		}
	}
	return &sale, logs, nil
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	var doc saleDoc
	if err := findOne(ctx, s.db.Collection(colSales), bson.M{"_id": id}, &doc); err != nil {
		return nil, err
	}
	sale := doc.toDomain()
	return &sale, nil
}

func (s *Store) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	query := bson.M{}
	created := bson.M{}
	if !filter.From.IsZero() {
		created["$gte"] = filter.From
	}
	if !filter.To.IsZero() {
		created["$lt"] = filter.To
	}
	if len(created) > 0 {
		query["createdAt"] = created
	}
	if filter.PaymentMethod != "" {
		query["paymentMethod"] = filter.PaymentMethod
	}
	if search := strings.TrimSpace(filter.CustomerSearch); search != "" {
		pattern := containsPattern(search)
		query["$or"] = bson.A{bson.M{"customerName": pattern}, bson.M{"billNumber": pattern}}
	}

	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}
	cursor, err := s.db.Collection(colSales).Find(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	var docs []saleDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]domain.Sale, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.toDomain())
	}
	return out, nil
}

func (s *Store) DeleteSale(ctx context.Context, id string, editedBy string) (*domain.Sale, []domain.StockEditLog, error) {
	var doc saleDoc
	err := s.db.Collection(colSales).FindOneAndDelete(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil, store.ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	sale := doc.toDomain()

	now := time.Now().UTC()
	reason := store.SaleLogReason(sale.BillNumber, true)
	logs := make([]domain.StockEditLog, 0, len(sale.Items))
	for _, line := range sale.Items {
		var itemBefore itemDoc
		err := s.db.Collection(colItems).FindOneAndUpdate(ctx,
			bson.M{"_id": line.Item},
			bson.M{"$inc": bson.M{"quantityInStock": line.Quantity}, "$set": bson.M{"updatedAt": now}},
			options.FindOneAndUpdate().SetReturnDocument(options.Before),
		).Decode(&itemBefore)
		if errors.Is(err, mongo.ErrNoDocuments) {
			log.Printf("[mongo-store] WARN: item %s of sale %s no longer exists, stock not restored", line.ItemCode, sale.BillNumber)
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		before := itemBefore.toDomain()
		after := before
		after.QuantityInStock += line.Quantity
		after.UpdatedAt = now

		entry := store.NewStockEditLog(before, after, domain.StockChangeSaleReversal, reason, editedBy, now)
		entry.Sale = sale.ID
		if err := s.insertStockEditLog(ctx, &entry); err != nil {
			return nil, nil, err
		}
		logs = append(logs, entry)
	}
	return &sale, logs, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if _, err := s.db.Collection(colCustomers).InsertOne(ctx, customerToDoc(customer)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, fmt.Errorf("%w: customer nic %s", store.ErrDuplicate, customer.NIC)
		}
		return nil, err
	}
	return &customer, nil
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	var doc customerDoc
	if err := findOne(ctx, s.db.Collection(colCustomers), bson.M{"_id": id}, &doc); err != nil {
		return nil, err
	}
	c := doc.toDomain()
	return &c, nil
}

func (s *Store) GetCustomerByNIC(ctx context.Context, nic string) (*domain.Customer, error) {
	var doc customerDoc
	err := s.db.Collection(colCustomers).FindOne(ctx, bson.M{"nic": nic}, options.FindOne().SetCollation(caseInsensitive)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c := doc.toDomain()
	return &c, nil
}

func (s *Store) ListCustomers(ctx context.Context, search string, limit int) ([]domain.Customer, error) {
	if limit < 1 {
		limit = 100
	}
	query := bson.M{}
	if search = strings.TrimSpace(search); search != "" {
		pattern := containsPattern(search)
		query["$or"] = bson.A{bson.M{"name": pattern}, bson.M{"nic": pattern}, bson.M{"phone": pattern}}
	}
	cursor, err := s.db.Collection(colCustomers).Find(ctx, query,
		options.Find().SetSort(bson.D{{Key: "name", Value: 1}}).SetLimit(int64(limit)))
	if err != nil {
		return nil, err
	}
	var docs []customerDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]domain.Customer, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.toDomain())
	}
	return out, nil
}

func (s *Store) UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	var doc customerDoc
	err := s.db.Collection(colCustomers).FindOneAndUpdate(ctx,
		bson.M{"_id": customer.ID},
		bson.M{"$set": bson.M{
			"name":          customer.Name,
			"phone":         customer.Phone,
			"email":         customer.Email,
			"address":       customer.Address,
			"vehicleNumber": customer.VehicleNumber,
			"updatedAt":     customer.UpdatedAt,
		}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c := doc.toDomain()
	return &c, nil
}

func (s *Store) DeleteCustomer(ctx context.Context, id string) error {
	return deleteOne(ctx, s.db.Collection(colCustomers), id)
}

// AdjustCustomerStats uses a pipeline update so loyalty points are derived
// from the new total in the same atomic write.
func (s *Store) AdjustCustomerStats(ctx context.Context, id string, delta domain.CustomerStatsDelta) (*domain.Customer, error) {
	counters := bson.D{
		{Key: "totalSpent", Value: bson.M{"$max": bson.A{bson.M{"$add": bson.A{"$totalSpent", toD128(delta.Spent)}}, 0}}},
		{Key: "purchaseCount", Value: bson.M{"$max": bson.A{bson.M{"$add": bson.A{"$purchaseCount", delta.Purchases}}, 0}}},
		{Key: "updatedAt", Value: delta.At},
	}
	if delta.Purchases > 0 {
		counters = append(counters, bson.E{Key: "lastPurchaseDate", Value: delta.At})
	}
	pipeline := mongo.Pipeline{
		{{Key: "$set", Value: counters}},
		{{Key: "$set", Value: bson.M{"loyaltyPoints": bson.M{"$toLong": bson.M{"$floor": bson.M{"$divide": bson.A{"$totalSpent", 100}}}}}}},
	}

	var doc customerDoc
	err := s.db.Collection(colCustomers).FindOneAndUpdate(ctx, bson.M{"_id": id}, pipeline,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c := doc.toDomain()
	return &c, nil
}

func (s *Store) CreateStockEditLog(ctx context.Context, entry domain.StockEditLog) (*domain.StockEditLog, error) {
	if err := s.insertStockEditLog(ctx, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *Store) insertStockEditLog(ctx context.Context, entry *domain.StockEditLog) error {
	seq, err := s.NextSequence(ctx, domain.SequenceStockEditLog)
	if err != nil {
		return err
	}
	entry.Sequence = seq
	_, err = s.db.Collection(colStockEditLogs).InsertOne(ctx, stockEditLogToDoc(*entry))
	return err
}

func (s *Store) ListStockEditLogs(ctx context.Context, itemCode string, limit int) ([]domain.StockEditLog, error) {
	if limit < 1 {
		limit = 100
	}
	query := bson.M{}
	if itemCode != "" {
		query["itemCode"] = itemCode
	}
	cursor, err := s.db.Collection(colStockEditLogs).Find(ctx, query,
		options.Find().SetSort(bson.D{{Key: "sequence", Value: -1}}).SetLimit(int64(limit)))
	if err != nil {
		return nil, err
	}
	var docs []stockEditLogDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]domain.StockEditLog, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.toDomain())
	}
	return out, nil
}

func (s *Store) CreateActivityLog(ctx context.Context, entry domain.ActivityLog) error {
	seq, err := s.NextSequence(ctx, domain.SequenceActivityLog)
	if err != nil {
		return err
	}
	_, err = s.db.Collection(colActivityLogs).InsertOne(ctx, activityLogDoc{
		ID:            entry.ID,
		Sequence:      seq,
		Action:        entry.Action,
		EntityType:    entry.EntityType,
		EntityID:      entry.EntityID,
		Description:   entry.Description,
		ActorUsername: entry.ActorUsername,
		ActorRole:     entry.ActorRole,
		CreatedAt:     entry.CreatedAt,
	})
	return err
}

func (s *Store) ListActivityLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.ActivityLog, error) {
	if limit < 1 {
		limit = 100
	}
	cursor, err := s.db.Collection(colActivityLogs).Find(ctx,
		bson.M{"createdAt": bson.M{"$gte": from, "$lt": to}},
		options.Find().SetSort(bson.D{{Key: "sequence", Value: -1}}).SetLimit(int64(limit)))
	if err != nil {
		return nil, err
	}
	var docs []activityLogDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]domain.ActivityLog, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.toDomain())
	}
	return out, nil
}

func (s *Store) CreateSubscription(ctx context.Context, sub domain.EmailSubscription) (*domain.EmailSubscription, error) {
	if _, err := s.db.Collection(colSubscriptions).InsertOne(ctx, subscriptionToDoc(sub)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, fmt.Errorf("%w: subscription for %s", store.ErrDuplicate, sub.Email)
		}
		return nil, err
	}
	return &sub, nil
}

func (s *Store) GetSubscription(ctx context.Context, id string) (*domain.EmailSubscription, error) {
	var doc subscriptionDoc
	if err := findOne(ctx, s.db.Collection(colSubscriptions), bson.M{"_id": id}, &doc); err != nil {
		return nil, err
	}
	sub := doc.toDomain()
	return &sub, nil
}

func (s *Store) ListSubscriptions(ctx context.Context, activeOnly bool) ([]domain.EmailSubscription, error) {
	query := bson.M{}
	if activeOnly {
		query["isActive"] = true
	}
	cursor, err := s.db.Collection(colSubscriptions).Find(ctx, query, options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var docs []subscriptionDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]domain.EmailSubscription, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.toDomain())
	}
	return out, nil
}

func (s *Store) UpdateSubscription(ctx context.Context, sub domain.EmailSubscription) (*domain.EmailSubscription, error) {
	var doc subscriptionDoc
	err := s.db.Collection(colSubscriptions).FindOneAndUpdate(ctx,
		bson.M{"_id": sub.ID},
		bson.M{"$set": bson.M{
			"email":        sub.Email,
			"scheduleTime": sub.ScheduleTime,
			"isActive":     sub.IsActive,
			"updatedAt":    sub.UpdatedAt,
		}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, fmt.Errorf("%w: subscription for %s", store.ErrDuplicate, sub.Email)
		}
		return nil, err
	}
	updated := doc.toDomain()
	return &updated, nil
}

func (s *Store) DeleteSubscription(ctx context.Context, id string) error {
	return deleteOne(ctx, s.db.Collection(colSubscriptions), id)
}

func (s *Store) MarkSubscriptionSent(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.Collection(colSubscriptions).UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"lastSent": at}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	_, err := s.db.Collection(colUsers).InsertOne(ctx, userDoc{
		Username:  user.Username,
		Password:  user.Password,
		Role:      user.Role,
		Active:    user.Active,
		CreatedAt: user.CreatedAt,
	})
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: username %s", store.ErrDuplicate, user.Username)
	}
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	cursor, err := s.db.Collection(colUsers).Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var docs []userDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]domain.UserAccount, 0, len(docs))
	for _, doc := range docs {
		out = append(out, domain.UserAccount{
			Username:  doc.Username,
			Password:  doc.Password,
			Role:      doc.Role,
			Active:    doc.Active,
			CreatedAt: doc.CreatedAt.UTC(),
		})
	}
	return out, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.Collection(colUsers).UpdateOne(ctx, bson.M{"_id": username}, bson.M{"$set": bson.M{"password": password}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func findOne(ctx context.Context, col *mongo.Collection, filter bson.M, dest any) error {
	err := col.FindOne(ctx, filter).Decode(dest)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.ErrNotFound
	}
	return err
}

func deleteOne(ctx context.Context, col *mongo.Collection, id string) error {
	res, err := col.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

// containsPattern matches s anywhere in the field, case-insensitively, with
// regex metacharacters escaped.
func containsPattern(s string) bson.M {
	return bson.M{"$regex": regexp.QuoteMeta(s), "$options": "i"}
}

var _ store.Repository = (*Store)(nil)
