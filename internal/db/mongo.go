package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/ukydev/fleet-workorders/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

// Collection names.
const (
	WorkOrdersCollection  = "work_orders"
	PartUsagesCollection  = "part_usages"
	AssetsCollection      = "assets"
	SchedulesCollection   = "maintenance_schedules"
	SparePartsCollection  = "spare_parts"
	HistoryCollectionName = "asset_history"
	UsersCollection       = "users"
)

// ConnectMongo connects to MongoDB at uri with the decimal-aware registry and
// verifies the connection with a ping.
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetRegistry(NewRegistry()))
	if err != nil {
		return nil, fmt.Errorf("mongo.Connect error: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo.Ping error: %w", err)
	}
	return client, nil
}

// MongoStore implements Store on top of a MongoDB database. Transactions need
// a replica set or sharded cluster.
type MongoStore struct {
	client     *mongo.Client
	workOrders *MongoCollection
	partUsages *MongoCollection
	assets     *MongoCollection
	schedules  *MongoCollection
	spareParts *MongoCollection
	history    *MongoCollection
	users      *MongoUserCollection
}

// NewMongoStore binds the store to the named database.
func NewMongoStore(client *mongo.Client, dbName string) *MongoStore {
	database := client.Database(dbName)
	return &MongoStore{
		client:     client,
		workOrders: &MongoCollection{Collection: database.Collection(WorkOrdersCollection)},
		partUsages: &MongoCollection{Collection: database.Collection(PartUsagesCollection)},
		assets:     &MongoCollection{Collection: database.Collection(AssetsCollection)},
		schedules:  &MongoCollection{Collection: database.Collection(SchedulesCollection)},
		spareParts: &MongoCollection{Collection: database.Collection(SparePartsCollection)},
		history:    &MongoCollection{Collection: database.Collection(HistoryCollectionName)},
		users:      &MongoUserCollection{Collection: database.Collection(UsersCollection)},
	}
}

func (s *MongoStore) WorkOrders() WorkOrderCollection { return s.workOrders }
func (s *MongoStore) PartUsages() PartUsageCollection { return s.partUsages }
func (s *MongoStore) Assets() AssetCollection         { return s.assets }
func (s *MongoStore) Schedules() ScheduleCollection   { return s.schedules }
func (s *MongoStore) SpareParts() SparePartCollection { return s.spareParts }
func (s *MongoStore) History() HistoryCollection      { return s.history }
func (s *MongoStore) Users() UserCollection           { return s.users }

// WithTransaction runs fn in a snapshot transaction with majority write
// concern. The driver retries fn on transient errors such as write conflicts
// between concurrent transactions touching the same work order.
func (s *MongoStore) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx Collections) error) error {
	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(ctx)

	txOpts := options.Transaction().
		SetReadConcern(readconcern.Snapshot()).
		SetWriteConcern(writeconcern.Majority())
	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc, s)
	}, txOpts)
	return err
}

// Close disconnects the underlying client.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// EnsureIndexes creates the indexes used by lookups and listings.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	specs := []struct {
		coll   *mongo.Collection
		models []mongo.IndexModel
	}{
		{s.workOrders.Collection, []mongo.IndexModel{
			{Keys: bson.D{{Key: "asset_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: -1}}},
		}},
		{s.partUsages.Collection, []mongo.IndexModel{
			{Keys: bson.D{{Key: "work_order_id", Value: 1}}},
		}},
		{s.history.Collection, []mongo.IndexModel{
			{Keys: bson.D{{Key: "asset_id", Value: 1}, {Key: "created_at", Value: -1}}},
		}},
		{s.assets.Collection, []mongo.IndexModel{
			{Keys: bson.D{{Key: "code", Value: 1}}, Options: options.Index().SetUnique(true)},
		}},
		{s.spareParts.Collection, []mongo.IndexModel{
			{Keys: bson.D{{Key: "part_number", Value: 1}}, Options: options.Index().SetUnique(true)},
		}},
		{s.users.Collection, []mongo.IndexModel{
			{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		}},
	}
	for _, spec := range specs {
		if _, err := spec.coll.Indexes().CreateMany(ctx, spec.models); err != nil {
			return fmt.Errorf("create indexes on %s: %w", spec.coll.Name(), err)
		}
	}
	return nil
}

// MongoCollection wraps a MongoDB collection. One value is bound per
// underlying collection and only the methods for that entity are used on it.
type MongoCollection struct {
	Collection *mongo.Collection
}

func (c *MongoCollection) findByID(ctx context.Context, id primitive.ObjectID, out interface{}) error {
	if c.Collection == nil {
		return ErrNilCollection
	}
	err := c.Collection.FindOne(ctx, bson.M{"_id": id}).Decode(out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	return err
}

func (c *MongoCollection) findPage(ctx context.Context, filter bson.M, skip, limit int64, out interface{}) (int64, error) {
	if c.Collection == nil {
		return 0, ErrNilCollection
	}
	total, err := c.Collection.CountDocuments(ctx, filter)
	if err != nil {
		return 0, err
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetSkip(skip)
	if limit > 0 {
		opts.SetLimit(limit)
	}
	cursor, err := c.Collection.Find(ctx, filter, opts)
	if err != nil {
		return 0, err
	}
	defer cursor.Close(ctx)
	if err := cursor.All(ctx, out); err != nil {
		return 0, err
	}
	return total, nil
}

func (c *MongoCollection) insert(ctx context.Context, doc interface{}) error {
	if c.Collection == nil {
		return ErrNilCollection
	}
	_, err := c.Collection.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicate
	}
	return err
}

// InsertWorkOrder inserts a work order, assigning an id when it has none.
func (c *MongoCollection) InsertWorkOrder(ctx context.Context, wo *models.WorkOrder) error {
	if wo.ID.IsZero() {
		wo.ID = primitive.NewObjectID()
	}
	return c.insert(ctx, wo)
}

// FindWorkOrderByID finds a work order by its ID.
func (c *MongoCollection) FindWorkOrderByID(ctx context.Context, id primitive.ObjectID) (*models.WorkOrder, error) {
	var wo models.WorkOrder
	if err := c.findByID(ctx, id, &wo); err != nil {
		return nil, err
	}
	return &wo, nil
}

// FindWorkOrders returns one page of work orders, newest first, and the total match count.
func (c *MongoCollection) FindWorkOrders(ctx context.Context, filter models.WorkOrderFilter, skip, limit int64) ([]models.WorkOrder, int64, error) {
	q := bson.M{}
	if filter.Status != "" {
		q["status"] = filter.Status
	}
	if filter.AssetID != nil {
		q["asset_id"] = *filter.AssetID
	}
	items := []models.WorkOrder{}
	total, err := c.findPage(ctx, q, skip, limit, &items)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// UpdateWorkOrder replaces a work order whose stored status equals expected.
func (c *MongoCollection) UpdateWorkOrder(ctx context.Context, wo *models.WorkOrder, expected models.WorkOrderStatus) error {
	if c.Collection == nil {
		return ErrNilCollection
	}
	result, err := c.Collection.ReplaceOne(ctx, bson.M{"_id": wo.ID, "status": expected}, wo)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return ErrStatusMismatch
	}
	return nil
}

// InsertPartUsage inserts a part usage row.
func (c *MongoCollection) InsertPartUsage(ctx context.Context, usage *models.PartUsage) error {
	if usage.ID.IsZero() {
		usage.ID = primitive.NewObjectID()
	}
	return c.insert(ctx, usage)
}

// FindPartUsagesByWorkOrder returns every usage row of a work order in insertion order.
func (c *MongoCollection) FindPartUsagesByWorkOrder(ctx context.Context, workOrderID primitive.ObjectID) ([]models.PartUsage, error) {
	if c.Collection == nil {
		return nil, ErrNilCollection
	}
	cursor, err := c.Collection.Find(ctx, bson.M{"work_order_id": workOrderID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)
	usages := []models.PartUsage{}
	if err := cursor.All(ctx, &usages); err != nil {
		return nil, err
	}
	return usages, nil
}

// InsertAsset inserts an asset record.
func (c *MongoCollection) InsertAsset(ctx context.Context, asset *models.Asset) error {
	if asset.ID.IsZero() {
		asset.ID = primitive.NewObjectID()
	}
	return c.insert(ctx, asset)
}

// FindAssetByID finds an asset by its ID.
func (c *MongoCollection) FindAssetByID(ctx context.Context, id primitive.ObjectID) (*models.Asset, error) {
	var asset models.Asset
	if err := c.findByID(ctx, id, &asset); err != nil {
		return nil, err
	}
	return &asset, nil
}

// FindAssets returns one page of assets.
func (c *MongoCollection) FindAssets(ctx context.Context, skip, limit int64) ([]models.Asset, int64, error) {
	items := []models.Asset{}
	total, err := c.findPage(ctx, bson.M{}, skip, limit, &items)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// UpdateAssetStatus sets the status of an asset.
func (c *MongoCollection) UpdateAssetStatus(ctx context.Context, id primitive.ObjectID, status models.AssetStatus) error {
	return c.updateFields(ctx, id, bson.M{"status": status})
}

func (c *MongoCollection) updateFields(ctx context.Context, id primitive.ObjectID, set bson.M) error {
	if c.Collection == nil {
		return ErrNilCollection
	}
	set["updated_at"] = time.Now()
	result, err := c.Collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertSchedule inserts a maintenance schedule.
func (c *MongoCollection) InsertSchedule(ctx context.Context, schedule *models.MaintenanceSchedule) error {
	if schedule.ID.IsZero() {
		schedule.ID = primitive.NewObjectID()
	}
	return c.insert(ctx, schedule)
}

// FindScheduleByID finds a maintenance schedule by its ID.
func (c *MongoCollection) FindScheduleByID(ctx context.Context, id primitive.ObjectID) (*models.MaintenanceSchedule, error) {
	var schedule models.MaintenanceSchedule
	if err := c.findByID(ctx, id, &schedule); err != nil {
		return nil, err
	}
	return &schedule, nil
}

// UpdateScheduleDue records a performed service. A nil nextDueAt leaves the due date untouched.
func (c *MongoCollection) UpdateScheduleDue(ctx context.Context, id primitive.ObjectID, lastPerformedAt time.Time, nextDueAt *time.Time) error {
	set := bson.M{"last_performed_at": lastPerformedAt}
	if nextDueAt != nil {
		set["next_due_at"] = *nextDueAt
	}
	return c.updateFields(ctx, id, set)
}

// InsertSparePart inserts a spare part.
func (c *MongoCollection) InsertSparePart(ctx context.Context, part *models.SparePart) error {
	if part.ID.IsZero() {
		part.ID = primitive.NewObjectID()
	}
	return c.insert(ctx, part)
}

// FindSparePartByID finds a spare part by its ID.
func (c *MongoCollection) FindSparePartByID(ctx context.Context, id primitive.ObjectID) (*models.SparePart, error) {
	var part models.SparePart
	if err := c.findByID(ctx, id, &part); err != nil {
		return nil, err
	}
	return &part, nil
}

// FindSpareParts returns one page of spare parts.
func (c *MongoCollection) FindSpareParts(ctx context.Context, skip, limit int64) ([]models.SparePart, int64, error) {
	items := []models.SparePart{}
	total, err := c.findPage(ctx, bson.M{}, skip, limit, &items)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// UpdateSparePart overwrites the editable fields of a spare part.
func (c *MongoCollection) UpdateSparePart(ctx context.Context, part *models.SparePart) error {
	return c.updateFields(ctx, part.ID, bson.M{
		"name":             part.Name,
		"unit_cost":        part.UnitCost,
		"quantity_on_hand": part.QuantityOnHand,
	})
}

// DecrementStock atomically lowers quantity_on_hand if enough stock is present.
func (c *MongoCollection) DecrementStock(ctx context.Context, id primitive.ObjectID, qty decimal.Decimal) error {
	if c.Collection == nil {
		return ErrNilCollection
	}
	result, err := c.Collection.UpdateOne(ctx,
		bson.M{"_id": id, "quantity_on_hand": bson.M{"$gte": qty}},
		bson.M{
			"$inc": bson.M{"quantity_on_hand": qty.Neg()},
			"$set": bson.M{"updated_at": time.Now()},
		})
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		if _, err := c.FindSparePartByID(ctx, id); err != nil {
			return err
		}
		return ErrInsufficientStock
	}
	return nil
}

// AppendHistory inserts an asset history entry.
func (c *MongoCollection) AppendHistory(ctx context.Context, entry *models.AssetHistory) error {
	if entry.ID.IsZero() {
		entry.ID = primitive.NewObjectID()
	}
	return c.insert(ctx, entry)
}

// FindHistoryByAsset returns one page of history for an asset, newest first.
func (c *MongoCollection) FindHistoryByAsset(ctx context.Context, assetID primitive.ObjectID, skip, limit int64) ([]models.AssetHistory, int64, error) {
	items := []models.AssetHistory{}
	total, err := c.findPage(ctx, bson.M{"asset_id": assetID}, skip, limit, &items)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}
