package db

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/ukydev/fleet-workorders/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	// ErrNotFound is returned when a lookup by id matches no record.
	ErrNotFound = errors.New("record not found")
	// ErrStatusMismatch is returned when a conditional work order write finds
	// the order in a different status than the caller read.
	ErrStatusMismatch = errors.New("work order status changed")
	// ErrInsufficientStock is returned when a stock decrement would go below zero.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrDuplicate is returned when an insert violates a unique key.
	ErrDuplicate = errors.New("duplicate record")
	// ErrNilCollection is returned by Mongo wrappers built without a collection.
	ErrNilCollection = errors.New("mongo collection is nil")
)

// WorkOrderCollection defines the interface for work order data operations.
type WorkOrderCollection interface {
	InsertWorkOrder(ctx context.Context, wo *models.WorkOrder) error
	FindWorkOrderByID(ctx context.Context, id primitive.ObjectID) (*models.WorkOrder, error)
	FindWorkOrders(ctx context.Context, filter models.WorkOrderFilter, skip, limit int64) ([]models.WorkOrder, int64, error)
	// UpdateWorkOrder replaces the stored order only if its status is still expected.
	UpdateWorkOrder(ctx context.Context, wo *models.WorkOrder, expected models.WorkOrderStatus) error
}

// PartUsageCollection defines the interface for part usage data operations.
type PartUsageCollection interface {
	InsertPartUsage(ctx context.Context, usage *models.PartUsage) error
	FindPartUsagesByWorkOrder(ctx context.Context, workOrderID primitive.ObjectID) ([]models.PartUsage, error)
}

// AssetCollection defines the interface for asset data operations.
type AssetCollection interface {
	InsertAsset(ctx context.Context, asset *models.Asset) error
	FindAssetByID(ctx context.Context, id primitive.ObjectID) (*models.Asset, error)
	FindAssets(ctx context.Context, skip, limit int64) ([]models.Asset, int64, error)
	UpdateAssetStatus(ctx context.Context, id primitive.ObjectID, status models.AssetStatus) error
}

// ScheduleCollection defines the interface for maintenance schedule data operations.
type ScheduleCollection interface {
	InsertSchedule(ctx context.Context, schedule *models.MaintenanceSchedule) error
	FindScheduleByID(ctx context.Context, id primitive.ObjectID) (*models.MaintenanceSchedule, error)
	UpdateScheduleDue(ctx context.Context, id primitive.ObjectID, lastPerformedAt time.Time, nextDueAt *time.Time) error
}

// SparePartCollection defines the interface for spare part data operations.
type SparePartCollection interface {
	InsertSparePart(ctx context.Context, part *models.SparePart) error
	FindSparePartByID(ctx context.Context, id primitive.ObjectID) (*models.SparePart, error)
	FindSpareParts(ctx context.Context, skip, limit int64) ([]models.SparePart, int64, error)
	UpdateSparePart(ctx context.Context, part *models.SparePart) error
	// DecrementStock lowers quantity on hand by qty, failing with
	// ErrInsufficientStock when less than qty is available.
	DecrementStock(ctx context.Context, id primitive.ObjectID, qty decimal.Decimal) error
}

// HistoryCollection defines the interface for the append-only asset history.
type HistoryCollection interface {
	AppendHistory(ctx context.Context, entry *models.AssetHistory) error
	FindHistoryByAsset(ctx context.Context, assetID primitive.ObjectID, skip, limit int64) ([]models.AssetHistory, int64, error)
}

// Collections groups every collection the service reads and writes.
type Collections interface {
	WorkOrders() WorkOrderCollection
	PartUsages() PartUsageCollection
	Assets() AssetCollection
	Schedules() ScheduleCollection
	SpareParts() SparePartCollection
	History() HistoryCollection
	Users() UserCollection
}

// Store is a Collections source that can run several writes as one atomic unit.
type Store interface {
	Collections
	// WithTransaction runs fn inside a transaction. Only the tx collections and
	// ctx passed to fn take part in it. A non-nil error from fn rolls back every
	// write made through tx.
	WithTransaction(ctx context.Context, fn func(ctx context.Context, tx Collections) error) error
	Close(ctx context.Context) error
}
