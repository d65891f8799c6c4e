package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-workorders/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestMemoryStore_TransactionRollsBack(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	asset := &models.Asset{Code: "TRK-1", Name: "Truck", Status: models.AssetOperational}
	require.NoError(t, store.Assets().InsertAsset(ctx, asset))

	boom := errors.New("boom")
	err := store.WithTransaction(ctx, func(ctx context.Context, tx Collections) error {
		require.NoError(t, tx.Assets().UpdateAssetStatus(ctx, asset.ID, models.AssetMaintenance))
		require.NoError(t, tx.History().AppendHistory(ctx, &models.AssetHistory{AssetID: asset.ID, EventType: models.EventStatusChanged}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := store.Assets().FindAssetByID(ctx, asset.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AssetOperational, got.Status)

	entries, total, err := store.History().FindHistoryByAsset(ctx, asset.ID, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Zero(t, total)
}

func TestMemoryStore_TransactionCommits(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	asset := &models.Asset{Code: "TRK-2", Status: models.AssetOperational}
	require.NoError(t, store.Assets().InsertAsset(ctx, asset))

	err := store.WithTransaction(ctx, func(ctx context.Context, tx Collections) error {
		return tx.Assets().UpdateAssetStatus(ctx, asset.ID, models.AssetBroken)
	})
	require.NoError(t, err)

	got, err := store.Assets().FindAssetByID(ctx, asset.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AssetBroken, got.Status)
}

func TestMemoryStore_UpdateWorkOrderChecksStatus(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	wo := &models.WorkOrder{Status: models.WorkOrderOpen}
	require.NoError(t, store.WorkOrders().InsertWorkOrder(ctx, wo))

	wo.Status = models.WorkOrderInProgress
	require.NoError(t, store.WorkOrders().UpdateWorkOrder(ctx, wo, models.WorkOrderOpen))

	wo.Status = models.WorkOrderCancelled
	assert.ErrorIs(t, store.WorkOrders().UpdateWorkOrder(ctx, wo, models.WorkOrderOpen), ErrStatusMismatch)

	unknown := &models.WorkOrder{ID: primitive.NewObjectID()}
	assert.ErrorIs(t, store.WorkOrders().UpdateWorkOrder(ctx, unknown, models.WorkOrderOpen), ErrStatusMismatch)
}

func TestMemoryStore_DecrementStock(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	part := &models.SparePart{PartNumber: "P-1", QuantityOnHand: decimal.NewFromInt(5)}
	require.NoError(t, store.SpareParts().InsertSparePart(ctx, part))

	require.NoError(t, store.SpareParts().DecrementStock(ctx, part.ID, decimal.NewFromInt(3)))
	assert.ErrorIs(t, store.SpareParts().DecrementStock(ctx, part.ID, decimal.NewFromInt(3)), ErrInsufficientStock)
	assert.ErrorIs(t, store.SpareParts().DecrementStock(ctx, primitive.NewObjectID(), decimal.NewFromInt(1)), ErrNotFound)

	got, err := store.SpareParts().FindSparePartByID(ctx, part.ID)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(2).Equal(got.QuantityOnHand))
}

func TestMemoryStore_FindWorkOrdersFiltersAndPages(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	assetA, assetB := primitive.NewObjectID(), primitive.NewObjectID()
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		wo := &models.WorkOrder{AssetID: assetA, Status: models.WorkOrderOpen, CreatedAt: base.Add(time.Duration(i) * time.Hour)}
		require.NoError(t, store.WorkOrders().InsertWorkOrder(ctx, wo))
	}
	require.NoError(t, store.WorkOrders().InsertWorkOrder(ctx, &models.WorkOrder{AssetID: assetB, Status: models.WorkOrderCompleted, CreatedAt: base}))

	items, total, err := store.WorkOrders().FindWorkOrders(ctx, models.WorkOrderFilter{AssetID: &assetA}, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	require.Len(t, items, 2)
	assert.Equal(t, base.Add(2*time.Hour), items[0].CreatedAt)
	assert.Equal(t, base.Add(1*time.Hour), items[1].CreatedAt)

	items, total, err = store.WorkOrders().FindWorkOrders(ctx, models.WorkOrderFilter{Status: models.WorkOrderCompleted}, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, assetB, items[0].AssetID)

	items, _, err = store.WorkOrders().FindWorkOrders(ctx, models.WorkOrderFilter{}, 50, 10)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestMemoryStore_ScheduleDue(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	schedule := &models.MaintenanceSchedule{Type: models.ScheduleTimeBased}
	require.NoError(t, store.Schedules().InsertSchedule(ctx, schedule))

	performed := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, store.Schedules().UpdateScheduleDue(ctx, schedule.ID, performed, nil))

	got, err := store.Schedules().FindScheduleByID(ctx, schedule.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastPerformedAt)
	assert.Equal(t, performed, *got.LastPerformedAt)
	assert.Nil(t, got.NextDueAt)
}

func TestMemoryStore_Users(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	user := &models.User{Username: "tech", Email: "tech@example.com", Role: models.RoleTechnician}
	require.NoError(t, store.Users().InsertUser(ctx, user))
	assert.True(t, user.IsActive)

	assert.ErrorIs(t, store.Users().InsertUser(ctx, &models.User{Username: "tech", Email: "other@example.com"}), ErrDuplicate)

	found, err := store.Users().FindUserByUsername(ctx, "tech")
	require.NoError(t, err)
	assert.Equal(t, user.ID, found.ID)

	_, err = store.Users().FindUserByEmail(ctx, "missing@example.com")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Users().UpdateLastLogin(ctx, user.ID))
	found, err = store.Users().FindUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.NotNil(t, found.LastLogin)
}
