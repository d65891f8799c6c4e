package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-workorders/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestCatalog_Assets(t *testing.T) {
	api := newTestAPI(t)
	manager, _ := api.token(t, models.RoleManager)
	viewer, _ := api.token(t, models.RoleViewer)

	w := api.do(t, http.MethodPost, "/api/assets", manager, map[string]string{"code": "EXC-01", "name": "Excavator", "category": "machine"})
	require.Equal(t, http.StatusCreated, w.Code)
	var asset models.Asset
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &asset))
	assert.Equal(t, models.AssetOperational, asset.Status)
	assert.False(t, asset.ID.IsZero())

	w = api.do(t, http.MethodPost, "/api/assets", manager, map[string]string{"code": "EXC-01", "name": "Duplicate"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = api.do(t, http.MethodPost, "/api/assets", manager, map[string]string{"code": "EXC-02", "name": "Loader", "status": "EXPLODED"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(t, http.MethodGet, "/api/assets/"+asset.ID.Hex(), viewer, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = api.do(t, http.MethodGet, "/api/assets/"+primitive.NewObjectID().Hex(), viewer, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = api.do(t, http.MethodGet, "/api/assets?limit=1", viewer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listing struct {
		Items []models.Asset  `json:"items"`
		Meta  models.PageMeta `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listing))
	assert.Len(t, listing.Items, 1)
	assert.Equal(t, int64(1), listing.Meta.Total)
}

func TestCatalog_AssetHistory(t *testing.T) {
	api := newTestAPI(t)
	viewer, _ := api.token(t, models.RoleViewer)
	ctx := context.Background()

	asset := &models.Asset{Code: "TRK-07", Name: "Truck", Status: models.AssetOperational}
	require.NoError(t, api.store.Assets().InsertAsset(ctx, asset))
	for _, ev := range []models.HistoryEventType{models.EventWorkOrderCreated, models.EventStatusChanged, models.EventWorkOrderCompleted} {
		require.NoError(t, api.store.History().AppendHistory(ctx, &models.AssetHistory{AssetID: asset.ID, EventType: ev, ActorUserID: "u1", MetadataJSON: "{}"}))
	}

	w := api.do(t, http.MethodGet, "/api/assets/"+asset.ID.Hex()+"/history?limit=2", viewer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listing struct {
		Items []models.AssetHistory `json:"items"`
		Meta  models.PageMeta       `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listing))
	require.Len(t, listing.Items, 2)
	assert.Equal(t, models.EventWorkOrderCompleted, listing.Items[0].EventType)
	assert.Equal(t, int64(3), listing.Meta.Total)
	assert.Equal(t, 2, listing.Meta.TotalPages)

	w = api.do(t, http.MethodGet, "/api/assets/"+primitive.NewObjectID().Hex()+"/history", viewer, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCatalog_SpareParts(t *testing.T) {
	api := newTestAPI(t)
	manager, _ := api.token(t, models.RoleManager)

	w := api.do(t, http.MethodPost, "/api/spare-parts", manager, `{"part_number":"FLT-100","name":"Oil filter","unit_cost":"12.50","quantity_on_hand":"4"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	var part models.SparePart
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &part))
	assert.True(t, decimal.RequireFromString("12.5").Equal(part.UnitCost))

	w = api.do(t, http.MethodPost, "/api/spare-parts", manager, `{"part_number":"FLT-200","name":"Air filter","unit_cost":"-1","quantity_on_hand":"4"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(t, http.MethodPatch, "/api/spare-parts/"+part.ID.Hex(), manager, `{"unit_cost":"15.00"}`)
	require.Equal(t, http.StatusOK, w.Code)
	stored, err := api.store.SpareParts().FindSparePartByID(context.Background(), part.ID)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("15").Equal(stored.UnitCost))
	assert.True(t, decimal.RequireFromString("4").Equal(stored.QuantityOnHand))

	w = api.do(t, http.MethodPatch, "/api/spare-parts/"+part.ID.Hex(), manager, `{"quantity_on_hand":"-3"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(t, http.MethodGet, "/api/spare-parts", manager, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "FLT-100")
}

func TestCatalog_Schedules(t *testing.T) {
	api := newTestAPI(t)
	manager, _ := api.token(t, models.RoleManager)
	asset := &models.Asset{Code: "GEN-3", Name: "Generator", Status: models.AssetOperational}
	require.NoError(t, api.store.Assets().InsertAsset(context.Background(), asset))

	tests := []struct {
		name   string
		body   map[string]interface{}
		status int
	}{
		{"time based", map[string]interface{}{"asset_id": asset.ID.Hex(), "name": "Monthly service", "type": "TIME_BASED", "interval_days": 30}, http.StatusCreated},
		{"usage based", map[string]interface{}{"asset_id": asset.ID.Hex(), "name": "Oil change", "type": "USAGE_BASED", "interval_hours": 250}, http.StatusCreated},
		{"missing interval", map[string]interface{}{"asset_id": asset.ID.Hex(), "name": "Monthly service", "type": "TIME_BASED"}, http.StatusBadRequest},
		{"zero interval", map[string]interface{}{"asset_id": asset.ID.Hex(), "name": "Oil change", "type": "USAGE_BASED", "interval_hours": 0}, http.StatusBadRequest},
		{"unknown type", map[string]interface{}{"asset_id": asset.ID.Hex(), "name": "Whenever", "type": "RANDOM", "interval_days": 3}, http.StatusBadRequest},
		{"unknown asset", map[string]interface{}{"asset_id": primitive.NewObjectID().Hex(), "name": "Monthly service", "type": "TIME_BASED", "interval_days": 30}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := api.do(t, http.MethodPost, "/api/maintenance-schedules", manager, tt.body)
			require.Equal(t, tt.status, w.Code, w.Body.String())
			if tt.status != http.StatusCreated {
				return
			}
			var schedule models.MaintenanceSchedule
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &schedule))
			got := api.do(t, http.MethodGet, "/api/maintenance-schedules/"+schedule.ID.Hex(), manager, nil)
			assert.Equal(t, http.StatusOK, got.Code)
		})
	}
}
