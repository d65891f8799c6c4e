package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-workorders/internal/db"
	"github.com/ukydev/fleet-workorders/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type createAssetRequest struct {
	Code     string             `json:"code" validate:"required,max=64"`
	Name     string             `json:"name" validate:"required"`
	Category string             `json:"category"`
	Status   models.AssetStatus `json:"status,omitempty" validate:"omitempty,oneof=OPERATIONAL MAINTENANCE BROKEN RETIRED"`
}

type createSparePartRequest struct {
	PartNumber     string          `json:"part_number" validate:"required,max=64"`
	Name           string          `json:"name" validate:"required"`
	UnitCost       decimal.Decimal `json:"unit_cost"`
	QuantityOnHand decimal.Decimal `json:"quantity_on_hand"`
}

type updateSparePartRequest struct {
	Name           *string          `json:"name,omitempty" validate:"omitempty,min=1"`
	UnitCost       *decimal.Decimal `json:"unit_cost,omitempty"`
	QuantityOnHand *decimal.Decimal `json:"quantity_on_hand,omitempty"`
}

type createScheduleRequest struct {
	AssetID       string              `json:"asset_id" validate:"required,mongodb"`
	Name          string              `json:"name" validate:"required"`
	Type          models.ScheduleType `json:"type" validate:"required,oneof=TIME_BASED USAGE_BASED"`
	IntervalDays  *int                `json:"interval_days,omitempty" validate:"omitempty,gt=0"`
	IntervalHours *int                `json:"interval_hours,omitempty" validate:"omitempty,gt=0"`
	NextDueAt     *time.Time          `json:"next_due_at,omitempty"`
}

type page struct {
	Items interface{}     `json:"items"`
	Meta  models.PageMeta `json:"meta"`
}

// CatalogHandler serves the asset, spare part, schedule and history
// endpoints that the work order lifecycle reads from.
type CatalogHandler struct {
	store db.Collections
	log   *log.Logger
	now   func() time.Time
}

// NewCatalogHandler creates a catalog handler.
func NewCatalogHandler(store db.Collections, logger *log.Logger) *CatalogHandler {
	return &CatalogHandler{store: store, log: logger, now: func() time.Time { return time.Now().UTC() }}
}

// CreateAsset handles POST /api/assets.
func (h *CatalogHandler) CreateAsset(w http.ResponseWriter, r *http.Request) {
	var req createAssetRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	status := req.Status
	if status == "" {
		status = models.AssetOperational
	}
	now := h.now()
	asset := &models.Asset{
		Code:      req.Code,
		Name:      req.Name,
		Category:  req.Category,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.store.Assets().InsertAsset(r.Context(), asset); err != nil {
		writeError(w, r, h.log, fmt.Errorf("asset %s: %w", req.Code, err))
		return
	}
	writeJSON(w, http.StatusCreated, asset)
}

// ListAssets handles GET /api/assets.
func (h *CatalogHandler) ListAssets(w http.ResponseWriter, r *http.Request) {
	p, limit := paging(r)
	items, total, err := h.store.Assets().FindAssets(r.Context(), int64((p-1)*limit), int64(limit))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, page{Items: items, Meta: models.NewPageMeta(p, limit, total)})
}

// GetAsset handles GET /api/assets/{id}.
func (h *CatalogHandler) GetAsset(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	asset, err := h.store.Assets().FindAssetByID(r.Context(), id)
	if err != nil {
		writeError(w, r, h.log, fmt.Errorf("asset %s: %w", id.Hex(), err))
		return
	}
	writeJSON(w, http.StatusOK, asset)
}

// AssetHistory handles GET /api/assets/{id}/history, newest entries first.
func (h *CatalogHandler) AssetHistory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	if _, err := h.store.Assets().FindAssetByID(r.Context(), id); err != nil {
		writeError(w, r, h.log, fmt.Errorf("asset %s: %w", id.Hex(), err))
		return
	}
	p, limit := paging(r)
	items, total, err := h.store.History().FindHistoryByAsset(r.Context(), id, int64((p-1)*limit), int64(limit))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, page{Items: items, Meta: models.NewPageMeta(p, limit, total)})
}

// CreateSparePart handles POST /api/spare-parts.
func (h *CatalogHandler) CreateSparePart(w http.ResponseWriter, r *http.Request) {
	var req createSparePartRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	if req.UnitCost.IsNegative() || req.QuantityOnHand.IsNegative() {
		writeError(w, r, h.log, fmt.Errorf("%w: unit_cost and quantity_on_hand must not be negative", errBadRequest))
		return
	}
	now := h.now()
	part := &models.SparePart{
		PartNumber:     req.PartNumber,
		Name:           req.Name,
		UnitCost:       req.UnitCost,
		QuantityOnHand: req.QuantityOnHand,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := h.store.SpareParts().InsertSparePart(r.Context(), part); err != nil {
		writeError(w, r, h.log, fmt.Errorf("spare part %s: %w", req.PartNumber, err))
		return
	}
	writeJSON(w, http.StatusCreated, part)
}

// ListSpareParts handles GET /api/spare-parts.
func (h *CatalogHandler) ListSpareParts(w http.ResponseWriter, r *http.Request) {
	p, limit := paging(r)
	items, total, err := h.store.SpareParts().FindSpareParts(r.Context(), int64((p-1)*limit), int64(limit))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, page{Items: items, Meta: models.NewPageMeta(p, limit, total)})
}

// GetSparePart handles GET /api/spare-parts/{id}.
func (h *CatalogHandler) GetSparePart(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	part, err := h.store.SpareParts().FindSparePartByID(r.Context(), id)
	if err != nil {
		writeError(w, r, h.log, fmt.Errorf("spare part %s: %w", id.Hex(), err))
		return
	}
	writeJSON(w, http.StatusOK, part)
}

// UpdateSparePart handles PATCH /api/spare-parts/{id}. Changing the unit cost
// leaves the cost snapshots of recorded usages untouched.
func (h *CatalogHandler) UpdateSparePart(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	var req updateSparePartRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	part, err := h.store.SpareParts().FindSparePartByID(r.Context(), id)
	if err != nil {
		writeError(w, r, h.log, fmt.Errorf("spare part %s: %w", id.Hex(), err))
		return
	}
	if req.Name != nil {
		part.Name = *req.Name
	}
	if req.UnitCost != nil {
		part.UnitCost = *req.UnitCost
	}
	if req.QuantityOnHand != nil {
		part.QuantityOnHand = *req.QuantityOnHand
	}
	if part.UnitCost.IsNegative() || part.QuantityOnHand.IsNegative() {
		writeError(w, r, h.log, fmt.Errorf("%w: unit_cost and quantity_on_hand must not be negative", errBadRequest))
		return
	}
	if err := h.store.SpareParts().UpdateSparePart(r.Context(), part); err != nil {
		writeError(w, r, h.log, fmt.Errorf("spare part %s: %w", id.Hex(), err))
		return
	}
	part.UpdatedAt = h.now()
	writeJSON(w, http.StatusOK, part)
}

// CreateSchedule handles POST /api/maintenance-schedules.
func (h *CatalogHandler) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req createScheduleRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	if (req.Type == models.ScheduleTimeBased && req.IntervalDays == nil) ||
		(req.Type == models.ScheduleUsageBased && req.IntervalHours == nil) {
		writeError(w, r, h.log, fmt.Errorf("%w: %s schedules need an interval", errBadRequest, req.Type))
		return
	}
	assetID, _ := primitive.ObjectIDFromHex(req.AssetID)
	if _, err := h.store.Assets().FindAssetByID(r.Context(), assetID); err != nil {
		writeError(w, r, h.log, fmt.Errorf("asset %s: %w", req.AssetID, err))
		return
	}
	now := h.now()
	schedule := &models.MaintenanceSchedule{
		AssetID:       assetID,
		Name:          req.Name,
		Type:          req.Type,
		IntervalDays:  req.IntervalDays,
		IntervalHours: req.IntervalHours,
		NextDueAt:     req.NextDueAt,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := h.store.Schedules().InsertSchedule(r.Context(), schedule); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, schedule)
}

// GetSchedule handles GET /api/maintenance-schedules/{id}.
func (h *CatalogHandler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	schedule, err := h.store.Schedules().FindScheduleByID(r.Context(), id)
	if err != nil {
		writeError(w, r, h.log, fmt.Errorf("maintenance schedule %s: %w", id.Hex(), err))
		return
	}
	writeJSON(w, http.StatusOK, schedule)
}
