package handlers

import (
	"context"
	"fmt"
	"net/http"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-workorders/internal/models"
	"github.com/ukydev/fleet-workorders/internal/workorder"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// WorkOrderService is the lifecycle API the handlers drive.
type WorkOrderService interface {
	Create(ctx context.Context, in workorder.CreateInput, actor string) (*models.WorkOrderDetail, error)
	Start(ctx context.Context, id primitive.ObjectID, actor string) (*models.WorkOrder, error)
	ConsumePart(ctx context.Context, id primitive.ObjectID, in workorder.ConsumePartInput, actor string) (*models.PartUsage, error)
	Complete(ctx context.Context, id primitive.ObjectID, in workorder.CompleteInput, actor string) (*models.WorkOrder, error)
	Cancel(ctx context.Context, id primitive.ObjectID, actor string) (*models.WorkOrder, error)
	Update(ctx context.Context, id primitive.ObjectID, in workorder.UpdateInput, actor string) (*models.WorkOrder, error)
	FindAll(ctx context.Context, q workorder.ListQuery) *models.WorkOrderPage
	FindOne(ctx context.Context, id primitive.ObjectID) (*models.WorkOrderDetail, error)
}

// WorkOrderHandler serves the /api/work-orders endpoints.
type WorkOrderHandler struct {
	service WorkOrderService
	log     *log.Logger
}

// NewWorkOrderHandler creates a work order handler.
func NewWorkOrderHandler(service WorkOrderService, logger *log.Logger) *WorkOrderHandler {
	return &WorkOrderHandler{service: service, log: logger}
}

// List handles GET /api/work-orders.
func (h *WorkOrderHandler) List(w http.ResponseWriter, r *http.Request) {
	page, limit := paging(r)
	q := workorder.ListQuery{Page: page, Limit: limit}

	if s := r.URL.Query().Get("status"); s != "" {
		status := models.WorkOrderStatus(s)
		if !models.IsValidWorkOrderStatus(status) {
			writeError(w, r, h.log, fmt.Errorf("%w: unknown status %q", errBadRequest, s))
			return
		}
		q.Status = status
	}
	if s := r.URL.Query().Get("assetId"); s != "" {
		assetID, err := primitive.ObjectIDFromHex(s)
		if err != nil {
			writeError(w, r, h.log, fmt.Errorf("%w: invalid assetId %q", errBadRequest, s))
			return
		}
		q.AssetID = &assetID
	}

	writeJSON(w, http.StatusOK, h.service.FindAll(r.Context(), q))
}

// Get handles GET /api/work-orders/{id}.
func (h *WorkOrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	detail, err := h.service.FindOne(r.Context(), id)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// Create handles POST /api/work-orders.
func (h *WorkOrderHandler) Create(w http.ResponseWriter, r *http.Request) {
	user, ok := actor(r)
	if !ok {
		writeErrorCode(w, CodeUnauthorized, "User context not found")
		return
	}
	var in workorder.CreateInput
	if err := decode(r, &in); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	detail, err := h.service.Create(r.Context(), in, user)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, detail)
}

// Update handles PUT /api/work-orders/{id}.
func (h *WorkOrderHandler) Update(w http.ResponseWriter, r *http.Request) {
	var in workorder.UpdateInput
	body := func(r *http.Request) error { return decode(r, &in) }
	h.transition(w, r, body, func(ctx context.Context, id primitive.ObjectID, user string) (interface{}, error) {
		return h.service.Update(ctx, id, in, user)
	})
}

// Start handles PATCH /api/work-orders/{id}/start.
func (h *WorkOrderHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, nil, func(ctx context.Context, id primitive.ObjectID, user string) (interface{}, error) {
		return h.service.Start(ctx, id, user)
	})
}

// Complete handles PATCH /api/work-orders/{id}/complete. The body is optional.
func (h *WorkOrderHandler) Complete(w http.ResponseWriter, r *http.Request) {
	var in workorder.CompleteInput
	body := func(r *http.Request) error { return decodeOptional(r, &in) }
	h.transition(w, r, body, func(ctx context.Context, id primitive.ObjectID, user string) (interface{}, error) {
		return h.service.Complete(ctx, id, in, user)
	})
}

// Cancel handles PATCH /api/work-orders/{id}/cancel.
func (h *WorkOrderHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, nil, func(ctx context.Context, id primitive.ObjectID, user string) (interface{}, error) {
		return h.service.Cancel(ctx, id, user)
	})
}

// ConsumePart handles POST /api/work-orders/{id}/consume-part.
func (h *WorkOrderHandler) ConsumePart(w http.ResponseWriter, r *http.Request) {
	user, ok := actor(r)
	if !ok {
		writeErrorCode(w, CodeUnauthorized, "User context not found")
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	var in workorder.ConsumePartInput
	if err := decode(r, &in); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	usage, err := h.service.ConsumePart(r.Context(), id, in, user)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, usage)
}

// transition runs an operation on the work order named by the path, reading
// the request body first when body is non-nil, and writes the result with 200.
func (h *WorkOrderHandler) transition(w http.ResponseWriter, r *http.Request, body func(r *http.Request) error,
	op func(ctx context.Context, id primitive.ObjectID, user string) (interface{}, error)) {
	user, ok := actor(r)
	if !ok {
		writeErrorCode(w, CodeUnauthorized, "User context not found")
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	if body != nil {
		if err := body(r); err != nil {
			writeError(w, r, h.log, err)
			return
		}
	}
	result, err := op(r.Context(), id, user)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
