// Package workorder implements the work order lifecycle: creation, execution,
// part consumption, completion with cost rollup and cancellation, together
// with the side effects each transition has on the asset, its maintenance
// schedule, the parts inventory and the asset history.
package workorder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-workorders/internal/db"
	"github.com/ukydev/fleet-workorders/internal/events"
	"github.com/ukydev/fleet-workorders/internal/metrics"
	"github.com/ukydev/fleet-workorders/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Service runs work order operations against a transactional store.
type Service struct {
	store     db.Store
	publisher events.Publisher
	metrics   *metrics.Metrics
	log       *log.Entry
	validate  *validator.Validate
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher sets the publisher that receives committed lifecycle events.
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithMetrics sets the metrics the service records into.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Service) { s.log = l.WithField("component", "workorder") }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a work order service.
func NewService(store db.Store, opts ...Option) *Service {
	s := &Service{
		store:     store,
		publisher: events.NopPublisher{},
		log:       log.StandardLogger().WithField("component", "workorder"),
		validate:  newValidator(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create raises a new OPEN work order against an asset.
func (s *Service) Create(ctx context.Context, in CreateInput, actor string) (detail *models.WorkOrderDetail, err error) {
	defer s.observe("create", time.Now(), &err)

	if err := s.check(in); err != nil {
		return nil, err
	}
	assetID := parseID(in.AssetID)
	priority := in.Priority
	if priority == "" {
		priority = models.PriorityMedium
	}

	err = s.store.WithTransaction(ctx, func(ctx context.Context, tx db.Collections) error {
		asset, err := tx.Assets().FindAssetByID(ctx, assetID)
		if err != nil {
			return reference(err, "asset "+in.AssetID)
		}

		var schedule *models.MaintenanceSchedule
		if in.ScheduleID != nil {
			schedule, err = tx.Schedules().FindScheduleByID(ctx, parseID(*in.ScheduleID))
			if err != nil {
				return reference(err, "maintenance schedule "+*in.ScheduleID)
			}
			if schedule.AssetID != asset.ID {
				return fmt.Errorf("%w: maintenance schedule %s does not belong to asset %s", ErrValidation, *in.ScheduleID, in.AssetID)
			}
		}

		var assignee *models.User
		if in.AssignedToUserID != nil {
			assignee, err = tx.Users().FindUserByID(ctx, parseID(*in.AssignedToUserID))
			if err != nil {
				return reference(err, "user "+*in.AssignedToUserID)
			}
		}

		now := s.now()
		wo := &models.WorkOrder{
			AssetID:     asset.ID,
			Type:        in.Type,
			Priority:    priority,
			Description: in.Description,
			Notes:       in.Notes,
			Status:      models.WorkOrderOpen,
			CreatedBy:   actor,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if schedule != nil {
			wo.ScheduleID = &schedule.ID
		}
		if assignee != nil {
			wo.AssignedToUserID = &assignee.ID
		}
		if err := tx.WorkOrders().InsertWorkOrder(ctx, wo); err != nil {
			return fmt.Errorf("insert work order: %w", err)
		}

		if err := appendHistory(ctx, tx, asset.ID, models.EventWorkOrderCreated, actor, now, map[string]interface{}{
			"work_order_id": wo.ID.Hex(),
			"type":          wo.Type,
			"priority":      wo.Priority,
			"description":   wo.Description,
		}); err != nil {
			return err
		}

		detail = &models.WorkOrderDetail{WorkOrder: *wo, Asset: asset.Summary()}
		if schedule != nil {
			detail.Schedule = schedule.Summary()
		}
		if assignee != nil {
			detail.AssignedTo = assignee.Summary()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.committed(ctx, events.WorkOrderCreated, &detail.WorkOrder, actor, nil)
	return detail, nil
}

// Start moves an OPEN work order to IN_PROGRESS. An OPERATIONAL asset is put
// into MAINTENANCE in the same transaction.
func (s *Service) Start(ctx context.Context, id primitive.ObjectID, actor string) (wo *models.WorkOrder, err error) {
	defer s.observe("start", time.Now(), &err)

	var assetChanged bool
	err = s.store.WithTransaction(ctx, func(ctx context.Context, tx db.Collections) error {
		order, err := loadOrder(ctx, tx, id)
		if err != nil {
			return err
		}
		if !order.Status.CanTransitionTo(models.WorkOrderInProgress) {
			return fmt.Errorf("%w: only open work orders can be started", ErrConflict)
		}
		asset, err := tx.Assets().FindAssetByID(ctx, order.AssetID)
		if err != nil {
			return translate(err, "asset "+order.AssetID.Hex())
		}

		now := s.now()
		order.Status = models.WorkOrderInProgress
		order.StartedAt = &now
		order.UpdatedAt = now
		if err := tx.WorkOrders().UpdateWorkOrder(ctx, order, models.WorkOrderOpen); err != nil {
			return translate(err, "work order "+id.Hex())
		}

		assetChanged = asset.Status == models.AssetOperational
		if assetChanged {
			if err := changeAssetStatus(ctx, tx, asset, models.AssetMaintenance, order, actor, now, "Work order started"); err != nil {
				return err
			}
		}
		wo = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.committed(ctx, events.WorkOrderStarted, wo, actor, map[string]interface{}{"asset_status_changed": assetChanged})
	return wo, nil
}

// ConsumePart records stock used by a non-terminal work order. The usage
// keeps the part's current unit cost, stock is decremented by exactly the
// quantity used, and the order's parts and total cost are recomputed from all
// of its usage rows.
func (s *Service) ConsumePart(ctx context.Context, id primitive.ObjectID, in ConsumePartInput, actor string) (usage *models.PartUsage, err error) {
	defer s.observe("consume_part", time.Now(), &err)

	if err := s.check(in); err != nil {
		return nil, err
	}
	if in.QuantityUsed.LessThan(MinQuantityUsed) {
		return nil, fmt.Errorf("%w: quantity_used must be at least %s", ErrValidation, MinQuantityUsed)
	}
	partID := parseID(in.SparePartID)

	var order *models.WorkOrder
	err = s.store.WithTransaction(ctx, func(ctx context.Context, tx db.Collections) error {
		wo, err := loadOrder(ctx, tx, id)
		if err != nil {
			return err
		}
		if wo.Status.IsTerminal() {
			return fmt.Errorf("%w: cannot consume parts on a %s work order", ErrConflict, wo.Status)
		}
		part, err := tx.SpareParts().FindSparePartByID(ctx, partID)
		if err != nil {
			return translate(err, "spare part "+in.SparePartID)
		}
		if part.QuantityOnHand.LessThan(in.QuantityUsed) {
			return fmt.Errorf("%w: spare part %s has %s on hand, %s requested",
				ErrInsufficientStock, part.PartNumber, part.QuantityOnHand, in.QuantityUsed)
		}

		now := s.now()
		u := &models.PartUsage{
			WorkOrderID:  wo.ID,
			SparePartID:  part.ID,
			QuantityUsed: in.QuantityUsed,
			CostSnapshot: part.UnitCost,
			CreatedBy:    actor,
			CreatedAt:    now,
		}
		if err := tx.PartUsages().InsertPartUsage(ctx, u); err != nil {
			return fmt.Errorf("insert part usage: %w", err)
		}
		if err := tx.SpareParts().DecrementStock(ctx, part.ID, in.QuantityUsed); err != nil {
			return translate(err, "spare part "+part.PartNumber)
		}

		usages, err := tx.PartUsages().FindPartUsagesByWorkOrder(ctx, wo.ID)
		if err != nil {
			return fmt.Errorf("load part usages: %w", err)
		}
		labor := decimal.Zero
		if wo.LaborCost != nil {
			labor = *wo.LaborCost
		}
		applyCosts(wo, models.SumPartsCost(usages), labor)
		wo.UpdatedAt = now
		if err := tx.WorkOrders().UpdateWorkOrder(ctx, wo, wo.Status); err != nil {
			return translate(err, "work order "+id.Hex())
		}

		if err := appendHistory(ctx, tx, wo.AssetID, models.EventPartConsumed, actor, now, map[string]interface{}{
			"work_order_id": wo.ID.Hex(),
			"spare_part_id": part.ID.Hex(),
			"part_number":   part.PartNumber,
			"quantity_used": in.QuantityUsed,
			"cost_snapshot": part.UnitCost,
			"line_cost":     u.LineCost(),
		}); err != nil {
			return err
		}
		usage, order = u, wo
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.committed(ctx, events.PartConsumed, order, actor, map[string]interface{}{
		"spare_part_id": usage.SparePartID.Hex(),
		"quantity_used": usage.QuantityUsed,
		"parts_cost":    order.PartsCost,
	})
	return usage, nil
}

// Complete closes a non-terminal work order. Parts cost is recomputed from the
// usage rows, the linked schedule is advanced and an asset under MAINTENANCE
// or BROKEN returns to OPERATIONAL, all in one transaction.
func (s *Service) Complete(ctx context.Context, id primitive.ObjectID, in CompleteInput, actor string) (wo *models.WorkOrder, err error) {
	defer s.observe("complete", time.Now(), &err)

	if err := s.check(in); err != nil {
		return nil, err
	}
	labor := decimal.Zero
	if in.LaborCost != nil {
		labor = *in.LaborCost
	}
	if labor.IsNegative() {
		return nil, fmt.Errorf("%w: labor_cost must not be negative", ErrValidation)
	}

	err = s.store.WithTransaction(ctx, func(ctx context.Context, tx db.Collections) error {
		order, err := loadOrder(ctx, tx, id)
		if err != nil {
			return err
		}
		if !order.Status.CanTransitionTo(models.WorkOrderCompleted) {
			return fmt.Errorf("%w: work order is already %s", ErrConflict, order.Status)
		}
		usages, err := tx.PartUsages().FindPartUsagesByWorkOrder(ctx, order.ID)
		if err != nil {
			return fmt.Errorf("load part usages: %w", err)
		}
		asset, err := tx.Assets().FindAssetByID(ctx, order.AssetID)
		if err != nil {
			return translate(err, "asset "+order.AssetID.Hex())
		}

		now := s.now()
		previous := order.Status
		order.Status = models.WorkOrderCompleted
		order.CompletedAt = &now
		order.DowntimeHours = in.DowntimeHours
		if in.Notes != nil {
			order.Notes = in.Notes
		}
		applyCosts(order, models.SumPartsCost(usages), labor)
		order.UpdatedAt = now
		if err := tx.WorkOrders().UpdateWorkOrder(ctx, order, previous); err != nil {
			return translate(err, "work order "+id.Hex())
		}

		if order.ScheduleID != nil {
			schedule, err := tx.Schedules().FindScheduleByID(ctx, *order.ScheduleID)
			if err != nil {
				return translate(err, "maintenance schedule "+order.ScheduleID.Hex())
			}
			if err := tx.Schedules().UpdateScheduleDue(ctx, schedule.ID, now, schedule.NextDueFrom(now)); err != nil {
				return translate(err, "maintenance schedule "+schedule.ID.Hex())
			}
		}

		if asset.Status == models.AssetMaintenance || asset.Status == models.AssetBroken {
			if err := changeAssetStatus(ctx, tx, asset, models.AssetOperational, order, actor, now, "Work order completed"); err != nil {
				return err
			}
		}

		if err := appendHistory(ctx, tx, order.AssetID, models.EventWorkOrderCompleted, actor, now, map[string]interface{}{
			"work_order_id":  order.ID.Hex(),
			"type":           order.Type,
			"total_cost":     order.TotalCost,
			"downtime_hours": order.DowntimeHours,
		}); err != nil {
			return err
		}
		wo = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.committed(ctx, events.WorkOrderCompleted, wo, actor, map[string]interface{}{
		"parts_cost": wo.PartsCost,
		"labor_cost": wo.LaborCost,
		"total_cost": wo.TotalCost,
	})
	return wo, nil
}

// Cancel moves a non-terminal work order to CANCELLED and returns an asset
// under MAINTENANCE to OPERATIONAL.
func (s *Service) Cancel(ctx context.Context, id primitive.ObjectID, actor string) (wo *models.WorkOrder, err error) {
	defer s.observe("cancel", time.Now(), &err)

	err = s.store.WithTransaction(ctx, func(ctx context.Context, tx db.Collections) error {
		order, err := loadOrder(ctx, tx, id)
		if err != nil {
			return err
		}
		if !order.Status.CanTransitionTo(models.WorkOrderCancelled) {
			return fmt.Errorf("%w: work order is already %s", ErrConflict, order.Status)
		}
		asset, err := tx.Assets().FindAssetByID(ctx, order.AssetID)
		if err != nil {
			return translate(err, "asset "+order.AssetID.Hex())
		}

		now := s.now()
		previous := order.Status
		order.Status = models.WorkOrderCancelled
		order.UpdatedAt = now
		if err := tx.WorkOrders().UpdateWorkOrder(ctx, order, previous); err != nil {
			return translate(err, "work order "+id.Hex())
		}

		if asset.Status == models.AssetMaintenance {
			if err := changeAssetStatus(ctx, tx, asset, models.AssetOperational, order, actor, now, "Work order cancelled"); err != nil {
				return err
			}
		}

		if err := appendHistory(ctx, tx, order.AssetID, models.EventWorkOrderCancelled, actor, now, map[string]interface{}{
			"work_order_id":   order.ID.Hex(),
			"previous_status": previous,
		}); err != nil {
			return err
		}
		wo = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.committed(ctx, events.WorkOrderCancelled, wo, actor, nil)
	return wo, nil
}

// Update merges the supplied fields into a non-terminal work order.
func (s *Service) Update(ctx context.Context, id primitive.ObjectID, in UpdateInput, actor string) (wo *models.WorkOrder, err error) {
	defer s.observe("update", time.Now(), &err)

	if err := s.check(in); err != nil {
		return nil, err
	}

	err = s.store.WithTransaction(ctx, func(ctx context.Context, tx db.Collections) error {
		order, err := loadOrder(ctx, tx, id)
		if err != nil {
			return err
		}
		if order.Status.IsTerminal() {
			return fmt.Errorf("%w: cannot update a %s work order", ErrConflict, order.Status)
		}
		if in.AssignedToUserID != nil {
			user, err := tx.Users().FindUserByID(ctx, parseID(*in.AssignedToUserID))
			if err != nil {
				return reference(err, "user "+*in.AssignedToUserID)
			}
			order.AssignedToUserID = &user.ID
		}
		if in.Description != nil {
			order.Description = *in.Description
		}
		if in.Priority != nil {
			order.Priority = *in.Priority
		}
		if in.Notes != nil {
			order.Notes = in.Notes
		}
		order.UpdatedAt = s.now()
		if err := tx.WorkOrders().UpdateWorkOrder(ctx, order, order.Status); err != nil {
			return translate(err, "work order "+id.Hex())
		}
		wo = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.committed(ctx, events.WorkOrderUpdated, wo, actor, nil)
	return wo, nil
}

// FindAll returns one page of work orders, newest first. It never fails: a
// store error yields an empty page echoing the page and limit as requested,
// before defaults and clamping.
func (s *Service) FindAll(ctx context.Context, q ListQuery) *models.WorkOrderPage {
	start := time.Now()
	n := q.normalized()
	filter := models.WorkOrderFilter{Status: n.Status, AssetID: n.AssetID}
	skip := int64(n.Page-1) * int64(n.Limit)

	items, total, err := s.store.WorkOrders().FindWorkOrders(ctx, filter, skip, int64(n.Limit))
	s.metrics.RecordOperation("find_all", resultLabel(err), time.Since(start))
	if err != nil {
		s.log.WithError(err).WithFields(log.Fields{
			"page":  q.Page,
			"limit": q.Limit,
		}).Warn("listing work orders failed, returning empty page")
		return &models.WorkOrderPage{Items: []models.WorkOrder{}, Meta: models.NewPageMeta(q.Page, q.Limit, 0)}
	}
	if items == nil {
		items = []models.WorkOrder{}
	}
	return &models.WorkOrderPage{Items: items, Meta: models.NewPageMeta(n.Page, n.Limit, total)}
}

// FindOne returns a work order with its asset, schedule, assignee and part
// usages attached.
func (s *Service) FindOne(ctx context.Context, id primitive.ObjectID) (detail *models.WorkOrderDetail, err error) {
	defer s.observe("find_one", time.Now(), &err)

	wo, err := loadOrder(ctx, s.store, id)
	if err != nil {
		return nil, err
	}
	detail = &models.WorkOrderDetail{WorkOrder: *wo}

	asset, err := s.store.Assets().FindAssetByID(ctx, wo.AssetID)
	switch {
	case err == nil:
		detail.Asset = asset.Summary()
	case !errors.Is(err, db.ErrNotFound):
		return nil, fmt.Errorf("load asset: %w", err)
	}

	if wo.ScheduleID != nil {
		schedule, err := s.store.Schedules().FindScheduleByID(ctx, *wo.ScheduleID)
		switch {
		case err == nil:
			detail.Schedule = schedule.Summary()
		case !errors.Is(err, db.ErrNotFound):
			return nil, fmt.Errorf("load schedule: %w", err)
		}
	}

	if wo.AssignedToUserID != nil {
		user, err := s.store.Users().FindUserByID(ctx, *wo.AssignedToUserID)
		switch {
		case err == nil:
			detail.AssignedTo = user.Summary()
		case !errors.Is(err, db.ErrNotFound):
			return nil, fmt.Errorf("load assignee: %w", err)
		}
	}

	detail.PartUsages, err = s.store.PartUsages().FindPartUsagesByWorkOrder(ctx, wo.ID)
	if err != nil {
		return nil, fmt.Errorf("load part usages: %w", err)
	}
	return detail, nil
}

func loadOrder(ctx context.Context, c db.Collections, id primitive.ObjectID) (*models.WorkOrder, error) {
	wo, err := c.WorkOrders().FindWorkOrderByID(ctx, id)
	if err != nil {
		return nil, translate(err, "work order "+id.Hex())
	}
	return wo, nil
}

// reference reports a missing referenced record as a validation failure.
func reference(err error, what string) error {
	if errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("%w: %s does not exist", ErrValidation, what)
	}
	return fmt.Errorf("load %s: %w", what, err)
}

// applyCosts sets parts, labor and total cost so that total = parts + labor.
func applyCosts(wo *models.WorkOrder, parts, labor decimal.Decimal) {
	total := parts.Add(labor)
	wo.PartsCost = &parts
	wo.LaborCost = &labor
	wo.TotalCost = &total
}

func changeAssetStatus(ctx context.Context, tx db.Collections, asset *models.Asset, to models.AssetStatus, wo *models.WorkOrder, actor string, at time.Time, reason string) error {
	if err := tx.Assets().UpdateAssetStatus(ctx, asset.ID, to); err != nil {
		return translate(err, "asset "+asset.ID.Hex())
	}
	return appendHistory(ctx, tx, asset.ID, models.EventStatusChanged, actor, at, map[string]interface{}{
		"work_order_id": wo.ID.Hex(),
		"old_status":    asset.Status,
		"new_status":    to,
		"reason":        reason,
	})
}

func appendHistory(ctx context.Context, tx db.Collections, assetID primitive.ObjectID, kind models.HistoryEventType, actor string, at time.Time, metadata map[string]interface{}) error {
	raw, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("encode %s metadata: %w", kind, err)
	}
	entry := &models.AssetHistory{
		AssetID:      assetID,
		EventType:    kind,
		ActorUserID:  actor,
		MetadataJSON: string(raw),
		CreatedAt:    at,
	}
	if err := tx.History().AppendHistory(ctx, entry); err != nil {
		return fmt.Errorf("append %s history: %w", kind, err)
	}
	return nil
}

// committed logs a committed transition and publishes its event. Publishing
// failures are logged and counted but never fail the operation.
func (s *Service) committed(ctx context.Context, kind string, wo *models.WorkOrder, actor string, data map[string]interface{}) {
	entry := s.log.WithFields(log.Fields{
		"event":         kind,
		"work_order_id": wo.ID.Hex(),
		"asset_id":      wo.AssetID.Hex(),
		"status":        wo.Status,
		"actor":         actor,
	})
	entry.Info("work order transition committed")

	err := s.publisher.Publish(ctx, events.Event{
		Kind:        kind,
		WorkOrderID: wo.ID.Hex(),
		AssetID:     wo.AssetID.Hex(),
		ActorUserID: actor,
		Status:      string(wo.Status),
		OccurredAt:  s.now(),
		Data:        data,
	})
	s.metrics.RecordEventPublish(kind, err)
	if err != nil {
		entry.WithError(err).Warn("failed to publish work order event")
	}
}

func (s *Service) observe(operation string, start time.Time, errp *error) {
	s.metrics.RecordOperation(operation, resultLabel(*errp), time.Since(start))
}
