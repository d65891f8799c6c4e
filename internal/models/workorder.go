package models

import (
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// WorkOrderStatus is the lifecycle state of a work order.
type WorkOrderStatus string

const (
	WorkOrderOpen       WorkOrderStatus = "OPEN"
	WorkOrderInProgress WorkOrderStatus = "IN_PROGRESS"
	WorkOrderCompleted  WorkOrderStatus = "COMPLETED"
	WorkOrderCancelled  WorkOrderStatus = "CANCELLED"
)

// IsTerminal reports whether no further transition is allowed from the status.
func (s WorkOrderStatus) IsTerminal() bool {
	return !s.CanTransitionTo(WorkOrderCompleted) && !s.CanTransitionTo(WorkOrderCancelled)
}

// CanTransitionTo reports whether the state machine allows moving from s to next.
func (s WorkOrderStatus) CanTransitionTo(next WorkOrderStatus) bool {
	switch s {
	case WorkOrderOpen:
		return next == WorkOrderInProgress || next == WorkOrderCancelled || next == WorkOrderCompleted
	case WorkOrderInProgress:
		return next == WorkOrderCompleted || next == WorkOrderCancelled
	default:
		return false
	}
}

// IsValidWorkOrderStatus checks if a status is one of the known work order states.
func IsValidWorkOrderStatus(s WorkOrderStatus) bool {
	switch s {
	case WorkOrderOpen, WorkOrderInProgress, WorkOrderCompleted, WorkOrderCancelled:
		return true
	default:
		return false
	}
}

// WorkOrderType classifies the maintenance performed.
type WorkOrderType string

const (
	WorkOrderCorrective WorkOrderType = "CORRECTIVE"
	WorkOrderPreventive WorkOrderType = "PREVENTIVE"
	WorkOrderInspection WorkOrderType = "INSPECTION"
)

// Priority of a work order.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// WorkOrder represents a maintenance job raised against an asset.
type WorkOrder struct {
	ID               primitive.ObjectID  `json:"id" bson:"_id,omitempty"`
	AssetID          primitive.ObjectID  `json:"asset_id" bson:"asset_id"`
	ScheduleID       *primitive.ObjectID `json:"schedule_id,omitempty" bson:"schedule_id,omitempty"`
	Type             WorkOrderType       `json:"type" bson:"type"`
	Priority         Priority            `json:"priority" bson:"priority"`
	Description      string              `json:"description" bson:"description"`
	AssignedToUserID *primitive.ObjectID `json:"assigned_to_user_id,omitempty" bson:"assigned_to_user_id,omitempty"`
	Notes            *string             `json:"notes,omitempty" bson:"notes,omitempty"`
	Status           WorkOrderStatus     `json:"status" bson:"status"`
	StartedAt        *time.Time          `json:"started_at,omitempty" bson:"started_at,omitempty"`
	CompletedAt      *time.Time          `json:"completed_at,omitempty" bson:"completed_at,omitempty"`
	DowntimeHours    *float64            `json:"downtime_hours,omitempty" bson:"downtime_hours,omitempty"`
	LaborCost        *decimal.Decimal    `json:"labor_cost,omitempty" bson:"labor_cost,omitempty"`
	PartsCost        *decimal.Decimal    `json:"parts_cost,omitempty" bson:"parts_cost,omitempty"`
	TotalCost        *decimal.Decimal    `json:"total_cost,omitempty" bson:"total_cost,omitempty"`
	CreatedBy        string              `json:"created_by" bson:"created_by"`
	CreatedAt        time.Time           `json:"created_at" bson:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at" bson:"updated_at"`
}

// WorkOrderDetail is a work order with its related records attached.
type WorkOrderDetail struct {
	WorkOrder
	Asset      *AssetSummary    `json:"asset,omitempty"`
	Schedule   *ScheduleSummary `json:"schedule,omitempty"`
	AssignedTo *UserSummary     `json:"assigned_to,omitempty"`
	PartUsages []PartUsage      `json:"part_usages,omitempty"`
}

// WorkOrderFilter narrows a work order listing.
type WorkOrderFilter struct {
	Status  WorkOrderStatus
	AssetID *primitive.ObjectID
}

// PageMeta describes the slice of results returned by a paginated listing.
type PageMeta struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

// NewPageMeta builds page metadata for a result set of the given size.
func NewPageMeta(page, limit int, total int64) PageMeta {
	pages := 0
	if limit > 0 {
		pages = int((total + int64(limit) - 1) / int64(limit))
	}
	return PageMeta{Page: page, Limit: limit, Total: total, TotalPages: pages}
}

// WorkOrderPage is one page of work orders.
type WorkOrderPage struct {
	Items []WorkOrder `json:"items"`
	Meta  PageMeta    `json:"meta"`
}
