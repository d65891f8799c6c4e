package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ScheduleType selects how the next due date of a schedule is derived.
type ScheduleType string

const (
	ScheduleTimeBased  ScheduleType = "TIME_BASED"
	ScheduleUsageBased ScheduleType = "USAGE_BASED"
)

// MaintenanceSchedule represents a recurring maintenance plan for an asset.
type MaintenanceSchedule struct {
	ID              primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	AssetID         primitive.ObjectID `json:"asset_id" bson:"asset_id"`
	Name            string             `json:"name" bson:"name"`
	Type            ScheduleType       `json:"type" bson:"type"`
	IntervalDays    *int               `json:"interval_days,omitempty" bson:"interval_days,omitempty"`
	IntervalHours   *int               `json:"interval_hours,omitempty" bson:"interval_hours,omitempty"`
	LastPerformedAt *time.Time         `json:"last_performed_at,omitempty" bson:"last_performed_at,omitempty"`
	NextDueAt       *time.Time         `json:"next_due_at,omitempty" bson:"next_due_at,omitempty"`
	CreatedAt       time.Time          `json:"created_at" bson:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at" bson:"updated_at"`
}

// NextDueFrom returns the due date that follows a service performed at the given time.
// USAGE_BASED schedules advance by wall-clock hours; there is no usage meter behind them.
// A nil result means the schedule has no interval for its type.
func (s *MaintenanceSchedule) NextDueFrom(performedAt time.Time) *time.Time {
	var next time.Time
	switch s.Type {
	case ScheduleTimeBased:
		if s.IntervalDays == nil {
			return nil
		}
		next = performedAt.AddDate(0, 0, *s.IntervalDays)
	case ScheduleUsageBased:
		if s.IntervalHours == nil {
			return nil
		}
		next = performedAt.Add(time.Duration(*s.IntervalHours) * time.Hour)
	default:
		return nil
	}
	return &next
}

// ScheduleSummary is the compact schedule view embedded in work order responses.
type ScheduleSummary struct {
	ID        primitive.ObjectID `json:"id"`
	Name      string             `json:"name"`
	Type      ScheduleType       `json:"type"`
	NextDueAt *time.Time         `json:"next_due_at,omitempty"`
}

// Summary returns the compact view of the schedule.
func (s *MaintenanceSchedule) Summary() *ScheduleSummary {
	return &ScheduleSummary{ID: s.ID, Name: s.Name, Type: s.Type, NextDueAt: s.NextDueAt}
}
