package workorder

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/ukydev/fleet-workorders/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Paging defaults for FindAll.
const (
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100
)

// MinQuantityUsed is the smallest quantity a part consumption may record.
var MinQuantityUsed = decimal.RequireFromString("0.01")

// CreateInput carries the fields accepted when raising a work order.
type CreateInput struct {
	AssetID          string               `json:"asset_id" validate:"required,mongodb"`
	ScheduleID       *string              `json:"schedule_id,omitempty" validate:"omitempty,mongodb"`
	Type             models.WorkOrderType `json:"type" validate:"required,oneof=CORRECTIVE PREVENTIVE INSPECTION"`
	Priority         models.Priority      `json:"priority,omitempty" validate:"omitempty,oneof=LOW MEDIUM HIGH URGENT"`
	Description      string               `json:"description" validate:"required"`
	AssignedToUserID *string              `json:"assigned_to_user_id,omitempty" validate:"omitempty,mongodb"`
	Notes            *string              `json:"notes,omitempty"`
}

// UpdateInput carries the editable fields of an open work order. Nil fields
// are left unchanged.
type UpdateInput struct {
	Description      *string          `json:"description,omitempty" validate:"omitempty,min=1"`
	Priority         *models.Priority `json:"priority,omitempty" validate:"omitempty,oneof=LOW MEDIUM HIGH URGENT"`
	AssignedToUserID *string          `json:"assigned_to_user_id,omitempty" validate:"omitempty,mongodb"`
	Notes            *string          `json:"notes,omitempty"`
}

// ConsumePartInput records spare part stock used by a work order.
type ConsumePartInput struct {
	SparePartID  string          `json:"spare_part_id" validate:"required,mongodb"`
	QuantityUsed decimal.Decimal `json:"quantity_used"`
}

// CompleteInput carries the closing figures of a work order.
type CompleteInput struct {
	DowntimeHours *float64         `json:"downtime_hours,omitempty" validate:"omitempty,gte=0"`
	LaborCost     *decimal.Decimal `json:"labor_cost,omitempty"`
	Notes         *string          `json:"notes,omitempty"`
}

// ListQuery selects a page of work orders.
type ListQuery struct {
	Page    int
	Limit   int
	Status  models.WorkOrderStatus
	AssetID *primitive.ObjectID
}

func (q ListQuery) normalized() ListQuery {
	if q.Page < 1 {
		q.Page = DefaultPage
	}
	if q.Limit < 1 {
		q.Limit = DefaultLimit
	}
	if q.Limit > MaxLimit {
		q.Limit = MaxLimit
	}
	return q
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (s *Service) check(in interface{}) error {
	err := s.validate.Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrValidation, strings.Join(msgs, "; "))
}

// parseID parses a hex object id that has already passed validation.
func parseID(hex string) primitive.ObjectID {
	id, _ := primitive.ObjectIDFromHex(hex)
	return id
}
