package models

import (
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// SparePart represents a stocked part that can be consumed by work orders.
type SparePart struct {
	ID             primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	PartNumber     string             `json:"part_number" bson:"part_number"`
	Name           string             `json:"name" bson:"name"`
	UnitCost       decimal.Decimal    `json:"unit_cost" bson:"unit_cost"`
	QuantityOnHand decimal.Decimal    `json:"quantity_on_hand" bson:"quantity_on_hand"`
	CreatedAt      time.Time          `json:"created_at" bson:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at" bson:"updated_at"`
}

// PartUsage records spare part stock consumed by a work order.
// CostSnapshot is the part's unit cost when the usage was recorded and is never recomputed.
type PartUsage struct {
	ID           primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	WorkOrderID  primitive.ObjectID `json:"work_order_id" bson:"work_order_id"`
	SparePartID  primitive.ObjectID `json:"spare_part_id" bson:"spare_part_id"`
	QuantityUsed decimal.Decimal    `json:"quantity_used" bson:"quantity_used"`
	CostSnapshot decimal.Decimal    `json:"cost_snapshot" bson:"cost_snapshot"`
	CreatedBy    string             `json:"created_by" bson:"created_by"`
	CreatedAt    time.Time          `json:"created_at" bson:"created_at"`
}

// LineCost is the cost of this usage line at its snapshot price.
func (u PartUsage) LineCost() decimal.Decimal {
	return u.CostSnapshot.Mul(u.QuantityUsed)
}

// SumPartsCost totals the snapshot cost of the given usage lines.
func SumPartsCost(usages []PartUsage) decimal.Decimal {
	total := decimal.Zero
	for _, u := range usages {
		total = total.Add(u.LineCost())
	}
	return total
}
