package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// HistoryEventType classifies an asset history entry.
type HistoryEventType string

const (
	EventWorkOrderCreated   HistoryEventType = "WORK_ORDER_CREATED"
	EventStatusChanged      HistoryEventType = "STATUS_CHANGED"
	EventPartConsumed       HistoryEventType = "PART_CONSUMED"
	EventWorkOrderCompleted HistoryEventType = "WORK_ORDER_COMPLETED"
	EventWorkOrderCancelled HistoryEventType = "WORK_ORDER_CANCELLED"
)

// AssetHistory is an append-only audit entry keyed by asset.
type AssetHistory struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	AssetID      primitive.ObjectID `bson:"asset_id" json:"asset_id"`
	EventType    HistoryEventType   `bson:"event_type" json:"event_type"`
	ActorUserID  string             `bson:"actor_user_id" json:"actor_user_id"`
	MetadataJSON string             `bson:"metadata_json" json:"metadata_json"`
	CreatedAt    time.Time          `bson:"created_at" json:"created_at"`
}
