package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// AssetStatus is the operational state of an asset.
type AssetStatus string

const (
	AssetOperational AssetStatus = "OPERATIONAL"
	AssetMaintenance AssetStatus = "MAINTENANCE"
	AssetBroken      AssetStatus = "BROKEN"
	AssetRetired     AssetStatus = "RETIRED"
)

// IsValidAssetStatus checks if a status is one of the known asset states.
func IsValidAssetStatus(s AssetStatus) bool {
	switch s {
	case AssetOperational, AssetMaintenance, AssetBroken, AssetRetired:
		return true
	default:
		return false
	}
}

// Asset represents a piece of equipment or a vehicle that work orders are raised against.
type Asset struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Code      string             `bson:"code" json:"code"`
	Name      string             `bson:"name" json:"name"`
	Category  string             `bson:"category" json:"category"` // "vehicle", "machine", "building", ...
	Status    AssetStatus        `bson:"status" json:"status"`
	CreatedAt time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time          `bson:"updated_at" json:"updated_at"`
}

// AssetSummary is the compact asset view embedded in work order responses.
type AssetSummary struct {
	ID     primitive.ObjectID `json:"id"`
	Code   string             `json:"code"`
	Name   string             `json:"name"`
	Status AssetStatus        `json:"status"`
}

// Summary returns the compact view of the asset.
func (a *Asset) Summary() *AssetSummary {
	return &AssetSummary{ID: a.ID, Code: a.Code, Name: a.Name, Status: a.Status}
}
