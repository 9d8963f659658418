package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/escrow-backend/pkg/enums"
)

// Shipment is the 1:1 delivery companion of a paid purchase.
type Shipment struct {
	ID                  uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	PurchaseID          uuid.UUID            `gorm:"column:purchase_id;type:uuid;not null;uniqueIndex"`
	Status              enums.ShipmentStatus `gorm:"column:status;type:shipment_status;not null"`
	Carrier             *string              `gorm:"column:carrier"`
	TrackingNumber      *string              `gorm:"column:tracking_number"`
	TrackingURL         *string              `gorm:"column:tracking_url"`
	PriceCents          int64                `gorm:"column:price_cents;not null;default:0"`
	EstimatedDays       *int                 `gorm:"column:estimated_days"`
	EstimatedDeliveryAt *time.Time           `gorm:"column:estimated_delivery_at"`
	ShippedAt           *time.Time           `gorm:"column:shipped_at"`
	InTransitAt         *time.Time           `gorm:"column:in_transit_at"`
	DeliveredAt         *time.Time           `gorm:"column:delivered_at"`
	ConfirmedBy         *string              `gorm:"column:confirmed_by"`
	IncidentAt          *time.Time           `gorm:"column:incident_at"`
	IncidentReason      *string              `gorm:"column:incident_reason"`
	CancelledAt         *time.Time           `gorm:"column:cancelled_at"`
	BuyerRating         *int                 `gorm:"column:buyer_rating"`
	BuyerComment        *string              `gorm:"column:buyer_comment"`
	CreatedAt           time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}
