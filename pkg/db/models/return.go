package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/angelmondragon/escrow-backend/pkg/enums"
)

// Return is a post-delivery refund request. Only one may be live per purchase.
type Return struct {
	ID             uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	PurchaseID     uuid.UUID          `gorm:"column:purchase_id;type:uuid;not null"`
	BuyerID        uuid.UUID          `gorm:"column:buyer_id;type:uuid;not null"`
	SellerID       uuid.UUID          `gorm:"column:seller_id;type:uuid;not null"`
	Status         enums.ReturnStatus `gorm:"column:status;type:return_status;not null"`
	Reason         string             `gorm:"column:reason;not null"`
	Description    string             `gorm:"column:description;not null;default:''"`
	EvidenceURLs   pq.StringArray     `gorm:"column:evidence_urls;type:text[]"`
	SellerNote     *string            `gorm:"column:seller_note"`
	ReturnCarrier  *string            `gorm:"column:return_carrier"`
	ReturnTracking *string            `gorm:"column:return_tracking"`
	RefundRef      *string            `gorm:"column:refund_ref"`
	RequestedAt    time.Time          `gorm:"column:requested_at;not null"`
	RespondedAt    *time.Time         `gorm:"column:responded_at"`
	ShippedAt      *time.Time         `gorm:"column:shipped_at"`
	ResolvedAt     *time.Time         `gorm:"column:resolved_at"`
	CreatedAt      time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}
