package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/escrow-backend/pkg/enums"
)

// Notification is an in-app message addressed to one participant.
type Notification struct {
	ID          uuid.UUID                 `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	RecipientID uuid.UUID                 `gorm:"column:recipient_id;type:uuid;not null" json:"recipient_id"`
	Channel     enums.NotificationChannel `gorm:"column:channel;not null" json:"channel"`
	EventType   enums.OutboxEventType     `gorm:"column:event_type;not null" json:"event_type"`
	PurchaseID  uuid.UUID                 `gorm:"column:purchase_id;type:uuid;not null" json:"purchase_id"`
	Title       string                    `gorm:"column:title;not null" json:"title"`
	Message     string                    `gorm:"column:message;not null" json:"message"`
	ReadAt      *time.Time                `gorm:"column:read_at" json:"read_at,omitempty"`
	CreatedAt   time.Time                 `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}
