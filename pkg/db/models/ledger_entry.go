package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/escrow-backend/pkg/enums"
)

// LedgerEntry records an immutable money movement for a purchase. Each kind
// occurs at most once per purchase.
type LedgerEntry struct {
	ID             uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	PurchaseID     uuid.UUID             `gorm:"column:purchase_id;type:uuid;not null"`
	Kind           enums.LedgerEntryKind `gorm:"column:kind;type:ledger_entry_kind;not null"`
	AmountCents    int64                 `gorm:"column:amount_cents;not null"`
	Currency       string                `gorm:"column:currency;not null"`
	GatewayRef     *string               `gorm:"column:gateway_ref"`
	IdempotencyKey *string               `gorm:"column:idempotency_key"`
	ActorUserID    *uuid.UUID            `gorm:"column:actor_user_id;type:uuid"`
	Metadata       json.RawMessage       `gorm:"column:metadata;type:jsonb"`
	CreatedAt      time.Time             `gorm:"column:created_at;autoCreateTime"`
}
