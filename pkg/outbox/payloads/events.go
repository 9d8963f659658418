package payloads

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/escrow-backend/pkg/enums"
)

// EscrowEvent is the single payload shape carried by every escrow event. It
// names the participants to notify so the consumer needs no database lookups
// to address them.
type EscrowEvent struct {
	PurchaseID uuid.UUID                 `json:"purchase_id"`
	ShipmentID *uuid.UUID                `json:"shipment_id,omitempty"`
	ReturnID   *uuid.UUID                `json:"return_id,omitempty"`
	BuyerID    uuid.UUID                 `json:"buyer_id"`
	SellerID   uuid.UUID                 `json:"seller_id"`
	Recipients []uuid.UUID               `json:"recipients"`
	Channel    enums.NotificationChannel `json:"channel"`
	Status     string                    `json:"status"`
	Note       string                    `json:"note,omitempty"`
}
