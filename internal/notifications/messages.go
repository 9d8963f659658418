package notifications

import (
	"fmt"

	"github.com/angelmondragon/escrow-backend/pkg/enums"
	"github.com/angelmondragon/escrow-backend/pkg/outbox/payloads"
)

type message struct {
	title string
	body  string
}

var titles = map[enums.OutboxEventType]string{
	enums.EventPurchasePaid:      "Payment received",
	enums.EventPurchaseCancelled: "Purchase cancelled",
	enums.EventPurchaseCompleted: "Purchase completed",
	enums.EventPurchaseRefunded:  "Purchase refunded",
	enums.EventShipmentShipped:   "Item shipped",
	enums.EventShipmentInTransit: "Item in transit",
	enums.EventShipmentDelivered: "Item delivered",
	enums.EventShipmentDisputed:  "Delivery disputed",
	enums.EventReturnRequested:   "Return requested",
	enums.EventReturnAccepted:    "Return accepted",
	enums.EventReturnRejected:    "Return rejected",
	enums.EventReturnShipped:     "Return on its way",
	enums.EventReturnCompleted:   "Return completed",
}

// render builds the in-app text for one event. Unknown types report false.
func render(eventType enums.OutboxEventType, payload payloads.EscrowEvent) (message, bool) {
	title, ok := titles[eventType]
	if !ok {
		return message{}, false
	}
	body := fmt.Sprintf("Purchase %s is now %s.", payload.PurchaseID, payload.Status)
	switch eventType {
	case enums.EventShipmentDisputed:
		body = fmt.Sprintf("A dispute was opened on purchase %s. Funds are on hold.", payload.PurchaseID)
	case enums.EventReturnRequested:
		body = fmt.Sprintf("The buyer asked to return purchase %s.", payload.PurchaseID)
	case enums.EventReturnCompleted:
		body = fmt.Sprintf("The return for purchase %s is complete and the buyer was refunded.", payload.PurchaseID)
	}
	if payload.Note != "" {
		body += " Note: " + payload.Note
	}
	return message{title: title, body: body}, true
}
