package enums

import "fmt"

// ShipmentStatus tracks physical delivery of a paid purchase.
type ShipmentStatus string

const (
	ShipmentStatusPendingShipment ShipmentStatus = "pending_shipment"
	ShipmentStatusShipped         ShipmentStatus = "shipped"
	ShipmentStatusInTransit       ShipmentStatus = "in_transit"
	ShipmentStatusDelivered       ShipmentStatus = "delivered"
	ShipmentStatusIncident        ShipmentStatus = "incident"
	ShipmentStatusCancelled       ShipmentStatus = "cancelled"
)

var validShipmentStatuses = []ShipmentStatus{
	ShipmentStatusPendingShipment,
	ShipmentStatusShipped,
	ShipmentStatusInTransit,
	ShipmentStatusDelivered,
	ShipmentStatusIncident,
	ShipmentStatusCancelled,
}

// shipmentEdges lists the allowed moves. In-person handovers go straight from
// pending_shipment to delivered.
var shipmentEdges = map[ShipmentStatus][]ShipmentStatus{
	ShipmentStatusPendingShipment: {ShipmentStatusShipped, ShipmentStatusDelivered, ShipmentStatusCancelled},
	ShipmentStatusShipped:         {ShipmentStatusInTransit, ShipmentStatusDelivered, ShipmentStatusIncident, ShipmentStatusCancelled},
	ShipmentStatusInTransit:       {ShipmentStatusDelivered, ShipmentStatusIncident, ShipmentStatusCancelled},
}

func (s ShipmentStatus) String() string {
	return string(s)
}

func (s ShipmentStatus) IsValid() bool {
	for _, candidate := range validShipmentStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

func (s ShipmentStatus) CanTransitionTo(next ShipmentStatus) bool {
	for _, candidate := range shipmentEdges[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// IsTerminal covers delivered, incident and cancelled shipments.
func (s ShipmentStatus) IsTerminal() bool {
	switch s {
	case ShipmentStatusDelivered, ShipmentStatusIncident, ShipmentStatusCancelled:
		return true
	}
	return false
}

// InFlight is true once the parcel left the seller and before it lands.
func (s ShipmentStatus) InFlight() bool {
	return s == ShipmentStatusShipped || s == ShipmentStatusInTransit
}

func ParseShipmentStatus(value string) (ShipmentStatus, error) {
	for _, candidate := range validShipmentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid shipment status %q", value)
}
