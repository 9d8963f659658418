package enums

import "testing"

func TestPurchaseTransitions(t *testing.T) {
	allowed := []struct{ from, to PurchaseStatus }{
		{PurchaseStatusPending, PurchaseStatusPaid},
		{PurchaseStatusPaid, PurchaseStatusShipped},
		{PurchaseStatusShipped, PurchaseStatusDelivered},
		{PurchaseStatusDelivered, PurchaseStatusCompleted},
		{PurchaseStatusShipped, PurchaseStatusDisputed},
		{PurchaseStatusDisputed, PurchaseStatusRefunded},
		{PurchaseStatusCompleted, PurchaseStatusRefunded},
		{PurchaseStatusPaid, PurchaseStatusCancelled},
	}
	for _, tc := range allowed {
		if !tc.from.CanTransitionTo(tc.to) {
			t.Fatalf("expected %s -> %s to be allowed", tc.from, tc.to)
		}
	}

	denied := []struct{ from, to PurchaseStatus }{
		{PurchaseStatusPending, PurchaseStatusShipped},
		{PurchaseStatusPending, PurchaseStatusCompleted},
		{PurchaseStatusPaid, PurchaseStatusCompleted},
		{PurchaseStatusCompleted, PurchaseStatusCancelled},
		{PurchaseStatusCancelled, PurchaseStatusPaid},
		{PurchaseStatusRefunded, PurchaseStatusCompleted},
		{PurchaseStatusDelivered, PurchaseStatusCancelled},
	}
	for _, tc := range denied {
		if tc.from.CanTransitionTo(tc.to) {
			t.Fatalf("expected %s -> %s to be rejected", tc.from, tc.to)
		}
	}
}

func TestPurchaseTerminalStates(t *testing.T) {
	for _, status := range validPurchaseStatuses {
		terminal := status == PurchaseStatusCancelled || status == PurchaseStatusRefunded
		if status.IsTerminal() != terminal {
			t.Fatalf("status %s terminal=%v", status, status.IsTerminal())
		}
	}
}

func TestReservingStatusesAreNeverTerminal(t *testing.T) {
	for _, status := range ReservingPurchaseStatuses {
		if status.IsTerminal() || status == PurchaseStatusCompleted {
			t.Fatalf("reserving status %s must be live and uncompleted", status)
		}
	}
}

func TestParseDeliveryMethod(t *testing.T) {
	m, err := ParseDeliveryMethod("PARCEL")
	if err != nil || m != DeliveryMethodParcel {
		t.Fatalf("expected parcel, got %q err=%v", m, err)
	}
	if _, err := ParseDeliveryMethod("drone"); err == nil {
		t.Fatalf("expected error for unknown method")
	}
}

func TestShipmentStatusPredicates(t *testing.T) {
	if !ShipmentStatusInTransit.InFlight() || ShipmentStatusPendingShipment.InFlight() {
		t.Fatalf("unexpected in-flight classification")
	}
	if !ShipmentStatusIncident.IsTerminal() || ShipmentStatusShipped.IsTerminal() {
		t.Fatalf("unexpected terminal classification")
	}
}

func TestShipmentTransitions(t *testing.T) {
	allowed := [][2]ShipmentStatus{
		{ShipmentStatusPendingShipment, ShipmentStatusShipped},
		{ShipmentStatusPendingShipment, ShipmentStatusDelivered},
		{ShipmentStatusShipped, ShipmentStatusInTransit},
		{ShipmentStatusInTransit, ShipmentStatusIncident},
	}
	for _, edge := range allowed {
		if !edge[0].CanTransitionTo(edge[1]) {
			t.Fatalf("expected %s -> %s", edge[0], edge[1])
		}
	}
	if ShipmentStatusDelivered.CanTransitionTo(ShipmentStatusCancelled) {
		t.Fatalf("delivered shipments cannot be cancelled")
	}
	if ShipmentStatusPendingShipment.CanTransitionTo(ShipmentStatusIncident) {
		t.Fatalf("an unshipped parcel cannot have an incident")
	}
}

func TestReturnTransitions(t *testing.T) {
	if !ReturnStatusRequested.CanTransitionTo(ReturnStatusRejected) || !ReturnStatusReturnShipped.CanTransitionTo(ReturnStatusCompleted) {
		t.Fatalf("expected documented return edges")
	}
	if ReturnStatusRequested.CanTransitionTo(ReturnStatusCompleted) {
		t.Fatalf("a return cannot complete before the item is shipped back")
	}
	for _, live := range LiveReturnStatuses {
		if live.IsTerminal() {
			t.Fatalf("%s should not be terminal", live)
		}
	}
}
