package enums

import "fmt"

// PurchaseStatus tracks the top-level lifecycle of a purchase.
type PurchaseStatus string

const (
	PurchaseStatusPending   PurchaseStatus = "pending"
	PurchaseStatusPaid      PurchaseStatus = "paid"
	PurchaseStatusShipped   PurchaseStatus = "shipped"
	PurchaseStatusDelivered PurchaseStatus = "delivered"
	PurchaseStatusCompleted PurchaseStatus = "completed"
	PurchaseStatusDisputed  PurchaseStatus = "disputed"
	PurchaseStatusCancelled PurchaseStatus = "cancelled"
	PurchaseStatusRefunded  PurchaseStatus = "refunded"
)

var validPurchaseStatuses = []PurchaseStatus{
	PurchaseStatusPending,
	PurchaseStatusPaid,
	PurchaseStatusShipped,
	PurchaseStatusDelivered,
	PurchaseStatusCompleted,
	PurchaseStatusDisputed,
	PurchaseStatusCancelled,
	PurchaseStatusRefunded,
}

// purchaseEdges lists every reachable transition. Anything else is a state error.
var purchaseEdges = map[PurchaseStatus][]PurchaseStatus{
	PurchaseStatusPending:   {PurchaseStatusPaid, PurchaseStatusCancelled},
	PurchaseStatusPaid:      {PurchaseStatusShipped, PurchaseStatusCancelled, PurchaseStatusRefunded},
	PurchaseStatusShipped:   {PurchaseStatusDelivered, PurchaseStatusDisputed, PurchaseStatusCancelled, PurchaseStatusRefunded},
	PurchaseStatusDelivered: {PurchaseStatusCompleted, PurchaseStatusRefunded},
	PurchaseStatusDisputed:  {PurchaseStatusCompleted, PurchaseStatusRefunded},
	PurchaseStatusCompleted: {PurchaseStatusRefunded},
}

// ReservingPurchaseStatuses hold the product reservation. A pending purchase
// has not reserved anything yet.
var ReservingPurchaseStatuses = []PurchaseStatus{
	PurchaseStatusPaid,
	PurchaseStatusShipped,
	PurchaseStatusDelivered,
	PurchaseStatusDisputed,
}

func (s PurchaseStatus) String() string {
	return string(s)
}

func (s PurchaseStatus) IsValid() bool {
	for _, candidate := range validPurchaseStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// CanTransitionTo reports whether next is a documented edge from s.
func (s PurchaseStatus) CanTransitionTo(next PurchaseStatus) bool {
	for _, candidate := range purchaseEdges[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// IsTerminal is true for statuses with no outgoing edge.
func (s PurchaseStatus) IsTerminal() bool {
	return len(purchaseEdges[s]) == 0
}

// Captured reports whether buyer funds were taken for the purchase.
func (s PurchaseStatus) Captured() bool {
	switch s {
	case PurchaseStatusPaid, PurchaseStatusShipped, PurchaseStatusDelivered, PurchaseStatusDisputed, PurchaseStatusCompleted:
		return true
	}
	return false
}

func ParsePurchaseStatus(value string) (PurchaseStatus, error) {
	for _, candidate := range validPurchaseStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid purchase status %q", value)
}
