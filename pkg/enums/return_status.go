package enums

import "fmt"

// ReturnStatus tracks a buyer-initiated return and its refund.
type ReturnStatus string

const (
	ReturnStatusRequested     ReturnStatus = "requested"
	ReturnStatusAccepted      ReturnStatus = "accepted"
	ReturnStatusRejected      ReturnStatus = "rejected"
	ReturnStatusReturnShipped ReturnStatus = "return_shipped"
	ReturnStatusCompleted     ReturnStatus = "completed"
)

var validReturnStatuses = []ReturnStatus{
	ReturnStatusRequested,
	ReturnStatusAccepted,
	ReturnStatusRejected,
	ReturnStatusReturnShipped,
	ReturnStatusCompleted,
}

// LiveReturnStatuses are the non-terminal states; at most one per purchase.
var LiveReturnStatuses = []ReturnStatus{
	ReturnStatusRequested,
	ReturnStatusAccepted,
	ReturnStatusReturnShipped,
}

var returnEdges = map[ReturnStatus][]ReturnStatus{
	ReturnStatusRequested:     {ReturnStatusAccepted, ReturnStatusRejected},
	ReturnStatusAccepted:      {ReturnStatusReturnShipped},
	ReturnStatusReturnShipped: {ReturnStatusCompleted},
}

func (s ReturnStatus) String() string {
	return string(s)
}

func (s ReturnStatus) IsValid() bool {
	for _, candidate := range validReturnStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

func (s ReturnStatus) CanTransitionTo(next ReturnStatus) bool {
	for _, candidate := range returnEdges[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

func (s ReturnStatus) IsTerminal() bool {
	return s == ReturnStatusRejected || s == ReturnStatusCompleted
}

func ParseReturnStatus(value string) (ReturnStatus, error) {
	for _, candidate := range validReturnStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid return status %q", value)
}
