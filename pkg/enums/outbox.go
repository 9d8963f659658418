package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregatePurchase OutboxAggregateType = "purchase"
	AggregateShipment OutboxAggregateType = "shipment"
	AggregateReturn   OutboxAggregateType = "return"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregatePurchase,
	AggregateShipment,
	AggregateReturn,
}

func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventPurchasePaid      OutboxEventType = "purchase_paid"
	EventPurchaseCancelled OutboxEventType = "purchase_cancelled"
	EventPurchaseCompleted OutboxEventType = "purchase_completed"
	EventPurchaseRefunded  OutboxEventType = "purchase_refunded"
	EventShipmentShipped   OutboxEventType = "shipment_shipped"
	EventShipmentInTransit OutboxEventType = "shipment_in_transit"
	EventShipmentDelivered OutboxEventType = "shipment_delivered"
	EventShipmentDisputed  OutboxEventType = "shipment_disputed"
	EventReturnRequested   OutboxEventType = "return_requested"
	EventReturnAccepted    OutboxEventType = "return_accepted"
	EventReturnRejected    OutboxEventType = "return_rejected"
	EventReturnShipped     OutboxEventType = "return_shipped"
	EventReturnCompleted   OutboxEventType = "return_completed"
)

var validOutboxEventTypes = []OutboxEventType{
	EventPurchasePaid,
	EventPurchaseCancelled,
	EventPurchaseCompleted,
	EventPurchaseRefunded,
	EventShipmentShipped,
	EventShipmentInTransit,
	EventShipmentDelivered,
	EventShipmentDisputed,
	EventReturnRequested,
	EventReturnAccepted,
	EventReturnRejected,
	EventReturnShipped,
	EventReturnCompleted,
}

func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}

// OutboxDLQErrorReason explains why an event was dead-lettered.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
)
