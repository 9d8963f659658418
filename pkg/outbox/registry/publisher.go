package registry

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/escrow-backend/pkg/config"
	"github.com/angelmondragon/escrow-backend/pkg/db/models"
	"github.com/angelmondragon/escrow-backend/pkg/enums"
	"github.com/angelmondragon/escrow-backend/pkg/outbox"
	"github.com/angelmondragon/escrow-backend/pkg/outbox/payloads"
)

// EventDescriptor links an event type to its aggregate, topic and payload schema.
type EventDescriptor struct {
	EventType      enums.OutboxEventType
	AggregateType  enums.OutboxAggregateType
	Topic          string
	PayloadFactory func() any
}

// ResolvedEvent is the result of decoding an outbox row.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

// EventRegistry maps each supported event type to its descriptor.
type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

// NonRetryableError signals the dispatcher should stop retrying a row.
type NonRetryableError struct {
	Err error
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error {
	return e.Err
}

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

var aggregateByEvent = map[enums.OutboxEventType]enums.OutboxAggregateType{
	enums.EventPurchasePaid:      enums.AggregatePurchase,
	enums.EventPurchaseCancelled: enums.AggregatePurchase,
	enums.EventPurchaseCompleted: enums.AggregatePurchase,
	enums.EventPurchaseRefunded:  enums.AggregatePurchase,
	enums.EventShipmentShipped:   enums.AggregateShipment,
	enums.EventShipmentInTransit: enums.AggregateShipment,
	enums.EventShipmentDelivered: enums.AggregateShipment,
	enums.EventShipmentDisputed:  enums.AggregateShipment,
	enums.EventReturnRequested:   enums.AggregateReturn,
	enums.EventReturnAccepted:    enums.AggregateReturn,
	enums.EventReturnRejected:    enums.AggregateReturn,
	enums.EventReturnShipped:     enums.AggregateReturn,
	enums.EventReturnCompleted:   enums.AggregateReturn,
}

// NewEventRegistry routes every escrow event to the notification topic.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	if cfg.NotificationTopic == "" {
		return nil, fmt.Errorf("notification topic is required")
	}
	reg := &EventRegistry{entries: make(map[enums.OutboxEventType]EventDescriptor, len(aggregateByEvent))}
	for eventType, aggregate := range aggregateByEvent {
		reg.entries[eventType] = EventDescriptor{
			EventType:      eventType,
			AggregateType:  aggregate,
			Topic:          cfg.NotificationTopic,
			PayloadFactory: func() any { return &payloads.EscrowEvent{} },
		}
	}
	return reg, nil
}

// AggregateFor returns the aggregate an event type belongs to.
func AggregateFor(eventType enums.OutboxEventType) (enums.OutboxAggregateType, bool) {
	aggregate, ok := aggregateByEvent[eventType]
	return aggregate, ok
}

// Resolve validates the row and decodes its typed payload.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	if !ok {
		return nil, NewNonRetryableError(fmt.Errorf("unsupported event type %s", event.EventType))
	}
	if desc.AggregateType != event.AggregateType {
		return nil, NewNonRetryableError(fmt.Errorf("aggregate mismatch: expected %s got %s", desc.AggregateType, event.AggregateType))
	}
	if event.AggregateID == uuid.Nil {
		return nil, NewNonRetryableError(fmt.Errorf("missing aggregate_id"))
	}

	envelope, err := DecodeEnvelope(event.Payload)
	if err != nil {
		return nil, NewNonRetryableError(err)
	}

	payload := desc.PayloadFactory()
	if err := json.Unmarshal(envelope.Data, payload); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode %s payload: %w", event.EventType, err))
	}

	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}

// DecodeEnvelope parses a stored or published payload and validates it.
func DecodeEnvelope(raw []byte) (outbox.PayloadEnvelope, error) {
	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return envelope, fmt.Errorf("decode envelope: %w", err)
	}
	return envelope, envelope.Validate()
}
