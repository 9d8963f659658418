package notifications

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/escrow-backend/internal/actors"
	"github.com/angelmondragon/escrow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/escrow-backend/pkg/errors"
	"github.com/angelmondragon/escrow-backend/pkg/logger"
	"github.com/angelmondragon/escrow-backend/pkg/outbox"
	"github.com/angelmondragon/escrow-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/escrow-backend/pkg/outbox/registry"
)

// Event is something participants of a purchase should hear about.
type Event struct {
	Type        enums.OutboxEventType
	AggregateID uuid.UUID
	Actor       actors.Actor
	Payload     payloads.EscrowEvent
}

// Notifier queues events for participants. Enqueue joins the caller's
// transaction so a committed state change always carries its notification.
type Notifier interface {
	Enqueue(ctx context.Context, tx *gorm.DB, channel enums.NotificationChannel, event Event) error
}

type emitter interface {
	Emit(ctx context.Context, db *gorm.DB, event outbox.DomainEvent) (uuid.UUID, error)
}

// OutboxNotifier writes events to the outbox table; the publisher drains them
// onto the notification topic.
type OutboxNotifier struct {
	outbox emitter
	logg   *logger.Logger
}

type OutboxNotifierParams struct {
	Outbox emitter
	Logger *logger.Logger
}

func NewOutboxNotifier(params OutboxNotifierParams) (*OutboxNotifier, error) {
	if params.Outbox == nil {
		return nil, errors.New("outbox service required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	return &OutboxNotifier{outbox: params.Outbox, logg: params.Logger}, nil
}

// Enqueue fails only when the outbox insert fails, which aborts tx.
func (n *OutboxNotifier) Enqueue(ctx context.Context, tx *gorm.DB, channel enums.NotificationChannel, event Event) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "notification requires a transaction")
	}
	logCtx := n.logg.WithFields(ctx, map[string]any{
		"event_type":   event.Type,
		"aggregate_id": event.AggregateID.String(),
		"purchase_id":  event.Payload.PurchaseID.String(),
		"channel":      channel,
	})

	aggregate, ok := registry.AggregateFor(event.Type)
	if !ok {
		n.logg.Error(logCtx, "notification skipped: unknown event type", nil)
		return nil
	}
	if !channel.IsValid() {
		channel = enums.NotificationChannelChat
	}
	event.Payload.Channel = channel

	domainEvent := outbox.DomainEvent{
		EventType:     event.Type,
		AggregateType: aggregate,
		AggregateID:   event.AggregateID,
		Data:          event.Payload,
		Version:       outbox.CurrentEnvelopeVersion,
	}
	if event.Actor.Kind != "" {
		domainEvent.Actor = &outbox.ActorRef{UserID: event.Actor.UserID, Kind: string(event.Actor.Kind)}
	}

	if _, err := n.outbox.Emit(ctx, tx, domainEvent); err != nil {
		n.logg.Error(logCtx, "failed to queue notification", err)
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue notification")
	}
	return nil
}
