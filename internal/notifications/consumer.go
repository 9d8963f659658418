package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/escrow-backend/pkg/db/models"
	"github.com/angelmondragon/escrow-backend/pkg/enums"
	"github.com/angelmondragon/escrow-backend/pkg/logger"
	"github.com/angelmondragon/escrow-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/escrow-backend/pkg/outbox/registry"
)

const consumerName = "escrow-notifications"

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
}

type claimer interface {
	Claim(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	Complete(ctx context.Context, consumer string, eventID uuid.UUID) error
	Release(ctx context.Context, consumer string, eventID uuid.UUID) error
}

type writer interface {
	CreateMany(ctx context.Context, rows []models.Notification) error
}

// Consumer turns escrow events from Pub/Sub into one in-app notification per
// recipient. Redeliveries of an event already stored are acknowledged.
type Consumer struct {
	repo         writer
	subscription receiver
	idempotency  claimer
	logg         *logger.Logger
	now          func() time.Time
}

func NewConsumer(repo writer, subscription receiver, manager claimer, logg *logger.Logger) (*Consumer, error) {
	if repo == nil {
		return nil, fmt.Errorf("notifications repository required")
	}
	if subscription == nil {
		return nil, fmt.Errorf("notification subscription required")
	}
	if manager == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		repo:         repo,
		subscription: subscription,
		idempotency:  manager,
		logg:         logg,
		now:          func() time.Time { return time.Now().UTC() },
	}, nil
}

// Run blocks until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if c.process(ctx, msg) {
			msg.Ack()
			return
		}
		msg.Nack()
	})
}

// process reports whether msg should be acked. Malformed messages are acked
// so they do not loop; storage failures are nacked for redelivery.
func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) bool {
	eventType := enums.OutboxEventType(msg.Attributes["event_type"])
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": msg.ID,
		"event_type": eventType,
	})

	if _, known := registry.AggregateFor(eventType); !known {
		c.logg.Info(logCtx, "skipping unknown event type")
		return true
	}

	envelope, err := registry.DecodeEnvelope(msg.Data)
	if err != nil {
		c.logg.Error(logCtx, "failed to decode envelope", err)
		return true
	}
	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		c.logg.Error(logCtx, "invalid event id", err)
		return true
	}
	var payload payloads.EscrowEvent
	if err := json.Unmarshal(envelope.Data, &payload); err != nil {
		c.logg.Error(logCtx, "failed to parse payload", err)
		return true
	}
	logCtx = c.logg.WithFields(logCtx, map[string]any{
		"event_id":    eventID.String(),
		"purchase_id": payload.PurchaseID.String(),
	})

	claimed, err := c.idempotency.Claim(ctx, consumerName, eventID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency claim failed", err)
		return false
	}
	if !claimed {
		c.logg.Info(logCtx, "event already processed")
		return true
	}

	rows := c.buildRows(eventType, payload)
	if len(rows) == 0 {
		c.logg.Warn(logCtx, "event has no recipients")
		c.complete(logCtx, eventID)
		return true
	}
	if err := c.repo.CreateMany(ctx, rows); err != nil {
		c.logg.Error(logCtx, "failed to store notifications", err)
		if relErr := c.idempotency.Release(ctx, consumerName, eventID); relErr != nil {
			c.logg.Error(logCtx, "failed to release idempotency claim", relErr)
		}
		return false
	}
	c.logg.Info(c.logg.WithField(logCtx, "recipients", len(rows)), "notifications stored")
	c.complete(logCtx, eventID)
	return true
}

// complete pins the claim. A failure only logs; the pending claim still
// expires and at worst the event is stored twice.
func (c *Consumer) complete(ctx context.Context, eventID uuid.UUID) {
	if err := c.idempotency.Complete(ctx, consumerName, eventID); err != nil {
		c.logg.Error(ctx, "failed to complete idempotency claim", err)
	}
}

func (c *Consumer) buildRows(eventType enums.OutboxEventType, payload payloads.EscrowEvent) []models.Notification {
	msg, ok := render(eventType, payload)
	if !ok {
		return nil
	}
	channel := payload.Channel
	if !channel.IsValid() {
		channel = enums.NotificationChannelChat
	}

	now := c.now()
	seen := make(map[uuid.UUID]struct{}, len(payload.Recipients))
	rows := make([]models.Notification, 0, len(payload.Recipients))
	for _, recipient := range payload.Recipients {
		if recipient == uuid.Nil {
			continue
		}
		if _, dup := seen[recipient]; dup {
			continue
		}
		seen[recipient] = struct{}{}
		rows = append(rows, models.Notification{
			ID:          uuid.New(),
			RecipientID: recipient,
			Channel:     channel,
			EventType:   eventType,
			PurchaseID:  payload.PurchaseID,
			Title:       msg.title,
			Message:     msg.body,
			CreatedAt:   now,
		})
	}
	return rows
}
