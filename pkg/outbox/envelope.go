package outbox

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CurrentEnvelopeVersion is written by Emit. Consumers accept any version up
// to it.
const CurrentEnvelopeVersion = 1

// ActorRef is the buyer, seller, admin or system actor behind an escrow event.
type ActorRef struct {
	UserID uuid.UUID `json:"userId"`
	Kind   string    `json:"kind,omitempty"`
}

// PayloadEnvelope wraps every outbox payload. EventID doubles as the
// consumer dedupe key.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// Validate rejects envelopes no consumer could act on.
func (e PayloadEnvelope) Validate() error {
	if e.Version < 1 || e.Version > CurrentEnvelopeVersion {
		return fmt.Errorf("unsupported envelope version %d", e.Version)
	}
	if _, err := uuid.Parse(e.EventID); err != nil {
		return fmt.Errorf("envelope event id %q: %w", e.EventID, err)
	}
	trimmed := bytes.TrimSpace(e.Data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return fmt.Errorf("envelope %s has no data", e.EventID)
	}
	return nil
}
