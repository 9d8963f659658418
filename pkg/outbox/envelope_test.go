package outbox

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestPayloadEnvelopeValidate(t *testing.T) {
	good := PayloadEnvelope{Version: CurrentEnvelopeVersion, EventID: uuid.NewString(), Data: json.RawMessage(`{"purchase_id":"x"}`)}
	require.NoError(t, good.Validate())

	cases := map[string]func(e *PayloadEnvelope){
		"future version": func(e *PayloadEnvelope) { e.Version = CurrentEnvelopeVersion + 1 },
		"zero version":   func(e *PayloadEnvelope) { e.Version = 0 },
		"bad event id":   func(e *PayloadEnvelope) { e.EventID = "evt-1" },
		"null data":      func(e *PayloadEnvelope) { e.Data = json.RawMessage(" null ") },
		"empty data":     func(e *PayloadEnvelope) { e.Data = nil },
	}
	for name, mutate := range cases {
		env := good
		mutate(&env)
		require.Error(t, env.Validate(), name)
	}
}
