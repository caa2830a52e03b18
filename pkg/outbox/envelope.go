package outbox

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-checkout/pkg/enums"
)

// EnvelopeVersion is the newest envelope layout the writer produces.
const EnvelopeVersion = 1

// ActorRef identifies the shopper, and optionally the shop, behind an event.
type ActorRef struct {
	UserID uuid.UUID  `json:"user_id"`
	ShopID *uuid.UUID `json:"shop_id,omitempty"`
}

// Envelope is the JSON document stored in outbox_events.payload and forwarded to consumers.
// Consumers dedupe on EventID.
type Envelope struct {
	SchemaVersion int                   `json:"schema_version"`
	EventID       uuid.UUID             `json:"event_id"`
	EventType     enums.OutboxEventType `json:"event_type"`
	OccurredAt    time.Time             `json:"occurred_at"`
	Producer      string                `json:"producer,omitempty"`
	Actor         *ActorRef             `json:"actor,omitempty"`
	Data          json.RawMessage       `json:"data"`
}

// DecodeEnvelope parses raw and rejects envelopes no consumer could act on.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	switch {
	case env.SchemaVersion < 1 || env.SchemaVersion > EnvelopeVersion:
		return Envelope{}, fmt.Errorf("unsupported envelope version %d", env.SchemaVersion)
	case env.EventID == uuid.Nil:
		return Envelope{}, fmt.Errorf("envelope missing event_id")
	}
	trimmed := bytes.TrimSpace(env.Data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Envelope{}, fmt.Errorf("envelope missing data")
	}
	return env, nil
}
