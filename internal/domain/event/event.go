package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Envelope wraps a single domain event in the append-only log of an
// aggregate. Data holds the typed payload serialized as JSON so the same
// envelope can be applied live and replayed from storage.
type Envelope struct {
	EventID     string          `json:"event_id" db:"event_id"`
	AggregateID string          `json:"aggregate_id" db:"aggregate_id"`
	Type        string          `json:"type" db:"event_type"`
	OccurredAt  time.Time       `json:"occurred_at" db:"occurred_at"`
	Data        json.RawMessage `json:"data" db:"data"`
}

// New builds an envelope for the given aggregate and payload.
func New(aggregateID, eventType string, occurredAt time.Time, payload interface{}) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	return Envelope{
		EventID:     uuid.New().String(),
		AggregateID: aggregateID,
		Type:        eventType,
		OccurredAt:  occurredAt,
		Data:        data,
	}, nil
}

// Decode unmarshals the payload into the given typed event struct.
func (e Envelope) Decode(payload interface{}) error {
	if err := json.Unmarshal(e.Data, payload); err != nil {
		return fmt.Errorf("failed to decode %s event %s: %w", e.Type, e.EventID, err)
	}
	return nil
}
