package es

import (
	"encoding/json"
	"fmt"
	"time"
)

// Envelope wraps an event with the metadata needed to persist, order and
// replay it. It is the unit of storage in the EventStore; the Data payload
// is opaque JSON decoded through the EventRegistry on replay.
type Envelope struct {
	// ID is the unique identifier of this envelope, also used for
	// store-level deduplication on publish.
	ID string `json:"id"`
	// Seq is the global sequence number assigned by the store.
	Seq uint64 `json:"seq"`
	// Version is the per-stream version (1, 2, 3, ...).
	Version Version `json:"version"`
	// Tenant scopes the stream. Events never cross tenants.
	Tenant string `json:"tenant"`
	// AggregateType identifies the kind of aggregate ("quote", "claim").
	AggregateType string `json:"aggregate"`
	// AggregateID identifies the aggregate instance.
	AggregateID string `json:"aggregate_id"`
	// Type is the event type name used for deserialization routing.
	Type string `json:"type"`
	// OccurredAt is when the event was recorded.
	OccurredAt time.Time `json:"occurred_at"`
	// PerformedBy optionally references the user that issued the command.
	PerformedBy string `json:"performed_by,omitempty"`
	// Data is the JSON-encoded event payload.
	Data json.RawMessage `json:"data"`
}

// StreamID returns the stream this envelope belongs to.
func (e Envelope) StreamID() StreamID {
	return StreamID{
		Tenant:        e.Tenant,
		AggregateType: e.AggregateType,
		AggregateID:   e.AggregateID,
	}
}

func (e Envelope) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("envelope id is empty")
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("envelope occurred at is zero")
	}
	if e.Tenant == "" {
		return fmt.Errorf("envelope tenant is empty")
	}
	if e.AggregateID == "" {
		return fmt.Errorf("envelope aggregate id is empty")
	}
	if e.AggregateType == "" {
		return fmt.Errorf("envelope aggregate type is empty")
	}
	if e.Type == "" {
		return fmt.Errorf("envelope type is empty")
	}
	return nil
}

// Decoder turns a persisted envelope back into a typed event.
type Decoder interface{ Decode(e Envelope) (any, error) }
