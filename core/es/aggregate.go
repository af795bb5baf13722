package es

import (
	"errors"
	"fmt"
	"time"

	"github.com/ian-magat0512/ubind-sub022/core/fault"
)

var (
	ErrAggregateNotFound = errors.New("aggregate not found")
	ErrUnknownEventType  = errors.New("unknown event type")

	// ErrConcurrencyConflict is returned by a conditional append whose
	// expected version no longer matches the store. Retryable: reload the
	// aggregate and re-issue the command.
	ErrConcurrencyConflict = fault.Retryable("concurrency.conflict", "concurrency conflict")
)

// Aggregate is the contract event-sourced roots implement to work with the
// Repository. An aggregate tracks its identity (tenant, type, id), its
// version for optimistic concurrency, the global sequence of the last
// applied event, and the events raised but not yet persisted.
//
// Lifecycle:
//  1. Open a new aggregate or load an existing one via Repository
//  2. Command methods validate, then Raise events
//  3. Apply updates in-memory state from each event
//  4. Repository.Save appends uncommitted events conditionally
type Aggregate interface {
	// GetAggType returns the aggregate type discriminator.
	GetAggType() string
	// GetTenant returns the owning tenant.
	GetTenant() string
	SetTenant(string)
	// GetID returns the aggregate instance id.
	GetID() string
	SetID(string)

	// GetVersion returns the number of committed events applied.
	GetVersion() Version
	setVersion(Version)

	// GetSeq returns the global store sequence of the last applied event.
	GetSeq() uint64
	setSeq(uint64)

	// Register registers the aggregate's event types.
	Register(r Registrar)
	// Raise records an event as uncommitted without applying it.
	Raise(event any)
	// Apply updates the aggregate state from an event.
	Apply(event any) error

	// Uncommitted returns a copy of events raised but not yet persisted.
	Uncommitted() []any
	// ClearUncommitted removes all uncommitted events after a save.
	ClearUncommitted()
}

// AggregateOpened is the first event of every stream.
type AggregateOpened struct {
	ID     string    `json:"id"`
	Tenant string    `json:"tenant"`
	UserID string    `json:"user_id,omitempty"`
	At     time.Time `json:"at"`
}

func (AggregateOpened) EventType() string     { return "aggregate.opened" }
func (e AggregateOpened) PerformedBy() string { return e.UserID }

func (e AggregateOpened) Validate() error {
	if e.ID == "" {
		return errors.New("id is required")
	}
	if e.Tenant == "" {
		return errors.New("tenant is required")
	}
	if e.At.IsZero() {
		return errors.New("opened-at time is zero")
	}
	return nil
}

// BaseAggregate is an embeddable helper that tracks identity, version and
// uncommitted events.
type BaseAggregate struct {
	OpenedAt time.Time `json:"opened_at"`

	tenant      string
	id          string
	version     Version
	seq         uint64
	uncommitted []any
}

func (b *BaseAggregate) Apply(evt any) error {
	switch e := evt.(type) {
	case *AggregateOpened:
		b.OpenedAt = e.At
		b.tenant = e.Tenant
		b.id = e.ID
		return nil
	}
	return fmt.Errorf("unknown base aggregate event: %T", evt)
}

func (b *BaseAggregate) IsOpened() bool { return !b.OpenedAt.IsZero() }

// Open raises the stream's first event. It fails if the aggregate already
// has history.
func (b *BaseAggregate) Open(tenant, id, userID string, at time.Time) error {
	if b.IsOpened() {
		return fmt.Errorf("aggregate already opened")
	}
	if tenant == "" {
		return fmt.Errorf("tenant is required")
	}
	if id == "" {
		return fmt.Errorf("id is required")
	}
	return RaiseAndApply(b, &AggregateOpened{ID: id, Tenant: tenant, UserID: userID, At: at})
}

func (b *BaseAggregate) GetTenant() string    { return b.tenant }
func (b *BaseAggregate) SetTenant(t string)   { b.tenant = t }
func (b *BaseAggregate) GetID() string        { return b.id }
func (b *BaseAggregate) SetID(id string)      { b.id = id }
func (b *BaseAggregate) GetVersion() Version  { return b.version }
func (b *BaseAggregate) setVersion(v Version) { b.version = v }
func (b *BaseAggregate) GetSeq() uint64       { return b.seq }
func (b *BaseAggregate) setSeq(s uint64)      { b.seq = s }

func (b *BaseAggregate) Raise(event any)   { b.uncommitted = append(b.uncommitted, event) }
func (b *BaseAggregate) ClearUncommitted() { b.uncommitted = nil }
func (b *BaseAggregate) Uncommitted() []any {
	out := make([]any, len(b.uncommitted))
	copy(out, b.uncommitted)
	return out
}

// StreamID returns the stream identity of the aggregate a.
func AggStreamID(a Aggregate) StreamID {
	return StreamID{Tenant: a.GetTenant(), AggregateType: a.GetAggType(), AggregateID: a.GetID()}
}

// === Helpers ===

type raiseApplier interface {
	Raise(event any)
	Apply(event any) error
}

// RaiseAndApply validates each event, records it as uncommitted and applies
// it to mutate state. Validation failures leave the aggregate untouched:
// events are validated up front so a command never partially applies.
func RaiseAndApply(a raiseApplier, events ...any) (err error) {
	if len(events) == 0 {
		return
	}

	for _, e := range events {
		if ev, ok := e.(interface{ Validate() error }); ok {
			err = ev.Validate()
			if err != nil {
				return fmt.Errorf("invalid event %T: %w", ev, err)
			}
		}
	}

	for _, e := range events {
		a.Raise(e)
		err = a.Apply(e)
		if err != nil {
			return
		}
	}
	return
}
