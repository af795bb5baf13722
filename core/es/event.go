package es

import (
	"encoding/json"
	"fmt"
	"sync"
)

// EventRegistry maps event type names to constructors so persisted events
// can be decoded back to their concrete types on replay.
type EventRegistry struct {
	mu   sync.RWMutex
	news map[string]func() any
}

func NewRegistry() *EventRegistry {
	return &EventRegistry{news: map[string]func() any{}}
}

func (r *EventRegistry) Register(eventType string, ctor func() any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.news[eventType] = ctor
}

func (r *EventRegistry) Decode(env Envelope) (any, error) {
	r.mu.RLock()
	ctor, ok := r.news[env.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, env.Type)
	}
	ev := ctor()
	if env.Data != nil {
		if err := json.Unmarshal(env.Data, ev); err != nil {
			return nil, err
		}
	}
	return ev, nil
}

type Registrar interface {
	Register(eventType string, ctor func() any)
}

// Event returns a reflection-free constructor for an event of type T.
func Event[T any]() func() any { return func() any { return new(T) } }

// RegisterEvents registers event constructors. Each constructor is invoked
// once to derive the type name; afterwards the original constructor is kept
// so every decode produces a fresh instance.
func RegisterEvents(r Registrar, ctors ...func() any) {
	for _, ctor := range ctors {
		sample := ctor()
		r.Register(eventTypeOf(sample), ctor)
	}
}

// Named is implemented by events that declare their own stable type name.
// Event names are part of the persisted format and must never change once
// streams exist, so all domain events in this repo implement Named.
type Named interface {
	EventType() string
}

// Attributed is implemented by events that carry a performing-user
// reference; the repository copies it onto the envelope.
type Attributed interface {
	PerformedBy() string
}

func eventTypeOf(ev any) string {
	if n, ok := ev.(Named); ok {
		return n.EventType()
	}
	return fmt.Sprintf("%T", ev)
}
