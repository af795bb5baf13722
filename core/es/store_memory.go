package es

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// InMemoryStore is a correct (optimistic) store for tests and single-node
// development. Streams are keyed by tenant + aggregate type + id.
type InMemoryStore struct {
	mu      sync.Mutex
	log     *slog.Logger
	seq     atomic.Uint64
	streams map[string][]Envelope
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		log:     slog.Default().With(slog.String("store", "memory")),
		streams: map[string][]Envelope{},
	}
}

func (s *InMemoryStore) streamKey(stream StreamID) string {
	return fmt.Sprintf("%s-%s-%s", stream.Tenant, stream.AggregateType, stream.AggregateID)
}

func (s *InMemoryStore) Load(
	_ context.Context,
	stream StreamID,
	opts ...StoreLoadOption,
) ([]Envelope, error) {
	if err := stream.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	loadOpts := NewStoreLoadOptions(opts...)

	events, ok := s.streams[s.streamKey(stream)]
	if !ok {
		return nil, ErrAggregateNotFound
	}

	out := make([]Envelope, 0, len(events))
	for _, e := range events {
		if e.Version < loadOpts.StartVersion {
			continue
		}
		if e.Seq < loadOpts.StartSeq {
			continue
		}
		out = append(out, e)
	}

	return out, nil
}

func (s *InMemoryStore) Append(
	_ context.Context,
	stream StreamID,
	expectedVersion Version,
	events []Envelope,
) (*AppendResult, error) {
	if len(events) == 0 {
		return nil, ErrStoreNoEvents
	}
	if err := stream.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		sk         = s.streamKey(stream)
		curStream  = s.streams[sk]
		curVersion Version
	)

	if len(curStream) > 0 {
		curVersion = curStream[len(curStream)-1].Version
	}
	if curVersion != expectedVersion {
		return nil, fmt.Errorf(
			"%w: expected version %d, got %d (%s)",
			ErrConcurrencyConflict, expectedVersion, curVersion, stream,
		)
	}

	// validate all before committing any
	next := expectedVersion
	for _, e := range events {
		if err := e.Validate(); err != nil {
			return nil, err
		}
		next++
		if e.Version != next {
			return nil, fmt.Errorf("envelope version %d does not extend stream at %d", e.Version, next-1)
		}
	}

	var lastSeq uint64
	appended := make([]Envelope, 0, len(events))
	for _, e := range events {
		lastSeq = s.seq.Add(1)
		e.Seq = lastSeq
		appended = append(appended, e)
	}
	s.streams[sk] = append(curStream, appended...)

	s.log.Debug(
		"append",
		stream.SlogAttr(),
		slog.Uint64("last_seq", lastSeq),
		slog.Int("num_events", len(appended)),
	)

	return &AppendResult{LastSeq: lastSeq}, nil
}

var _ EventStore = (*InMemoryStore)(nil)
