package es_test

import (
	"testing"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/stretchr/testify/require"

	"github.com/ian-magat0512/ubind-sub022/core/es"
	"github.com/ian-magat0512/ubind-sub022/core/fault"
)

func envelope(stream es.StreamID, v es.Version, eventType string) es.Envelope {
	return es.Envelope{
		ID:            gonanoid.Must(),
		Version:       v,
		Tenant:        stream.Tenant,
		AggregateType: stream.AggregateType,
		AggregateID:   stream.AggregateID,
		Type:          eventType,
		OccurredAt:    time.Now(),
		Data:          []byte(`{}`),
	}
}

func TestInMemoryStore_AppendAndLoad(t *testing.T) {
	var (
		store  = es.NewInMemoryStore()
		stream = es.StreamID{Tenant: "t1", AggregateType: "quote", AggregateID: "q-1"}
	)

	res, err := store.Append(t.Context(), stream, 0,
		[]es.Envelope{envelope(stream, 1, "a"), envelope(stream, 2, "b")})
	require.NoError(t, err)
	require.EqualValues(t, 2, res.LastSeq)

	events, err := store.Load(t.Context(), stream)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.EqualValues(t, 1, events[0].Version)
	require.EqualValues(t, 2, events[1].Version)
	require.EqualValues(t, 1, events[0].Seq)
}

func TestInMemoryStore_NotFound(t *testing.T) {
	store := es.NewInMemoryStore()
	_, err := store.Load(t.Context(), es.StreamID{Tenant: "t1", AggregateType: "quote", AggregateID: "nope"})
	require.ErrorIs(t, err, es.ErrAggregateNotFound)
}

func TestInMemoryStore_ConcurrencyConflict(t *testing.T) {
	var (
		store  = es.NewInMemoryStore()
		stream = es.StreamID{Tenant: "t1", AggregateType: "quote", AggregateID: "q-1"}
	)

	_, err := store.Append(t.Context(), stream, 0, []es.Envelope{envelope(stream, 1, "a")})
	require.NoError(t, err)

	// stale expected version: nothing must be written
	_, err = store.Append(t.Context(), stream, 0, []es.Envelope{envelope(stream, 1, "b")})
	require.ErrorIs(t, err, es.ErrConcurrencyConflict)
	require.True(t, fault.IsRetryable(err))
	require.Equal(t, "concurrency.conflict", fault.CodeOf(err))

	events, err := store.Load(t.Context(), stream)
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestInMemoryStore_VersionContinuity(t *testing.T) {
	var (
		store  = es.NewInMemoryStore()
		stream = es.StreamID{Tenant: "t1", AggregateType: "quote", AggregateID: "q-1"}
	)

	// version 2 does not extend an empty stream at version 0
	_, err := store.Append(t.Context(), stream, 0, []es.Envelope{envelope(stream, 2, "a")})
	require.Error(t, err)

	_, err = store.Load(t.Context(), stream)
	require.ErrorIs(t, err, es.ErrAggregateNotFound)
}

func TestInMemoryStore_TenantIsolation(t *testing.T) {
	var (
		store = es.NewInMemoryStore()
		s1    = es.StreamID{Tenant: "t1", AggregateType: "quote", AggregateID: "q-1"}
		s2    = es.StreamID{Tenant: "t2", AggregateType: "quote", AggregateID: "q-1"}
	)

	_, err := store.Append(t.Context(), s1, 0, []es.Envelope{envelope(s1, 1, "a")})
	require.NoError(t, err)

	// same aggregate id under another tenant is a distinct, empty stream
	_, err = store.Load(t.Context(), s2)
	require.ErrorIs(t, err, es.ErrAggregateNotFound)

	_, err = store.Append(t.Context(), s2, 0, []es.Envelope{envelope(s2, 1, "a")})
	require.NoError(t, err)

	e1, err := store.Load(t.Context(), s1)
	require.NoError(t, err)
	require.Len(t, e1, 1)
}

func TestInMemoryStore_LoadOptions(t *testing.T) {
	var (
		store  = es.NewInMemoryStore()
		stream = es.StreamID{Tenant: "t1", AggregateType: "quote", AggregateID: "q-1"}
	)

	_, err := store.Append(t.Context(), stream, 0, []es.Envelope{
		envelope(stream, 1, "a"),
		envelope(stream, 2, "b"),
		envelope(stream, 3, "c"),
	})
	require.NoError(t, err)

	events, err := store.Load(t.Context(), stream, es.WithStartAtVersion(3))
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "c", events[0].Type)
}
