package nats

import (
	"fmt"
	"log/slog"
	"testing"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/stretchr/testify/require"

	"github.com/ian-magat0512/ubind-sub022/core/es"
)

func testEnvelopes(stream es.StreamID, from es.Version, n int) []es.Envelope {
	envs := make([]es.Envelope, 0, n)
	for i := 0; i < n; i++ {
		envs = append(envs, es.Envelope{
			ID:            gonanoid.Must(),
			Version:       from + es.Version(i) + 1,
			Tenant:        stream.Tenant,
			AggregateType: stream.AggregateType,
			AggregateID:   stream.AggregateID,
			Type:          "test.event",
			OccurredAt:    time.Now(),
			Data:          []byte(`{}`),
		})
	}
	return envs
}

func TestNats_EventStore(t *testing.T) {
	slog.SetLogLoggerLevel(slog.LevelDebug)

	connectNatsC := NewTestContainer(t)
	store, err := NewEventStore(EventStoreConfig{
		Connect: connectNatsC,
		Log:     slog.Default(),
	})
	require.NoError(t, err)
	require.NotNil(t, store)
	t.Cleanup(func() { _ = store.Close() })

	stream := es.StreamID{Tenant: "t1", AggregateType: "quote", AggregateID: "agg-1"}

	t.Run("stream info", func(t *testing.T) {
		si, err := store.stream.Info(t.Context())
		require.NoError(t, err)
		require.NotNil(t, si)
		require.Equal(t, defaultStreamName, si.Config.Name)
		require.Equal(t, []string{fmt.Sprintf("%s.>", defaultSubjectPrefix)}, si.Config.Subjects)
	})

	t.Run("load missing stream", func(t *testing.T) {
		_, err := store.Load(t.Context(), stream)
		require.ErrorIs(t, err, es.ErrAggregateNotFound)
	})

	t.Run("append and load", func(t *testing.T) {
		res, err := store.Append(t.Context(), stream, 0, testEnvelopes(stream, 0, 3))
		require.NoError(t, err)
		require.NotNil(t, res)

		last, err := store.lastEventForStream(t.Context(), stream)
		require.NoError(t, err)
		require.EqualValues(t, 3, last.Version)

		res, err = store.Append(t.Context(), stream, 3, testEnvelopes(stream, 3, 2))
		require.NoError(t, err)
		require.NotNil(t, res)

		loaded, err := store.Load(t.Context(), stream)
		require.NoError(t, err)
		require.Len(t, loaded, 5)
		for i, env := range loaded {
			require.EqualValues(t, i+1, env.Version)
		}
	})

	t.Run("stale version is rejected", func(t *testing.T) {
		_, err := store.Append(t.Context(), stream, 3, testEnvelopes(stream, 3, 1))
		require.ErrorIs(t, err, es.ErrConcurrencyConflict)

		loaded, err := store.Load(t.Context(), stream)
		require.NoError(t, err)
		require.Len(t, loaded, 5, "conflicting append wrote nothing")
	})

	t.Run("tenants are isolated", func(t *testing.T) {
		other := es.StreamID{Tenant: "t2", AggregateType: "quote", AggregateID: "agg-1"}
		_, err := store.Load(t.Context(), other)
		require.ErrorIs(t, err, es.ErrAggregateNotFound)

		_, err = store.Append(t.Context(), other, 0, testEnvelopes(other, 0, 1))
		require.NoError(t, err)

		loaded, err := store.Load(t.Context(), other)
		require.NoError(t, err)
		require.Len(t, loaded, 1)
	})

	t.Run("load suffix", func(t *testing.T) {
		loaded, err := store.Load(t.Context(), stream, es.WithStartAtVersion(4))
		require.NoError(t, err)
		require.Len(t, loaded, 2)
		require.EqualValues(t, 4, loaded[0].Version)
	})
}
