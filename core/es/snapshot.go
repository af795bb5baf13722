package es

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/ian-magat0512/ubind-sub022/ports/kv"
)

var (
	ErrSnapshotterUnconfigured = errors.New("no snapshotter configured")
	ErrSnapshotNotFound        = errors.New("snapshot not found")
)

type (
	// Snapshot is a point-in-time serialization of an aggregate, used to
	// accelerate replay for long policy lineages. Snapshots are an
	// optimization only: the event stream remains the source of truth.
	Snapshot struct {
		SnapshotID string `json:"snapshot_id"`

		Stream     StreamID `json:"stream"`
		ObjVersion Version  `json:"obj_version"`
		StreamSeq  uint64   `json:"stream_seq"`

		CreatedAt     time.Time `json:"created_at"`
		SchemaVersion int       `json:"schema_version"`
		Encoding      string    `json:"encoding"`
		Data          []byte    `json:"data"`
	}

	Snapshottable interface {
		Snapshot() (data []byte, err error)
		RestoreSnapshot(data []byte) error
	}

	Snapshotter interface {
		SaveSnapshot(ctx context.Context, snapshot *Snapshot) error
		LoadSnapshot(ctx context.Context, stream StreamID) (*Snapshot, error)
	}
)

func (s *Snapshot) logAttrs() slog.Attr {
	return slog.Group(
		"snapshot",
		slog.String("id", s.SnapshotID),
		s.Stream.SlogAttr(),
		s.ObjVersion.SlogAttrWithKey("obj_version"),
		slog.Uint64("seq", s.StreamSeq),
		slog.Time("created_at", s.CreatedAt),
		slog.Int("size", len(s.Data)),
	)
}

func LoadSnapshot(ctx context.Context, snapshotter Snapshotter, stream StreamID) (*Snapshot, error) {
	if snapshotter == nil {
		return nil, ErrSnapshotterUnconfigured
	}
	return snapshotter.LoadSnapshot(ctx, stream)
}

// ApplySnapshot restores agg from its latest snapshot, if one exists.
func ApplySnapshot(ctx context.Context, snapshotter Snapshotter, agg Aggregate) (err error) {
	snapshot, err := LoadSnapshot(ctx, snapshotter, AggStreamID(agg))
	if err != nil {
		return err
	}
	if sn, ok := any(agg).(Snapshottable); ok {
		err = sn.RestoreSnapshot(snapshot.Data)
	} else {
		err = json.Unmarshal(snapshot.Data, agg)
	}
	if err != nil {
		return fmt.Errorf("failed to restore snapshot: %w", err)
	}
	agg.setVersion(snapshot.ObjVersion)
	agg.setSeq(snapshot.StreamSeq)
	return nil
}

func CreateSnapshot(agg Aggregate, at time.Time) (ss *Snapshot, err error) {
	var data []byte
	s, ok := any(agg).(Snapshottable)
	if ok {
		data, err = s.Snapshot()
	} else {
		data, err = json.Marshal(agg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to serialize snapshot: %w", err)
	}
	ss = &Snapshot{
		SnapshotID:    gonanoid.Must(),
		Stream:        AggStreamID(agg),
		StreamSeq:     agg.GetSeq(),
		ObjVersion:    agg.GetVersion(),
		CreatedAt:     at,
		Encoding:      "json",
		Data:          data,
		SchemaVersion: 1,
	}
	return
}

// === In-Memory Snapshotter ===

type InMemorySnapshotter struct {
	mu        sync.Mutex
	snapshots map[string]*Snapshot
}

func NewInMemorySnapshotter() *InMemorySnapshotter {
	return &InMemorySnapshotter{snapshots: map[string]*Snapshot{}}
}

func (i *InMemorySnapshotter) SaveSnapshot(_ context.Context, snapshot *Snapshot) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.snapshots[snapshot.Stream.String()] = snapshot
	return nil
}

func (i *InMemorySnapshotter) LoadSnapshot(_ context.Context, stream StreamID) (*Snapshot, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	s, ok := i.snapshots[stream.String()]
	if !ok {
		return nil, ErrSnapshotNotFound
	}
	return s, nil
}

var _ Snapshotter = &InMemorySnapshotter{}

// === KV Snapshotter ===

// KeyValueSnapshotter persists snapshots in a kv.Store bucket keyed by
// stream id, one latest snapshot per stream.
type KeyValueSnapshotter struct {
	store kv.Store
}

func NewKeyValueSnapshotter(store kv.Store) *KeyValueSnapshotter {
	return &KeyValueSnapshotter{store: store}
}

func (k *KeyValueSnapshotter) SaveSnapshot(ctx context.Context, snapshot *Snapshot) error {
	return kv.Put(ctx, k.store, snapshotKey(snapshot.Stream), snapshot, kv.PutOptions{})
}

func (k *KeyValueSnapshotter) LoadSnapshot(ctx context.Context, stream StreamID) (*Snapshot, error) {
	s, err := kv.Get[Snapshot](ctx, k.store, snapshotKey(stream))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, ErrSnapshotNotFound
		}
		return nil, err
	}
	return &s, nil
}

func snapshotKey(stream StreamID) string {
	return "snapshot." + stream.Tenant + "." + stream.AggregateType + "." + stream.AggregateID
}

var _ Snapshotter = &KeyValueSnapshotter{}
