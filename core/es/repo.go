package es

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/ian-magat0512/ubind-sub022/core/clock"
)

type (
	repoOptions struct {
		snapshotter Snapshotter
		clock       clock.Clock
		metrics     ESMetrics
	}
	RepositoryOption func(*repoOptions)

	// Repository rehydrates aggregates by replay and persists new events
	// with optimistic concurrency. It is the only component that talks to
	// the EventStore on behalf of aggregates; aggregates never persist
	// themselves.
	Repository interface {
		Load(ctx context.Context, agg Aggregate, opts ...LoadOption) error
		Save(ctx context.Context, agg Aggregate, opts ...SaveOption) error
		CreateSnapshot(ctx context.Context, agg Aggregate) (*Snapshot, error)
	}
)

func WithSnapshotter(s Snapshotter) RepositoryOption {
	return func(o *repoOptions) { o.snapshotter = s }
}

func WithClock(c clock.Clock) RepositoryOption {
	return func(o *repoOptions) { o.clock = c }
}

type (
	repoSaveOptions struct{ snapshot bool }
	repoLoadOptions struct{ snapshot bool }
	SaveOption      func(*repoSaveOptions)
	LoadOption      func(*repoLoadOptions)
)

// WithSaveSnapshot stores a fresh snapshot after a successful save.
func WithSaveSnapshot() SaveOption { return func(o *repoSaveOptions) { o.snapshot = true } }

// WithLoadSnapshot restores from the latest snapshot before replaying the
// remaining suffix of the stream.
func WithLoadSnapshot() LoadOption { return func(o *repoLoadOptions) { o.snapshot = true } }

type repository struct {
	log         *slog.Logger
	store       EventStore
	registry    *EventRegistry
	snapshotter Snapshotter
	clock       clock.Clock
	metrics     ESMetrics
}

func NewRepository(
	log *slog.Logger,
	store EventStore,
	registry *EventRegistry,
	opts ...RepositoryOption,
) Repository {
	options := repoOptions{clock: clock.System(), metrics: NopESMetrics()}
	for _, opt := range opts {
		opt(&options)
	}
	if options.metrics == nil {
		options.metrics = NopESMetrics()
	}

	return &repository{
		log:         log.With(slog.String("repo", fmt.Sprintf("%T", store))),
		store:       store,
		registry:    registry,
		snapshotter: options.snapshotter,
		clock:       options.clock,
		metrics:     options.metrics,
	}
}

// Load rehydrates agg from its stream. Replay is strictly ordered: each
// envelope must carry the next expected version, so a load either yields
// the deterministic replayed state or fails outright.
func (r *repository) Load(ctx context.Context, agg Aggregate, opts ...LoadOption) (err error) {
	stream := AggStreamID(agg)
	if err := stream.Validate(); err != nil {
		return err
	}
	if len(agg.Uncommitted()) != 0 {
		return errors.New("aggregate has uncommitted events (dirty=true)")
	}
	defer r.metrics.RepoLoadDuration(stream.AggregateType).ObserveDuration()

	loadOptions := repoLoadOptions{}
	for _, opt := range opts {
		opt(&loadOptions)
	}

	log := r.log.With(stream.SlogAttr())
	log.Debug("loading")

	if loadOptions.snapshot {
		if r.snapshotter == nil {
			return ErrSnapshotterUnconfigured
		}
		snapTimer := r.metrics.SnapshotLoadDuration(stream.AggregateType)
		err = ApplySnapshot(ctx, r.snapshotter, agg)
		snapTimer.ObserveDuration()
		if err != nil {
			if !errors.Is(err, ErrSnapshotNotFound) {
				return fmt.Errorf("failed to apply snapshot: %w", err)
			}
		} else {
			log.Debug(
				"snapshot applied",
				slog.Uint64("seq", agg.GetSeq()),
				agg.GetVersion().SlogAttr(),
			)
		}
	}

	var (
		curVersion = agg.GetVersion()
		minVersion = curVersion + 1
		minSeq     = agg.GetSeq() + 1
	)

	loaded, err := r.store.Load(
		ctx,
		stream,
		WithStartAtVersion(minVersion),
		WithStartAtSeq(minSeq),
	)
	if err != nil {
		if errors.Is(err, ErrAggregateNotFound) && curVersion > 0 {
			// snapshot restored full state, no events past it
			return nil
		}
		return err
	}

	for _, e := range loaded {
		expectVersion := agg.GetVersion() + 1
		if e.Version != expectVersion {
			return fmt.Errorf("expect version %d, got %d", expectVersion, e.Version)
		}

		evt, err := r.registry.Decode(e)
		if err != nil {
			return err
		}
		if err := agg.Apply(evt); err != nil {
			return err
		}

		agg.setVersion(e.Version)
		agg.setSeq(e.Seq)
		curVersion = e.Version
	}

	if curVersion == 0 {
		return ErrAggregateNotFound
	}

	return nil
}

func (r *repository) Save(ctx context.Context, agg Aggregate, saveOpts ...SaveOption) error {
	uncommitted := agg.Uncommitted()
	if len(uncommitted) == 0 {
		return nil
	}
	stream := AggStreamID(agg)
	if err := stream.Validate(); err != nil {
		return err
	}
	defer r.metrics.RepoSaveDuration(stream.AggregateType).ObserveDuration()

	saveOptions := repoSaveOptions{}
	for _, opt := range saveOpts {
		opt(&saveOptions)
	}

	expectVersion := agg.GetVersion()
	newEnvs := make([]Envelope, 0, len(uncommitted))
	v := expectVersion

	for _, ev := range uncommitted {
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}

		v++

		env := Envelope{
			ID:            gonanoid.Must(),
			Type:          eventTypeOf(ev),
			Tenant:        stream.Tenant,
			AggregateID:   stream.AggregateID,
			AggregateType: stream.AggregateType,
			Version:       v,
			OccurredAt:    r.clock.Now(),
			Data:          data,
		}
		if attributed, ok := ev.(Attributed); ok {
			env.PerformedBy = attributed.PerformedBy()
		}

		if err := env.Validate(); err != nil {
			return err
		}

		newEnvs = append(newEnvs, env)
	}

	res, err := r.store.Append(ctx, stream, expectVersion, newEnvs)
	if err != nil {
		return fmt.Errorf("failed to save %s: %w", stream, err)
	}
	if res == nil {
		return errors.New("append returned nil result")
	}
	agg.setSeq(res.LastSeq)
	agg.setVersion(v)
	agg.ClearUncommitted()
	r.metrics.EventsAppended(stream.AggregateType, len(newEnvs))

	if saveOptions.snapshot {
		if _, snapshotErr := r.CreateSnapshot(ctx, agg); snapshotErr != nil {
			return snapshotErr
		}
	}

	r.log.Debug(
		"saved",
		stream.SlogAttr(),
		slog.Uint64("seq", agg.GetSeq()),
		agg.GetVersion().SlogAttr(),
		slog.Int("num_events", len(newEnvs)),
	)

	return nil
}

func (r *repository) CreateSnapshot(ctx context.Context, agg Aggregate) (ss *Snapshot, err error) {
	if r.snapshotter == nil {
		return nil, ErrSnapshotterUnconfigured
	}
	defer r.metrics.SnapshotSaveDuration(agg.GetAggType()).ObserveDuration()
	ss, err = CreateSnapshot(agg, r.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot: %w", err)
	}
	err = r.snapshotter.SaveSnapshot(ctx, ss)
	if err != nil {
		return nil, fmt.Errorf("failed to save snapshot: %w", err)
	}
	r.log.Debug("snapshot saved", ss.logAttrs())
	return
}

var _ Repository = &repository{}

// === TypedRepository ===

type TypedRepository[T Aggregate] interface {
	GetAggType() string
	New(tenant, id string) T
	Load(ctx context.Context, a T, opts ...LoadOption) error
	GetByID(ctx context.Context, tenant, aggID string, opts ...LoadOption) (T, error)
	Save(ctx context.Context, agg T, opts ...SaveOption) error
}

type typedRepo[T Aggregate] struct {
	r   Repository
	log *slog.Logger
}

func (t *typedRepo[T]) New(tenant, id string) T {
	var a T
	rt := reflect.TypeOf((*T)(nil)).Elem()
	if rt.Kind() == reflect.Pointer {
		a = reflect.New(rt.Elem()).Interface().(T)
	} else {
		a = *new(T)
	}
	a.SetTenant(tenant)
	a.SetID(id)
	return a
}

func (t *typedRepo[T]) Load(ctx context.Context, a T, opts ...LoadOption) error {
	return t.r.Load(ctx, a, opts...)
}

func (t *typedRepo[T]) GetByID(ctx context.Context, tenant, aggID string, opts ...LoadOption) (a T, err error) {
	if tenant == "" {
		return a, errors.New("tenant is empty")
	}
	if aggID == "" {
		return a, errors.New("aggregate id is empty")
	}
	a = t.New(tenant, aggID)
	if err = t.r.Load(ctx, a, opts...); err != nil {
		return
	}
	return a, nil
}

func (t *typedRepo[T]) Save(ctx context.Context, agg T, opts ...SaveOption) error {
	return t.r.Save(ctx, agg, opts...)
}

func (t *typedRepo[T]) GetAggType() string {
	a := t.New("_", "_")
	return a.GetAggType()
}

func NewTypedRepository[T Aggregate](log *slog.Logger, s EventStore, reg *EventRegistry, opts ...RepositoryOption) TypedRepository[T] {
	return NewTypedRepositoryFrom[T](log, NewRepository(log, s, reg, opts...))
}

func NewTypedRepositoryFrom[T Aggregate](log *slog.Logger, r Repository) TypedRepository[T] {
	return &typedRepo[T]{r: r, log: log.With(slog.String("repo", fmt.Sprintf("%T", *new(T))))}
}
