// Package pipeline orchestrates every mutating operation of the core:
// acquire the distributed aggregate lock, load (replay) the aggregate,
// invoke the command, append the resulting events conditionally, release
// the lock. The pipeline is the only caller of EventStore.Append and the
// only holder of the lock; aggregates never persist themselves.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ian-magat0512/ubind-sub022/core/es"
	"github.com/ian-magat0512/ubind-sub022/core/fault"
	"github.com/ian-magat0512/ubind-sub022/core/lock"
	"github.com/ian-magat0512/ubind-sub022/core/metrics"
)

// CommandFunc executes one command against a loaded aggregate. Returning an
// error aborts the pipeline: no events are appended.
type CommandFunc[T es.Aggregate] func(ctx context.Context, agg T) error

// Metrics receives pipeline instrumentation. All methods must be safe for
// concurrent use.
type Metrics interface {
	CommandExecuted(aggType string, err error)
	CommandDuration(aggType string) metrics.Timer
	ConcurrencyConflict(aggType string)
	LockWait(aggType string, d time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) CommandExecuted(string, error)        {}
func (nopMetrics) CommandDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopMetrics) ConcurrencyConflict(string)           {}
func (nopMetrics) LockWait(string, time.Duration)       {}

type Options struct {
	// Lease is the lock lease duration per command execution.
	Lease time.Duration
	// LockWait bounds how long acquisition may block before LockTimeout.
	LockWait time.Duration
	// Retries is how many times a command is re-run after a concurrency
	// conflict (reload and retry). Lock timeouts are not retried here;
	// the caller owns that backoff policy.
	Retries int
	// SnapshotEvery stores a snapshot when an aggregate's version crosses
	// a multiple of this value. Zero disables snapshots.
	SnapshotEvery uint64
}

func (o Options) withDefaults() Options {
	if o.Lease <= 0 {
		o.Lease = 30 * time.Second
	}
	if o.LockWait <= 0 {
		o.LockWait = 10 * time.Second
	}
	return o
}

// Pipeline executes commands for one aggregate type T.
type Pipeline[T es.Aggregate] struct {
	log     *slog.Logger
	repo    es.TypedRepository[T]
	locker  lock.Locker
	opts    Options
	metrics Metrics
}

func New[T es.Aggregate](
	log *slog.Logger,
	repo es.TypedRepository[T],
	locker lock.Locker,
	opts Options,
) *Pipeline[T] {
	return &Pipeline[T]{
		log:     log.With(slog.String("component", "pipeline")),
		repo:    repo,
		locker:  locker,
		opts:    opts.withDefaults(),
		metrics: nopMetrics{},
	}
}

// WithMetrics attaches a metrics backend. Call during wiring, before use.
func (p *Pipeline[T]) WithMetrics(m Metrics) *Pipeline[T] {
	p.metrics = m
	return p
}

// Execute runs fn against the aggregate identified by tenant+id under the
// distributed lock, then appends the raised events conditionally. The
// aggregate may be brand new (no stream yet): creation commands run
// against an empty aggregate and the append is conditional on version 0.
//
// Errors: fn's own error is returned as-is (terminal domain failures);
// lock.ErrLockTimeout and es.ErrConcurrencyConflict are retryable and
// detectable via fault.IsRetryable.
func (p *Pipeline[T]) Execute(ctx context.Context, tenant, aggID string, fn CommandFunc[T]) (agg T, err error) {
	aggType := p.repo.GetAggType()

	defer p.metrics.CommandDuration(aggType).ObserveDuration()
	defer func() {
		p.metrics.CommandExecuted(aggType, err)
	}()

	key := lock.Key{Tenant: tenant, AggregateType: aggType, AggregateID: aggID}

	lockStart := time.Now()
	lockCtx, cancel := context.WithTimeout(ctx, p.opts.LockWait)
	handle, err := p.locker.Acquire(lockCtx, key, p.opts.Lease)
	cancel()
	p.metrics.LockWait(aggType, time.Since(lockStart))
	if err != nil {
		return agg, err
	}
	defer func() {
		if releaseErr := p.locker.Release(context.WithoutCancel(ctx), handle); releaseErr != nil {
			p.log.Warn("lock release failed", key.SlogAttr(), slog.Any("error", releaseErr))
		}
	}()

	for attempt := 0; ; attempt++ {
		agg, err = p.runOnce(ctx, tenant, aggID, fn)
		if err == nil {
			return agg, nil
		}
		if errors.Is(err, es.ErrConcurrencyConflict) {
			p.metrics.ConcurrencyConflict(aggType)
			if attempt < p.opts.Retries {
				p.log.Debug(
					"concurrency conflict, retrying",
					key.SlogAttr(),
					slog.Int("attempt", attempt+1),
				)
				continue
			}
		}
		return agg, err
	}
}

// load rehydrates agg, restoring from the latest snapshot first when the
// pipeline writes snapshots. A repository without a snapshotter falls back
// to full replay.
func (p *Pipeline[T]) load(ctx context.Context, agg T) error {
	if p.opts.SnapshotEvery > 0 {
		err := p.repo.Load(ctx, agg, es.WithLoadSnapshot())
		if !errors.Is(err, es.ErrSnapshotterUnconfigured) {
			return err
		}
	}
	return p.repo.Load(ctx, agg)
}

func (p *Pipeline[T]) runOnce(ctx context.Context, tenant, aggID string, fn CommandFunc[T]) (agg T, err error) {
	agg = p.repo.New(tenant, aggID)

	err = p.load(ctx, agg)
	if err != nil && !errors.Is(err, es.ErrAggregateNotFound) {
		return agg, fmt.Errorf("load %s/%s: %w", tenant, aggID, err)
	}

	if err = fn(ctx, agg); err != nil {
		// validation failed before any event was produced; nothing to undo
		return agg, err
	}

	var saveOpts []es.SaveOption
	if n := p.opts.SnapshotEvery; n > 0 {
		before := agg.GetVersion().Uint64()
		after := before + uint64(len(agg.Uncommitted()))
		if after/n > before/n {
			saveOpts = append(saveOpts, es.WithSaveSnapshot())
		}
	}

	if err = p.repo.Save(ctx, agg, saveOpts...); err != nil {
		return agg, err
	}
	return agg, nil
}

// Get loads the aggregate read-only, without the lock. Reads observe a
// consistent snapshot: the events up to the version seen at load time.
func (p *Pipeline[T]) Get(ctx context.Context, tenant, aggID string) (T, error) {
	if p.opts.SnapshotEvery > 0 {
		agg, err := p.repo.GetByID(ctx, tenant, aggID, es.WithLoadSnapshot())
		if !errors.Is(err, es.ErrSnapshotterUnconfigured) {
			return agg, err
		}
	}
	return p.repo.GetByID(ctx, tenant, aggID)
}

// IsRetryable reports whether err may succeed on retry (lock timeout or
// concurrency conflict). Terminal domain failures return false.
func IsRetryable(err error) bool { return fault.IsRetryable(err) }
