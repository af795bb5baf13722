package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/ian-magat0512/ubind-sub022/core/clock"
	"github.com/ian-magat0512/ubind-sub022/ports/kv"
)

// KVLocker implements Locker over any kv.Store with atomic Create and TTL
// support: holding the lock is owning the key. Acquisition polls Create
// until it wins or the context expires. With a JetStream KV bucket this is
// a multi-instance lock; with kv.MemStore it is process-local.
type KVLocker struct {
	store kv.Store
	log   *slog.Logger
	clock clock.Clock
	// poll is the retry interval while the key is held by someone else.
	poll time.Duration
}

type KVLockerOption func(*KVLocker)

func WithPollInterval(d time.Duration) KVLockerOption {
	return func(l *KVLocker) {
		if d > 0 {
			l.poll = d
		}
	}
}

func WithClock(c clock.Clock) KVLockerOption {
	return func(l *KVLocker) { l.clock = c }
}

func NewKVLocker(log *slog.Logger, store kv.Store, opts ...KVLockerOption) *KVLocker {
	l := &KVLocker{
		store: store,
		log:   log.With(slog.String("locker", "kv")),
		clock: clock.System(),
		poll:  25 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

type lockRecord struct {
	Owner      string    `json:"owner"`
	AcquiredAt time.Time `json:"acquired_at"`
}

func (l *KVLocker) Acquire(ctx context.Context, key Key, lease time.Duration) (*Handle, error) {
	if lease <= 0 {
		return nil, errors.New("lock lease must be positive")
	}

	owner := gonanoid.Must()
	record, err := json.Marshal(lockRecord{Owner: owner, AcquiredAt: l.clock.Now()})
	if err != nil {
		return nil, err
	}

	storeKey := "lock." + key.String()

	for {
		rev, err := l.store.Create(ctx, storeKey, record, kv.PutOptions{TTL: lease})
		if err == nil {
			l.log.Debug("acquired", key.SlogAttr(), slog.String("owner", owner))
			return &Handle{
				Key:      key,
				Owner:    owner,
				Revision: rev,
				Lease:    lease,
				Acquired: l.clock.Now(),
			}, nil
		}
		if !errors.Is(err, kv.ErrKeyExists) {
			return nil, fmt.Errorf("lock acquire %s: %w", key, err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, key)
		case <-time.After(l.poll):
		}
	}
}

func (l *KVLocker) Release(ctx context.Context, handle *Handle) error {
	if handle == nil {
		return errors.New("nil lock handle")
	}

	storeKey := "lock." + handle.Key.String()

	// The delete is conditioned on the revision written at acquisition, in
	// one store operation. A lapsed lease whose key was re-acquired carries
	// a newer revision, so the stale handle cannot remove it.
	err := l.store.Delete(ctx, storeKey, handle.Revision)
	switch {
	case err == nil:
		l.log.Debug("released", handle.Key.SlogAttr(), slog.String("owner", handle.Owner))
		return nil
	case errors.Is(err, kv.ErrNotFound):
		// lease already lapsed
		return nil
	case errors.Is(err, kv.ErrRevisionMismatch):
		l.log.Debug("release skipped, lock re-acquired elsewhere", handle.Key.SlogAttr())
		return nil
	default:
		return fmt.Errorf("lock release %s: %w", handle.Key, err)
	}
}

var _ Locker = (*KVLocker)(nil)
