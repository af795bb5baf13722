package lock_test

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/ian-magat0512/ubind-sub022/core/fault"
	"github.com/ian-magat0512/ubind-sub022/core/lock"
	"github.com/ian-magat0512/ubind-sub022/ports/kv"
)

func testKey(id string) lock.Key {
	return lock.Key{Tenant: "t1", AggregateType: "quote", AggregateID: id}
}

func newLocker(t *testing.T) *lock.KVLocker {
	t.Helper()
	return lock.NewKVLocker(slog.Default(), kv.NewMemStore(), lock.WithPollInterval(time.Millisecond))
}

func TestKVLocker_AcquireRelease(t *testing.T) {
	locker := newLocker(t)

	h, err := locker.Acquire(t.Context(), testKey("q-1"), time.Second)
	require.NoError(t, err)
	require.NotEmpty(t, h.Owner)

	require.NoError(t, locker.Release(t.Context(), h))

	// immediately acquirable again
	h2, err := locker.Acquire(t.Context(), testKey("q-1"), time.Second)
	require.NoError(t, err)
	require.NotEqual(t, h.Owner, h2.Owner)
	require.NoError(t, locker.Release(t.Context(), h2))
}

func TestKVLocker_Timeout(t *testing.T) {
	locker := newLocker(t)

	h, err := locker.Acquire(t.Context(), testKey("q-1"), time.Minute)
	require.NoError(t, err)
	defer locker.Release(t.Context(), h)

	ctx, cancel := context.WithTimeout(t.Context(), 25*time.Millisecond)
	defer cancel()

	_, err = locker.Acquire(ctx, testKey("q-1"), time.Minute)
	require.ErrorIs(t, err, lock.ErrLockTimeout)
	require.True(t, fault.IsRetryable(err))
}

func TestKVLocker_IndependentKeys(t *testing.T) {
	locker := newLocker(t)

	h1, err := locker.Acquire(t.Context(), testKey("q-1"), time.Second)
	require.NoError(t, err)
	h2, err := locker.Acquire(t.Context(), testKey("q-2"), time.Second)
	require.NoError(t, err)

	// same aggregate id, different tenant: a separate lock
	h3, err := locker.Acquire(t.Context(), lock.Key{Tenant: "t2", AggregateType: "quote", AggregateID: "q-1"}, time.Second)
	require.NoError(t, err)

	for _, h := range []*lock.Handle{h1, h2, h3} {
		require.NoError(t, locker.Release(t.Context(), h))
	}
}

func TestKVLocker_LeaseExpiry(t *testing.T) {
	locker := newLocker(t)

	h, err := locker.Acquire(t.Context(), testKey("q-1"), 20*time.Millisecond)
	require.NoError(t, err)

	// the lease lapses without a release
	ctx, cancel := context.WithTimeout(t.Context(), time.Second)
	defer cancel()
	h2, err := locker.Acquire(ctx, testKey("q-1"), time.Second)
	require.NoError(t, err)

	// releasing the lapsed handle must not steal the new holder's lock
	require.NoError(t, locker.Release(t.Context(), h))
	ctx2, cancel2 := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel2()
	_, err = locker.Acquire(ctx2, testKey("q-1"), time.Second)
	require.ErrorIs(t, err, lock.ErrLockTimeout)

	require.NoError(t, locker.Release(t.Context(), h2))
}

// interposeStore runs a hook before the first delete, simulating another
// instance acting in the window between a lapsed lease and its release.
type interposeStore struct {
	kv.Store
	onDelete func()
}

func (s *interposeStore) Delete(ctx context.Context, key string, expectedRevision uint64) error {
	if hook := s.onDelete; hook != nil {
		s.onDelete = nil
		hook()
	}
	return s.Store.Delete(ctx, key, expectedRevision)
}

func TestKVLocker_ReleaseDoesNotRemoveReacquiredLock(t *testing.T) {
	mem := kv.NewMemStore()
	store := &interposeStore{Store: mem}
	lockerA := lock.NewKVLocker(slog.Default(), store, lock.WithPollInterval(time.Millisecond))
	lockerB := lock.NewKVLocker(slog.Default(), mem, lock.WithPollInterval(time.Millisecond))

	storeKey := "lock." + testKey("q-1").String()

	h, err := lockerA.Acquire(t.Context(), testKey("q-1"), 50*time.Millisecond)
	require.NoError(t, err)

	// while A's release is in flight its lease lapses and B takes the lock
	// with a fresh one-minute lease
	var h2 *lock.Handle
	store.onDelete = func() {
		require.NoError(t, mem.Delete(context.Background(), storeKey, 0))
		var err error
		h2, err = lockerB.Acquire(context.Background(), testKey("q-1"), time.Minute)
		require.NoError(t, err)
	}

	require.NoError(t, lockerA.Release(t.Context(), h))
	require.NotNil(t, h2)

	// B's lock survived the stale release and still excludes others
	e, err := mem.Get(t.Context(), storeKey)
	require.NoError(t, err)
	require.Equal(t, h2.Revision, e.Revision)

	ctx, cancel := context.WithTimeout(t.Context(), 25*time.Millisecond)
	defer cancel()
	_, err = lockerB.Acquire(ctx, testKey("q-1"), time.Minute)
	require.ErrorIs(t, err, lock.ErrLockTimeout)

	require.NoError(t, lockerB.Release(t.Context(), h2))
}

func TestKVLocker_MutualExclusion(t *testing.T) {
	locker := newLocker(t)

	var (
		holders atomic.Int32
		maxSeen atomic.Int32
	)

	g, ctx := errgroup.WithContext(t.Context())
	for range 8 {
		g.Go(func() error {
			for range 5 {
				h, err := locker.Acquire(ctx, testKey("q-1"), time.Second)
				if err != nil {
					return err
				}
				if cur := holders.Add(1); cur > maxSeen.Load() {
					maxSeen.Store(cur)
				}
				time.Sleep(time.Millisecond)
				holders.Add(-1)
				if err := locker.Release(ctx, h); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.EqualValues(t, 1, maxSeen.Load())
}
