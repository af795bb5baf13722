// Package lock provides the distributed mutual-exclusion primitive that
// serializes command execution per aggregate across service instances.
// Locks carry a lease: a holder that dies stops blocking others once the
// lease expires, and the event store's conditional append still rejects
// any stale write that slips past an expired lease.
package lock

import (
	"context"
	"log/slog"
	"time"

	"github.com/ian-magat0512/ubind-sub022/core/fault"
)

// ErrLockTimeout is returned when acquisition does not complete within the
// caller's bounded wait. Retryable with backoff; the caller never proceeds
// without the lock.
var ErrLockTimeout = fault.Retryable("lock.timeout", "lock acquisition timed out")

// Key identifies the lock for one aggregate.
type Key struct {
	Tenant        string
	AggregateType string
	AggregateID   string
}

func (k Key) String() string {
	return k.Tenant + "." + k.AggregateType + "." + k.AggregateID
}

func (k Key) SlogAttr() slog.Attr {
	return slog.Group(
		"lock",
		slog.String("tenant", k.Tenant),
		slog.String("agg_type", k.AggregateType),
		slog.String("agg_id", k.AggregateID),
	)
}

// Handle proves ownership of an acquired lock. Release must be called with
// the same handle; a handle whose lease has lapsed releases as a no-op.
type Handle struct {
	Key   Key
	Owner string
	// Revision is the store revision written at acquisition. Release is
	// conditioned on it, so a lapsed handle can never remove a lock the
	// key has since been re-acquired under.
	Revision uint64
	Lease    time.Duration
	Acquired time.Time
}

// Locker is the distributed lock service port. Acquire blocks until the
// lock is held or ctx expires; at most one handle is live per key across
// all instances for the lease duration.
type Locker interface {
	Acquire(ctx context.Context, key Key, lease time.Duration) (*Handle, error)
	Release(ctx context.Context, handle *Handle) error
}
