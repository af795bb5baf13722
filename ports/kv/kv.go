// Package kv defines the key-value port backing the durable primitives of
// the core: lease-based aggregate locks and reference number sequences.
// Implementations must be safe under concurrent access from multiple
// service instances.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrKeyExists is returned by Create when the key is already present.
	ErrKeyExists = errors.New("key exists")
	// ErrRevisionMismatch is returned by Update when the expected revision
	// no longer matches, i.e. another writer got there first.
	ErrRevisionMismatch = errors.New("revision mismatch")
)

type Entry struct {
	Data []byte
	// Revision increases on every write to the key; it is the
	// compare-and-swap token for Update.
	Revision uint64
}

type PutOptions struct {
	TTL time.Duration
}

// Store is a durable key-value store with optimistic, revision-based
// updates. Create and Update are the atomic primitives locks and sequence
// allocators are built on.
type Store interface {
	Put(ctx context.Context, key string, entry Entry, opts PutOptions) error
	Get(ctx context.Context, key string) (entry Entry, err error)
	// Delete removes key. With expectedRevision 0 it is unconditional and
	// deleting an absent key is a no-op. With a non-zero expectedRevision
	// the delete only goes through while the key still carries that
	// revision; otherwise it fails with ErrRevisionMismatch (or
	// ErrNotFound when the key is gone) and removes nothing.
	Delete(ctx context.Context, key string, expectedRevision uint64) error

	// Create writes key only if it does not exist; fails with ErrKeyExists
	// otherwise. With a TTL, the key expires unless refreshed.
	Create(ctx context.Context, key string, data []byte, opts PutOptions) (revision uint64, err error)
	// Update writes key only if its current revision equals expectedRevision;
	// fails with ErrRevisionMismatch otherwise.
	Update(ctx context.Context, key string, data []byte, expectedRevision uint64) (revision uint64, err error)
}

func Put[T any](ctx context.Context, store Store, key string, v T, opts PutOptions) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return store.Put(ctx, key, Entry{Data: data}, opts)
}

func Get[T any](ctx context.Context, store Store, key string) (out T, err error) {
	entry, err := store.Get(ctx, key)
	if err != nil {
		return
	}
	err = json.Unmarshal(entry.Data, &out)
	if err != nil {
		return
	}
	return
}
