package kv

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	data     []byte
	revision uint64
	expires  time.Time
}

// MemStore is an in-process Store for tests and single-node development.
// TTLs are honored lazily on access.
type MemStore struct {
	mu   sync.Mutex
	rev  uint64
	data map[string]memEntry
}

func NewMemStore() *MemStore {
	return &MemStore{data: map[string]memEntry{}}
}

func (m *MemStore) getLocked(key string) (memEntry, bool) {
	e, ok := m.data[key]
	if !ok {
		return memEntry{}, false
	}
	if !e.expires.IsZero() && time.Now().After(e.expires) {
		delete(m.data, key)
		return memEntry{}, false
	}
	return e, true
}

func (m *MemStore) putLocked(key string, data []byte, ttl time.Duration) uint64 {
	m.rev++
	e := memEntry{data: data, revision: m.rev}
	if ttl > 0 {
		e.expires = time.Now().Add(ttl)
	}
	m.data[key] = e
	return m.rev
}

func (m *MemStore) Put(_ context.Context, key string, entry Entry, opts PutOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putLocked(key, entry.Data, opts.TTL)
	return nil
}

func (m *MemStore) Get(_ context.Context, key string) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.getLocked(key)
	if !ok {
		return Entry{}, ErrNotFound
	}
	return Entry{Data: e.data, Revision: e.revision}, nil
}

func (m *MemStore) Delete(_ context.Context, key string, expectedRevision uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if expectedRevision == 0 {
		delete(m.data, key)
		return nil
	}
	e, ok := m.getLocked(key)
	if !ok {
		return ErrNotFound
	}
	if e.revision != expectedRevision {
		return ErrRevisionMismatch
	}
	delete(m.data, key)
	return nil
}

func (m *MemStore) Create(_ context.Context, key string, data []byte, opts PutOptions) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.getLocked(key); ok {
		return 0, ErrKeyExists
	}
	return m.putLocked(key, data, opts.TTL), nil
}

func (m *MemStore) Update(_ context.Context, key string, data []byte, expectedRevision uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.getLocked(key)
	if !ok {
		if expectedRevision != 0 {
			return 0, ErrRevisionMismatch
		}
		return m.putLocked(key, data, 0), nil
	}
	if e.revision != expectedRevision {
		return 0, ErrRevisionMismatch
	}
	return m.putLocked(key, data, 0), nil
}

var _ Store = (*MemStore)(nil)
