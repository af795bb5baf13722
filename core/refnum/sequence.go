package refnum

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ian-magat0512/ubind-sub022/ports/kv"
)

// KVSequence is a durable sequence built on revision-based compare-and-swap
// over a kv.Store. Each Next reads the current counter, attempts a CAS
// update, and retries on contention; two racing allocations can therefore
// never observe the same value. Backed by JetStream KV in production and
// kv.MemStore in tests.
type KVSequence struct {
	store kv.Store
	// maxRetries bounds CAS retries before giving up under pathological
	// contention.
	maxRetries int
}

func NewKVSequence(store kv.Store) *KVSequence {
	return &KVSequence{store: store, maxRetries: 64}
}

type counter struct {
	Value uint64 `json:"value"`
}

func (s *KVSequence) Next(ctx context.Context, scope string) (uint64, error) {
	if scope == "" {
		return 0, errors.New("sequence scope is empty")
	}

	key := "seq." + scope

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		var (
			cur counter
			rev uint64
		)

		entry, err := s.store.Get(ctx, key)
		switch {
		case errors.Is(err, kv.ErrNotFound):
			// first allocation for this scope
		case err != nil:
			return 0, fmt.Errorf("sequence get %s: %w", key, err)
		default:
			if err := json.Unmarshal(entry.Data, &cur); err != nil {
				return 0, fmt.Errorf("sequence decode %s: %w", key, err)
			}
			rev = entry.Revision
		}

		next := counter{Value: cur.Value + 1}
		data, err := json.Marshal(next)
		if err != nil {
			return 0, err
		}

		if rev == 0 {
			_, err = s.store.Create(ctx, key, data, kv.PutOptions{})
		} else {
			_, err = s.store.Update(ctx, key, data, rev)
		}
		if err != nil {
			if errors.Is(err, kv.ErrRevisionMismatch) || errors.Is(err, kv.ErrKeyExists) {
				continue
			}
			return 0, fmt.Errorf("sequence update %s: %w", key, err)
		}
		return next.Value, nil
	}

	return 0, fmt.Errorf("sequence %s: contention retries exhausted", scope)
}

var _ Sequence = (*KVSequence)(nil)
