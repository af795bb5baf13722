package nats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/ian-magat0512/ubind-sub022/ports/kv"
)

type KvConfig struct {
	Connect Connector
	Bucket  string
	// EntryTTL expires entries bucket-wide. Lock buckets set it to the
	// lease duration; sequence buckets leave it zero.
	EntryTTL time.Duration
	MaxBytes int64
}

// KvStore backs the kv port with a JetStream key-value bucket. Create and
// Update map onto JetStream's own create/revision semantics, so the CAS
// guarantees hold across service instances.
type KvStore struct {
	kv jetstream.KeyValue
}

func NewKvStore(cfg KvConfig) (*KvStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket is required")
	}

	doConnect := cfg.Connect
	if doConnect == nil {
		doConnect = ConnectDefault()
	}

	nc, _, err := doConnect()
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, err
	}

	maxBytes := cfg.MaxBytes
	if maxBytes == 0 {
		maxBytes = 1024 * 1024
	}

	jskv, err := js.CreateOrUpdateKeyValue(context.Background(), jetstream.KeyValueConfig{
		Bucket:   cfg.Bucket,
		Storage:  jetstream.FileStorage,
		TTL:      cfg.EntryTTL,
		MaxBytes: maxBytes,
	})
	if err != nil {
		return nil, err
	}

	return &KvStore{kv: jskv}, nil
}

func (k *KvStore) Put(ctx context.Context, key string, entry kv.Entry, _ kv.PutOptions) error {
	_, err := k.kv.Put(ctx, key, entry.Data)
	return err
}

func (k *KvStore) Get(ctx context.Context, key string) (kv.Entry, error) {
	v, err := k.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return kv.Entry{}, kv.ErrNotFound
		}
		return kv.Entry{}, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return kv.Entry{Data: v.Value(), Revision: v.Revision()}, nil
}

func (k *KvStore) Delete(ctx context.Context, key string, expectedRevision uint64) error {
	if expectedRevision == 0 {
		return k.kv.Purge(ctx, key)
	}
	err := k.kv.Purge(ctx, key, jetstream.LastRevision(expectedRevision))
	if err != nil {
		var apiErr *jetstream.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence {
			return kv.ErrRevisionMismatch
		}
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Create writes key only if absent. Expiry comes from the bucket's
// EntryTTL, not the per-call options.
func (k *KvStore) Create(ctx context.Context, key string, data []byte, _ kv.PutOptions) (uint64, error) {
	rev, err := k.kv.Create(ctx, key, data)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return 0, kv.ErrKeyExists
		}
		return 0, fmt.Errorf("failed to create %s: %w", key, err)
	}
	return rev, nil
}

func (k *KvStore) Update(ctx context.Context, key string, data []byte, expectedRevision uint64) (uint64, error) {
	rev, err := k.kv.Update(ctx, key, data, expectedRevision)
	if err != nil {
		var apiErr *jetstream.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence {
			return 0, kv.ErrRevisionMismatch
		}
		return 0, fmt.Errorf("failed to update %s: %w", key, err)
	}
	return rev, nil
}

var _ kv.Store = (*KvStore)(nil)
