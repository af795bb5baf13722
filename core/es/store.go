package es

import (
	"context"
	"errors"
)

var ErrStoreNoEvents = errors.New("no events to store")

type (
	StoreLoadOptions struct {
		StartVersion Version
		StartSeq     uint64
	}

	// StoreLoadOption narrows a Load to a suffix of the stream, used by the
	// repository to replay only the events after a restored snapshot.
	StoreLoadOption func(*StoreLoadOptions)
)

func WithStartAtVersion(v Version) StoreLoadOption {
	return func(o *StoreLoadOptions) { o.StartVersion = v }
}

func WithStartAtSeq(seq uint64) StoreLoadOption {
	return func(o *StoreLoadOptions) { o.StartSeq = seq }
}

func NewStoreLoadOptions(opts ...StoreLoadOption) StoreLoadOptions {
	var o StoreLoadOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

type (
	AppendResult struct {
		// LastSeq is the global sequence of the last appended envelope.
		LastSeq uint64
	}

	// EventStore stores and loads envelopes per tenant-scoped stream.
	//
	// Append is atomic and conditional: it succeeds only when expectedVersion
	// equals the stream's current version, and then extends the stream by
	// exactly len(events). On a mismatch it fails with ErrConcurrencyConflict
	// and writes nothing. This holds even if the distributed aggregate lock
	// is bypassed or a lease expires mid-command.
	EventStore interface {
		Load(ctx context.Context, stream StreamID, opts ...StoreLoadOption) ([]Envelope, error)
		Append(ctx context.Context, stream StreamID, expectedVersion Version, events []Envelope) (*AppendResult, error)
	}
)
