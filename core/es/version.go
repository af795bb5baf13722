package es

import "log/slog"

// Version is the per-stream version of an aggregate. The first committed
// event has Version 1, so after N events the aggregate version equals N.
// Appends are conditional on the expected version matching the store,
// which is the optimistic concurrency gate beneath the aggregate lock.
type Version uint64

func (v Version) Uint64() uint64                       { return uint64(v) }
func (v Version) SlogAttr() slog.Attr                  { return slog.Uint64("version", uint64(v)) }
func (v Version) SlogAttrWithKey(key string) slog.Attr { return slog.Uint64(key, uint64(v)) }
