// Package metrics provides abstract metrics interfaces so the core can be
// instrumented by pluggable backends (Prometheus, StatsD, ...) without
// coupling to any specific implementation.
package metrics

// Timer measures the duration of an operation. Call ObserveDuration when
// the operation completes.
type Timer interface {
	ObserveDuration()
}
