package es

import "github.com/ian-magat0512/ubind-sub022/core/metrics"

// ESMetrics receives repository instrumentation: replay and append
// latencies, appended event counts and snapshot round-trips. All methods
// must be safe for concurrent use.
type ESMetrics interface {
	RepoLoadDuration(aggType string) metrics.Timer
	RepoSaveDuration(aggType string) metrics.Timer
	EventsAppended(aggType string, count int)

	SnapshotLoadDuration(aggType string) metrics.Timer
	SnapshotSaveDuration(aggType string) metrics.Timer
}

type nopESMetrics struct{}

func (nopESMetrics) RepoLoadDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopESMetrics) RepoSaveDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopESMetrics) EventsAppended(string, int)            {}

func (nopESMetrics) SnapshotLoadDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopESMetrics) SnapshotSaveDuration(string) metrics.Timer { return metrics.NopTimer() }

// NopESMetrics returns an ESMetrics that does nothing.
func NopESMetrics() ESMetrics { return nopESMetrics{} }

// WithMetrics attaches a metrics backend to the repository.
func WithMetrics(m ESMetrics) RepositoryOption {
	return func(o *repoOptions) { o.metrics = m }
}
