package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ian-magat0512/ubind-sub022/core/metrics"
	"github.com/ian-magat0512/ubind-sub022/core/pipeline"
)

// pipelineMetrics implements pipeline.Metrics using Prometheus.
type pipelineMetrics struct {
	commandsExecuted     *prometheus.CounterVec
	commandDuration      *prometheus.HistogramVec
	concurrencyConflicts *prometheus.CounterVec
	lockWaitDuration     *prometheus.HistogramVec
}

// NewPipelineMetrics creates a new Prometheus implementation of
// pipeline.Metrics.
func NewPipelineMetrics(reg prometheus.Registerer) pipeline.Metrics {
	m := &pipelineMetrics{
		commandsExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ubind_pipeline_commands_total",
			Help: "Total number of commands executed",
		}, []string{"aggregate_type", "success"}),

		commandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ubind_pipeline_command_duration_seconds",
			Help:    "Command execution latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"aggregate_type"}),

		concurrencyConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ubind_pipeline_concurrency_conflicts_total",
			Help: "Total number of optimistic append failures",
		}, []string{"aggregate_type"}),

		lockWaitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ubind_pipeline_lock_wait_duration_seconds",
			Help:    "Time spent waiting for the aggregate lock in seconds",
			Buckets: defaultBuckets,
		}, []string{"aggregate_type"}),
	}

	reg.MustRegister(
		m.commandsExecuted,
		m.commandDuration,
		m.concurrencyConflicts,
		m.lockWaitDuration,
	)

	return m
}

func (m *pipelineMetrics) CommandExecuted(aggType string, err error) {
	m.commandsExecuted.WithLabelValues(aggType, boolToStr(err == nil)).Inc()
}

func (m *pipelineMetrics) CommandDuration(aggType string) metrics.Timer {
	return newTimer(m.commandDuration.WithLabelValues(aggType))
}

func (m *pipelineMetrics) ConcurrencyConflict(aggType string) {
	m.concurrencyConflicts.WithLabelValues(aggType).Inc()
}

func (m *pipelineMetrics) LockWait(aggType string, d time.Duration) {
	m.lockWaitDuration.WithLabelValues(aggType).Observe(d.Seconds())
}

func boolToStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

var _ pipeline.Metrics = (*pipelineMetrics)(nil)
