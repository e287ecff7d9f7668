// Package metrics exposes Prometheus counters/gauges/histograms for stage
// throughput, queue depth, and collaborator latency.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"iaros/payee-enrichment-engine/internal/apierrors"
)

// Registry holds every metric the pipeline reports.
type Registry struct {
	StageProcessedTotal   *prometheus.CounterVec
	StageSucceededTotal   *prometheus.CounterVec
	StageFailedTotal      *prometheus.CounterVec
	QueueDepth            *prometheus.GaugeVec
	CollaboratorLatency   *prometheus.HistogramVec
	CollaboratorErrors    *prometheus.CounterVec
	StaleBatchWarnings    *prometheus.CounterVec
	BatchesCompletedTotal prometheus.Counter
	WebhookEventsTotal    *prometheus.CounterVec
}

// New builds and registers the pipeline's metrics against reg. Passing a
// fresh *prometheus.Registry (rather than the global DefaultRegisterer)
// keeps repeated construction in tests from panicking on duplicate
// registration.
func New(reg prometheus.Registerer) *Registry {
	m := &Registry{
		StageProcessedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payee_stage_processed_total",
			Help: "Records processed per pipeline stage.",
		}, []string{"stage"}),
		StageSucceededTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payee_stage_succeeded_total",
			Help: "Records that completed a stage successfully.",
		}, []string{"stage"}),
		StageFailedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payee_stage_failed_total",
			Help: "Records that terminated a stage in a failed state.",
		}, []string{"stage"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "payee_queue_depth",
			Help: "Pending records awaiting dispatch per stage.",
		}, []string{"stage"}),
		CollaboratorLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "payee_collaborator_latency_seconds",
			Help:    "External collaborator call latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"collaborator", "operation"}),
		CollaboratorErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payee_collaborator_errors_total",
			Help: "External collaborator call failures.",
		}, []string{"collaborator", "operation"}),
		StaleBatchWarnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payee_stale_batch_warnings_total",
			Help: "Batches observed with a stage in_progress longer than the stale threshold.",
		}, []string{"stage"}),
		BatchesCompletedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "payee_batches_completed_total",
			Help: "Batches that reached a terminal status.",
		}),
		WebhookEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payee_webhook_events_total",
			Help: "Inbound webhook deliveries by event type and outcome.",
		}, []string{"event_type", "outcome"}),
	}

	reg.MustRegister(
		m.StageProcessedTotal,
		m.StageSucceededTotal,
		m.StageFailedTotal,
		m.QueueDepth,
		m.CollaboratorLatency,
		m.CollaboratorErrors,
		m.StaleBatchWarnings,
		m.BatchesCompletedTotal,
		m.WebhookEventsTotal,
	)
	return m
}

// ObserveCollaboratorCall records a collaborator call's latency and, on
// failure, bumps CollaboratorErrors.
func (m *Registry) ObserveCollaboratorCall(collaborator, operation string, start time.Time, err error) {
	m.CollaboratorLatency.WithLabelValues(collaborator, operation).Observe(time.Since(start).Seconds())
	if err != nil {
		m.CollaboratorErrors.WithLabelValues(collaborator, operation).Inc()
	}
}

// RecordError satisfies internal/apierrors.MetricsSink so a Registry can be
// passed directly to apierrors.NewHandler.
func (m *Registry) RecordError(errType apierrors.ErrorType, service, operation string) {
	m.CollaboratorErrors.WithLabelValues(service, operation).Inc()
}

// RecordStage records one handled job's outcome for a stage. The queue-driven
// stage workers call it once per job, with succeeded false only when
// processing still returned an error after retries; the merchant stage,
// which the async search tracker completes, does not call it.
func (m *Registry) RecordStage(stage string, succeeded bool) {
	m.StageProcessedTotal.WithLabelValues(stage).Inc()
	if succeeded {
		m.StageSucceededTotal.WithLabelValues(stage).Inc()
	} else {
		m.StageFailedTotal.WithLabelValues(stage).Inc()
	}
}
