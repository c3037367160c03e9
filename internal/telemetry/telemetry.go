// Package telemetry provides Prometheus metrics and OpenTelemetry tracing
// for the audit pipeline.
package telemetry

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	serviceName = "site-auditor"
	// Namespace prefixes every metric name.
	Namespace = "site_auditor"
)

// Audit outcome labels.
const (
	OutcomeSuccess     = "success"
	OutcomeError       = "error"
	OutcomeRateLimited = "rate_limited"
	OutcomeMalformed   = "malformed"
	OutcomeCancelled   = "cancelled"
)

// Metrics holds the pipeline's Prometheus collectors.
type Metrics struct {
	AuditsTotal    *prometheus.CounterVec
	AuditDuration  prometheus.Histogram
	ScoreObserved  *prometheus.HistogramVec
	DiffDegraded   *prometheus.CounterVec
	RepoDiffBytes  prometheus.Histogram
	QueueMessages  *prometheus.CounterVec
	ConsumerPauses *prometheus.CounterVec
	PausedSeconds  *prometheus.CounterVec
	TasksEnqueued  *prometheus.CounterVec
	RetentionSwept prometheus.Counter
}

// Provider wraps the tracer and metrics.
type Provider struct {
	Tracer  trace.Tracer
	Metrics *Metrics
}

// NewProvider registers all collectors with reg. A nil reg registers with
// the Prometheus default registry.
func NewProvider(reg prometheus.Registerer) *Provider {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &Provider{
		Tracer:  otel.Tracer(serviceName),
		Metrics: initMetrics(promauto.With(reg)),
	}
}

func initMetrics(f promauto.Factory) *Metrics {
	m := &Metrics{}
	initAuditMetrics(f, m)
	initQueueMetrics(f, m)
	initSchedulerMetrics(f, m)
	return m
}

func initAuditMetrics(f promauto.Factory, m *Metrics) {
	m.AuditsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "audits_total",
		Help:      "Audit tasks processed by outcome",
	}, []string{"outcome"})

	m.AuditDuration = f.NewHistogram(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "audit_duration_seconds",
		Help:      "Time to run one audit task end to end",
		Buckets:   []float64{1, 2.5, 5, 10, 20, 30, 60, 90, 120},
	})

	m.ScoreObserved = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "category_score",
		Help:      "Category scores reported by the scoring service",
		Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
	}, []string{"category"})

	m.DiffDegraded = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "diff_degraded_total",
		Help:      "Audits saved without a content or repository diff due to a provider failure",
	}, []string{"kind"})

	m.RepoDiffBytes = f.NewHistogram(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "repository_diff_bytes",
		Help:      "Size of the repository diff stored with an audit",
		Buckets:   prometheus.ExponentialBuckets(256, 4, 7),
	})
}

func initQueueMetrics(f promauto.Factory, m *Metrics) {
	m.QueueMessages = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "queue_messages_total",
		Help:      "Queue messages settled by disposition",
	}, []string{"queue", "disposition"})

	m.ConsumerPauses = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "consumer_pauses_total",
		Help:      "Times the consumer paused after a rate-limit signal",
	}, []string{"queue"})

	m.PausedSeconds = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "consumer_paused_seconds_total",
		Help:      "Total seconds the consumer spent paused",
	}, []string{"queue"})
}

func initSchedulerMetrics(f promauto.Factory, m *Metrics) {
	m.TasksEnqueued = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "tasks_enqueued_total",
		Help:      "Audit tasks published by trigger",
	}, []string{"trigger"})

	m.RetentionSwept = f.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "retention_deleted_total",
		Help:      "Audit records removed by the retention sweep",
	})
}

// RecordAudit records the outcome and duration of one audit task.
func (p *Provider) RecordAudit(_ context.Context, outcome string, duration time.Duration) {
	p.Metrics.AuditsTotal.WithLabelValues(outcome).Inc()
	p.Metrics.AuditDuration.Observe(duration.Seconds())
}

// RecordScores observes each category score.
func (p *Provider) RecordScores(scores map[string]float64) {
	for category, score := range scores {
		p.Metrics.ScoreObserved.WithLabelValues(category).Observe(score)
	}
}

// RecordDiffDegraded counts a diff that fell back to empty. kind is
// "content" or "repository".
func (p *Provider) RecordDiffDegraded(kind string) {
	p.Metrics.DiffDegraded.WithLabelValues(kind).Inc()
}

func (p *Provider) RecordRepositoryDiff(size int) {
	p.Metrics.RepoDiffBytes.Observe(float64(size))
}

// MessageSettled implements queue.Recorder.
func (p *Provider) MessageSettled(queue, disposition string) {
	p.Metrics.QueueMessages.WithLabelValues(queue, disposition).Inc()
}

// ConsumerPaused implements queue.Recorder.
func (p *Provider) ConsumerPaused(queue string, d time.Duration) {
	p.Metrics.ConsumerPauses.WithLabelValues(queue).Inc()
	p.Metrics.PausedSeconds.WithLabelValues(queue).Add(d.Seconds())
}

func (p *Provider) RecordEnqueued(trigger string, n int) {
	p.Metrics.TasksEnqueued.WithLabelValues(trigger).Add(float64(n))
}

func (p *Provider) RecordRetention(deleted int64) {
	p.Metrics.RetentionSwept.Add(float64(deleted))
}

// StartSpan starts a new trace span.
// The caller is responsible for ending the span with span.End().
//
//nolint:spancheck // Caller is responsible for ending the span
func (p *Provider) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return p.Tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}
