package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "catalogsync"

// SyncMetrics records consumer, engine and audit sidecar activity.
type SyncMetrics struct {
	messages      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	actions       *prometheus.CounterVec
	fetchErrors   prometheus.Counter
	auditDropped  prometheus.Counter
	auditFailures *prometheus.CounterVec
}

// NewSyncMetrics registers the pipeline metrics on the provided registerer.
func NewSyncMetrics(reg prometheus.Registerer) *SyncMetrics {
	if reg == nil {
		return &SyncMetrics{}
	}
	messages := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_total",
		Help:      "Lifecycle messages handled, by outcome (ack, nack, dead_letter).",
	}, []string{"outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "processing_duration_seconds",
		Help:      "Time spent applying a lifecycle event to the cache stores.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"event_type"})
	actions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sync_actions_total",
		Help:      "Cache mutations decided by the lifecycle engine.",
	}, []string{"action"})
	fetchErrors := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fetch_errors_total",
		Help:      "Failed pulls from the broker.",
	})
	auditDropped := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audit_dropped_total",
		Help:      "Audit records dropped because the sidecar buffer was full.",
	})
	auditFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audit_sink_failures_total",
		Help:      "Audit sink write failures.",
	}, []string{"sink"})
	reg.MustRegister(messages, duration, actions, fetchErrors, auditDropped, auditFailures)
	return &SyncMetrics{
		messages:      messages,
		duration:      duration,
		actions:       actions,
		fetchErrors:   fetchErrors,
		auditDropped:  auditDropped,
		auditFailures: auditFailures,
	}
}

// IncMessage counts a handled message by outcome.
func (m *SyncMetrics) IncMessage(outcome string) {
	if m == nil || m.messages == nil {
		return
	}
	m.messages.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// ObserveProcessing records how long an event took to apply.
func (m *SyncMetrics) ObserveProcessing(eventType string, duration time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.WithLabelValues(normalizeLabel(eventType)).Observe(duration.Seconds())
}

// IncAction counts an engine decision.
func (m *SyncMetrics) IncAction(action string) {
	if m == nil || m.actions == nil {
		return
	}
	m.actions.WithLabelValues(normalizeLabel(action)).Inc()
}

// IncFetchError counts a failed broker pull.
func (m *SyncMetrics) IncFetchError() {
	if m == nil || m.fetchErrors == nil {
		return
	}
	m.fetchErrors.Inc()
}

// IncAuditDropped counts an audit record dropped on a full buffer.
func (m *SyncMetrics) IncAuditDropped() {
	if m == nil || m.auditDropped == nil {
		return
	}
	m.auditDropped.Inc()
}

// IncAuditFailure counts a failed write to the named audit sink.
func (m *SyncMetrics) IncAuditFailure(sink string) {
	if m == nil || m.auditFailures == nil {
		return
	}
	m.auditFailures.WithLabelValues(normalizeLabel(sink)).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
