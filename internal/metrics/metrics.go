package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for conversation sessions.
type Metrics struct {
	registry *prometheus.Registry

	SessionsActive    prometheus.Gauge
	SessionsTotal     *prometheus.CounterVec
	MessagesTotal     *prometheus.CounterVec
	DuplicatesTotal   *prometheus.CounterVec
	PersistenceErrors prometheus.Counter

	AnnotationsTotal   *prometheus.CounterVec
	AnnotationDuration prometheus.Histogram
	AnnotationsStale   prometheus.Counter
	ArchiveWrites      *prometheus.CounterVec

	AudioBytesTotal *prometheus.CounterVec
}

// New creates a Metrics instance with its own registry. A nil *Metrics is valid
// and records nothing.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "surgentic"
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of connected live sessions",
		}),
		SessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Connect attempts by outcome",
		}, []string{"status"}),
		MessagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Transcript messages persisted",
		}, []string{"role"}),
		DuplicatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicates_total",
			Help:      "Message events suppressed as duplicates",
		}, []string{"role"}),
		PersistenceErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_errors_total",
			Help:      "Transcript store append or list failures",
		}),
		AnnotationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "annotations_total",
			Help:      "Compliance annotation tasks by outcome",
		}, []string{"status"}),
		AnnotationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "annotation_duration_seconds",
			Help:      "Compliance annotation latency",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		AnnotationsStale: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "annotations_stale_total",
			Help:      "Annotation results discarded because a newer request already applied",
		}),
		ArchiveWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_writes_total",
			Help:      "Snapshot archive writes by outcome",
		}, []string{"status"}),
		AudioBytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_total",
			Help:      "Audio bytes relayed between operator and agent",
		}, []string{"direction"}),
	}

	registry.MustRegister(
		m.SessionsActive,
		m.SessionsTotal,
		m.MessagesTotal,
		m.DuplicatesTotal,
		m.PersistenceErrors,
		m.AnnotationsTotal,
		m.AnnotationDuration,
		m.AnnotationsStale,
		m.ArchiveWrites,
		m.AudioBytesTotal,
	)

	return m
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordSession records a Connect outcome ("connected", "failed", "abandoned").
func (m *Metrics) RecordSession(status string) {
	if m == nil {
		return
	}
	m.SessionsTotal.WithLabelValues(status).Inc()
	if status == "connected" {
		m.SessionsActive.Inc()
	}
}

// RecordSessionEnd decrements the active session gauge.
func (m *Metrics) RecordSessionEnd() {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
}

// RecordMessage counts a persisted message.
func (m *Metrics) RecordMessage(role string) {
	if m == nil {
		return
	}
	m.MessagesTotal.WithLabelValues(role).Inc()
}

// RecordDuplicate counts a suppressed message event.
func (m *Metrics) RecordDuplicate(role string) {
	if m == nil {
		return
	}
	m.DuplicatesTotal.WithLabelValues(role).Inc()
}

// RecordPersistenceError counts a failed store call.
func (m *Metrics) RecordPersistenceError() {
	if m == nil {
		return
	}
	m.PersistenceErrors.Inc()
}

// RecordAnnotation records a finished annotation task.
func (m *Metrics) RecordAnnotation(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.AnnotationsTotal.WithLabelValues(status).Inc()
	m.AnnotationDuration.Observe(duration.Seconds())
}

// RecordStaleAnnotation counts an out-of-order result that was not applied.
func (m *Metrics) RecordStaleAnnotation() {
	if m == nil {
		return
	}
	m.AnnotationsStale.Inc()
}

// RecordArchiveWrite records a snapshot write outcome.
func (m *Metrics) RecordArchiveWrite(status string) {
	if m == nil {
		return
	}
	m.ArchiveWrites.WithLabelValues(status).Inc()
}

// RecordAudio records relayed audio bytes, direction is "inbound" or "outbound".
func (m *Metrics) RecordAudio(direction string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.AudioBytesTotal.WithLabelValues(direction).Add(float64(n))
}
