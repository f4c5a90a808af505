// Package metrics holds the Prometheus collectors for the ingestion pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "docingest"

// IngestMetrics records per-stage latency and request outcomes.
// A nil *IngestMetrics is valid and records nothing.
type IngestMetrics struct {
	stageDuration *prometheus.HistogramVec
	outcomes      *prometheus.CounterVec
	embeddings    *prometheus.CounterVec
	uploadBytes   prometheus.Histogram
}

// NewIngestMetrics creates the collectors and registers them with reg.
func NewIngestMetrics(reg prometheus.Registerer) (*IngestMetrics, error) {
	m := &IngestMetrics{
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "stage_duration_seconds",
				Help:      "Duration of each ingestion stage.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"stage", "result"},
		),
		outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "requests_total",
				Help:      "Ingestion requests by terminal outcome.",
			},
			[]string{"outcome"},
		),
		embeddings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "embeddings_total",
				Help:      "Embedding attempts by result (ok, degraded, failed).",
			},
			[]string{"result"},
		),
		uploadBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "upload_bytes",
				Help:      "Size of objects written to storage.",
				Buckets:   prometheus.ExponentialBuckets(1024, 4, 10),
			},
		),
	}

	for _, c := range []prometheus.Collector{m.stageDuration, m.outcomes, m.embeddings, m.uploadBytes} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObserveStage records how long a stage took and whether it succeeded.
func (m *IngestMetrics) ObserveStage(stage string, started time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.stageDuration.WithLabelValues(stage, result).Observe(time.Since(started).Seconds())
}

// Outcome counts a finished request. outcome is "completed" or an error code.
func (m *IngestMetrics) Outcome(outcome string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(outcome).Inc()
}

// Embedding counts an embedding attempt result.
func (m *IngestMetrics) Embedding(result string) {
	if m == nil {
		return
	}
	m.embeddings.WithLabelValues(result).Inc()
}

// UploadSize records the number of bytes written for one object.
func (m *IngestMetrics) UploadSize(n int64) {
	if m == nil {
		return
	}
	m.uploadBytes.Observe(float64(n))
}
