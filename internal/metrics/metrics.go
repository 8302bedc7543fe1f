// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "actseg"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Batch metrics
	BatchesReceived prometheus.Counter
	BatchDuration   prometheus.Histogram

	// Call metrics
	CallsDecoded prometheus.Counter
	CallsSkipped prometheus.Counter
	CallsFailed  *prometheus.CounterVec

	// Segment metrics
	SegmentsProduced prometheus.Counter
	WordsProduced    prometheus.Counter
}

// Default is the global metrics instance.
var Default = New()

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		BatchesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_received_total",
			Help:      "Total number of prediction batches received",
		}),
		BatchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_decode_duration_seconds",
			Help:      "Time spent decoding one prediction batch",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}),
		CallsDecoded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_decoded_total",
			Help:      "Total number of calls decoded into segments",
		}),
		CallsSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_skipped_total",
			Help:      "Total number of calls skipped because they were already stored",
		}),
		CallsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_failed_total",
			Help:      "Total number of calls that failed to decode",
		}, []string{"reason"}),
		SegmentsProduced: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_produced_total",
			Help:      "Total number of functional segments produced",
		}),
		WordsProduced: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "words_produced_total",
			Help:      "Total number of words attributed to segments",
		}),
	}
}

// RecordBatch records one processed batch and its decode time.
func (m *Metrics) RecordBatch(durationSeconds float64) {
	m.BatchesReceived.Inc()
	m.BatchDuration.Observe(durationSeconds)
}

// RecordCallDecoded records a successfully decoded call.
func (m *Metrics) RecordCallDecoded(segments, words int) {
	m.CallsDecoded.Inc()
	m.SegmentsProduced.Add(float64(segments))
	m.WordsProduced.Add(float64(words))
}

// RecordCallSkipped records a call skipped as already decoded.
func (m *Metrics) RecordCallSkipped() {
	m.CallsSkipped.Inc()
}

// RecordCallFailed records a decode failure by reason.
func (m *Metrics) RecordCallFailed(reason string) {
	m.CallsFailed.WithLabelValues(reason).Inc()
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
