// Package metrics provides Prometheus metrics for tokenpulse.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Run outcomes.
const (
	OutcomeOK     = "ok"
	OutcomeNoWork = "no_work"
	OutcomeError  = "error"
)

// Ingest results.
const (
	IngestInserted  = "inserted"
	IngestDuplicate = "duplicate"
	IngestFiltered  = "filtered"
	IngestError     = "error"
)

// Metrics holds every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Summarization runs
	RunsTotal         *prometheus.CounterVec
	RunDuration       prometheus.Histogram
	MessagesProcessed prometheus.Counter
	TagsWritten       prometheus.Counter
	InsightsWritten   prometheus.Counter
	Unprocessed       prometheus.Gauge

	// Provider calls
	ProviderDuration *prometheus.HistogramVec

	// Ingestion
	IngestTotal *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them with reg.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	m := &Metrics{gatherer: reg}

	m.RunsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tokenpulse_summarize_runs_total",
			Help: "Summarization runs by outcome",
		},
		[]string{"outcome"},
	)

	m.RunDuration = f.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tokenpulse_summarize_run_duration_seconds",
			Help:    "Duration of summarization runs in seconds",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	m.MessagesProcessed = f.NewCounter(
		prometheus.CounterOpts{
			Name: "tokenpulse_messages_processed_total",
			Help: "Messages marked processed by committed runs",
		},
	)

	m.TagsWritten = f.NewCounter(
		prometheus.CounterOpts{
			Name: "tokenpulse_token_tags_written_total",
			Help: "Regex token tags written",
		},
	)

	m.InsightsWritten = f.NewCounter(
		prometheus.CounterOpts{
			Name: "tokenpulse_token_insights_written_total",
			Help: "Per-token insights written",
		},
	)

	m.Unprocessed = f.NewGauge(
		prometheus.GaugeOpts{
			Name: "tokenpulse_unprocessed_messages",
			Help: "Messages waiting for a summarization run",
		},
	)

	m.ProviderDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tokenpulse_provider_request_duration_seconds",
			Help:    "Duration of language model calls in seconds",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 20, 40, 80, 120},
		},
		[]string{"provider", "status"},
	)

	m.IngestTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tokenpulse_ingested_messages_total",
			Help: "Messages seen by ingestors by source and result",
		},
		[]string{"source", "result"},
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// RecordRun records one summarization run.
func (m *Metrics) RecordRun(outcome string, duration time.Duration, messages, tags, insights int) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(outcome).Inc()
	m.RunDuration.Observe(duration.Seconds())
	m.MessagesProcessed.Add(float64(messages))
	m.TagsWritten.Add(float64(tags))
	m.InsightsWritten.Add(float64(insights))
}

// RecordProvider records one language model call.
func (m *Metrics) RecordProvider(provider string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.ProviderDuration.WithLabelValues(provider, status).Observe(duration.Seconds())
}

func (m *Metrics) RecordIngest(source, result string) {
	if m == nil {
		return
	}
	m.IngestTotal.WithLabelValues(source, result).Inc()
}

func (m *Metrics) SetUnprocessed(n int) {
	if m == nil {
		return
	}
	m.Unprocessed.Set(float64(n))
}
