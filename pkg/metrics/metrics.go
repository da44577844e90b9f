// Package metrics defines the Prometheus metric collectors used by the search
// service and the index lifecycle coordinator, and exposes an HTTP handler for
// scraping. All observation helpers are safe to call on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	SearchRequestsTotal  *prometheus.CounterVec
	SearchLatency        *prometheus.HistogramVec
	SearchResultsCount   *prometheus.HistogramVec
	RemoteCallsTotal     *prometheus.CounterVec
	IndexRowsWritten     *prometheus.CounterVec
	LifecycleStageStatus *prometheus.GaugeVec
	PollDuration         *prometheus.HistogramVec
	WordCacheTotal       *prometheus.CounterVec
}

// New creates all collectors and registers them with reg. Passing nil uses
// the global default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		SearchRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_requests_total",
				Help: "Search requests by kind (title, content, class, suggestion) and result (ok, empty, error).",
			},
			[]string{"kind", "result"},
		),
		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_latency_seconds",
				Help:    "Search pipeline latency in seconds.",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"kind"},
		),
		SearchResultsCount: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_results_count",
				Help:    "Number of books returned per search.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 500},
			},
			[]string{"kind"},
		),
		RemoteCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "remote_calls_total",
				Help: "Calls to the index/rank service by endpoint and outcome.",
			},
			[]string{"endpoint", "outcome"},
		),
		IndexRowsWritten: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_rows_written_total",
				Help: "Index rows persisted by index kind.",
			},
			[]string{"kind"},
		),
		LifecycleStageStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "lifecycle_stage_status",
				Help: "Outcome of the last coordinator run per stage (1=ok, 0.5=skipped, 0=degraded).",
			},
			[]string{"stage"},
		),
		PollDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lifecycle_poll_duration_seconds",
				Help:    "Time spent polling remote jobs until they settled.",
				Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 900, 1800},
			},
			[]string{"job", "outcome"},
		),
		WordCacheTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "word_cache_requests_total",
				Help: "Generated-word cache lookups by result (hit, miss).",
			},
			[]string{"result"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.SearchRequestsTotal,
		m.SearchLatency,
		m.SearchResultsCount,
		m.RemoteCallsTotal,
		m.IndexRowsWritten,
		m.LifecycleStageStatus,
		m.PollDuration,
		m.WordCacheTotal,
	)

	return m
}

// ObserveSearch records one finished search.
func (m *Metrics) ObserveSearch(kind, result string, returned int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.SearchRequestsTotal.WithLabelValues(kind, result).Inc()
	m.SearchLatency.WithLabelValues(kind).Observe(elapsed.Seconds())
	m.SearchResultsCount.WithLabelValues(kind).Observe(float64(returned))
}

// ObserveRemote records the outcome of a remote service call.
func (m *Metrics) ObserveRemote(endpoint, outcome string) {
	if m == nil {
		return
	}
	m.RemoteCallsTotal.WithLabelValues(endpoint, outcome).Inc()
}

// AddIndexRows counts rows persisted for an index kind.
func (m *Metrics) AddIndexRows(kind string, n int) {
	if m == nil {
		return
	}
	m.IndexRowsWritten.WithLabelValues(kind).Add(float64(n))
}

// SetStage records the latest outcome value for a coordinator stage.
func (m *Metrics) SetStage(stage string, value float64) {
	if m == nil {
		return
	}
	m.LifecycleStageStatus.WithLabelValues(stage).Set(value)
}

// ObservePoll records how long a poll loop ran.
func (m *Metrics) ObservePoll(job, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.PollDuration.WithLabelValues(job, outcome).Observe(elapsed.Seconds())
}

// ObserveWordCache records a word-cache hit or miss.
func (m *Metrics) ObserveWordCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.WordCacheTotal.WithLabelValues(result).Inc()
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
