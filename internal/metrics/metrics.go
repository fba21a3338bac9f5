package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Poll loop metrics
	PollTicks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tokikanri_poll_ticks_total",
			Help: "Total poll loop ticks",
		},
	)

	CollectorFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tokikanri_collector_failures_total",
			Help: "Failed or timed out collector queries",
		},
		[]string{"signal"}, // idle, foreground, playback
	)

	// Engine metrics
	AccruedSeconds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tokikanri_accrued_seconds_total",
			Help: "Seconds credited to each identity",
		},
		[]string{"identity"},
	)

	Flushes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tokikanri_flushes_total",
			Help: "Sessions flushed into accumulated durations",
		},
	)

	SessionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tokikanri_session_state",
			Help: "1 for the active session's current state",
		},
		[]string{"state"},
	)

	DroppedEvents = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tokikanri_dropped_events_total",
			Help: "Engine events dropped because the queue was full",
		},
	)

	// Oracle metrics
	OracleQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tokikanri_oracle_queries_total",
			Help: "Playback queries by result",
		},
		[]string{"result"}, // ok, error, timeout, dropped
	)

	OracleQueryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tokikanri_oracle_query_duration_seconds",
			Help:    "Playback query duration in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2, 5},
		},
	)

	OracleConsecutiveFailures = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tokikanri_oracle_consecutive_failures",
			Help: "Current run of failed playback queries",
		},
	)

	// Storage metrics
	StoreSaves = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tokikanri_store_saves_total",
			Help: "Snapshot saves by result",
		},
		[]string{"backend", "result"},
	)
)

func init() {
	prometheus.MustRegister(
		PollTicks,
		CollectorFailures,
		AccruedSeconds,
		Flushes,
		SessionState,
		DroppedEvents,
		OracleQueries,
		OracleQueryDuration,
		OracleConsecutiveFailures,
		StoreSaves,
	)
}

// Handler serves the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}

// SaveResult records the outcome of a snapshot save
func SaveResult(backend string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	StoreSaves.WithLabelValues(backend, result).Inc()
}
