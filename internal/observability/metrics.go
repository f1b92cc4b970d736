// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Cache metrics
	CacheLookups *prometheus.CounterVec

	// Token-list aggregation metrics
	TokenListServiceFailures *prometheus.CounterVec
	AggregationPasses        *prometheus.CounterVec

	// Polling metrics
	PollCycles        *prometheus.CounterVec
	PollCyclesSkipped *prometheus.CounterVec
	PollLatency       *prometheus.HistogramVec

	// Transaction submission metrics
	SubmitAttempts prometheus.Counter
	SubmitRetries  prometheus.Counter
	SubmitOutcomes *prometheus.CounterVec

	// Pairing metrics
	PairingEventsSet      *prometheus.CounterVec
	PairingEventsReplaced prometheus.Counter
	PairingEventsCleared  prometheus.Counter

	// Health metrics
	LastSuccessfulBalancePoll prometheus.Gauge
	LastSuccessfulPricePoll   prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "wallet_sync"
	}

	return &Metrics{
		CacheLookups: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Total cache lookups by outcome (hit, miss, stale_fallback)",
		}, []string{"outcome"}),

		TokenListServiceFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tokenlist",
			Name:      "service_failures_total",
			Help:      "Total token-list service fetch failures by service",
		}, []string{"service"}),
		AggregationPasses: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tokenlist",
			Name:      "aggregation_passes_total",
			Help:      "Total aggregation passes by outcome (full, partial, empty)",
		}, []string{"outcome"}),

		PollCycles: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poll",
			Name:      "cycles_total",
			Help:      "Total poll cycles by controller and outcome",
		}, []string{"controller", "outcome"}),
		PollCyclesSkipped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poll",
			Name:      "cycles_skipped_total",
			Help:      "Poll cycles skipped because a fetch was already in flight",
		}, []string{"controller"}),
		PollLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "poll",
			Name:      "cycle_duration_seconds",
			Help:      "Poll cycle duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"controller"}),

		SubmitAttempts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "submit",
			Name:      "attempts_total",
			Help:      "Total transaction submission attempts",
		}),
		SubmitRetries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "submit",
			Name:      "retries_total",
			Help:      "Total transaction submission retries after retryable errors",
		}),
		SubmitOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "submit",
			Name:      "outcomes_total",
			Help:      "Total submissions by terminal outcome (success, failed, exhausted)",
		}, []string{"outcome"}),

		PairingEventsSet: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pairing",
			Name:      "events_set_total",
			Help:      "Total pairing events written to the slot by kind",
		}, []string{"kind"}),
		PairingEventsReplaced: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pairing",
			Name:      "events_replaced_total",
			Help:      "Pairing events overwritten before being consumed",
		}),
		PairingEventsCleared: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pairing",
			Name:      "events_cleared_total",
			Help:      "Total pairing event slot clears",
		}),

		LastSuccessfulBalancePoll: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_balance_poll_timestamp",
			Help:      "Unix timestamp of last successful balance poll",
		}),
		LastSuccessfulPricePoll: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_price_poll_timestamp",
			Help:      "Unix timestamp of last successful price poll",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordCacheLookup records a cache lookup outcome.
func RecordCacheLookup(outcome string) {
	DefaultMetrics.CacheLookups.WithLabelValues(outcome).Inc()
}

// RecordTokenListFailure records a failed token-list service fetch.
func RecordTokenListFailure(service string) {
	DefaultMetrics.TokenListServiceFailures.WithLabelValues(service).Inc()
}

// RecordAggregationPass records an aggregation pass outcome.
func RecordAggregationPass(outcome string) {
	DefaultMetrics.AggregationPasses.WithLabelValues(outcome).Inc()
}

// RecordPollCycle records a completed poll cycle.
func RecordPollCycle(controller, outcome string, durationSeconds float64) {
	DefaultMetrics.PollCycles.WithLabelValues(controller, outcome).Inc()
	DefaultMetrics.PollLatency.WithLabelValues(controller).Observe(durationSeconds)
}

// RecordPollSkipped records a poll cycle skipped due to an in-flight fetch.
func RecordPollSkipped(controller string) {
	DefaultMetrics.PollCyclesSkipped.WithLabelValues(controller).Inc()
}

// RecordSubmitAttempt records one transaction submission attempt.
func RecordSubmitAttempt(retry bool) {
	DefaultMetrics.SubmitAttempts.Inc()
	if retry {
		DefaultMetrics.SubmitRetries.Inc()
	}
}

// RecordSubmitOutcome records the terminal outcome of a submission.
func RecordSubmitOutcome(outcome string) {
	DefaultMetrics.SubmitOutcomes.WithLabelValues(outcome).Inc()
}

// RecordPairingEventSet records a pairing event write, and whether it
// replaced an unconsumed event.
func RecordPairingEventSet(kind string, replaced bool) {
	DefaultMetrics.PairingEventsSet.WithLabelValues(kind).Inc()
	if replaced {
		DefaultMetrics.PairingEventsReplaced.Inc()
	}
}

// RecordPairingEventCleared records a pairing event slot clear.
func RecordPairingEventCleared() {
	DefaultMetrics.PairingEventsCleared.Inc()
}
