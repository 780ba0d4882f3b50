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
	// Registry metrics
	ActiveSubscriptions   prometheus.Gauge
	SubscriptionsCreated  prometheus.Counter
	SubscriptionsReplaced prometheus.Counter
	SubscriptionsEvicted  prometheus.Counter
	ArtifactsDelivered    prometheus.Counter
	StreamEventsDropped   prometheus.Counter

	// Quote metrics
	QuoteAttempts     prometheus.Counter
	QuoteFailures     *prometheus.CounterVec
	QuoteLatency      prometheus.Histogram
	QuoteEventsStored prometheus.Counter

	// Sponsorship metrics
	SponsorRequests       *prometheus.CounterVec
	SignerLatency         prometheus.Histogram
	IdempotencyHits       prometheus.Counter
	TransactionsSubmitted *prometheus.CounterVec

	// Latency metrics
	RPCCallLatency      *prometheus.HistogramVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	UptimeSeconds prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "swap_relay"
	}

	return &Metrics{
		// Registry metrics
		ActiveSubscriptions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "active_subscriptions",
			Help:      "Number of live swap subscriptions",
		}),
		SubscriptionsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "subscriptions_created_total",
			Help:      "Total number of swap subscriptions created",
		}),
		SubscriptionsReplaced: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "subscriptions_replaced_total",
			Help:      "Total number of subscriptions replaced by a new intent",
		}),
		SubscriptionsEvicted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "subscriptions_evicted_total",
			Help:      "Total number of subscriptions evicted for inactivity",
		}),
		ArtifactsDelivered: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "artifacts_delivered_total",
			Help:      "Total number of swap artifacts pushed to streams",
		}),
		StreamEventsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "stream_events_dropped_total",
			Help:      "Total number of stale stream events replaced before being read",
		}),

		// Quote metrics
		QuoteAttempts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "quote",
			Name:      "attempts_total",
			Help:      "Total number of quote provider calls",
		}),
		QuoteFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "quote",
			Name:      "failures_total",
			Help:      "Total number of failed computations by error code",
		}, []string{"code"}),
		QuoteLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "quote",
			Name:      "compute_duration_seconds",
			Help:      "Artifact computation latency including retries",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),
		QuoteEventsStored: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "quote",
			Name:      "events_stored_total",
			Help:      "Total number of quote events written to analytics storage",
		}),

		// Sponsorship metrics
		SponsorRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "sponsor_requests_total",
			Help:      "Total number of sponsorship requests by outcome",
		}, []string{"outcome"}),
		SignerLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "signer_duration_seconds",
			Help:      "Fee payer signing latency",
			Buckets:   prometheus.DefBuckets,
		}),
		IdempotencyHits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "idempotency_hits_total",
			Help:      "Total number of sponsorships served from the idempotency cache",
		}),
		TransactionsSubmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "transactions_submitted_total",
			Help:      "Total number of broadcast transactions by status",
		}, []string{"status"}),

		// Latency metrics
		RPCCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "rpc_call_duration_seconds",
			Help:      "RPC call latency by method",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route and status",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "status"}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query latency",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Health metrics
		UptimeSeconds: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "uptime_seconds_total",
			Help:      "Total uptime in seconds",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// Sponsor outcomes.
const (
	OutcomeSigned      = "signed"
	OutcomeCached      = "cached"
	OutcomeMismatch    = "mismatch"
	OutcomeUnavailable = "unavailable"
	OutcomeError       = "error"
)

// SetActiveSubscriptions updates the live subscription gauge.
func SetActiveSubscriptions(n int) {
	DefaultMetrics.ActiveSubscriptions.Set(float64(n))
}

// RecordSubscriptionCreated records a new subscription and whether it
// replaced an existing one.
func RecordSubscriptionCreated(replaced bool) {
	DefaultMetrics.SubscriptionsCreated.Inc()
	if replaced {
		DefaultMetrics.SubscriptionsReplaced.Inc()
	}
}

// RecordEvictions records idle evictions.
func RecordEvictions(n int) {
	DefaultMetrics.SubscriptionsEvicted.Add(float64(n))
}

// RecordArtifactDelivered increments the delivered artifact counter.
func RecordArtifactDelivered() {
	DefaultMetrics.ArtifactsDelivered.Inc()
}

// RecordStreamDrop increments the dropped stream event counter.
func RecordStreamDrop() {
	DefaultMetrics.StreamEventsDropped.Inc()
}

// RecordQuoteAttempt increments the quote provider call counter.
func RecordQuoteAttempt() {
	DefaultMetrics.QuoteAttempts.Inc()
}

// RecordCompute records a finished computation. code is empty on success.
func RecordCompute(code string, seconds float64) {
	DefaultMetrics.QuoteLatency.Observe(seconds)
	if code != "" {
		DefaultMetrics.QuoteFailures.WithLabelValues(code).Inc()
	}
}

// RecordQuoteEventsStored records flushed analytics events.
func RecordQuoteEventsStored(n int) {
	DefaultMetrics.QuoteEventsStored.Add(float64(n))
}

// RecordSponsor records a sponsorship outcome.
func RecordSponsor(outcome string) {
	DefaultMetrics.SponsorRequests.WithLabelValues(outcome).Inc()
	if outcome == OutcomeCached {
		DefaultMetrics.IdempotencyHits.Inc()
	}
}

// RecordSignerLatency records fee payer signing latency.
func RecordSignerLatency(seconds float64) {
	DefaultMetrics.SignerLatency.Observe(seconds)
}

// RecordSubmit records a broadcast outcome.
func RecordSubmit(status string) {
	DefaultMetrics.TransactionsSubmitted.WithLabelValues(status).Inc()
}

// RecordRPCLatency records RPC call latency.
func RecordRPCLatency(method string, seconds float64) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(route, status string, seconds float64) {
	DefaultMetrics.HTTPRequestDuration.WithLabelValues(route, status).Observe(seconds)
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
