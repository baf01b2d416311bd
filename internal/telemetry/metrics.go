// Package telemetry provides logging setup and Prometheus metrics for the bot.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// served by the side-channel HTTP server started by main.go:
//
//	GET http://<host>:<GG_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. The endpoint is not served by the Gin router.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template)
//   - Webhook event counters by event kind and outcome
//   - Moderation counters: mass-join detections, admin notifications, blacklist hits
//   - LINE Messaging API call counters and circuit breaker state
//   - Database connection pool gauge (polled every 30 s)
//
// # Label Cardinality
//
// HTTP metrics use c.FullPath() (e.g. /api/admin/groups/:group_id/logs) rather
// than the raw request URL. Group and user ids never appear as label values.
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics, labelled by method, route template, and status code.
//
// Example PromQL queries:
//   - Request rate:  rate(http_requests_total[5m])
//   - p99 latency:   histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being served, probes excluded.",
		},
	)
)

// Webhook metrics.
//
// WebhookEventsTotal is a CounterVec with labels {kind, outcome}. kind is the
// LINE event type (message, join, memberJoined, ...); outcome is one of
// handled, failed, duplicate.
//
// Example PromQL queries:
//   - Handler failure ratio:  sum(rate(groupguard_webhook_events_total{outcome="failed"}[5m])) / sum(rate(groupguard_webhook_events_total[5m]))
//
// WebhookRejectedTotal counts requests refused before dispatch, by reason
// (not_configured, missing_signature, invalid_signature, malformed_body).
var (
	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "groupguard_webhook_events_total",
			Help: "Total number of webhook events processed, by event kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	WebhookRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "groupguard_webhook_rejected_total",
			Help: "Total number of webhook requests rejected before dispatch, by reason.",
		},
		[]string{"reason"},
	)
)

// Moderation metrics.
//
// MassJoinDetectionsTotal is incremented every time a join batch pushes a
// group over its threshold. A sustained non-zero rate is worth paging on.
//
// AdminNotificationsTotal counts individual admin pushes by result
// (delivered, failed).
//
// BlacklistHitsTotal counts joiners that matched a blacklist entry, by scope
// (group, global).
var (
	MassJoinDetectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "groupguard_mass_join_detections_total",
			Help: "Total number of join batches flagged as a mass join.",
		},
	)

	AdminNotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "groupguard_admin_notifications_total",
			Help: "Total number of admin push notifications attempted, by result.",
		},
		[]string{"result"},
	)

	BlacklistHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "groupguard_blacklist_hits_total",
			Help: "Total number of joining users found on a blacklist, by scope.",
		},
		[]string{"scope"},
	)
)

// LINE Messaging API metrics.
//
// LineAPIRequestsTotal is a CounterVec with labels {operation, status}. status
// is the HTTP status code, "error" for transport failures or "open" when the
// circuit breaker rejected the call.
//
// LineCircuitBreakerState is 0 (closed), 1 (half-open) or 2 (open).
var (
	LineAPIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "groupguard_line_api_requests_total",
			Help: "Total number of LINE Messaging API calls, by operation and status.",
		},
		[]string{"operation", "status"},
	)

	LineCircuitBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "groupguard_line_circuit_breaker_state",
			Help: "State of the LINE API circuit breaker (0=closed, 1=half-open, 2=open).",
		},
	)
)

// DBOpenConnections tracks the number of open connections held by the sql.DB
// pool. It is sampled every 30 seconds by StartDBStatsCollector.
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector launches a background goroutine that samples sql.DB
// pool statistics every 30 seconds. The goroutine exits once the database
// becomes unreachable, which happens after db.Close() during shutdown.
func StartDBStatsCollector(db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := db.Ping(); err != nil {
				slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
				return
			}
			DBOpenConnections.Set(float64(db.Stats().OpenConnections))
		}
	}()
}
