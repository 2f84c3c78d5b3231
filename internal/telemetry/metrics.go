// Package telemetry provides application-level observability for the NaaP runtime.
//
// All metrics are registered against the default Prometheus registry and are
// served on the side-channel HTTP server started by cmd/server (default port
// 9090, path /metrics). The endpoint is deliberately not mounted on the Gin
// router so the scrape path stays off the public ingress and bypasses the
// rate-limiting middleware.
//
// HTTP metrics are labelled by route template (c.FullPath()), never by raw
// URL, to keep label cardinality bounded when connector slugs or plugin names
// appear in paths.
package telemetry

import (
	"database/sql"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestsTotal counts requests by route template, method and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "naap_http_requests_total",
		Help: "Total HTTP requests processed, by route, method and status code.",
	}, []string{"route", "method", "status"})

	// HTTPRequestDuration observes request latency by route template.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "naap_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds, by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	// ProvisionsTotal counts plugin infrastructure provisioning attempts by outcome.
	ProvisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "naap_plugin_provisions_total",
		Help: "Plugin infrastructure provisioning attempts, by outcome (provisioned|failed).",
	}, []string{"outcome"})

	// PluginRestartsTotal counts automatic restarts issued by the process monitor.
	PluginRestartsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "naap_plugin_restarts_total",
		Help: "Automatic plugin backend restarts triggered by the process monitor.",
	}, []string{"plugin"})

	// SlotRollbacksTotal counts deployment-slot rollbacks triggered by the health monitor.
	SlotRollbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "naap_slot_rollbacks_total",
		Help: "Deployment slot rollbacks triggered by sustained health-check failure.",
	})

	// ConnectorProbesTotal counts gateway connector probes by classification.
	ConnectorProbesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "naap_gateway_probes_total",
		Help: "Gateway connector health probes, by result (up|degraded|down).",
	}, []string{"result"})

	// ConnectorProbeDuration observes connector probe latency.
	ConnectorProbeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "naap_gateway_probe_duration_seconds",
		Help:    "Gateway connector probe latency in seconds.",
		Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10},
	})

	// ProxiedRequestsTotal counts requests handled by the external proxy forwarder.
	ProxiedRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "naap_proxy_requests_total",
		Help: "Requests forwarded by the external proxy, by outcome (forwarded|blocked|failed).",
	}, []string{"outcome"})

	// AuditWriteFailuresTotal counts best-effort audit writes that failed.
	AuditWriteFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "naap_audit_write_failures_total",
		Help: "Audit log writes that failed (the admin operation itself still succeeded).",
	})

	dbOpenConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "naap_db_open_connections",
		Help: "Open connections in the database pool.",
	})

	dbInUseConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "naap_db_in_use_connections",
		Help: "Database pool connections currently in use.",
	})
)

// StartDBStatsCollector polls the pool stats of db every 30 seconds and
// exports them as gauges. The goroutine runs for the life of the process.
func StartDBStatsCollector(db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			stats := db.Stats()
			dbOpenConnections.Set(float64(stats.OpenConnections))
			dbInUseConnections.Set(float64(stats.InUse))
		}
	}()
}
