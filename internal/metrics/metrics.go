// Package metrics defines custom Prometheus metrics for SovGate.
package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// registerOnce ensures Register() is idempotent.
var registerOnce sync.Once

// HTTP metrics (RED: Rate, Errors, Duration).
var (
	// HTTPRequestsTotal counts total HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sovgate_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency in seconds by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sovgate_http_request_duration_seconds",
			Help:    "Request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// Data-plane and replication metrics.
var (
	// DataPlaneOperationsTotal counts forwarded object operations by verb,
	// backend, and outcome.
	DataPlaneOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sovgate_dataplane_operations_total",
			Help: "Forwarded object operations by verb and backend",
		},
		[]string{"verb", "backend", "status"},
	)

	// ReplicationJobsTotal counts drained replication jobs by outcome.
	ReplicationJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sovgate_replication_jobs_total",
			Help: "Replication jobs processed by outcome",
		},
		[]string{"outcome"},
	)

	// ReplicationBytesTotal counts object bytes copied between backends.
	ReplicationBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sovgate_replication_bytes_total",
			Help: "Total object bytes copied by the replication worker",
		},
	)
)

// Register registers all Prometheus collectors with the default registry.
// This must be called explicitly (typically from main) so that metrics
// registration can be made conditional on configuration. It is safe to call
// multiple times; subsequent calls are no-ops.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			DataPlaneOperationsTotal,
			ReplicationJobsTotal,
			ReplicationBytesTotal,
		)
		// Initialize outcome series so they appear in /metrics output
		// before the first job is drained.
		ReplicationJobsTotal.WithLabelValues("completed")
		ReplicationJobsTotal.WithLabelValues("failed")
	})
}

// NormalizePath maps request paths to low-cardinality templates suitable
// for Prometheus labels, hiding logical bucket and object names.
func NormalizePath(path string) string {
	switch path {
	case "/health":
		return "/health"
	case "/metrics":
		return "/metrics"
	case "/docs", "/docs/":
		return "/docs"
	case "/openapi.json":
		return "/openapi.json"
	case "/", "":
		return "/"
	}

	if strings.HasPrefix(path, "/docs") {
		return "/docs"
	}

	// Admin surface: keep the collection segment, drop identifiers.
	if strings.HasPrefix(path, "/proxy/") {
		rest := strings.TrimPrefix(path, "/proxy/")
		if idx := strings.IndexByte(rest, '/'); idx >= 0 {
			rest = rest[:idx]
		}
		if rest == "" {
			return "/proxy"
		}
		return "/proxy/" + rest
	}

	// Data plane: /s3/{logical}/{key}.
	if strings.HasPrefix(path, "/s3/") {
		rest := strings.TrimPrefix(path, "/s3/")
		idx := strings.IndexByte(rest, '/')
		if idx < 0 || rest[idx+1:] == "" {
			return "/s3/{bucket}"
		}
		return "/s3/{bucket}/{key}"
	}

	return "/other"
}
