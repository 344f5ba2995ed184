// Package metrics provides Prometheus metrics for the dynhost service.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets for API latency.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// Metrics holds all Prometheus metric collectors for the service.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	UpstreamDuration  *prometheus.HistogramVec
	UpstreamResponses *prometheus.CounterVec

	// Rewrites counts outgoing requests by override source: header, context or none.
	Rewrites       *prometheus.CounterVec
	ContextCarried *prometheus.CounterVec

	CommandExecutions *prometheus.CounterVec
	CommandPoolActive prometheus.Gauge
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dynhost_http_requests_total",
			Help: "Total inbound HTTP requests.",
		}, []string{"method", "status_code", "path_prefix"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dynhost_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "path_prefix"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dynhost_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dynhost_upstream_request_duration_seconds",
			Help:    "Outgoing call latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method"}),

		UpstreamResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dynhost_upstream_responses_total",
			Help: "Total outgoing call responses by method and status code.",
		}, []string{"method", "status_code"}),

		Rewrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dynhost_rewrites_total",
			Help: "Outgoing requests by endpoint override source.",
		}, []string{"source"}),

		ContextCarried: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dynhost_context_carried_total",
			Help: "Command lifecycle stages observed while carrying an endpoint override.",
		}, []string{"stage"}),

		CommandExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dynhost_command_executions_total",
			Help: "Command executions by group and outcome.",
		}, []string{"group", "outcome"}),

		CommandPoolActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dynhost_command_pool_active",
			Help: "Number of command pool workers currently running a task.",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.UpstreamDuration,
		m.UpstreamResponses,
		m.Rewrites,
		m.ContextCarried,
		m.CommandExecutions,
		m.CommandPoolActive,
	)

	return m
}

// knownMethods lists the allowed HTTP method label values (bounded cardinality).
var knownMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// NormalizeMethod returns a bounded HTTP method label for Prometheus metrics.
// Non-standard methods are mapped to "other" to prevent cardinality explosion.
func NormalizeMethod(method string) string {
	if knownMethods[method] {
		return method
	}
	return "other"
}

// knownPrefixes lists the allowed path label values (bounded cardinality).
var knownPrefixes = []string{
	"/custom_feign_feign",
	"/test1",
	"/test",
	"/healthz",
	"/status",
	"/metrics",
}

// NormalizePath returns a bounded path label for Prometheus metrics.
func NormalizePath(path string) string {
	for _, prefix := range knownPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") || strings.HasPrefix(path, prefix+"?") {
			return prefix
		}
	}
	return "other"
}
