// Package metrics provides Prometheus metrics for the forwarder.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets for forwarding latency.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}

// Forward decision outcomes.
const (
	OutcomeForwarded       = "forwarded"
	OutcomeMissingTarget   = "missing_target"
	OutcomeMalformedTarget = "malformed_target"
	OutcomeDenied          = "denied"
	OutcomeUpstreamError   = "upstream_error"
)

// Metrics holds all Prometheus metric collectors for the forwarder.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	UpstreamDuration  *prometheus.HistogramVec
	UpstreamResponses *prometheus.CounterVec

	ForwardDecisions *prometheus.CounterVec
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "target_forwarder_http_requests_total",
			Help: "Total inbound HTTP requests.",
		}, []string{"method", "status_code", "route"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "target_forwarder_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds, including body streaming.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "route"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "target_forwarder_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "target_forwarder_upstream_request_duration_seconds",
			Help:    "Time until the target responded with headers, in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method"}),

		UpstreamResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "target_forwarder_upstream_responses_total",
			Help: "Total target responses by method and status class.",
		}, []string{"method", "status_class"}),

		ForwardDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "target_forwarder_decisions_total",
			Help: "Forwarding decisions by extraction strategy and outcome.",
		}, []string{"strategy", "outcome"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.UpstreamDuration,
		m.UpstreamResponses,
		m.ForwardDecisions,
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

// localRoutes lists the paths served by the forwarder itself.
var localRoutes = []string{"/healthz", "/proxy/status", "/metrics"}

// NormalizeRoute returns a bounded route label. Every path that is not a
// local endpoint is a forwarded request.
func NormalizeRoute(path string) string {
	for _, route := range localRoutes {
		if path == route || strings.HasPrefix(path, route+"/") {
			return route
		}
	}
	return "forward"
}

// StatusClass maps a status code to "2xx".."5xx", or "other".
func StatusClass(code int) string {
	switch {
	case code >= 100 && code < 200:
		return "1xx"
	case code < 300 && code >= 200:
		return "2xx"
	case code < 400 && code >= 300:
		return "3xx"
	case code < 500 && code >= 400:
		return "4xx"
	case code < 600 && code >= 500:
		return "5xx"
	}
	return "other"
}
