// Package metrics wires Prometheus instrumentation for the relay. All
// collectors register against their own *prometheus.Registry rather than
// the global default, so a relay process can be embedded or tested
// without leaking collectors across instances.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every collector the relay feeds, plus the HTTP handler
// that exposes them.
type Registry struct {
	registry *prometheus.Registry

	RequestsTotal     *prometheus.CounterVec
	CacheHits         prometheus.Counter
	CacheMisses       prometheus.Counter
	ForwardedTotal    prometheus.Counter
	UpstreamErrors    *prometheus.CounterVec
	NoHealthyErrors   prometheus.Counter
	TotalCalls        prometheus.Counter
	EndpointHealthy   *prometheus.GaugeVec
	EndpointBehind    *prometheus.GaugeVec
	SelectionDuration prometheus.Histogram
	ForwardDuration   *prometheus.HistogramVec
}

// New builds a Registry with all collectors registered against a fresh
// prometheus.Registry.
func New() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		registry: reg,

		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_requests_total",
			Help: "JSON-RPC requests received, by method.",
		}, []string{"method"}),

		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_cache_hits_total",
			Help: "Requests served from the response cache.",
		}),

		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_cache_misses_total",
			Help: "Cacheable requests that missed the response cache.",
		}),

		ForwardedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_forwarded_total",
			Help: "Requests answered by a successful upstream forward, cacheable or not.",
		}),

		UpstreamErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_upstream_errors_total",
			Help: "Forwarding failures, by upstream URL.",
		}, []string{"url"}),

		NoHealthyErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_no_healthy_endpoint_total",
			Help: "Requests rejected because no endpoint was healthy.",
		}),

		TotalCalls: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_total_calls",
			Help: "Calls forwarded to an upstream endpoint.",
		}),

		EndpointHealthy: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "relay_endpoint_healthy",
			Help: "1 if the endpoint is currently classified healthy, else 0.",
		}, []string{"url"}),

		EndpointBehind: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "relay_endpoint_blocks_behind",
			Help: "Blocks behind the freshest healthy endpoint.",
		}, []string{"url"}),

		SelectionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_selection_duration_seconds",
			Help:    "Time spent in the endpoint selector, including rate-limit waits.",
			Buckets: prometheus.DefBuckets,
		}),

		ForwardDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relay_forward_duration_seconds",
			Help:    "Upstream call latency, by URL.",
			Buckets: prometheus.DefBuckets,
		}, []string{"url"}),
	}
}

// Handler exposes the registry in Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// ObserveForward records a completed upstream call's latency against url.
func (r *Registry) ObserveForward(url string, d time.Duration) {
	r.ForwardDuration.WithLabelValues(url).Observe(d.Seconds())
}

// ObserveSelection records the time spent choosing an endpoint.
func (r *Registry) ObserveSelection(d time.Duration) {
	r.SelectionDuration.Observe(d.Seconds())
}
