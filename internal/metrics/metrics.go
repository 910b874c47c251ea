// Package metrics exposes Prometheus counters and histograms for the
// gateway's HTTP surface, the render engine, and the cache store.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "renderx_http_requests_total",
		Help: "Total HTTP requests by route and status code.",
	}, []string{"route", "status"})

	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "renderx_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	renderDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "renderx_render_duration_seconds",
		Help:    "Headless render duration in seconds by host and outcome.",
		Buckets: []float64{.1, .5, 1, 2, 5, 10, 20, 30, 60},
	}, []string{"host", "outcome"})

	activeRenders = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "renderx_active_renders",
		Help: "Number of renders currently admitted to the engine.",
	})

	cacheResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "renderx_cache_results_total",
		Help: "Cache lookups by result (hit, miss).",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(
		httpRequests,
		httpDuration,
		renderDuration,
		activeRenders,
		cacheResults,
	)
}

// Handler returns an http.Handler that serves Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRequest records an HTTP request for a route.
func ObserveRequest(route string, status int, duration time.Duration) {
	httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// ObserveRender records a render's duration and outcome ("success",
// "failure", "at-capacity") for a host.
func ObserveRender(host, outcome string, duration time.Duration) {
	renderDuration.WithLabelValues(host, outcome).Observe(duration.Seconds())
}

// SetActiveRenders sets the gauge of currently-admitted renders.
func SetActiveRenders(n int) {
	activeRenders.Set(float64(n))
}

// CountCacheHit records a cache hit.
func CountCacheHit() {
	cacheResults.WithLabelValues("hit").Inc()
}

// CountCacheMiss records a cache miss.
func CountCacheMiss() {
	cacheResults.WithLabelValues("miss").Inc()
}
