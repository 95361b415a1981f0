// Package metrics exports relay counters and histograms to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Conversion outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics holds the relay collectors on a private registry.
// All methods are safe to call on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	conversions  *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	uploadBytes  prometheus.Histogram
	cacheLookups *prometheus.CounterVec
	httpRequests *prometheus.CounterVec
}

// New creates and registers the relay metrics.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		conversions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "convert_relay_conversions_total",
			Help: "Total number of conversions by formats and outcome",
		}, []string{"input", "output", "outcome"}),

		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "convert_relay_conversion_duration_seconds",
			Help:    "Vendor conversion latency",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"input", "output"}),

		uploadBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "convert_relay_upload_bytes",
			Help:    "Size of uploaded files",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		}),

		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "convert_relay_cache_lookups_total",
			Help: "Result cache lookups by result",
		}, []string{"result"}),

		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "convert_relay_http_requests_total",
			Help: "HTTP requests by method and status code",
		}, []string{"method", "status"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.conversions,
		m.duration,
		m.uploadBytes,
		m.cacheLookups,
		m.httpRequests,
	)

	return m
}

// ObserveConversion records one vendor conversion.
func (m *Metrics) ObserveConversion(input, output string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailure
	}
	m.conversions.WithLabelValues(input, output, outcome).Inc()
	m.duration.WithLabelValues(input, output).Observe(elapsed.Seconds())
}

// ObserveUpload records the size of an accepted upload.
func (m *Metrics) ObserveUpload(size int) {
	if m == nil {
		return
	}
	m.uploadBytes.Observe(float64(size))
}

// ObserveCacheLookup records a cache hit or miss.
func (m *Metrics) ObserveCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// ObserveRequest records a served HTTP request.
func (m *Metrics) ObserveRequest(method string, status int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
