// Package metrics records provider, scan and HTTP telemetry with Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "signal_engine"

// Recorder implements providers.Observer and the scanner metrics hooks
type Recorder struct {
	registry *prometheus.Registry

	providerCalls    *prometheus.CounterVec
	providerLatency  *prometheus.HistogramVec
	providerCooldown *prometheus.CounterVec
	signals          *prometheus.CounterVec
	scanErrors       *prometheus.CounterVec
	scanDuration     prometheus.Histogram
	scansTotal       *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

// New creates a recorder on its own registry, including Go runtime collectors
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		providerCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_calls_total",
				Help:      "Inference provider calls by outcome",
			},
			[]string{"provider", "outcome"},
		),
		providerLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_latency_seconds",
				Help:      "Latency of successful inference calls",
				Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
			},
			[]string{"provider"},
		),
		providerCooldown: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_cooldown_seconds_total",
				Help:      "Cooldown time imposed on providers",
			},
			[]string{"provider"},
		),
		signals: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "signals_total",
				Help:      "Signals persisted by exchange and sentiment",
			},
			[]string{"exchange", "sentiment"},
		),
		scanErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scan_errors_total",
				Help:      "Pairs skipped during scans",
			},
			[]string{"exchange"},
		),
		scanDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "scan_duration_seconds",
				Help:      "Duration of market scans",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
			},
		),
		scansTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scans_total",
				Help:      "Market scans by result",
			},
			[]string{"result"},
		),
		httpRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"route", "method", "status"},
		),
		httpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"route", "method"},
		),
	}
}

// Registry exposes the underlying registry
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveProviderCall records one provider attempt
func (r *Recorder) ObserveProviderCall(provider, outcome string, latency time.Duration) {
	r.providerCalls.WithLabelValues(provider, outcome).Inc()
	if latency > 0 {
		r.providerLatency.WithLabelValues(provider).Observe(latency.Seconds())
	}
}

// ObserveCooldown records a cooldown imposed on provider
func (r *Recorder) ObserveCooldown(provider string, d time.Duration) {
	r.providerCooldown.WithLabelValues(provider).Add(d.Seconds())
}

// ObserveSignal records a persisted signal
func (r *Recorder) ObserveSignal(exchange, sentiment string) {
	r.signals.WithLabelValues(exchange, sentiment).Inc()
}

// ObserveScanError records a skipped pair
func (r *Recorder) ObserveScanError(exchange string) {
	r.scanErrors.WithLabelValues(exchange).Inc()
}

// ObserveScan records a finished scan. result is "completed", "unavailable"
// or "failed".
func (r *Recorder) ObserveScan(result string, d time.Duration) {
	r.scansTotal.WithLabelValues(result).Inc()
	if d > 0 {
		r.scanDuration.Observe(d.Seconds())
	}
}

// Handler serves the registry in the Prometheus text format
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// GinMiddleware records request counts and latency by route template
func (r *Recorder) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		r.httpRequests.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		r.httpDuration.WithLabelValues(route, c.Request.Method).Observe(time.Since(start).Seconds())
	}
}
