package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds all Prometheus metric collectors for the riff backend.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	RateLimitRejectionsTotal *prometheus.CounterVec
	UserConflictsTotal       prometheus.Counter

	// Activity collector metrics.
	CollectorBufferSize      prometheus.Gauge
	CollectorFlushesTotal    *prometheus.CounterVec
	CollectorFlushSize       prometheus.Histogram
	CollectorActivitiesTotal prometheus.Counter

	// Auth metrics.
	AuthFailuresTotal  *prometheus.CounterVec
	AuthSuccessesTotal *prometheus.CounterVec

	ServerStartTime prometheus.Gauge
}

// New creates and registers all Prometheus metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "riff_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "riff_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path_pattern"}),

		HTTPResponseSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "riff_http_response_size_bytes",
			Help:    "HTTP response size in bytes.",
			Buckets: prometheus.ExponentialBuckets(100, 10, 6),
		}, []string{"method", "path_pattern"}),

		RateLimitRejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "riff_ratelimit_rejections_total",
			Help: "Total number of rate limit rejections.",
		}, []string{"scope"}),

		UserConflictsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "riff_user_conflicts_total",
			Help: "Total number of user creates rejected because the email exists.",
		}),

		CollectorBufferSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "riff_collector_buffer_size",
			Help: "Current number of buffered activities.",
		}),

		CollectorFlushesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "riff_collector_flushes_total",
			Help: "Total number of activity collector flushes.",
		}, []string{"status"}),

		CollectorFlushSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "riff_collector_flush_size",
			Help:    "Number of activities written per flush.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 6),
		}),

		CollectorActivitiesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "riff_collector_activities_total",
			Help: "Total number of activities written by the collector.",
		}),

		AuthFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "riff_auth_failures_total",
			Help: "Total number of authentication failures.",
		}, []string{"auth_type"}),

		AuthSuccessesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "riff_auth_successes_total",
			Help: "Total number of successful authentications.",
		}, []string{"auth_type"}),

		ServerStartTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "riff_server_start_time_seconds",
			Help: "Unix timestamp when the server started.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.RateLimitRejectionsTotal,
		m.UserConflictsTotal,
		m.CollectorBufferSize,
		m.CollectorFlushesTotal,
		m.CollectorFlushSize,
		m.CollectorActivitiesTotal,
		m.AuthFailuresTotal,
		m.AuthSuccessesTotal,
		m.ServerStartTime,
	)

	m.ServerStartTime.Set(float64(time.Now().Unix()))

	// Register Go runtime and process collectors.
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

// Registry returns the private Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RegisterPool exposes the user database pool, read through stat on every
// gather.
func (m *Metrics) RegisterPool(stat func() PoolStats) {
	m.registry.MustRegister(newPoolCollector(stat))
}

// IncAuthFailure increments the auth failure counter for the given auth type.
func (m *Metrics) IncAuthFailure(authType string) {
	m.AuthFailuresTotal.WithLabelValues(authType).Inc()
}

// IncAuthSuccess increments the auth success counter for the given auth type.
func (m *Metrics) IncAuthSuccess(authType string) {
	m.AuthSuccessesTotal.WithLabelValues(authType).Inc()
}

// IncRateLimitRejection increments the rate limit rejection counter.
func (m *Metrics) IncRateLimitRejection(scope string) {
	m.RateLimitRejectionsTotal.WithLabelValues(scope).Inc()
}

func (m *Metrics) IncUserConflict() {
	m.UserConflictsTotal.Inc()
}

// ObserveFlush records one activity collector flush.
func (m *Metrics) ObserveFlush(size int, err error) {
	if err != nil {
		m.CollectorFlushesTotal.WithLabelValues("error").Inc()
		return
	}
	m.CollectorFlushesTotal.WithLabelValues("ok").Inc()
	m.CollectorFlushSize.Observe(float64(size))
	m.CollectorActivitiesTotal.Add(float64(size))
}

// ObserveBuffered sets the collector buffer gauge.
func (m *Metrics) ObserveBuffered(n int) {
	m.CollectorBufferSize.Set(float64(n))
}
