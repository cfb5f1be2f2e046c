package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "megabrain"

// Metrics holds every collector the service exports. A nil *Metrics is valid
// and records nothing, which keeps handlers and tests free of nil checks.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	routingRequestsTotal *prometheus.CounterVec
	routingDuration      *prometheus.HistogramVec
	routeSecurityScore   prometheus.Histogram

	guardianOpsTotal *prometheus.CounterVec
	sosEventsTotal   *prometheus.CounterVec

	cacheHitsTotal   *prometheus.CounterVec
	cacheMissesTotal *prometheus.CounterVec

	clusterPoints   *prometheus.GaugeVec
	dbQueryDuration *prometheus.HistogramVec
	rateLimitTotal  *prometheus.CounterVec
}

// New registers the collectors on a private registry so repeated calls (one
// per test) never collide.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		httpRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),

		httpRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		routingRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "routing_engine_requests_total",
			Help:      "Routing engine calls by profile and outcome",
		}, []string{"profile", "outcome"}),

		routingDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "routing_engine_duration_seconds",
			Help:      "Routing engine call latency",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2, 5, 10},
		}, []string{"profile"}),

		routeSecurityScore: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "route_security_score",
			Help:      "Security score of returned paths",
			Buckets:   prometheus.ExponentialBuckets(5, 2, 10),
		}),

		guardianOpsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guardian_operations_total",
			Help:      "Guardian relationship operations",
		}, []string{"operation", "status"}),

		sosEventsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sos_events_total",
			Help:      "SOS share starts, stops and sweeps",
		}, []string{"event"}),

		cacheHitsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		}, []string{"cache"}),

		cacheMissesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		}, []string{"cache"}),

		clusterPoints: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cluster_index_points",
			Help:      "Points loaded into the cluster index",
		}, []string{"type"}),

		dbQueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "table"}),

		rateLimitTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_decisions_total",
			Help:      "Rate limiter decisions",
		}, []string{"result"}),
	}
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordRouting counts one engine call; outcome is ok, fallback, no_path or error.
func (m *Metrics) RecordRouting(profile, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.routingRequestsTotal.WithLabelValues(profile, outcome).Inc()
	if duration > 0 {
		m.routingDuration.WithLabelValues(profile).Observe(duration.Seconds())
	}
}

func (m *Metrics) ObserveSecurityScore(score int) {
	if m == nil {
		return
	}
	m.routeSecurityScore.Observe(float64(score))
}

func (m *Metrics) RecordGuardianOp(operation, status string) {
	if m == nil {
		return
	}
	m.guardianOpsTotal.WithLabelValues(operation, status).Inc()
}

func (m *Metrics) RecordSOS(event string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sosEventsTotal.WithLabelValues(event).Add(float64(n))
}

func (m *Metrics) RecordCacheHit(cache string) {
	if m == nil {
		return
	}
	m.cacheHitsTotal.WithLabelValues(cache).Inc()
}

func (m *Metrics) RecordCacheMiss(cache string) {
	if m == nil {
		return
	}
	m.cacheMissesTotal.WithLabelValues(cache).Inc()
}

func (m *Metrics) SetClusterPoints(kind string, n int) {
	if m == nil {
		return
	}
	m.clusterPoints.WithLabelValues(kind).Set(float64(n))
}

func (m *Metrics) RecordDBQuery(operation, table string, duration time.Duration) {
	if m == nil {
		return
	}
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// RecordRateLimit counts allowed and limited requests.
func (m *Metrics) RecordRateLimit(limited bool) {
	if m == nil {
		return
	}
	result := "allowed"
	if limited {
		result = "limited"
	}
	m.rateLimitTotal.WithLabelValues(result).Inc()
}
