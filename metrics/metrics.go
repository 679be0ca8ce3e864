// Package metrics exposes authcore's Prometheus metrics.
//
// Metrics:
//   - authcore_gate_decisions_total{outcome,reason}
//   - authcore_oauth_refreshes_total{provider,result}
//   - authcore_oauth_refresh_duration_seconds{provider}
//   - authcore_ratelimit_rejections_total{route}
//   - authcore_apikey_operations_total{operation}
//   - authcore_logins_total{provider,new_user}
//   - authcore_http_requests_total{route,code}
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "authcore"

// Collector owns a registry and the metrics registered with it. A nil
// *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	decisions       *prometheus.CounterVec
	refreshes       *prometheus.CounterVec
	refreshDuration *prometheus.HistogramVec
	rateLimited     *prometheus.CounterVec
	apiKeys         *prometheus.CounterVec
	logins          *prometheus.CounterVec
	requests        *prometheus.CounterVec
}

// NewCollector registers authcore's metrics, plus the Go runtime and process
// collectors, with a fresh registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gate",
			Name:      "decisions_total",
			Help:      "Authentication decisions by outcome and reason",
		}, []string{"outcome", "reason"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "oauth",
			Name:      "refreshes_total",
			Help:      "Provider token refresh attempts by result",
		}, []string{"provider", "result"}),
		refreshDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "oauth",
			Name:      "refresh_duration_seconds",
			Help:      "Duration of provider token refreshes",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"provider"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "rejections_total",
			Help:      "Requests rejected for exceeding a rate limit",
		}, []string{"route"}),
		apiKeys: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "apikey",
			Name:      "operations_total",
			Help:      "API key lifecycle operations",
		}, []string{"operation"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Successful logins by provider",
		}, []string{"provider", "new_user"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code",
		}, []string{"route", "code"}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.decisions,
		c.refreshes,
		c.refreshDuration,
		c.rateLimited,
		c.apiKeys,
		c.logins,
		c.requests,
	)
	return c
}

// Registry exposes the underlying registry, mostly for tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}

func (c *Collector) RecordDecision(outcome, reason string) {
	if c == nil {
		return
	}
	c.decisions.WithLabelValues(outcome, reason).Inc()
}

// RecordRefresh counts a refresh attempt. result is "success" or "failure".
func (c *Collector) RecordRefresh(provider, result string, d time.Duration) {
	if c == nil {
		return
	}
	c.refreshes.WithLabelValues(provider, result).Inc()
	c.refreshDuration.WithLabelValues(provider).Observe(d.Seconds())
}

func (c *Collector) RecordRateLimited(route string) {
	if c == nil {
		return
	}
	c.rateLimited.WithLabelValues(route).Inc()
}

// RecordAPIKey counts a lifecycle operation: created, revoked or validated.
func (c *Collector) RecordAPIKey(op string) {
	if c == nil {
		return
	}
	c.apiKeys.WithLabelValues(op).Inc()
}

func (c *Collector) RecordLogin(provider string, newUser bool) {
	if c == nil {
		return
	}
	c.logins.WithLabelValues(provider, strconv.FormatBool(newUser)).Inc()
}

// Middleware counts requests for a named route. Route names, not raw paths,
// keep label cardinality bounded.
func (c *Collector) Middleware(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if c == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			c.requests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (s *statusRecorder) WriteHeader(code int) {
	if !s.wroteHeader {
		s.status = code
		s.wroteHeader = true
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}
