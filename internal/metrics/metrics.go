// Package metrics exposes Prometheus collectors for the HTTP API and the assistant.
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

const namespace = "modalhub"

// Metrics holds collectors registered on a private registry, so several
// instances can coexist in one process.
//
// Metrics:
//   - modalhub_http_requests_total{method,route,status}
//   - modalhub_http_request_duration_seconds{method,route}
//   - modalhub_assistant_intents_total{intent}
//   - modalhub_assistant_generation_failures_total{generator}
//   - modalhub_assistant_sessions_created_total
//   - modalhub_assistant_sessions_expired_total
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal      *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	IntentsTotal       *prometheus.CounterVec
	GenerationFailures *prometheus.CounterVec
	SessionsCreated    prometheus.Counter
	SessionsExpired    prometheus.Counter
}

// New creates the collectors. Process and Go runtime collectors are included.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests handled",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		IntentsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "assistant",
				Name:      "intents_total",
				Help:      "Chat messages by classified intent",
			},
			[]string{"intent"},
		),
		GenerationFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "assistant",
				Name:      "generation_failures_total",
				Help:      "Generator calls that failed after retries",
			},
			[]string{"generator"},
		),
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "assistant",
			Name:      "sessions_created_total",
			Help:      "Assistant sessions created",
		}),
		SessionsExpired: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "assistant",
			Name:      "sessions_expired_total",
			Help:      "Assistant sessions evicted by the janitor",
		}),
	}
}

func (m *Metrics) IntentClassified(intent string) {
	m.IntentsTotal.WithLabelValues(intent).Inc()
}

func (m *Metrics) GenerationFailed(generator string) {
	m.GenerationFailures.WithLabelValues(generator).Inc()
}

func (m *Metrics) SessionCreated() {
	m.SessionsCreated.Inc()
}

// SessionsSwept matches the janitor callback signature.
func (m *Metrics) SessionsSwept(n int) {
	m.SessionsExpired.Add(float64(n))
}

// Middleware records request count and latency by matched route.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method
		m.RequestsTotal.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.RequestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
