// Package metrics exposes Prometheus collectors for the gateway.
// All methods are safe on a nil *Metrics so components can run without them.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bi_gateway"

// Metrics holds the gateway's collectors.
type Metrics struct {
	gatherer prometheus.Gatherer

	queries            *prometheus.CounterVec
	queryDuration      *prometheus.HistogramVec
	admissionRejected  *prometheus.CounterVec
	activeSlots        prometheus.Gauge
	cacheLookups       *prometheus.CounterVec
	gateChecks         *prometheus.CounterVec
	pivotFallbacks     prometheus.Counter
	injectionsRejected prometheus.Counter
	toolCalls          *prometheus.CounterVec
}

// New creates and registers the collectors on reg. Passing a fresh
// prometheus.NewRegistry() isolates tests from the default registry.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		gatherer: reg,
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Queries handled, by type and outcome.",
		}, []string{"type", "outcome"}),
		queryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Wall time of guarded query execution.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		}, []string{"type"}),
		admissionRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_rejected_total",
			Help:      "Queries rejected by concurrency admission, by scope.",
		}, []string{"scope"}),
		activeSlots: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_slots",
			Help:      "Concurrency slots currently held by this process.",
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pivot_cache_lookups_total",
			Help:      "Pivot cache lookups, by result.",
		}, []string{"result"}),
		gateChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readiness_checks_total",
			Help:      "Readiness gate evaluations against the database, by result.",
		}, []string{"result"}),
		pivotFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pivot_fallbacks_total",
			Help:      "Pivot queries served by the in-memory fallback.",
		}),
		injectionsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "injection_rejections_total",
			Help:      "Parameter sets rejected by injection screening.",
		}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mcp_tool_calls_total",
			Help:      "MCP tool calls, by tool and outcome.",
		}, []string{"tool", "outcome"}),
	}
	reg.MustRegister(
		m.queries,
		m.queryDuration,
		m.admissionRejected,
		m.activeSlots,
		m.cacheLookups,
		m.gateChecks,
		m.pivotFallbacks,
		m.injectionsRejected,
		m.toolCalls,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveQuery(queryType, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.queries.WithLabelValues(queryType, outcome).Inc()
	if outcome == "ok" {
		m.queryDuration.WithLabelValues(queryType).Observe(elapsed.Seconds())
	}
}

func (m *Metrics) AdmissionRejected(scope string) {
	if m == nil {
		return
	}
	m.admissionRejected.WithLabelValues(scope).Inc()
}

func (m *Metrics) SlotAcquired() {
	if m == nil {
		return
	}
	m.activeSlots.Inc()
}

func (m *Metrics) SlotReleased() {
	if m == nil {
		return
	}
	m.activeSlots.Dec()
}

func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.cacheLookups.WithLabelValues("miss").Inc()
}

func (m *Metrics) GateCheck(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.gateChecks.WithLabelValues("ready").Inc()
		return
	}
	m.gateChecks.WithLabelValues("not_ready").Inc()
}

func (m *Metrics) PivotFallback() {
	if m == nil {
		return
	}
	m.pivotFallbacks.Inc()
}

func (m *Metrics) InjectionRejected() {
	if m == nil {
		return
	}
	m.injectionsRejected.Inc()
}

// ToolCall counts an MCP tool invocation. outcome is "ok", "tool_error" or "error".
func (m *Metrics) ToolCall(tool, outcome string) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, outcome).Inc()
}
