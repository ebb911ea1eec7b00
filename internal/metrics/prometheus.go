// Package metrics provides a Prometheus metrics registry for the security
// proxy.
//
// All metrics are scoped to a private registry (not the global default) so
// they don't interfere with host-level metrics when embedded in other
// applications. The /metrics HTTP handler is exposed via Handler().
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// Registry holds all exported metrics.
type Registry struct {
	reg *prometheus.Registry

	// proxy_inflight_requests
	inFlight prometheus.Gauge

	// proxy_http_requests_total{route,status}
	httpRequestsTotal *prometheus.CounterVec

	// proxy_http_request_duration_seconds{route}
	httpDuration *prometheus.HistogramVec

	// proxy_requests_by_action_total{action,provider}
	requestsByAction *prometheus.CounterVec

	// proxy_ratelimit_decisions_total{result}
	rateLimitDecisions *prometheus.CounterVec

	// proxy_ratelimit_active_identities
	rateLimitActiveIdentities prometheus.Gauge

	// proxy_cache_operations_total{op,result}
	cacheOps *prometheus.CounterVec

	// proxy_cache_hit_rate
	cacheHitRate prometheus.Gauge

	// proxy_sanitizer_detections_total{category}
	sanitizerDetections *prometheus.CounterVec

	// proxy_policy_decisions_total{decision}
	policyDecisions *prometheus.CounterVec

	// proxy_upstream_attempts_total{provider,outcome}
	upstreamAttempts *prometheus.CounterVec

	// proxy_upstream_attempt_duration_seconds{provider,outcome}
	upstreamDuration *prometheus.HistogramVec

	// proxy_audit_dropped_total
	auditDropped prometheus.Counter

	// proxy_build_info{version}
	buildInfo *prometheus.GaugeVec

	metricsHandler fasthttp.RequestHandler
}

func New() *Registry {
	reg := prometheus.NewRegistry()

	// Baseline runtime metrics even with a private registry.
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	r := &Registry{
		reg: reg,

		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "proxy_inflight_requests",
			Help: "Current number of in-flight HTTP requests handled by the proxy",
		}),

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "proxy_http_requests_total",
				Help: "Total number of HTTP requests handled by the proxy",
			},
			[]string{"route", "status"},
		),

		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "proxy_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds, end-to-end including every pipeline stage",
				Buckets: []float64{0.001, 0.002, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"route"},
		),

		requestsByAction: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "proxy_requests_by_action_total",
				Help: "Total requests by their terminal pipeline action",
			},
			[]string{"action", "provider"},
		),

		rateLimitDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "proxy_ratelimit_decisions_total",
				Help: "Rate limiter decisions (allowed/rejected)",
			},
			[]string{"result"},
		),

		rateLimitActiveIdentities: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "proxy_ratelimit_active_identities",
			Help: "Number of distinct client identities currently tracked by the rate limiter",
		}),

		cacheOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "proxy_cache_operations_total",
				Help: "Response cache operations by type and result",
			},
			[]string{"op", "result"},
		),

		cacheHitRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "proxy_cache_hit_rate",
			Help: "Response cache hit rate over its lifetime",
		}),

		sanitizerDetections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "proxy_sanitizer_detections_total",
				Help: "Sensitive data detections by category",
			},
			[]string{"category"},
		),

		policyDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "proxy_policy_decisions_total",
				Help: "Financial-content policy classification decisions",
			},
			[]string{"decision"},
		),

		upstreamAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "proxy_upstream_attempts_total",
				Help: "Total upstream provider attempts",
			},
			[]string{"provider", "outcome"},
		),

		upstreamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "proxy_upstream_attempt_duration_seconds",
				Help:    "Upstream provider attempt duration in seconds",
				Buckets: []float64{0.001, 0.002, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"provider", "outcome"},
		),

		auditDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "proxy_audit_dropped_total",
			Help: "Audit records dropped because the logger's buffer was full",
		}),

		buildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "proxy_build_info",
				Help: "Build information",
			},
			[]string{"version"},
		),
	}

	reg.MustRegister(
		r.inFlight,
		r.httpRequestsTotal,
		r.httpDuration,
		r.requestsByAction,
		r.rateLimitDecisions,
		r.rateLimitActiveIdentities,
		r.cacheOps,
		r.cacheHitRate,
		r.sanitizerDetections,
		r.policyDecisions,
		r.upstreamAttempts,
		r.upstreamDuration,
		r.auditDropped,
		r.buildInfo,
	)

	h := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	r.metricsHandler = fasthttpadaptor.NewFastHTTPHandler(h)

	return r
}

func (r *Registry) IncInFlight() { r.inFlight.Inc() }
func (r *Registry) DecInFlight() { r.inFlight.Dec() }

// ObserveHTTP records end-to-end HTTP metrics for one request.
func (r *Registry) ObserveHTTP(route string, statusCode int, dur time.Duration) {
	status := strconv.Itoa(statusCode)
	r.httpRequestsTotal.WithLabelValues(route, status).Inc()
	r.httpDuration.WithLabelValues(route).Observe(dur.Seconds())
}

// RecordAction records one request's terminal pipeline action (spec.md §3).
func (r *Registry) RecordAction(action, provider string) {
	r.requestsByAction.WithLabelValues(action, provider).Inc()
}

func (r *Registry) RecordRateLimitDecision(allowed bool) {
	result := "rejected"
	if allowed {
		result = "allowed"
	}
	r.rateLimitDecisions.WithLabelValues(result).Inc()
}

func (r *Registry) SetActiveIdentities(n int) {
	r.rateLimitActiveIdentities.Set(float64(n))
}

func (r *Registry) CacheGetHit() {
	r.cacheOps.WithLabelValues("get", "hit").Inc()
}

func (r *Registry) CacheGetMiss() {
	r.cacheOps.WithLabelValues("get", "miss").Inc()
}

func (r *Registry) CacheSetOK() {
	r.cacheOps.WithLabelValues("set", "ok").Inc()
}

func (r *Registry) CacheSetError() {
	r.cacheOps.WithLabelValues("set", "error").Inc()
}

func (r *Registry) SetCacheHitRate(rate float64) {
	r.cacheHitRate.Set(rate)
}

// RecordSanitizerDetection increments the detection counter for category
// (one call per validated match category found in a request).
func (r *Registry) RecordSanitizerDetection(category string) {
	r.sanitizerDetections.WithLabelValues(category).Inc()
}

// RecordPolicyDecision records the financial-content classification outcome
// ("financial" or "non_financial").
func (r *Registry) RecordPolicyDecision(decision string) {
	r.policyDecisions.WithLabelValues(decision).Inc()
}

// ObserveUpstreamAttempt records one upstream provider attempt.
func (r *Registry) ObserveUpstreamAttempt(provider, outcome string, dur time.Duration) {
	r.upstreamAttempts.WithLabelValues(provider, outcome).Inc()
	r.upstreamDuration.WithLabelValues(provider, outcome).Observe(dur.Seconds())
}

func (r *Registry) RecordAuditDropped() {
	r.auditDropped.Inc()
}

func (r *Registry) SetBuildInfo(version string) {
	// Gauge is used so the time series always exists.
	r.buildInfo.WithLabelValues(version).Set(1)
}

func (r *Registry) Handler() fasthttp.RequestHandler {
	return r.metricsHandler
}
