// Package httpserver wires the fasthttp transport to the Pipeline: it
// performs provider-namespace routing, exposes the management and
// dashboard endpoints, and bridges the event channel onto the net/http
// based EventBus.
package httpserver

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/netn10/security-proxy/internal/audit"
	"github.com/netn10/security-proxy/internal/eventbus"
	"github.com/netn10/security-proxy/internal/metrics"
	"github.com/netn10/security-proxy/internal/pipeline"
	"github.com/netn10/security-proxy/internal/ratelimit"
	"github.com/netn10/security-proxy/pkg/apierr"
)

// Config is the set of feature flags surfaced verbatim in GET /health.
type Config struct {
	EnableDataSanitization  bool
	EnableTimeBasedBlocking bool
	EnableCaching           bool
	EnablePolicyEnforcement bool
	EnableRateLimiting      bool
}

// Server is the HTTP transport for the security proxy (component C12).
type Server struct {
	pipeline    *pipeline.Pipeline
	events      *eventbus.EventBus
	metrics     *metrics.Registry
	auditStore  audit.Store
	rateLimiter *ratelimit.Limiter
	providers   map[string]struct{}
	corsOrigins []string
	flags       Config

	server *fasthttp.Server
}

// New builds a Server. providers is the set of provider namespace segments
// the proxy recognises; any other first path segment is a 404.
func New(p *pipeline.Pipeline, events *eventbus.EventBus, reg *metrics.Registry, store audit.Store, limiter *ratelimit.Limiter, providers []string, corsOrigins []string, flags Config) *Server {
	set := make(map[string]struct{}, len(providers))
	for _, name := range providers {
		set[name] = struct{}{}
	}
	return &Server{
		pipeline:    p,
		events:      events,
		metrics:     reg,
		auditStore:  store,
		rateLimiter: limiter,
		providers:   set,
		corsOrigins: corsOrigins,
		flags:       flags,
	}
}

// routerHandler builds the full request handler: every route plus the
// shared middleware chain. Split out from ListenAndServe so tests can
// serve it over an in-memory listener without binding a real port.
func (s *Server) routerHandler() fasthttp.RequestHandler {
	r := router.New()
	r.NotFound = s.notFound

	r.GET("/health", s.handleHealth)
	r.GET("/stats", s.handleStats)
	r.GET("/logs", s.handleLogs)
	r.GET("/logs/{action}", s.handleLogsByAction)
	r.GET("/dashboard/metrics", s.handleDashboardMetrics)
	r.GET("/dashboard/analytics", s.handleDashboardAnalytics)
	r.GET("/dashboard/rate-limits", s.handleRateLimitStats)
	r.GET("/dashboard/rate-limits/{id}", s.handleRateLimitStatus)
	r.DELETE("/dashboard/rate-limits/{id}", s.handleRateLimitReset)

	if s.metrics != nil {
		r.GET("/metrics", func(ctx *fasthttp.RequestCtx) { s.metrics.Handler()(ctx) })
	}
	if s.events != nil {
		r.GET("/events", fasthttpadaptor.NewFastHTTPHandler(http.HandlerFunc(s.events.ServeHTTP)))
	}

	r.ANY("/{provider}/{path:*}", s.handleProxy)

	return applyMiddleware(r.Handler,
		recovery,
		requestID,
		timing(s.metrics),
		corsHandler(s.corsOrigins),
		securityHeaders,
	)
}

// ListenAndServe starts the HTTP server on addr (e.g. ":3000") and blocks
// until it stops or returns an error.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &fasthttp.Server{
		Handler:      s.routerHandler(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	return s.server.ListenAndServe(addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown()
}

func (s *Server) notFound(ctx *fasthttp.RequestCtx) {
	apierr.Write(ctx, apierr.CodeInternalError, "not found")
	ctx.SetStatusCode(fasthttp.StatusNotFound)
}

// handleProxy implements `ALL /<provider>/<upstream-path>` (spec.md §6,
// §4.1): unknown provider segments are a 404, everything else is handed to
// the Pipeline verbatim.
func (s *Server) handleProxy(ctx *fasthttp.RequestCtx) {
	provider, _ := ctx.UserValue("provider").(string)
	if _, ok := s.providers[provider]; !ok {
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		return
	}

	upstreamPath := strings.TrimPrefix(string(ctx.Path()), "/"+provider)
	if q := string(ctx.QueryArgs().QueryString()); q != "" {
		upstreamPath += "?" + q
	}

	req := pipeline.Request{
		Provider:       provider,
		Method:         string(ctx.Method()),
		UpstreamPath:   upstreamPath,
		Headers:        fasthttpToHTTPHeader(&ctx.Request.Header),
		BodyBytes:      append([]byte(nil), ctx.Request.Body()...),
		ClientIdentity: clientIdentity(ctx),
		ReceivedAt:     time.Now(),
	}

	resp := s.pipeline.Handle(ctx, req)

	if resp.ErrorCode != "" {
		apierr.WriteDetails(ctx, apierr.Code(resp.ErrorCode), resp.ErrorMessage, resp.ErrorDetails)
		return
	}

	for k, vs := range resp.Headers {
		for _, v := range vs {
			ctx.Response.Header.Add(k, v)
		}
	}
	if ctx.Response.Header.ContentType() == nil || len(ctx.Response.Header.ContentType()) == 0 {
		ctx.SetContentType("application/json")
	}
	ctx.SetStatusCode(resp.Status)
	ctx.SetBody(resp.Body)
}

// clientIdentity implements spec.md §6/§10's preference order:
// forwarded-for's first entry, else real-IP, else the peer address.
func clientIdentity(ctx *fasthttp.RequestCtx) string {
	if fwd := string(ctx.Request.Header.Peek("X-Forwarded-For")); fwd != "" {
		first := strings.TrimSpace(strings.Split(fwd, ",")[0])
		if first != "" {
			return first
		}
	}
	if real := string(ctx.Request.Header.Peek("X-Real-IP")); real != "" {
		return real
	}
	return ctx.RemoteAddr().String()
}

func fasthttpToHTTPHeader(h *fasthttp.RequestHeader) http.Header {
	out := make(http.Header)
	h.VisitAll(func(key, value []byte) {
		out.Add(string(key), string(value))
	})
	return out
}

func (s *Server) handleHealth(ctx *fasthttp.RequestCtx) {
	writeJSON(ctx, map[string]any{
		"status": "ok",
		"flags": map[string]bool{
			"data_sanitization":  s.flags.EnableDataSanitization,
			"time_based_block":   s.flags.EnableTimeBasedBlocking,
			"caching":            s.flags.EnableCaching,
			"policy_enforcement": s.flags.EnablePolicyEnforcement,
			"rate_limiting":      s.flags.EnableRateLimiting,
		},
		"endpoints": []string{"/health", "/stats", "/logs", "/dashboard/metrics", "/dashboard/analytics", "/dashboard/rate-limits", "/events"},
	})
}

func (s *Server) handleStats(ctx *fasthttp.RequestCtx) {
	stats, err := s.auditStore.Stats(ctx)
	if err != nil {
		apierr.WriteInternal(ctx)
		return
	}
	writeJSON(ctx, stats)
}

func (s *Server) handleLogs(ctx *fasthttp.RequestCtx) {
	limit := queryLimit(ctx, 50)
	records, err := s.auditStore.Recent(ctx, limit)
	if err != nil {
		apierr.WriteInternal(ctx)
		return
	}
	writeJSON(ctx, records)
}

func (s *Server) handleLogsByAction(ctx *fasthttp.RequestCtx) {
	action, _ := ctx.UserValue("action").(string)
	limit := queryLimit(ctx, 50)
	records, err := s.auditStore.ByAction(ctx, audit.Action(action), limit)
	if err != nil {
		apierr.WriteInternal(ctx)
		return
	}
	writeJSON(ctx, records)
}

func (s *Server) handleDashboardMetrics(ctx *fasthttp.RequestCtx) {
	stats, err := s.auditStore.Stats(ctx)
	if err != nil {
		apierr.WriteInternal(ctx)
		return
	}
	writeJSON(ctx, map[string]any{
		"audit": stats,
		"at":    time.Now().UTC(),
	})
}

func (s *Server) handleDashboardAnalytics(ctx *fasthttp.RequestCtx) {
	stats, err := s.auditStore.Stats(ctx)
	if err != nil {
		apierr.WriteInternal(ctx)
		return
	}
	writeJSON(ctx, map[string]any{
		"total_requests":    stats.Total,
		"by_action":         stats.ByAction,
		"by_provider":       stats.ByProvider,
		"active_identities": len(s.rateLimiter.Identities()),
	})
}

func (s *Server) handleRateLimitStats(ctx *fasthttp.RequestCtx) {
	ids := s.rateLimiter.Identities()
	writeJSON(ctx, map[string]any{
		"active_identities": len(ids),
		"identities":        ids,
	})
}

func (s *Server) handleRateLimitStatus(ctx *fasthttp.RequestCtx) {
	id, _ := ctx.UserValue("id").(string)
	status := s.rateLimiter.Status(id)
	writeJSON(ctx, status)
}

func (s *Server) handleRateLimitReset(ctx *fasthttp.RequestCtx) {
	id, _ := ctx.UserValue("id").(string)
	s.rateLimiter.Reset(id)
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}

func queryLimit(ctx *fasthttp.RequestCtx, fallback int) int {
	raw := string(ctx.QueryArgs().Peek("limit"))
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func writeJSON(ctx *fasthttp.RequestCtx, v any) {
	ctx.SetContentType("application/json")
	data, err := json.Marshal(v)
	if err != nil {
		apierr.WriteInternal(ctx)
		return
	}
	ctx.SetBody(data)
}
