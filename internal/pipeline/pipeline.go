package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/netn10/security-proxy/internal/audit"
	"github.com/netn10/security-proxy/internal/clock"
	"github.com/netn10/security-proxy/internal/eventbus"
	"github.com/netn10/security-proxy/internal/jsontree"
	"github.com/netn10/security-proxy/internal/metrics"
	"github.com/netn10/security-proxy/internal/policy"
	"github.com/netn10/security-proxy/internal/ratelimit"
	"github.com/netn10/security-proxy/internal/respcache"
	"github.com/netn10/security-proxy/internal/sanitizer"
	"github.com/netn10/security-proxy/internal/upstream"
)

// blockedSeconds is the fixed set of second-of-minute values the time gate
// rejects (spec.md §4.2 stage 2).
var blockedSeconds = map[int]bool{1: true, 2: true, 7: true, 8: true}

// Flags are the feature toggles and tunables the pipeline reads per
// request (spec.md §6's configuration table).
type Flags struct {
	EnableRateLimiting      bool
	EnableTimeBasedBlocking bool
	EnableDataSanitization  bool
	EnablePolicyEnforcement bool
	EnableCaching           bool
	CacheTTL                time.Duration
}

// Pipeline is component C11: it orchestrates C5–C10 under the fixed
// ordering and failure policy of spec.md §4.2.
type Pipeline struct {
	clock clock.Clock
	flags Flags

	rateLimiter *ratelimit.Limiter
	sanitiser   *sanitizer.Sanitiser
	policy      *policy.Classifier
	cache       respcache.Cache
	exclusions  *respcache.ExclusionList
	upstream    *upstream.Client
	bindings    map[string]upstream.ProviderBinding

	auditLogger *audit.Logger
	events      *eventbus.EventBus
	metrics     *metrics.Registry

	upstreamTimeout time.Duration
}

// Option configures optional collaborators; every stage they back degrades
// to "pass through" when left unset, which is how an operator disables a
// stage independently of its Flags toggle (e.g. running with no cache
// backend configured at all).
type Option func(*Pipeline)

// New builds a Pipeline. bindings is the static, immutable provider table
// (spec.md §3); upstreamClient and auditLogger are required, everything
// else is optional via With* options.
func New(clk clock.Clock, flags Flags, bindings map[string]upstream.ProviderBinding, upstreamClient *upstream.Client, auditLogger *audit.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		clock:           clk,
		flags:           flags,
		bindings:        bindings,
		upstream:        upstreamClient,
		auditLogger:     auditLogger,
		upstreamTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func WithRateLimiter(l *ratelimit.Limiter) Option { return func(p *Pipeline) { p.rateLimiter = l } }
func WithSanitiser(s *sanitizer.Sanitiser) Option { return func(p *Pipeline) { p.sanitiser = s } }
func WithPolicyClassifier(c *policy.Classifier) Option {
	return func(p *Pipeline) { p.policy = c }
}
func WithCache(c respcache.Cache) Option { return func(p *Pipeline) { p.cache = c } }
func WithExclusions(e *respcache.ExclusionList) Option {
	return func(p *Pipeline) { p.exclusions = e }
}
func WithEventBus(b *eventbus.EventBus) Option { return func(p *Pipeline) { p.events = b } }
func WithUpstreamTimeout(d time.Duration) Option { return func(p *Pipeline) { p.upstreamTimeout = d } }
func WithMetrics(m *metrics.Registry) Option { return func(p *Pipeline) { p.metrics = m } }

// outcome threads the terminal action and response through the stage
// sequence so every return path funnels through a single log-and-respond
// exit (PI1: exactly one AuditRecord per request).
type outcome struct {
	action       audit.Action
	response     Response
	errorMessage *string
	// anonymisedPayload is the body to persist in the AuditRecord: the
	// original body for stages that run before sanitisation, the
	// sanitised body afterwards (spec.md §4.8 — no sensitive strings are
	// persisted).
	anonymisedPayload []byte
}

// withPayload sets the AuditRecord payload snapshot for this outcome.
func (o outcome) withPayload(b []byte) outcome {
	o.anonymisedPayload = b
	return o
}

// Handle runs req through every pipeline stage in fixed order and returns
// the response to forward to the caller. Exactly one AuditRecord and one
// RequestEvent are emitted before Handle returns (PI1).
func (p *Pipeline) Handle(ctx context.Context, req Request) Response {
	start := p.clock.Now()
	out := p.run(ctx, req)

	elapsed := int(p.clock.Now().Sub(start).Milliseconds())
	p.logAndPublish(req, out, elapsed)

	return out.response
}

func (p *Pipeline) run(ctx context.Context, req Request) outcome {
	path := pathWithoutQuery(req.UpstreamPath)
	guarded := isGuardedEndpoint(path)

	// Stage 1: rate limit.
	if p.flags.EnableRateLimiting && p.rateLimiter != nil {
		cost := rateLimitCost(req.Method, guarded)
		allowed := p.rateLimiter.TryConsume(req.ClientIdentity, cost)
		if p.metrics != nil {
			p.metrics.RecordRateLimitDecision(allowed)
		}
		if !allowed {
			return blocked(audit.ActionBlockedRateLimit, http.StatusTooManyRequests, "BLOCKED_RATE_LIMIT", "rate limit exceeded").withPayload(req.BodyBytes)
		}
	}

	// Stage 2: time gate.
	if p.flags.EnableTimeBasedBlocking {
		if blockedSeconds[p.clock.Now().Second()] {
			return blocked(audit.ActionBlockedTime, http.StatusForbidden, "TIME_BLOCKED", "requests are not accepted at this time").withPayload(req.BodyBytes)
		}
	}

	body, bodyParsed := parseBody(req.BodyBytes)
	sanitisedBody := req.BodyBytes

	if guarded && bodyParsed {
		// Stage 3: sanitisation.
		if p.flags.EnableDataSanitization && p.sanitiser != nil {
			forward, result, err := p.sanitiser.Process(ctx, body)
			if err == nil && p.metrics != nil {
				for _, cat := range result.Categories {
					p.metrics.RecordSanitizerDetection(string(cat))
				}
			}
			if err == nil && result.Blocked() && p.sanitiser.Mode() == sanitizer.ModeReject {
				out := blocked(audit.ActionBlockedSensitive, http.StatusForbidden, "SENSITIVE_DATA_BLOCKED", "request contains sensitive data")
				types := make([]string, len(result.Categories))
				for i, c := range result.Categories {
					types[i] = string(c)
				}
				out.response.ErrorDetails = map[string]any{"detected_types": types}
				// The body itself is never persisted here: it is the very
				// thing that tripped the detector (spec.md §4.8 — no
				// sensitive strings persisted).
				payload := fmt.Sprintf(`{"blocked_categories":%s}`, mustJSON(types))
				return out.withPayload([]byte(payload))
			}
			if err == nil {
				body = forward
				if raw, mErr := json.Marshal(forward); mErr == nil {
					sanitisedBody = raw
				}
			}
		}

		// Stage 4: policy classification.
		if p.flags.EnablePolicyEnforcement && p.policy != nil {
			text := extractCanonicalText(body)
			if len(text) >= 10 && len(text) <= 2000 {
				financial, err := p.policy.IsFinancial(ctx, text)
				if err == nil {
					if p.metrics != nil {
						decision := "non_financial"
						if financial {
							decision = "financial"
						}
						p.metrics.RecordPolicyDecision(decision)
					}
					if financial {
						return blocked(audit.ActionBlockedFinancial, http.StatusForbidden, "FINANCIAL_BLOCKED", "request concerns financial content").withPayload(sanitisedBody)
					}
				}
			}
		}
	}

	cacheable := guarded && p.flags.EnableCaching && p.cache != nil && !p.exclusions.Matches(path)
	var fingerprint string

	// Stage 5: cache lookup.
	if cacheable {
		fingerprint = respcache.Fingerprint(req.Provider, path, sanitisedBody)
		entry, ok := p.cache.Get(ctx, fingerprint)
		if p.metrics != nil {
			if ok {
				p.metrics.CacheGetHit()
			} else {
				p.metrics.CacheGetMiss()
			}
			p.metrics.SetCacheHitRate(p.cache.Stats().HitRate)
		}
		if ok {
			return outcome{
				action: audit.ActionServedFromCache,
				response: Response{
					Status:  entry.StatusCode,
					Headers: entry.Headers,
					Body:    entry.Body,
				},
				anonymisedPayload: sanitisedBody,
			}
		}
	}

	// Stage 6: upstream dispatch.
	binding, ok := p.bindings[req.Provider]
	if !ok {
		msg := fmt.Sprintf("no upstream binding for provider %q", req.Provider)
		return fatal(audit.ActionProxied, msg).withPayload(sanitisedBody)
	}

	dispatchCtx, cancel := context.WithTimeout(ctx, p.upstreamTimeout)
	defer cancel()

	dispatchStart := p.clock.Now()
	resp, err := p.upstream.Do(dispatchCtx, binding, req.Method, req.UpstreamPath, req.Headers, sanitisedBody)
	dispatchElapsed := p.clock.Now().Sub(dispatchStart)
	if err != nil {
		if p.metrics != nil {
			p.metrics.ObserveUpstreamAttempt(req.Provider, "transport_fault", dispatchElapsed)
		}
		return fatal(audit.ActionProxied, err.Error()).withPayload(sanitisedBody)
	}
	if p.metrics != nil {
		p.metrics.ObserveUpstreamAttempt(req.Provider, "responded", dispatchElapsed)
	}

	var respBody []byte
	if raw, ok := resp.Body.(string); ok {
		respBody = []byte(raw)
	} else if respBody, err = json.Marshal(resp.Body); err != nil {
		respBody = []byte(fmt.Sprintf("%v", resp.Body))
	}
	filteredHeaders := respcache.FilterHeaders(resp.Headers)

	// Stage 7: cache insertion.
	if cacheable && resp.Status == http.StatusOK {
		putErr := p.cache.Put(ctx, fingerprint, respcache.Entry{
			StatusCode: resp.Status,
			Headers:    filteredHeaders,
			Body:       respBody,
		}, p.flags.CacheTTL)
		if p.metrics != nil {
			if putErr == nil {
				p.metrics.CacheSetOK()
			} else {
				p.metrics.CacheSetError()
			}
		}
	}

	// Stage 8: respond and log.
	return outcome{
		action: audit.ActionProxied,
		response: Response{
			Status:  resp.Status,
			Headers: filteredHeaders,
			Body:    respBody,
		},
		anonymisedPayload: sanitisedBody,
	}
}

// mustJSON serialises v for an audit-log payload snapshot. Marshaling a
// []string never fails, so an error here cannot occur in practice.
func mustJSON(v any) []byte {
	data, _ := json.Marshal(v)
	return data
}

// rateLimitCost implements spec.md §4.2 stage 1's cost formula: base 1,
// chat/messages endpoints 5, POST doubles the cost.
func rateLimitCost(method string, guarded bool) float64 {
	cost := 1.0
	if guarded {
		cost = 5.0
	}
	if strings.EqualFold(method, http.MethodPost) {
		cost *= 2
	}
	return cost
}

func parseBody(raw []byte) (jsontree.Value, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false
	}
	return v, true
}

// blocked builds a stage short-circuit outcome. The response body is left
// empty; the HTTP layer renders the structured error envelope (spec.md §6)
// from ErrorCode/ErrorMessage so the Pipeline stays transport-agnostic.
func blocked(action audit.Action, status int, code, message string) outcome {
	return outcome{
		action: action,
		response: Response{
			Status:       status,
			ErrorCode:    code,
			ErrorMessage: message,
		},
	}
}

func fatal(action audit.Action, cause string) outcome {
	msg := cause
	return outcome{
		action:       action,
		errorMessage: &msg,
		response: Response{
			Status:       http.StatusInternalServerError,
			ErrorCode:    "INTERNAL_ERROR",
			ErrorMessage: "an internal error occurred",
			Body:         []byte("an internal error occurred"),
		},
	}
}

func (p *Pipeline) logAndPublish(req Request, out outcome, elapsedMs int) {
	record := audit.Record{
		ID:                uuid.NewString(),
		Timestamp:         p.clock.Now(),
		Provider:          req.Provider,
		EndpointPath:      req.UpstreamPath,
		Action:            out.action,
		AnonymisedPayload: string(out.anonymisedPayload),
		ResponseTimeMs:    &elapsedMs,
		ErrorMessage:      out.errorMessage,
	}

	if p.metrics != nil {
		p.metrics.RecordAction(string(out.action), req.Provider)
	}
	if p.auditLogger != nil {
		p.auditLogger.Log(record)
	}
	if p.events != nil {
		p.events.PublishRequestEvent(eventbus.RequestEvent{
			Provider: req.Provider,
			Action:   string(out.action),
			Path:     req.UpstreamPath,
			At:       record.Timestamp,
		})
	}
}
