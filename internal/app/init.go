package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/netn10/security-proxy/internal/audit"
	"github.com/netn10/security-proxy/internal/clock"
	"github.com/netn10/security-proxy/internal/eventbus"
	"github.com/netn10/security-proxy/internal/httpserver"
	"github.com/netn10/security-proxy/internal/metrics"
	"github.com/netn10/security-proxy/internal/pipeline"
	"github.com/netn10/security-proxy/internal/policy"
	"github.com/netn10/security-proxy/internal/ratelimit"
	"github.com/netn10/security-proxy/internal/respcache"
	"github.com/netn10/security-proxy/internal/sanitizer"
	"github.com/netn10/security-proxy/internal/upstream"
)

// initAudit creates the audit store (SQLite when AUDIT_DB_PATH is set, an
// in-process memory store otherwise) and starts its async Logger.
func (a *App) initAudit(ctx context.Context) error {
	if a.cfg.SQLitePath != "" {
		store, err := audit.NewSQLiteStore(a.cfg.SQLitePath)
		if err != nil {
			return fmt.Errorf("sqlite: %w", err)
		}
		a.auditStore = store
		a.log.Info("audit store: sqlite", slog.String("path", a.cfg.SQLitePath))
	} else {
		a.auditStore = audit.NewMemoryStore()
		a.log.Info("audit store: memory (non-durable)")
	}

	a.auditLogger = audit.New(ctx, a.auditStore, a.log)
	return nil
}

// initCollaborators builds the rate limiter, the response cache and the
// metrics registry. The sanitiser, policy classifier and upstream client are
// built in initServer.
func (a *App) initCollaborators(ctx context.Context) error {
	a.rateLimiter = ratelimit.New(
		clock.SystemClock{},
		a.cfg.RateLimit.MaxTokens,
		a.cfg.RateLimit.RefillRate,
		a.cfg.RateLimit.RefillInterval,
	)

	if a.cfg.Redis.URL != "" {
		redisCache, err := respcache.NewRedisCacheFromURL(ctx, a.cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("redis cache: %w", err)
		}
		a.cache = redisCache
		a.log.Info("response cache: redis")
	} else {
		a.cache = respcache.NewMemoryCache(ctx)
		a.log.Info("response cache: memory (in-process)")
	}

	a.metrics = metrics.New()
	a.metrics.SetBuildInfo(a.version)
	if a.auditLogger != nil {
		a.auditLogger.SetMetrics(a.metrics)
	}

	return nil
}

// initEventBus builds the EventBus over the audit store/cache/rate
// limiter. Its snapshot ticker starts when Run calls EventBus.Run.
func (a *App) initEventBus(_ context.Context) error {
	source := &monitorSource{auditStore: a.auditStore, cache: a.cache, limiter: a.rateLimiter, metrics: a.metrics}
	a.events = eventbus.New(source, source)
	return nil
}

// initServer builds the Pipeline and wires it into the fasthttp transport.
func (a *App) initServer(_ context.Context) error {
	bindings := buildBindings(a.cfg)
	if len(bindings) == 0 {
		return fmt.Errorf("no provider bindings configured")
	}

	breaker := upstream.NewCircuitBreaker(upstream.CBConfig{})
	upstreamClient := upstream.New(&http.Client{}, upstream.WithCircuitBreaker(breaker))

	var san *sanitizer.Sanitiser
	if a.cfg.EnableDataSanitization {
		mode := sanitizer.ModeReject
		if a.cfg.SanitizerMode == "redact" {
			mode = sanitizer.ModeRedact
		}
		san = sanitizer.New(mode, buildSanitizerClassifier(a.cfg))
	}

	var pol *policy.Classifier
	if a.cfg.EnablePolicyEnforcement {
		pol = policy.New(buildPolicyClassifier(a.cfg), a.cfg.FinancialDetectionStrict)
	}

	var exclusions *respcache.ExclusionList

	flags := pipeline.Flags{
		EnableRateLimiting:      a.cfg.EnableRateLimiting,
		EnableTimeBasedBlocking: a.cfg.EnableTimeBasedBlocking,
		EnableDataSanitization:  a.cfg.EnableDataSanitization,
		EnablePolicyEnforcement: a.cfg.EnablePolicyEnforcement,
		EnableCaching:           a.cfg.EnableCaching,
		CacheTTL:                a.cfg.CacheTTL,
	}

	a.pipeline = pipeline.New(
		clock.SystemClock{}, flags, bindings, upstreamClient, a.auditLogger,
		pipeline.WithRateLimiter(a.rateLimiter),
		pipeline.WithSanitiser(san),
		pipeline.WithPolicyClassifier(pol),
		pipeline.WithCache(a.cache),
		pipeline.WithExclusions(exclusions),
		pipeline.WithEventBus(a.events),
		pipeline.WithMetrics(a.metrics),
	)

	providerNames := make([]string, 0, len(bindings))
	for name := range bindings {
		providerNames = append(providerNames, name)
	}

	a.server = httpserver.New(a.pipeline, a.events, a.metrics, a.auditStore, a.rateLimiter, providerNames, a.cfg.CORSOrigins, httpserver.Config{
		EnableDataSanitization:  a.cfg.EnableDataSanitization,
		EnableTimeBasedBlocking: a.cfg.EnableTimeBasedBlocking,
		EnableCaching:           a.cfg.EnableCaching,
		EnablePolicyEnforcement: a.cfg.EnablePolicyEnforcement,
		EnableRateLimiting:      a.cfg.EnableRateLimiting,
	})

	return nil
}
