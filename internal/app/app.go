// Package app wires up all subsystems and owns the application lifecycle.
//
// Startup order:
//  1. initAudit         — audit store + async logger
//  2. initCollaborators — rate limiter, response cache, metrics registry
//  3. initEventBus       — monitoring/event websocket hub
//  4. initServer         — sanitiser, policy classifier, upstream client +
//     circuit breaker, pipeline and fasthttp transport
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/netn10/security-proxy/internal/audit"
	"github.com/netn10/security-proxy/internal/config"
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

// App owns all long-lived resources and exposes Run / Close.
type App struct {
	version string
	cfg     *config.Config
	baseCtx context.Context
	log     *slog.Logger

	auditStore  audit.Store
	auditLogger *audit.Logger

	rateLimiter *ratelimit.Limiter
	cache       respcache.Cache
	metrics     *metrics.Registry
	events      *eventbus.EventBus

	pipeline *pipeline.Pipeline
	server   *httpserver.Server
}

// New initialises all subsystems and returns a ready-to-run App. All
// resources allocated here are released by Close.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger, version string) (*App, error) {
	if ctx == nil {
		return nil, fmt.Errorf("app: context must not be nil")
	}

	a := &App{cfg: cfg, version: version, baseCtx: ctx, log: log}

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"audit", a.initAudit},
		{"collaborators", a.initCollaborators},
		{"eventbus", a.initEventBus},
		{"server", a.initServer},
	}

	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("app: init %s: %w", s.name, err)
		}
	}

	return a, nil
}

// Run starts the HTTP server and the event bus, and blocks until ctx is
// cancelled or either one returns an error. It closes the app gracefully
// when returning.
func (a *App) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", a.cfg.Port)

	a.log.Info("starting security proxy",
		slog.String("version", a.version),
		slog.String("addr", addr),
		slog.String("sanitizer_mode", a.cfg.SanitizerMode),
		slog.String("classifier_provider", a.cfg.ClassifierProvider),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.events.Run(gctx)
		return nil
	})

	g.Go(func() error {
		a.runSweeper(gctx)
		return nil
	})

	g.Go(func() error {
		if err := a.server.ListenAndServe(addr); err != nil {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		if err := a.server.Shutdown(); err != nil {
			a.log.Error("server shutdown error", slog.String("error", err.Error()))
		}
		return nil
	})

	err := g.Wait()
	a.Close()
	return err
}

// runSweeper invokes RateLimiter.Sweep every hour until ctx is cancelled
// (spec.md §5: a background task, never the request path, retires token
// buckets untouched for 24h). The response cache is not swept here — the
// memory backend self-evicts on its own ticker and the Redis backend relies
// on key TTLs, matching spec.md §5's "if the cache backend does not
// self-evict" qualifier.
func (a *App) runSweeper(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.rateLimiter.Sweep()
		case <-ctx.Done():
			return
		}
	}
}

// Close releases the audit logger, the response cache and the audit store,
// in that order. Safe to call more than once from the same goroutine; it
// takes no lock, so concurrent calls are not safe.
func (a *App) Close() {
	if a.auditLogger != nil {
		if err := a.auditLogger.Close(); err != nil {
			a.log.Error("audit logger close error", slog.String("error", err.Error()))
		}
		a.auditLogger = nil
	}
	switch c := a.cache.(type) {
	case interface{ Close() error }:
		if err := c.Close(); err != nil {
			a.log.Error("cache close error", slog.String("error", err.Error()))
		}
	case interface{ Close() }:
		c.Close()
	}
	a.cache = nil
	if a.auditStore != nil {
		if err := a.auditStore.Close(); err != nil {
			a.log.Error("audit store close error", slog.String("error", err.Error()))
		}
		a.auditStore = nil
	}
}

// buildBindings turns the configured providers into the static upstream
// binding table (spec.md §3). Only {openai, anthropic} are recognised.
func buildBindings(cfg *config.Config) map[string]upstream.ProviderBinding {
	bindings := make(map[string]upstream.ProviderBinding)
	if cfg.OpenAI.APIKey != "" {
		base := cfg.OpenAI.BaseURL
		if base == "" {
			base = "https://api.openai.com"
		}
		bindings["openai"] = upstream.ProviderBinding{
			Name:            "openai",
			UpstreamBaseURL: base,
			Credential:      cfg.OpenAI.APIKey,
			AuthStyle:       upstream.AuthStyleBearer,
		}
	}
	if cfg.Anthropic.APIKey != "" {
		base := cfg.Anthropic.BaseURL
		if base == "" {
			base = "https://api.anthropic.com"
		}
		bindings["anthropic"] = upstream.ProviderBinding{
			Name:            "anthropic",
			UpstreamBaseURL: base,
			Credential:      cfg.Anthropic.APIKey,
			AuthStyle:       upstream.AuthStyleHeaderPair,
		}
	}
	return bindings
}

// buildSanitizerClassifier picks the classifier backend named by
// cfg.ClassifierProvider, falling back to regex-only detection (nil
// classifier) when that provider has no credential configured.
func buildSanitizerClassifier(cfg *config.Config) sanitizer.Classifier {
	switch cfg.ClassifierProvider {
	case "openai":
		if cfg.OpenAI.APIKey == "" {
			return nil
		}
		return sanitizer.NewOpenAIClassifier(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL)
	default:
		if cfg.Anthropic.APIKey == "" {
			return nil
		}
		return sanitizer.NewAnthropicClassifier(cfg.Anthropic.APIKey, cfg.Anthropic.BaseURL)
	}
}

// buildPolicyClassifier mirrors buildSanitizerClassifier for the financial
// policy stage's TextClassifier.
func buildPolicyClassifier(cfg *config.Config) policy.TextClassifier {
	switch cfg.ClassifierProvider {
	case "openai":
		if cfg.OpenAI.APIKey == "" {
			return nil
		}
		return policy.NewOpenAIClassifier(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL)
	default:
		if cfg.Anthropic.APIKey == "" {
			return nil
		}
		return policy.NewAnthropicClassifier(cfg.Anthropic.APIKey, cfg.Anthropic.BaseURL)
	}
}
