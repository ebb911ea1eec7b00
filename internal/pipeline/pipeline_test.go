package pipeline

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/netn10/security-proxy/internal/audit"
	"github.com/netn10/security-proxy/internal/clock"
	"github.com/netn10/security-proxy/internal/policy"
	"github.com/netn10/security-proxy/internal/ratelimit"
	"github.com/netn10/security-proxy/internal/respcache"
	"github.com/netn10/security-proxy/internal/sanitizer"
	"github.com/netn10/security-proxy/internal/upstream"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func baseFlags() Flags {
	return Flags{
		EnableRateLimiting:      true,
		EnableTimeBasedBlocking: true,
		EnableDataSanitization:  true,
		EnablePolicyEnforcement: true,
		EnableCaching:           true,
		CacheTTL:                time.Minute,
	}
}

func newTestPipeline(t *testing.T, upstreamURL string, flags Flags, opts ...Option) (*Pipeline, *clock.FrozenClock, *audit.MemoryStore) {
	t.Helper()
	clk := clock.NewFrozen(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	store := audit.NewMemoryStore()
	logger := audit.New(context.Background(), store, discardLogger())

	bindings := map[string]upstream.ProviderBinding{
		"openai": {Name: "openai", UpstreamBaseURL: upstreamURL, Credential: "key", AuthStyle: upstream.AuthStyleBearer},
	}
	client := upstream.New(http.DefaultClient)

	allOpts := append([]Option{
		WithRateLimiter(ratelimit.New(clk, 1000, 1000, time.Second)),
	}, opts...)

	p := New(clk, flags, bindings, client, logger, allOpts...)
	return p, clk, store
}

func TestHandle_ProxiesCleanRequest(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"reply":"hi"}`))
	}))
	defer upstream.Close()

	p, clk, store := newTestPipeline(t, upstream.URL, baseFlags())
	clk.Set(time.Date(2026, 1, 1, 0, 0, 30, 0, time.UTC))

	body, _ := json.Marshal(map[string]any{"messages": []any{map[string]any{"role": "user", "content": "hello there, how are you today"}}})
	resp := p.Handle(context.Background(), Request{
		Provider:       "openai",
		Method:         http.MethodPost,
		UpstreamPath:   "/v1/chat/completions",
		Headers:        http.Header{"Content-Type": {"application/json"}},
		BodyBytes:      body,
		ClientIdentity: "client-a",
	})

	if resp.Status != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Status, resp.Body)
	}

	p.auditLogger.Drain(context.Background())
	recent, _ := store.Recent(context.Background(), 10)
	if len(recent) != 1 {
		t.Fatalf("expected exactly one audit record, got %d", len(recent))
	}
	if recent[0].Action != audit.ActionProxied {
		t.Fatalf("expected PROXIED, got %s", recent[0].Action)
	}
}

func TestHandle_TimeGateBlocksForbiddenSecond(t *testing.T) {
	p, clk, store := newTestPipeline(t, "http://unused.invalid", baseFlags())
	clk.Set(time.Date(2026, 1, 1, 0, 0, 7, 0, time.UTC))

	resp := p.Handle(context.Background(), Request{
		Provider:       "openai",
		Method:         http.MethodGet,
		UpstreamPath:   "/v1/models",
		BodyBytes:      nil,
		ClientIdentity: "client-a",
	})

	if resp.Status != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.Status)
	}
	p.auditLogger.Drain(context.Background())
	recent, _ := store.Recent(context.Background(), 10)
	if len(recent) != 1 || recent[0].Action != audit.ActionBlockedTime {
		t.Fatalf("expected single BLOCKED_TIME record, got %+v", recent)
	}
}

func TestHandle_RateLimitBlocksWhenBucketEmpty(t *testing.T) {
	clk := clock.NewFrozen(time.Date(2026, 1, 1, 0, 0, 30, 0, time.UTC))
	store := audit.NewMemoryStore()
	logger := audit.New(context.Background(), store, discardLogger())
	bindings := map[string]upstream.ProviderBinding{}
	client := upstream.New(http.DefaultClient)

	p := New(clk, baseFlags(), bindings, client, logger, WithRateLimiter(ratelimit.New(clk, 1, 0, time.Hour)))

	req := Request{Provider: "openai", Method: http.MethodGet, UpstreamPath: "/v1/models", ClientIdentity: "client-a"}
	first := p.Handle(context.Background(), req)
	second := p.Handle(context.Background(), req)

	if first.Status == http.StatusTooManyRequests {
		t.Fatalf("first request should not be rate limited, got %d", first.Status)
	}
	if second.Status != http.StatusTooManyRequests {
		t.Fatalf("expected second request rate limited, got %d", second.Status)
	}
}

func TestHandle_SanitiserRejectModeBlocksSensitiveData(t *testing.T) {
	p, clk, store := newTestPipeline(t, "http://unused.invalid", baseFlags(),
		WithSanitiser(sanitizer.New(sanitizer.ModeReject, nil)))
	clk.Set(time.Date(2026, 1, 1, 0, 0, 30, 0, time.UTC))

	body, _ := json.Marshal(map[string]any{"messages": []any{map[string]any{"role": "user", "content": "contact me at person@example.com please"}}})
	resp := p.Handle(context.Background(), Request{
		Provider:       "openai",
		Method:         http.MethodPost,
		UpstreamPath:   "/v1/chat/completions",
		BodyBytes:      body,
		ClientIdentity: "client-a",
	})

	if resp.Status != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.Status)
	}
	p.auditLogger.Drain(context.Background())
	recent, _ := store.Recent(context.Background(), 10)
	if len(recent) != 1 || recent[0].Action != audit.ActionBlockedSensitive {
		t.Fatalf("expected single BLOCKED_SENSITIVE_DATA record, got %+v", recent)
	}
}

type alwaysFinancial struct{}

func (alwaysFinancial) Classify(ctx context.Context, text string, strict bool) (string, error) {
	return "FINANCIAL", nil
}

func TestHandle_PolicyClassifierBlocksFinancialContent(t *testing.T) {
	p, clk, store := newTestPipeline(t, "http://unused.invalid", baseFlags(),
		WithPolicyClassifier(policy.New(alwaysFinancial{}, false)))
	clk.Set(time.Date(2026, 1, 1, 0, 0, 30, 0, time.UTC))

	body, _ := json.Marshal(map[string]any{"messages": []any{map[string]any{"role": "user", "content": "what mortgage rate should I expect this year"}}})
	resp := p.Handle(context.Background(), Request{
		Provider:       "openai",
		Method:         http.MethodPost,
		UpstreamPath:   "/v1/chat/completions",
		BodyBytes:      body,
		ClientIdentity: "client-a",
	})

	if resp.Status != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.Status)
	}
	p.auditLogger.Drain(context.Background())
	recent, _ := store.Recent(context.Background(), 10)
	if len(recent) != 1 || recent[0].Action != audit.ActionBlockedFinancial {
		t.Fatalf("expected single BLOCKED_FINANCIAL record, got %+v", recent)
	}
}

func TestHandle_CacheHitSkipsUpstream(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("content-type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"reply":"hi"}`))
	}))
	defer srv.Close()

	cache := respcache.NewMemoryCache(context.Background())
	defer cache.Close()

	p, clk, store := newTestPipeline(t, srv.URL, baseFlags(), WithCache(cache))
	clk.Set(time.Date(2026, 1, 1, 0, 0, 30, 0, time.UTC))

	body, _ := json.Marshal(map[string]any{"messages": []any{map[string]any{"role": "user", "content": "hello there, how are you today"}}})
	req := Request{
		Provider:       "openai",
		Method:         http.MethodPost,
		UpstreamPath:   "/v1/chat/completions",
		BodyBytes:      body,
		ClientIdentity: "client-a",
	}

	first := p.Handle(context.Background(), req)
	second := p.Handle(context.Background(), req)

	if first.Status != http.StatusOK || second.Status != http.StatusOK {
		t.Fatalf("expected both 200, got %d %d", first.Status, second.Status)
	}
	if calls != 1 {
		t.Fatalf("expected upstream called exactly once, got %d", calls)
	}

	p.auditLogger.Drain(context.Background())
	recent, _ := store.Recent(context.Background(), 10)
	if len(recent) != 2 {
		t.Fatalf("expected two audit records, got %d", len(recent))
	}
	foundCacheHit := false
	for _, r := range recent {
		if r.Action == audit.ActionServedFromCache {
			foundCacheHit = true
		}
	}
	if !foundCacheHit {
		t.Fatalf("expected one SERVED_FROM_CACHE record, got %+v", recent)
	}
}

func TestHandle_UpstreamTransportFaultReturns500WithoutLeakingCause(t *testing.T) {
	p, clk, store := newTestPipeline(t, "http://127.0.0.1:1", baseFlags())
	clk.Set(time.Date(2026, 1, 1, 0, 0, 30, 0, time.UTC))

	resp := p.Handle(context.Background(), Request{
		Provider:       "openai",
		Method:         http.MethodGet,
		UpstreamPath:   "/v1/models",
		ClientIdentity: "client-a",
	})

	if resp.Status != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.Status)
	}
	if string(resp.Body) != "an internal error occurred" {
		t.Fatalf("response body leaked cause: %s", resp.Body)
	}

	p.auditLogger.Drain(context.Background())
	recent, _ := store.Recent(context.Background(), 10)
	if len(recent) != 1 || recent[0].ErrorMessage == nil || *recent[0].ErrorMessage == "" {
		t.Fatalf("expected audit record to carry the cause, got %+v", recent)
	}
}
