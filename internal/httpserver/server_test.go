package httpserver

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"github.com/netn10/security-proxy/internal/audit"
	"github.com/netn10/security-proxy/internal/clock"
	"github.com/netn10/security-proxy/internal/pipeline"
	"github.com/netn10/security-proxy/internal/ratelimit"
	"github.com/netn10/security-proxy/internal/upstream"
)

// serveInMemory starts s's router on an in-memory listener and returns an
// HTTP client dialled straight into it, plus a cleanup function.
func serveInMemory(t *testing.T, s *Server) (*http.Client, func()) {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()

	go func() {
		_ = fasthttp.Serve(ln, s.routerHandler())
	}()

	client := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				return ln.Dial()
			},
		},
	}
	return client, func() { ln.Close() }
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store := audit.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })
	logger := audit.New(context.Background(), store, nil)
	t.Cleanup(func() { _ = logger.Close() })

	limiter := ratelimit.New(clock.SystemClock{}, 100, 10, time.Second)

	bindings := map[string]upstream.ProviderBinding{
		"openai": {Name: "openai", UpstreamBaseURL: "http://127.0.0.1:1", Credential: "k", AuthStyle: upstream.AuthStyleBearer},
	}
	p := pipeline.New(clock.SystemClock{}, pipeline.Flags{}, bindings, upstream.New(nil), logger, pipeline.WithRateLimiter(limiter))

	return New(p, nil, nil, store, limiter, []string{"openai"}, []string{"*"}, Config{})
}

func TestHandleHealth_ReportsFlags(t *testing.T) {
	s := newTestServer(t)
	client, cleanup := serveInMemory(t, s)
	defer cleanup()

	resp, err := client.Get("http://proxy/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("expected status ok, got %v", body["status"])
	}
}

func TestHandleProxy_UnknownProviderIs404(t *testing.T) {
	s := newTestServer(t)
	client, cleanup := serveInMemory(t, s)
	defer cleanup()

	resp, err := client.Get("http://proxy/not-a-provider/v1/models")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown provider, got %d", resp.StatusCode)
	}
}

func TestHandleProxy_TransportFaultReturnsStructuredEnvelope(t *testing.T) {
	s := newTestServer(t)
	client, cleanup := serveInMemory(t, s)
	defer cleanup()

	resp, err := client.Get("http://proxy/openai/v1/models")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500 on transport fault, got %d", resp.StatusCode)
	}

	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Error.Code != "INTERNAL_ERROR" {
		t.Fatalf("expected INTERNAL_ERROR code, got %q", envelope.Error.Code)
	}
}

func TestHandleRateLimitReset_ReturnsNoContent(t *testing.T) {
	s := newTestServer(t)
	client, cleanup := serveInMemory(t, s)
	defer cleanup()

	req, _ := http.NewRequest(http.MethodDelete, "http://proxy/dashboard/rate-limits/some-identity", nil)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
}
