package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDo_BearerAuthAndHeaderWhitelist(t *testing.T) {
	var gotAuth, gotUA, gotXForwarded, gotAcceptEncoding string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotUA = r.Header.Get("User-Agent")
		gotXForwarded = r.Header.Get("X-Forwarded-For")
		gotAcceptEncoding = r.Header.Get("Accept-Encoding")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	binding := ProviderBinding{Name: "openai", UpstreamBaseURL: srv.URL, Credential: "sk-test", AuthStyle: AuthStyleBearer}
	inbound := http.Header{"User-Agent": {"test-client"}, "X-Forwarded-For": {"1.2.3.4"}}

	c := New(nil)
	resp, err := c.Do(context.Background(), binding, http.MethodPost, "/v1/chat/completions", inbound, []byte(`{"model":"gpt-4"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Status != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Status)
	}
	if gotAuth != "Bearer sk-test" {
		t.Fatalf("expected bearer auth header, got %q", gotAuth)
	}
	if gotUA != "test-client" {
		t.Fatalf("expected whitelisted User-Agent, got %q", gotUA)
	}
	if gotXForwarded != "" {
		t.Fatal("expected non-whitelisted header to be dropped")
	}
	if gotAcceptEncoding != "identity" {
		t.Fatalf("expected accept-encoding: identity, got %q", gotAcceptEncoding)
	}

	body, ok := resp.Body.(map[string]any)
	if !ok {
		t.Fatalf("expected JSON body to parse, got %T", resp.Body)
	}
	if body["ok"] != true {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestDo_HeaderPairAuth(t *testing.T) {
	var gotKey, gotVersion string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-api-key")
		gotVersion = r.Header.Get("anthropic-version")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	binding := ProviderBinding{Name: "anthropic", UpstreamBaseURL: srv.URL, Credential: "ant-key", AuthStyle: AuthStyleHeaderPair}
	c := New(nil)
	if _, err := c.Do(context.Background(), binding, http.MethodPost, "/v1/messages", http.Header{}, []byte(`{}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotKey != "ant-key" {
		t.Fatalf("expected x-api-key header, got %q", gotKey)
	}
	if gotVersion != protocolVersion {
		t.Fatalf("expected anthropic-version header, got %q", gotVersion)
	}
}

func TestDo_NonJSONBodyKeepsRawText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	binding := ProviderBinding{Name: "openai", UpstreamBaseURL: srv.URL, Credential: "k", AuthStyle: AuthStyleBearer}
	c := New(nil)
	resp, err := c.Do(context.Background(), binding, http.MethodGet, "/v1/models", http.Header{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Body != "not json" {
		t.Fatalf("expected raw text fallback, got %v", resp.Body)
	}
}

func TestDo_UpstreamErrorStatusIsNotATransportFault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"rate limited"}`))
	}))
	defer srv.Close()

	binding := ProviderBinding{Name: "openai", UpstreamBaseURL: srv.URL, Credential: "k", AuthStyle: AuthStyleBearer}
	c := New(nil)
	resp, err := c.Do(context.Background(), binding, http.MethodPost, "/v1/chat/completions", http.Header{}, []byte(`{}`))
	if err != nil {
		t.Fatalf("an upstream 4xx must not be a transport fault: %v", err)
	}
	if resp.Status != http.StatusTooManyRequests {
		t.Fatalf("expected 429 forwarded unchanged, got %d", resp.Status)
	}
}

func TestDo_TransportFaultOnUnreachableHost(t *testing.T) {
	binding := ProviderBinding{Name: "openai", UpstreamBaseURL: "http://127.0.0.1:1", Credential: "k", AuthStyle: AuthStyleBearer}
	c := New(nil)
	if _, err := c.Do(context.Background(), binding, http.MethodGet, "/v1/models", http.Header{}, nil); err == nil {
		t.Fatal("expected a transport fault for an unreachable host")
	}
}
