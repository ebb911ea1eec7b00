package respcache

import (
	"context"
	"testing"
	"time"
)

func TestFingerprint_StableAndDistinguishing(t *testing.T) {
	a := Fingerprint("openai", "/v1/chat/completions", []byte(`{"model":"gpt-4"}`))
	b := Fingerprint("openai", "/v1/chat/completions", []byte(`{"model":"gpt-4"}`))
	if a != b {
		t.Fatal("fingerprint must be stable for identical inputs")
	}
	if len(a) != 64 {
		t.Fatalf("expected 64 hex chars (256 bits), got %d", len(a))
	}

	c := Fingerprint("anthropic", "/v1/chat/completions", []byte(`{"model":"gpt-4"}`))
	if a == c {
		t.Fatal("different providers must not collide")
	}
}

func TestFilterHeaders_DropsForbidden(t *testing.T) {
	in := map[string][]string{
		"Content-Type":      {"application/json"},
		"Transfer-Encoding": {"chunked"},
		"Content-Length":    {"123"},
		"Connection":        {"keep-alive"},
		"Keep-Alive":        {"timeout=5"},
		"Content-Encoding":  {"gzip"},
	}
	out := FilterHeaders(in)
	if len(out) != 1 {
		t.Fatalf("expected only Content-Type to survive, got %v", out)
	}
	if _, ok := out["Content-Type"]; !ok {
		t.Fatal("expected Content-Type to survive")
	}
}

func TestMemoryCache_GetPutStats(t *testing.T) {
	c := NewMemoryCache(context.Background())
	defer c.Close()

	if _, ok := c.Get(context.Background(), "missing"); ok {
		t.Fatal("expected miss")
	}

	entry := Entry{StatusCode: 200, Body: []byte("hello")}
	if err := c.Put(context.Background(), "fp1", entry, time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, ok := c.Get(context.Background(), "fp1")
	if !ok {
		t.Fatal("expected hit")
	}
	if string(got.Body) != "hello" {
		t.Fatalf("expected body 'hello', got %q", got.Body)
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 || stats.Size != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.TotalRequests != 2 {
		t.Fatalf("expected total_requests=2, got %d", stats.TotalRequests)
	}
	if stats.HitRate != 0.5 {
		t.Fatalf("expected hit_rate=0.5, got %f", stats.HitRate)
	}
}

func TestMemoryCache_ExpiredEntryIsAMiss(t *testing.T) {
	c := NewMemoryCache(context.Background())
	defer c.Close()

	if err := c.Put(context.Background(), "fp1", Entry{StatusCode: 200}, time.Nanosecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	time.Sleep(time.Millisecond)

	if _, ok := c.Get(context.Background(), "fp1"); ok {
		t.Fatal("expected expired entry to be treated as a miss")
	}
}

func TestStats_ZeroDenominatorHitRate(t *testing.T) {
	c := NewMemoryCache(context.Background())
	defer c.Close()

	stats := c.Stats()
	if stats.HitRate != 0 {
		t.Fatalf("expected hit_rate=0 with no requests, got %f", stats.HitRate)
	}
}

func TestExclusionList_NilIsPermissive(t *testing.T) {
	var el *ExclusionList
	if el.Matches("/v1/chat/completions") {
		t.Fatal("nil exclusion list must exclude nothing")
	}
}

func TestExclusionList_ExactAndPattern(t *testing.T) {
	el, err := NewExclusionList([]string{"/v1/audio/speech"}, []string{`^/v1/.*stream.*$`})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !el.Matches("/v1/audio/speech") {
		t.Fatal("expected exact match to exclude")
	}
	if !el.Matches("/v1/chat/stream") {
		t.Fatal("expected pattern match to exclude")
	}
	if el.Matches("/v1/chat/completions") {
		t.Fatal("expected non-matching path to not be excluded")
	}
}
