package respcache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

// newTestRedisCache starts a miniredis server and returns a RedisCache
// backed by it plus the miniredis handle for time-travel assertions.
func newTestRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	c, err := NewRedisCacheFromURL(context.Background(), "redis://"+mr.Addr())
	if err != nil {
		t.Fatalf("NewRedisCacheFromURL: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	return c, mr
}

func TestRedisCache_GetMiss(t *testing.T) {
	c, _ := newTestRedisCache(t)

	_, ok := c.Get(context.Background(), "nonexistent-fingerprint")
	if ok {
		t.Fatal("expected cache miss, got hit")
	}
}

func TestRedisCache_PutAndGetHit(t *testing.T) {
	c, _ := newTestRedisCache(t)

	fp := Fingerprint("openai", "/v1/chat/completions", []byte(`{"model":"gpt-4"}`))
	want := Entry{
		StatusCode: 200,
		Headers:    map[string][]string{"Content-Type": {"application/json"}},
		Body:       []byte(`{"answer":42}`),
	}

	if err := c.Put(context.Background(), fp, want, time.Hour); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok := c.Get(context.Background(), fp)
	if !ok {
		t.Fatal("expected cache hit, got miss")
	}
	if got.StatusCode != want.StatusCode || string(got.Body) != string(want.Body) {
		t.Fatalf("Get returned %+v, want %+v", got, want)
	}
}

func TestRedisCache_TTLExpires(t *testing.T) {
	c, mr := newTestRedisCache(t)

	fp := Fingerprint("anthropic", "/v1/messages", []byte(`{}`))
	ttl := 10 * time.Second

	if err := c.Put(context.Background(), fp, Entry{StatusCode: 200, Body: []byte("payload")}, ttl); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, ok := c.Get(context.Background(), fp); !ok {
		t.Fatal("entry should exist before TTL expires")
	}

	mr.FastForward(ttl + time.Second)

	if _, ok := c.Get(context.Background(), fp); ok {
		t.Fatal("entry should have expired after TTL")
	}
}

func TestRedisCache_StatsTracksHitsAndMisses(t *testing.T) {
	c, _ := newTestRedisCache(t)
	fp := Fingerprint("openai", "/v1/models", nil)

	c.Get(context.Background(), fp) // miss
	_ = c.Put(context.Background(), fp, Entry{StatusCode: 200}, time.Minute)
	c.Get(context.Background(), fp) // hit

	stats := c.Stats()
	if stats.Misses != 1 || stats.Hits != 1 {
		t.Fatalf("expected 1 hit and 1 miss, got %+v", stats)
	}
}

// TestRedisCache_GracefulDegradation verifies Get/Put degrade to a miss /
// no-op respectively when Redis is unreachable, instead of failing the
// request (spec.md §7, "cache backend unreachable: treated as a cache
// miss").
func TestRedisCache_GracefulDegradation(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := NewRedisCacheFromURL(context.Background(), "redis://"+mr.Addr())
	if err != nil {
		t.Fatalf("NewRedisCacheFromURL: %v", err)
	}
	defer func() { _ = c.Close() }()

	mr.Close()

	if _, ok := c.Get(context.Background(), "any-fingerprint"); ok {
		t.Fatal("expected miss when redis is down, got hit")
	}
	if err := c.Put(context.Background(), "any-fingerprint", Entry{StatusCode: 200}, time.Hour); err != nil {
		t.Fatalf("Put must return nil on redis error for graceful degradation, got: %v", err)
	}
}

func TestRedisCache_InvalidURL(t *testing.T) {
	if _, err := NewRedisCacheFromURL(context.Background(), "not-a-valid-url"); err == nil {
		t.Fatal("expected error for invalid redis url")
	}
}

// TestRedisCache_ImplementsInterface is a compile-time assertion that
// RedisCache satisfies Cache.
func TestRedisCache_ImplementsInterface(t *testing.T) {
	var _ Cache = (*RedisCache)(nil)
}
