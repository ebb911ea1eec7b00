// Package respcache implements the response cache stage of the proxy
// pipeline (spec.md §4.6): a fingerprint-keyed store of prior upstream
// responses, consulted before dispatch and populated after a successful
// dispatch, backed by either an in-process memory cache or Redis.
package respcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync/atomic"
	"time"
)

// forbiddenHeaders are stripped from a response before it is cached or
// replayed, so a cached response never replays stale framing information
// (spec.md §4.6).
var forbiddenHeaders = map[string]struct{}{
	"transfer-encoding": {},
	"content-length":    {},
	"connection":        {},
	"keep-alive":        {},
	"content-encoding":  {},
}

// FilterHeaders returns a copy of headers with every forbidden key removed.
// Keys are matched case-insensitively; the returned map preserves the
// original casing of the keys it keeps.
func FilterHeaders(headers map[string][]string) map[string][]string {
	out := make(map[string][]string, len(headers))
	for k, v := range headers {
		if _, blocked := forbiddenHeaders[lower(k)]; blocked {
			continue
		}
		out[k] = v
	}
	return out
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// Entry is a cached upstream response.
type Entry struct {
	StatusCode int
	Headers    map[string][]string
	Body       []byte
}

// Stats are the cache's cumulative counters (spec.md §4.6 stats()).
type Stats struct {
	Hits           int64
	Misses         int64
	Size           int64
	TotalRequests  int64
	HitRate        float64
}

// Cache is the response cache's storage contract. Implementations must be
// safe for concurrent use.
type Cache interface {
	// Get returns the entry for fp if present and unexpired, incrementing
	// hits on success and misses otherwise.
	Get(ctx context.Context, fp string) (Entry, bool)
	// Put stores entry under fp for the given ttl, incrementing size.
	Put(ctx context.Context, fp string, entry Entry, ttl time.Duration) error
	// Stats returns a snapshot of the cache's cumulative counters.
	Stats() Stats
}

// Fingerprint computes the cache key for a (provider, path, body) triple: a
// stable, fixed-length, 128-bit-or-stronger digest (spec.md §4.6). Unlike a
// truncated-base64 shortcut, SHA-256 keeps the full 256-bit digest, above
// the spec's "at least" 128 bits.
func Fingerprint(provider, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(provider))
	h.Write([]byte{0})
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// counters is embedded by both Cache implementations to share the
// hits/misses/size bookkeeping and stats() formula.
type counters struct {
	hits   int64
	misses int64
	size   int64
}

func (c *counters) recordHit()  { atomic.AddInt64(&c.hits, 1) }
func (c *counters) recordMiss() { atomic.AddInt64(&c.misses, 1) }
func (c *counters) recordPut()  { atomic.AddInt64(&c.size, 1) }

func (c *counters) snapshot() Stats {
	hits := atomic.LoadInt64(&c.hits)
	misses := atomic.LoadInt64(&c.misses)
	total := hits + misses
	var rate float64
	if total > 0 {
		rate = float64(hits) / float64(total)
	}
	return Stats{
		Hits:          hits,
		Misses:        misses,
		Size:          atomic.LoadInt64(&c.size),
		TotalRequests: total,
		HitRate:       rate,
	}
}
