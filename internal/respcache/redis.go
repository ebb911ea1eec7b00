package respcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultQueryTimeout = 500 * time.Millisecond

// RedisCache is a Redis-backed response cache shared across proxy
// replicas. It degrades gracefully: any Redis failure is logged and
// treated as a miss on Get, and silently ignored on Put, so a struggling
// or unreachable Redis never blocks the request path (spec.md §7, "cache
// backend unreachable: treated as a cache miss").
type RedisCache struct {
	counters

	client       *redis.Client
	queryTimeout time.Duration
}

// NewRedisCacheFromClient wraps an existing Redis client. The caller owns
// the client's lifecycle.
func NewRedisCacheFromClient(cli *redis.Client) *RedisCache {
	return &RedisCache{client: cli, queryTimeout: defaultQueryTimeout}
}

// NewRedisCacheFromURL parses redisURL, builds a client, and verifies
// connectivity with a PING before returning.
func NewRedisCacheFromURL(ctx context.Context, redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("respcache: parse redis url: %w", err)
	}
	cli := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := cli.Ping(pingCtx).Err(); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("respcache: ping redis: %w", err)
	}

	return &RedisCache{client: cli, queryTimeout: defaultQueryTimeout}, nil
}

type wireEntry struct {
	StatusCode int                 `json:"status_code"`
	Headers    map[string][]string `json:"headers"`
	Body       []byte              `json:"body"`
}

// Get retrieves the entry for fp. Any Redis error (including a genuine
// miss) is treated identically: (Entry{}, false).
func (c *RedisCache) Get(ctx context.Context, fp string) (Entry, bool) {
	ctx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()

	raw, err := c.client.Get(ctx, fp).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.WarnContext(ctx, "respcache_get_error", slog.String("fingerprint", fp), slog.String("error", err.Error()))
		}
		c.recordMiss()
		return Entry{}, false
	}

	var w wireEntry
	if err := json.Unmarshal(raw, &w); err != nil {
		slog.WarnContext(ctx, "respcache_decode_error", slog.String("fingerprint", fp), slog.String("error", err.Error()))
		c.recordMiss()
		return Entry{}, false
	}

	c.recordHit()
	return Entry{StatusCode: w.StatusCode, Headers: w.Headers, Body: w.Body}, true
}

// Put stores entry under fp for ttl. Redis errors are logged but never
// returned — graceful degradation keeps the proxy serving even when the
// cache backend is unavailable.
func (c *RedisCache) Put(ctx context.Context, fp string, entry Entry, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()

	raw, err := json.Marshal(wireEntry{StatusCode: entry.StatusCode, Headers: entry.Headers, Body: entry.Body})
	if err != nil {
		return fmt.Errorf("respcache: encode entry: %w", err)
	}

	if err := c.client.Set(ctx, fp, raw, ttl).Err(); err != nil {
		slog.WarnContext(ctx, "respcache_put_error", slog.String("fingerprint", fp), slog.String("error", err.Error()))
		return nil
	}
	c.recordPut()
	return nil
}

// Stats returns a snapshot of the cache's cumulative counters. These are
// process-local: in a multi-replica deployment each replica reports only
// the hits/misses it personally served.
func (c *RedisCache) Stats() Stats { return c.snapshot() }

// Close releases the underlying Redis connection pool.
func (c *RedisCache) Close() error { return c.client.Close() }
