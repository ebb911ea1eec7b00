package app

import (
	"context"
	"runtime"
	"time"

	"github.com/netn10/security-proxy/internal/audit"
	"github.com/netn10/security-proxy/internal/eventbus"
	"github.com/netn10/security-proxy/internal/metrics"
	"github.com/netn10/security-proxy/internal/ratelimit"
	"github.com/netn10/security-proxy/internal/respcache"
)

// monitorSource adapts the audit store, response cache, and rate limiter
// into the EventBus's StatsSource/LogSource contracts (spec.md §4.9).
type monitorSource struct {
	auditStore audit.Store
	cache      respcache.Cache
	limiter    *ratelimit.Limiter
	metrics    *metrics.Registry
}

func (m *monitorSource) Snapshot(ctx context.Context) (eventbus.SnapshotEvent, error) {
	stats, err := m.auditStore.Stats(ctx)
	if err != nil {
		return eventbus.SnapshotEvent{}, err
	}

	perAction := make(map[string]int64, len(stats.ByAction))
	for action, n := range stats.ByAction {
		perAction[string(action)] = n
	}

	var cacheStats respcache.Stats
	if m.cache != nil {
		cacheStats = m.cache.Stats()
	}

	activeIdentities := 0
	if m.limiter != nil {
		activeIdentities = len(m.limiter.Identities())
	}
	if m.metrics != nil {
		m.metrics.SetActiveIdentities(activeIdentities)
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return eventbus.SnapshotEvent{
		At:                time.Now(),
		Totals:            stats.Total,
		PerActionCounts:   perAction,
		PerProviderCounts: stats.ByProvider,
		CacheStats: eventbus.CacheStats{
			Hits:          cacheStats.Hits,
			Misses:        cacheStats.Misses,
			Size:          cacheStats.Size,
			TotalRequests: cacheStats.TotalRequests,
			HitRate:       cacheStats.HitRate,
		},
		RateLimitStats: eventbus.RateLimitStats{ActiveIdentities: activeIdentities},
		SystemMetrics: eventbus.SystemMetrics{
			HeapUsedBytes:  mem.HeapAlloc,
			HeapTotalBytes: mem.HeapSys,
		},
	}, nil
}

func (m *monitorSource) RecentLogs(ctx context.Context, limit int) (any, error) {
	return m.auditStore.Recent(ctx, limit)
}

func (m *monitorSource) LogsByAction(ctx context.Context, action string, limit int) (any, error) {
	return m.auditStore.ByAction(ctx, audit.Action(action), limit)
}
