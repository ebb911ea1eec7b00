// Package eventbus implements the EventBus component (spec.md §4.9): it
// pushes monitoring snapshots, per-request events, and heuristic alerts to
// subscribed clients over a websocket, and accepts a small set of client
// commands (request-update, get-logs, get-stats).
package eventbus

import "time"

// Kind identifies the shape of a pushed message.
type Kind string

const (
	KindMonitoringUpdate Kind = "monitoring-update"
	KindRequestEvent     Kind = "request-event"
	KindAlert            Kind = "alert"
)

// Severity is the alert level (spec.md §4.9).
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// RequestEvent is pushed once per completed request, after the Pipeline
// emits the AuditRecord (spec.md §4.9).
type RequestEvent struct {
	Provider string    `json:"provider"`
	Action   string    `json:"action"`
	Path     string    `json:"path"`
	At       time.Time `json:"at"`
}

// CacheStats mirrors respcache.Stats without importing that package, to
// keep the event wire shape decoupled from internal storage types.
type CacheStats struct {
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	Size          int64   `json:"size"`
	TotalRequests int64   `json:"total_requests"`
	HitRate       float64 `json:"hit_rate"`
}

// RateLimitStats summarises rate limiter activity for a snapshot.
type RateLimitStats struct {
	ActiveIdentities int `json:"active_identities"`
}

// SystemMetrics carries coarse process health figures used by the alert
// heuristics (spec.md §4.9).
type SystemMetrics struct {
	HeapUsedBytes  uint64 `json:"heap_used_bytes"`
	HeapTotalBytes uint64 `json:"heap_total_bytes"`
}

// ActivitySample is one point of the recent-activity series: the
// non-negative delta in total requests between two adjacent 5-second
// ticks (spec.md §4.9).
type ActivitySample struct {
	At    time.Time `json:"at"`
	Delta int64     `json:"delta"`
}

// SnapshotEvent is pushed to all subscribers every 5 seconds and on
// explicit request (spec.md §4.9).
type SnapshotEvent struct {
	At                time.Time        `json:"at"`
	Totals            int64            `json:"totals"`
	PerActionCounts   map[string]int64 `json:"per_action_counts"`
	PerProviderCounts map[string]int64 `json:"per_provider_counts"`
	CacheStats        CacheStats       `json:"cache_stats"`
	RateLimitStats    RateLimitStats   `json:"rate_limit_stats"`
	SystemMetrics     SystemMetrics    `json:"system_metrics"`
	RecentActivity    []ActivitySample `json:"recent_activity_series"`
}

// Alert is pushed when a heuristic trips (spec.md §4.9).
type Alert struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	At       time.Time `json:"at"`
}

// envelope is the wire shape every pushed message shares: a kind tag plus
// the payload for that kind.
type envelope struct {
	Kind    Kind `json:"kind"`
	Payload any  `json:"payload"`
}

// clientCommand is the wire shape of an inbound client message.
type clientCommand struct {
	Command string `json:"command"`
	Limit   int    `json:"limit,omitempty"`
	Action  string `json:"action,omitempty"`
}

const (
	commandRequestUpdate = "request-update"
	commandGetLogs       = "get-logs"
	commandGetStats      = "get-stats"
)
