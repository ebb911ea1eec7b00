package eventbus

import (
	"context"
	"net/http"
	"sync"
	"time"
)

const snapshotInterval = 5 * time.Second

// activitySeriesLen is the ring buffer length for recent-activity samples
// (spec.md §4.9: "a ring of the last 20 samples").
const activitySeriesLen = 20

// StatsSource supplies the figures a monitoring-update snapshot samples
// from: AuditStore.stats(), ResponseCache.stats(), RateLimiter.stats(),
// the clock, and process metrics (spec.md §4.9).
type StatsSource interface {
	Snapshot(ctx context.Context) (SnapshotEvent, error)
}

// LogSource answers the get-logs client command.
type LogSource interface {
	RecentLogs(ctx context.Context, limit int) (any, error)
	LogsByAction(ctx context.Context, action string, limit int) (any, error)
}

// EventBus is component C10. One EventBus is shared by the whole process;
// Publish* methods are safe to call from any request task.
type EventBus struct {
	hub    *hub
	source StatsSource
	logs   LogSource

	mu          sync.Mutex
	lastTotal   int64
	activity    []ActivitySample
}

// New builds an EventBus. source and logs may be nil in tests that only
// exercise request-event/alert publication.
func New(source StatsSource, logs LogSource) *EventBus {
	return &EventBus{hub: newHub(), source: source, logs: logs}
}

// Run starts the hub goroutine and the 5-second snapshot ticker. Blocks
// until ctx is cancelled.
func (b *EventBus) Run(ctx context.Context) {
	go b.hub.run(ctx)

	ticker := time.NewTicker(snapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.publishSnapshot(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// ServeHTTP upgrades the request to a websocket and registers the client
// with the hub, per the inbound event channel interface (spec.md §6).
func (b *EventBus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &client{conn: conn, send: make(chan []byte, 64)}
	b.hub.registerCh <- c

	go c.writePump()
	go c.readPump(b.hub, b)
}

// PublishRequestEvent pushes a request-event once per completed request,
// after the Pipeline emits the AuditRecord (spec.md §4.9).
func (b *EventBus) PublishRequestEvent(evt RequestEvent) {
	b.hub.broadcast(marshalEnvelope(KindRequestEvent, evt))
}

// publishSnapshot samples the configured StatsSource, updates the
// recent-activity ring, evaluates alert heuristics, and broadcasts both
// the snapshot and any tripped alerts.
func (b *EventBus) publishSnapshot(ctx context.Context) {
	if b.source == nil {
		return
	}
	snap, err := b.source.Snapshot(ctx)
	if err != nil {
		return
	}

	snap.RecentActivity = b.recordActivity(snap.Totals, snap.At)
	b.hub.broadcast(marshalEnvelope(KindMonitoringUpdate, snap))

	for _, alert := range evaluateAlerts(snap) {
		b.hub.broadcast(marshalEnvelope(KindAlert, alert))
	}
}

// recordActivity appends a non-negative delta sample to the ring and
// returns a copy of its current contents (spec.md §4.9: a negative delta
// from a counter reset is floored to 0).
func (b *EventBus) recordActivity(total int64, at time.Time) []ActivitySample {
	b.mu.Lock()
	defer b.mu.Unlock()

	delta := total - b.lastTotal
	if delta < 0 {
		delta = 0
	}
	b.lastTotal = total

	b.activity = append(b.activity, ActivitySample{At: at, Delta: delta})
	if len(b.activity) > activitySeriesLen {
		b.activity = b.activity[len(b.activity)-activitySeriesLen:]
	}

	out := make([]ActivitySample, len(b.activity))
	copy(out, b.activity)
	return out
}

// evaluateAlerts implements the two alert heuristics of spec.md §4.9.
func evaluateAlerts(snap SnapshotEvent) []Alert {
	var alerts []Alert

	if snap.SystemMetrics.HeapTotalBytes > 0 {
		ratio := float64(snap.SystemMetrics.HeapUsedBytes) / float64(snap.SystemMetrics.HeapTotalBytes)
		if ratio > 0.8 {
			alerts = append(alerts, Alert{Severity: SeverityWarning, Message: "heap usage above 80%", At: snap.At})
		}
	}

	if snap.CacheStats.Hits+snap.CacheStats.Misses > 0 && snap.CacheStats.HitRate < 0.3 {
		alerts = append(alerts, Alert{Severity: SeverityInfo, Message: "cache hit rate below 30%", At: snap.At})
	}

	return alerts
}

// handleCommand answers one inbound client command and returns the wire
// message to send back to that client, or nil for an unrecognised command.
func (b *EventBus) handleCommand(ctx context.Context, cmd clientCommand) []byte {
	switch cmd.Command {
	case commandRequestUpdate:
		if b.source == nil {
			return nil
		}
		snap, err := b.source.Snapshot(ctx)
		if err != nil {
			return nil
		}
		b.mu.Lock()
		activity := make([]ActivitySample, len(b.activity))
		copy(activity, b.activity)
		b.mu.Unlock()
		snap.RecentActivity = activity
		return marshalEnvelope(KindMonitoringUpdate, snap)

	case commandGetLogs:
		if b.logs == nil {
			return nil
		}
		limit := cmd.Limit
		if limit <= 0 {
			limit = 50
		}
		var (
			result any
			err    error
		)
		if cmd.Action != "" {
			result, err = b.logs.LogsByAction(ctx, cmd.Action, limit)
		} else {
			result, err = b.logs.RecentLogs(ctx, limit)
		}
		if err != nil {
			return nil
		}
		return marshalEnvelope(Kind("logs"), result)

	case commandGetStats:
		if b.source == nil {
			return nil
		}
		snap, err := b.source.Snapshot(ctx)
		if err != nil {
			return nil
		}
		return marshalEnvelope(Kind("stats"), snap)

	default:
		return nil
	}
}
