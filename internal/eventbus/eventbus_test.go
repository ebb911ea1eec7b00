package eventbus

import (
	"context"
	"testing"
	"time"
)

type stubSource struct {
	snap SnapshotEvent
	err  error
}

func (s stubSource) Snapshot(context.Context) (SnapshotEvent, error) { return s.snap, s.err }

func TestRecordActivity_FloorsNegativeDelta(t *testing.T) {
	b := New(nil, nil)

	samples := b.recordActivity(100, time.Unix(0, 0))
	if len(samples) != 1 || samples[0].Delta != 100 {
		t.Fatalf("expected first delta 100, got %v", samples)
	}

	// Counter reset: total drops below the previous sample.
	samples = b.recordActivity(10, time.Unix(5, 0))
	if samples[len(samples)-1].Delta != 0 {
		t.Fatalf("expected negative delta floored to 0, got %d", samples[len(samples)-1].Delta)
	}
}

func TestRecordActivity_RingBufferCapsAt20(t *testing.T) {
	b := New(nil, nil)
	var last []ActivitySample
	for i := 0; i < 25; i++ {
		last = b.recordActivity(int64(i), time.Unix(int64(i), 0))
	}
	if len(last) != activitySeriesLen {
		t.Fatalf("expected ring buffer capped at %d, got %d", activitySeriesLen, len(last))
	}
}

func TestEvaluateAlerts_HighHeapUsageWarns(t *testing.T) {
	snap := SnapshotEvent{
		At:            time.Now(),
		SystemMetrics: SystemMetrics{HeapUsedBytes: 900, HeapTotalBytes: 1000},
	}
	alerts := evaluateAlerts(snap)
	if len(alerts) != 1 || alerts[0].Severity != SeverityWarning {
		t.Fatalf("expected one warning alert, got %v", alerts)
	}
}

func TestEvaluateAlerts_LowHitRateInfo(t *testing.T) {
	snap := SnapshotEvent{
		At:         time.Now(),
		CacheStats: CacheStats{Hits: 1, Misses: 9, HitRate: 0.1},
	}
	alerts := evaluateAlerts(snap)
	if len(alerts) != 1 || alerts[0].Severity != SeverityInfo {
		t.Fatalf("expected one info alert, got %v", alerts)
	}
}

func TestEvaluateAlerts_NoSignalNoAlerts(t *testing.T) {
	snap := SnapshotEvent{At: time.Now()}
	if alerts := evaluateAlerts(snap); len(alerts) != 0 {
		t.Fatalf("expected no alerts with zero denominators, got %v", alerts)
	}
}

func TestEvaluateAlerts_HealthyMetricsNoAlerts(t *testing.T) {
	snap := SnapshotEvent{
		At:            time.Now(),
		SystemMetrics: SystemMetrics{HeapUsedBytes: 100, HeapTotalBytes: 1000},
		CacheStats:    CacheStats{Hits: 8, Misses: 2, HitRate: 0.8},
	}
	if alerts := evaluateAlerts(snap); len(alerts) != 0 {
		t.Fatalf("expected no alerts for healthy metrics, got %v", alerts)
	}
}

func TestHandleCommand_GetStats(t *testing.T) {
	b := New(stubSource{snap: SnapshotEvent{Totals: 42}}, nil)
	reply := b.handleCommand(context.Background(), clientCommand{Command: commandGetStats})
	if reply == nil {
		t.Fatal("expected a reply for get-stats")
	}
}

func TestHandleCommand_UnknownCommandReturnsNil(t *testing.T) {
	b := New(nil, nil)
	if reply := b.handleCommand(context.Background(), clientCommand{Command: "bogus"}); reply != nil {
		t.Fatalf("expected nil reply for unknown command, got %s", reply)
	}
}
