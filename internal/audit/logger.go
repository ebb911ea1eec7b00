package audit

import (
	"context"
	"log/slog"
	"sync"

	"github.com/netn10/security-proxy/internal/metrics"
)

// channelBuffer bounds the in-flight queue between request tasks and the
// background writer. A logger that falls this far behind drops records
// (logged and counted) rather than blocking the request path — acceptable
// per spec.md §4.8's best-effort durability contract.
const channelBuffer = 10_000

// Logger implements AuditLogger (spec.md §4.8): log() enqueues and returns
// immediately; a single background worker drains the queue into the
// configured Store. A crash between enqueue and write may lose at most the
// in-flight buffer — audit logging is never cancelled with the request.
type Logger struct {
	store   Store
	log     *slog.Logger
	metrics *metrics.Registry

	ch        chan Record
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	dropped int64
	mu      sync.Mutex
}

// New builds a Logger writing to store and starts its background worker.
// ctx is passed to the store writes; the worker runs until Close, which
// drains the final in-flight buffer.
func New(ctx context.Context, store Store, slogger *slog.Logger) *Logger {
	l := &Logger{
		store: store,
		log:   slogger,
		ch:    make(chan Record, channelBuffer),
		done:  make(chan struct{}),
	}
	l.wg.Add(1)
	go l.run(ctx)
	return l
}

// SetMetrics attaches the Prometheus registry used to record dropped
// records. It is set after construction because the registry (internal/app
// initCollaborators) is built after the audit store/logger (initAudit).
func (l *Logger) SetMetrics(m *metrics.Registry) {
	l.metrics = m
}

// Log enqueues record for asynchronous persistence. It never blocks: if the
// queue is full the record is dropped and counted, matching the best-effort
// durability contract in spec.md §4.8.
func (l *Logger) Log(record Record) {
	select {
	case l.ch <- record:
	default:
		l.mu.Lock()
		l.dropped++
		l.mu.Unlock()
		if l.log != nil {
			l.log.Warn("audit_log_dropped", slog.String("id", record.ID))
		}
		if l.metrics != nil {
			l.metrics.RecordAuditDropped()
		}
	}
}

// DroppedCount returns how many records have been dropped because the
// queue was full.
func (l *Logger) DroppedCount() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}

// Drain synchronously flushes every record currently queued. Tests use
// this to make logger behaviour deterministic (spec.md §8: "tests MAY
// require synchronous draining").
func (l *Logger) Drain(ctx context.Context) {
	for {
		select {
		case record := <-l.ch:
			l.write(ctx, record)
		default:
			return
		}
	}
}

// Close stops the background worker after draining whatever remains queued.
func (l *Logger) Close() error {
	l.closeOnce.Do(func() { close(l.done) })
	l.wg.Wait()
	return nil
}

func (l *Logger) run(ctx context.Context) {
	defer l.wg.Done()
	for {
		select {
		case record := <-l.ch:
			l.write(ctx, record)
		case <-l.done:
			l.Drain(ctx)
			return
		}
	}
}

func (l *Logger) write(ctx context.Context, record Record) {
	if err := l.store.Insert(ctx, record); err != nil && l.log != nil {
		l.log.ErrorContext(ctx, "audit_store_insert_failed",
			slog.String("id", record.ID),
			slog.String("error", err.Error()),
		)
	}
}
