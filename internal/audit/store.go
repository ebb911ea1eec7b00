package audit

import "context"

// Store persists and queries audit records. Implementations must be safe
// for concurrent use: writes come from the Logger's single worker, reads
// come from HTTP query handlers (spec.md §5).
type Store interface {
	// Insert persists record. Called only from the Logger's background
	// worker.
	Insert(ctx context.Context, record Record) error
	// Recent returns the most recent limit records, newest first.
	Recent(ctx context.Context, limit int) ([]Record, error)
	// ByAction returns the most recent limit records with the given
	// action, newest first.
	ByAction(ctx context.Context, action Action, limit int) ([]Record, error)
	// Stats returns cumulative counts over the whole log.
	Stats(ctx context.Context) (Stats, error)
	// Close releases any resources the store holds.
	Close() error
}
