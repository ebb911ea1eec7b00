package audit

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/glebarez/go-sqlite"
)

// SQLiteStore is a durable Store backed by a pure-Go SQLite driver — no
// cgo, so the binary stays statically linkable. WAL mode lets the
// background writer and concurrent HTTP query handlers share the database
// without blocking each other.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the audit database at path and ensures
// its schema exists, matching the persisted-state schema of spec.md §9:
// one row per AuditRecord, indexed on timestamp, provider, and action.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("audit: open sqlite %s: %w", path, err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS audit_records (
			id                 TEXT PRIMARY KEY,
			timestamp          TEXT NOT NULL,
			provider           TEXT NOT NULL DEFAULT '',
			endpoint           TEXT NOT NULL DEFAULT '',
			action             TEXT NOT NULL,
			anonymized_payload TEXT NOT NULL DEFAULT '',
			response_time_ms   INTEGER,
			error_message      TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_records(timestamp);
		CREATE INDEX IF NOT EXISTS idx_audit_provider ON audit_records(provider);
		CREATE INDEX IF NOT EXISTS idx_audit_action ON audit_records(action);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Insert(ctx context.Context, r Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_records (id, timestamp, provider, endpoint, action, anonymized_payload, response_time_ms, error_message)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Timestamp.UTC().Format(timestampLayout), r.Provider, r.EndpointPath, string(r.Action),
		r.AnonymisedPayload, nullableInt(r.ResponseTimeMs), nullableString(r.ErrorMessage),
	)
	if err != nil {
		return fmt.Errorf("audit: insert record %s: %w", r.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	return s.query(ctx, "SELECT id, timestamp, provider, endpoint, action, anonymized_payload, response_time_ms, error_message FROM audit_records ORDER BY timestamp DESC LIMIT ?", limit)
}

func (s *SQLiteStore) ByAction(ctx context.Context, action Action, limit int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, timestamp, provider, endpoint, action, anonymized_payload, response_time_ms, error_message FROM audit_records WHERE action = ? ORDER BY timestamp DESC LIMIT ?",
		string(action), limit)
	if err != nil {
		return nil, fmt.Errorf("audit: query by_action: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (s *SQLiteStore) query(ctx context.Context, q string, limit int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{ByAction: map[Action]int64{}, ByProvider: map[string]int64{}}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_records").Scan(&stats.Total); err != nil {
		return Stats{}, fmt.Errorf("audit: stats total: %w", err)
	}

	actionRows, err := s.db.QueryContext(ctx, "SELECT action, COUNT(*) FROM audit_records GROUP BY action")
	if err != nil {
		return Stats{}, fmt.Errorf("audit: stats by_action: %w", err)
	}
	defer actionRows.Close()
	for actionRows.Next() {
		var action string
		var count int64
		if err := actionRows.Scan(&action, &count); err != nil {
			return Stats{}, fmt.Errorf("audit: scan by_action row: %w", err)
		}
		stats.ByAction[Action(action)] = count
	}

	providerRows, err := s.db.QueryContext(ctx, "SELECT provider, COUNT(*) FROM audit_records GROUP BY provider")
	if err != nil {
		return Stats{}, fmt.Errorf("audit: stats by_provider: %w", err)
	}
	defer providerRows.Close()
	for providerRows.Next() {
		var provider string
		var count int64
		if err := providerRows.Scan(&provider, &count); err != nil {
			return Stats{}, fmt.Errorf("audit: scan by_provider row: %w", err)
		}
		stats.ByProvider[provider] = count
	}

	return stats, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var out []Record
	for rows.Next() {
		var r Record
		var ts, action string
		var respMs sql.NullInt64
		var errMsg sql.NullString
		if err := rows.Scan(&r.ID, &ts, &r.Provider, &r.EndpointPath, &action, &r.AnonymisedPayload, &respMs, &errMsg); err != nil {
			return nil, fmt.Errorf("audit: scan record: %w", err)
		}
		parsed, err := parseTimestamp(ts)
		if err != nil {
			return nil, err
		}
		r.Timestamp = parsed
		r.Action = Action(action)
		if respMs.Valid {
			v := int(respMs.Int64)
			r.ResponseTimeMs = &v
		}
		if errMsg.Valid {
			v := errMsg.String
			r.ErrorMessage = &v
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}
