package audit

import (
	"fmt"
	"time"
)

// timestampLayout is RFC3339 with a fixed nine-digit fraction. Timestamps
// are written in UTC, so lexicographic string ordering matches chronological
// ordering — the SQLite index sorts on this column as plain TEXT.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

func parseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("audit: parse timestamp %q: %w", s, err)
	}
	return t, nil
}
