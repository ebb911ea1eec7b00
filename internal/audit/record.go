// Package audit implements the AuditStore/AuditLogger components (spec.md
// §4.8): a durable, queryable log of one record per inbound request, written
// asynchronously by a background worker so the request path never waits on
// persistence.
package audit

import "time"

// Action is the terminal outcome recorded for a request (spec.md §3).
type Action string

const (
	ActionProxied             Action = "PROXIED"
	ActionBlockedTime         Action = "BLOCKED_TIME"
	ActionBlockedFinancial    Action = "BLOCKED_FINANCIAL"
	ActionBlockedRateLimit    Action = "BLOCKED_RATE_LIMIT"
	ActionBlockedSensitive    Action = "BLOCKED_SENSITIVE_DATA"
	ActionServedFromCache     Action = "SERVED_FROM_CACHE"
)

// Record is a single AuditRecord (spec.md §3). Exactly one is produced per
// inbound request (PI1).
type Record struct {
	ID                string
	Timestamp         time.Time
	Provider          string
	EndpointPath      string
	Action            Action
	AnonymisedPayload string
	ResponseTimeMs    *int
	ErrorMessage      *string
}

// Stats summarises the audit log (spec.md §4.8 stats()).
type Stats struct {
	Total          int64
	ByAction       map[Action]int64
	ByProvider     map[string]int64
}
