// Package pipeline orchestrates the per-request security stages (spec.md
// §4.2): rate limiting, time-gating, sanitisation, policy classification,
// cache lookup, upstream dispatch, cache insertion, and logging/broadcast.
package pipeline

import (
	"net/http"
	"time"
)

// Request is one inbound call, already routed to a provider namespace and
// stripped of its provider prefix (spec.md §3, §4.1).
type Request struct {
	Provider     string
	Method       string
	UpstreamPath string
	Headers      http.Header
	BodyBytes    []byte

	ClientIdentity string
	ReceivedAt     time.Time
}

// Response is what the pipeline hands back to the HTTP layer to forward to
// the caller.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte

	// ErrorCode is set for a blocked or fatal outcome, naming the symbolic
	// code the HTTP layer should wrap into the structured error envelope
	// (spec.md §6). Empty for a proxied or cache-served response, where Body
	// is already the upstream payload to forward verbatim.
	ErrorCode string
	// ErrorMessage is the human-readable message paired with ErrorCode.
	ErrorMessage string
	// ErrorDetails carries code-specific structured detail, e.g. the
	// sensitive-data block's detected_types (spec.md §8 scenario 3).
	ErrorDetails map[string]any
}
