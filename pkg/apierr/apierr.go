// Package apierr provides the structured error response body written for
// every blocked or fatal request (spec.md §6, §7).
package apierr

import (
	"encoding/json"
	"time"

	"github.com/valyala/fasthttp"
)

// Code is one of the symbolic error codes spec.md §6 defines, each with a
// fixed HTTP status.
type Code string

const (
	CodeBlockedRateLimit    Code = "BLOCKED_RATE_LIMIT"
	CodeTimeBlocked         Code = "TIME_BLOCKED"
	CodeSensitiveDataBlocked Code = "SENSITIVE_DATA_BLOCKED"
	CodeFinancialBlocked    Code = "FINANCIAL_BLOCKED"
	CodeInternalError       Code = "INTERNAL_ERROR"
)

// statusForCode is the fixed HTTP status each symbolic code maps to.
var statusForCode = map[Code]int{
	CodeBlockedRateLimit:     fasthttp.StatusTooManyRequests,
	CodeTimeBlocked:          fasthttp.StatusForbidden,
	CodeSensitiveDataBlocked: fasthttp.StatusForbidden,
	CodeFinancialBlocked:     fasthttp.StatusForbidden,
	CodeInternalError:        fasthttp.StatusInternalServerError,
}

// body is the `error` object in the response envelope.
type body struct {
	Message   string         `json:"message"`
	Code      Code           `json:"code"`
	Timestamp string         `json:"timestamp"`
	Path      string         `json:"path"`
	Method    string         `json:"method"`
	Details   map[string]any `json:"details,omitempty"`
}

type envelope struct {
	Error body `json:"error"`
}

// Write writes the structured error body for code to ctx, at the status
// spec.md §6 fixes for that code.
func Write(ctx *fasthttp.RequestCtx, code Code, message string) {
	WriteDetails(ctx, code, message, nil)
}

// WriteDetails is Write plus a code-specific `details` object — e.g. the
// sensitive-data block reports `detected_types` (spec.md §8 scenario 3).
func WriteDetails(ctx *fasthttp.RequestCtx, code Code, message string, details map[string]any) {
	status, ok := statusForCode[code]
	if !ok {
		status = fasthttp.StatusInternalServerError
	}

	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")

	raw, _ := json.Marshal(envelope{Error: body{
		Message:   message,
		Code:      code,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Path:      string(ctx.Path()),
		Method:    string(ctx.Method()),
		Details:   details,
	}})
	ctx.SetBody(raw)
}

// WriteInternal writes an INTERNAL_ERROR (500) response for an upstream
// transport fault or any stage failure not covered by a documented
// short-circuit (spec.md §7). The underlying cause is never echoed to the
// caller — it belongs in the AuditRecord's error_message, not the response
// body.
func WriteInternal(ctx *fasthttp.RequestCtx) {
	Write(ctx, CodeInternalError, "an internal error occurred")
}
