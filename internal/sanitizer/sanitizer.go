// Package sanitizer implements the data-sanitization stage of the proxy
// pipeline (spec.md §4.4): it inspects an outbound request body for
// sensitive substrings (emails, IPv4 addresses, IBANs) and either rejects
// the request or redacts the matches, depending on configured mode.
//
// Detection is a two-step process: a regex-based local pass finds cheap,
// unambiguous matches, and an LLM classifier is consulted for anything a
// plain regex would miss (obfuscated or context-dependent mentions). The
// classifier's candidates are never trusted blind — every candidate is
// re-validated against the same strict pattern used for the local pass
// before it can trigger a block or a redaction.
package sanitizer

import (
	"context"
	"fmt"

	"github.com/netn10/security-proxy/internal/jsontree"
)

// Mode selects how the Sanitiser responds to a detection.
type Mode string

const (
	// ModeReject blocks the request outright when sensitive data is found.
	ModeReject Mode = "reject"
	// ModeRedact rewrites the body, replacing matches with placeholders,
	// and lets the (now-clean) request continue through the pipeline.
	ModeRedact Mode = "redact"
)

// Result is the outcome of scanning a request body.
type Result struct {
	// Categories lists every category with at least one validated match,
	// in a fixed, deterministic order (email, ipv4, iban).
	Categories []Category
	// Redacted is the rewritten body. Populated only in ModeRedact; in
	// ModeReject it is the zero value and must not be used.
	Redacted jsontree.Value
}

// Blocked reports whether any sensitive data was found.
func (r Result) Blocked() bool { return len(r.Categories) > 0 }

// Mode reports the Sanitiser's configured mode.
func (s *Sanitiser) Mode() Mode { return s.mode }

// Sanitiser scans and optionally rewrites request bodies.
type Sanitiser struct {
	mode       Mode
	classifier Classifier
}

// New builds a Sanitiser. classifier may be nil, in which case only the
// local regex pass runs — still sufficient to satisfy SA1 (purity) and the
// unambiguous-match cases, but it will miss anything a plain regex can't
// anchor on.
func New(mode Mode, classifier Classifier) *Sanitiser {
	return &Sanitiser{mode: mode, classifier: classifier}
}

// categoryOrder fixes the iteration order used everywhere a stable
// Categories slice is produced.
var categoryOrder = []Category{CategoryEmail, CategoryIPv4, CategoryIBAN}

// Scan inspects body and returns the set of validated categories found,
// without modifying body. It never mutates its input (SA1): every string
// leaf is read, never replaced, in this mode.
func (s *Sanitiser) Scan(ctx context.Context, body jsontree.Value) (Result, error) {
	found, err := s.detect(ctx, body)
	if err != nil {
		return Result{}, err
	}
	return Result{Categories: orderedCategories(found)}, nil
}

// Redact returns a Result whose Redacted field holds a new tree identical
// to body except every validated match has been replaced with its
// category's placeholder token. body itself is never mutated.
func (s *Sanitiser) Redact(ctx context.Context, body jsontree.Value) (Result, error) {
	found, err := s.detect(ctx, body)
	if err != nil {
		return Result{}, err
	}
	if len(found) == 0 {
		return Result{Redacted: body}, nil
	}

	rewritten := jsontree.WalkStrings(body, func(leaf string) string {
		out := leaf
		for _, cat := range categoryOrder {
			if re, ok := inlinePatterns[cat]; ok {
				out = re.ReplaceAllStringFunc(out, func(candidate string) string {
					if valid(cat, candidate) {
						return PlaceholderTokens[cat]
					}
					return candidate
				})
			}
		}
		return out
	})

	return Result{Categories: orderedCategories(found), Redacted: rewritten}, nil
}

// Process runs the configured mode and returns the body to forward
// downstream (the original body for Scan/reject, the rewritten body for
// redact) alongside the detection outcome.
func (s *Sanitiser) Process(ctx context.Context, body jsontree.Value) (jsontree.Value, Result, error) {
	switch s.mode {
	case ModeRedact:
		res, err := s.Redact(ctx, body)
		if err != nil {
			return body, Result{}, err
		}
		if res.Blocked() {
			return res.Redacted, res, nil
		}
		return body, res, nil
	case ModeReject:
		res, err := s.Scan(ctx, body)
		if err != nil {
			return body, Result{}, err
		}
		return body, res, nil
	default:
		return body, Result{}, fmt.Errorf("sanitizer: unknown mode %q", s.mode)
	}
}

// detect runs the local regex pass over every string leaf of body, then —
// if a classifier is configured — asks it to look for anything the regex
// pass missed, re-validating every classifier candidate locally. Classifier
// errors are swallowed: a sanitizer that can't reach its LLM still serves
// the guarantees backed by the local pass (fail open per spec.md §7).
func (s *Sanitiser) detect(ctx context.Context, body jsontree.Value) (map[Category]bool, error) {
	found := map[Category]bool{}

	leaves := jsontree.CollectStrings(body, nil)
	for _, leaf := range leaves {
		for _, cat := range categoryOrder {
			re, ok := inlinePatterns[cat]
			if !ok {
				continue
			}
			for _, candidate := range re.FindAllString(leaf, -1) {
				if valid(cat, candidate) {
					found[cat] = true
				}
			}
		}

		if s.classifier == nil {
			continue
		}
		det, err := s.classifier.Detect(ctx, leaf)
		if err != nil {
			continue
		}
		for _, c := range det.Emails {
			if valid(CategoryEmail, c) {
				found[CategoryEmail] = true
			}
		}
		for _, c := range det.IPv4s {
			if valid(CategoryIPv4, c) {
				found[CategoryIPv4] = true
			}
		}
		for _, c := range det.IBANs {
			if valid(CategoryIBAN, c) {
				found[CategoryIBAN] = true
			}
		}
	}

	return found, nil
}

func orderedCategories(found map[Category]bool) []Category {
	if len(found) == 0 {
		return nil
	}
	out := make([]Category, 0, len(found))
	for _, cat := range categoryOrder {
		if found[cat] {
			out = append(out, cat)
		}
	}
	return out
}
