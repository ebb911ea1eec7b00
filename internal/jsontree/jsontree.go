// Package jsontree provides pure, allocation-new traversal helpers over a
// decoded JSON body (the "Value" tagged union of spec.md §9: null, bool,
// number, string, list, map). Go's encoding/json already decodes arbitrary
// JSON into exactly that shape via `any`, so Value is just an alias — the
// package supplies the tree walk, not a new representation.
package jsontree

// Value is a decoded JSON value: nil, bool, float64, string, []any, or
// map[string]any (json.Unmarshal's default decoding target).
type Value = any

// StringLeafFunc is called for every string leaf encountered during a walk.
// It returns the (possibly rewritten) replacement string; WalkStrings never
// mutates the input, it builds a new tree from the return values.
type StringLeafFunc func(s string) string

// WalkStrings returns a new tree identical to v except every string leaf has
// been passed through fn and replaced with fn's return value. Map keys are
// never inspected or rewritten. The input is never mutated.
func WalkStrings(v Value, fn StringLeafFunc) Value {
	switch t := v.(type) {
	case string:
		return fn(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = WalkStrings(item, fn)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = WalkStrings(item, fn)
		}
		return out
	default:
		return v
	}
}

// CollectStrings returns every string leaf in v, depth-first. Array items
// keep their order; object members follow Go's map iteration order, which
// is not stable between calls. Used where only detection (not rewriting)
// is required.
func CollectStrings(v Value, into []string) []string {
	switch t := v.(type) {
	case string:
		return append(into, t)
	case []any:
		for _, item := range t {
			into = CollectStrings(item, into)
		}
		return into
	case map[string]any:
		for _, item := range t {
			into = CollectStrings(item, into)
		}
		return into
	default:
		return into
	}
}
