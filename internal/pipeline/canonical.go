package pipeline

import (
	"encoding/json"
	"strings"

	"github.com/netn10/security-proxy/internal/jsontree"
)

// cacheableSuffixes are the endpoint suffixes sanitisation, policy
// classification, and caching are all scoped to (spec.md §4.2 stages
// 3, 4, 5, 7).
var cacheableSuffixes = []string{"/chat/completions", "/messages"}

// isGuardedEndpoint reports whether upstreamPath (query string already
// stripped by the caller) falls under the shared endpoint guard.
func isGuardedEndpoint(upstreamPath string) bool {
	for _, suffix := range cacheableSuffixes {
		if strings.HasSuffix(upstreamPath, suffix) {
			return true
		}
	}
	return false
}

// pathWithoutQuery strips a trailing "?..." query string for suffix
// matching purposes only; the original path (with query) is still what's
// forwarded upstream.
func pathWithoutQuery(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		return path[:i]
	}
	return path
}

// extractCanonicalText implements spec.md §4.2 stage 4's extraction rule:
// concatenation of .messages[*].content if present, else .prompt, else
// .input, else the serialised body.
func extractCanonicalText(body jsontree.Value) string {
	obj, ok := body.(map[string]any)
	if !ok {
		return serialise(body)
	}

	if messages, ok := obj["messages"].([]any); ok {
		var sb strings.Builder
		for _, m := range messages {
			entry, ok := m.(map[string]any)
			if !ok {
				continue
			}
			if content, ok := entry["content"].(string); ok {
				sb.WriteString(content)
			}
		}
		if sb.Len() > 0 {
			return sb.String()
		}
	}

	if prompt, ok := obj["prompt"].(string); ok && prompt != "" {
		return prompt
	}
	if input, ok := obj["input"].(string); ok && input != "" {
		return input
	}

	return serialise(body)
}

func serialise(body jsontree.Value) string {
	raw, err := json.Marshal(body)
	if err != nil {
		return ""
	}
	return string(raw)
}
