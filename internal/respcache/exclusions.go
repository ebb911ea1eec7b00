package respcache

import (
	"fmt"
	"regexp"
)

// ExclusionList decides whether a given upstream path should be skipped by
// the response cache entirely (e.g. streaming or non-idempotent
// endpoints an operator never wants replayed from cache). A nil
// *ExclusionList excludes nothing.
type ExclusionList struct {
	exact    map[string]struct{}
	patterns []*regexp.Regexp
}

// NewExclusionList compiles exact and pattern rules. Returns an error if any
// pattern fails to compile, so misconfiguration is caught at startup.
func NewExclusionList(exact, patterns []string) (*ExclusionList, error) {
	el := &ExclusionList{exact: make(map[string]struct{}, len(exact))}
	for _, e := range exact {
		if e != "" {
			el.exact[e] = struct{}{}
		}
	}
	for _, p := range patterns {
		if p == "" {
			continue
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("respcache exclusion: invalid pattern %q: %w", p, err)
		}
		el.patterns = append(el.patterns, re)
	}
	return el, nil
}

// Matches reports whether path is excluded from caching.
func (el *ExclusionList) Matches(path string) bool {
	if el == nil {
		return false
	}
	if _, ok := el.exact[path]; ok {
		return true
	}
	for _, re := range el.patterns {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}
