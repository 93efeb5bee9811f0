package spanlog

import (
	"strings"
)

// Filter is a read-only predicate over events. The zero value matches every
// event. Filters never mutate the tree they are applied to.
type Filter struct {
	// Substring must appear in the event message, case-insensitively.
	Substring string
	// PathPrefix restricts matches to events whose span path starts with
	// these labels.
	PathPrefix []string
	// MinLevel excludes events below this severity.
	MinLevel Level
}

// IsZero reports whether the filter matches everything.
func (f Filter) IsZero() bool {
	return f.Substring == "" && len(f.PathPrefix) == 0 && f.MinLevel == LevelTrace
}

func (f Filter) Match(path []string, ev Event) bool {
	if ev.Level < f.MinLevel {
		return false
	}
	if len(path) < len(f.PathPrefix) {
		return false
	}
	for i, p := range f.PathPrefix {
		if path[i] != p {
			return false
		}
	}
	if f.Substring != "" && !strings.Contains(strings.ToLower(ev.Message), strings.ToLower(f.Substring)) {
		return false
	}
	return true
}

// couldMatch checks if a span at path can possibly contain matching events.
// It's an optimization that lets traversals skip whole subtrees outside
// PathPrefix.
func (f Filter) couldMatch(path []string) bool {
	n := len(path)
	if len(f.PathPrefix) < n {
		n = len(f.PathPrefix)
	}
	for i := 0; i < n; i++ {
		if path[i] != f.PathPrefix[i] {
			return false
		}
	}
	return true
}
