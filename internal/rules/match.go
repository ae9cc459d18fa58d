// Package rules classifies transactions with user-defined category, SIP and
// recurring rules. Matching is pure; usage bookkeeping is a separate step.
package rules

import (
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/cleared-dev/tally/internal/model"
)

var (
	regexMu    sync.Mutex
	regexCache = map[string]*regexp.Regexp{}
)

// compile returns the case-insensitive regexp for pattern, or nil if invalid.
func compile(pattern string) *regexp.Regexp {
	regexMu.Lock()
	defer regexMu.Unlock()
	if re, ok := regexCache[pattern]; ok {
		return re
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		re = nil
	}
	regexCache[pattern] = re
	return re
}

// Match reports whether text satisfies pattern under mt. Comparisons ignore
// case and surrounding whitespace. An empty pattern or invalid regex never matches.
func Match(pattern string, mt model.MatchType, text string) bool {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return false
	}
	switch mt {
	case model.MatchEquals:
		return strings.EqualFold(strings.TrimSpace(text), pattern)
	case model.MatchRegex:
		re := compile(pattern)
		return re != nil && re.MatchString(text)
	default:
		return strings.Contains(strings.ToLower(text), strings.ToLower(pattern))
	}
}

// SortByPriority orders rules by descending priority, keeping the original
// order among equal priorities. It returns a new slice.
func SortByPriority[R any](rules []R, priority func(R) int) []R {
	sorted := make([]R, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		return priority(sorted[i]) > priority(sorted[j])
	})
	return sorted
}
