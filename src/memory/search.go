package memory

import (
	"sort"
	"strings"
)

// SortOrder determines how search results are ranked.
type SortOrder string

const (
	// SortRelevance ranks by pattern match quality.
	SortRelevance SortOrder = "relevance"
	// SortRecency ranks by last write, newest first.
	SortRecency SortOrder = "recency"
	// SortCreated ranks by creation time, newest first.
	SortCreated SortOrder = "created"
	// SortAccess ranks by access count, highest first.
	SortAccess SortOrder = "access"
)

// DefaultSearchLimit caps result sets when the caller does not set a limit.
const DefaultSearchLimit = 50

// SearchOptions ...
type SearchOptions struct {
	// Pattern filters keys. A bare string matches exactly or as a prefix.
	// '*' matches any run of characters and '?' matches exactly one. An
	// empty pattern matches everything.
	Pattern string

	// Types restricts results to the given memory types. Empty means all.
	Types []MemoryType

	// SortBy ranks results. SortRelevance is the default.
	SortBy SortOrder

	// Limit caps the number of results. DefaultSearchLimit when zero.
	Limit int

	// IncludeSuperseded includes entries that consolidation folded into a
	// merged entry.
	IncludeSuperseded bool
}

func hasWildcard(pattern string) bool {
	return strings.ContainsAny(pattern, "*?")
}

// wildcardMatch reports whether s matches pattern, backtracking on the last
// '*' seen.
func wildcardMatch(pattern, s string) bool {
	pi, si := 0, 0
	star, mark := -1, 0

	for si < len(s) {
		switch {
		case pi < len(pattern) && (pattern[pi] == '?' || pattern[pi] == s[si]):
			pi++
			si++
		case pi < len(pattern) && pattern[pi] == '*':
			star = pi
			mark = si
			pi++
		case star >= 0:
			pi = star + 1
			mark++
			si = mark
		default:
			return false
		}
	}

	for pi < len(pattern) && pattern[pi] == '*' {
		pi++
	}

	return pi == len(pattern)
}

// matchScore reports whether a key matches the pattern, and with what
// relevance: 1.0 for an exact match, the matched fraction for a prefix
// match, 0.5 for a wildcard match.
func matchScore(pattern, key string) (bool, float64) {
	if pattern == "" {
		return true, 0.5
	}

	if hasWildcard(pattern) {
		if wildcardMatch(pattern, key) {
			return true, 0.5
		}
		return false, 0
	}

	if key == pattern {
		return true, 1.0
	}
	if strings.HasPrefix(key, pattern) {
		return true, float64(len(pattern)) / float64(len(key))
	}

	return false, 0
}

type scoredEntry struct {
	entry *Entry
	score float64
}

// sortResults orders scored entries by the requested order. The key is the
// final tiebreaker, so result order is deterministic.
func sortResults(res []scoredEntry, order SortOrder) {
	sort.SliceStable(res, func(i, j int) bool {
		a, b := res[i], res[j]

		switch order {
		case SortRecency:
			if !a.entry.UpdatedAt.Equal(b.entry.UpdatedAt) {
				return a.entry.UpdatedAt.After(b.entry.UpdatedAt)
			}
		case SortCreated:
			if !a.entry.CreatedAt.Equal(b.entry.CreatedAt) {
				return a.entry.CreatedAt.After(b.entry.CreatedAt)
			}
		case SortAccess:
			if a.entry.AccessCount != b.entry.AccessCount {
				return a.entry.AccessCount > b.entry.AccessCount
			}
		default:
			if a.score != b.score {
				return a.score > b.score
			}
		}

		return a.entry.Key < b.entry.Key
	})
}
