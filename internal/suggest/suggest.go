// Package suggest provides fuzzy matching for mistyped config keys using
// Levenshtein distance.
package suggest

import (
	"slices"
	"strings"
)

// levenshtein calculates the edit distance between two strings
func levenshtein(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(
				prev[j]+1,      // deletion
				cur[j-1]+1,     // insertion
				prev[j-1]+cost, // substitution
			)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

// normalize folds case and treats dashes, dots and spaces as underscores,
// so "server-url" and "Server.URL" both match server_url.
func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer("-", "_", ".", "_", " ", "_").Replace(s)
}

// Keys returns up to three valid keys close to unknown, best first.
func Keys(unknown string, valid []string) []string {
	type scored struct {
		key   string
		score int
	}
	u := normalize(unknown)
	var candidates []scored
	for _, v := range valid {
		n := normalize(v)
		dist := levenshtein(u, n)
		if u != "" && (strings.Contains(n, u) || strings.Contains(u, n)) {
			dist = min(dist, 1)
		}
		// Only suggest if reasonably close (within 3 edits or 50% of length)
		if dist <= max(3, len(u)/2) {
			candidates = append(candidates, scored{v, dist})
		}
	}

	slices.SortStableFunc(candidates, func(a, b scored) int { return a.score - b.score })

	var result []string
	for i := 0; i < len(candidates) && i < 3; i++ {
		result = append(result, candidates[i].key)
	}
	return result
}
