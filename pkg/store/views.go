package store

import "strings"

// Derived view helpers. All of these are pure functions over a snapshot of a
// store's cache: they never mutate their input and are recomputed on every
// call, so a view can never go stale relative to the collection it projects.

// matchQuery reports whether the case-insensitive query is a substring of any
// of the given fields. An empty query matches everything.
func matchQuery(query string, fields ...string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return true
	}
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), q) {
			return true
		}
	}
	return false
}

// filterItems keeps the items matching every predicate (logical AND).
func filterItems[T any](items []T, preds ...func(T) bool) []T {
	out := make([]T, 0, len(items))
next:
	for _, it := range items {
		for _, p := range preds {
			if !p(it) {
				continue next
			}
		}
		out = append(out, it)
	}
	return out
}

// sumBy totals a numeric field across the given items.
func sumBy[T any](items []T, f func(T) int64) int64 {
	var total int64
	for _, it := range items {
		total += f(it)
	}
	return total
}

// countBy buckets items by key. Every known key appears in the result, with
// zero for empty buckets.
func countBy[T any, K comparable](items []T, known []K, key func(T) K) map[K]int {
	counts := make(map[K]int, len(known))
	for _, k := range known {
		counts[k] = 0
	}
	for _, it := range items {
		counts[key(it)]++
	}
	return counts
}
