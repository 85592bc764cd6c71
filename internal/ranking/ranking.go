// Package ranking orders a session's ideas for display.
package ranking

import (
	"sort"

	"ideaboard/api/internal/store"
)

// Less is the display order: more upvotes first, then older first, then id.
// The id step makes the order total so every client agrees.
func Less(a, b store.Idea) bool {
	if a.UpvoteCount != b.UpvoteCount {
		return a.UpvoteCount > b.UpvoteCount
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// Rank returns a sorted copy of ideas; the input is left untouched.
func Rank(ideas []store.Idea) []store.Idea {
	ranked := make([]store.Idea, len(ideas))
	copy(ranked, ideas)
	sort.SliceStable(ranked, func(i, j int) bool {
		return Less(ranked[i], ranked[j])
	})
	return ranked
}
