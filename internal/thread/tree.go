package thread

import (
	"sort"

	"ideaboard/api/internal/store"
)

// Node is one comment with its replies, ordered oldest first.
type Node struct {
	Comment store.Comment `json:"comment"`
	Depth   int           `json:"depth"`
	Replies []Node        `json:"replies"`
}

func commentLess(a, b store.Comment) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// BuildTree turns a flat comment list into a forest. Comments without a
// parent, or whose parent is not in the list, become roots. Parent links that
// loop back on themselves are cut at the first revisit, and a loop with no
// way in from a root is entered at its oldest comment.
func BuildTree(comments []store.Comment) []Node {
	byID := make(map[string]store.Comment, len(comments))
	order := make([]store.Comment, 0, len(comments))
	for _, comment := range comments {
		if _, dup := byID[comment.ID]; dup {
			continue
		}
		byID[comment.ID] = comment
		order = append(order, comment)
	}
	sort.Slice(order, func(i, j int) bool { return commentLess(order[i], order[j]) })

	children := make(map[string][]store.Comment)
	var roots []store.Comment
	for _, comment := range order {
		parentID := parentOf(comment)
		if _, ok := byID[parentID]; ok && parentID != comment.ID {
			children[parentID] = append(children[parentID], comment)
			continue
		}
		roots = append(roots, comment)
	}

	// Walk each root with an explicit stack. Every entry's replies get
	// larger indices than the entry itself, so nodes are assembled from the
	// back.
	type entry struct {
		comment store.Comment
		depth   int
		replies []int
	}
	var entries []entry
	visited := make(map[string]bool, len(order))
	walk := func(root store.Comment) int {
		top := len(entries)
		visited[root.ID] = true
		entries = append(entries, entry{comment: root})
		stack := []int{top}
		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			for _, child := range children[entries[i].comment.ID] {
				if visited[child.ID] {
					continue
				}
				visited[child.ID] = true
				j := len(entries)
				entries = append(entries, entry{comment: child, depth: entries[i].depth + 1})
				entries[i].replies = append(entries[i].replies, j)
				stack = append(stack, j)
			}
		}
		return top
	}

	var tops []int
	for _, root := range roots {
		tops = append(tops, walk(root))
	}
	for _, comment := range order {
		if !visited[comment.ID] {
			tops = append(tops, walk(comment))
		}
	}

	nodes := make([]Node, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		node := Node{Comment: e.comment, Depth: e.depth, Replies: make([]Node, 0, len(e.replies))}
		for _, j := range e.replies {
			node.Replies = append(node.Replies, nodes[j])
		}
		nodes[i] = node
	}

	forest := make([]Node, 0, len(tops))
	for _, i := range tops {
		forest = append(forest, nodes[i])
	}
	sort.SliceStable(forest, func(i, j int) bool { return commentLess(forest[i].Comment, forest[j].Comment) })
	return forest
}

func parentOf(comment store.Comment) string {
	if comment.ParentCommentID == nil {
		return ""
	}
	return *comment.ParentCommentID
}

// Flatten walks a forest depth first and returns the comments it holds.
func Flatten(forest []Node) []store.Comment {
	var out []store.Comment
	stack := pushReversed(nil, forest)
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out = append(out, node.Comment)
		stack = pushReversed(stack, node.Replies)
	}
	return out
}

// Count returns the number of comments in a forest.
func Count(forest []Node) int {
	total := 0
	stack := pushReversed(nil, forest)
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		total++
		stack = pushReversed(stack, node.Replies)
	}
	return total
}

func pushReversed(stack []*Node, nodes []Node) []*Node {
	for i := len(nodes) - 1; i >= 0; i-- {
		stack = append(stack, &nodes[i])
	}
	return stack
}
