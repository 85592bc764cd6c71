package search

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"ideaboard/api/internal/store"
)

const snippetRunes = 160

// Source is the read side Substring searches over.
type Source interface {
	ListIdeas(ctx context.Context, sessionID string) ([]store.Idea, error)
	ListSessionComments(ctx context.Context, sessionID string) ([]store.Comment, error)
}

// Substring is the searcher used with the in-memory store: a case-insensitive
// substring match over one session's ideas and comments.
type Substring struct {
	source Source
}

func NewSubstring(source Source) *Substring {
	return &Substring{source: source}
}

func (s *Substring) Healthy() bool {
	return true
}

func (s *Substring) Search(ctx context.Context, q Query) ([]Result, int, error) {
	needle := strings.ToLower(strings.TrimSpace(q.Text))
	if needle == "" || q.SessionID == "" {
		return nil, 0, nil
	}

	var matches []Result
	if q.FilterType == "" || q.FilterType == ResultIdea {
		ideas, err := s.source.ListIdeas(ctx, q.SessionID)
		if err != nil {
			return nil, 0, fmt.Errorf("substring ideas: %w", err)
		}
		for _, idea := range ideas {
			if strings.Contains(strings.ToLower(idea.Content), needle) {
				matches = append(matches, Result{Type: ResultIdea, ID: idea.ID, IdeaID: idea.ID, SessionID: idea.SessionID, Snippet: snippet(idea.Content)})
			}
		}
	}
	if q.FilterType == "" || q.FilterType == ResultComment {
		comments, err := s.source.ListSessionComments(ctx, q.SessionID)
		if err != nil {
			return nil, 0, fmt.Errorf("substring comments: %w", err)
		}
		for _, comment := range comments {
			if strings.Contains(strings.ToLower(comment.Content), needle) {
				matches = append(matches, Result{Type: ResultComment, ID: comment.ID, IdeaID: comment.IdeaID, SessionID: q.SessionID, Snippet: snippet(comment.Content)})
			}
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Type != matches[j].Type {
			return matches[i].Type == ResultIdea
		}
		return matches[i].ID < matches[j].ID
	})

	total := len(matches)
	offset := normalizeOffset(q.Offset)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + normalizeLimit(q.Limit)
	if end > total {
		end = total
	}
	return matches[offset:end], total, nil
}

func snippet(content string) string {
	if utf8.RuneCountInString(content) <= snippetRunes {
		return content
	}
	runes := []rune(content)
	return string(runes[:snippetRunes]) + "…"
}
