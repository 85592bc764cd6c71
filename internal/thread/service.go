// Package thread stores comments as flat records and rebuilds them into
// reply trees on read.
package thread

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"ideaboard/api/internal/apperr"
	"ideaboard/api/internal/store"
	"ideaboard/api/internal/timer"
	"ideaboard/api/internal/util"
)

const MaxCommentLength = 2000

type Store interface {
	CreateComment(ctx context.Context, item store.Comment) (store.Comment, error)
	ListComments(ctx context.Context, ideaID string) ([]store.Comment, error)
}

type Service struct {
	store Store
	clock timer.Clock
}

func NewService(s Store, clock timer.Clock) *Service {
	if clock == nil {
		clock = timer.Real()
	}
	return &Service{store: s, clock: clock}
}

// Add stores a comment on ideaID. A parent that is missing or belongs to a
// different idea is rejected by storage with apperr.ErrInvalidParent.
// An empty id asks for a generated one.
func (s *Service) Add(ctx context.Context, id, ideaID, content, creatorID string, parentCommentID *string) (store.Comment, error) {
	if strings.TrimSpace(creatorID) == "" {
		return store.Comment{}, apperr.ErrUnauthenticated
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return store.Comment{}, fmt.Errorf("comment content is required: %w", apperr.ErrInvalidInput)
	}
	if utf8.RuneCountInString(content) > MaxCommentLength {
		return store.Comment{}, fmt.Errorf("comment exceeds %d characters: %w", MaxCommentLength, apperr.ErrInvalidInput)
	}
	if parentCommentID != nil && strings.TrimSpace(*parentCommentID) == "" {
		parentCommentID = nil
	}
	if id == "" {
		id = util.NewID("comment")
	} else if !util.ValidID("comment", id) {
		return store.Comment{}, fmt.Errorf("comment id %q: %w", id, apperr.ErrInvalidInput)
	}

	created, err := s.store.CreateComment(ctx, store.Comment{
		ID:              id,
		IdeaID:          ideaID,
		Content:         content,
		CreatorID:       creatorID,
		CreatedAt:       s.clock.Now(),
		ParentCommentID: parentCommentID,
	})
	if err != nil {
		return store.Comment{}, fmt.Errorf("add comment: %w", err)
	}
	return created, nil
}

func (s *Service) ListForIdea(ctx context.Context, ideaID string) ([]store.Comment, error) {
	comments, err := s.store.ListComments(ctx, ideaID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	return comments, nil
}

// Tree returns the reply forest for ideaID.
func (s *Service) Tree(ctx context.Context, ideaID string) ([]Node, error) {
	comments, err := s.ListForIdea(ctx, ideaID)
	if err != nil {
		return nil, err
	}
	return BuildTree(comments), nil
}

// GroupByIdea builds one forest per idea from a session-wide comment list.
func GroupByIdea(comments []store.Comment) map[string][]Node {
	grouped := make(map[string][]store.Comment)
	for _, comment := range comments {
		grouped[comment.IdeaID] = append(grouped[comment.IdeaID], comment)
	}
	forests := make(map[string][]Node, len(grouped))
	for ideaID, list := range grouped {
		forests[ideaID] = BuildTree(list)
	}
	return forests
}
