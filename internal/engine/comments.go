package engine

import (
	"context"

	"ideaboard/api/internal/access"
	"ideaboard/api/internal/apperr"
	"ideaboard/api/internal/feed"
	"ideaboard/api/internal/search"
	"ideaboard/api/internal/store"
	"ideaboard/api/internal/thread"
)

type NewComment struct {
	ID              string  `json:"id,omitempty"`
	Content         string  `json:"content"`
	ParentCommentID *string `json:"parentCommentId,omitempty"`
}

// AddComment posts a comment or a reply on an idea. A parent that is missing
// or belongs to another idea fails with apperr.ErrInvalidParent.
func (e *Engine) AddComment(ctx context.Context, actor *access.Actor, ideaID string, input NewComment) (store.Comment, error) {
	if !actor.Authenticated() {
		return store.Comment{}, apperr.ErrUnauthenticated
	}
	idea, err := e.store.GetIdea(ctx, ideaID)
	if err != nil {
		return store.Comment{}, err
	}
	if _, err := e.authorizedSession(ctx, actor, access.ActionWrite, idea.SessionID); err != nil {
		return store.Comment{}, err
	}
	comment, err := e.threads.Add(ctx, input.ID, ideaID, input.Content, actor.ID, input.ParentCommentID)
	if err != nil {
		return store.Comment{}, err
	}

	e.publish(ctx, feed.Inserted, feed.TableComments, idea.SessionID, comment)
	if e.search != nil {
		e.search.IndexComment(search.CommentRecord{ID: comment.ID, IdeaID: ideaID, SessionID: idea.SessionID, Content: comment.Content})
	}
	return comment, nil
}

// ListComments returns an idea's comments flat, oldest first.
func (e *Engine) ListComments(ctx context.Context, actor *access.Actor, ideaID string) ([]store.Comment, error) {
	if err := e.authorizeIdeaRead(ctx, actor, ideaID); err != nil {
		return nil, err
	}
	return e.threads.ListForIdea(ctx, ideaID)
}

// CommentTree returns an idea's comments as reply trees.
func (e *Engine) CommentTree(ctx context.Context, actor *access.Actor, ideaID string) ([]thread.Node, error) {
	if err := e.authorizeIdeaRead(ctx, actor, ideaID); err != nil {
		return nil, err
	}
	return e.threads.Tree(ctx, ideaID)
}

func (e *Engine) authorizeIdeaRead(ctx context.Context, actor *access.Actor, ideaID string) error {
	idea, err := e.store.GetIdea(ctx, ideaID)
	if err != nil {
		return err
	}
	_, err = e.authorizedSession(ctx, actor, access.ActionRead, idea.SessionID)
	return err
}
