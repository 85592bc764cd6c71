package engine

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"ideaboard/api/internal/access"
	"ideaboard/api/internal/apperr"
	"ideaboard/api/internal/feed"
	"ideaboard/api/internal/objectstore"
	"ideaboard/api/internal/ranking"
	"ideaboard/api/internal/search"
	"ideaboard/api/internal/store"
	"ideaboard/api/internal/util"
)

// NewIdea is a submission. ID may be set by clients that render the idea
// optimistically; it must look like one the server would generate.
type NewIdea struct {
	ID      string             `json:"id,omitempty"`
	Content string             `json:"content"`
	Image   *objectstore.Image `json:"-"`
}

// CreateIdea adds an idea to a session. It is never rejected because of the
// round state; callers that gate submissions do so themselves.
func (e *Engine) CreateIdea(ctx context.Context, actor *access.Actor, sessionID string, input NewIdea) (store.Idea, error) {
	if !actor.Authenticated() {
		return store.Idea{}, apperr.ErrUnauthenticated
	}
	if _, err := e.authorizedSession(ctx, actor, access.ActionWrite, sessionID); err != nil {
		return store.Idea{}, err
	}
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return store.Idea{}, fmt.Errorf("idea content is required: %w", apperr.ErrInvalidInput)
	}
	if utf8.RuneCountInString(content) > MaxIdeaLength {
		return store.Idea{}, fmt.Errorf("idea exceeds %d characters: %w", MaxIdeaLength, apperr.ErrInvalidInput)
	}
	id := input.ID
	if id == "" {
		id = util.NewID("idea")
	} else if !util.ValidID("idea", id) {
		return store.Idea{}, fmt.Errorf("idea id %q: %w", id, apperr.ErrInvalidInput)
	}

	var imageRef *string
	if input.Image != nil {
		if e.images == nil {
			return store.Idea{}, fmt.Errorf("image uploads are not enabled: %w", apperr.ErrInvalidInput)
		}
		path, err := e.images.Upload(ctx, sessionID, *input.Image)
		if err != nil {
			return store.Idea{}, fmt.Errorf("upload idea image: %w", err)
		}
		imageRef = &path
	}

	idea, err := e.store.CreateIdea(ctx, store.Idea{
		ID:        id,
		SessionID: sessionID,
		Content:   content,
		CreatorID: actor.ID,
		CreatedAt: e.clock.Now(),
		ImageRef:  imageRef,
	})
	if err != nil {
		if imageRef != nil {
			e.removeImage(ctx, *imageRef)
		}
		return store.Idea{}, fmt.Errorf("create idea: %w", err)
	}

	e.publish(ctx, feed.Inserted, feed.TableIdeas, sessionID, idea)
	if e.search != nil {
		e.search.IndexIdea(search.IdeaRecord{ID: idea.ID, SessionID: idea.SessionID, Content: idea.Content, CreatorID: idea.CreatorID})
	}
	return idea, nil
}

// ListIdeas returns a session's ideas in ranked order.
func (e *Engine) ListIdeas(ctx context.Context, actor *access.Actor, sessionID string) ([]store.Idea, error) {
	if _, err := e.authorizedSession(ctx, actor, access.ActionRead, sessionID); err != nil {
		return nil, err
	}
	ideas, err := e.store.ListIdeas(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list ideas: %w", err)
	}
	return ranking.Rank(ideas), nil
}

// DeleteIdea removes an idea with its votes and comments. The idea's author
// and the session creator may delete it.
func (e *Engine) DeleteIdea(ctx context.Context, actor *access.Actor, ideaID string) error {
	if !actor.Authenticated() {
		return apperr.ErrUnauthenticated
	}
	idea, err := e.store.GetIdea(ctx, ideaID)
	if err != nil {
		return err
	}
	session, err := e.store.GetSession(ctx, idea.SessionID)
	if err != nil {
		return err
	}
	if err := e.access.Authorize(ctx, actor, access.ActionDelete, session, &idea); err != nil {
		return err
	}
	comments, err := e.store.ListComments(ctx, ideaID)
	if err != nil {
		return fmt.Errorf("list comments of deleted idea: %w", err)
	}
	if err := e.store.DeleteIdea(ctx, ideaID); err != nil {
		return fmt.Errorf("delete idea: %w", err)
	}
	e.logger.Info("engine: idea deleted", "idea_id", ideaID, "session_id", idea.SessionID, "actor_id", actor.ID)

	e.publish(ctx, feed.Deleted, feed.TableIdeas, idea.SessionID, idea)
	commentIDs := make([]string, 0, len(comments))
	for _, comment := range comments {
		commentIDs = append(commentIDs, comment.ID)
	}
	if e.search != nil {
		e.search.DeleteIdea(ideaID, commentIDs)
	}
	if idea.ImageRef != nil {
		e.removeImage(ctx, *idea.ImageRef)
	}
	return nil
}

// ToggleUpvote flips actor's vote on an idea and returns the state written
// by the ledger transaction.
func (e *Engine) ToggleUpvote(ctx context.Context, actor *access.Actor, ideaID string) (store.ToggleResult, error) {
	if !actor.Authenticated() {
		return store.ToggleResult{}, apperr.ErrUnauthenticated
	}
	idea, err := e.store.GetIdea(ctx, ideaID)
	if err != nil {
		return store.ToggleResult{}, err
	}
	if _, err := e.authorizedSession(ctx, actor, access.ActionWrite, idea.SessionID); err != nil {
		return store.ToggleResult{}, err
	}
	result, err := e.ledger.Toggle(ctx, ideaID, actor.ID)
	if err != nil {
		return store.ToggleResult{}, err
	}

	e.publish(ctx, feed.Updated, feed.TableIdeas, idea.SessionID, result.Idea)
	kind := feed.Deleted
	if result.Voted {
		kind = feed.Inserted
	}
	e.publish(ctx, kind, feed.TableUpvotes, idea.SessionID, result.Upvote)
	return result, nil
}

// VerifyUpvotes recounts an idea's votes and rewrites the cached count if it
// drifted. Creator only.
func (e *Engine) VerifyUpvotes(ctx context.Context, actor *access.Actor, sessionID, ideaID string) (store.Idea, bool, error) {
	if _, err := e.authorizedSession(ctx, actor, access.ActionModerate, sessionID); err != nil {
		return store.Idea{}, false, err
	}
	idea, err := e.store.GetIdea(ctx, ideaID)
	if err != nil {
		return store.Idea{}, false, err
	}
	if idea.SessionID != sessionID {
		return store.Idea{}, false, fmt.Errorf("idea %s is not in session %s: %w", ideaID, sessionID, apperr.ErrNotFound)
	}
	checked, repaired, err := e.ledger.Verify(ctx, ideaID)
	if err != nil {
		return store.Idea{}, false, err
	}
	if repaired {
		e.publish(ctx, feed.Updated, feed.TableIdeas, sessionID, checked)
	}
	return checked, repaired, nil
}

// SearchIdeas runs a text search over one readable session.
func (e *Engine) SearchIdeas(ctx context.Context, actor *access.Actor, sessionID string, q search.Query) (search.Response, error) {
	if _, err := e.authorizedSession(ctx, actor, access.ActionRead, sessionID); err != nil {
		return search.Response{}, err
	}
	q.SessionID = sessionID
	if strings.TrimSpace(q.Text) == "" || e.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}, nil
	}
	return e.search.Search(ctx, q), nil
}

func (e *Engine) removeImage(ctx context.Context, path string) {
	if e.images == nil {
		return
	}
	if err := e.images.Delete(ctx, path); err != nil {
		e.logger.Warn("engine: remove idea image", "path", path, "error", err)
	}
}
