package engine

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"ideaboard/api/internal/access"
	"ideaboard/api/internal/realtime"
	"ideaboard/api/internal/store"
)

// Snapshot loads everything a client needs to render a session: the session,
// its ideas and comments, and the ideas actor has voted for. It is also the
// realtime.Loader used for initial loads and resyncs.
func (e *Engine) Snapshot(ctx context.Context, actor *access.Actor, sessionID string) (realtime.Snapshot, error) {
	session, err := e.authorizedSession(ctx, actor, access.ActionRead, sessionID)
	if err != nil {
		return realtime.Snapshot{}, err
	}

	var (
		ideas    []store.Idea
		comments []store.Comment
		voted    = []string{}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		ideas, err = e.store.ListIdeas(gctx, sessionID)
		return err
	})
	g.Go(func() error {
		var err error
		comments, err = e.store.ListSessionComments(gctx, sessionID)
		return err
	})
	if actor.Authenticated() {
		g.Go(func() error {
			var err error
			voted, err = e.store.ListVotedIdeas(gctx, sessionID, actor.ID)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return realtime.Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}

	return realtime.Snapshot{
		Session:      session,
		Ideas:        ideas,
		Comments:     comments,
		VotedIdeaIDs: voted,
	}, nil
}

var _ realtime.Loader = (*Engine)(nil)
