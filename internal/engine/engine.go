// Package engine is the session collaboration facade. Every operation checks
// access first, performs one storage write, and then publishes the resulting
// row changes to the session's feed scope.
package engine

import (
	"context"
	"log/slog"
	"time"

	"ideaboard/api/internal/access"
	"ideaboard/api/internal/feed"
	"ideaboard/api/internal/ledger"
	"ideaboard/api/internal/objectstore"
	"ideaboard/api/internal/search"
	"ideaboard/api/internal/store"
	"ideaboard/api/internal/thread"
	"ideaboard/api/internal/timer"
)

const (
	MaxIdeaLength   = 500
	MaxTitleLength  = 200
	MaxPromptLength = 2000

	createSessionAttempts = 3
)

// Store is everything the engine needs from storage. Both store.PostgresStore
// and store.MemoryStore satisfy it.
type Store interface {
	access.InvitationChecker
	ledger.Store
	thread.Store

	CreateSession(ctx context.Context, item store.Session) error
	GetSession(ctx context.Context, sessionID string) (store.Session, error)
	GetSessionByInviteCode(ctx context.Context, code string) (store.Session, error)
	ListVisibleSessions(ctx context.Context, actorID, email string) ([]store.Session, error)
	ListSessionsByCreator(ctx context.Context, creatorID string) ([]store.Session, error)
	UpdateRound(ctx context.Context, sessionID string, startedAt, endsAt time.Time) (store.Session, error)

	CreateIdea(ctx context.Context, item store.Idea) (store.Idea, error)
	GetIdea(ctx context.Context, ideaID string) (store.Idea, error)
	ListIdeas(ctx context.Context, sessionID string) ([]store.Idea, error)
	ListIdeasByCreator(ctx context.Context, creatorID string) ([]store.Idea, error)
	DeleteIdea(ctx context.Context, ideaID string) error
	ListVotedIdeas(ctx context.Context, sessionID, voterID string) ([]string, error)

	ListSessionComments(ctx context.Context, sessionID string) ([]store.Comment, error)

	AddInvitation(ctx context.Context, item store.Invitation) (bool, error)
	ListInvitations(ctx context.Context, sessionID string) ([]store.Invitation, error)
}

// SearchIndex is the search facade; *search.Service implements it.
type SearchIndex interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexIdea(idea search.IdeaRecord)
	IndexComment(comment search.CommentRecord)
	DeleteIdea(id string, commentIDs []string)
}

var (
	_ Store       = (*store.PostgresStore)(nil)
	_ Store       = (*store.MemoryStore)(nil)
	_ SearchIndex = (*search.Service)(nil)
)

type Engine struct {
	store   Store
	feed    feed.Publisher
	access  *access.Evaluator
	ledger  *ledger.Ledger
	threads *thread.Service
	clock   timer.Clock
	images  objectstore.Uploader
	search  SearchIndex
	logger  *slog.Logger

	ledgerOpts []ledger.Option
}

type Option func(*Engine)

func WithClock(clock timer.Clock) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithImages enables image attachments on ideas.
func WithImages(images objectstore.Uploader) Option {
	return func(e *Engine) {
		e.images = images
	}
}

func WithSearch(index SearchIndex) Option {
	return func(e *Engine) {
		e.search = index
	}
}

func WithLedgerOptions(opts ...ledger.Option) Option {
	return func(e *Engine) {
		e.ledgerOpts = append(e.ledgerOpts, opts...)
	}
}

func New(s Store, publisher feed.Publisher, opts ...Option) *Engine {
	e := &Engine{
		store:  s,
		feed:   publisher,
		access: access.NewEvaluator(s),
		clock:  timer.Real(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.ledger = ledger.New(s, append([]ledger.Option{ledger.WithLogger(e.logger)}, e.ledgerOpts...)...)
	e.threads = thread.NewService(s, e.clock)
	return e
}

// publish sends one row change to the session scope. Failures are logged and
// swallowed: the write is already committed and subscribers recover through
// their reconnect resync.
func (e *Engine) publish(ctx context.Context, kind feed.Kind, table feed.Table, sessionID string, record any) {
	if e.feed == nil {
		return
	}
	change, err := feed.NewChange(kind, table, sessionID, record, e.clock.Now())
	if err != nil {
		e.logger.Error("engine: encode change", "table", table, "session_id", sessionID, "error", err)
		return
	}
	if err := e.feed.Publish(ctx, change); err != nil {
		e.logger.Warn("engine: publish change", "table", table, "event", kind, "session_id", sessionID, "error", err)
	}
}

// authorizedSession loads a session and checks that actor may perform action
// on it.
func (e *Engine) authorizedSession(ctx context.Context, actor *access.Actor, action access.Action, sessionID string) (store.Session, error) {
	session, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return store.Session{}, err
	}
	if err := e.access.Authorize(ctx, actor, action, session, nil); err != nil {
		return store.Session{}, err
	}
	return session, nil
}
