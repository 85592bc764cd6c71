package realtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"ideaboard/api/internal/access"
	"ideaboard/api/internal/apperr"
	"ideaboard/api/internal/feed"
	"ideaboard/api/internal/timer"
)

const (
	defaultRetryBackoff = 250 * time.Millisecond
	defaultMaxBackoff   = 10 * time.Second
	localBuffer         = 16
)

// Loader fetches the full state used for the initial load and every resync.
type Loader interface {
	Snapshot(ctx context.Context, actor *access.Actor, sessionID string) (Snapshot, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, actor *access.Actor, sessionID string) (Snapshot, error)

func (f LoaderFunc) Snapshot(ctx context.Context, actor *access.Actor, sessionID string) (Snapshot, error) {
	return f(ctx, actor, sessionID)
}

type Client struct {
	feed       feed.Subscriber
	loader     Loader
	clock      timer.Clock
	logger     *slog.Logger
	backoff    time.Duration
	maxBackoff time.Duration
}

type Option func(*Client)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithClock(clock timer.Clock) Option {
	return func(c *Client) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithBackoff sets the first and the largest wait between reconnect attempts.
func WithBackoff(initial, max time.Duration) Option {
	return func(c *Client) {
		if initial > 0 {
			c.backoff = initial
		}
		if max >= initial && max > 0 {
			c.maxBackoff = max
		}
	}
}

func NewClient(subscriber feed.Subscriber, loader Loader, opts ...Option) *Client {
	c := &Client{
		feed:       subscriber,
		loader:     loader,
		clock:      timer.Real(),
		logger:     slog.Default(),
		backoff:    defaultRetryBackoff,
		maxBackoff: defaultMaxBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Handle is one live subscription to a session. onChange runs on the
// handle's own goroutine, one call at a time.
type Handle struct {
	client    *Client
	sessionID string
	onChange  func(State)

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	local  chan func(*View) bool
	actors chan *access.Actor
	state  atomic.Pointer[State]
	once   sync.Once
}

// Subscribe starts following sessionID as actor. The first state delivered is
// PhaseLoading, followed by PhaseReady once the snapshot is in.
func (c *Client) Subscribe(sessionID string, actor *access.Actor, onChange func(State)) *Handle {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Handle{
		client:    c,
		sessionID: sessionID,
		onChange:  onChange,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		local:     make(chan func(*View) bool, localBuffer),
		actors:    make(chan *access.Actor, 1),
	}
	loading := State{Phase: PhaseLoading}
	h.state.Store(&loading)
	go h.run(actor)
	return h
}

// Unsubscribe stops h. It may be called at any point, including before the
// feed subscription is established.
func (c *Client) Unsubscribe(h *Handle) {
	if h != nil {
		h.Close()
	}
}

// Close stops the handle without waiting; use Done to wait for the goroutine
// to exit. Safe to call more than once and from inside onChange.
func (h *Handle) Close() {
	h.once.Do(h.cancel)
}

func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// State returns the most recently delivered state.
func (h *Handle) State() State {
	return *h.state.Load()
}

// ApplyLocal merges a change the caller already knows about, such as the
// result of its own mutation, without waiting for the feed to echo it.
func (h *Handle) ApplyLocal(change feed.Change) {
	h.enqueue(func(v *View) bool {
		changed, err := v.Apply(change)
		if err != nil {
			h.client.logger.Warn("realtime: local change rejected", "session_id", h.sessionID, "error", err)
		}
		return changed
	})
}

// SetActor switches identity. The view is resynced because vote markers and
// visibility depend on who is looking.
func (h *Handle) SetActor(actor *access.Actor) {
	select {
	case <-h.actors:
	default:
	}
	select {
	case h.actors <- actor:
	case <-h.ctx.Done():
	}
}

// enqueue never blocks the caller. A local change dropped here still arrives
// through the feed.
func (h *Handle) enqueue(fn func(*View) bool) {
	select {
	case h.local <- fn:
	case <-h.ctx.Done():
	default:
		h.client.logger.Debug("realtime: local queue full, relying on feed", "session_id", h.sessionID)
	}
}

func (h *Handle) emit(state State) {
	if h.ctx.Err() != nil {
		return
	}
	h.state.Store(&state)
	if h.onChange != nil {
		h.onChange(state)
	}
}

func (h *Handle) run(actor *access.Actor) {
	defer close(h.done)
	h.emit(State{Phase: PhaseLoading})
	c := h.client
	scope := feed.ScopeKey(h.sessionID)
	logger := c.logger.With("session_id", h.sessionID)

	var generation uint64
	wait := c.backoff
	for {
		if h.ctx.Err() != nil {
			return
		}

		sub, err := c.feed.Subscribe(h.ctx, scope)
		if err != nil {
			logger.Warn("realtime: subscribe failed", "error", err, "retry_in", wait)
			if !h.sleep(&wait) {
				return
			}
			continue
		}
		if h.ctx.Err() != nil {
			_ = sub.Close()
			return
		}

		// Subscribing before loading means nothing committed after the
		// snapshot can slip between the two.
		snap, err := c.loader.Snapshot(h.ctx, actor, h.sessionID)
		if err != nil {
			_ = sub.Close()
			if h.ctx.Err() != nil {
				return
			}
			if terminal(err) {
				logger.Info("realtime: session not available", "error", err)
				h.emit(State{Phase: PhaseFailed, Generation: generation, Err: err})
				return
			}
			logger.Warn("realtime: resync failed", "error", err, "retry_in", wait)
			if !h.sleep(&wait) {
				return
			}
			continue
		}
		wait = c.backoff

		selfID := ""
		if actor != nil {
			selfID = actor.ID
		}
		view := NewView(selfID)
		view.Reset(snap)
		generation++
		h.emitView(view, generation)

		next, switched := h.consume(sub, view, generation)
		_ = sub.Close()
		if switched {
			actor = next
			logger.Debug("realtime: actor changed, resyncing")
			continue
		}
		if h.ctx.Err() != nil {
			return
		}
		logger.Info("realtime: feed disconnected, resyncing")
	}
}

// consume applies feed and local changes until the feed drops, the actor
// changes, or the handle is closed.
func (h *Handle) consume(sub feed.Subscription, view *View, generation uint64) (*access.Actor, bool) {
	for {
		select {
		case <-h.ctx.Done():
			return nil, false
		case actor := <-h.actors:
			return actor, true
		case change, ok := <-sub.Changes():
			if !ok {
				return nil, false
			}
			changed, err := view.Apply(change)
			if err != nil {
				h.client.logger.Warn("realtime: change rejected", "session_id", h.sessionID, "table", change.Table, "error", err)
				continue
			}
			if changed {
				h.emitView(view, generation)
			}
		case fn := <-h.local:
			if fn(view) {
				h.emitView(view, generation)
			}
		}
	}
}

func (h *Handle) emitView(view *View, generation uint64) {
	state := view.State(h.client.clock.Now())
	state.Generation = generation
	h.emit(state)
}

// sleep waits for the current backoff and doubles it. It returns false when
// the handle was closed in the meantime.
func (h *Handle) sleep(wait *time.Duration) bool {
	delay := time.NewTimer(*wait)
	defer delay.Stop()
	select {
	case <-h.ctx.Done():
		return false
	case <-delay.C:
	}
	*wait *= 2
	if *wait > h.client.maxBackoff {
		*wait = h.client.maxBackoff
	}
	return true
}

func terminal(err error) bool {
	return errors.Is(err, apperr.ErrForbidden) ||
		errors.Is(err, apperr.ErrNotFound) ||
		errors.Is(err, apperr.ErrUnauthenticated)
}
