package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"ideaboard/api/internal/apperr"
)

const defaultHubBuffer = 64

// Hub is an in-process Feed. A subscriber that falls a full buffer behind is
// cut off so the publisher never blocks; the subscriber sees its channel
// close and resyncs.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[*hubSubscription]struct{}
	buffer int
	closed bool
	logger *slog.Logger
}

func NewHub(buffer int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = defaultHubBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:   make(map[string]map[*hubSubscription]struct{}),
		buffer: buffer,
		logger: logger,
	}
}

type hubSubscription struct {
	hub   *Hub
	scope string
	ch    chan Change
	once  sync.Once
}

func (s *hubSubscription) Changes() <-chan Change {
	return s.ch
}

func (s *hubSubscription) Close() error {
	s.once.Do(func() {
		s.hub.mu.Lock()
		defer s.hub.mu.Unlock()
		s.hub.dropLocked(s)
	})
	return nil
}

func (h *Hub) Subscribe(ctx context.Context, scope string) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, fmt.Errorf("subscribe %s: hub closed: %w", scope, apperr.ErrTransient)
	}
	sub := &hubSubscription{hub: h, scope: scope, ch: make(chan Change, h.buffer)}
	if h.subs[scope] == nil {
		h.subs[scope] = make(map[*hubSubscription]struct{})
	}
	h.subs[scope][sub] = struct{}{}
	return sub, nil
}

func (h *Hub) Publish(ctx context.Context, change Change) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return fmt.Errorf("publish %s: hub closed: %w", change.Scope, apperr.ErrTransient)
	}
	for sub := range h.subs[change.Scope] {
		select {
		case sub.ch <- change:
		default:
			h.logger.Warn("feed: subscriber overflowed, disconnecting", "scope", change.Scope)
			h.dropLocked(sub)
		}
	}
	return nil
}

// Kick disconnects every subscriber of scope, as a dropped connection would.
func (h *Hub) Kick(scope string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[scope] {
		h.dropLocked(sub)
	}
}

// Subscribers returns how many live subscriptions scope has.
func (h *Hub) Subscribers(scope string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[scope])
}

func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for _, subs := range h.subs {
		for sub := range subs {
			h.dropLocked(sub)
		}
	}
	return nil
}

func (h *Hub) dropLocked(sub *hubSubscription) {
	subs, ok := h.subs[sub.scope]
	if !ok {
		return
	}
	if _, live := subs[sub]; !live {
		return
	}
	delete(subs, sub)
	close(sub.ch)
	if len(subs) == 0 {
		delete(h.subs, sub.scope)
	}
}
