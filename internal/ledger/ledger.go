// Package ledger owns upvote toggling. Each toggle is one storage
// transaction; contention is retried here a bounded number of times.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"ideaboard/api/internal/apperr"
	"ideaboard/api/internal/store"
)

const (
	DefaultAttempts = 4
	DefaultBackoff  = 20 * time.Millisecond
)

type Store interface {
	ToggleUpvote(ctx context.Context, ideaID, voterID string) (store.ToggleResult, error)
	RecountUpvotes(ctx context.Context, ideaID string) (store.Idea, bool, error)
}

type Ledger struct {
	store    Store
	attempts int
	backoff  time.Duration
	logger   *slog.Logger
}

type Option func(*Ledger)

func WithAttempts(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.attempts = n
		}
	}
}

func WithBackoff(d time.Duration) Option {
	return func(l *Ledger) {
		if d >= 0 {
			l.backoff = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func New(s Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:    s,
		attempts: DefaultAttempts,
		backoff:  DefaultBackoff,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Toggle adds the voter's upvote if absent and removes it if present.
// Conflicts are retried; when attempts run out the error is apperr.ErrTransient.
func (l *Ledger) Toggle(ctx context.Context, ideaID, voterID string) (store.ToggleResult, error) {
	if strings.TrimSpace(voterID) == "" {
		return store.ToggleResult{}, apperr.ErrUnauthenticated
	}

	var lastErr error
	for attempt := 1; attempt <= l.attempts; attempt++ {
		result, err := l.store.ToggleUpvote(ctx, ideaID, voterID)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, apperr.ErrConflictRetryable) {
			return store.ToggleResult{}, fmt.Errorf("toggle upvote: %w", err)
		}
		lastErr = err
		l.logger.Debug("ledger: toggle conflict, retrying", "idea_id", ideaID, "attempt", attempt, "error", err)

		if attempt == l.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return store.ToggleResult{}, fmt.Errorf("toggle upvote: %w", ctx.Err())
		case <-time.After(l.backoff * time.Duration(attempt)):
		}
	}

	l.logger.Warn("ledger: toggle gave up", "idea_id", ideaID, "attempts", l.attempts, "error", lastErr)
	return store.ToggleResult{}, fmt.Errorf("toggle upvote after %d attempts: %w (%v)", l.attempts, apperr.ErrTransient, lastErr)
}

// Verify recounts the ledger for ideaID and repairs the cached count if it
// drifted. repaired reports whether a rewrite happened.
func (l *Ledger) Verify(ctx context.Context, ideaID string) (idea store.Idea, repaired bool, err error) {
	idea, repaired, err = l.store.RecountUpvotes(ctx, ideaID)
	if err != nil {
		return store.Idea{}, false, fmt.Errorf("verify upvotes: %w", err)
	}
	if repaired {
		l.logger.Warn("ledger: upvote cache repaired", "idea_id", ideaID, "count", idea.UpvoteCount)
	}
	return idea, repaired, nil
}
