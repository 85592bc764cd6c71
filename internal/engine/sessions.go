package engine

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"unicode/utf8"

	"ideaboard/api/internal/access"
	"ideaboard/api/internal/apperr"
	"ideaboard/api/internal/feed"
	"ideaboard/api/internal/store"
	"ideaboard/api/internal/timer"
	"ideaboard/api/internal/util"
)

type NewSession struct {
	Title            string `json:"title"`
	Prompt           string `json:"prompt"`
	TimeLimitMinutes *int   `json:"timeLimitMinutes,omitempty"`
	IsPrivate        bool   `json:"isPrivate"`
}

// Dashboard is what an actor sees on their landing page.
type Dashboard struct {
	Sessions []store.Session `json:"sessions"`
	Ideas    []store.Idea    `json:"ideas"`
}

func (e *Engine) CreateSession(ctx context.Context, actor *access.Actor, input NewSession) (store.Session, error) {
	if !actor.Authenticated() {
		return store.Session{}, apperr.ErrUnauthenticated
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return store.Session{}, fmt.Errorf("session title is required: %w", apperr.ErrInvalidInput)
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return store.Session{}, fmt.Errorf("session title exceeds %d characters: %w", MaxTitleLength, apperr.ErrInvalidInput)
	}
	prompt := strings.TrimSpace(input.Prompt)
	if utf8.RuneCountInString(prompt) > MaxPromptLength {
		return store.Session{}, fmt.Errorf("session prompt exceeds %d characters: %w", MaxPromptLength, apperr.ErrInvalidInput)
	}
	if limit := input.TimeLimitMinutes; limit != nil && (*limit <= 0 || *limit > timer.MaxDurationMinutes) {
		return store.Session{}, fmt.Errorf("time limit must be between 1 and %d minutes: %w", timer.MaxDurationMinutes, apperr.ErrInvalidInput)
	}

	var lastErr error
	for attempt := 0; attempt < createSessionAttempts; attempt++ {
		session := store.Session{
			ID:               util.NewID("session"),
			Title:            title,
			Prompt:           prompt,
			CreatorID:        actor.ID,
			CreatedAt:        e.clock.Now(),
			TimeLimitMinutes: input.TimeLimitMinutes,
			IsPrivate:        input.IsPrivate,
		}
		code, err := util.NewInviteCode(0)
		if err != nil {
			return store.Session{}, fmt.Errorf("create session: %w: %w", apperr.ErrTransient, err)
		}
		session.InviteCode = code
		err = e.store.CreateSession(ctx, session)
		if err == nil {
			e.logger.Info("engine: session created", "session_id", session.ID, "creator_id", actor.ID, "private", session.IsPrivate)
			return session, nil
		}
		if !errors.Is(err, apperr.ErrConflictRetryable) {
			return store.Session{}, fmt.Errorf("create session: %w", err)
		}
		lastErr = err
	}
	return store.Session{}, fmt.Errorf("create session: %w (%v)", apperr.ErrTransient, lastErr)
}

func (e *Engine) GetSession(ctx context.Context, actor *access.Actor, sessionID string) (store.Session, error) {
	return e.authorizedSession(ctx, actor, access.ActionRead, sessionID)
}

// ListSessions returns the sessions actor may read, newest first. Anonymous
// callers only see public sessions.
func (e *Engine) ListSessions(ctx context.Context, actor *access.Actor) ([]store.Session, error) {
	actorID, email := "", ""
	if actor.Authenticated() {
		actorID, email = actor.ID, access.NormalizeEmail(actor.Email)
	}
	sessions, err := e.store.ListVisibleSessions(ctx, actorID, email)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

func (e *Engine) Dashboard(ctx context.Context, actor *access.Actor) (Dashboard, error) {
	if !actor.Authenticated() {
		return Dashboard{}, apperr.ErrUnauthenticated
	}
	sessions, err := e.store.ListSessionsByCreator(ctx, actor.ID)
	if err != nil {
		return Dashboard{}, fmt.Errorf("dashboard sessions: %w", err)
	}
	ideas, err := e.store.ListIdeasByCreator(ctx, actor.ID)
	if err != nil {
		return Dashboard{}, fmt.Errorf("dashboard ideas: %w", err)
	}
	return Dashboard{Sessions: sessions, Ideas: ideas}, nil
}

// StartRound opens a round of durationMinutes from now. Only the creator may
// start rounds; starting one while another is active replaces it.
func (e *Engine) StartRound(ctx context.Context, actor *access.Actor, sessionID string, durationMinutes int) (store.Session, error) {
	if _, err := e.authorizedSession(ctx, actor, access.ActionModerate, sessionID); err != nil {
		return store.Session{}, err
	}
	now := e.clock.Now()
	endsAt, err := timer.StartRound(durationMinutes, now)
	if err != nil {
		return store.Session{}, err
	}
	session, err := e.store.UpdateRound(ctx, sessionID, now, endsAt)
	if err != nil {
		return store.Session{}, fmt.Errorf("start round: %w", err)
	}
	e.logger.Info("engine: round started", "session_id", sessionID, "ends_at", endsAt)
	e.publish(ctx, feed.Updated, feed.TableSessions, sessionID, session)
	return session, nil
}

func (e *Engine) RoundState(ctx context.Context, actor *access.Actor, sessionID string) (timer.State, error) {
	session, err := e.authorizedSession(ctx, actor, access.ActionRead, sessionID)
	if err != nil {
		return timer.State{}, err
	}
	return timer.Compute(session, e.clock.Now()), nil
}

// Invite records an invitation for email on a private session. Inviting the
// same address twice is not an error.
func (e *Engine) Invite(ctx context.Context, actor *access.Actor, sessionID, email string) (store.Invitation, error) {
	session, err := e.authorizedSession(ctx, actor, access.ActionModerate, sessionID)
	if err != nil {
		return store.Invitation{}, err
	}
	if !session.IsPrivate {
		return store.Invitation{}, fmt.Errorf("session is public, invitations are not needed: %w", apperr.ErrInvalidInput)
	}
	normalized, err := parseEmail(email)
	if err != nil {
		return store.Invitation{}, err
	}
	invitation := store.Invitation{
		SessionID: sessionID,
		Email:     normalized,
		InvitedBy: actor.ID,
		CreatedAt: e.clock.Now(),
	}
	created, err := e.store.AddInvitation(ctx, invitation)
	if err != nil {
		return store.Invitation{}, fmt.Errorf("invite: %w", err)
	}
	if created {
		e.logger.Info("engine: invitation added", "session_id", sessionID)
	}
	return invitation, nil
}

func (e *Engine) ListInvitations(ctx context.Context, actor *access.Actor, sessionID string) ([]store.Invitation, error) {
	if _, err := e.authorizedSession(ctx, actor, access.ActionModerate, sessionID); err != nil {
		return nil, err
	}
	invitations, err := e.store.ListInvitations(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list invitations: %w", err)
	}
	return invitations, nil
}

// JoinWithCode looks a session up by its invite code. For a private session
// the actor's email is added to the invitation list, so knowing the code is
// enough to become a member.
func (e *Engine) JoinWithCode(ctx context.Context, actor *access.Actor, code string) (store.Session, error) {
	if !actor.Authenticated() {
		return store.Session{}, apperr.ErrUnauthenticated
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return store.Session{}, fmt.Errorf("invite code is required: %w", apperr.ErrInvalidInput)
	}
	session, err := e.store.GetSessionByInviteCode(ctx, code)
	if err != nil {
		return store.Session{}, fmt.Errorf("join session: %w", err)
	}
	if !session.IsPrivate || session.CreatorID == actor.ID {
		return session, nil
	}
	email, err := parseEmail(actor.Email)
	if err != nil {
		return store.Session{}, fmt.Errorf("joining a private session needs an email: %w", err)
	}
	if _, err := e.store.AddInvitation(ctx, store.Invitation{
		SessionID: session.ID,
		Email:     email,
		InvitedBy: actor.ID,
		CreatedAt: e.clock.Now(),
	}); err != nil {
		return store.Session{}, fmt.Errorf("join session: %w", err)
	}
	e.logger.Info("engine: joined with invite code", "session_id", session.ID, "actor_id", actor.ID)
	return session, nil
}

func parseEmail(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("email is required: %w", apperr.ErrInvalidInput)
	}
	addr, err := mail.ParseAddress(raw)
	if err != nil || addr.Address != raw {
		return "", fmt.Errorf("email %q is not valid: %w", raw, apperr.ErrInvalidInput)
	}
	return access.NormalizeEmail(addr.Address), nil
}
