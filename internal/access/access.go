// Package access decides whether an actor may read, write, delete in, or
// moderate a session. The predicates are pure; Evaluator adds the invitation
// lookup and maps denials to apperr values.
package access

import (
	"context"
	"fmt"
	"strings"

	"ideaboard/api/internal/apperr"
	"ideaboard/api/internal/store"
)

// Actor is an authenticated identity. A nil *Actor is an anonymous caller.
type Actor struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

func (a *Actor) Authenticated() bool {
	return a != nil && strings.TrimSpace(a.ID) != ""
}

type Action string

const (
	ActionRead     Action = "read"
	ActionWrite    Action = "write"
	ActionDelete   Action = "delete"
	ActionModerate Action = "moderate"
)

// NormalizeEmail is the form invitations are stored and compared in.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func isCreator(actor *Actor, session store.Session) bool {
	return actor.Authenticated() && actor.ID == session.CreatorID
}

// CanRead reports whether actor may see the session. invited is whether the
// actor's email matches an invitation for the session.
func CanRead(actor *Actor, session store.Session, invited bool) bool {
	if !session.IsPrivate {
		return true
	}
	if !actor.Authenticated() {
		return false
	}
	return isCreator(actor, session) || invited
}

// CanWrite uses the same membership rule as CanRead but always requires an
// identity, since every write records its author.
func CanWrite(actor *Actor, session store.Session, invited bool) bool {
	return actor.Authenticated() && CanRead(actor, session, invited)
}

func CanDelete(actor *Actor, idea store.Idea, session store.Session) bool {
	if !actor.Authenticated() {
		return false
	}
	return actor.ID == idea.CreatorID || actor.ID == session.CreatorID
}

func CanModerate(actor *Actor, session store.Session) bool {
	return isCreator(actor, session)
}

// InvitationChecker is the storage lookup the evaluator needs.
type InvitationChecker interface {
	IsInvited(ctx context.Context, sessionID, email string) (bool, error)
}

type Evaluator struct {
	invites InvitationChecker
}

func NewEvaluator(invites InvitationChecker) *Evaluator {
	return &Evaluator{invites: invites}
}

// Invited reports whether actor holds an invitation for session. It only hits
// storage when the answer can change the outcome.
func (e *Evaluator) Invited(ctx context.Context, actor *Actor, session store.Session) (bool, error) {
	if !session.IsPrivate || !actor.Authenticated() || isCreator(actor, session) {
		return false, nil
	}
	email := NormalizeEmail(actor.Email)
	if email == "" || e.invites == nil {
		return false, nil
	}
	invited, err := e.invites.IsInvited(ctx, session.ID, email)
	if err != nil {
		return false, fmt.Errorf("lookup invitation: %w", err)
	}
	return invited, nil
}

// Authorize returns nil when actor may perform action, apperr.ErrUnauthenticated
// when an identity is required but missing, and apperr.ErrForbidden otherwise.
// idea is only consulted for ActionDelete. Lookup failures deny.
func (e *Evaluator) Authorize(ctx context.Context, actor *Actor, action Action, session store.Session, idea *store.Idea) error {
	if action != ActionRead && !actor.Authenticated() {
		return apperr.ErrUnauthenticated
	}

	switch action {
	case ActionRead, ActionWrite:
		invited, err := e.Invited(ctx, actor, session)
		if err != nil {
			return err
		}
		allowed := CanRead(actor, session, invited)
		if action == ActionWrite {
			allowed = CanWrite(actor, session, invited)
		}
		if allowed {
			return nil
		}
		if !actor.Authenticated() {
			return apperr.ErrUnauthenticated
		}
		return apperr.ErrForbidden
	case ActionDelete:
		if idea == nil || idea.SessionID != session.ID {
			return apperr.ErrForbidden
		}
		if CanDelete(actor, *idea, session) {
			return nil
		}
		return apperr.ErrForbidden
	case ActionModerate:
		if CanModerate(actor, session) {
			return nil
		}
		return apperr.ErrForbidden
	default:
		return apperr.ErrForbidden
	}
}
