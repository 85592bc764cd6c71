// Package feed carries row-level change notifications for a session scope.
// Delivery is at-least-once and unordered relative to a client's own local
// updates; consumers reconcile idempotently. A Changes channel that closes
// before the consumer called Close means the subscription was lost and the
// consumer must resubscribe and resync.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type Kind string

const (
	Inserted Kind = "INSERT"
	Updated  Kind = "UPDATE"
	Deleted  Kind = "DELETE"
)

type Table string

const (
	TableSessions Table = "sessions"
	TableIdeas    Table = "ideas"
	TableComments Table = "comments"
	TableUpvotes  Table = "upvotes"
)

type Change struct {
	Kind   Kind            `json:"event"`
	Table  Table           `json:"table"`
	Scope  string          `json:"scope"`
	Record json.RawMessage `json:"record"`
	At     time.Time       `json:"at"`
}

const scopePrefix = "session:"

// ScopeKey is the channel key for everything that happens in one session.
func ScopeKey(sessionID string) string {
	return scopePrefix + sessionID
}

// SessionID extracts the session id from a scope key.
func SessionID(scope string) (string, bool) {
	return strings.CutPrefix(scope, scopePrefix)
}

func NewChange(kind Kind, table Table, sessionID string, record any, at time.Time) (Change, error) {
	payload, err := json.Marshal(record)
	if err != nil {
		return Change{}, fmt.Errorf("encode %s record: %w", table, err)
	}
	return Change{Kind: kind, Table: table, Scope: ScopeKey(sessionID), Record: payload, At: at}, nil
}

// Decode unmarshals the change record into v.
func (c Change) Decode(v any) error {
	if err := json.Unmarshal(c.Record, v); err != nil {
		return fmt.Errorf("decode %s record: %w", c.Table, err)
	}
	return nil
}

type Publisher interface {
	Publish(ctx context.Context, change Change) error
}

type Subscription interface {
	Changes() <-chan Change
	Close() error
}

type Subscriber interface {
	Subscribe(ctx context.Context, scope string) (Subscription, error)
}

type Feed interface {
	Publisher
	Subscriber
}
