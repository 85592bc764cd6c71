package feed

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ideaboard/api/internal/store"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func receive(t *testing.T, ch <-chan Change) (Change, bool) {
	t.Helper()
	select {
	case change, ok := <-ch:
		return change, ok
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change")
		return Change{}, false
	}
}

func TestChangeRoundTrip(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	change, err := NewChange(Inserted, TableIdeas, "s1", store.Idea{ID: "i1", SessionID: "s1"}, at)
	require.NoError(t, err)
	require.Equal(t, "session:s1", change.Scope)

	var idea store.Idea
	require.NoError(t, change.Decode(&idea))
	require.Equal(t, "i1", idea.ID)

	sessionID, ok := SessionID(change.Scope)
	require.True(t, ok)
	require.Equal(t, "s1", sessionID)
}

func TestHubDeliversOnlyToScope(t *testing.T) {
	hub := NewHub(4, quietLogger())
	ctx := context.Background()

	a, err := hub.Subscribe(ctx, ScopeKey("a"))
	require.NoError(t, err)
	b, err := hub.Subscribe(ctx, ScopeKey("b"))
	require.NoError(t, err)

	change, err := NewChange(Inserted, TableIdeas, "a", map[string]string{"id": "i1"}, time.Now())
	require.NoError(t, err)
	require.NoError(t, hub.Publish(ctx, change))

	got, ok := receive(t, a.Changes())
	require.True(t, ok)
	require.Equal(t, TableIdeas, got.Table)

	select {
	case <-b.Changes():
		t.Fatal("scope b must not receive scope a changes")
	default:
	}
}

func TestHubCloseIsIdempotentAndClosesChannel(t *testing.T) {
	hub := NewHub(1, quietLogger())
	sub, err := hub.Subscribe(context.Background(), ScopeKey("s"))
	require.NoError(t, err)
	require.Equal(t, 1, hub.Subscribers(ScopeKey("s")))

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
	_, ok := <-sub.Changes()
	require.False(t, ok)
	require.Equal(t, 0, hub.Subscribers(ScopeKey("s")))
}

func TestHubDisconnectsSlowSubscriber(t *testing.T) {
	hub := NewHub(1, quietLogger())
	ctx := context.Background()
	sub, err := hub.Subscribe(ctx, ScopeKey("s"))
	require.NoError(t, err)

	change, err := NewChange(Updated, TableSessions, "s", map[string]string{}, time.Now())
	require.NoError(t, err)
	require.NoError(t, hub.Publish(ctx, change))
	require.NoError(t, hub.Publish(ctx, change))

	_, ok := receive(t, sub.Changes())
	require.True(t, ok, "buffered change is still delivered")
	_, ok = receive(t, sub.Changes())
	require.False(t, ok, "overflow closes the channel")
	require.NoError(t, sub.Close())
}

func TestHubKick(t *testing.T) {
	hub := NewHub(0, quietLogger())
	sub, err := hub.Subscribe(context.Background(), ScopeKey("s"))
	require.NoError(t, err)
	hub.Kick(ScopeKey("s"))
	_, ok := receive(t, sub.Changes())
	require.False(t, ok)

	require.NoError(t, hub.Close())
	_, err = hub.Subscribe(context.Background(), ScopeKey("s"))
	require.Error(t, err)
}
