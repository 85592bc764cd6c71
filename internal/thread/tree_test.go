package thread

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ideaboard/api/internal/apperr"
	"ideaboard/api/internal/store"
	"ideaboard/api/internal/timer"
)

var t0 = time.Date(2024, 2, 2, 10, 0, 0, 0, time.UTC)

func comment(id string, parent string, offset time.Duration) store.Comment {
	c := store.Comment{ID: id, IdeaID: "idea", Content: id, CreatorID: "u", CreatedAt: t0.Add(offset)}
	if parent != "" {
		c.ParentCommentID = &parent
	}
	return c
}

func shape(nodes []Node) string {
	parts := make([]string, 0, len(nodes))
	for _, node := range nodes {
		part := node.Comment.ID
		if len(node.Replies) > 0 {
			part += "(" + shape(node.Replies) + ")"
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, " ")
}

func TestBuildTreeNestsReplies(t *testing.T) {
	forest := BuildTree([]store.Comment{
		comment("r2", "", 2*time.Second),
		comment("a1", "r1", 3*time.Second),
		comment("r1", "", time.Second),
		comment("a2", "r1", 4*time.Second),
		comment("b1", "a1", 5*time.Second),
	})

	require.Equal(t, "r1(a1(b1) a2) r2", shape(forest))
	require.Equal(t, 0, forest[0].Depth)
	require.Equal(t, 2, forest[0].Replies[0].Replies[0].Depth)
	require.Equal(t, 5, Count(forest))
}

func TestBuildTreeKeepsOrphansAsRoots(t *testing.T) {
	forest := BuildTree([]store.Comment{
		comment("orphan", "gone", 2*time.Second),
		comment("root", "", time.Second),
		comment("reply", "orphan", 3*time.Second),
	})
	require.Equal(t, "root orphan(reply)", shape(forest))
}

func TestBuildTreeIsIdempotent(t *testing.T) {
	input := []store.Comment{
		comment("r1", "", 0),
		comment("a1", "r1", time.Second),
		comment("x", "missing", 2*time.Second),
		comment("b1", "a1", 3*time.Second),
	}
	first := BuildTree(input)
	second := BuildTree(Flatten(first))
	require.Equal(t, first, second)
}

func TestBuildTreeBreaksCycles(t *testing.T) {
	forest := BuildTree([]store.Comment{
		comment("c2", "c1", 2*time.Second),
		comment("c1", "c2", time.Second),
		comment("self", "self", 3*time.Second),
	})
	require.Equal(t, "c1(c2) self", shape(forest))
	require.Equal(t, 3, Count(forest))
}

func TestBuildTreeHandlesDeepChains(t *testing.T) {
	const depth = 200000
	comments := make([]store.Comment, 0, depth)
	parent := ""
	for i := 0; i < depth; i++ {
		id := fmt.Sprintf("c%06d", i)
		comments = append(comments, comment(id, parent, time.Duration(i)*time.Millisecond))
		parent = id
	}

	forest := BuildTree(comments)
	require.Len(t, forest, 1)
	require.Equal(t, depth, Count(forest))

	node := forest[0]
	for len(node.Replies) > 0 {
		require.Len(t, node.Replies, 1)
		node = node.Replies[0]
	}
	require.Equal(t, depth-1, node.Depth)
	require.Equal(t, comments[depth-1].ID, node.Comment.ID)

	flat := Flatten(forest)
	require.Len(t, flat, depth)
	require.Equal(t, comments[0].ID, flat[0].ID)
	require.Equal(t, comments[depth-1].ID, flat[depth-1].ID)
}

func TestBuildTreeIgnoresDuplicates(t *testing.T) {
	forest := BuildTree([]store.Comment{comment("r1", "", 0), comment("r1", "", 0)})
	require.Len(t, forest, 1)
}

func TestGroupByIdea(t *testing.T) {
	other := comment("o1", "", 0)
	other.IdeaID = "other"
	forests := GroupByIdea([]store.Comment{comment("r1", "", 0), other})
	require.Len(t, forests, 2)
	require.Equal(t, "o1", forests["other"][0].Comment.ID)
}

func TestServiceAdd(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	require.NoError(t, mem.CreateSession(ctx, store.Session{ID: "s", CreatorID: "c", CreatedAt: t0, InviteCode: "code"}))
	_, err := mem.CreateIdea(ctx, store.Idea{ID: "i1", SessionID: "s", Content: "x", CreatorID: "c", CreatedAt: t0})
	require.NoError(t, err)
	_, err = mem.CreateIdea(ctx, store.Idea{ID: "i2", SessionID: "s", Content: "y", CreatorID: "c", CreatedAt: t0})
	require.NoError(t, err)

	clock := timer.Fake(t0)
	svc := NewService(mem, clock)

	root, err := svc.Add(ctx, "", "i1", "  first  ", "u1", nil)
	require.NoError(t, err)
	require.Equal(t, "first", root.Content)
	require.Equal(t, t0, root.CreatedAt)

	clock.Advance(time.Second)
	reply, err := svc.Add(ctx, "", "i1", "second", "u2", &root.ID)
	require.NoError(t, err)
	require.Equal(t, root.ID, *reply.ParentCommentID)

	_, err = svc.Add(ctx, "", "i2", "wrong idea", "u2", &root.ID)
	require.True(t, errors.Is(err, apperr.ErrInvalidParent), "got %v", err)

	_, err = svc.Add(ctx, "", "i1", "   ", "u2", nil)
	require.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = svc.Add(ctx, "", "i1", "anon", "", nil)
	require.ErrorIs(t, err, apperr.ErrUnauthenticated)

	_, err = svc.Add(ctx, "", "i1", strings.Repeat("x", MaxCommentLength+1), "u2", nil)
	require.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = svc.Add(ctx, "not-an-id", "i1", "bad id", "u2", nil)
	require.ErrorIs(t, err, apperr.ErrInvalidInput)

	empty := ""
	flat, err := svc.Add(ctx, "", "i1", "blank parent", "u3", &empty)
	require.NoError(t, err)
	require.Nil(t, flat.ParentCommentID)

	tree, err := svc.Tree(ctx, "i1")
	require.NoError(t, err)
	require.Equal(t, 3, Count(tree))
	require.Len(t, tree, 2)
}
