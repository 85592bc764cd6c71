package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"ideaboard/api/internal/apperr"
)

type voteKey struct {
	ideaID  string
	voterID string
}

type inviteKey struct {
	sessionID string
	email     string
}

// MemoryStore keeps everything in process. It mirrors the constraints of the
// Postgres schema so the engine behaves the same against either backend.
type MemoryStore struct {
	mu          sync.RWMutex
	sessions    map[string]Session
	ideas       map[string]Idea
	upvotes     map[voteKey]Upvote
	comments    map[string]Comment
	invitations map[inviteKey]Invitation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:    make(map[string]Session),
		ideas:       make(map[string]Idea),
		upvotes:     make(map[voteKey]Upvote),
		comments:    make(map[string]Comment),
		invitations: make(map[inviteKey]Invitation),
	}
}

func (m *MemoryStore) CreateSession(ctx context.Context, item Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[item.ID]; ok {
		return fmt.Errorf("insert session: %w", apperr.ErrConflictRetryable)
	}
	for _, existing := range m.sessions {
		if existing.InviteCode == item.InviteCode {
			return fmt.Errorf("insert session: invite code taken: %w", apperr.ErrConflictRetryable)
		}
	}
	if item.TimeLimitMinutes != nil && (*item.TimeLimitMinutes <= 0 || *item.TimeLimitMinutes > MaxDurationMinutes) {
		return fmt.Errorf("insert session: time limit out of range: %w", apperr.ErrInvalidInput)
	}
	m.sessions[item.ID] = item
	return nil
}

func (m *MemoryStore) GetSession(ctx context.Context, sessionID string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.sessions[sessionID]
	if !ok {
		return Session{}, fmt.Errorf("get session: %w", apperr.ErrNotFound)
	}
	return item, nil
}

func (m *MemoryStore) GetSessionByInviteCode(ctx context.Context, code string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, item := range m.sessions {
		if item.InviteCode == code {
			return item, nil
		}
	}
	return Session{}, fmt.Errorf("get session by invite code: %w", apperr.ErrNotFound)
}

func (m *MemoryStore) ListVisibleSessions(ctx context.Context, actorID, email string) ([]Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	email = strings.ToLower(strings.TrimSpace(email))
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := make([]Session, 0)
	for _, item := range m.sessions {
		_, invited := m.invitations[inviteKey{sessionID: item.ID, email: email}]
		if !item.IsPrivate || (actorID != "" && item.CreatorID == actorID) || (email != "" && invited) {
			items = append(items, item)
		}
	}
	sortSessions(items)
	return items, nil
}

func (m *MemoryStore) ListSessionsByCreator(ctx context.Context, creatorID string) ([]Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := make([]Session, 0)
	for _, item := range m.sessions {
		if item.CreatorID == creatorID {
			items = append(items, item)
		}
	}
	sortSessions(items)
	return items, nil
}

func sortSessions(items []Session) {
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
}

func (m *MemoryStore) UpdateRound(ctx context.Context, sessionID string, startedAt, endsAt time.Time) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.sessions[sessionID]
	if !ok {
		return Session{}, fmt.Errorf("update round: %w", apperr.ErrNotFound)
	}
	if endsAt.Before(startedAt) || endsAt.Sub(startedAt) > MaxDurationMinutes*time.Minute {
		return Session{}, fmt.Errorf("update round: round length out of range: %w", apperr.ErrInvalidInput)
	}
	item.RoundStartedAt = &startedAt
	item.RoundEndsAt = &endsAt
	m.sessions[sessionID] = item
	return item, nil
}

func (m *MemoryStore) CreateIdea(ctx context.Context, item Idea) (Idea, error) {
	if err := ctx.Err(); err != nil {
		return Idea{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[item.SessionID]; !ok {
		return Idea{}, fmt.Errorf("insert idea: %w", apperr.ErrNotFound)
	}
	if _, ok := m.ideas[item.ID]; ok {
		return Idea{}, fmt.Errorf("insert idea: %w", apperr.ErrConflictRetryable)
	}
	item.UpvoteCount = 0
	item.Version = 1
	m.ideas[item.ID] = item
	return item, nil
}

func (m *MemoryStore) GetIdea(ctx context.Context, ideaID string) (Idea, error) {
	if err := ctx.Err(); err != nil {
		return Idea{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.ideas[ideaID]
	if !ok {
		return Idea{}, fmt.Errorf("get idea: %w", apperr.ErrNotFound)
	}
	return item, nil
}

func (m *MemoryStore) ListIdeas(ctx context.Context, sessionID string) ([]Idea, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := make([]Idea, 0)
	for _, item := range m.ideas {
		if item.SessionID == sessionID {
			items = append(items, item)
		}
	}
	sortByCreation(items)
	return items, nil
}

func (m *MemoryStore) ListIdeasByCreator(ctx context.Context, creatorID string) ([]Idea, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := make([]Idea, 0)
	for _, item := range m.ideas {
		if item.CreatorID == creatorID {
			items = append(items, item)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

func (m *MemoryStore) DeleteIdea(ctx context.Context, ideaID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ideas[ideaID]; !ok {
		return fmt.Errorf("delete idea: %w", apperr.ErrNotFound)
	}
	delete(m.ideas, ideaID)
	for key := range m.upvotes {
		if key.ideaID == ideaID {
			delete(m.upvotes, key)
		}
	}
	for id, comment := range m.comments {
		if comment.IdeaID == ideaID {
			delete(m.comments, id)
		}
	}
	return nil
}

func (m *MemoryStore) ToggleUpvote(ctx context.Context, ideaID, voterID string) (ToggleResult, error) {
	if err := ctx.Err(); err != nil {
		return ToggleResult{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	idea, ok := m.ideas[ideaID]
	if !ok {
		return ToggleResult{}, fmt.Errorf("lookup idea: %w", apperr.ErrNotFound)
	}

	key := voteKey{ideaID: ideaID, voterID: voterID}
	vote, existed := m.upvotes[key]
	if existed {
		delete(m.upvotes, key)
		idea.UpvoteCount--
	} else {
		vote = Upvote{IdeaID: ideaID, SessionID: idea.SessionID, VoterID: voterID, CreatedAt: time.Now().UTC()}
		m.upvotes[key] = vote
		idea.UpvoteCount++
	}
	idea.Version++
	m.ideas[ideaID] = idea
	return ToggleResult{Voted: !existed, Idea: idea, Upvote: vote}, nil
}

func (m *MemoryStore) ListVotedIdeas(ctx context.Context, sessionID, voterID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0)
	for key, vote := range m.upvotes {
		if key.voterID == voterID && vote.SessionID == sessionID {
			ids = append(ids, key.ideaID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryStore) RecountUpvotes(ctx context.Context, ideaID string) (Idea, bool, error) {
	if err := ctx.Err(); err != nil {
		return Idea{}, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	idea, ok := m.ideas[ideaID]
	if !ok {
		return Idea{}, false, fmt.Errorf("lock idea: %w", apperr.ErrNotFound)
	}
	actual := 0
	for key := range m.upvotes {
		if key.ideaID == ideaID {
			actual++
		}
	}
	if actual == idea.UpvoteCount {
		return idea, false, nil
	}
	idea.UpvoteCount = actual
	idea.Version++
	m.ideas[ideaID] = idea
	return idea, true, nil
}

// SetUpvoteCount overwrites the cached count without touching the ledger.
// It exists so tests can simulate a drifted cache.
func (m *MemoryStore) SetUpvoteCount(ideaID string, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if idea, ok := m.ideas[ideaID]; ok {
		idea.UpvoteCount = count
		m.ideas[ideaID] = idea
	}
}

func (m *MemoryStore) CreateComment(ctx context.Context, item Comment) (Comment, error) {
	if err := ctx.Err(); err != nil {
		return Comment{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ideas[item.IdeaID]; !ok {
		return Comment{}, fmt.Errorf("insert comment: %w", apperr.ErrNotFound)
	}
	if item.ParentCommentID != nil {
		parent, ok := m.comments[*item.ParentCommentID]
		if !ok || parent.IdeaID != item.IdeaID {
			return Comment{}, fmt.Errorf("insert comment: %w", apperr.ErrInvalidParent)
		}
	}
	if _, ok := m.comments[item.ID]; ok {
		return Comment{}, fmt.Errorf("insert comment: %w", apperr.ErrConflictRetryable)
	}
	m.comments[item.ID] = item
	return item, nil
}

func (m *MemoryStore) GetComment(ctx context.Context, commentID string) (Comment, error) {
	if err := ctx.Err(); err != nil {
		return Comment{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.comments[commentID]
	if !ok {
		return Comment{}, fmt.Errorf("get comment: %w", apperr.ErrNotFound)
	}
	return item, nil
}

func (m *MemoryStore) ListComments(ctx context.Context, ideaID string) ([]Comment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := make([]Comment, 0)
	for _, item := range m.comments {
		if item.IdeaID == ideaID {
			items = append(items, item)
		}
	}
	sortComments(items)
	return items, nil
}

func (m *MemoryStore) ListSessionComments(ctx context.Context, sessionID string) ([]Comment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := make([]Comment, 0)
	for _, item := range m.comments {
		if idea, ok := m.ideas[item.IdeaID]; ok && idea.SessionID == sessionID {
			items = append(items, item)
		}
	}
	sortComments(items)
	return items, nil
}

// sortByCreation orders ideas oldest first. Ranking is applied by callers.
func sortByCreation(items []Idea) {
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
}

func sortComments(items []Comment) {
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
}

func (m *MemoryStore) AddInvitation(ctx context.Context, item Invitation) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	item.Email = strings.ToLower(strings.TrimSpace(item.Email))
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[item.SessionID]; !ok {
		return false, fmt.Errorf("insert invitation: %w", apperr.ErrNotFound)
	}
	key := inviteKey{sessionID: item.SessionID, email: item.Email}
	if _, ok := m.invitations[key]; ok {
		return false, nil
	}
	m.invitations[key] = item
	return true, nil
}

func (m *MemoryStore) IsInvited(ctx context.Context, sessionID, email string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.invitations[inviteKey{sessionID: sessionID, email: strings.ToLower(strings.TrimSpace(email))}]
	return ok, nil
}

func (m *MemoryStore) ListInvitations(ctx context.Context, sessionID string) ([]Invitation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := make([]Invitation, 0)
	for key, item := range m.invitations {
		if key.sessionID == sessionID {
			items = append(items, item)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].Email < items[j].Email
	})
	return items, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}
