package store

import "time"

// MaxDurationMinutes is the longest session time limit or round, one leap
// year. The schema carries the same bound.
const MaxDurationMinutes = 366 * 24 * 60

type Session struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	Prompt           string     `json:"prompt"`
	CreatorID        string     `json:"creatorId"`
	CreatedAt        time.Time  `json:"createdAt"`
	TimeLimitMinutes *int       `json:"timeLimitMinutes,omitempty"`
	IsPrivate        bool       `json:"isPrivate"`
	InviteCode       string     `json:"inviteCode"`
	RoundStartedAt   *time.Time `json:"roundStartedAt,omitempty"`
	RoundEndsAt      *time.Time `json:"roundEndsAt,omitempty"`
}

// Idea is immutable after creation except for UpvoteCount, which is a cache
// of the upvote ledger, and Version, which increases with every vote change.
type Idea struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"sessionId"`
	Content     string    `json:"content"`
	CreatorID   string    `json:"creatorId"`
	CreatedAt   time.Time `json:"createdAt"`
	UpvoteCount int       `json:"upvoteCount"`
	Version     int64     `json:"version"`
	ImageRef    *string   `json:"imageRef,omitempty"`
}

type Upvote struct {
	IdeaID    string    `json:"ideaId"`
	SessionID string    `json:"sessionId"`
	VoterID   string    `json:"voterId"`
	CreatedAt time.Time `json:"createdAt"`
}

type Comment struct {
	ID              string    `json:"id"`
	IdeaID          string    `json:"ideaId"`
	Content         string    `json:"content"`
	CreatorID       string    `json:"creatorId"`
	CreatedAt       time.Time `json:"createdAt"`
	ParentCommentID *string   `json:"parentCommentId,omitempty"`
}

type Invitation struct {
	SessionID string    `json:"sessionId"`
	Email     string    `json:"email"`
	InvitedBy string    `json:"invitedBy"`
	CreatedAt time.Time `json:"createdAt"`
}

// ToggleResult is the outcome of one upvote toggle. Idea carries the count
// and version as written by the same transaction.
type ToggleResult struct {
	Voted  bool   `json:"voted"`
	Idea   Idea   `json:"idea"`
	Upvote Upvote `json:"upvote"`
}

// Count is the idea's upvote count after the toggle.
func (r ToggleResult) Count() int {
	return r.Idea.UpvoteCount
}
