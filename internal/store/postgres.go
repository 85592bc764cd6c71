package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"ideaboard/api/internal/apperr"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

const sessionColumns = `id, title, prompt, creator_id, created_at, time_limit_minutes, is_private, invite_code, round_started_at, round_ends_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var item Session
	var limit sql.NullInt32
	var startedAt, endsAt sql.NullTime
	if err := row.Scan(&item.ID, &item.Title, &item.Prompt, &item.CreatorID, &item.CreatedAt, &limit, &item.IsPrivate, &item.InviteCode, &startedAt, &endsAt); err != nil {
		return Session{}, err
	}
	if limit.Valid {
		minutes := int(limit.Int32)
		item.TimeLimitMinutes = &minutes
	}
	if startedAt.Valid {
		value := startedAt.Time
		item.RoundStartedAt = &value
	}
	if endsAt.Valid {
		value := endsAt.Time
		item.RoundEndsAt = &value
	}
	return item, nil
}

func (s *PostgresStore) CreateSession(ctx context.Context, item Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, title, prompt, creator_id, created_at, time_limit_minutes, is_private, invite_code)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, item.ID, item.Title, item.Prompt, item.CreatorID, item.CreatedAt, item.TimeLimitMinutes, item.IsPrivate, item.InviteCode)
	return classify("insert session", err)
}

func (s *PostgresStore) GetSession(ctx context.Context, sessionID string) (Session, error) {
	item, err := scanSession(s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id=$1`, sessionID))
	if err != nil {
		return Session{}, classify("get session", err)
	}
	return item, nil
}

func (s *PostgresStore) GetSessionByInviteCode(ctx context.Context, code string) (Session, error) {
	item, err := scanSession(s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE invite_code=$1`, code))
	if err != nil {
		return Session{}, classify("get session by invite code", err)
	}
	return item, nil
}

// ListVisibleSessions returns public sessions plus the private ones the actor
// created or was invited to, newest first.
func (s *PostgresStore) ListVisibleSessions(ctx context.Context, actorID, email string) ([]Session, error) {
	return s.listSessions(ctx, "list visible sessions", `
		SELECT `+sessionColumns+`
		FROM sessions s
		WHERE NOT s.is_private
		   OR ($1 <> '' AND s.creator_id = $1)
		   OR ($2 <> '' AND EXISTS (
				SELECT 1 FROM session_invitations i
				WHERE i.session_id = s.id AND i.email = $2
		   ))
		ORDER BY s.created_at DESC, s.id
	`, actorID, strings.ToLower(strings.TrimSpace(email)))
}

func (s *PostgresStore) ListSessionsByCreator(ctx context.Context, creatorID string) ([]Session, error) {
	return s.listSessions(ctx, "list sessions by creator", `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE creator_id=$1
		ORDER BY created_at DESC, id
	`, creatorID)
}

func (s *PostgresStore) listSessions(ctx context.Context, op, query string, args ...any) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	items := make([]Session, 0)
	for rows.Next() {
		item, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateRound(ctx context.Context, sessionID string, startedAt, endsAt time.Time) (Session, error) {
	item, err := scanSession(s.db.QueryRowContext(ctx, `
		UPDATE sessions
		SET round_started_at=$2, round_ends_at=$3
		WHERE id=$1
		RETURNING `+sessionColumns, sessionID, startedAt, endsAt))
	if err != nil {
		return Session{}, classify("update round", err)
	}
	return item, nil
}

const ideaColumns = `id, session_id, content, creator_id, created_at, upvotes, version, image_path`

func scanIdea(row rowScanner) (Idea, error) {
	var item Idea
	var imagePath sql.NullString
	if err := row.Scan(&item.ID, &item.SessionID, &item.Content, &item.CreatorID, &item.CreatedAt, &item.UpvoteCount, &item.Version, &imagePath); err != nil {
		return Idea{}, err
	}
	if imagePath.Valid {
		value := imagePath.String
		item.ImageRef = &value
	}
	return item, nil
}

func (s *PostgresStore) CreateIdea(ctx context.Context, item Idea) (Idea, error) {
	created, err := scanIdea(s.db.QueryRowContext(ctx, `
		INSERT INTO ideas (id, session_id, content, creator_id, created_at, image_path)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+ideaColumns,
		item.ID, item.SessionID, item.Content, item.CreatorID, item.CreatedAt, item.ImageRef))
	if err != nil {
		return Idea{}, classify("insert idea", err)
	}
	return created, nil
}

func (s *PostgresStore) GetIdea(ctx context.Context, ideaID string) (Idea, error) {
	item, err := scanIdea(s.db.QueryRowContext(ctx, `SELECT `+ideaColumns+` FROM ideas WHERE id=$1`, ideaID))
	if err != nil {
		return Idea{}, classify("get idea", err)
	}
	return item, nil
}

func (s *PostgresStore) ListIdeas(ctx context.Context, sessionID string) ([]Idea, error) {
	return s.listIdeas(ctx, "list ideas", `
		SELECT `+ideaColumns+`
		FROM ideas
		WHERE session_id=$1
		ORDER BY created_at ASC, id ASC
	`, sessionID)
}

func (s *PostgresStore) ListIdeasByCreator(ctx context.Context, creatorID string) ([]Idea, error) {
	return s.listIdeas(ctx, "list ideas by creator", `
		SELECT `+ideaColumns+`
		FROM ideas
		WHERE creator_id=$1
		ORDER BY created_at DESC, id
	`, creatorID)
}

func (s *PostgresStore) listIdeas(ctx context.Context, op, query string, args ...any) ([]Idea, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	items := make([]Idea, 0)
	for rows.Next() {
		item, err := scanIdea(rows)
		if err != nil {
			return nil, fmt.Errorf("scan idea: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}
	return items, nil
}

// DeleteIdea removes the idea; upvotes and comments go with it through
// ON DELETE CASCADE.
func (s *PostgresStore) DeleteIdea(ctx context.Context, ideaID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM ideas WHERE id=$1`, ideaID)
	if err != nil {
		return classify("delete idea", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete idea rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("delete idea: %w", apperr.ErrNotFound)
	}
	return nil
}

// ToggleUpvote flips the voter's upvote on an idea. The ledger row and the
// cached count change in one transaction, and the count only ever moves by a
// relative step so concurrent voters never overwrite each other.
func (s *PostgresStore) ToggleUpvote(ctx context.Context, ideaID, voterID string) (ToggleResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ToggleResult{}, classify("begin toggle upvote", err)
	}
	defer func() { _ = tx.Rollback() }()

	var sessionID string
	if err := tx.QueryRowContext(ctx, `SELECT session_id FROM ideas WHERE id=$1`, ideaID).Scan(&sessionID); err != nil {
		return ToggleResult{}, classify("lookup idea", err)
	}

	var createdAt time.Time
	err = tx.QueryRowContext(ctx, `
		DELETE FROM upvotes
		WHERE idea_id=$1 AND voter_id=$2
		RETURNING created_at
	`, ideaID, voterID).Scan(&createdAt)
	voted := false
	delta := -1
	switch {
	case err == nil:
	case errors.Is(err, sql.ErrNoRows):
		inserted := tx.QueryRowContext(ctx, `
			INSERT INTO upvotes (idea_id, voter_id)
			VALUES ($1, $2)
			ON CONFLICT (idea_id, voter_id) DO NOTHING
			RETURNING created_at
		`, ideaID, voterID).Scan(&createdAt)
		if errors.Is(inserted, sql.ErrNoRows) {
			// Another transaction from the same voter won the insert.
			return ToggleResult{}, fmt.Errorf("insert upvote: %w", apperr.ErrConflictRetryable)
		}
		if inserted != nil {
			return ToggleResult{}, classify("insert upvote", inserted)
		}
		voted = true
		delta = 1
	default:
		return ToggleResult{}, classify("delete upvote", err)
	}

	idea, err := scanIdea(tx.QueryRowContext(ctx, `
		UPDATE ideas
		SET upvotes = upvotes + $2, version = version + 1
		WHERE id=$1
		RETURNING `+ideaColumns, ideaID, delta))
	if err != nil {
		return ToggleResult{}, classify("update upvote count", err)
	}

	if err := tx.Commit(); err != nil {
		return ToggleResult{}, classify("commit toggle upvote", err)
	}
	return ToggleResult{
		Voted:  voted,
		Idea:   idea,
		Upvote: Upvote{IdeaID: ideaID, SessionID: sessionID, VoterID: voterID, CreatedAt: createdAt},
	}, nil
}

func (s *PostgresStore) ListVotedIdeas(ctx context.Context, sessionID, voterID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.idea_id
		FROM upvotes u
		JOIN ideas i ON i.id = u.idea_id
		WHERE i.session_id=$1 AND u.voter_id=$2
		ORDER BY u.idea_id
	`, sessionID, voterID)
	if err != nil {
		return nil, classify("list voted ideas", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan voted idea: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list voted ideas", err)
	}
	return ids, nil
}

// RecountUpvotes rewrites the cached count from the ledger. The returned bool
// is true when the cache had drifted.
func (s *PostgresStore) RecountUpvotes(ctx context.Context, ideaID string) (Idea, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Idea{}, false, classify("begin recount", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := scanIdea(tx.QueryRowContext(ctx, `SELECT `+ideaColumns+` FROM ideas WHERE id=$1 FOR UPDATE`, ideaID))
	if err != nil {
		return Idea{}, false, classify("lock idea", err)
	}
	var actual int
	if err := tx.QueryRowContext(ctx, `SELECT count(*) FROM upvotes WHERE idea_id=$1`, ideaID).Scan(&actual); err != nil {
		return Idea{}, false, classify("count upvotes", err)
	}
	if actual == current.UpvoteCount {
		return current, false, nil
	}

	updated, err := scanIdea(tx.QueryRowContext(ctx, `
		UPDATE ideas
		SET upvotes=$2, version = version + 1
		WHERE id=$1
		RETURNING `+ideaColumns, ideaID, actual))
	if err != nil {
		return Idea{}, false, classify("rewrite upvote count", err)
	}
	if err := tx.Commit(); err != nil {
		return Idea{}, false, classify("commit recount", err)
	}
	return updated, true, nil
}

const commentColumns = `id, idea_id, content, creator_id, created_at, parent_comment_id`

func scanComment(row rowScanner) (Comment, error) {
	var item Comment
	var parentID sql.NullString
	if err := row.Scan(&item.ID, &item.IdeaID, &item.Content, &item.CreatorID, &item.CreatedAt, &parentID); err != nil {
		return Comment{}, err
	}
	if parentID.Valid {
		value := parentID.String
		item.ParentCommentID = &value
	}
	return item, nil
}

// CreateComment inserts a comment. A parent on another idea violates the
// composite foreign key and surfaces as apperr.ErrInvalidParent.
func (s *PostgresStore) CreateComment(ctx context.Context, item Comment) (Comment, error) {
	created, err := scanComment(s.db.QueryRowContext(ctx, `
		INSERT INTO comments (id, idea_id, content, creator_id, created_at, parent_comment_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+commentColumns,
		item.ID, item.IdeaID, item.Content, item.CreatorID, item.CreatedAt, item.ParentCommentID))
	if err != nil {
		return Comment{}, classify("insert comment", err)
	}
	return created, nil
}

func (s *PostgresStore) GetComment(ctx context.Context, commentID string) (Comment, error) {
	item, err := scanComment(s.db.QueryRowContext(ctx, `SELECT `+commentColumns+` FROM comments WHERE id=$1`, commentID))
	if err != nil {
		return Comment{}, classify("get comment", err)
	}
	return item, nil
}

func (s *PostgresStore) ListComments(ctx context.Context, ideaID string) ([]Comment, error) {
	return s.listComments(ctx, "list comments", `
		SELECT `+commentColumns+`
		FROM comments
		WHERE idea_id=$1
		ORDER BY created_at ASC, id ASC
	`, ideaID)
}

func (s *PostgresStore) ListSessionComments(ctx context.Context, sessionID string) ([]Comment, error) {
	return s.listComments(ctx, "list session comments", `
		SELECT c.id, c.idea_id, c.content, c.creator_id, c.created_at, c.parent_comment_id
		FROM comments c
		JOIN ideas i ON i.id = c.idea_id
		WHERE i.session_id=$1
		ORDER BY c.created_at ASC, c.id ASC
	`, sessionID)
}

func (s *PostgresStore) listComments(ctx context.Context, op, query string, args ...any) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	items := make([]Comment, 0)
	for rows.Next() {
		item, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}
	return items, nil
}

// AddInvitation records an invitation and reports whether it was new.
func (s *PostgresStore) AddInvitation(ctx context.Context, item Invitation) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO session_invitations (session_id, email, invited_by, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id, email) DO NOTHING
	`, item.SessionID, strings.ToLower(strings.TrimSpace(item.Email)), item.InvitedBy, item.CreatedAt)
	if err != nil {
		return false, classify("insert invitation", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert invitation rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) IsInvited(ctx context.Context, sessionID, email string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM session_invitations WHERE session_id=$1 AND email=$2)
	`, sessionID, strings.ToLower(strings.TrimSpace(email))).Scan(&exists)
	if err != nil {
		return false, classify("check invitation", err)
	}
	return exists, nil
}

func (s *PostgresStore) ListInvitations(ctx context.Context, sessionID string) ([]Invitation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, email, invited_by, created_at
		FROM session_invitations
		WHERE session_id=$1
		ORDER BY created_at ASC, email ASC
	`, sessionID)
	if err != nil {
		return nil, classify("list invitations", err)
	}
	defer rows.Close()

	items := make([]Invitation, 0)
	for rows.Next() {
		var item Invitation
		if err := rows.Scan(&item.SessionID, &item.Email, &item.InvitedBy, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan invitation: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list invitations", err)
	}
	return items, nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
