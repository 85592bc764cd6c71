package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"ideaboard/api/internal/apperr"
)

const (
	constraintParentSameIdea = "comments_parent_same_idea_fkey"
	constraintInviteCode     = "sessions_invite_code_key"
)

// classify wraps a driver error with the matching apperr value so callers can
// branch with errors.Is without knowing about SQLSTATE codes.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, apperr.ErrNotFound)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return fmt.Errorf("%s: %w: %w", op, apperr.ErrConflictRetryable, err)
		case "23503":
			if pgErr.ConstraintName == constraintParentSameIdea {
				return fmt.Errorf("%s: %w", op, apperr.ErrInvalidParent)
			}
			return fmt.Errorf("%s: %w", op, apperr.ErrNotFound)
		case "23505":
			if pgErr.ConstraintName == constraintInviteCode {
				return fmt.Errorf("%s: %w: %w", op, apperr.ErrConflictRetryable, err)
			}
		case "23514", "22001", "22P02":
			return fmt.Errorf("%s: %w: %w", op, apperr.ErrInvalidInput, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) || errors.Is(err, driver.ErrBadConn) {
		return fmt.Errorf("%s: %w: %w", op, apperr.ErrTransient, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
