// Package timer derives round and deadline state for a session from stored
// timestamps. Nothing here runs in the background: every answer is computed
// from the inputs and the supplied "now".
package timer

import (
	"fmt"
	"strings"
	"time"

	"ideaboard/api/internal/apperr"
	"ideaboard/api/internal/store"
)

// MaxDurationMinutes bounds session time limits and round lengths to one
// year, well inside what time.Duration can hold.
const MaxDurationMinutes = store.MaxDurationMinutes

// minutes converts a stored minute count, clamping rows written before the
// bound existed.
func minutes(n int) time.Duration {
	if n > MaxDurationMinutes {
		n = MaxDurationMinutes
	}
	return time.Duration(n) * time.Minute
}

// Remaining returns the time left before the session's global deadline.
// ok is false when the session has no time limit.
func Remaining(session store.Session, now time.Time) (remaining time.Duration, ok bool) {
	if session.TimeLimitMinutes == nil {
		return 0, false
	}
	deadline := session.CreatedAt.Add(minutes(*session.TimeLimitMinutes))
	left := deadline.Sub(now)
	if left < 0 {
		left = 0
	}
	return left, true
}

// StartRound returns when a round of the given length started at now ends.
func StartRound(durationMinutes int, now time.Time) (time.Time, error) {
	if durationMinutes < 0 || durationMinutes > MaxDurationMinutes {
		return time.Time{}, fmt.Errorf("round duration %d must be between 0 and %d minutes: %w", durationMinutes, MaxDurationMinutes, apperr.ErrInvalidInput)
	}
	return now.Add(minutes(durationMinutes)), nil
}

// IsRoundActive is true strictly before endsAt, so a zero-length round is
// never active.
func IsRoundActive(endsAt, now time.Time) bool {
	return now.Before(endsAt)
}

// State is the round projection reported to clients.
type State struct {
	Active    bool       `json:"active"`
	StartedAt *time.Time `json:"startedAt,omitempty"`
	EndsAt    *time.Time `json:"endsAt,omitempty"`
	// RemainingSeconds is the time left in the current round.
	RemainingSeconds *int64 `json:"remainingSeconds,omitempty"`
	// DeadlineRemainingSeconds is the time left on the session-wide limit.
	DeadlineRemainingSeconds *int64 `json:"deadlineRemainingSeconds,omitempty"`
}

// Compute builds the round state of session at now.
func Compute(session store.Session, now time.Time) State {
	state := State{StartedAt: session.RoundStartedAt, EndsAt: session.RoundEndsAt}
	if session.RoundEndsAt != nil {
		state.Active = IsRoundActive(*session.RoundEndsAt, now)
		left := session.RoundEndsAt.Sub(now)
		if left < 0 {
			left = 0
		}
		seconds := int64(left / time.Second)
		state.RemainingSeconds = &seconds
	}
	if deadline, ok := Remaining(session, now); ok {
		seconds := int64(deadline / time.Second)
		state.DeadlineRemainingSeconds = &seconds
	}
	return state
}

// SubmissionPolicy answers whether a caller should accept new ideas given the
// round state. The engine never enforces it.
type SubmissionPolicy string

const (
	SubmitAlways       SubmissionPolicy = "always"
	SubmitDuringRound  SubmissionPolicy = "during-round"
	SubmitOutsideRound SubmissionPolicy = "outside-round"
)

func ParsePolicy(value string) (SubmissionPolicy, error) {
	switch policy := SubmissionPolicy(strings.ToLower(strings.TrimSpace(value))); policy {
	case "", SubmitAlways:
		return SubmitAlways, nil
	case SubmitDuringRound, SubmitOutsideRound:
		return policy, nil
	default:
		return "", fmt.Errorf("submission policy %q: %w", value, apperr.ErrInvalidInput)
	}
}

func (p SubmissionPolicy) Allows(state State) bool {
	switch p {
	case SubmitDuringRound:
		return state.Active
	case SubmitOutsideRound:
		return !state.Active
	default:
		return true
	}
}
