package timer

import (
	"errors"
	"testing"
	"time"

	"ideaboard/api/internal/apperr"
	"ideaboard/api/internal/store"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func limited(minutes int) store.Session {
	return store.Session{ID: "s", CreatedAt: t0, TimeLimitMinutes: &minutes}
}

func TestRemaining(t *testing.T) {
	cases := []struct {
		name    string
		session store.Session
		now     time.Time
		want    time.Duration
		ok      bool
	}{
		{name: "no limit", session: store.Session{CreatedAt: t0}, now: t0, ok: false},
		{name: "mid round", session: limited(5), now: t0.Add(100 * time.Second), want: 200 * time.Second, ok: true},
		{name: "just past", session: limited(5), now: t0.Add(301 * time.Second), want: 0, ok: true},
		{name: "exact deadline", session: limited(5), now: t0.Add(5 * time.Minute), want: 0, ok: true},
		{name: "before creation", session: limited(1), now: t0.Add(-time.Minute), want: 2 * time.Minute, ok: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Remaining(tc.session, tc.now)
			if ok != tc.ok || got != tc.want {
				t.Fatalf("Remaining = (%v, %v), want (%v, %v)", got, ok, tc.want, tc.ok)
			}
		})
	}
}

func TestStartRound(t *testing.T) {
	endsAt, err := StartRound(3, t0)
	if err != nil {
		t.Fatalf("StartRound: %v", err)
	}
	if !endsAt.Equal(t0.Add(3 * time.Minute)) {
		t.Fatalf("unexpected end %v", endsAt)
	}
	if !IsRoundActive(endsAt, t0.Add(179*time.Second)) {
		t.Fatal("expected round active before end")
	}
	if IsRoundActive(endsAt, endsAt) {
		t.Fatal("expected round inactive at end")
	}

	zero, err := StartRound(0, t0)
	if err != nil {
		t.Fatalf("StartRound(0): %v", err)
	}
	if IsRoundActive(zero, t0) {
		t.Fatal("zero length round must be inactive immediately")
	}

	if _, err := StartRound(-1, t0); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Fatalf("expected invalid input for negative duration, got %v", err)
	}
}

func TestStartRoundBounds(t *testing.T) {
	endsAt, err := StartRound(MaxDurationMinutes, t0)
	if err != nil {
		t.Fatalf("StartRound(max): %v", err)
	}
	if !IsRoundActive(endsAt, t0.Add(time.Hour)) {
		t.Fatal("longest round must be active after an hour")
	}
	for _, n := range []int{MaxDurationMinutes + 1, 200000000} {
		if _, err := StartRound(n, t0); !errors.Is(err, apperr.ErrInvalidInput) {
			t.Fatalf("StartRound(%d): expected invalid input, got %v", n, err)
		}
	}
}

func TestRemainingHugeLimit(t *testing.T) {
	got, ok := Remaining(limited(200000000), t0.Add(time.Minute))
	if !ok {
		t.Fatal("expected a deadline")
	}
	want := time.Duration(MaxDurationMinutes-1) * time.Minute
	if got != want {
		t.Fatalf("Remaining = %v, want %v", got, want)
	}
}

func TestComputeAndPolicy(t *testing.T) {
	session := limited(10)
	idle := Compute(session, t0)
	if idle.Active || idle.EndsAt != nil {
		t.Fatalf("expected no round, got %+v", idle)
	}
	if idle.DeadlineRemainingSeconds == nil || *idle.DeadlineRemainingSeconds != 600 {
		t.Fatalf("expected 600s deadline, got %v", idle.DeadlineRemainingSeconds)
	}

	started := t0.Add(time.Minute)
	ends := started.Add(2 * time.Minute)
	session.RoundStartedAt = &started
	session.RoundEndsAt = &ends

	active := Compute(session, started.Add(30*time.Second))
	if !active.Active || active.RemainingSeconds == nil || *active.RemainingSeconds != 90 {
		t.Fatalf("expected active round with 90s left, got %+v", active)
	}
	over := Compute(session, ends.Add(time.Second))
	if over.Active || *over.RemainingSeconds != 0 {
		t.Fatalf("expected finished round, got %+v", over)
	}

	if !SubmitAlways.Allows(over) || !SubmitDuringRound.Allows(active) || SubmitDuringRound.Allows(over) {
		t.Fatal("unexpected policy result")
	}
	if SubmitOutsideRound.Allows(active) || !SubmitOutsideRound.Allows(over) {
		t.Fatal("unexpected outside-round policy result")
	}
}

func TestParsePolicy(t *testing.T) {
	for input, want := range map[string]SubmissionPolicy{
		"":              SubmitAlways,
		"ALWAYS":        SubmitAlways,
		"during-round":  SubmitDuringRound,
		"outside-round": SubmitOutsideRound,
	} {
		got, err := ParsePolicy(input)
		if err != nil || got != want {
			t.Fatalf("ParsePolicy(%q) = %q, %v", input, got, err)
		}
	}
	if _, err := ParsePolicy("sometimes"); err == nil {
		t.Fatal("expected error for unknown policy")
	}
}

func TestFakeClock(t *testing.T) {
	clock := Fake(t0)
	clock.Advance(time.Hour)
	if !clock.Now().Equal(t0.Add(time.Hour)) {
		t.Fatalf("unexpected now %v", clock.Now())
	}
}
