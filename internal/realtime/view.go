// Package realtime keeps a local, converged copy of a session's ideas,
// comments, and votes from a snapshot plus a stream of feed changes.
package realtime

import (
	"fmt"
	"sort"
	"time"

	"ideaboard/api/internal/feed"
	"ideaboard/api/internal/ranking"
	"ideaboard/api/internal/store"
	"ideaboard/api/internal/thread"
	"ideaboard/api/internal/timer"
)

// Snapshot is the full state of a session as one actor sees it.
type Snapshot struct {
	Session      store.Session   `json:"session"`
	Ideas        []store.Idea    `json:"ideas"`
	Comments     []store.Comment `json:"comments"`
	VotedIdeaIDs []string        `json:"votedIdeaIds"`
}

type Phase string

const (
	PhaseLoading Phase = "loading"
	PhaseReady   Phase = "ready"
	PhaseFailed  Phase = "failed"
)

// State is what subscribers are handed after every reconciliation.
type State struct {
	Phase      Phase                    `json:"phase"`
	Session    store.Session            `json:"session"`
	Ideas      []store.Idea             `json:"ideas"`
	Threads    map[string][]thread.Node `json:"threads"`
	Voted      []string                 `json:"voted"`
	Round      timer.State              `json:"round"`
	Generation uint64                   `json:"generation"`
	Err        error                    `json:"-"`
}

// HasVoted reports whether the viewing actor has upvoted ideaID.
func (s State) HasVoted(ideaID string) bool {
	i := sort.SearchStrings(s.Voted, ideaID)
	return i < len(s.Voted) && s.Voted[i] == ideaID
}

// View applies changes with the same merge rules as the initial load:
// inserts of known rows and deletes of unknown rows are no-ops, updates
// replace or insert, and an idea update older than the local copy is ignored.
type View struct {
	selfID   string
	session  store.Session
	ideas    map[string]store.Idea
	comments map[string]store.Comment
	voted    map[string]bool
}

func NewView(selfID string) *View {
	return &View{
		selfID:   selfID,
		ideas:    make(map[string]store.Idea),
		comments: make(map[string]store.Comment),
		voted:    make(map[string]bool),
	}
}

// Reset replaces everything with snap.
func (v *View) Reset(snap Snapshot) {
	v.session = snap.Session
	v.ideas = make(map[string]store.Idea, len(snap.Ideas))
	for _, idea := range snap.Ideas {
		v.ideas[idea.ID] = idea
	}
	v.comments = make(map[string]store.Comment, len(snap.Comments))
	for _, comment := range snap.Comments {
		v.comments[comment.ID] = comment
	}
	v.voted = make(map[string]bool, len(snap.VotedIdeaIDs))
	for _, id := range snap.VotedIdeaIDs {
		v.voted[id] = true
	}
}

// Apply merges one change and reports whether the view changed. Changes for
// another scope are ignored.
func (v *View) Apply(change feed.Change) (bool, error) {
	if v.session.ID != "" && change.Scope != feed.ScopeKey(v.session.ID) {
		return false, nil
	}
	switch change.Table {
	case feed.TableIdeas:
		var idea store.Idea
		if err := change.Decode(&idea); err != nil {
			return false, err
		}
		return v.applyIdea(change.Kind, idea), nil
	case feed.TableComments:
		var comment store.Comment
		if err := change.Decode(&comment); err != nil {
			return false, err
		}
		return v.applyComment(change.Kind, comment), nil
	case feed.TableUpvotes:
		var vote store.Upvote
		if err := change.Decode(&vote); err != nil {
			return false, err
		}
		return v.applyUpvote(change.Kind, vote), nil
	case feed.TableSessions:
		var session store.Session
		if err := change.Decode(&session); err != nil {
			return false, err
		}
		if change.Kind == feed.Deleted || session.ID != v.session.ID {
			return false, nil
		}
		v.session = session
		return true, nil
	default:
		return false, fmt.Errorf("unknown table %q", change.Table)
	}
}

func (v *View) applyIdea(kind feed.Kind, idea store.Idea) bool {
	local, exists := v.ideas[idea.ID]
	switch kind {
	case feed.Inserted:
		if exists {
			return false
		}
		v.ideas[idea.ID] = idea
		return true
	case feed.Updated:
		if exists && idea.Version < local.Version {
			return false
		}
		v.ideas[idea.ID] = idea
		return true
	case feed.Deleted:
		if !exists {
			return false
		}
		delete(v.ideas, idea.ID)
		delete(v.voted, idea.ID)
		for id, comment := range v.comments {
			if comment.IdeaID == idea.ID {
				delete(v.comments, id)
			}
		}
		return true
	}
	return false
}

func (v *View) applyComment(kind feed.Kind, comment store.Comment) bool {
	_, exists := v.comments[comment.ID]
	switch kind {
	case feed.Inserted:
		if exists {
			return false
		}
		v.comments[comment.ID] = comment
		return true
	case feed.Updated:
		v.comments[comment.ID] = comment
		return true
	case feed.Deleted:
		if !exists {
			return false
		}
		delete(v.comments, comment.ID)
		return true
	}
	return false
}

// applyUpvote only tracks the viewer's own vote marker; counts travel on the
// idea update published with every toggle.
func (v *View) applyUpvote(kind feed.Kind, vote store.Upvote) bool {
	if v.selfID == "" || vote.VoterID != v.selfID {
		return false
	}
	switch kind {
	case feed.Inserted, feed.Updated:
		if v.voted[vote.IdeaID] {
			return false
		}
		// The vote can arrive before its idea. Keep the marker; State only
		// reports markers of ideas in view.
		v.voted[vote.IdeaID] = true
		_, known := v.ideas[vote.IdeaID]
		return known
	case feed.Deleted:
		if !v.voted[vote.IdeaID] {
			return false
		}
		delete(v.voted, vote.IdeaID)
		return true
	}
	return false
}

// State ranks ideas and rebuilds comment trees from the current view.
func (v *View) State(now time.Time) State {
	ideas := make([]store.Idea, 0, len(v.ideas))
	for _, idea := range v.ideas {
		ideas = append(ideas, idea)
	}
	comments := make([]store.Comment, 0, len(v.comments))
	for _, comment := range v.comments {
		comments = append(comments, comment)
	}
	voted := make([]string, 0, len(v.voted))
	for id := range v.voted {
		if _, ok := v.ideas[id]; !ok {
			continue
		}
		voted = append(voted, id)
	}
	sort.Strings(voted)

	return State{
		Phase:   PhaseReady,
		Session: v.session,
		Ideas:   ranking.Rank(ideas),
		Threads: thread.GroupByIdea(comments),
		Voted:   voted,
		Round:   timer.Compute(v.session, now),
	}
}
