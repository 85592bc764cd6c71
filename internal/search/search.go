package search

import "context"

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultIdea    ResultType = "idea"
	ResultComment ResultType = "comment"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type      ResultType `json:"type"`
	ID        string     `json:"id"`
	IdeaID    string     `json:"ideaId"`
	SessionID string     `json:"sessionId"`
	Snippet   string     `json:"snippet"`
}

// Query describes a search request. SessionID is required; callers check
// read access to that session before searching.
type Query struct {
	Text       string
	SessionID  string
	FilterType ResultType // empty = all types
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// RecordLoader returns every searchable record for a full reindex.
type RecordLoader interface {
	LoadAllRecords(ctx context.Context) ([]IdeaRecord, []CommentRecord, error)
}

// IdeaRecord is the data we index for an idea.
type IdeaRecord struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionId"`
	Content   string `json:"content"`
	CreatorID string `json:"creatorId"`
}

// CommentRecord is the data we index for a comment.
type CommentRecord struct {
	ID        string `json:"id"`
	IdeaID    string `json:"ideaId"`
	SessionID string `json:"sessionId"`
	Content   string `json:"content"`
}

const (
	defaultLimit = 20
	// MaxLimit caps the page size of every searcher.
	MaxLimit = 100
)

func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultLimit
	case limit > MaxLimit:
		return MaxLimit
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}

// Normalized returns q with its page bounds clamped.
func (q Query) Normalized() Query {
	q.Limit = normalizeLimit(q.Limit)
	q.Offset = normalizeOffset(q.Offset)
	return q
}
