package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const (
	idxIdeas    = "ideaboard_ideas"
	idxComments = "ideaboard_comments"
)

// Meili implements Searcher via Meilisearch and keeps the idea and comment
// indexes up to date.
type Meili struct {
	client  meili.ServiceManager
	logger  *slog.Logger
	healthy atomic.Bool
	done    chan struct{}

	onRecover atomic.Pointer[func()]
}

// NewMeili creates a Meilisearch client and configures indexes.
// An unreachable server is not an error; the health loop picks it up later.
func NewMeili(url, apiKey string, logger *slog.Logger) *Meili {
	if logger == nil {
		logger = slog.Default()
	}
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		logger: logger,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		logger.Warn("search: meilisearch unavailable", "url", url, "error", err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndexes()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndexes() {
	indexes := []struct {
		uid        string
		filterable []string
		searchable []string
	}{
		{
			uid:        idxIdeas,
			filterable: []string{"sessionId", "creatorId"},
			searchable: []string{"content"},
		},
		{
			uid:        idxComments,
			filterable: []string{"sessionId", "ideaId"},
			searchable: []string{"content"},
		},
	}

	for _, idx := range indexes {
		if _, err := m.client.CreateIndex(&meili.IndexConfig{
			Uid:        idx.uid,
			PrimaryKey: "id",
		}); err != nil {
			m.logger.Debug("search: create index (may already exist)", "index", idx.uid, "error", err)
		}

		index := m.client.Index(idx.uid)
		filterable := make([]interface{}, len(idx.filterable))
		for i, v := range idx.filterable {
			filterable[i] = v
		}
		if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
			m.logger.Warn("search: update filterable attributes", "index", idx.uid, "error", err)
		}
		if _, err := index.UpdateSearchableAttributes(&idx.searchable); err != nil {
			m.logger.Warn("search: update searchable attributes", "index", idx.uid, "error", err)
		}
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.checkHealth()
		}
	}
}

// checkHealth pings the server. When it comes back after being unreachable
// the indexes are reconfigured and the recovery hook runs.
func (m *Meili) checkHealth() {
	_, err := m.client.Health()
	wasHealthy := m.healthy.Swap(err == nil)
	if err != nil || wasHealthy {
		return
	}
	m.logger.Info("search: meilisearch recovered, reconfiguring indexes")
	m.configureIndexes()
	if fn := m.onRecover.Load(); fn != nil {
		(*fn)()
	}
}

// OnRecover registers fn to run each time the server becomes reachable
// again. Writes made while it was down are lost, so callers use this to
// reindex.
func (m *Meili) OnRecover(fn func()) {
	m.onRecover.Store(&fn)
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries the idea and comment indexes of one session and merges the
// hits. The client library has no context support, so ctx is only checked
// up front.
func (m *Meili) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	q = q.Normalized()
	targets := []struct {
		uid  string
		rtyp ResultType
	}{
		{idxIdeas, ResultIdea},
		{idxComments, ResultComment},
	}

	var queries []*meili.SearchRequest
	for _, target := range targets {
		if q.FilterType != "" && q.FilterType != target.rtyp {
			continue
		}
		sr := &meili.SearchRequest{
			IndexUID:              target.uid,
			Query:                 q.Text,
			Limit:                 int64(q.Limit),
			Offset:                int64(q.Offset),
			AttributesToHighlight: []string{"content"},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
		}
		if q.SessionID != "" {
			sr.Filter = fmt.Sprintf("sessionId = %q", q.SessionID)
		}
		queries = append(queries, sr)
	}
	if len(queries) == 0 {
		return nil, 0, nil
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{Queries: queries})
	if err != nil {
		if transportFailure(err) {
			m.healthy.Store(false)
		}
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var results []Result
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		rtyp := indexToResultType(sr.IndexUID)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit, rtyp))
		}
	}
	return results, total, nil
}

// transportFailure is false when the server answered with a client error:
// the query was rejected but the server is up.
func transportFailure(err error) bool {
	var apiErr *meili.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
		return false
	}
	return true
}

func indexToResultType(uid string) ResultType {
	switch uid {
	case idxIdeas:
		return ResultIdea
	case idxComments:
		return ResultComment
	default:
		return ""
	}
}

func hitToResult(hit meili.Hit, rtyp ResultType) Result {
	r := Result{Type: rtyp}
	r.ID = decodeString(hit, "id")
	r.SessionID = decodeString(hit, "sessionId")
	r.Snippet = firstNonBlank(decodeFormattedString(hit, "content"), decodeString(hit, "content"))
	if rtyp == ResultIdea {
		r.IdeaID = r.ID
	} else {
		r.IdeaID = decodeString(hit, "ideaId")
	}
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]any
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	value, _ := formatted[key].(string)
	return strings.TrimSpace(value)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func (m *Meili) IndexIdeas(ideas []IdeaRecord) error {
	if len(ideas) == 0 {
		return nil
	}
	_, err := m.client.Index(idxIdeas).AddDocuments(ideas, nil)
	return err
}

func (m *Meili) IndexComments(comments []CommentRecord) error {
	if len(comments) == 0 {
		return nil
	}
	_, err := m.client.Index(idxComments).AddDocuments(comments, nil)
	return err
}

// Clear removes every document from both indexes.
func (m *Meili) Clear() error {
	for _, uid := range []string{idxIdeas, idxComments} {
		if _, err := m.client.Index(uid).DeleteAllDocuments(nil); err != nil {
			return fmt.Errorf("clear %s: %w", uid, err)
		}
	}
	return nil
}

// DeleteIdea removes an idea and the given comments from the indexes.
func (m *Meili) DeleteIdea(id string, commentIDs []string) error {
	if _, err := m.client.Index(idxIdeas).DeleteDocument(id, nil); err != nil {
		return err
	}
	for _, commentID := range commentIDs {
		if _, err := m.client.Index(idxComments).DeleteDocument(commentID, nil); err != nil {
			return err
		}
	}
	return nil
}
