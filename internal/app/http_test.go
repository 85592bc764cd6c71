package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ideaboard/api/internal/access"
	"ideaboard/api/internal/auth/authtest"
	"ideaboard/api/internal/engine"
	"ideaboard/api/internal/feed"
	"ideaboard/api/internal/objectstore"
	"ideaboard/api/internal/realtime"
	"ideaboard/api/internal/search"
	"ideaboard/api/internal/store"
	"ideaboard/api/internal/timer"
)

var testSecret = []byte("test-secret")

var (
	owner    = access.Actor{ID: "user_owner", Email: "owner@example.com"}
	guest    = access.Actor{ID: "user_guest", Email: "guest@example.com"}
	stranger = access.Actor{ID: "user_stranger", Email: "stranger@example.com"}
)

type fakePinger struct {
	err error
}

func (p fakePinger) Ping(context.Context) error {
	return p.err
}

type testServer struct {
	server *HTTPServer
	engine *engine.Engine
	store  *store.MemoryStore
	hub    *feed.Hub
	clock  *timer.FakeClock
}

func newTestServer(t *testing.T, policy timer.SubmissionPolicy) testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mem := store.NewMemoryStore()
	hub := feed.NewHub(16, logger)
	t.Cleanup(func() { _ = hub.Close() })
	clock := timer.Fake(time.Date(2024, 6, 3, 14, 0, 0, 0, time.UTC))
	svc := search.NewService(nil, search.NewSubstring(mem), logger)
	t.Cleanup(svc.Wait)

	eng := engine.New(mem, hub,
		engine.WithClock(clock),
		engine.WithLogger(logger),
		engine.WithImages(objectstore.NewMemory(1024)),
		engine.WithSearch(svc),
	)
	live := realtime.NewClient(hub, eng,
		realtime.WithLogger(logger),
		realtime.WithBackoff(5*time.Millisecond, 20*time.Millisecond),
	)
	server := NewHTTPServer(eng, live, Options{
		JWTSecret:     testSecret,
		CORSOrigin:    "*",
		Policy:        policy,
		MaxImageBytes: 1024,
		Pinger:        mem,
		Logger:        logger,
	})
	return testServer{server: server, engine: eng, store: mem, hub: hub, clock: clock}
}

func tokenFor(t *testing.T, actor access.Actor) string {
	t.Helper()
	token, err := authtest.IssueToken(testSecret, actor, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

// do sends a request through the full middleware stack. actor may be nil.
func (ts testServer) do(t *testing.T, method, path string, actor *access.Actor, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if actor != nil {
		req.Header.Set("Authorization", "Bearer "+tokenFor(t, *actor))
	}
	rr := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeJSON[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("parse response: %v body=%s", err, rr.Body.String())
	}
	return out
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, status int) {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("expected status %d, got %d body=%s", status, rr.Code, rr.Body.String())
	}
}

func expectCode(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	expectStatus(t, rr, status)
	payload := decodeJSON[map[string]any](t, rr)
	if payload["code"] != code {
		t.Fatalf("expected code %s, got %v", code, payload["code"])
	}
}

func (ts testServer) createSession(t *testing.T, actor access.Actor, private bool) store.Session {
	t.Helper()
	body, _ := json.Marshal(map[string]any{"title": "Retro", "prompt": "What went well?", "isPrivate": private})
	rr := ts.do(t, http.MethodPost, "/api/sessions", &actor, string(body))
	expectStatus(t, rr, http.StatusCreated)
	return decodeJSON[store.Session](t, rr)
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t, timer.SubmitAlways)
	rr := ts.do(t, http.MethodGet, "/api/health", nil, "")
	expectStatus(t, rr, http.StatusOK)
	if payload := decodeJSON[map[string]any](t, rr); payload["ok"] != true {
		t.Fatalf("expected ok=true, got %v", payload)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected a request id header")
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("expected CORS header, got %q", rr.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestReadyEndpointReportsStoreFailure(t *testing.T) {
	ts := newTestServer(t, timer.SubmitAlways)
	expectStatus(t, ts.do(t, http.MethodGet, "/api/ready", nil, ""), http.StatusOK)

	ts.server.pinger = fakePinger{err: errors.New("connection refused")}
	rr := ts.do(t, http.MethodGet, "/api/ready", nil, "")
	expectStatus(t, rr, http.StatusServiceUnavailable)
	payload := decodeJSON[map[string]any](t, rr)
	if payload["status"] != "not_ready" {
		t.Fatalf("expected not_ready, got %v", payload["status"])
	}
}

func TestRequestIDIsPropagated(t *testing.T) {
	ts := newTestServer(t, timer.SubmitAlways)
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rr := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rr, req)
	if got := rr.Header().Get("X-Request-ID"); got != "req-123" {
		t.Fatalf("expected request id to echo, got %q", got)
	}
}

func TestMeReportsActor(t *testing.T) {
	ts := newTestServer(t, timer.SubmitAlways)

	anonymous := decodeJSON[map[string]any](t, ts.do(t, http.MethodGet, "/api/me", nil, ""))
	if anonymous["authenticated"] != false {
		t.Fatalf("expected anonymous, got %v", anonymous)
	}
	me := decodeJSON[map[string]any](t, ts.do(t, http.MethodGet, "/api/me", &owner, ""))
	if me["id"] != owner.ID || me["email"] != owner.Email {
		t.Fatalf("unexpected actor: %v", me)
	}
}

func TestInvalidTokenIsUnauthorized(t *testing.T) {
	ts := newTestServer(t, timer.SubmitAlways)
	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rr := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rr, req)
	expectCode(t, rr, http.StatusUnauthorized, "UNAUTHORIZED")
}

func TestAnonymousWritesAreUnauthorized(t *testing.T) {
	ts := newTestServer(t, timer.SubmitAlways)
	rr := ts.do(t, http.MethodPost, "/api/sessions", nil, `{"title":"Retro"}`)
	expectCode(t, rr, http.StatusUnauthorized, "UNAUTHORIZED")
}

func TestSessionIdeaVoteCommentFlow(t *testing.T) {
	ts := newTestServer(t, timer.SubmitAlways)
	session := ts.createSession(t, owner, false)
	if session.InviteCode == "" || session.CreatorID != owner.ID {
		t.Fatalf("unexpected session: %+v", session)
	}

	rr := ts.do(t, http.MethodPost, "/api/sessions/"+session.ID+"/ideas", &guest, `{"content":"  More pairing  "}`)
	expectStatus(t, rr, http.StatusCreated)
	idea := decodeJSON[store.Idea](t, rr)
	if idea.Content != "More pairing" || idea.CreatorID != guest.ID {
		t.Fatalf("unexpected idea: %+v", idea)
	}

	rr = ts.do(t, http.MethodPost, "/api/ideas/"+idea.ID+"/upvote", &owner, "")
	expectStatus(t, rr, http.StatusOK)
	vote := decodeJSON[map[string]any](t, rr)
	if vote["voted"] != true || vote["upvoteCount"] != float64(1) {
		t.Fatalf("unexpected vote response: %v", vote)
	}

	rr = ts.do(t, http.MethodPost, "/api/ideas/"+idea.ID+"/comments", &owner, `{"content":"Agreed"}`)
	expectStatus(t, rr, http.StatusCreated)
	comment := decodeJSON[store.Comment](t, rr)

	reply, _ := json.Marshal(map[string]any{"content": "Same", "parentCommentId": comment.ID})
	expectStatus(t, ts.do(t, http.MethodPost, "/api/ideas/"+idea.ID+"/comments", &guest, string(reply)), http.StatusCreated)

	tree := decodeJSON[map[string][]map[string]any](t, ts.do(t, http.MethodGet, "/api/ideas/"+idea.ID+"/comments?view=tree", nil, ""))
	if len(tree["threads"]) != 1 {
		t.Fatalf("expected one root thread, got %v", tree)
	}

	flat := decodeJSON[map[string][]store.Comment](t, ts.do(t, http.MethodGet, "/api/ideas/"+idea.ID+"/comments", nil, ""))
	if len(flat["comments"]) != 2 {
		t.Fatalf("expected two comments, got %d", len(flat["comments"]))
	}

	list := decodeJSON[map[string][]store.Idea](t, ts.do(t, http.MethodGet, "/api/sessions/"+session.ID+"/ideas", nil, ""))
	if len(list["ideas"]) != 1 || list["ideas"][0].UpvoteCount != 1 {
		t.Fatalf("unexpected idea list: %+v", list)
	}

	snap := decodeJSON[realtime.Snapshot](t, ts.do(t, http.MethodGet, "/api/sessions/"+session.ID+"/snapshot", &owner, ""))
	if len(snap.Ideas) != 1 || len(snap.Comments) != 2 || len(snap.VotedIdeaIDs) != 1 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestInvalidParentMapsToUnprocessable(t *testing.T) {
	ts := newTestServer(t, timer.SubmitAlways)
	session := ts.createSession(t, owner, false)
	idea := decodeJSON[store.Idea](t, ts.do(t, http.MethodPost, "/api/sessions/"+session.ID+"/ideas", &owner, `{"content":"A"}`))

	rr := ts.do(t, http.MethodPost, "/api/ideas/"+idea.ID+"/comments", &owner, `{"content":"x","parentCommentId":"comment_missing"}`)
	expectCode(t, rr, http.StatusUnprocessableEntity, "INVALID_PARENT")
}

func TestValidationAndBodyErrors(t *testing.T) {
	ts := newTestServer(t, timer.SubmitAlways)
	session := ts.createSession(t, owner, false)

	expectCode(t, ts.do(t, http.MethodPost, "/api/sessions/"+session.ID+"/ideas", &owner, `{"content":"   "}`), http.StatusBadRequest, "INVALID_INPUT")
	expectCode(t, ts.do(t, http.MethodPost, "/api/sessions/"+session.ID+"/ideas", &owner, `{"content":`), http.StatusBadRequest, "INVALID_BODY")
	expectCode(t, ts.do(t, http.MethodGet, "/api/sessions/"+session.ID+"/search?q=x&limit=ten", &owner, ""), http.StatusBadRequest, "INVALID_INPUT")
	expectCode(t, ts.do(t, http.MethodGet, "/api/sessions/"+session.ID+"/search?q=x&offset=-1", &owner, ""), http.StatusBadRequest, "INVALID_INPUT")
	expectCode(t, ts.do(t, http.MethodGet, "/api/sessions/"+session.ID+"/search?q=x&limit=-5", &owner, ""), http.StatusBadRequest, "INVALID_INPUT")
	expectStatus(t, ts.do(t, http.MethodGet, "/api/sessions/"+session.ID+"/search?q=x&limit=100000", &owner, ""), http.StatusOK)
}

func TestImageUploadIsSizeLimited(t *testing.T) {
	ts := newTestServer(t, timer.SubmitAlways)
	session := ts.createSession(t, owner, false)

	small, _ := json.Marshal(map[string]any{
		"content": "With a sketch",
		"image":   map[string]any{"contentType": "image/png", "data": []byte("png-bytes")},
	})
	rr := ts.do(t, http.MethodPost, "/api/sessions/"+session.ID+"/ideas", &owner, string(small))
	expectStatus(t, rr, http.StatusCreated)
	if idea := decodeJSON[store.Idea](t, rr); idea.ImageRef == nil {
		t.Fatal("expected image reference on idea")
	}

	large, _ := json.Marshal(map[string]any{
		"content": "Too big",
		"image":   map[string]any{"contentType": "image/png", "data": bytes.Repeat([]byte("x"), 2048)},
	})
	expectCode(t, ts.do(t, http.MethodPost, "/api/sessions/"+session.ID+"/ideas", &owner, string(large)), http.StatusBadRequest, "INVALID_INPUT")
}

func TestPrivateSessionAccess(t *testing.T) {
	ts := newTestServer(t, timer.SubmitAlways)
	session := ts.createSession(t, owner, true)
	path := "/api/sessions/" + session.ID

	expectCode(t, ts.do(t, http.MethodGet, path, nil, ""), http.StatusUnauthorized, "UNAUTHORIZED")
	expectCode(t, ts.do(t, http.MethodGet, path, &stranger, ""), http.StatusForbidden, "FORBIDDEN")
	expectCode(t, ts.do(t, http.MethodGet, "/api/sessions/session_missing", &owner, ""), http.StatusNotFound, "NOT_FOUND")

	rr := ts.do(t, http.MethodPost, path+"/invitations", &owner, `{"email":"Guest@Example.com"}`)
	expectStatus(t, rr, http.StatusCreated)
	expectCode(t, ts.do(t, http.MethodPost, path+"/invitations", &guest, `{"email":"x@example.com"}`), http.StatusForbidden, "FORBIDDEN")

	expectStatus(t, ts.do(t, http.MethodGet, path, &guest, ""), http.StatusOK)

	invites := decodeJSON[map[string][]store.Invitation](t, ts.do(t, http.MethodGet, path+"/invitations", &owner, ""))
	if len(invites["invitations"]) != 1 || invites["invitations"][0].Email != "guest@example.com" {
		t.Fatalf("unexpected invitations: %+v", invites)
	}

	listed := decodeJSON[map[string][]store.Session](t, ts.do(t, http.MethodGet, "/api/sessions", &stranger, ""))
	if len(listed["sessions"]) != 0 {
		t.Fatalf("stranger should not see private session, got %+v", listed)
	}
}

func TestJoinWithCodeGrantsAccess(t *testing.T) {
	ts := newTestServer(t, timer.SubmitAlways)
	session := ts.createSession(t, owner, true)

	body, _ := json.Marshal(map[string]string{"code": session.InviteCode})
	rr := ts.do(t, http.MethodPost, "/api/sessions/join", &stranger, string(body))
	expectStatus(t, rr, http.StatusOK)
	if joined := decodeJSON[store.Session](t, rr); joined.ID != session.ID {
		t.Fatalf("joined wrong session: %s", joined.ID)
	}
	expectStatus(t, ts.do(t, http.MethodGet, "/api/sessions/"+session.ID, &stranger, ""), http.StatusOK)

	expectCode(t, ts.do(t, http.MethodPost, "/api/sessions/join", &stranger, `{"code":"NOPE0000"}`), http.StatusNotFound, "NOT_FOUND")
}

func TestSubmissionPolicyGatesIdeas(t *testing.T) {
	ts := newTestServer(t, timer.SubmitDuringRound)
	session := ts.createSession(t, owner, false)
	ideas := "/api/sessions/" + session.ID + "/ideas"

	expectCode(t, ts.do(t, http.MethodPost, ideas, &guest, `{"content":"Early"}`), http.StatusConflict, "SUBMISSIONS_CLOSED")

	expectCode(t, ts.do(t, http.MethodPost, "/api/sessions/"+session.ID+"/round", &guest, `{"durationMinutes":5}`), http.StatusForbidden, "FORBIDDEN")
	expectStatus(t, ts.do(t, http.MethodPost, "/api/sessions/"+session.ID+"/round", &owner, `{"durationMinutes":5}`), http.StatusOK)

	round := decodeJSON[map[string]any](t, ts.do(t, http.MethodGet, "/api/sessions/"+session.ID+"/round", nil, ""))
	if round["acceptingIdeas"] != true {
		t.Fatalf("expected round to accept ideas, got %v", round)
	}
	expectStatus(t, ts.do(t, http.MethodPost, ideas, &guest, `{"content":"On time"}`), http.StatusCreated)

	ts.clock.Advance(6 * time.Minute)
	expectCode(t, ts.do(t, http.MethodPost, ideas, &guest, `{"content":"Late"}`), http.StatusConflict, "SUBMISSIONS_CLOSED")
}

func TestDeleteIdeaRequiresOwnership(t *testing.T) {
	ts := newTestServer(t, timer.SubmitAlways)
	session := ts.createSession(t, owner, false)
	idea := decodeJSON[store.Idea](t, ts.do(t, http.MethodPost, "/api/sessions/"+session.ID+"/ideas", &guest, `{"content":"Mine"}`))

	expectCode(t, ts.do(t, http.MethodDelete, "/api/ideas/"+idea.ID, &stranger, ""), http.StatusForbidden, "FORBIDDEN")
	expectStatus(t, ts.do(t, http.MethodDelete, "/api/ideas/"+idea.ID, &owner, ""), http.StatusOK)
	expectCode(t, ts.do(t, http.MethodDelete, "/api/ideas/"+idea.ID, &owner, ""), http.StatusNotFound, "NOT_FOUND")
}

func TestVerifyUpvotesEndpoint(t *testing.T) {
	ts := newTestServer(t, timer.SubmitAlways)
	session := ts.createSession(t, owner, false)
	idea := decodeJSON[store.Idea](t, ts.do(t, http.MethodPost, "/api/sessions/"+session.ID+"/ideas", &guest, `{"content":"Count me"}`))
	expectStatus(t, ts.do(t, http.MethodPost, "/api/ideas/"+idea.ID+"/upvote", &guest, ""), http.StatusOK)

	path := "/api/sessions/" + session.ID + "/ideas/" + idea.ID + "/verify"
	expectCode(t, ts.do(t, http.MethodPost, path, &guest, ""), http.StatusForbidden, "FORBIDDEN")

	rr := ts.do(t, http.MethodPost, path, &owner, "")
	expectStatus(t, rr, http.StatusOK)
	payload := decodeJSON[map[string]any](t, rr)
	if payload["repaired"] != false {
		t.Fatalf("expected no repair, got %v", payload)
	}
}

func TestSearchEndpoint(t *testing.T) {
	ts := newTestServer(t, timer.SubmitAlways)
	session := ts.createSession(t, owner, false)
	expectStatus(t, ts.do(t, http.MethodPost, "/api/sessions/"+session.ID+"/ideas", &owner, `{"content":"Team lunch on Fridays"}`), http.StatusCreated)
	expectStatus(t, ts.do(t, http.MethodPost, "/api/sessions/"+session.ID+"/ideas", &owner, `{"content":"Shorter standups"}`), http.StatusCreated)

	resp := decodeJSON[search.Response](t, ts.do(t, http.MethodGet, "/api/sessions/"+session.ID+"/search?q=LUNCH", nil, ""))
	if resp.Total != 1 || len(resp.Results) != 1 || resp.Results[0].Type != search.ResultIdea {
		t.Fatalf("unexpected search response: %+v", resp)
	}
}

func TestDashboardListsOwnSessions(t *testing.T) {
	ts := newTestServer(t, timer.SubmitAlways)
	session := ts.createSession(t, owner, true)
	expectStatus(t, ts.do(t, http.MethodPost, "/api/sessions/"+session.ID+"/ideas", &owner, `{"content":"Plan"}`), http.StatusCreated)

	expectCode(t, ts.do(t, http.MethodGet, "/api/dashboard", nil, ""), http.StatusUnauthorized, "UNAUTHORIZED")
	board := decodeJSON[engine.Dashboard](t, ts.do(t, http.MethodGet, "/api/dashboard", &owner, ""))
	if len(board.Sessions) != 1 || len(board.Ideas) != 1 {
		t.Fatalf("unexpected dashboard: %+v", board)
	}
}

func TestUnknownRouteIsNotFound(t *testing.T) {
	ts := newTestServer(t, timer.SubmitAlways)
	expectCode(t, ts.do(t, http.MethodGet, "/api/nothing", nil, ""), http.StatusNotFound, "NOT_FOUND")
	expectCode(t, ts.do(t, http.MethodPut, "/api/sessions", &owner, ""), http.StatusNotFound, "NOT_FOUND")
}

func TestOptionsPreflight(t *testing.T) {
	ts := newTestServer(t, timer.SubmitAlways)
	rr := ts.do(t, http.MethodOptions, "/api/sessions", nil, "")
	expectStatus(t, rr, http.StatusNoContent)
	if rr.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Fatal("expected allow-methods header")
	}
}
