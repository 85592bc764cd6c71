package app

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"ideaboard/api/internal/access"
	"ideaboard/api/internal/auth"
	"ideaboard/api/internal/engine"
	"ideaboard/api/internal/objectstore"
	"ideaboard/api/internal/realtime"
	"ideaboard/api/internal/search"
	"ideaboard/api/internal/timer"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Options struct {
	JWTSecret     []byte
	CORSOrigin    string
	Policy        timer.SubmissionPolicy
	MaxImageBytes int64
	Pinger        Pinger
	Logger        *slog.Logger
}

type HTTPServer struct {
	engine     *engine.Engine
	live       *realtime.Client
	secret     []byte
	corsOrigin string
	policy     timer.SubmissionPolicy
	maxBody    int64
	pinger     Pinger
	logger     *slog.Logger
	upgrader   websocket.Upgrader
}

// NewHTTPServer exposes eng over JSON and live over a websocket. live may be
// nil, which disables the live endpoint.
func NewHTTPServer(eng *engine.Engine, live *realtime.Client, opts Options) *HTTPServer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	policy := opts.Policy
	if policy == "" {
		policy = timer.SubmitAlways
	}
	maxImage := opts.MaxImageBytes
	if maxImage <= 0 {
		maxImage = objectstore.DefaultMaxBytes
	}
	corsOrigin := opts.CORSOrigin
	if corsOrigin == "" {
		corsOrigin = "*"
	}
	s := &HTTPServer{
		engine:     eng,
		live:       live,
		secret:     opts.JWTSecret,
		corsOrigin: corsOrigin,
		policy:     policy,
		// Images travel base64-encoded inside the JSON body.
		maxBody: maxImage*4/3 + 64<<10,
		pinger:  opts.Pinger,
		logger:  logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		s.handleReady(w, r)
		return
	}

	actor, err := s.actorFromRequest(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch parts[1] {
	case "me":
		if r.Method != http.MethodGet {
			break
		}
		if actor == nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": true, "id": actor.ID, "email": actor.Email})
		return
	case "dashboard":
		if r.Method != http.MethodGet {
			break
		}
		board, err := s.engine.Dashboard(r.Context(), actor)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, board)
		return
	case "sessions":
		if s.handleSessions(w, r, actor, parts[2:]) {
			return
		}
	case "ideas":
		if len(parts) >= 3 && s.handleIdeas(w, r, actor, parts[2], parts[3:]) {
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"store": map[string]any{"status": "ok"},
	}
	if s.pinger != nil {
		if err := s.pinger.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["store"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}
	}
	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

// handleSessions serves /api/sessions/... and reports whether it matched.
func (s *HTTPServer) handleSessions(w http.ResponseWriter, r *http.Request, actor *access.Actor, parts []string) bool {
	ctx := r.Context()

	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			sessions, err := s.engine.ListSessions(ctx, actor)
			if err != nil {
				s.fail(w, r, err)
				return true
			}
			writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
			return true
		case http.MethodPost:
			var body engine.NewSession
			if !s.decode(w, r, &body) {
				return true
			}
			session, err := s.engine.CreateSession(ctx, actor, body)
			if err != nil {
				s.fail(w, r, err)
				return true
			}
			writeJSON(w, http.StatusCreated, session)
			return true
		}
		return false
	}

	if parts[0] == "join" && len(parts) == 1 && r.Method == http.MethodPost {
		var body struct {
			Code string `json:"code"`
		}
		if !s.decode(w, r, &body) {
			return true
		}
		session, err := s.engine.JoinWithCode(ctx, actor, body.Code)
		if err != nil {
			s.fail(w, r, err)
			return true
		}
		writeJSON(w, http.StatusOK, session)
		return true
	}

	sessionID := parts[0]
	rest := parts[1:]
	route := strings.Join(rest, "/")

	switch {
	case route == "" && r.Method == http.MethodGet:
		session, err := s.engine.GetSession(ctx, actor, sessionID)
		if err != nil {
			s.fail(w, r, err)
			return true
		}
		writeJSON(w, http.StatusOK, session)
	case route == "snapshot" && r.Method == http.MethodGet:
		snap, err := s.engine.Snapshot(ctx, actor, sessionID)
		if err != nil {
			s.fail(w, r, err)
			return true
		}
		writeJSON(w, http.StatusOK, snap)
	case route == "live" && r.Method == http.MethodGet:
		s.handleLive(w, r, actor, sessionID)
	case route == "ideas" && r.Method == http.MethodGet:
		ideas, err := s.engine.ListIdeas(ctx, actor, sessionID)
		if err != nil {
			s.fail(w, r, err)
			return true
		}
		writeJSON(w, http.StatusOK, map[string]any{"ideas": ideas})
	case route == "ideas" && r.Method == http.MethodPost:
		s.handleCreateIdea(w, r, actor, sessionID)
	case len(rest) == 3 && rest[0] == "ideas" && rest[2] == "verify" && r.Method == http.MethodPost:
		idea, repaired, err := s.engine.VerifyUpvotes(ctx, actor, sessionID, rest[1])
		if err != nil {
			s.fail(w, r, err)
			return true
		}
		writeJSON(w, http.StatusOK, map[string]any{"idea": idea, "repaired": repaired})
	case route == "round" && r.Method == http.MethodGet:
		state, err := s.engine.RoundState(ctx, actor, sessionID)
		if err != nil {
			s.fail(w, r, err)
			return true
		}
		writeJSON(w, http.StatusOK, map[string]any{"round": state, "acceptingIdeas": s.policy.Allows(state)})
	case route == "round" && r.Method == http.MethodPost:
		var body struct {
			DurationMinutes int `json:"durationMinutes"`
		}
		if !s.decode(w, r, &body) {
			return true
		}
		session, err := s.engine.StartRound(ctx, actor, sessionID, body.DurationMinutes)
		if err != nil {
			s.fail(w, r, err)
			return true
		}
		writeJSON(w, http.StatusOK, session)
	case route == "invitations" && r.Method == http.MethodGet:
		invitations, err := s.engine.ListInvitations(ctx, actor, sessionID)
		if err != nil {
			s.fail(w, r, err)
			return true
		}
		writeJSON(w, http.StatusOK, map[string]any{"invitations": invitations})
	case route == "invitations" && r.Method == http.MethodPost:
		var body struct {
			Email string `json:"email"`
		}
		if !s.decode(w, r, &body) {
			return true
		}
		invitation, err := s.engine.Invite(ctx, actor, sessionID, body.Email)
		if err != nil {
			s.fail(w, r, err)
			return true
		}
		writeJSON(w, http.StatusCreated, invitation)
	case route == "search" && r.Method == http.MethodGet:
		s.handleSearch(w, r, actor, sessionID)
	default:
		return false
	}
	return true
}

func (s *HTTPServer) handleCreateIdea(w http.ResponseWriter, r *http.Request, actor *access.Actor, sessionID string) {
	ctx := r.Context()
	var body struct {
		ID      string `json:"id"`
		Content string `json:"content"`
		Image   *struct {
			ContentType string `json:"contentType"`
			Data        []byte `json:"data"`
		} `json:"image"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	if !s.decode(w, r, &body) {
		return
	}

	// Round gating is a UI policy; the engine itself accepts ideas at any time.
	state, err := s.engine.RoundState(ctx, actor, sessionID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !s.policy.Allows(state) {
		writeError(w, http.StatusConflict, "SUBMISSIONS_CLOSED", "Ideas are not accepted right now", map[string]any{"round": state, "policy": s.policy})
		return
	}

	input := engine.NewIdea{ID: body.ID, Content: body.Content}
	if body.Image != nil {
		input.Image = &objectstore.Image{ContentType: body.Image.ContentType, Data: body.Image.Data}
	}
	idea, err := s.engine.CreateIdea(ctx, actor, sessionID, input)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, idea)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, actor *access.Actor, sessionID string) {
	values := r.URL.Query()
	q := search.Query{
		Text:       values.Get("q"),
		FilterType: search.ResultType(values.Get("type")),
	}
	var err error
	if q.Limit, err = queryInt(values.Get("limit"), 20); err != nil || q.Limit < 0 {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "limit must be a non-negative number", nil)
		return
	}
	if q.Offset, err = queryInt(values.Get("offset"), 0); err != nil || q.Offset < 0 {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "offset must be a non-negative number", nil)
		return
	}
	resp, err := s.engine.SearchIdeas(r.Context(), actor, sessionID, q)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleIdeas serves /api/ideas/{id}/... and reports whether it matched.
func (s *HTTPServer) handleIdeas(w http.ResponseWriter, r *http.Request, actor *access.Actor, ideaID string, rest []string) bool {
	ctx := r.Context()
	route := strings.Join(rest, "/")

	switch {
	case route == "" && r.Method == http.MethodDelete:
		if err := s.engine.DeleteIdea(ctx, actor, ideaID); err != nil {
			s.fail(w, r, err)
			return true
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
	case route == "upvote" && r.Method == http.MethodPost:
		result, err := s.engine.ToggleUpvote(ctx, actor, ideaID)
		if err != nil {
			s.fail(w, r, err)
			return true
		}
		writeJSON(w, http.StatusOK, map[string]any{"voted": result.Voted, "upvoteCount": result.Count(), "idea": result.Idea})
	case route == "comments" && r.Method == http.MethodGet:
		if r.URL.Query().Get("view") == "tree" {
			tree, err := s.engine.CommentTree(ctx, actor, ideaID)
			if err != nil {
				s.fail(w, r, err)
				return true
			}
			writeJSON(w, http.StatusOK, map[string]any{"threads": tree})
			return true
		}
		comments, err := s.engine.ListComments(ctx, actor, ideaID)
		if err != nil {
			s.fail(w, r, err)
			return true
		}
		writeJSON(w, http.StatusOK, map[string]any{"comments": comments})
	case route == "comments" && r.Method == http.MethodPost:
		var body engine.NewComment
		if !s.decode(w, r, &body) {
			return true
		}
		comment, err := s.engine.AddComment(ctx, actor, ideaID, body)
		if err != nil {
			s.fail(w, r, err)
			return true
		}
		writeJSON(w, http.StatusCreated, comment)
	default:
		return false
	}
	return true
}

// actorFromRequest returns nil for anonymous requests. A token that is
// present but invalid is an error rather than anonymous access.
func (s *HTTPServer) actorFromRequest(r *http.Request) (*access.Actor, error) {
	token := bearerToken(r)
	if token == "" && websocket.IsWebSocketUpgrade(r) {
		// Browsers cannot set headers on websocket handshakes.
		token = r.URL.Query().Get("access_token")
	}
	if token == "" {
		return nil, nil
	}
	actor, err := auth.ParseToken(s.secret, token)
	if err != nil {
		return nil, err
	}
	return &actor, nil
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("http: request failed",
			"request_id", requestID(r.Context()),
			"path", r.URL.Path,
			"status", status,
			"error", err,
		)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := decodeBody(r, target); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return false
	}
	return true
}

func (s *HTTPServer) checkOrigin(r *http.Request) bool {
	if s.corsOrigin == "*" {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || origin == s.corsOrigin
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", id)

		next.ServeHTTP(writer, r)

		s.logger.Info("http: request",
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"duration_ms", time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the websocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("request body exceeds %d bytes", tooLarge.Limit)
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func queryInt(value string, fallback int) (int, error) {
	if value == "" {
		return fallback, nil
	}
	return strconv.Atoi(value)
}
