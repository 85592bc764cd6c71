package app

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"ideaboard/api/internal/access"
	"ideaboard/api/internal/realtime"
)

const (
	livePingInterval = 15 * time.Second
	liveWriteWait    = 10 * time.Second
	liveReadLimit    = 4096
)

type liveMessage struct {
	Type  string          `json:"type"`
	State *realtime.State `json:"state,omitempty"`
	Code  string          `json:"code,omitempty"`
	Error string          `json:"error,omitempty"`
}

// handleLive streams the converged session state over a websocket. Every
// message carries the full state, so a slow connection only ever sees the
// latest one.
func (s *HTTPServer) handleLive(w http.ResponseWriter, r *http.Request, actor *access.Actor, sessionID string) {
	if s.live == nil {
		writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Live updates are disabled", nil)
		return
	}
	// Refuse before upgrading so the client gets a normal HTTP status.
	if _, err := s.engine.GetSession(r.Context(), actor, sessionID); err != nil {
		s.fail(w, r, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("live: upgrade failed", "session_id", sessionID, "error", err)
		return
	}
	defer conn.Close()

	updates := make(chan realtime.State, 1)
	handle := s.live.Subscribe(sessionID, actor, func(state realtime.State) {
		select {
		case <-updates:
		default:
		}
		updates <- state
	})
	defer s.live.Unsubscribe(handle)

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(liveReadLimit)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(livePingInterval)
	defer ticker.Stop()

	for {
		select {
		case state := <-updates:
			msg := liveMessage{Type: "state", State: &state}
			if state.Phase == realtime.PhaseFailed {
				_, code, message, _ := mapError(state.Err)
				msg = liveMessage{Type: "error", Code: code, Error: message}
			}
			_ = conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if err := conn.WriteJSON(msg); err != nil {
				s.logger.Debug("live: write failed", "session_id", sessionID, "error", err)
				return
			}
			if state.Phase == realtime.PhaseFailed {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.ClosePolicyViolation, msg.Code),
					time.Now().Add(liveWriteWait))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(liveWriteWait)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
