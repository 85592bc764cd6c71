package app

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"ideaboard/api/internal/access"
	"ideaboard/api/internal/realtime"
	"ideaboard/api/internal/timer"
)

func dialLive(t *testing.T, baseURL, sessionID string, actor *access.Actor) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	u, err := url.Parse(baseURL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	u.Path = "/api/sessions/" + sessionID + "/live"
	if actor != nil {
		u.RawQuery = url.Values{"access_token": {tokenFor(t, *actor)}}.Encode()
	}
	return websocket.DefaultDialer.Dial(u.String(), nil)
}

// readUntil reads live messages until match accepts one or the deadline passes.
func readUntil(t *testing.T, conn *websocket.Conn, match func(liveMessage) bool) liveMessage {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		if err := conn.SetReadDeadline(deadline); err != nil {
			t.Fatalf("set deadline: %v", err)
		}
		var msg liveMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read live message: %v", err)
		}
		if match(msg) {
			return msg
		}
	}
}

func TestLiveStreamsSessionState(t *testing.T) {
	ts := newTestServer(t, timer.SubmitAlways)
	session := ts.createSession(t, owner, false)

	srv := httptest.NewServer(ts.server.Handler())
	defer srv.Close()

	conn, _, err := dialLive(t, srv.URL, session.ID, &guest)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	ready := readUntil(t, conn, func(msg liveMessage) bool {
		return msg.Type == "state" && msg.State.Phase == realtime.PhaseReady
	})
	if ready.State.Session.ID != session.ID || len(ready.State.Ideas) != 0 {
		t.Fatalf("unexpected initial state: %+v", ready.State)
	}

	// The handle subscribes before loading, so a write after the first ready
	// state is always delivered.
	expectStatus(t, ts.do(t, http.MethodPost, "/api/sessions/"+session.ID+"/ideas", &owner, `{"content":"Live idea"}`), http.StatusCreated)

	got := readUntil(t, conn, func(msg liveMessage) bool {
		return msg.Type == "state" && len(msg.State.Ideas) == 1
	})
	if got.State.Ideas[0].Content != "Live idea" {
		t.Fatalf("unexpected idea: %+v", got.State.Ideas[0])
	}
}

func TestLiveRejectsUnauthorizedBeforeUpgrade(t *testing.T) {
	ts := newTestServer(t, timer.SubmitAlways)
	session := ts.createSession(t, owner, true)

	srv := httptest.NewServer(ts.server.Handler())
	defer srv.Close()

	_, resp, err := dialLive(t, srv.URL, session.ID, &stranger)
	if err == nil {
		t.Fatal("expected handshake to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 handshake response, got %+v", resp)
	}

	_, resp, err = dialLive(t, srv.URL, session.ID, nil)
	if err == nil {
		t.Fatal("expected anonymous handshake to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 handshake response, got %+v", resp)
	}
}

func TestLiveDisabledWithoutClient(t *testing.T) {
	ts := newTestServer(t, timer.SubmitAlways)
	session := ts.createSession(t, owner, false)
	ts.server.live = nil

	rr := ts.do(t, http.MethodGet, "/api/sessions/"+session.ID+"/live", &owner, "")
	expectCode(t, rr, http.StatusServiceUnavailable, "UNAVAILABLE")
}
