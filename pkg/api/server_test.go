package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sipeed/wabridge/pkg/config"
	"github.com/sipeed/wabridge/pkg/domain"
	"github.com/sipeed/wabridge/pkg/infrastructure/eventbus"
	"github.com/sipeed/wabridge/pkg/message"
)

type sentText struct{ jid, text string }

type fakeSession struct {
	mu   sync.Mutex
	sent []sentText
	err  error
}

func (s *fakeSession) SendText(_ context.Context, jid, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, sentText{jid, text})
	return nil
}

// fakeSessions hands out session when connected is true.
type fakeSessions struct {
	session   *fakeSession
	connected bool
}

func (f *fakeSessions) ActiveSession() (message.Session, bool) {
	if !f.connected {
		return nil, false
	}
	return f.session, true
}

func newTestServer(t *testing.T, apiKey string, connected bool) (*Server, *fakeSession) {
	t.Helper()
	sess := &fakeSession{}
	cfg := config.GatewayConfig{Host: "127.0.0.1", Port: 8081, APIKey: apiKey}
	return NewServer(cfg, &fakeSessions{session: sess, connected: connected}, eventbus.New()), sess
}

func do(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]interface{}
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("response is not JSON: %q", rec.Body.String())
		}
	}
	return rec, out
}

func TestSendMessage(t *testing.T) {
	tests := []struct {
		name       string
		connected  bool
		body       string
		sendErr    error
		wantStatus int
		wantKey    string
		wantValue  string
		wantSends  int
	}{
		{"no session", false, `{"jid":"111@s.whatsapp.net","text":"hi"}`, nil, http.StatusServiceUnavailable, "error", "WhatsApp socket not connected", 0},
		{"no session beats bad body", false, `{}`, nil, http.StatusServiceUnavailable, "error", "WhatsApp socket not connected", 0},
		{"missing text", true, `{"jid":"111@s.whatsapp.net"}`, nil, http.StatusBadRequest, "error", "jid and text are required", 0},
		{"missing jid", true, `{"text":"hi"}`, nil, http.StatusBadRequest, "error", "jid and text are required", 0},
		{"malformed body", true, `{"jid":`, nil, http.StatusBadRequest, "error", "jid and text are required", 0},
		{"send error", true, `{"jid":"111@s.whatsapp.net","text":"hi"}`, errors.New("server returned error 479"), http.StatusInternalServerError, "error", "server returned error 479", 0},
		{"session dropped", true, `{"jid":"111@s.whatsapp.net","text":"hi"}`, message.ErrSessionUnavailable, http.StatusServiceUnavailable, "error", string(message.ErrSessionUnavailable), 0},
		{"sent", true, `{"jid":"111@s.whatsapp.net","text":"hi"}`, nil, http.StatusOK, "status", "sent", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, sess := newTestServer(t, "", tt.connected)
			sess.err = tt.sendErr

			rec, out := do(t, srv.Handler(), http.MethodPost, "/api/send-message", tt.body, nil)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if out[tt.wantKey] != tt.wantValue {
				t.Errorf("body = %v, want %s=%q", out, tt.wantKey, tt.wantValue)
			}
			if len(sess.sent) != tt.wantSends {
				t.Errorf("sends = %d, want %d", len(sess.sent), tt.wantSends)
			}
		})
	}
}

func TestSendMessageDeliversText(t *testing.T) {
	srv, sess := newTestServer(t, "", true)
	do(t, srv.Handler(), http.MethodPost, "/api/send-message", `{"jid":"111@s.whatsapp.net","text":"Your receipt was approved"}`, nil)

	if len(sess.sent) != 1 || sess.sent[0] != (sentText{"111@s.whatsapp.net", "Your receipt was approved"}) {
		t.Errorf("sent = %+v", sess.sent)
	}
	if got := srv.stats.Count(domain.EventOutboundSent); got != 1 {
		t.Errorf("outbound counter = %d, want 1", got)
	}
}

func TestSendMessageRequiresPOST(t *testing.T) {
	srv, _ := newTestServer(t, "", true)
	rec, _ := do(t, srv.Handler(), http.MethodGet, "/api/send-message", "", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, "secret", false)
	rec, out := do(t, srv.Handler(), http.MethodGet, "/api/health", "", nil)
	if rec.Code != http.StatusOK || out["status"] != "ok" {
		t.Errorf("health = %d %v", rec.Code, out)
	}
}

func TestAuth(t *testing.T) {
	srv, sess := newTestServer(t, "secret", true)
	body := `{"jid":"111@s.whatsapp.net","text":"hi"}`

	rec, _ := do(t, srv.Handler(), http.MethodPost, "/api/send-message", body, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", rec.Code)
	}
	rec, _ = do(t, srv.Handler(), http.MethodPost, "/api/send-message", body, map[string]string{"Authorization": "Bearer wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token: status = %d, want 401", rec.Code)
	}
	rec, _ = do(t, srv.Handler(), http.MethodPost, "/api/send-message", body, map[string]string{"Authorization": "Bearer secret"})
	if rec.Code != http.StatusOK {
		t.Errorf("bearer: status = %d, want 200", rec.Code)
	}
	rec, _ = do(t, srv.Handler(), http.MethodPost, "/api/send-message", body, map[string]string{"X-API-Key": "secret"})
	if rec.Code != http.StatusOK {
		t.Errorf("x-api-key: status = %d, want 200", rec.Code)
	}
	if len(sess.sent) != 2 {
		t.Errorf("sends = %d, want 2", len(sess.sent))
	}
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := newTestServer(t, "secret", true)
	rec, _ := do(t, srv.Handler(), http.MethodOptions, "/api/send-message", "", map[string]string{"Origin": "http://localhost:3000"})
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("allow origin = %q", got)
	}
}

func TestStatusCountsEvents(t *testing.T) {
	bus := eventbus.New()
	srv := NewServer(config.GatewayConfig{}, &fakeSessions{connected: true, session: &fakeSession{}}, bus)

	bus.Publish(domain.NewEvent(domain.EventMessageReceived, "M1", nil))
	bus.Publish(domain.NewEvent(domain.EventReplySent, "M1", nil))
	bus.Publish(domain.NewEvent(domain.EventForwardFailed, "M1", nil))

	rec, out := do(t, srv.Handler(), http.MethodGet, "/api/status", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	relay, _ := out["relay"].(map[string]interface{})
	if relay["received"] != float64(1) || relay["replies_sent"] != float64(1) || relay["forward_failed"] != float64(1) {
		t.Errorf("relay = %v", relay)
	}
	session, _ := out["session"].(map[string]interface{})
	if session["connected"] != true {
		t.Errorf("session = %v", session)
	}
}

func TestWebSocketStreamsEvents(t *testing.T) {
	bus := eventbus.New()
	srv := NewServer(config.GatewayConfig{}, &fakeSessions{}, bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.wsHub.Run(ctx)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/api/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first WSEvent
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read initial state: %v", err)
	}
	if first.Type != "initial_state" {
		t.Fatalf("first frame = %s, want initial_state", first.Type)
	}

	bus.Publish(domain.NewEvent(domain.EventMediaStored, "ABC123", domain.MessageEvent{MessageID: "ABC123"}))

	for {
		var evt WSEvent
		if err := conn.ReadJSON(&evt); err != nil {
			t.Fatalf("read event: %v", err)
		}
		if evt.Type == string(domain.EventMediaStored) {
			break
		}
	}
}
