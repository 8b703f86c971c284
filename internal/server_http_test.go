package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"tchat/internal/storage"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store, err := storage.NewStore("sqlite://file:" + t.Name() + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewServer(store)
}

func postJSON(t *testing.T, handler http.HandlerFunc, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func signupAndLogin(t *testing.T, s *Server, username, password string) loginResponse {
	t.Helper()
	rec := postJSON(t, s.HandleSignup, "/signup", credentialsRequest{Username: username, Password: password})
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup: status %d body %s", rec.Code, rec.Body.String())
	}
	rec = postJSON(t, s.HandleLogin, "/login", credentialsRequest{Username: username, Password: password})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: status %d body %s", rec.Code, rec.Body.String())
	}
	var resp loginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp
}

func TestSignupValidation(t *testing.T) {
	s := newTestServer(t)

	rec := postJSON(t, s.HandleSignup, "/signup", credentialsRequest{Username: "al", Password: "longenough"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("short username: status %d", rec.Code)
	}
	rec = postJSON(t, s.HandleSignup, "/signup", credentialsRequest{Username: "alice", Password: "short"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("short password: status %d", rec.Code)
	}

	rec = postJSON(t, s.HandleSignup, "/signup", credentialsRequest{Username: "alice", Password: "hunter22"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup: status %d body %s", rec.Code, rec.Body.String())
	}
	var resp signupResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode signup response: %v", err)
	}
	if resp.UserID == "" || resp.Username != "alice" {
		t.Fatalf("unexpected signup response: %+v", resp)
	}

	rec = postJSON(t, s.HandleSignup, "/signup", credentialsRequest{Username: "alice", Password: "different1"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate username: status %d", rec.Code)
	}
}

func TestLoginAndLogout(t *testing.T) {
	s := newTestServer(t)
	login := signupAndLogin(t, s, "alice", "hunter22")
	if login.Token == "" || login.Username != "alice" {
		t.Fatalf("unexpected login response: %+v", login)
	}

	rec := postJSON(t, s.HandleLogin, "/login", credentialsRequest{Username: "alice", Password: "wrongpass"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password: status %d", rec.Code)
	}
	rec = postJSON(t, s.HandleLogin, "/login", credentialsRequest{Username: "nobody", Password: "whatever1"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unknown user: status %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/logout", nil)
	req.Header.Set("Authorization", "Bearer "+login.Token)
	rec2 := httptest.NewRecorder()
	s.HandleLogout(rec2, req)
	if rec2.Code != http.StatusNoContent {
		t.Fatalf("logout: status %d", rec2.Code)
	}

	// the token is dead after logout
	req = httptest.NewRequest(http.MethodPost, "/rooms", nil)
	req.Header.Set("Authorization", "Bearer "+login.Token)
	rec2 = httptest.NewRecorder()
	s.HandleCreateRoom(rec2, req)
	if rec2.Code != http.StatusUnauthorized {
		t.Fatalf("create room with revoked token: status %d", rec2.Code)
	}
}

func TestCreateRoomAsGuest(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/rooms?uid=guest-1&name=alice", nil)
	rec := httptest.NewRecorder()
	s.HandleCreateRoom(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create room: status %d body %s", rec.Code, rec.Body.String())
	}
	var resp createRoomResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !isValidRoomCode(resp.Room) {
		t.Fatalf("room code %q has the wrong shape", resp.Room)
	}

	// anonymous callers without even a guest identity are rejected
	req = httptest.NewRequest(http.MethodPost, "/rooms", nil)
	rec = httptest.NewRecorder()
	s.HandleCreateRoom(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("identity-less create: status %d", rec.Code)
	}
}

func TestRoomExistsProbe(t *testing.T) {
	s := newTestServer(t)
	code := createGuestRoom(t, s, "guest-1", "alice")

	req := httptest.NewRequest(http.MethodGet, "/exists?room="+code, nil)
	rec := httptest.NewRecorder()
	s.HandleRoomExists(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("existing room: status %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/exists?room=ZZZZZZZ", nil)
	rec = httptest.NewRecorder()
	s.HandleRoomExists(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing room: status %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/exists?room=bogus", nil)
	rec = httptest.NewRecorder()
	s.HandleRoomExists(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed code: status %d", rec.Code)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	s := newTestServer(t)
	code := createGuestRoom(t, s, "guest-1", "alice")

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := s.store.AppendMessage(ctx, code, "guest-1", "alice", fmt.Sprintf("msg-%d", i)); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/history?room="+code, nil)
	rec := httptest.NewRecorder()
	s.HandleHistory(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("history: status %d body %s", rec.Code, rec.Body.String())
	}
	var resp historyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if resp.Total != 3 || len(resp.Messages) != 3 {
		t.Fatalf("unexpected history: total=%d messages=%d", resp.Total, len(resp.Messages))
	}
	for i, m := range resp.Messages {
		if m.Seq != int64(i+1) {
			t.Fatalf("message %d out of order: seq %d", i, m.Seq)
		}
	}

	req = httptest.NewRequest(http.MethodGet, "/history?room="+code+"&limit=2", nil)
	rec = httptest.NewRecorder()
	s.HandleHistory(rec, req)
	resp = historyResponse{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode limited history: %v", err)
	}
	if resp.Total != 3 || len(resp.Messages) != 2 || resp.Messages[0].Seq != 2 {
		t.Fatalf("unexpected limited history: %+v", resp)
	}

	req = httptest.NewRequest(http.MethodGet, "/history?room=ZZZZZZZ", nil)
	rec = httptest.NewRecorder()
	s.HandleHistory(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing room history: status %d", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/signup", nil)
	rec := httptest.NewRecorder()
	s.HandleSignup(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET /signup: status %d", rec.Code)
	}
	if allow := rec.Header().Get("Allow"); allow != http.MethodPost {
		t.Fatalf("Allow header: %q", allow)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	signupAndLogin(t, s, "alice", "hunter22")
	createGuestRoom(t, s, "guest-1", "bob")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.MetricsHandler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: status %d", rec.Code)
	}
	var payload map[string]float64
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode metrics: %v", err)
	}
	if payload["signups_total"] != 1 || payload["logins_total"] != 1 {
		t.Fatalf("unexpected auth counters: %v", payload)
	}
	if payload["rooms_created_total"] != 1 {
		t.Fatalf("unexpected room counter: %v", payload)
	}
	if _, ok := payload["active_rooms"]; !ok {
		t.Fatalf("missing active_rooms: %v", payload)
	}
}

func createGuestRoom(t *testing.T, s *Server, uid, name string) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/rooms?uid="+uid+"&name="+name, nil)
	rec := httptest.NewRecorder()
	s.HandleCreateRoom(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create room: status %d body %s", rec.Code, rec.Body.String())
	}
	var resp createRoomResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.Room
}

// end-to-end over a real websocket: the first frame is the history snapshot,
// then every accepted message arrives on both feeds with its log position.
func TestWebsocketRoomFlow(t *testing.T) {
	s := newTestServer(t)
	code := createGuestRoom(t, s, "guest-a", "alice")

	if _, err := s.store.AppendMessage(context.Background(), code, "guest-a", "alice", "before connect"); err != nil {
		t.Fatalf("seed message: %v", err)
	}

	ts := httptest.NewServer(http.HandlerFunc(s.ServeWS))
	defer ts.Close()
	wsBase := "ws" + strings.TrimPrefix(ts.URL, "http")

	alice := dialRoom(t, wsBase, code, "guest-a", "alice")
	defer alice.Close()

	history := readEvent(t, alice)
	if history.Kind != eventHistory {
		t.Fatalf("first frame kind %q, want history", history.Kind)
	}
	if history.Total != 1 || len(history.History) != 1 || history.History[0].Body != "before connect" {
		t.Fatalf("unexpected snapshot: %+v", history)
	}

	bob := dialRoom(t, wsBase, code, "guest-b", "bob")
	defer bob.Close()
	if ev := readEvent(t, bob); ev.Kind != eventHistory {
		t.Fatalf("bob's first frame kind %q, want history", ev.Kind)
	}

	if err := bob.WriteJSON(ChatMessage{Room: code, Body: "hi alice"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	got := readChat(t, alice)
	if got.Body != "hi alice" || got.User != "bob" || got.Seq != 2 {
		t.Fatalf("alice received %+v", got)
	}
	// the sender sees its own message only via the feed echo
	echo := readChat(t, bob)
	if echo.Body != "hi alice" || echo.Seq != 2 {
		t.Fatalf("bob's echo %+v", echo)
	}

	// a third participant is turned away before the upgrade
	_, resp, err := websocket.DefaultDialer.Dial(wsBase+"?room="+code+"&uid=guest-c&name=carol", nil)
	if err == nil {
		t.Fatalf("expected third join to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for a full room, got %+v", resp)
	}

	// unknown rooms are rejected the same way
	_, resp, err = websocket.DefaultDialer.Dial(wsBase+"?room=ZZZZZZZ&uid=guest-a&name=alice", nil)
	if err == nil {
		t.Fatalf("expected join of unknown room to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown room, got %+v", resp)
	}
}

func dialRoom(t *testing.T, wsBase, code, uid, name string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsBase+"?room="+code+"&uid="+uid+"&name="+name, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) FeedEvent {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var event FeedEvent
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return event
}

// readChat skips system notices and returns the next chat message.
func readChat(t *testing.T, conn *websocket.Conn) ChatMessage {
	t.Helper()
	for {
		event := readEvent(t, conn)
		if event.Kind == eventChat && event.Message != nil {
			return *event.Message
		}
	}
}
