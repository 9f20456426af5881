package live

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gluk-w/codelive/internal/auth"
	"github.com/gluk-w/codelive/internal/chat"
)

type stubStore struct {
	mu       sync.Mutex
	projects map[string]bool
	messages []chat.Message
}

func (s *stubStore) ProjectExists(_ context.Context, id string) (bool, error) {
	return s.projects[id], nil
}

func (s *stubStore) AppendMessage(_ context.Context, _ string, msg chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	return nil
}

func (s *stubStore) saved() []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]chat.Message(nil), s.messages...)
}

type termCall struct {
	op, scope, id, data string
}

type stubTerminals struct {
	mu    sync.Mutex
	calls []termCall
}

func (s *stubTerminals) record(c termCall) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, c)
}

func (s *stubTerminals) Create(scope, id string) (bool, error) {
	s.record(termCall{"create", scope, id, ""})
	return true, nil
}

func (s *stubTerminals) Write(scope, id, data string) error {
	s.record(termCall{"write", scope, id, data})
	return nil
}

func (s *stubTerminals) Resize(scope, id string, cols, rows int) error {
	s.record(termCall{"resize", scope, id, ""})
	return nil
}

func (s *stubTerminals) Kill(scope, id string) bool {
	s.record(termCall{"kill", scope, id, ""})
	return true
}

func (s *stubTerminals) KillScope(scope string) int {
	s.record(termCall{"killscope", scope, "", ""})
	return 0
}

func (s *stubTerminals) snapshot() []termCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]termCall(nil), s.calls...)
}

type askCall struct {
	projectID, scope, text string
}

type stubAssistant struct {
	calls chan askCall
}

func (a *stubAssistant) Handle(_ context.Context, projectID, scope, text string) {
	a.calls <- askCall{projectID, scope, text}
}

type harness struct {
	srv       *httptest.Server
	validator *auth.HMACValidator
	store     *stubStore
	terms     *stubTerminals
	ai        *stubAssistant
	hub       *Hub
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		validator: auth.NewHMACValidator("test-secret"),
		store:     &stubStore{projects: map[string]bool{"p1": true}},
		terms:     &stubTerminals{},
		ai:        &stubAssistant{calls: make(chan askCall, 4)},
		hub:       NewHub(nil),
	}
	server := NewServer(Options{
		Hub:       h.hub,
		Rooms:     NewRoomManager(h.hub),
		Validator: h.validator,
		Store:     h.store,
		Terminals: h.terms,
		Assistant: h.ai,
	})
	h.srv = httptest.NewServer(server)
	t.Cleanup(h.srv.Close)
	return h
}

func (h *harness) token(t *testing.T, user, email string) string {
	t.Helper()
	tok, err := h.validator.Sign(auth.Identity{UserID: user, Email: email}, time.Hour)
	require.NoError(t, err)
	return tok
}

type client struct {
	t    *testing.T
	ws   *websocket.Conn
	id   string
	ctx  context.Context
	stop context.CancelFunc
}

func (h *harness) dial(t *testing.T, user, email string) *client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws?projectId=p1&token=" + h.token(t, user, email)
	ws, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)

	c := &client{t: t, ws: ws, ctx: ctx, stop: cancel}
	t.Cleanup(func() {
		ws.CloseNow()
		cancel()
	})

	connected := c.expect(EventConnected)
	var p connectedPayload
	require.NoError(t, json.Unmarshal(connected.Data, &p))
	assert.Equal(t, user, p.UserID)
	c.id = p.SocketID
	return c
}

func (c *client) send(event string, data any) {
	c.t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(c.t, err)
	require.NoError(c.t, wsjson.Write(c.ctx, c.ws, Envelope{Event: event, Data: raw}))
}

// expect reads frames until one named event arrives.
func (c *client) expect(event string) frame {
	c.t.Helper()
	for {
		var f frame
		err := wsjson.Read(c.ctx, c.ws, &f)
		require.NoError(c.t, err, "waiting for %s", event)
		if f.Event == event {
			return f
		}
	}
}

func TestHandshakeRejections(t *testing.T) {
	h := newHarness(t)
	good := h.token(t, "u1", "a@example.com")

	cases := []struct {
		name   string
		query  string
		status int
	}{
		{"missing project", "token=" + good, http.StatusBadRequest},
		{"unknown project", "projectId=nope&token=" + good, http.StatusBadRequest},
		{"missing token", "projectId=p1", http.StatusUnauthorized},
		{"bad token", "projectId=p1&token=garbage", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Get(h.srv.URL + "/ws?" + tc.query)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, tc.status, resp.StatusCode)
		})
	}
}

func TestUpgradeRateLimit(t *testing.T) {
	hub := NewHub(nil)
	server := NewServer(Options{
		Hub:       hub,
		Rooms:     NewRoomManager(hub),
		Validator: auth.AllowAll{},
		Store:     &stubStore{},
		Upgrades:  NewIPLimiter(0.5),
	})
	srv := httptest.NewServer(server)
	defer srv.Close()

	statuses := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		resp, err := http.Get(srv.URL + "/ws")
		require.NoError(t, err)
		resp.Body.Close()
		statuses = append(statuses, resp.StatusCode)
	}
	assert.Equal(t, []int{http.StatusBadRequest, http.StatusTooManyRequests, http.StatusTooManyRequests}, statuses)
}

func TestChannelRoomFlow(t *testing.T) {
	h := newHarness(t)
	alice := h.dial(t, "u1", "alice@example.com")
	bob := h.dial(t, "u2", "bob@example.com")

	alice.send(EventCreateRoom, map[string]string{"projectId": "p1"})
	var room roomPayload
	require.NoError(t, json.Unmarshal(alice.expect(EventRoomCreated).Data, &room))
	require.Len(t, room.RoomID, 6)

	bob.send(EventJoinRoom, map[string]string{"roomId": room.RoomID})
	bob.expect(EventRoomJoined)

	var sync requestSyncPayload
	require.NoError(t, json.Unmarshal(alice.expect(EventRequestSync).Data, &sync))
	assert.Equal(t, bob.id, sync.SocketID)

	// alice answers the sync request
	alice.send(EventSyncFileTree, map[string]any{
		"socketId": sync.SocketID,
		"fileTree": map[string]any{"main.js": map[string]any{"file": map[string]string{"contents": "1"}}},
	})
	tree := bob.expect(EventSyncFileTree)
	assert.JSONEq(t, `{"fileTree":{"main.js":{"file":{"contents":"1"}}}}`, string(tree.Data))

	alice.send(EventProjectWrite, map[string]string{"file": "main.js", "contents": "2"})
	write := bob.expect(EventProjectWrite)
	assert.JSONEq(t, `{"file":"main.js","contents":"2","userId":"u1","email":"alice@example.com","socketId":"`+alice.id+`"}`, string(write.Data))

	bob.send(EventProjectMessage, map[string]any{
		"message": "hello @ai explain closures",
		"sender":  map[string]string{"_id": "u2", "email": "bob@example.com"},
	})
	msg := alice.expect(EventProjectMessage)
	assert.Contains(t, string(msg.Data), "explain closures")

	select {
	case call := <-h.ai.calls:
		assert.Equal(t, askCall{"p1", room.RoomID, "hello @ai explain closures"}, call)
	case <-time.After(5 * time.Second):
		t.Fatal("assistant was not called")
	}
	saved := h.store.saved()
	require.Len(t, saved, 1)
	assert.Equal(t, "bob@example.com", saved[0].Sender.Email)

	bob.send(EventLeaveRoom, nil)
	left := alice.expect(EventUserLeft)
	assert.JSONEq(t, `{"userId":"u2"}`, string(left.Data))
	roster := alice.expect(EventRoomUsers)
	assert.JSONEq(t, `[{"_id":"u1","email":"alice@example.com","socketId":"`+alice.id+`"}]`, string(roster.Data))
}

func TestJoinUnknownRoomSendsError(t *testing.T) {
	h := newHarness(t)
	alice := h.dial(t, "u1", "alice@example.com")

	alice.send(EventJoinRoom, map[string]string{"roomId": "999999"})
	f := alice.expect(EventError)
	assert.JSONEq(t, `{"message":"Room not found or inactive"}`, string(f.Data))

	alice.send(EventCreateRoom, map[string]string{"projectId": "p2"})
	f = alice.expect(EventError)
	assert.JSONEq(t, `{"message":"Project mismatch"}`, string(f.Data))
}

func TestSoloMessagesWithoutMarkerAreDropped(t *testing.T) {
	h := newHarness(t)
	alice := h.dial(t, "u1", "alice@example.com")

	alice.send(EventProjectMessage, map[string]string{"message": "just me"})
	alice.send(EventProjectMessage, map[string]string{"message": "@ai create a server"})

	select {
	case call := <-h.ai.calls:
		assert.Equal(t, alice.id, call.scope)
	case <-time.After(5 * time.Second):
		t.Fatal("assistant was not called")
	}
	saved := h.store.saved()
	require.Len(t, saved, 1)
	assert.Equal(t, "@ai create a server", saved[0].Text)
	assert.Equal(t, chat.Sender{ID: "u1", Email: "alice@example.com"}, saved[0].Sender)
}

func TestStoredSenderComesFromToken(t *testing.T) {
	h := newHarness(t)
	alice := h.dial(t, "u1", "alice@example.com")
	bob := h.dial(t, "u2", "bob@example.com")

	alice.send(EventCreateRoom, map[string]string{"projectId": "p1"})
	var room roomPayload
	require.NoError(t, json.Unmarshal(alice.expect(EventRoomCreated).Data, &room))
	bob.send(EventJoinRoom, map[string]string{"roomId": room.RoomID})
	bob.expect(EventRoomJoined)

	bob.send(EventProjectMessage, map[string]any{
		"message": "hi",
		"sender":  map[string]string{"_id": "u1", "email": "alice@example.com"},
	})
	alice.expect(EventProjectMessage)

	saved := h.store.saved()
	require.Len(t, saved, 1)
	assert.Equal(t, chat.Sender{ID: "u2", Email: "bob@example.com"}, saved[0].Sender)
}

func TestTerminalEventsUseScope(t *testing.T) {
	h := newHarness(t)
	alice := h.dial(t, "u1", "alice@example.com")

	alice.send(EventTerminalCreate, "t1")
	alice.send(EventTerminalWrite, map[string]string{"terminalId": "t1", "data": "ls\r"})
	alice.send(EventTerminalResize, map[string]any{"terminalId": "t1", "cols": 120, "rows": 40})

	alice.send(EventCreateRoom, map[string]string{"projectId": "p1"})
	var room roomPayload
	require.NoError(t, json.Unmarshal(alice.expect(EventRoomCreated).Data, &room))
	alice.send(EventTerminalCreate, 2)
	alice.send(EventTerminalKill, 2)

	require.Eventually(t, func() bool { return len(h.terms.snapshot()) == 5 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []termCall{
		{"create", alice.id, "t1", ""},
		{"write", alice.id, "t1", "ls\r"},
		{"resize", alice.id, "t1", ""},
		{"create", room.RoomID, "2", ""},
		{"kill", room.RoomID, "2", ""},
	}, h.terms.snapshot())

	alice.ws.Close(websocket.StatusNormalClosure, "")
	require.Eventually(t, func() bool {
		calls := h.terms.snapshot()
		last := calls[len(calls)-1]
		return last.op == "killscope" && last.scope == alice.id
	}, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return h.hub.ConnCount() == 0 }, 5*time.Second, 10*time.Millisecond)
}
