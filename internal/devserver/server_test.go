package devserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"counselchat/internal/api"
	"counselchat/internal/auth"
	"counselchat/internal/chat"
	"counselchat/internal/logging"
	"counselchat/internal/transport"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

var (
	patient   = auth.Identity{UserID: 1, Username: "sam"}
	counselor = auth.Identity{UserID: 2, Username: "dr lee", AvatarColor: "#4a8"}
)

type harness struct {
	*httptest.Server
	dev  *Server
	repo MessageRepository
}

func newHarness(t *testing.T) *harness {
	repo := NewMemoryMessageRepository()
	dev := New(Options{JWTSecret: testSecret, Repo: repo, Logger: logging.Discard()})
	srv := httptest.NewServer(dev.Handler())
	t.Cleanup(func() {
		dev.Close()
		srv.Close()
	})
	return &harness{Server: srv, dev: dev, repo: repo}
}

func token(t *testing.T, id auth.Identity) string {
	t.Helper()
	tok, err := auth.IssueToken(testSecret, id, time.Hour)
	require.NoError(t, err)
	return tok
}

func (h *harness) do(t *testing.T, method, path, tok string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, h.URL+path, reader)
	require.NoError(t, err)
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

// socket is a raw test peer speaking the envelope protocol
type socket struct {
	conn *websocket.Conn
}

func (h *harness) dial(t *testing.T, tok string, roomID int64) *socket {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.URL, "http") + "/ws?token=" + tok
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })

	s := &socket{conn: conn}
	if roomID != 0 {
		before := 0
		if room := h.dev.Hub().Room(roomID); room != nil {
			before = room.GetUserCount()
		}
		s.send(t, transport.EventJoinRoom, transport.RoomPayload{RoomID: roomID})
		require.Eventually(t, func() bool {
			room := h.dev.Hub().Room(roomID)
			return room != nil && room.GetUserCount() == before+1
		}, 2*time.Second, 10*time.Millisecond)
	}
	return s
}

func (s *socket) send(t *testing.T, event transport.EventType, payload any) {
	t.Helper()
	env, err := transport.NewEnvelope(event, payload)
	require.NoError(t, err)
	require.NoError(t, s.conn.WriteJSON(env))
}

func (s *socket) next(t *testing.T) transport.Envelope {
	t.Helper()
	require.NoError(t, s.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env transport.Envelope
	require.NoError(t, s.conn.ReadJSON(&env))
	return env
}

func (s *socket) silent(t *testing.T) {
	t.Helper()
	require.NoError(t, s.conn.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	var env transport.Envelope
	err := s.conn.ReadJSON(&env)
	assert.Error(t, err, "unexpected %s", env.Event)
}

func TestRequiresToken(t *testing.T) {
	h := newHarness(t)

	resp := h.do(t, http.MethodGet, "/chat/rooms/7/messages", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = h.do(t, http.MethodGet, "/chat/rooms/7/messages", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	url := "ws" + strings.TrimPrefix(h.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCreateAndListMessages(t *testing.T) {
	h := newHarness(t)
	tok := token(t, patient)

	for _, text := range []string{"one", "two", "  three  "} {
		resp := h.do(t, http.MethodPost, "/chat/7/messages", tok, chat.SendRequest{UserID: 1, RoomID: 7, Message: text, MessageType: chat.KindText})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp := h.do(t, http.MethodGet, "/chat/rooms/7/messages?page=1&limit=2", tok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page := decode[api.MessagesResponse](t, resp)

	assert.True(t, page.Success)
	require.Len(t, page.Data.Message, 2)
	assert.Equal(t, "two", page.Data.Message[0].Message)
	assert.Equal(t, "three", page.Data.Message[1].Message)
	assert.Equal(t, "sam", page.Data.Message[1].UserName)
	assert.Equal(t, api.Pagination{Page: 1, Limit: 2, Total: 3, HasMore: true}, page.Data.Pagination)

	resp = h.do(t, http.MethodGet, "/chat/7/messages?before=2&limit=5", tok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	older := decode[api.OlderMessagesResponse](t, resp)
	require.Len(t, older.Data, 1)
	assert.Equal(t, "one", older.Data[0].Message)
	assert.False(t, older.Pagination.HasMore)
}

func TestCreateMessageValidation(t *testing.T) {
	h := newHarness(t)
	tok := token(t, patient)

	tests := []struct {
		name string
		path string
		body chat.SendRequest
		want int
	}{
		{"blank", "/chat/7/messages", chat.SendRequest{RoomID: 7, Message: "   "}, http.StatusBadRequest},
		{"room mismatch", "/chat/7/messages", chat.SendRequest{RoomID: 8, Message: "hi"}, http.StatusBadRequest},
		{"impersonation", "/chat/7/messages", chat.SendRequest{UserID: 2, RoomID: 7, Message: "hi"}, http.StatusForbidden},
		{"bad room", "/chat/abc/messages", chat.SendRequest{Message: "hi"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := h.do(t, http.MethodPost, tt.path, tok, tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}

	resp := h.do(t, http.MethodGet, "/chat/7/messages?before=-3", tok, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRestSendBroadcastsToRoom(t *testing.T) {
	h := newHarness(t)
	sender := h.dial(t, token(t, patient), 7)
	peer := h.dial(t, token(t, counselor), 7)
	outsider := h.dial(t, token(t, auth.Identity{UserID: 3, Username: "x"}), 8)

	resp := h.do(t, http.MethodPost, "/chat/7/messages", token(t, patient), chat.SendRequest{RoomID: 7, Message: "hello"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[api.SendMessageResponse](t, resp)

	for _, s := range []*socket{sender, peer} {
		env := s.next(t)
		require.Equal(t, transport.EventNewMessage, env.Event)
		msg, err := env.DecodeNewMessage()
		require.NoError(t, err)
		assert.Equal(t, created.Data.ID, msg.ID)
		assert.Equal(t, int64(1), msg.SenderID)
	}
	outsider.silent(t)

	// the sender's fan-out of the same message is absorbed
	sender.send(t, transport.EventSendMessage, transport.SendPayload{RoomID: 7, Content: "hello", Type: chat.KindText})
	peer.silent(t)

	_, total, err := h.repo.ListPage(t.Context(), 7, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestSocketOnlySendIsStored(t *testing.T) {
	h := newHarness(t)
	sender := h.dial(t, token(t, patient), 7)
	peer := h.dial(t, token(t, counselor), 7)

	sender.send(t, transport.EventSendMessage, transport.SendPayload{RoomID: 7, Content: "via socket"})

	env := peer.next(t)
	require.Equal(t, transport.EventNewMessage, env.Event)
	msg, err := env.DecodeNewMessage()
	require.NoError(t, err)
	assert.Positive(t, msg.ID)
	assert.Equal(t, "via socket", msg.Message)

	_, total, err := h.repo.ListPage(t.Context(), 7, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestSendBeforeJoinIsRejected(t *testing.T) {
	h := newHarness(t)
	s := h.dial(t, token(t, patient), 0)

	s.send(t, transport.EventSendMessage, transport.SendPayload{RoomID: 7, Content: "hi"})

	env := s.next(t)
	assert.Equal(t, transport.EventError, env.Event)
}

func TestTypingIsRelayedToOthers(t *testing.T) {
	h := newHarness(t)
	typist := h.dial(t, token(t, patient), 7)
	peer := h.dial(t, token(t, counselor), 7)

	typist.send(t, transport.EventTypingStart, transport.TypingPayload{RoomID: 7})
	env := peer.next(t)
	require.Equal(t, transport.EventUserTyping, env.Event)
	var p transport.UserTypingPayload
	require.NoError(t, env.Decode(&p))
	assert.Equal(t, transport.UserTypingPayload{UserID: 1, UserName: "sam", RoomID: 7}, p)

	typist.send(t, transport.EventTypingStop, transport.TypingPayload{RoomID: 7})
	assert.Equal(t, transport.EventUserStoppedTyping, peer.next(t).Event)

	typist.silent(t)
}

func TestUnknownEventGetsError(t *testing.T) {
	h := newHarness(t)
	s := h.dial(t, token(t, patient), 7)

	s.send(t, "dance", nil)
	env := s.next(t)
	require.Equal(t, transport.EventError, env.Event)
	var p transport.ErrorPayload
	require.NoError(t, env.Decode(&p))
	assert.Contains(t, p.Message, "dance")
}

func TestJoinMovesBetweenRooms(t *testing.T) {
	h := newHarness(t)
	s := h.dial(t, token(t, patient), 7)

	s.send(t, transport.EventJoinRoom, transport.RoomPayload{RoomID: 8})
	require.Eventually(t, func() bool {
		return h.dev.Hub().Room(8) != nil && h.dev.Hub().Room(7) == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDisconnectUnregisters(t *testing.T) {
	h := newHarness(t)
	s := h.dial(t, token(t, patient), 7)
	require.Equal(t, 1, h.dev.Hub().ClientCount())

	s.conn.Close()
	require.Eventually(t, func() bool {
		return h.dev.Hub().ClientCount() == 0 && h.dev.Hub().Room(7) == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestShutdownClosesSockets(t *testing.T) {
	h := newHarness(t)
	s := h.dial(t, token(t, patient), 7)

	h.dev.Close()

	require.NoError(t, s.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := s.conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
	assert.Zero(t, h.dev.Hub().ClientCount())
}

func TestHealthz(t *testing.T) {
	h := newHarness(t)
	resp := h.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
