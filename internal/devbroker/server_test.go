package devbroker

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/real-rm/gochat/internal/auth"
	"github.com/real-rm/gochat/internal/message"
	"github.com/real-rm/gochat/internal/testutil"
)

// strongSecret passes secret validation without tripping the weak-value list
const strongSecret = "k9PzR3vXm2QwL8hN5bT7cY4dF6gJ1aZ0"

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := testutil.CreateTestLogger(t)
	t.Cleanup(func() { logger.Close() })

	server, err := NewServerWithSecret(strongSecret, logger)
	require.NoError(t, err)

	httpServer := httptest.NewServer(server.Engine)
	t.Cleanup(httpServer.Close)
	return server, httpServer
}

func mintToken(t *testing.T, userID, name string) string {
	t.Helper()
	token, err := auth.NewJWTValidator(strongSecret).MintToken(userID, name, time.Hour)
	require.NoError(t, err)
	return token
}

// dialWS connects and completes the handshake, returning the live socket
func dialWS(t *testing.T, httpServer *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })

	connect, _ := message.Frame{Type: message.TypeConnect, Token: token}.Encode()
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, connect))

	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	reply, err := message.DecodeFrame(data)
	require.NoError(t, err)
	require.Equal(t, message.TypeConnected, reply.Type)
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) message.Frame {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	f, err := message.DecodeFrame(data)
	require.NoError(t, err)
	return f
}

// TestValidateSecret enforces presence, length, and the weak-value list
func TestValidateSecret(t *testing.T) {
	assert.Error(t, validateSecret(""))
	assert.Error(t, validateSecret("short"))
	assert.Error(t, validateSecret("test-secret-that-is-long-enough-but-weak"))
	assert.NoError(t, validateSecret(strongSecret))
}

// TestMintTokenEndpoint issues tokens the validator accepts
func TestMintTokenEndpoint(t *testing.T) {
	server, httpServer := newTestServer(t)

	body := bytes.NewBufferString(`{"user_id":"42","name":"alice"}`)
	resp, err := http.Post(httpServer.URL+"/api/dev/token", "application/json", body)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))

	claims, err := server.validator.ValidateToken(out.Token)
	require.NoError(t, err)
	assert.Equal(t, "42", claims.UserID)
	assert.Equal(t, "alice", claims.Name)
}

// TestMintTokenEndpoint_RequiresUserID rejects bodies without user_id
func TestMintTokenEndpoint_RequiresUserID(t *testing.T) {
	_, httpServer := newTestServer(t)

	resp, err := http.Post(httpServer.URL+"/api/dev/token", "application/json",
		bytes.NewBufferString(`{"name":"alice"}`))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// TestListRooms_RequiresAuth rejects unauthenticated room list requests
func TestListRooms_RequiresAuth(t *testing.T) {
	_, httpServer := newTestServer(t)

	resp, err := http.Get(httpServer.URL + "/api/rooms")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

// TestListRooms_ReturnsSeededRooms serves the default room set
func TestListRooms_ReturnsSeededRooms(t *testing.T) {
	_, httpServer := newTestServer(t)
	token := mintToken(t, "42", "alice")

	req, _ := http.NewRequest(http.MethodGet, httpServer.URL+"/api/rooms", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var rooms []roomResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rooms))
	require.Len(t, rooms, 3)
	assert.Equal(t, "General", rooms[0].Name)
	assert.Equal(t, "group", rooms[0].Kind)
}

// TestRoomHistory_NotFound returns 404 for unknown rooms
func TestRoomHistory_NotFound(t *testing.T) {
	_, httpServer := newTestServer(t)
	token := mintToken(t, "42", "alice")

	req, _ := http.NewRequest(http.MethodGet, httpServer.URL+"/api/rooms/999/messages", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// TestWS_HandshakeRejectsBadToken answers an invalid token with an error frame
func TestWS_HandshakeRejectsBadToken(t *testing.T) {
	_, httpServer := newTestServer(t)

	url := "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer func() { _ = ws.Close() }()

	connect, _ := message.Frame{Type: message.TypeConnect, Token: "not-a-token"}.Encode()
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, connect))

	reply := readFrame(t, ws)
	assert.Equal(t, message.TypeError, reply.Type)
	require.NotNil(t, reply.Error)
	assert.Equal(t, "AUTHENTICATION_FAILED", reply.Error.Code)
}

// TestWS_SendFansOutToRoomSubscribers verifies a published message reaches a
// room topic subscriber and lands in the room's history.
func TestWS_SendFansOutToRoomSubscribers(t *testing.T) {
	server, httpServer := newTestServer(t)

	sender := dialWS(t, httpServer, mintToken(t, "1", "alice"))
	receiver := dialWS(t, httpServer, mintToken(t, "2", "bob"))

	subscribe, _ := message.Frame{
		Type:        message.TypeSubscribe,
		ID:          "sub-1",
		Destination: "/topic/chat-room/1",
	}.Encode()
	require.NoError(t, receiver.WriteMessage(websocket.TextMessage, subscribe))

	// Subscription registration races the send; give the broker a beat
	time.Sleep(50 * time.Millisecond)

	body, _ := json.Marshal(message.OutgoingMessage{
		Content:    `{"type":"text","text":"hello room"}`,
		ChatRoomID: 1,
	})
	send, _ := message.Frame{
		Type:        message.TypeSend,
		Destination: "/app/chat/send",
		Body:        body,
	}.Encode()
	require.NoError(t, sender.WriteMessage(websocket.TextMessage, send))

	f := readFrame(t, receiver)
	assert.Equal(t, message.TypeMessage, f.Type)
	assert.Equal(t, "/topic/chat-room/1", f.Destination)

	var m message.ChatMessage
	require.NoError(t, json.Unmarshal(f.Body, &m))
	assert.Equal(t, int64(1), m.ChatRoomID)
	assert.Equal(t, "alice", m.SenderName)

	last, ok := server.Broker.LastMessage(1)
	require.True(t, ok)
	assert.Equal(t, m.MessageID, last.MessageID)
}

// TestWS_UserQueueDelivery verifies delivery on the per-user message queue
func TestWS_UserQueueDelivery(t *testing.T) {
	_, httpServer := newTestServer(t)

	sender := dialWS(t, httpServer, mintToken(t, "1", "alice"))
	receiver := dialWS(t, httpServer, mintToken(t, "2", "bob"))

	subscribe, _ := message.Frame{
		Type:        message.TypeSubscribe,
		ID:          "sub-q",
		Destination: "/user/2/queue/messages",
	}.Encode()
	require.NoError(t, receiver.WriteMessage(websocket.TextMessage, subscribe))
	time.Sleep(50 * time.Millisecond)

	body, _ := json.Marshal(message.OutgoingMessage{
		Content:    `{"type":"text","text":"direct"}`,
		ChatRoomID: 3,
	})
	send, _ := message.Frame{
		Type:        message.TypeSend,
		Destination: "/app/chat/send",
		Body:        body,
	}.Encode()
	require.NoError(t, sender.WriteMessage(websocket.TextMessage, send))

	f := readFrame(t, receiver)
	assert.Equal(t, "/user/2/queue/messages", f.Destination)
}

// TestPushNotificationEndpoint delivers to a subscribed connection
func TestPushNotificationEndpoint(t *testing.T) {
	_, httpServer := newTestServer(t)
	token := mintToken(t, "42", "alice")

	ws := dialWS(t, httpServer, token)
	subscribe, _ := message.Frame{
		Type:        message.TypeSubscribe,
		ID:          "sub-n",
		Destination: "/user/42/queue/notifications",
	}.Encode()
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, subscribe))
	time.Sleep(50 * time.Millisecond)

	req, _ := http.NewRequest(http.MethodPost, httpServer.URL+"/api/dev/notifications",
		bytes.NewBufferString(`{"user_id":"42","title":"Hi","message":"there","type":"system"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	f := readFrame(t, ws)
	assert.Equal(t, "/user/42/queue/notifications", f.Destination)

	n, err := message.DecodeNotification(f.Body)
	require.NoError(t, err)
	assert.Equal(t, "Hi", n.Title)
	assert.Equal(t, "system", n.Kind)
}

// TestClient_SendConcurrentWithClose hammers safeSend while close runs, the
// same interleaving fan-out and client teardown produce. It must refuse the
// payload or queue it, never panic.
func TestClient_SendConcurrentWithClose(t *testing.T) {
	for i := 0; i < 200; i++ {
		c := &client{
			send: make(chan []byte, 4),
			done: make(chan struct{}),
		}

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.safeSend([]byte("payload"))
			}
		}()

		c.close()
		wg.Wait()

		assert.False(t, c.safeSend([]byte("after close")))
	}
}

// TestHistoryEndpoint_NewestFirst verifies the REST page order
func TestHistoryEndpoint_NewestFirst(t *testing.T) {
	server, httpServer := newTestServer(t)
	token := mintToken(t, "1", "alice")
	sender := dialWS(t, httpServer, token)

	for _, text := range []string{"first", "second", "third"} {
		body, _ := json.Marshal(message.OutgoingMessage{
			Content:    `{"type":"text","text":"` + text + `"}`,
			ChatRoomID: 2,
		})
		send, _ := message.Frame{
			Type:        message.TypeSend,
			Destination: "/app/chat/send",
			Body:        body,
		}.Encode()
		require.NoError(t, sender.WriteMessage(websocket.TextMessage, send))
	}

	// Sends are async; wait until all three are in the log
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if page, _ := server.Broker.History(2, 10); len(page) == 3 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	req, _ := http.NewRequest(http.MethodGet, httpServer.URL+"/api/rooms/2/messages?limit=2", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var page []message.ChatMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&page))
	require.Len(t, page, 2)
	// Newest first
	assert.Greater(t, page[0].MessageID, page[1].MessageID)
}
