// Package devbroker implements a self-contained development broker speaking
// the same frame protocol and REST surface the client library consumes. It
// backs local development and the integration tests; state is in-memory
// only.
package devbroker

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/real-rm/gochat/internal/auth"
	"github.com/real-rm/gochat/internal/constants"
	gochaterrors "github.com/real-rm/gochat/internal/errors"
	"github.com/real-rm/gochat/internal/message"
	"github.com/real-rm/gochat/internal/util"
	"github.com/real-rm/golog"
)

// RoomInfo describes one room the broker serves
type RoomInfo struct {
	ID           int64
	Name         string
	Kind         string
	Participants int
}

// room is a RoomInfo plus its in-memory message log, newest last
type room struct {
	info     RoomInfo
	messages []message.ChatMessage
}

// client is one authenticated websocket connection
type client struct {
	ws     *websocket.Conn
	send   chan []byte
	done   chan struct{}
	userID string
	name   string

	once sync.Once

	mu   sync.Mutex
	subs map[string]string // destination -> subscription id
}

// safeSend queues a payload unless the client is closed. The send channel is
// never closed, so a fan-out racing teardown cannot panic; the write pump
// stops draining once done is closed.
func (c *client) safeSend(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// close signals teardown exactly once; the write pump observes done, emits
// the close frame, and closes the underlying connection.
func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
	})
}

// subscribed reports whether the client holds a subscription for destination
func (c *client) subscribed(destination string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subs[destination]
	return ok
}

// Broker is the in-memory message broker
type Broker struct {
	validator *auth.JWTValidator
	logger    *golog.Logger
	upgrader  websocket.Upgrader

	mu        sync.RWMutex
	rooms     map[int64]*room
	clients   map[*client]struct{}
	nextMsgID atomic.Int64
}

// NewBroker creates a broker validating tokens with the given validator
func NewBroker(validator *auth.JWTValidator, logger *golog.Logger) *Broker {
	return &Broker{
		validator: validator,
		logger:    logger.WithGroup("devbroker"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Dev broker: all origins allowed
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		rooms:   make(map[int64]*room),
		clients: make(map[*client]struct{}),
	}
}

// SeedRooms registers rooms the broker will serve. Messages sent to unknown
// rooms are rejected with an error frame.
func (b *Broker) SeedRooms(infos []RoomInfo) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, info := range infos {
		if _, exists := b.rooms[info.ID]; exists {
			continue
		}
		b.rooms[info.ID] = &room{info: info}
	}
	b.logger.Info("Rooms seeded", "rooms", len(infos))
}

// Rooms returns the room list with last-message summaries, id order
func (b *Broker) Rooms() []RoomInfo {
	b.mu.RLock()
	defer b.mu.RUnlock()

	infos := make([]RoomInfo, 0, len(b.rooms))
	for _, r := range b.rooms {
		infos = append(infos, r.info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// LastMessage returns a room's newest message, if any
func (b *Broker) LastMessage(roomID int64) (message.ChatMessage, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	r, ok := b.rooms[roomID]
	if !ok || len(r.messages) == 0 {
		return message.ChatMessage{}, false
	}
	return r.messages[len(r.messages)-1], true
}

// History returns up to limit messages for a room, newest first
func (b *Broker) History(roomID int64, limit int) ([]message.ChatMessage, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	r, ok := b.rooms[roomID]
	// No else needed: early return pattern (guard clause)
	if !ok {
		return nil, false
	}

	if limit <= 0 || limit > len(r.messages) {
		limit = len(r.messages)
	}
	page := make([]message.ChatMessage, 0, limit)
	for i := len(r.messages) - 1; i >= len(r.messages)-limit; i-- {
		page = append(page, r.messages[i])
	}
	return page, true
}

// HandleWS upgrades an HTTP request, performs the connect handshake, and
// runs the client's pumps until the connection drops.
func (b *Broker) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := b.upgrader.Upgrade(w, r, nil)
	// No else needed: Upgrade already wrote the HTTP error response
	if err != nil {
		util.LogError(b.logger, "devbroker", "websocket upgrade", err)
		return
	}

	c, err := b.handshake(ws)
	if err != nil {
		util.LogError(b.logger, "devbroker", "handshake", err, "remote", r.RemoteAddr)
		_ = ws.Close()
		return
	}

	b.mu.Lock()
	b.clients[c] = struct{}{}
	b.mu.Unlock()

	b.logger.Info("Client connected", "user_id", c.userID, "name", c.name)

	util.SafeGo(b.logger, "devbroker.writePump", func() { b.writePump(c) })
	b.readPump(c)
}

// handshake reads the connect frame, validates its token, and answers with
// connected or an error frame.
func (b *Broker) handshake(ws *websocket.Conn) (*client, error) {
	_ = ws.SetReadDeadline(time.Now().Add(constants.HandshakeTimeout))
	_, data, err := ws.ReadMessage()
	if err != nil {
		return nil, err
	}

	f, err := message.DecodeFrame(data)
	if err != nil {
		return nil, err
	}
	// No else needed: early return pattern (guard clause)
	if f.Type != message.TypeConnect {
		return nil, fmt.Errorf("expected connect frame, got %q", f.Type)
	}

	claims, err := b.validator.ValidateToken(f.Token)
	if err != nil {
		reject := message.Frame{
			Type: message.TypeError,
			Error: &message.ErrorInfo{
				Code:    string(gochaterrors.ErrCodeAuthenticationFailed),
				Message: "token rejected",
			},
		}
		payload, _ := reject.Encode()
		_ = ws.SetWriteDeadline(time.Now().Add(constants.WriteWait))
		_ = ws.WriteMessage(websocket.TextMessage, payload)
		return nil, err
	}

	accept, _ := message.Frame{Type: message.TypeConnected}.Encode()
	_ = ws.SetWriteDeadline(time.Now().Add(constants.WriteWait))
	if err := ws.WriteMessage(websocket.TextMessage, accept); err != nil {
		return nil, err
	}
	_ = ws.SetReadDeadline(time.Time{})

	return &client{
		ws:     ws,
		send:   make(chan []byte, constants.SendBufferSize),
		done:   make(chan struct{}),
		userID: claims.UserID,
		name:   claims.Name,
		subs:   make(map[string]string),
	}, nil
}

// readPump processes inbound frames until the connection drops
func (b *Broker) readPump(c *client) {
	defer b.dropClient(c)

	c.ws.SetReadLimit(constants.DefaultMaxFrameSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(constants.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(constants.PongWait))
	})
	c.ws.SetPingHandler(func(appData string) error {
		_ = c.ws.SetReadDeadline(time.Now().Add(constants.PongWait))
		_ = c.ws.SetWriteDeadline(time.Now().Add(constants.WriteWait))
		return c.ws.WriteMessage(websocket.PongMessage, []byte(appData))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}

		f, err := message.DecodeFrame(data)
		if err != nil {
			b.logger.Warn("Undecodable frame dropped", "user_id", c.userID, "error", err.Error())
			continue
		}

		switch f.Type {
		case message.TypeSubscribe:
			b.handleSubscribe(c, f)
		case message.TypeUnsubscribe:
			b.handleUnsubscribe(c, f)
		case message.TypeSend:
			b.handleSend(c, f)
		default:
			b.logger.Debug("Unexpected frame type ignored", "type", string(f.Type), "user_id", c.userID)
		}
	}
}

// writePump drains the send queue and keeps the connection alive with pings
func (b *Broker) writePump(c *client) {
	ticker := time.NewTicker(constants.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case <-c.done:
			// Deliberate teardown: the pump owns the close frame so the
			// connection never has two concurrent writers
			_ = c.ws.SetWriteDeadline(time.Now().Add(constants.WriteWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case payload := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(constants.WriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(constants.WriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dropClient removes a client from the registry and closes it
func (b *Broker) dropClient(c *client) {
	b.mu.Lock()
	delete(b.clients, c)
	b.mu.Unlock()

	c.close()
	b.logger.Info("Client disconnected", "user_id", c.userID)
}

func (b *Broker) handleSubscribe(c *client, f message.Frame) {
	// No else needed: early return pattern (guard clause)
	if f.Destination == "" || f.ID == "" {
		b.sendError(c, f.Destination, "subscribe requires id and destination")
		return
	}

	c.mu.Lock()
	c.subs[f.Destination] = f.ID
	c.mu.Unlock()

	b.logger.Debug("Subscribed", "user_id", c.userID, "destination", f.Destination)
}

func (b *Broker) handleUnsubscribe(c *client, f message.Frame) {
	c.mu.Lock()
	delete(c.subs, f.Destination)
	c.mu.Unlock()

	b.logger.Debug("Unsubscribed", "user_id", c.userID, "destination", f.Destination)
}

// handleSend accepts a publish to the send destination, appends the message
// to the room log, and fans it out.
func (b *Broker) handleSend(c *client, f message.Frame) {
	// No else needed: early return pattern (guard clause)
	if f.Destination != constants.SendDestination {
		b.sendError(c, f.Destination, "unknown send destination")
		return
	}

	var out message.OutgoingMessage
	if err := json.Unmarshal(f.Body, &out); err != nil {
		b.sendError(c, f.Destination, "malformed send body")
		return
	}

	senderID, _ := strconv.ParseInt(c.userID, 10, 64)
	m := message.ChatMessage{
		MessageID:  b.nextMsgID.Add(1),
		ChatRoomID: out.ChatRoomID,
		SenderID:   senderID,
		SenderName: c.name,
		Timestamp:  time.Now().UTC(),
		RawContent: out.Content,
	}

	b.mu.Lock()
	r, ok := b.rooms[out.ChatRoomID]
	if !ok {
		b.mu.Unlock()
		b.sendError(c, f.Destination, "unknown room "+strconv.FormatInt(out.ChatRoomID, 10))
		return
	}
	r.messages = append(r.messages, m)
	b.mu.Unlock()

	b.fanOut(m)
}

// fanOut delivers a stored message to every interested subscription: the
// room's broadcast topic, and each connected user's personal message queue.
func (b *Broker) fanOut(m message.ChatMessage) {
	body, err := json.Marshal(m)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		util.LogError(b.logger, "devbroker", "encode fan-out message", err)
		return
	}

	topic := message.RoomTopic(m.ChatRoomID)

	b.mu.RLock()
	targets := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		targets = append(targets, c)
	}
	b.mu.RUnlock()

	for _, c := range targets {
		for _, destination := range []string{topic, userQueue(c.userID, constants.MessageQueueSuffix)} {
			// No else needed: clients only receive destinations they subscribed to
			if !c.subscribed(destination) {
				continue
			}
			frame := message.Frame{
				Type:        message.TypeMessage,
				Destination: destination,
				Body:        body,
			}
			payload, _ := frame.Encode()
			if !c.safeSend(payload) {
				b.logger.Warn("Fan-out dropped, client queue full",
					"user_id", c.userID,
					"destination", destination)
			}
		}
	}
}

// PushNotification delivers a notification to one user's notification queue.
// Returns the number of connections that received it.
func (b *Broker) PushNotification(userID string, n message.Notification) int {
	body, err := json.Marshal(n)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		util.LogError(b.logger, "devbroker", "encode notification", err)
		return 0
	}

	destination := userQueue(userID, constants.NotificationQueueSuffix)
	frame := message.Frame{
		Type:        message.TypeMessage,
		Destination: destination,
		Body:        body,
	}
	payload, _ := frame.Encode()

	b.mu.RLock()
	targets := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		if c.userID == userID && c.subscribed(destination) {
			targets = append(targets, c)
		}
	}
	b.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if c.safeSend(payload) {
			delivered++
		}
	}
	return delivered
}

// SubscriberCount returns how many connections hold a subscription for the
// destination. Used by tests to wait for asynchronous subscribe frames.
func (b *Broker) SubscriberCount(destination string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := 0
	for c := range b.clients {
		if c.subscribed(destination) {
			count++
		}
	}
	return count
}

// ClientCount returns the number of connected clients
func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// sendError pushes an error frame to one client
func (b *Broker) sendError(c *client, destination, msg string) {
	frame := message.Frame{
		Type:        message.TypeError,
		Destination: destination,
		Error: &message.ErrorInfo{
			Code:    string(gochaterrors.ErrCodeTransportError),
			Message: msg,
		},
	}
	payload, _ := frame.Encode()
	_ = c.safeSend(payload)
}

// userQueue builds a per-user queue destination
func userQueue(userID, suffix string) string {
	return constants.UserQueuePrefix + strings.TrimSpace(userID) + suffix
}
