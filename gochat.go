// Package gochat is the client-side session layer for the chat backend. It
// multiplexes chat rooms, per-user message feeds, and notifications over one
// authenticated websocket connection, keeps the room list synchronized as
// messages arrive, and recovers the connection and its subscriptions after
// network drops.
//
// Construction wires the layers explicitly: the transport connection owns
// the socket, the multiplexer fans frames out by destination, and the chat,
// notification, and room-cache components consume their slices of the
// stream. Callers interact with the Client facade.
package gochat

import (
	"context"
	"sync"

	"github.com/real-rm/goconfig"
	"github.com/real-rm/golog"

	"github.com/real-rm/gochat/internal/auth"
	"github.com/real-rm/gochat/internal/chat"
	"github.com/real-rm/gochat/internal/connstate"
	"github.com/real-rm/gochat/internal/constants"
	gochaterrors "github.com/real-rm/gochat/internal/errors"
	"github.com/real-rm/gochat/internal/message"
	"github.com/real-rm/gochat/internal/mux"
	"github.com/real-rm/gochat/internal/notify"
	"github.com/real-rm/gochat/internal/restapi"
	"github.com/real-rm/gochat/internal/roomcache"
	"github.com/real-rm/gochat/internal/transport"
	"github.com/real-rm/gochat/internal/util"
)

// Re-exported types so callers work entirely against the root package
type (
	// ChatMessage is a single chat message with its resolved content variant
	ChatMessage = message.ChatMessage
	// Content is the parsed content variant of a message
	Content = message.Content
	// Notification is a single user notification event
	Notification = message.Notification
	// Room is one entry in the synchronized room list
	Room = roomcache.Room
	// Phase is the chat session lifecycle phase
	Phase = chat.Phase
	// SessionError classifies connection and per-call failures
	SessionError = gochaterrors.SessionError
	// ConnectionListener receives connected/disconnected transitions
	ConnectionListener = connstate.Listener
	// CancelFunc deregisters a listener
	CancelFunc = connstate.CancelFunc
)

// Options configures a Client
type Options struct {
	// BrokerURL is the websocket endpoint, e.g. "ws://localhost:8080/ws"
	BrokerURL string

	// RESTBase is the REST API root, e.g. "http://localhost:8080/api"
	RESTBase string

	// Logger is required
	Logger *golog.Logger

	// Transport overrides individual transport timings; zero values use the
	// package defaults.
	Transport transport.Options
}

// OptionsFromConfig builds Options from the shared configuration accessor
func OptionsFromConfig(cfg *goconfig.ConfigAccessor, logger *golog.Logger) Options {
	brokerURL, _ := cfg.ConfigStringWithDefault("gochat.broker_url", constants.DefaultBrokerURL)
	restBase, _ := cfg.ConfigStringWithDefault("gochat.rest_base", constants.DefaultRESTBase)
	return Options{
		BrokerURL: brokerURL,
		RESTBase:  restBase,
		Logger:    logger,
	}
}

// Client is the session-layer facade: one per authenticated user
type Client struct {
	logger      *golog.Logger
	broadcaster *connstate.Broadcaster
	conn        *transport.Conn
	mux         *mux.Multiplexer
	cache       *roomcache.Cache
	rest        *restapi.Client
	chat        *chat.Session
	notify      *notify.Session

	mu         sync.Mutex
	token      string
	claims     *auth.Claims
	feedUnsubs []mux.UnsubscribeFunc
}

// New constructs a Client. Nothing connects until Connect is called.
func New(opts Options) (*Client, error) {
	// No else needed: early return pattern (guard clause)
	if opts.Logger == nil {
		return nil, gochaterrors.NewTransportError("logger is required", nil)
	}
	if opts.BrokerURL == "" {
		opts.BrokerURL = constants.DefaultBrokerURL
	}
	if opts.RESTBase == "" {
		opts.RESTBase = constants.DefaultRESTBase
	}

	logger := opts.Logger.WithGroup("gochat")
	broadcaster := connstate.NewBroadcaster(logger)

	topts := opts.Transport
	topts.URL = opts.BrokerURL
	conn := transport.NewConn(topts, broadcaster, logger)

	c := &Client{
		logger:      logger,
		broadcaster: broadcaster,
		conn:        conn,
		cache:       roomcache.New(logger),
		notify:      notify.NewSession(logger),
	}
	c.mux = mux.New(conn, logger)
	c.rest = restapi.NewClient(opts.RESTBase, c.currentToken, logger)
	c.chat = chat.NewSession(c.mux, c.rest, c.cache, logger)

	// The multiplexer sees every inbound frame and every reconnect so it can
	// demultiplex and replay subscriptions.
	conn.OnFrame(c.mux.Dispatch)
	broadcaster.Listen(c.mux.HandleConnectionState)

	return c, nil
}

// Connect authenticates and establishes the session: the transport
// handshake, the per-user feed subscriptions, and the initial room list
// refresh. Concurrent callers share a single handshake. A failed room list
// refresh does not fail the connect — the live connection is up and the
// cache fills on the next refresh.
func (c *Client) Connect(ctx context.Context, token string) error {
	claims, err := auth.ParseIdentity(token)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return gochaterrors.NewAuthenticationError(gochaterrors.ErrCodeAuthenticationFailed,
			"token is not a valid JWT", err)
	}

	c.mu.Lock()
	c.token = token
	c.claims = claims
	c.mu.Unlock()

	// No else needed: early return pattern (guard clause)
	if err := c.conn.Connect(ctx, token); err != nil {
		return err
	}

	// No else needed: early return pattern (guard clause)
	if err := c.subscribeFeeds(claims); err != nil {
		return err
	}

	if err := c.RefreshRooms(ctx); err != nil {
		util.LogError(c.logger, "gochat", "initial room refresh", err)
	}

	c.logger.Info("Session established", "user_id", claims.UserID)
	return nil
}

// subscribeFeeds attaches the chat and notification sessions to the user's
// personal queues. Idempotent across reconnect-free Connect calls.
func (c *Client) subscribeFeeds(claims *auth.Claims) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// No else needed: feeds already attached from an earlier Connect
	if len(c.feedUnsubs) > 0 {
		return nil
	}

	messageUnsub, err := c.mux.Subscribe(claims.MessageQueue(), c.chat.HandleFrame)
	if err != nil {
		return err
	}

	notifyUnsub, err := c.mux.Subscribe(claims.NotificationQueue(), c.notify.HandleFrame)
	if err != nil {
		messageUnsub()
		return err
	}

	c.feedUnsubs = []mux.UnsubscribeFunc{messageUnsub, notifyUnsub}
	return nil
}

// Disconnect tears the session down deterministically: feed subscriptions,
// the chat session, and the transport connection. Safe to call repeatedly.
func (c *Client) Disconnect() {
	c.mu.Lock()
	unsubs := c.feedUnsubs
	c.feedUnsubs = nil
	c.token = ""
	c.claims = nil
	c.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	c.chat.Close()
	c.conn.Disconnect()
}

// IsConnected reports whether the transport connection is live
func (c *Client) IsConnected() bool {
	return c.conn.IsConnected()
}

// OnConnectionState registers a listener for connected/disconnected
// transitions and returns its deregistration handle.
func (c *Client) OnConnectionState(fn ConnectionListener) CancelFunc {
	return c.broadcaster.Listen(fn)
}

// Chat returns the chat session
func (c *Client) Chat() *chat.Session {
	return c.chat
}

// Notifications returns the notification session
func (c *Client) Notifications() *notify.Session {
	return c.notify
}

// Rooms returns the synchronized room list, most recent activity first
func (c *Client) Rooms() []Room {
	return c.cache.Rooms()
}

// RefreshRooms re-fetches the room list and reseeds the cache
func (c *Client) RefreshRooms(ctx context.Context) error {
	rooms, err := c.rest.FetchRooms(ctx)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return err
	}
	c.cache.Seed(rooms)
	return nil
}

// SelectRoom makes roomID the active chat room and loads its history
func (c *Client) SelectRoom(ctx context.Context, roomID int64) error {
	return c.chat.SelectRoom(ctx, roomID)
}

// Publish sends text to the active room. Returns false when the message
// cannot be sent right now (no active room, empty text, rate limited, or
// not connected); nothing is queued for later.
func (c *Client) Publish(text string) bool {
	return c.chat.Publish(text)
}

// currentToken supplies the bearer token for REST requests
func (c *Client) currentToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}
