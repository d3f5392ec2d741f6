// Package transport owns the single physical websocket connection to the
// messaging broker: the authenticated handshake, heartbeats, drop detection,
// and the fixed-delay reconnect loop. Exactly one Conn exists per process;
// it is constructed explicitly and injected into the components that need
// it rather than held as module-level state.
package transport

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/real-rm/gochat/internal/connstate"
	"github.com/real-rm/gochat/internal/constants"
	gochaterrors "github.com/real-rm/gochat/internal/errors"
	"github.com/real-rm/gochat/internal/message"
	"github.com/real-rm/gochat/internal/metrics"
	"github.com/real-rm/gochat/internal/util"
	"github.com/real-rm/golog"
)

// FrameHandler receives every inbound frame, in transport delivery order.
// The multiplexer installs itself here to demultiplex frames by destination.
type FrameHandler func(message.Frame)

// Options configures a Conn. Zero values fall back to the package defaults.
type Options struct {
	// URL is the websocket endpoint of the broker
	URL string

	// Dialer overrides the websocket dialer (tests inject one with a short
	// handshake timeout)
	Dialer *websocket.Dialer

	HandshakeTimeout time.Duration
	PongWait         time.Duration
	PingPeriod       time.Duration
	WriteWait        time.Duration
	ReconnectDelay   time.Duration
	MaxFrameSize     int64
}

func (o *Options) norm() {
	if o.URL == "" {
		o.URL = constants.DefaultBrokerURL
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = constants.HandshakeTimeout
	}
	if o.PongWait <= 0 {
		o.PongWait = constants.PongWait
	}
	if o.PingPeriod <= 0 {
		o.PingPeriod = (o.PongWait * 9) / 10
	}
	if o.WriteWait <= 0 {
		o.WriteWait = constants.WriteWait
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = constants.ReconnectDelay
	}
	if o.MaxFrameSize <= 0 {
		o.MaxFrameSize = constants.DefaultMaxFrameSize
	}
}

// attempt is a single in-flight handshake. Concurrent Connect callers share
// one attempt and receive the same result.
type attempt struct {
	done chan struct{}
	err  error
	once sync.Once
}

func newAttempt() *attempt {
	return &attempt{done: make(chan struct{})}
}

// finish resolves the attempt exactly once. A second resolution (a dial
// racing a Disconnect that already canceled the attempt) is a no-op.
func (a *attempt) finish(err error) {
	a.once.Do(func() {
		a.err = err
		close(a.done)
	})
}

func (a *attempt) wait(ctx context.Context) error {
	select {
	case <-a.done:
		return a.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// wsSession is one established connection generation. Reconnecting creates a
// fresh session; pumps belonging to an old generation recognize that and
// exit without disturbing the new one.
type wsSession struct {
	id   string
	ws   *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newWsSession(ws *websocket.Conn) *wsSession {
	return &wsSession{
		id:   uuid.New().String(),
		ws:   ws,
		send: make(chan []byte, constants.SendBufferSize),
		done: make(chan struct{}),
	}
}

// safeSend attempts to queue data on the session's send channel.
// Returns false if the session is closed or the channel is full. The send
// channel is never closed, so a send racing teardown cannot panic; the
// write pump stops draining once done is closed.
func (s *wsSession) safeSend(data []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- data:
		return true
	default:
		return false
	}
}

// close tears the session down exactly once by closing the done channel.
// The write pump observes it, emits the close frame, and closes the
// underlying connection, which unblocks the read pump.
func (s *wsSession) close() {
	s.once.Do(func() {
		close(s.done)
	})
}

// Conn is the transport connection. It holds the live connection handle
// exclusively while Connected; higher components hold a reference to the
// Conn but never the handle itself.
type Conn struct {
	opts        Options
	logger      *golog.Logger
	broadcaster *connstate.Broadcaster

	mu              sync.Mutex
	state           State
	lastErr         error
	token           string
	attempt         *attempt
	sess            *wsSession
	handler         FrameHandler
	reconnectCancel context.CancelFunc
	reconnectCtx    context.Context
}

// NewConn creates a transport connection. It does not dial; call Connect.
func NewConn(opts Options, broadcaster *connstate.Broadcaster, logger *golog.Logger) *Conn {
	opts.norm()
	return &Conn{
		opts:        opts,
		logger:      logger.WithGroup("transport"),
		broadcaster: broadcaster,
		state:       StateIdle,
	}
}

// OnFrame installs the inbound frame handler. Must be set before Connect;
// frames arriving with no handler installed are dropped with a warning.
func (c *Conn) OnFrame(h FrameHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

// State returns the current lifecycle state
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether the connection is live
func (c *Conn) IsConnected() bool {
	return c.State() == StateConnected
}

// LastError returns the error recorded by the most recent failure
func (c *Conn) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Connect establishes the connection, performing the authenticated
// handshake. It is idempotent: when already connected it returns
// immediately, and when an attempt is already in flight all callers wait on
// that same attempt and receive the same result — exactly one handshake is
// made regardless of how many callers race.
func (c *Conn) Connect(ctx context.Context, authToken string) error {
	// A missing token is a hard precondition failure, never retried
	// No else needed: early return pattern (guard clause)
	if authToken == "" {
		return gochaterrors.ErrMissingToken()
	}

	c.mu.Lock()
	// No else needed: early return pattern (guard clause)
	if c.state == StateConnected {
		c.mu.Unlock()
		return nil
	}
	if c.attempt != nil {
		a := c.attempt
		c.mu.Unlock()
		return a.wait(ctx)
	}

	a := newAttempt()
	c.attempt = a
	c.token = authToken
	c.transitionLocked(StateConnecting)
	c.mu.Unlock()

	util.SafeGo(c.logger, "transport.dial", func() { c.dial(a, authToken) })

	return a.wait(ctx)
}

// dial performs the physical dial plus the CONNECT/CONNECTED exchange and
// resolves the shared attempt.
func (c *Conn) dial(a *attempt, authToken string) {
	metrics.ConnectAttempts.Inc()

	dialer := c.opts.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: c.opts.HandshakeTimeout}
	}

	ws, _, err := dialer.Dial(c.opts.URL, nil)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		c.failAttempt(a, gochaterrors.NewNetworkError("failed to dial broker", err))
		return
	}
	ws.SetReadLimit(c.opts.MaxFrameSize)

	// Handshake: send the connect frame, expect connected or error back
	connectFrame := message.Frame{Type: message.TypeConnect, Token: authToken}
	data, err := connectFrame.Encode()
	if err != nil {
		_ = ws.Close()
		c.failAttempt(a, gochaterrors.NewTransportError("failed to encode connect frame", err))
		return
	}

	_ = ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		_ = ws.Close()
		c.failAttempt(a, gochaterrors.NewNetworkError("failed to send connect frame", err))
		return
	}

	_ = ws.SetReadDeadline(time.Now().Add(c.opts.HandshakeTimeout))
	_, reply, err := ws.ReadMessage()
	if err != nil {
		_ = ws.Close()
		c.failAttempt(a, gochaterrors.NewNetworkError("connection lost during handshake", err))
		return
	}

	frame, err := message.DecodeFrame(reply)
	if err != nil {
		_ = ws.Close()
		c.failAttempt(a, gochaterrors.NewTransportError("malformed handshake reply", err))
		return
	}

	switch frame.Type {
	case message.TypeConnected:
		// fall through to success below
	case message.TypeError:
		_ = ws.Close()
		c.failAttempt(a, gochaterrors.ErrHandshakeRejected(frame.Error))
		return
	default:
		_ = ws.Close()
		c.failAttempt(a, gochaterrors.NewTransportError("unexpected handshake reply: "+string(frame.Type), nil))
		return
	}

	sess := newWsSession(ws)

	c.mu.Lock()
	// No else needed: early return pattern (guard clause)
	if c.attempt != a {
		// Disconnect canceled this attempt while the dial was in flight
		c.mu.Unlock()
		_ = ws.Close()
		a.finish(gochaterrors.NewTransportError("connection attempt canceled by disconnect", nil))
		return
	}
	c.sess = sess
	c.attempt = nil
	c.lastErr = nil
	c.transitionLocked(StateConnected)
	c.mu.Unlock()

	c.logger.Info("Connected to broker", "url", c.opts.URL, "session_id", sess.id)
	c.broadcaster.Broadcast(true)

	util.SafeGo(c.logger, "transport.readPump", func() { c.readPump(sess) })
	util.SafeGo(c.logger, "transport.writePump", func() { c.writePump(sess) })

	a.finish(nil)
}

// failAttempt records a handshake failure, broadcasts the transition, and
// rejects every caller waiting on the attempt with the specific error kind.
func (c *Conn) failAttempt(a *attempt, err error) {
	c.mu.Lock()
	// No else needed: early return pattern (guard clause)
	if c.attempt != a {
		// Disconnect already detached and resolved this attempt
		c.mu.Unlock()
		a.finish(err)
		return
	}
	c.attempt = nil
	c.lastErr = err
	c.transitionLocked(StateFailed)
	c.mu.Unlock()

	util.LogError(c.logger, "transport", "connect", err, "url", c.opts.URL)
	c.broadcaster.Broadcast(false)
	a.finish(err)
}

// SendFrame queues a frame on the live connection. Returns NotConnectedError
// when the transport is not connected and a transport error when the
// outbound queue is saturated (back-pressure is surfaced, never hidden).
func (c *Conn) SendFrame(f message.Frame) error {
	c.mu.Lock()
	if c.state != StateConnected || c.sess == nil {
		c.mu.Unlock()
		return gochaterrors.NewNotConnectedError("send frame")
	}
	sess := c.sess
	c.mu.Unlock()

	data, err := f.Encode()
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return gochaterrors.NewTransportError("failed to encode frame", err)
	}

	// No else needed: early return pattern (guard clause)
	if !sess.safeSend(data) {
		return gochaterrors.NewTransportError("outbound queue full", nil)
	}
	return nil
}

// Disconnect deterministically tears the connection down: cancels any
// in-flight attempt, stops the reconnect loop, releases the live handle and
// returns to Idle. Safe to call when already disconnected.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	if c.reconnectCancel != nil {
		c.reconnectCancel()
		c.reconnectCancel = nil
		c.reconnectCtx = nil
	}
	a := c.attempt
	c.attempt = nil
	sess := c.sess
	c.sess = nil
	wasIdle := c.state == StateIdle
	c.transitionLocked(StateIdle)
	c.lastErr = nil
	c.token = ""
	c.mu.Unlock()

	if a != nil {
		a.finish(gochaterrors.NewTransportError("connection attempt canceled by disconnect", nil))
	}

	// The write pump is the connection's only writer; it emits the close
	// frame when it observes the session's done channel
	if sess != nil {
		sess.close()
	}

	// No else needed: a second Disconnect is a no-op, not a new broadcast
	if !wasIdle {
		c.logger.Info("Disconnected from broker")
		c.broadcaster.Broadcast(false)
	}
}

// readPump reads frames from the live connection and hands each one to the
// installed frame handler in delivery order. It owns drop detection: any
// read error (including a missed pong deadline) ends the session.
func (c *Conn) readPump(sess *wsSession) {
	defer c.handleDrop(sess)

	_ = sess.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	sess.ws.SetPongHandler(func(string) error {
		_ = sess.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		return nil
	})

	for {
		_, data, err := sess.ws.ReadMessage()
		// No else needed: error handling with return (exits pump)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				util.LogError(c.logger, "transport", "read frame", err, "session_id", sess.id)
			}
			return
		}

		frame, err := message.DecodeFrame(data)
		// No else needed: error handling with continue (skips bad frame)
		if err != nil {
			metrics.FrameErrors.Inc()
			c.logger.Warn("Dropping undecodable frame", "error", err, "session_id", sess.id)
			continue
		}
		metrics.FramesReceived.Inc()

		c.mu.Lock()
		handler := c.handler
		c.mu.Unlock()

		if handler != nil {
			handler(frame)
		} else {
			c.logger.Warn("No frame handler installed, frame dropped",
				"type", string(frame.Type),
				"destination", frame.Destination)
		}
	}
}

// writePump drains the session's send queue and emits heartbeat pings at a
// fixed interval. The broker pings us as well; the websocket library answers
// those pongs automatically, so heartbeats flow in both directions.
func (c *Conn) writePump(sess *wsSession) {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = sess.ws.Close()
	}()

	for {
		select {
		case <-sess.done:
			// Deliberate teardown: the pump owns the close frame so the
			// connection never has two concurrent writers
			_ = sess.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			_ = sess.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect"))
			return

		case data := <-sess.send:
			_ = sess.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			// No else needed: error handling with return (exits pump)
			if err := sess.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
			metrics.FramesSent.Inc()

		case <-ticker.C:
			_ = sess.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := sess.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleDrop runs when a session's read pump exits. A deliberate disconnect
// already detached the session, so only an unexpected drop of the *current*
// session transitions to Disconnected and starts the reconnect loop.
func (c *Conn) handleDrop(sess *wsSession) {
	c.mu.Lock()
	// No else needed: stale generation, teardown already handled
	if c.sess != sess {
		c.mu.Unlock()
		sess.close()
		return
	}
	c.sess = nil
	c.transitionLocked(StateDisconnected)
	token := c.token

	ctx, cancel := context.WithCancel(context.Background())
	c.reconnectCancel = cancel
	c.reconnectCtx = ctx
	c.mu.Unlock()

	sess.close()
	c.logger.Warn("Connection dropped, starting reconnect loop",
		"session_id", sess.id,
		"delay", c.opts.ReconnectDelay.String())
	c.broadcaster.Broadcast(false)

	util.SafeGo(c.logger, "transport.reconnect", func() { c.reconnectLoop(ctx, cancel, token) })
}

// reconnectLoop retries the handshake at a fixed interval until it succeeds,
// the loop is canceled by Disconnect, or the failure turns out to be an
// authentication error (which is fatal to automatic retry).
func (c *Conn) reconnectLoop(ctx context.Context, cancel context.CancelFunc, authToken string) {
	defer func() {
		cancel()
		c.mu.Lock()
		// Deregister only our own loop; a newer drop may have replaced it
		if c.reconnectCtx == ctx {
			c.reconnectCancel = nil
			c.reconnectCtx = nil
		}
		c.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.opts.ReconnectDelay):
		}

		metrics.Reconnects.Inc()
		err := c.Connect(ctx, authToken)
		// No else needed: early return pattern (guard clause)
		if err == nil {
			c.logger.Info("Reconnected to broker")
			return
		}
		// No else needed: early return pattern (guard clause)
		if gochaterrors.IsAuthenticationError(err) {
			util.LogError(c.logger, "transport", "reconnect", err)
			return
		}
		c.logger.Warn("Reconnect attempt failed, will retry",
			"error", err,
			"delay", c.opts.ReconnectDelay.String())
	}
}

// transitionLocked is the single authoritative state transition point.
// Callers must hold c.mu.
func (c *Conn) transitionLocked(to State) {
	if c.state == to {
		return
	}
	c.logger.Debug("Connection state transition",
		"from", c.state.String(),
		"to", to.String())
	c.state = to
	if to == StateConnected {
		metrics.ConnectionState.Set(1)
	} else {
		metrics.ConnectionState.Set(0)
	}
}
