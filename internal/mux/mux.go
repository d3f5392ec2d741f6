// Package mux implements the subscription multiplexer: it maps logical
// destinations to ordered sets of local handlers over the one transport
// connection. A destination has at most one transport-level subscription no
// matter how many handlers are attached; fan-out happens locally. The
// multiplexer listens to connection-state broadcasts and replays its
// subscriptions after every reconnect.
package mux

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	gochaterrors "github.com/real-rm/gochat/internal/errors"
	"github.com/real-rm/gochat/internal/message"
	"github.com/real-rm/gochat/internal/metrics"
	"github.com/real-rm/gochat/internal/util"
	"github.com/real-rm/golog"
)

// Transport is the slice of the transport connection the multiplexer needs.
// Defined here so tests can substitute a fake.
type Transport interface {
	IsConnected() bool
	SendFrame(f message.Frame) error
}

// Handler receives message frames for a destination
type Handler func(f message.Frame)

// UnsubscribeFunc removes one handler registration. Safe to call multiple
// times and from within a handler callback.
type UnsubscribeFunc func()

// handlerReg is one logical handler attached to a destination
type handlerReg struct {
	id string
	fn Handler
}

// entry is the local state for one destination: the single transport-level
// subscription id plus the ordered handler set fanned out to locally.
type entry struct {
	subID    string
	handlers []handlerReg
}

// Multiplexer routes inbound frames to handlers by destination and owns the
// transport-level subscription lifecycle.
type Multiplexer struct {
	tr     Transport
	logger *golog.Logger

	mu   sync.Mutex
	subs map[string]*entry
}

// New creates a multiplexer over the given transport
func New(tr Transport, logger *golog.Logger) *Multiplexer {
	return &Multiplexer{
		tr:     tr,
		logger: logger.WithGroup("mux"),
		subs:   make(map[string]*entry),
	}
}

// Subscribe attaches a handler to a destination. It fails fast with
// NotConnectedError while the transport is not connected — callers gate
// subscription on connection state instead of relying on implicit queuing.
// The first handler for a destination creates the transport-level
// subscription; later handlers share it.
func (m *Multiplexer) Subscribe(destination string, h Handler) (UnsubscribeFunc, error) {
	// No else needed: early return pattern (guard clause)
	if !m.tr.IsConnected() {
		return nil, gochaterrors.NewNotConnectedError("subscribe to " + destination)
	}

	m.mu.Lock()
	e, exists := m.subs[destination]
	if !exists {
		e = &entry{subID: uuid.New().String()}
		frame := message.Frame{
			Type:        message.TypeSubscribe,
			ID:          e.subID,
			Destination: destination,
		}
		// Register the destination only after the broker saw the subscribe
		if err := m.tr.SendFrame(frame); err != nil {
			m.mu.Unlock()
			return nil, gochaterrors.NewSubscriptionError(destination, err)
		}
		m.subs[destination] = e
		metrics.ActiveSubscriptions.Inc()
	}

	reg := handlerReg{id: uuid.New().String(), fn: h}
	e.handlers = append(e.handlers, reg)
	m.mu.Unlock()

	m.logger.Debug("Handler subscribed",
		"destination", destination,
		"handler_id", reg.id,
		"shared", exists)

	return m.unsubscribeFunc(destination, reg.id), nil
}

// unsubscribeFunc builds the idempotent removal capability for one handler.
// Removing the last handler tears down the transport-level subscription.
func (m *Multiplexer) unsubscribeFunc(destination, handlerID string) UnsubscribeFunc {
	return func() {
		m.mu.Lock()
		e, ok := m.subs[destination]
		// No else needed: already removed is a no-op, not an error
		if !ok {
			m.mu.Unlock()
			return
		}

		removed := false
		for i, reg := range e.handlers {
			if reg.id == handlerID {
				e.handlers = append(e.handlers[:i], e.handlers[i+1:]...)
				removed = true
				break
			}
		}
		if !removed {
			m.mu.Unlock()
			return
		}

		var teardown *message.Frame
		if len(e.handlers) == 0 {
			delete(m.subs, destination)
			metrics.ActiveSubscriptions.Dec()
			teardown = &message.Frame{
				Type:        message.TypeUnsubscribe,
				ID:          e.subID,
				Destination: destination,
			}
		}
		m.mu.Unlock()

		// Teardown frame goes out after releasing the lock so unsubscribing
		// from inside a handler callback cannot deadlock.
		if teardown != nil {
			if err := m.tr.SendFrame(*teardown); err != nil {
				// Not connected is fine: a reconnect will simply not replay
				// the removed destination
				if !gochaterrors.IsNotConnected(err) {
					util.LogError(m.logger, "mux", "send unsubscribe", err, "destination", destination)
				}
			}
			m.logger.Debug("Destination torn down", "destination", destination)
		}
	}
}

// Dispatch routes an inbound frame to every handler registered for its
// destination, in registration order. Handlers run over a snapshot, so
// unsubscribing during dispatch affects the next frame, not this one, and a
// panicking handler does not prevent delivery to the rest.
func (m *Multiplexer) Dispatch(f message.Frame) {
	if f.Type != message.TypeMessage {
		if f.Type == message.TypeError {
			m.logger.Warn("Broker error frame",
				"destination", f.Destination,
				"error", errorText(f.Error))
		}
		return
	}

	m.mu.Lock()
	e, ok := m.subs[f.Destination]
	if !ok {
		m.mu.Unlock()
		m.logger.Debug("Frame for destination with no handlers", "destination", f.Destination)
		return
	}
	snapshot := make([]handlerReg, len(e.handlers))
	copy(snapshot, e.handlers)
	m.mu.Unlock()

	for _, reg := range snapshot {
		handler := reg.fn
		util.SafeCall(m.logger, "mux.dispatch", func() { handler(f) })
	}
}

// Publish sends a body to a destination. Returns false instead of an error
// when not connected or when the outbound queue rejects the frame: "not
// connected yet" is an expected, frequent condition the caller must check,
// not an exceptional one.
func (m *Multiplexer) Publish(destination string, body json.RawMessage) bool {
	// No else needed: early return pattern (guard clause)
	if !m.tr.IsConnected() {
		metrics.PublishRejected.Inc()
		return false
	}

	frame := message.Frame{
		Type:        message.TypeSend,
		Destination: destination,
		Body:        body,
	}
	// No else needed: early return pattern (guard clause)
	if err := m.tr.SendFrame(frame); err != nil {
		metrics.PublishRejected.Inc()
		util.LogError(m.logger, "mux", "publish", err, "destination", destination)
		return false
	}
	return true
}

// HandleConnectionState is registered with the connection-state broadcaster.
// On every transition to connected it replays the transport-level
// subscription for each registered destination, so logical subscriptions
// survive reconnects without their owners doing anything.
func (m *Multiplexer) HandleConnectionState(connected bool) {
	// No else needed: early return pattern (guard clause)
	if !connected {
		return
	}
	m.replay()
}

// replay re-sends subscribe frames for every registered destination
func (m *Multiplexer) replay() {
	m.mu.Lock()
	frames := make([]message.Frame, 0, len(m.subs))
	for destination, e := range m.subs {
		frames = append(frames, message.Frame{
			Type:        message.TypeSubscribe,
			ID:          e.subID,
			Destination: destination,
		})
	}
	m.mu.Unlock()

	for _, frame := range frames {
		if err := m.tr.SendFrame(frame); err != nil {
			util.LogError(m.logger, "mux", "replay subscription", err, "destination", frame.Destination)
			continue
		}
		m.logger.Info("Subscription replayed", "destination", frame.Destination)
	}
}

// SubscriptionCount returns the number of live transport-level subscriptions
func (m *Multiplexer) SubscriptionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// HandlerCount returns the number of handlers attached to a destination
func (m *Multiplexer) HandlerCount(destination string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.subs[destination]; ok {
		return len(e.handlers)
	}
	return 0
}

func errorText(info *message.ErrorInfo) string {
	if info == nil {
		return "unknown"
	}
	return info.Code + ": " + info.Message
}
