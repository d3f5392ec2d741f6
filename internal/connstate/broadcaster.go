// Package connstate provides the connection-state broadcaster: a subscriber
// registry that fans connected/disconnected transitions out to interested
// consumers without exposing the transport connection's internals.
package connstate

import (
	"sync"

	"github.com/real-rm/gochat/internal/util"
	"github.com/real-rm/golog"
)

// Listener receives connection-state transitions. connected is true after a
// successful handshake and false on handshake failure, drop, or disconnect.
type Listener func(connected bool)

// CancelFunc deregisters a listener. Safe to call multiple times; calling it
// after the listener was already removed is a no-op.
type CancelFunc func()

// Broadcaster fans connection-state transitions out to registered listeners.
// Listeners are invoked in registration order over a snapshot of the
// registry, so registering or deregistering from inside a listener callback
// never mutates the set being iterated.
type Broadcaster struct {
	logger *golog.Logger

	mu     sync.Mutex
	nextID uint64
	order  []uint64
	byID   map[uint64]Listener
}

// NewBroadcaster creates a broadcaster
func NewBroadcaster(logger *golog.Logger) *Broadcaster {
	return &Broadcaster{
		logger: logger.WithGroup("connstate"),
		byID:   make(map[uint64]Listener),
	}
}

// Listen registers a listener and returns its deregistration handle
func (b *Broadcaster) Listen(fn Listener) CancelFunc {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.order = append(b.order, id)
	b.byID[id] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		// No else needed: already removed is a no-op, not an error
		if _, ok := b.byID[id]; !ok {
			return
		}
		delete(b.byID, id)
		for i, other := range b.order {
			if other == id {
				b.order = append(b.order[:i], b.order[i+1:]...)
				break
			}
		}
	}
}

// Broadcast delivers a transition to every registered listener. A panicking
// listener does not prevent delivery to the rest.
func (b *Broadcaster) Broadcast(connected bool) {
	// Snapshot under the lock, invoke outside it: listeners may call Listen
	// or their own cancel func re-entrantly.
	b.mu.Lock()
	snapshot := make([]Listener, 0, len(b.order))
	for _, id := range b.order {
		if fn, ok := b.byID[id]; ok {
			snapshot = append(snapshot, fn)
		}
	}
	b.mu.Unlock()

	b.logger.Debug("Broadcasting connection state",
		"connected", connected,
		"listeners", len(snapshot))

	for _, fn := range snapshot {
		listener := fn
		util.SafeCall(b.logger, "connstate", func() { listener(connected) })
	}
}

// Count returns the number of registered listeners
func (b *Broadcaster) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.byID)
}
