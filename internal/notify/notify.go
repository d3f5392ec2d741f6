// Package notify implements the notification session: a thin subscriber on
// the user's notification queue. Unlike chat there is no phase machine and
// no retained sequence — notifications are decoded and handed to the
// caller's listener; durable notification state lives server-side.
package notify

import (
	"sync"

	"github.com/real-rm/gochat/internal/message"
	"github.com/real-rm/gochat/internal/metrics"
	"github.com/real-rm/gochat/internal/util"
	"github.com/real-rm/golog"
)

// Listener receives decoded notifications
type Listener func(n message.Notification)

// Session is the notification session
type Session struct {
	logger *golog.Logger

	mu       sync.Mutex
	listener Listener
}

// NewSession creates a notification session
func NewSession(logger *golog.Logger) *Session {
	return &Session{logger: logger.WithGroup("notify")}
}

// OnNotification installs the notification listener
func (s *Session) OnNotification(fn Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = fn
}

// HandleFrame is the subscription handler for the user's notification queue
func (s *Session) HandleFrame(f message.Frame) {
	n, err := message.DecodeNotification(f.Body)
	// No else needed: error handling with return (skips unusable frame)
	if err != nil {
		metrics.FrameErrors.Inc()
		util.LogError(s.logger, "notify", "decode notification frame", err, "destination", f.Destination)
		return
	}

	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()

	// No else needed: no listener installed means the event is dropped,
	// matching fire-and-forget semantics
	if listener == nil {
		s.logger.Debug("Notification dropped, no listener installed", "id", n.ID)
		return
	}
	listener(n)
}
