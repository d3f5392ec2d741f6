// Package chat implements the per-active-room chat session: it merges
// REST-fetched history with live pushed messages, keeps the in-memory
// message sequence for the room on screen, routes every inbound message
// through the room cache synchronizer, and owns the outgoing publish path.
package chat

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/real-rm/gochat/internal/constants"
	"github.com/real-rm/gochat/internal/message"
	"github.com/real-rm/gochat/internal/metrics"
	"github.com/real-rm/gochat/internal/ratelimit"
	"github.com/real-rm/gochat/internal/roomcache"
	"github.com/real-rm/gochat/internal/util"
	"github.com/real-rm/golog"
)

// Phase is the session lifecycle for the selected room
type Phase int

const (
	// PhaseNoRoom means no room is selected
	PhaseNoRoom Phase = iota
	// PhaseLoading means a room is selected and its history is being fetched
	PhaseLoading
	// PhaseLive means history has arrived and live messages append in order
	PhaseLive
)

// String returns the string representation of a Phase
func (p Phase) String() string {
	switch p {
	case PhaseNoRoom:
		return "no_room"
	case PhaseLoading:
		return "loading"
	case PhaseLive:
		return "live"
	default:
		return "unknown"
	}
}

// HistoryFetcher is the REST collaborator that pages room history.
// The wire order is newest-first; the session reverses before storage.
type HistoryFetcher interface {
	FetchRoomHistory(ctx context.Context, roomID int64, limit int) ([]message.ChatMessage, error)
}

// Publisher is the slice of the multiplexer the session publishes through
type Publisher interface {
	Publish(destination string, body json.RawMessage) bool
}

// MessageListener is notified for each live message appended to the active
// room's sequence (the UI refresh hook).
type MessageListener func(m message.ChatMessage)

// Session is the chat session. The message sequence belongs to the
// currently selected room only; switching rooms replaces it wholesale — the
// server stays the source of truth for history.
type Session struct {
	publisher Publisher
	history   HistoryFetcher
	cache     *roomcache.Cache
	limiter   *ratelimit.PublishLimiter
	logger    *golog.Logger

	mu       sync.Mutex
	phase    Phase
	roomID   int64
	msgs     []message.ChatMessage
	listener MessageListener
}

// NewSession creates a chat session over the given collaborators
func NewSession(publisher Publisher, history HistoryFetcher, cache *roomcache.Cache, logger *golog.Logger) *Session {
	return &Session{
		publisher: publisher,
		history:   history,
		cache:     cache,
		limiter:   ratelimit.NewPublishLimiter(constants.DefaultPublishWindow, constants.DefaultPublishLimit),
		logger:    logger.WithGroup("chat"),
	}
}

// OnMessage installs the live-message listener
func (s *Session) OnMessage(fn MessageListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = fn
}

// SelectRoom makes roomID the active room: the previous room's in-memory
// sequence is discarded, the room's unread count resets, and history is
// fetched and ingested. On fetch failure the session stays in Loading so
// the caller can retry.
func (s *Session) SelectRoom(ctx context.Context, roomID int64) error {
	s.mu.Lock()
	s.phase = PhaseLoading
	s.roomID = roomID
	s.msgs = nil
	s.mu.Unlock()

	s.cache.SetActive(roomID)
	s.logger.Info("Room selected", "room_id", roomID)

	wire, err := s.history.FetchRoomHistory(ctx, roomID, constants.DefaultHistoryLimit)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		util.LogError(s.logger, "chat", "fetch room history", err, "room_id", roomID)
		return err
	}

	s.IngestHistory(roomID, wire)
	return nil
}

// Close ends the session: the sequence is discarded and no room is active
func (s *Session) Close() {
	s.mu.Lock()
	s.phase = PhaseNoRoom
	s.roomID = 0
	s.msgs = nil
	s.mu.Unlock()

	s.cache.ClearActive()
	s.logger.Info("Chat session closed")
}

// IngestHistory replaces the session's sequence with a history page. The
// wire order is newest-first; storage order is oldest-first (display is
// oldest-at-top). Each message's content variant is resolved here. History
// for a room that is no longer selected is dropped — a slow fetch must not
// clobber the sequence of the room selected after it.
func (s *Session) IngestHistory(roomID int64, wire []message.ChatMessage) {
	ordered := make([]message.ChatMessage, 0, len(wire))
	for i := len(wire) - 1; i >= 0; i-- {
		m := wire[i]
		m.Content = message.ParseContent(m.RawContent)
		ordered = append(ordered, m)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// No else needed: early return pattern (guard clause)
	if s.roomID != roomID {
		s.logger.Debug("Stale history page dropped", "room_id", roomID, "active", s.roomID)
		return
	}
	s.msgs = ordered
	s.phase = PhaseLive

	s.logger.Info("History ingested", "room_id", roomID, "messages", len(ordered))
}

// HandleFrame is the subscription handler for the user's message feed. It
// decodes the frame, resolves the content variant (degrading on parse
// failure, never dropping the envelope), updates the room cache
// unconditionally, and appends to the sequence only when the message
// belongs to the active room.
func (s *Session) HandleFrame(f message.Frame) {
	m, err := message.DecodeChatMessage(f.Body)
	// No else needed: error handling with return (skips unusable frame)
	if err != nil {
		metrics.FrameErrors.Inc()
		util.LogError(s.logger, "chat", "decode message frame", err, "destination", f.Destination)
		return
	}

	// Cache update happens for every room, active or not
	s.cache.ApplyInbound(m)

	s.mu.Lock()
	if s.phase != PhaseLive || m.ChatRoomID != s.roomID {
		s.mu.Unlock()
		return
	}
	s.msgs = append(s.msgs, m)
	listener := s.listener
	s.mu.Unlock()

	if listener != nil {
		listener(m)
	}
}

// Publish sends trimmed text to the active room. It returns false — without
// contacting the transport — when no room is active, the text is empty
// after trimming, or the local publish limiter rejects it; otherwise the
// result reflects the multiplexer's fail-fast publish. The outgoing message
// is not appended locally: it joins the sequence only when the server
// echoes it back on the live channel, so the displayed order always
// reflects server-observed order.
func (s *Session) Publish(rawText string) bool {
	text := strings.TrimSpace(rawText)
	// No else needed: early return pattern (guard clause)
	if text == "" {
		metrics.PublishRejected.Inc()
		return false
	}

	s.mu.Lock()
	roomID := s.roomID
	phase := s.phase
	s.mu.Unlock()

	// No else needed: early return pattern (guard clause)
	if phase == PhaseNoRoom || roomID == 0 {
		metrics.PublishRejected.Inc()
		return false
	}

	// No else needed: early return pattern (guard clause)
	if !s.limiter.Allow(roomTopicKey(roomID)) {
		metrics.PublishRejected.Inc()
		s.logger.Warn("Publish rejected by rate limiter",
			"room_id", roomID,
			"retry_after", s.limiter.RetryAfter(roomTopicKey(roomID)).String())
		return false
	}

	content, err := message.EncodeTextContent(text)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		util.LogError(s.logger, "chat", "encode content", err, "room_id", roomID)
		return false
	}

	body, err := json.Marshal(message.OutgoingMessage{
		Content:    content,
		ChatRoomID: roomID,
	})
	// No else needed: early return pattern (guard clause)
	if err != nil {
		util.LogError(s.logger, "chat", "encode outgoing message", err, "room_id", roomID)
		return false
	}

	return s.publisher.Publish(constants.SendDestination, body)
}

// Messages returns a snapshot of the active room's sequence, oldest first
func (s *Session) Messages() []message.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := make([]message.ChatMessage, len(s.msgs))
	copy(snapshot, s.msgs)
	return snapshot
}

// ActiveRoom returns the selected room id, 0 if none
func (s *Session) ActiveRoom() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

// Phase returns the current session phase
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func roomTopicKey(roomID int64) string {
	return message.RoomTopic(roomID)
}
