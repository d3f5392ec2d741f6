package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/real-rm/gochat/internal/message"
	"github.com/real-rm/gochat/internal/roomcache"
	"github.com/real-rm/gochat/internal/testutil"
)

// fakePublisher records published bodies and returns a configurable result
type fakePublisher struct {
	result    bool
	published []json.RawMessage
}

func (f *fakePublisher) Publish(destination string, body json.RawMessage) bool {
	if !f.result {
		return false
	}
	f.published = append(f.published, body)
	return true
}

// fakeHistory serves canned newest-first pages per room
type fakeHistory struct {
	pages map[int64][]message.ChatMessage
	err   error
	calls int
}

func (f *fakeHistory) FetchRoomHistory(_ context.Context, roomID int64, _ int) ([]message.ChatMessage, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.pages[roomID], nil
}

func newTestSession(t *testing.T, publisher *fakePublisher, history *fakeHistory) (*Session, *roomcache.Cache) {
	logger := testutil.CreateTestLogger(t)
	t.Cleanup(func() { logger.Close() })
	cache := roomcache.New(logger)
	return NewSession(publisher, history, cache, logger), cache
}

// wireMessage builds a message the way it appears on the wire: raw content
// string, unresolved variant.
func wireMessage(roomID, messageID int64, text string, at time.Time) message.ChatMessage {
	return message.ChatMessage{
		MessageID:  messageID,
		ChatRoomID: roomID,
		SenderID:   1,
		SenderName: "alice",
		Timestamp:  at,
		RawContent: fmt.Sprintf(`{"type":"text","text":%q}`, text),
	}
}

func liveFrame(t *testing.T, m message.ChatMessage) message.Frame {
	t.Helper()
	body, err := json.Marshal(m)
	require.NoError(t, err)
	return message.Frame{
		Type:        message.TypeMessage,
		Destination: "/user/1/queue/messages",
		Body:        body,
	}
}

// TestSelectRoom_IngestsHistoryOldestFirst verifies the newest-first wire
// page lands in storage oldest-first.
func TestSelectRoom_IngestsHistoryOldestFirst(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	history := &fakeHistory{pages: map[int64][]message.ChatMessage{
		7: {
			wireMessage(7, 3, "third", base.Add(2*time.Minute)),
			wireMessage(7, 2, "second", base.Add(time.Minute)),
			wireMessage(7, 1, "first", base),
		},
	}}
	s, _ := newTestSession(t, &fakePublisher{result: true}, history)

	require.NoError(t, s.SelectRoom(context.Background(), 7))

	msgs := s.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, int64(1), msgs[0].MessageID)
	assert.Equal(t, int64(2), msgs[1].MessageID)
	assert.Equal(t, int64(3), msgs[2].MessageID)
	assert.Equal(t, PhaseLive, s.Phase())
	assert.Equal(t, "first", msgs[0].Content.Text)
}

// TestSelectRoom_FetchFailureStaysLoading leaves the session retryable
func TestSelectRoom_FetchFailureStaysLoading(t *testing.T) {
	history := &fakeHistory{err: errors.New("backend down")}
	s, _ := newTestSession(t, &fakePublisher{result: true}, history)

	err := s.SelectRoom(context.Background(), 7)

	require.Error(t, err)
	assert.Equal(t, PhaseLoading, s.Phase())
	assert.Empty(t, s.Messages())
}

// TestSelectRoom_DiscardsPreviousSequence verifies switching rooms replaces
// the sequence wholesale.
func TestSelectRoom_DiscardsPreviousSequence(t *testing.T) {
	base := time.Now()
	history := &fakeHistory{pages: map[int64][]message.ChatMessage{
		1: {wireMessage(1, 1, "room one", base)},
		2: {wireMessage(2, 9, "room two", base)},
	}}
	s, _ := newTestSession(t, &fakePublisher{result: true}, history)

	require.NoError(t, s.SelectRoom(context.Background(), 1))
	require.NoError(t, s.SelectRoom(context.Background(), 2))

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(9), msgs[0].MessageID)
	assert.Equal(t, int64(2), s.ActiveRoom())
}

// TestIngestHistory_StalePageDropped verifies a slow fetch for a previously
// selected room cannot clobber the current room's sequence.
func TestIngestHistory_StalePageDropped(t *testing.T) {
	history := &fakeHistory{pages: map[int64][]message.ChatMessage{}}
	s, _ := newTestSession(t, &fakePublisher{result: true}, history)

	require.NoError(t, s.SelectRoom(context.Background(), 2))

	// A page for room 1 arrives after room 2 became active
	s.IngestHistory(1, []message.ChatMessage{wireMessage(1, 5, "stale", time.Now())})

	assert.Empty(t, s.Messages())
	assert.Equal(t, int64(2), s.ActiveRoom())
}

// TestHandleFrame_AppendsActiveRoomOnly verifies live messages for other
// rooms update the cache but never the visible sequence.
func TestHandleFrame_AppendsActiveRoomOnly(t *testing.T) {
	history := &fakeHistory{pages: map[int64][]message.ChatMessage{}}
	s, cache := newTestSession(t, &fakePublisher{result: true}, history)
	cache.Seed([]roomcache.Room{{ID: 1}, {ID: 2}})

	require.NoError(t, s.SelectRoom(context.Background(), 1))

	s.HandleFrame(liveFrame(t, wireMessage(1, 10, "mine", time.Now())))
	s.HandleFrame(liveFrame(t, wireMessage(2, 11, "other room", time.Now())))

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(10), msgs[0].MessageID)

	other, _ := cache.Get(2)
	assert.Equal(t, 1, other.Unread)
	assert.Equal(t, "other room", other.LastMessage)
}

// TestHandleFrame_DegradedContentStillAppended verifies unparseable content
// degrades instead of dropping the message.
func TestHandleFrame_DegradedContentStillAppended(t *testing.T) {
	history := &fakeHistory{pages: map[int64][]message.ChatMessage{}}
	s, cache := newTestSession(t, &fakePublisher{result: true}, history)
	cache.Seed([]roomcache.Room{{ID: 1}})

	require.NoError(t, s.SelectRoom(context.Background(), 1))

	m := wireMessage(1, 10, "ignored", time.Now())
	m.RawContent = "{{{not json"
	s.HandleFrame(liveFrame(t, m))

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, message.ContentUnsupported, msgs[0].Content.Kind)
}

// TestHandleFrame_ListenerNotified verifies the live-message hook fires for
// appended messages only.
func TestHandleFrame_ListenerNotified(t *testing.T) {
	history := &fakeHistory{pages: map[int64][]message.ChatMessage{}}
	s, cache := newTestSession(t, &fakePublisher{result: true}, history)
	cache.Seed([]roomcache.Room{{ID: 1}, {ID: 2}})

	var notified []int64
	s.OnMessage(func(m message.ChatMessage) { notified = append(notified, m.MessageID) })

	require.NoError(t, s.SelectRoom(context.Background(), 1))
	s.HandleFrame(liveFrame(t, wireMessage(1, 10, "mine", time.Now())))
	s.HandleFrame(liveFrame(t, wireMessage(2, 11, "other", time.Now())))

	assert.Equal(t, []int64{10}, notified)
}

// TestPublish_RequiresActiveRoom gates publish on room selection
func TestPublish_RequiresActiveRoom(t *testing.T) {
	publisher := &fakePublisher{result: true}
	s, _ := newTestSession(t, publisher, &fakeHistory{})

	assert.False(t, s.Publish("hello"))
	assert.Empty(t, publisher.published)
}

// TestPublish_RejectsBlankText gates publish on non-empty trimmed text
func TestPublish_RejectsBlankText(t *testing.T) {
	publisher := &fakePublisher{result: true}
	s, _ := newTestSession(t, publisher, &fakeHistory{pages: map[int64][]message.ChatMessage{}})
	require.NoError(t, s.SelectRoom(context.Background(), 1))

	assert.False(t, s.Publish(""))
	assert.False(t, s.Publish("   \t\n "))
	assert.Empty(t, publisher.published)
}

// TestPublish_SendsEncodedContent verifies the outgoing payload shape
func TestPublish_SendsEncodedContent(t *testing.T) {
	publisher := &fakePublisher{result: true}
	s, _ := newTestSession(t, publisher, &fakeHistory{pages: map[int64][]message.ChatMessage{}})
	require.NoError(t, s.SelectRoom(context.Background(), 7))

	assert.True(t, s.Publish("  hello world  "))

	require.Len(t, publisher.published, 1)
	var out message.OutgoingMessage
	require.NoError(t, json.Unmarshal(publisher.published[0], &out))
	assert.Equal(t, int64(7), out.ChatRoomID)

	content := message.ParseContent(out.Content)
	assert.Equal(t, message.ContentText, content.Kind)
	assert.Equal(t, "hello world", content.Text)
}

// TestPublish_NoLocalEcho verifies the sequence grows only via the server's
// echo, never at publish time.
func TestPublish_NoLocalEcho(t *testing.T) {
	publisher := &fakePublisher{result: true}
	s, cache := newTestSession(t, publisher, &fakeHistory{pages: map[int64][]message.ChatMessage{}})
	cache.Seed([]roomcache.Room{{ID: 1}})
	require.NoError(t, s.SelectRoom(context.Background(), 1))

	require.True(t, s.Publish("outgoing"))
	assert.Empty(t, s.Messages())

	// The server echoes it back on the live channel
	s.HandleFrame(liveFrame(t, wireMessage(1, 10, "outgoing", time.Now())))
	assert.Len(t, s.Messages(), 1)
}

// TestPublish_PropagatesTransportGating verifies the multiplexer's false
// result is passed through.
func TestPublish_PropagatesTransportGating(t *testing.T) {
	publisher := &fakePublisher{result: false}
	s, _ := newTestSession(t, publisher, &fakeHistory{pages: map[int64][]message.ChatMessage{}})
	require.NoError(t, s.SelectRoom(context.Background(), 1))

	assert.False(t, s.Publish("hello"))
}

// TestClose_ReturnsToNoRoom verifies teardown clears the selection
func TestClose_ReturnsToNoRoom(t *testing.T) {
	history := &fakeHistory{pages: map[int64][]message.ChatMessage{}}
	s, cache := newTestSession(t, &fakePublisher{result: true}, history)
	require.NoError(t, s.SelectRoom(context.Background(), 1))

	s.Close()

	assert.Equal(t, PhaseNoRoom, s.Phase())
	assert.Equal(t, int64(0), s.ActiveRoom())
	assert.Equal(t, int64(0), cache.ActiveRoom())
	assert.Empty(t, s.Messages())
}

// TestProperty_HistoryReversal verifies any newest-first page is stored
// oldest-first with no messages gained or lost.
func TestProperty_HistoryReversal(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	logger := testutil.CreateTestLogger(t)
	defer logger.Close()

	properties.Property("storage order is the reverse of wire order", prop.ForAll(
		func(count int) bool {
			cache := roomcache.New(logger)
			s := NewSession(&fakePublisher{result: true}, &fakeHistory{}, cache, logger)

			base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
			wire := make([]message.ChatMessage, 0, count)
			// Newest first: descending ids
			for i := count; i >= 1; i-- {
				wire = append(wire, wireMessage(1, int64(i), "m", base.Add(time.Duration(i)*time.Second)))
			}

			s.mu.Lock()
			s.roomID = 1
			s.phase = PhaseLoading
			s.mu.Unlock()
			s.IngestHistory(1, wire)

			msgs := s.Messages()
			if len(msgs) != count {
				return false
			}
			for i, m := range msgs {
				if m.MessageID != int64(i+1) {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 50),
	))

	properties.TestingRun(t)
}
