// Package roomcache maintains the shared, UI-visible summary of all rooms:
// last-message preview, last-message timestamp, and unread count. Entries
// are seeded from the REST room list; the synchronizer only updates
// entries as messages arrive — room creation and removal stay with the REST
// layer. Confining writes here avoids lost-update races between concurrent
// message arrivals.
package roomcache

import (
	"sort"
	"sync"
	"time"

	"github.com/real-rm/gochat/internal/constants"
	"github.com/real-rm/gochat/internal/message"
	"github.com/real-rm/golog"
)

// RoomKind classifies a chat room
type RoomKind string

const (
	KindDirect RoomKind = "direct"
	KindGroup  RoomKind = "group"
	KindEvent  RoomKind = "event"
)

// Room is one cache entry. Unread is monotonically non-negative and resets
// to 0 exactly when the room becomes the active selection.
type Room struct {
	ID            int64
	Name          string
	Kind          RoomKind
	Participants  int
	LastMessage   string
	LastMessageAt time.Time
	Unread        int
}

// Cache is the room cache synchronizer
type Cache struct {
	logger *golog.Logger

	mu     sync.RWMutex
	rooms  map[int64]*Room
	active int64 // 0 means no room selected
}

// New creates an empty cache
func New(logger *golog.Logger) *Cache {
	return &Cache{
		logger: logger.WithGroup("roomcache"),
		rooms:  make(map[int64]*Room),
	}
}

// Seed replaces the cached room set from a REST refresh. The active room id
// and its read state are preserved: selecting a room is a local fact the
// room list does not know about.
func (c *Cache) Seed(rooms []Room) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fresh := make(map[int64]*Room, len(rooms))
	for _, r := range rooms {
		room := r
		if room.ID == c.active {
			room.Unread = 0
		}
		fresh[room.ID] = &room
	}
	c.rooms = fresh

	c.logger.Debug("Room cache seeded", "rooms", len(fresh))
}

// ApplyInbound updates the cache for one inbound message, whether or not it
// belongs to the active room: preview and timestamp update unconditionally,
// and unread increments by exactly 1 if and only if the message's room is
// not the active one (the active room is assumed to be on screen).
func (c *Cache) ApplyInbound(m message.ChatMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	room, ok := c.rooms[m.ChatRoomID]
	// No else needed: the synchronizer never creates rooms; unknown room ids
	// wait for the next REST refresh
	if !ok {
		c.logger.Debug("Message for unknown room ignored", "room_id", m.ChatRoomID)
		return
	}

	room.LastMessage = preview(m.Content)
	room.LastMessageAt = m.Timestamp

	if m.ChatRoomID != c.active {
		room.Unread++
	}
}

// SetActive records the active room selection and resets its unread count
func (c *Cache) SetActive(roomID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.active = roomID
	c.markReadLocked(roomID)
}

// ClearActive drops the active selection (no room on screen)
func (c *Cache) ClearActive() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = 0
}

// MarkRead resets a room's unread counter to 0
func (c *Cache) MarkRead(roomID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markReadLocked(roomID)
}

func (c *Cache) markReadLocked(roomID int64) {
	if room, ok := c.rooms[roomID]; ok {
		room.Unread = 0
	}
}

// ActiveRoom returns the current active room id, 0 if none
func (c *Cache) ActiveRoom() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active
}

// Get returns a copy of one room entry
func (c *Cache) Get(roomID int64) (Room, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	room, ok := c.rooms[roomID]
	if !ok {
		return Room{}, false
	}
	return *room, true
}

// Rooms returns a snapshot of all entries, most recent activity first
func (c *Cache) Rooms() []Room {
	c.mu.RLock()
	snapshot := make([]Room, 0, len(c.rooms))
	for _, room := range c.rooms {
		snapshot = append(snapshot, *room)
	}
	c.mu.RUnlock()

	sort.Slice(snapshot, func(i, j int) bool {
		if snapshot[i].LastMessageAt.Equal(snapshot[j].LastMessageAt) {
			return snapshot[i].ID < snapshot[j].ID
		}
		return snapshot[i].LastMessageAt.After(snapshot[j].LastMessageAt)
	})
	return snapshot
}

// preview renders the rooms-list preview text for a content variant
func preview(content message.Content) string {
	if content.Kind == message.ContentText {
		return content.Text
	}
	return constants.AttachmentPreview
}
