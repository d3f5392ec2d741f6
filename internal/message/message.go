package message

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/real-rm/gochat/internal/constants"
)

// RoomTopic returns the logical destination for a room's live channel
func RoomTopic(roomID int64) string {
	return constants.RoomTopicPrefix + strconv.FormatInt(roomID, 10)
}

// ChatMessage is a single chat message as delivered by the backend, either
// inside a live message frame or in a REST history page. RawContent keeps
// the wire contract (a serialized payload string); Content is the variant
// resolved from it exactly once at the boundary.
type ChatMessage struct {
	MessageID  int64     `json:"messageId"`
	ChatRoomID int64     `json:"chatRoomId"`
	SenderID   int64     `json:"senderId"`
	SenderName string    `json:"senderName"`
	Timestamp  time.Time `json:"timestamp"`
	RawContent string    `json:"content"`

	// Content is derived from RawContent and not part of the wire shape
	Content Content `json:"-"`
}

// DecodeChatMessage parses a frame body into a ChatMessage and resolves its
// content variant. Envelope decoding can fail (the frame is unusable without
// its ids); content parsing cannot — it degrades to unsupported.
func DecodeChatMessage(body []byte) (ChatMessage, error) {
	var m ChatMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return ChatMessage{}, err
	}
	m.Content = ParseContent(m.RawContent)
	return m, nil
}

// OutgoingMessage is the publish payload sent to the broker. Content is the
// same nested serialized shape used on inbound messages.
type OutgoingMessage struct {
	Content    string `json:"content"`
	ChatRoomID int64  `json:"chatRoomId"`
}

// Notification is a single user notification frame. Durable notification
// state lives in the backend's store; these are fire-and-forget events.
type Notification struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Kind      string    `json:"type"`
	IsRead    bool      `json:"isRead"`
	CreatedAt time.Time `json:"createdAt"`
}

// DecodeNotification parses a frame body into a Notification
func DecodeNotification(body []byte) (Notification, error) {
	var n Notification
	err := json.Unmarshal(body, &n)
	return n, err
}
