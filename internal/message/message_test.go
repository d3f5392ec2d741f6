package message

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDecodeFrame_Message decodes a message frame with a body
func TestDecodeFrame_Message(t *testing.T) {
	data := []byte(`{"type":"message","destination":"/topic/chat-room/7","body":{"messageId":1}}`)

	f, err := DecodeFrame(data)
	require.NoError(t, err)

	assert.Equal(t, TypeMessage, f.Type)
	assert.Equal(t, "/topic/chat-room/7", f.Destination)
	assert.NotEmpty(t, f.Body)
}

// TestDecodeFrame_Error decodes an error frame with its error info
func TestDecodeFrame_Error(t *testing.T) {
	data := []byte(`{"type":"error","error":{"code":"AUTHENTICATION_FAILED","message":"token rejected"}}`)

	f, err := DecodeFrame(data)
	require.NoError(t, err)

	assert.Equal(t, TypeError, f.Type)
	require.NotNil(t, f.Error)
	assert.Equal(t, "AUTHENTICATION_FAILED", f.Error.Code)
}

// TestDecodeFrame_Malformed rejects non-JSON input
func TestDecodeFrame_Malformed(t *testing.T) {
	_, err := DecodeFrame([]byte("not a frame"))
	assert.Error(t, err)
}

// TestFrame_EncodeRoundTrip verifies a frame survives encode/decode
func TestFrame_EncodeRoundTrip(t *testing.T) {
	original := Frame{
		Type:        TypeSubscribe,
		ID:          "sub-1",
		Destination: "/topic/chat-room/3",
	}

	data, err := original.Encode()
	require.NoError(t, err)

	decoded, err := DecodeFrame(data)
	require.NoError(t, err)
	assert.Equal(t, original.Type, decoded.Type)
	assert.Equal(t, original.ID, decoded.ID)
	assert.Equal(t, original.Destination, decoded.Destination)
}

// TestDecodeChatMessage_ValidEnvelope decodes a message and resolves content
func TestDecodeChatMessage_ValidEnvelope(t *testing.T) {
	body := []byte(`{
		"messageId": 42,
		"chatRoomId": 7,
		"senderId": 9,
		"senderName": "alice",
		"timestamp": "2026-08-01T10:30:00Z",
		"content": "{\"type\":\"text\",\"text\":\"hi\"}"
	}`)

	m, err := DecodeChatMessage(body)
	require.NoError(t, err)

	assert.Equal(t, int64(42), m.MessageID)
	assert.Equal(t, int64(7), m.ChatRoomID)
	assert.Equal(t, "alice", m.SenderName)
	assert.Equal(t, time.Date(2026, 8, 1, 10, 30, 0, 0, time.UTC), m.Timestamp)
	assert.Equal(t, ContentText, m.Content.Kind)
	assert.Equal(t, "hi", m.Content.Text)
}

// TestDecodeChatMessage_BadContentDegrades keeps the envelope when the
// nested content payload is broken.
func TestDecodeChatMessage_BadContentDegrades(t *testing.T) {
	body := []byte(`{"messageId":1,"chatRoomId":2,"senderId":3,"senderName":"bob","timestamp":"2026-08-01T10:30:00Z","content":"garbage"}`)

	m, err := DecodeChatMessage(body)
	require.NoError(t, err)

	assert.Equal(t, int64(1), m.MessageID)
	assert.Equal(t, ContentUnsupported, m.Content.Kind)
}

// TestDecodeChatMessage_BadEnvelope fails when the envelope itself is broken
func TestDecodeChatMessage_BadEnvelope(t *testing.T) {
	_, err := DecodeChatMessage([]byte(`{"messageId":"not a number"}`))
	assert.Error(t, err)
}

// TestDecodeNotification decodes a notification payload
func TestDecodeNotification(t *testing.T) {
	body := []byte(`{"id":5,"title":"Mention","message":"alice mentioned you","type":"mention","isRead":false,"createdAt":"2026-08-01T10:30:00Z"}`)

	n, err := DecodeNotification(body)
	require.NoError(t, err)

	assert.Equal(t, int64(5), n.ID)
	assert.Equal(t, "Mention", n.Title)
	assert.Equal(t, "mention", n.Kind)
	assert.False(t, n.IsRead)
}

// TestRoomTopic builds the room broadcast destination
func TestRoomTopic(t *testing.T) {
	assert.Equal(t, "/topic/chat-room/42", RoomTopic(42))
}
