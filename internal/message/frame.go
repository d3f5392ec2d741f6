// Package message defines the wire types exchanged with the messaging
// backend: the frame envelope multiplexed over the transport connection and
// the chat/notification payloads carried inside it.
package message

import "encoding/json"

// FrameType identifies the purpose of a frame on the wire
type FrameType string

const (
	TypeConnect     FrameType = "connect"
	TypeConnected   FrameType = "connected"
	TypeError       FrameType = "error"
	TypeSubscribe   FrameType = "subscribe"
	TypeUnsubscribe FrameType = "unsubscribe"
	TypeSend        FrameType = "send"
	TypeMessage     FrameType = "message"
)

// ErrorInfo carries protocol-level error details inside an error frame
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Frame is the envelope for every frame exchanged over the transport
// connection. One physical connection carries frames for many destinations;
// Destination routes inbound message frames to the right local handlers.
type Frame struct {
	Type        FrameType       `json:"type"`
	ID          string          `json:"id,omitempty"`          // transport-level subscription id
	Destination string          `json:"destination,omitempty"` // logical channel
	Token       string          `json:"token,omitempty"`       // connect only
	Body        json.RawMessage `json:"body,omitempty"`
	Error       *ErrorInfo      `json:"error,omitempty"`
}

// DecodeFrame parses a raw websocket payload into a Frame
func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	err := json.Unmarshal(data, &f)
	return f, err
}

// Encode serializes the frame for the wire
func (f Frame) Encode() ([]byte, error) {
	return json.Marshal(f)
}
