// Package constants provides centralized constant definitions for the gochat
// client library. This eliminates magic numbers and strings throughout the
// codebase.
package constants

import "time"

// Connection lifecycle timings
const (
	// PongWait is the time allowed to read the next pong from the broker.
	// A missed pong is treated as a dropped connection.
	PongWait = 60 * time.Second

	// PingPeriod is the interval for sending ping frames (must be less than PongWait)
	PingPeriod = (PongWait * 9) / 10

	// WriteWait is the time allowed to write a single frame to the broker
	WriteWait = 10 * time.Second

	// HandshakeTimeout is the time allowed for the CONNECT/CONNECTED exchange
	HandshakeTimeout = 15 * time.Second

	// ReconnectDelay is the fixed delay between automatic reconnection
	// attempts. Deliberately not exponential: a bounded fixed-interval retry
	// is simpler to reason about for a single long-lived client connection.
	ReconnectDelay = 5 * time.Second
)

// Sizes and limits
const (
	SendBufferSize       = 256     // Outbound frame queue per connection
	DefaultMaxFrameSize  = 1048576 // 1MB read limit for inbound frames
	DefaultHistoryLimit  = 50      // Messages fetched per room history page
	DefaultPublishLimit  = 30      // Outgoing messages per window
	DefaultPublishWindow = 10 * time.Second
	DefaultRESTTimeout   = 10 * time.Second
)

// Destination patterns. Rooms are broadcast topics; per-user feeds are queues
// scoped by the authenticated user id from the bearer token.
const (
	RoomTopicPrefix         = "/topic/chat-room/"
	SendDestination         = "/app/chat/send"
	UserQueuePrefix         = "/user/"
	MessageQueueSuffix      = "/queue/messages"
	NotificationQueueSuffix = "/queue/notifications"
)

// Room cache rendering
const (
	// AttachmentPreview is the fixed preview text for non-text message
	// content in the rooms list.
	AttachmentPreview = "[attachment]"
)

// Default configuration values
const (
	DefaultBrokerURL = "ws://localhost:8080/ws"
	DefaultRESTBase  = "http://localhost:8080/api"
	DefaultPort      = 8080
	DefaultLogLevel  = "info"
	DefaultLogDir    = "logs"
)

// HTTP headers
const (
	HeaderAuthorization = "Authorization"
	BearerPrefix        = "Bearer "
	BearerPrefixLength  = 7
)

// Dev broker HTTP server timeouts
const (
	HTTPReadTimeout  = 15 * time.Second
	HTTPWriteTimeout = 60 * time.Second
	HTTPIdleTimeout  = 120 * time.Second
)

// Minimum security requirements for the dev broker's JWT secret
const (
	MinJWTSecretLength = 32 // 256 bits
)

// Weak secrets rejected by dev broker configuration validation
var WeakSecrets = []string{
	"secret", "test", "test123", "password", "admin",
	"changeme", "default", "example", "demo", "12345",
	"placeholder",
}
