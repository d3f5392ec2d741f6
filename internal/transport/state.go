package transport

// State is the authoritative connection lifecycle state. All mutation
// happens inside the Conn's own lifecycle paths (connect success/failure,
// drop detection, disconnect); other components observe transitions through
// the connection-state broadcaster instead of reading flags.
type State int

const (
	// StateIdle means no connection exists and none is being attempted
	StateIdle State = iota

	// StateConnecting means a handshake attempt is in flight
	StateConnecting

	// StateConnected means the handshake succeeded and the connection is live
	StateConnected

	// StateDisconnected means an established connection dropped unexpectedly;
	// the reconnect loop is running
	StateDisconnected

	// StateFailed means the last handshake attempt failed
	StateFailed
)

// String returns the string representation of a State
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
