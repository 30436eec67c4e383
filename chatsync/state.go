package chatsync

// ConnectionState represents the current state of the broker connection.
type ConnectionState int

const (
	// StateDisconnected means the transport is not connected.
	StateDisconnected ConnectionState = iota

	// StateConnecting means the transport is establishing a connection.
	StateConnecting

	// StateConnected means the transport is connected and ready.
	StateConnected

	// StateReconnecting means the transport lost the connection and is
	// retrying on its backoff interval.
	StateReconnecting

	// StateClosed means the transport has been explicitly closed.
	StateClosed
)

// String returns the string representation of a ConnectionState.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// StateEvent represents a connection state change.
type StateEvent struct {
	OldState ConnectionState
	NewState ConnectionState
	Err      error // optional error that caused the change
}

// JoinState represents room membership progress within a RoomSession.
type JoinState int

const (
	NotJoined JoinState = iota
	Joining
	Joined
	Leaving
)

// String returns the string representation of a JoinState.
func (s JoinState) String() string {
	switch s {
	case NotJoined:
		return "not_joined"
	case Joining:
		return "joining"
	case Joined:
		return "joined"
	case Leaving:
		return "leaving"
	default:
		return "unknown"
	}
}
