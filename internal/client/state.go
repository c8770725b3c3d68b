package client

// State is the lifecycle of one subscriber connection:
// Disconnected -> Connecting -> Connected -> Disconnected.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// canTransition lists the edges of the connection state machine. A failed
// dial goes straight back to Disconnected.
func canTransition(from, to State) bool {
	switch from {
	case StateDisconnected:
		return to == StateConnecting
	case StateConnecting:
		return to == StateConnected || to == StateDisconnected
	case StateConnected:
		return to == StateDisconnected
	}
	return false
}
