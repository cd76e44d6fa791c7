package client

// State is the lifecycle state of a client connection.
//
//	closed -> connecting -> open -> closing -> closed
//
// closed is reachable from every state on error; reconnection re-enters
// connecting from closed.
type State uint8

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}
