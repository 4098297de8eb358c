package session

import "fmt"

type State uint8

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateFailed
	StateDisconnecting
)

func (self State) String() string {
	switch self {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateFailed:
		return "FAILED"
	case StateDisconnecting:
		return "DISCONNECTING"
	}
	return fmt.Sprintf("State(%d)", uint8(self))
}

// Final states, session is not running.
func (self State) Final() bool { return self == StateDisconnected || self == StateFailed }
