package socket

import "sync/atomic"

// State is the connection lifecycle; it only moves forward.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateError
	StateTimedOut
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateError:
		return "error"
	case StateTimedOut:
		return "timedout"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type stateCell struct {
	v atomic.Int32
}

func (c *stateCell) load() State {
	return State(c.v.Load())
}

// advance moves to next when next is later than the current state.
func (c *stateCell) advance(next State) bool {
	for {
		cur := c.v.Load()
		if int32(next) <= cur {
			return false
		}
		if c.v.CompareAndSwap(cur, int32(next)) {
			return true
		}
	}
}
