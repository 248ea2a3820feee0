package lifecycle

import "sync/atomic"

// State names the position of a manager in its pairing flow.
type State int32

const (
	StateIdle State = iota
	StateInitializing
	StateAwaitingPairing
	StateLinking
	StateLinked
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitializing:
		return "initializing"
	case StateAwaitingPairing:
		return "awaiting_pairing"
	case StateLinking:
		return "linking"
	case StateLinked:
		return "linked"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type stateVar struct {
	v atomic.Int32
}

func (s *stateVar) set(next State) { s.v.Store(int32(next)) }
func (s *stateVar) get() State     { return State(s.v.Load()) }
