// File: httpserver/state.go
// Package httpserver
// Author: momentics <momentics@gmail.com>

package httpserver

// connState is the keep-alive state machine driving one accepted socket.
type connState int

const (
	stateFresh connState = iota
	stateInRequest
	stateIdle
	stateUpgraded
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateFresh:
		return "FRESH"
	case stateInRequest:
		return "IN_REQUEST"
	case stateIdle:
		return "IDLE"
	case stateUpgraded:
		return "UPGRADED"
	case stateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}
