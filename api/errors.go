// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error values shared across the reactor, stream, address and server
// packages.

package api

import "fmt"

// Sentinel errors returned by the core components. Callers should compare
// with errors.Is rather than matching error strings.
var (
	ErrClosed           = fmt.Errorf("msocket: already closed")
	ErrAlreadyRunning   = fmt.Errorf("msocket: already running")
	ErrInvalidAddress   = fmt.Errorf("msocket: invalid address")
	ErrUnsupportedKind  = fmt.Errorf("msocket: unsupported address kind")
	ErrNotRegistered    = fmt.Errorf("msocket: fd not registered")
	ErrRemoteConfigDeny = fmt.Errorf("msocket: remote config application is disabled")
)

// ErrorCode classifies an error for logging/metrics without string matching.
type ErrorCode int

const (
	ErrCodeUnknown ErrorCode = iota
	ErrCodeTransient
	ErrCodePeerClosed
	ErrCodeProtocolViolation
	ErrCodeApplication
	ErrCodeFatal
	ErrCodeConfiguration
)

// String renders the error code for log fields.
func (c ErrorCode) String() string {
	switch c {
	case ErrCodeTransient:
		return "transient"
	case ErrCodePeerClosed:
		return "peer_closed"
	case ErrCodeProtocolViolation:
		return "protocol_violation"
	case ErrCodeApplication:
		return "application"
	case ErrCodeFatal:
		return "fatal"
	case ErrCodeConfiguration:
		return "configuration"
	default:
		return "unknown"
	}
}

// ClassifiedError pairs an error with the kind of failure it represents, so
// callers can log or react by category without string matching.
type ClassifiedError struct {
	Code ErrorCode
	Err  error
}

func (e *ClassifiedError) Error() string { return e.Err.Error() }
func (e *ClassifiedError) Unwrap() error { return e.Err }

// Classify wraps err with the given code.
func Classify(code ErrorCode, err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Code: code, Err: err}
}
