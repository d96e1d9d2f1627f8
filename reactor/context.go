// File: reactor/context.go
// Package reactor
// Author: momentics <momentics@gmail.com>
//
// RequestContext carries per-dispatch state as an explicit context.Context
// value into every Handler.Dispatch call. There is no global or
// goroutine-local lookup: a handler that wants the current reactor, server,
// or socket must receive ctx and call the accessors below.

package reactor

import "context"

type ctxKey int

const (
	keyReactor ctxKey = iota
	keyHandler
	keySocket
	keyCloseFlag
)

// closeFlag is a mutable box so CloseConnection can be observed by the
// dispatching code after Dispatch returns — context.Context values are
// immutable, but the box they point to is not.
type closeFlag struct {
	close bool
}

func newRequestContext(r *Reactor, h Handler, sock Socket) context.Context {
	ctx := context.Background()
	ctx = context.WithValue(ctx, keyReactor, r)
	ctx = context.WithValue(ctx, keyHandler, h)
	ctx = context.WithValue(ctx, keySocket, sock)
	ctx = context.WithValue(ctx, keyCloseFlag, &closeFlag{})
	return ctx
}

// NewConnectionContext builds a context carrying a fresh close-flag box for
// a socket whose lifetime is managed outside of Reactor.Dispatch's own
// per-event context — e.g. a handler that hands a connection off to a
// long-lived per-connection goroutine. RequestCloseConnection and
// CloseConnectionRequested work the same way against the result as they do
// against a Dispatch-supplied context.
func NewConnectionContext(sock Socket) context.Context {
	ctx := context.WithValue(context.Background(), keySocket, sock)
	return context.WithValue(ctx, keyCloseFlag, &closeFlag{})
}

// CurrentReactor returns the Reactor dispatching this request, if any.
func CurrentReactor(ctx context.Context) (*Reactor, bool) {
	r, ok := ctx.Value(keyReactor).(*Reactor)
	return r, ok
}

// CurrentHandler returns the Handler (server) this request was dispatched to.
func CurrentHandler(ctx context.Context) (Handler, bool) {
	h, ok := ctx.Value(keyHandler).(Handler)
	return h, ok
}

// CurrentSocket returns the Socket this request was dispatched for.
func CurrentSocket(ctx context.Context) (Socket, bool) {
	s, ok := ctx.Value(keySocket).(Socket)
	return s, ok
}

// RequestCloseConnection marks the connection behind ctx for closure. For a
// Dispatch-supplied context the Reactor unregisters and closes the socket
// once the current Dispatch call returns; for a NewConnectionContext the
// owner checks CloseConnectionRequested itself. Used by protocol handlers
// (e.g. HTTP Connection: close; an Upgrade handoff leaves it unset so the
// socket stays open) to signal intent back to their caller without a
// return-value contract.
func RequestCloseConnection(ctx context.Context) {
	if f, ok := ctx.Value(keyCloseFlag).(*closeFlag); ok {
		f.close = true
	}
}

// CloseConnectionRequested reports whether RequestCloseConnection was called
// during this dispatch.
func CloseConnectionRequested(ctx context.Context) bool {
	f, ok := ctx.Value(keyCloseFlag).(*closeFlag)
	return ok && f.close
}
