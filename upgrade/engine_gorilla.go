// File: upgrade/engine_gorilla.go
// Package upgrade
// Author: momentics <momentics@gmail.com>
//
// GorillaEngine adapts *websocket.Conn (github.com/gorilla/websocket) to the
// Engine contract, serving as the reference protocol driver for the
// manager — the websocket wire protocol itself stays out of scope; this is
// the thinnest possible bridge to a real implementation.

package upgrade

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/momentics/msocket/stream"
)

// MessageHandler receives decoded application messages read off the
// websocket connection.
type MessageHandler func(sock *stream.Socket, messageType int, data []byte)

// GorillaEngine wraps one *websocket.Conn; each upgraded HTTP connection
// gets its own instance, built with NewGorillaEngine.
type GorillaEngine struct {
	conn    *websocket.Conn
	onMsg   MessageHandler
	timeout time.Duration
}

// NewGorillaEngine wraps an already-handshaken *websocket.Conn.
func NewGorillaEngine(conn *websocket.Conn, onMsg MessageHandler, readTimeout time.Duration) *GorillaEngine {
	return &GorillaEngine{conn: conn, onMsg: onMsg, timeout: readTimeout}
}

// Once reads exactly one websocket frame and dispatches it to onMsg. A
// close frame or read error ends the connection (more=false).
func (g *GorillaEngine) Once(sock *stream.Socket) (bool, error) {
	if g.timeout > 0 {
		_ = g.conn.SetReadDeadline(time.Now().Add(g.timeout))
	}
	msgType, data, err := g.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return false, nil
		}
		return false, err
	}
	if msgType == websocket.CloseMessage {
		return false, nil
	}
	if g.onMsg != nil {
		g.onMsg(sock, msgType, data)
	}
	return true, nil
}

// Terminate sends a best-effort close frame; detach/socket-close is the
// manager's responsibility.
func (g *GorillaEngine) Terminate(sock *stream.Socket) {
	_ = g.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}

// Send writes a text message to the peer.
func (g *GorillaEngine) Send(sock *stream.Socket, message []byte) error {
	return g.conn.WriteMessage(websocket.TextMessage, message)
}
