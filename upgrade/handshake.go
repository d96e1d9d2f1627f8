// File: upgrade/handshake.go
// Package upgrade
// Author: momentics <momentics@gmail.com>
//
// Handshake bridges a core Request/RawConn pair into gorilla/websocket's
// Upgrader, which only exposes a net/http-shaped entry point
// (ResponseWriter + Request + Hijacker). hijackShim is the minimal adapter
// that makes that possible without pulling net/http serving into the
// reactor's own HTTP handler.

package upgrade

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"

	"github.com/momentics/msocket/httpserver"
)

var defaultUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handshake performs the RFC 6455 handshake over req.RawConn using
// gorilla/websocket's Upgrader and returns the resulting *websocket.Conn.
// The caller's Application must not write anything else to the
// ResponseWriter for this request — see Request.RawConn's doc comment.
func Handshake(req *httpserver.Request) (*websocket.Conn, error) {
	if req.RawConn == nil {
		return nil, fmt.Errorf("upgrade: request has no RawConn")
	}
	httpReq := &http.Request{
		Method:     req.Method,
		URL:        &url.URL{Path: req.Path, RawQuery: req.Query},
		Proto:      req.Proto,
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     http.Header(req.Header),
		Host:       req.Header.Get("Host"),
	}
	shim := &hijackShim{conn: req.RawConn, header: http.Header{}, buffered: bufferedBytes(req.Body)}
	conn, err := defaultUpgrader.Upgrade(shim, httpReq, nil)
	if err != nil {
		return nil, fmt.Errorf("upgrade: handshake failed: %w", err)
	}
	return conn, nil
}

// bufferedBytes copies out whatever the HTTP handler's own pooled
// bufio.Reader had already buffered off the wire in the read that found the
// upgrade request, so the handshake doesn't discard bytes the peer sent
// right behind its headers (e.g. a client that doesn't wait for the 101
// before starting its first frame). The copy must happen now: the handler
// resets and returns its reader to the pool as soon as Handshake returns.
func bufferedBytes(body io.Reader) []byte {
	br, ok := body.(*bufio.Reader)
	if !ok || br.Buffered() == 0 {
		return nil
	}
	peeked, _ := br.Peek(br.Buffered())
	return append([]byte(nil), peeked...)
}

// hijackShim implements just enough of http.ResponseWriter/http.Hijacker
// for Upgrader.Upgrade's success path, which hijacks the connection and
// writes the 101 response directly to it without calling back through
// Write/WriteHeader.
type hijackShim struct {
	conn     net.Conn
	header   http.Header
	buffered []byte
}

func (s *hijackShim) Header() http.Header { return s.header }

func (s *hijackShim) Write(b []byte) (int, error) {
	return 0, fmt.Errorf("upgrade: unexpected ResponseWriter.Write during handshake")
}

func (s *hijackShim) WriteHeader(statusCode int) {}

func (s *hijackShim) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	var r io.Reader = s.conn
	if len(s.buffered) > 0 {
		r = io.MultiReader(bytes.NewReader(s.buffered), s.conn)
	}
	br := bufio.NewReader(r)
	bw := bufio.NewWriter(s.conn)
	return s.conn, bufio.NewReadWriter(br, bw), nil
}
