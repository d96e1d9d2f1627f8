// File: httpserver/handler_test.go
// Package httpserver
// Author: momentics <momentics@gmail.com>

package httpserver

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/momentics/msocket/address"
	"github.com/momentics/msocket/reactor"
	"github.com/momentics/msocket/stream"
)

func dialedPair(t *testing.T) (clientConn net.Conn, serverSock *stream.Socket) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	acceptedCh := make(chan net.Conn, 1)
	go func() {
		c, _ := ln.Accept()
		acceptedCh <- c
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)

	serverConn := <-acceptedCh
	require.NotNil(t, serverConn)

	local := address.Address{Kind: address.KindInet4, Host: "127.0.0.1", Port: 0}
	remote := address.Address{Kind: address.KindInet4, Host: "127.0.0.1", Port: 0}
	return client, stream.NewAccepted(local, remote, serverConn)
}

func echoHeaderApp(ctx context.Context, r *Request, w ResponseWriter) {
	v := r.Header.Get("X-Echo")
	w.Header().Set("Content-Length", intToStr(len(v)))
	w.WriteHeader("200 OK")
	_, _ = w.Write([]byte(v))
}

func intToStr(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func TestEchoHeaderContentLength(t *testing.T) {
	client, sock := dialedPair(t)
	defer client.Close()

	h := NewHandler(echoHeaderApp, nil, nil)
	go h.serveConnection(sock, "test-conn")

	_, err := client.Write([]byte("GET / HTTP/1.1\r\nHost: x\r\nX-Echo: hello\r\nConnection: close\r\n\r\n"))
	require.NoError(t, err)

	br := bufio.NewReader(client)
	status, err := br.ReadString('\n')
	require.NoError(t, err)
	require.Contains(t, status, "200 OK")

	for {
		line, err := br.ReadString('\n')
		require.NoError(t, err)
		if line == "\r\n" {
			break
		}
	}
	body := make([]byte, 5)
	_, err = br.Read(body)
	require.NoError(t, err)
	require.Equal(t, "hello", string(body))
}

func chunkedApp(ctx context.Context, r *Request, w ResponseWriter) {
	w.WriteHeader("200 OK")
	_, _ = w.Write([]byte("hel"))
	_, _ = w.Write([]byte("lo"))
}

func TestChunkedEncoding(t *testing.T) {
	client, sock := dialedPair(t)
	defer client.Close()

	h := NewHandler(chunkedApp, nil, nil)
	go h.serveConnection(sock, "test-conn")

	_, err := client.Write([]byte("GET / HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n"))
	require.NoError(t, err)

	br := bufio.NewReader(client)
	status, err := br.ReadString('\n')
	require.NoError(t, err)
	require.Contains(t, status, "200 OK")

	var sawChunked bool
	for {
		line, err := br.ReadString('\n')
		require.NoError(t, err)
		if line == "Transfer-Encoding: chunked\r\n" {
			sawChunked = true
		}
		if line == "\r\n" {
			break
		}
	}
	require.True(t, sawChunked)

	raw := make([]byte, len("3\r\nhel\r\n2\r\nlo\r\n0\r\n\r\n"))
	_, err = readFull(br, raw)
	require.NoError(t, err)
	require.Equal(t, "3\r\nhel\r\n2\r\nlo\r\n0\r\n\r\n", string(raw))
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func TestKeepaliveIdleTimeoutCloses(t *testing.T) {
	client, sock := dialedPair(t)
	defer client.Close()

	h := NewHandler(echoHeaderApp, nil, nil)
	h.KeepaliveTimeout = 100 * time.Millisecond
	done := make(chan struct{})
	go func() {
		h.serveConnection(sock, "test-conn")
		close(done)
	}()

	_, err := client.Write([]byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n"))
	require.NoError(t, err)

	br := bufio.NewReader(client)
	_, err = br.ReadString('\n')
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("server did not close idle connection")
	}
}

var _ reactor.Handler = (*Handler)(nil)
