// File: upgrade/manager_test.go
// Package upgrade
// Author: momentics <momentics@gmail.com>

package upgrade

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/momentics/msocket/address"
	"github.com/momentics/msocket/reactor"
	"github.com/momentics/msocket/stream"
)

type fakeEngine struct {
	mu       sync.Mutex
	onceN    int
	done     bool
	sent     [][]byte
	terminal bool
}

func (f *fakeEngine) Once(sock *stream.Socket) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onceN++
	return !f.done, nil
}

func (f *fakeEngine) Terminate(sock *stream.Socket) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminal = true
}

func (f *fakeEngine) Send(sock *stream.Socket, message []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, message)
	return nil
}

func fakeAcceptedSocket(t *testing.T) *stream.Socket {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	acceptedCh := make(chan net.Conn, 1)
	go func() {
		c, _ := ln.Accept()
		acceptedCh <- c
	}()
	_, err = net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	conn := <-acceptedCh
	local := address.Address{Kind: address.KindInet4, Host: "127.0.0.1", Port: 1}
	remote := address.Address{Kind: address.KindInet4, Host: "127.0.0.1", Port: 2}
	return stream.NewAccepted(local, remote, conn)
}

func TestManagerAttachDetachBroadcast(t *testing.T) {
	r, err := reactor.New(nil)
	require.NoError(t, err)

	engine := &fakeEngine{}
	m := NewManager(r, func(sock *stream.Socket) Engine { return engine }, nil)

	sock := fakeAcceptedSocket(t)
	m.Attach(sock)
	require.Len(t, m.snapshot(), 1)

	m.Broadcast([]byte("hi"))
	require.Equal(t, [][]byte{[]byte("hi")}, engine.sent)

	m.CloseAll()
	require.Len(t, m.snapshot(), 0)
	require.True(t, engine.terminal)
	time.Sleep(10 * time.Millisecond)
}
