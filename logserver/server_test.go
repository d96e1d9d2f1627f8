// File: logserver/server_test.go
// Package logserver
// Author: momentics <momentics@gmail.com>

package logserver

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/momentics/msocket/address"
	"github.com/momentics/msocket/reactor"
)

func TestLogServerRoundTrip(t *testing.T) {
	r, err := reactor.New(nil)
	require.NoError(t, err)

	received := make(chan Record, 4)
	writer := NewLogWriter(SinkFunc(func(rec Record) { received <- rec }), 16, nil)
	defer writer.Close()

	addr := address.Address{Kind: address.KindInet4, Host: "127.0.0.1", Port: 0}
	srv := NewServer(addr, "test", writer, true, 128, nil)
	require.NoError(t, srv.Start(r))
	defer srv.Close(r)

	go r.Run(20 * time.Millisecond)
	defer r.Shutdown()

	conn, err := net.Dial("tcp", srv.BoundAddr())
	require.NoError(t, err)
	defer conn.Close()

	payload := []byte("hello")
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	_, err = conn.Write(lenBuf[:])
	require.NoError(t, err)
	_, err = conn.Write(payload)
	require.NoError(t, err)

	select {
	case rec := <-received:
		require.Equal(t, "hello", string(rec.Payload))
		require.Equal(t, "test", rec.LogName)
	case <-time.After(2 * time.Second):
		t.Fatal("record not received")
	}
}
