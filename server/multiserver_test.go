// File: server/multiserver_test.go
// Package server
// Author: momentics <momentics@gmail.com>

package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/momentics/msocket/address"
	"github.com/momentics/msocket/httpserver"
	"github.com/momentics/msocket/logserver"
)

// TestGracefulShutdownWithInFlightRequests exercises scenario 6: Shutdown is
// called while two HTTP requests are blocked in the application on worker
// goroutines, and it returns without error once they are released.
func TestGracefulShutdownWithInFlightRequests(t *testing.T) {
	ms, err := New(WithPollInterval(10 * time.Millisecond))
	require.NoError(t, err)

	release := make(chan struct{})
	started := make(chan struct{}, 2)
	app := func(ctx context.Context, r *httpserver.Request, w httpserver.ResponseWriter) {
		started <- struct{}{}
		<-release
		w.Header().Set("Content-Length", "2")
		w.WriteHeader("200 OK")
		_, _ = w.Write([]byte("ok"))
	}

	handler := httpserver.NewHandler(app, nil, ms.Metrics)
	addr := address.Address{Kind: address.KindInet4, Host: "127.0.0.1", Port: 0}
	httpSrv := httpserver.NewServer(addr, handler, true, 64, nil)
	require.NoError(t, ms.Register(httpSrv))

	go ms.Run()
	time.Sleep(30 * time.Millisecond)

	listenAddr := httpSrv.BoundAddr()

	for i := 0; i < 2; i++ {
		go func() {
			conn, derr := net.Dial("tcp", listenAddr)
			if derr != nil {
				return
			}
			defer conn.Close()
			_, _ = conn.Write([]byte("GET / HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n"))
			buf := make([]byte, 256)
			_, _ = conn.Read(buf)
		}()
	}

	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatal("request never reached the application")
		}
	}

	shutdownDone := make(chan error, 1)
	go func() { shutdownDone <- ms.Shutdown() }()

	time.Sleep(50 * time.Millisecond)
	close(release)

	select {
	case err := <-shutdownDone:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("shutdown did not complete")
	}
}

// TestMidFlightRegistration exercises scenario 5: a log server accepting a
// new connection from within its own Dispatch re-registers it with the
// reactor, and the next poll cycle delivers readiness on it.
func TestMidFlightRegistration(t *testing.T) {
	ms, err := New(WithPollInterval(10 * time.Millisecond))
	require.NoError(t, err)

	received := make(chan logserver.Record, 1)
	writer := logserver.NewLogWriter(logserver.SinkFunc(func(r logserver.Record) {
		received <- r
	}), 16, nil)
	defer writer.Close()

	addr := address.Address{Kind: address.KindInet4, Host: "127.0.0.1", Port: 0}
	logSrv := logserver.NewServer(addr, "mid-flight", writer, true, 64, nil)
	require.NoError(t, ms.Register(logSrv))

	go ms.Run()
	defer ms.Shutdown()
	time.Sleep(30 * time.Millisecond)

	conn, err := net.Dial("tcp", logSrv.BoundAddr())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte{0, 0, 0, 5})
	require.NoError(t, err)
	_, err = conn.Write([]byte("hello"))
	require.NoError(t, err)

	select {
	case rec := <-received:
		require.Equal(t, "hello", string(rec.Payload))
	case <-time.After(2 * time.Second):
		t.Fatal("mid-flight registered connection never delivered readiness")
	}
}
