// File: reactor/reactor_test.go
// Package reactor
// Author: momentics <momentics@gmail.com>

package reactor

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type pipeSocket struct {
	r, w   *os.File
	closed bool
}

func newPipeSocket(t *testing.T) *pipeSocket {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	return &pipeSocket{r: r, w: w}
}

func (p *pipeSocket) Fileno() int { return int(p.r.Fd()) }
func (p *pipeSocket) Closed() bool { return p.closed }
func (p *pipeSocket) Close() error {
	p.closed = true
	_ = p.w.Close()
	return p.r.Close()
}

type countingHandler struct {
	n int
}

func (h *countingHandler) Dispatch(ctx context.Context, sock Socket) {
	h.n++
	buf := make([]byte, 64)
	if ps, ok := sock.(*pipeSocket); ok {
		_, _ = ps.r.Read(buf)
	}
}

func TestRegisterIdempotent(t *testing.T) {
	r, err := New(nil)
	require.NoError(t, err)
	defer r.Shutdown()

	sock := newPipeSocket(t)
	defer sock.Close()
	h := &countingHandler{}

	require.NoError(t, r.AddListener(h, sock))
	sizeBefore := len(r.entries)
	require.NoError(t, r.AddListener(h, sock))
	require.Equal(t, sizeBefore, len(r.entries))
}

func TestDispatchOnReadiness(t *testing.T) {
	r, err := New(nil)
	require.NoError(t, err)

	sock := newPipeSocket(t)
	h := &countingHandler{}
	require.NoError(t, r.AddListener(h, sock))

	go r.Run(10 * time.Millisecond)
	defer r.Shutdown()

	_, err = sock.w.Write([]byte("x"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return h.n > 0 }, time.Second, 5*time.Millisecond)
}

func TestDelListenerRemovesFromMap(t *testing.T) {
	r, err := New(nil)
	require.NoError(t, err)
	defer r.Shutdown()

	sock := newPipeSocket(t)
	defer sock.Close()
	h := &countingHandler{}
	require.NoError(t, r.AddListener(h, sock))
	require.Len(t, r.entries, 1)

	r.DelListener(sock)
	require.Len(t, r.entries, 0)

	// Unregistering an unknown socket leaves the map unchanged (DelListener
	// reports api.ErrNotRegistered for it).
	r.DelListener(sock)
}

func TestMidFlightRegistrationFromDispatch(t *testing.T) {
	r, err := New(nil)
	require.NoError(t, err)

	sockA := newPipeSocket(t)
	sockB := newPipeSocket(t)
	defer sockA.Close()
	defer sockB.Close()

	bDispatched := make(chan struct{}, 1)
	hb := dispatchFunc(func(ctx context.Context, sock Socket) {
		buf := make([]byte, 8)
		_, _ = sockB.r.Read(buf)
		select {
		case bDispatched <- struct{}{}:
		default:
		}
	})

	ha := dispatchFunc(func(ctx context.Context, sock Socket) {
		buf := make([]byte, 8)
		_, _ = sockA.r.Read(buf)
		_ = r.AddListener(hb, sockB)
	})

	require.NoError(t, r.AddListener(ha, sockA))
	go r.Run(10 * time.Millisecond)
	defer r.Shutdown()

	_, err = sockA.w.Write([]byte("go"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		r.mu.Lock()
		_, ok := r.entries[sockB.Fileno()]
		r.mu.Unlock()
		return ok
	}, time.Second, 5*time.Millisecond)

	_, err = sockB.w.Write([]byte("go"))
	require.NoError(t, err)

	select {
	case <-bDispatched:
	case <-time.After(time.Second):
		t.Fatal("mid-flight registered socket B never received dispatch")
	}
}

type dispatchFunc func(ctx context.Context, sock Socket)

func (f dispatchFunc) Dispatch(ctx context.Context, sock Socket) { f(ctx, sock) }
