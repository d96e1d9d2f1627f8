// File: upgrade/manager.go
// Package upgrade
// Author: momentics <momentics@gmail.com>
//
// Manager is the SocketManager of the component table: it owns the set of
// sockets an HTTP handler handed off after negotiating Connection: upgrade,
// attaches them to the reactor, and drives each through a protocol Engine's
// once/terminate/send contract.

package upgrade

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/momentics/msocket/reactor"
	"github.com/momentics/msocket/stream"
)

// Engine is the protocol driver for one upgraded socket — the core never
// implements a concrete websocket engine, only this contract, with
// github.com/gorilla/websocket serving as the reference adapter
// (see engine_gorilla.go).
type Engine interface {
	// Once services exactly one readiness event's worth of protocol
	// traffic. Returning false means the engine considers the connection
	// finished and the manager should detach and terminate it.
	Once(sock *stream.Socket) (bool, error)
	// Terminate releases any engine-owned resources after detach.
	Terminate(sock *stream.Socket)
	// Send pushes an application message to this socket's peer.
	Send(sock *stream.Socket, message []byte) error
}

// EngineFactory builds a fresh Engine for a newly attached socket, so each
// connection gets independent protocol state (handshake mask keys, ping
// timers, etc).
type EngineFactory func(sock *stream.Socket) Engine

type entry struct {
	sock   *stream.Socket
	engine Engine
	mu     sync.Mutex
}

// Manager implements reactor.Handler and holds the long-lived post-Upgrade
// socket set.
type Manager struct {
	log     *zap.Logger
	factory EngineFactory
	r       *reactor.Reactor

	mu      sync.Mutex
	entries map[int]*entry
}

// NewManager constructs a Manager bound to reactor r, using factory to
// build a protocol Engine for each newly attached socket.
func NewManager(r *reactor.Reactor, factory EngineFactory, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{log: log, factory: factory, r: r, entries: make(map[int]*entry)}
}

// Attach registers sock with the reactor under this manager. From this
// point readiness on sock's fd invokes Dispatch.
func (m *Manager) Attach(sock *stream.Socket) {
	fd := sock.Fileno()
	e := &entry{sock: sock, engine: m.factory(sock)}

	m.mu.Lock()
	m.entries[fd] = e
	m.mu.Unlock()

	if err := m.r.AddListener(m, sock); err != nil {
		m.log.Error("upgrade: attach failed", zap.Error(err))
		m.detachLocked(fd)
		return
	}
	m.log.Info("upgrade: attached", zap.Int("fd", fd))
}

// Detach unregisters sock from the reactor and drops it from the set.
func (m *Manager) Detach(sock *stream.Socket) {
	m.detachLocked(sock.Fileno())
}

func (m *Manager) detachLocked(fd int) {
	m.mu.Lock()
	e, ok := m.entries[fd]
	delete(m.entries, fd)
	m.mu.Unlock()
	if !ok {
		return
	}
	_ = m.r.DelListener(e.sock)
}

// Dispatch implements reactor.Handler: under the entry's own lock, it
// drives the engine's Once; a false/error result detaches and terminates.
func (m *Manager) Dispatch(ctx context.Context, sock reactor.Socket) {
	ss, ok := sock.(*stream.Socket)
	if !ok {
		return
	}
	fd := ss.Fileno()

	m.mu.Lock()
	e, ok := m.entries[fd]
	m.mu.Unlock()
	if !ok {
		return
	}

	e.mu.Lock()
	more, err := e.engine.Once(ss)
	e.mu.Unlock()

	if err != nil {
		m.log.Warn("upgrade: engine error", zap.Int("fd", fd), zap.Error(err))
		more = false
	}
	if !more {
		m.Detach(ss)
		e.engine.Terminate(ss)
		_ = ss.Close()
	}
}

// Broadcast snapshots the current socket set under the manager mutex, then
// releases it before invoking Send on each — so slow or blocking I/O on one
// peer never holds up registration/dispatch on the others.
func (m *Manager) Broadcast(message []byte) {
	for _, e := range m.snapshot() {
		if err := e.engine.Send(e.sock, message); err != nil {
			m.log.Warn("upgrade: broadcast send failed", zap.Int("fd", e.sock.Fileno()), zap.Error(err))
		}
	}
}

// CloseAll detaches and terminates every attached socket, tolerating
// per-socket errors so one bad peer doesn't block the shutdown sweep.
func (m *Manager) CloseAll() {
	for _, e := range m.snapshot() {
		m.Detach(e.sock)
		e.engine.Terminate(e.sock)
		_ = e.sock.Close()
	}
}

func (m *Manager) snapshot() []*entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	return out
}
