// File: httpserver/server.go
// Package httpserver
// Author: momentics <momentics@gmail.com>
//
// Server binds one listening address and registers it with a reactor under
// a Handler — the StreamServer of the component table.

package httpserver

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/momentics/msocket/address"
	"github.com/momentics/msocket/reactor"
	"github.com/momentics/msocket/stream"
)

// Server owns one listening socket and the Handler dispatching connections
// accepted on it.
type Server struct {
	addr      address.Address
	reuseAddr bool
	backlog   int
	handler   *Handler
	log       *zap.Logger

	listener *stream.Socket
}

// NewServer constructs an unbound HTTP server for addr.
func NewServer(addr address.Address, handler *Handler, reuseAddr bool, backlog int, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{addr: addr, reuseAddr: reuseAddr, backlog: backlog, handler: handler, log: log}
}

// Start binds, activates and registers the listening socket with r.
func (s *Server) Start(r *reactor.Reactor) error {
	s.listener = stream.NewListening(s.addr, s.reuseAddr, s.backlog)
	if err := s.listener.Bind(); err != nil {
		return fmt.Errorf("httpserver: bind %s: %w", s.addr, err)
	}
	if err := s.listener.Activate(); err != nil {
		return fmt.Errorf("httpserver: activate %s: %w", s.addr, err)
	}
	if err := r.AddListener(s.handler, s.listener); err != nil {
		return fmt.Errorf("httpserver: register %s: %w", s.addr, err)
	}
	s.log.Info("httpserver: listening", zap.Stringer("addr", s.addr))
	return nil
}

// Close unregisters the listener from r and closes it. Idempotent through
// the underlying Socket's own idempotent Close.
func (s *Server) Close(r *reactor.Reactor) error {
	if s.listener == nil {
		return nil
	}
	_ = r.DelListener(s.listener)
	return s.listener.Close()
}

// Addr returns the server's configured address.
func (s *Server) Addr() address.Address { return s.addr }

// BoundAddr returns the OS-assigned listen address as a string, useful when
// Addr was constructed with an ephemeral port (:0).
func (s *Server) BoundAddr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.ListenAddr().String()
}
