// File: server/multiserver.go
// Package server
// Author: momentics <momentics@gmail.com>
//
// MultiServer is the facade owning exactly one Reactor and the list of
// servers registered on it (HTTP StreamServers, log servers, log config
// servers) — the control-flow root of the component table.

package server

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/msocket/affinity"
	"github.com/momentics/msocket/api"
	"github.com/momentics/msocket/control"
	"github.com/momentics/msocket/reactor"
)

// Registrable is any server this facade can own: it binds itself to the
// reactor on Start and tears itself down on Close. httpserver.Server and
// logserver.Server/ConfigServer all satisfy this.
type Registrable interface {
	Start(r *reactor.Reactor) error
	Close(r *reactor.Reactor) error
}

// Config holds MultiServer's tunables, set via functional Options.
type Config struct {
	PollInterval    time.Duration
	ShutdownTimeout time.Duration
	AffinityCPU     int // -1 disables pinning
}

func defaultConfig() Config {
	return Config{
		PollInterval:    500 * time.Millisecond,
		ShutdownTimeout: 5 * time.Second,
		AffinityCPU:     -1,
	}
}

// Option customizes a MultiServer at construction.
type Option func(*MultiServer)

// WithPollInterval overrides the reactor's poll granularity.
func WithPollInterval(d time.Duration) Option {
	return func(s *MultiServer) { s.cfg.PollInterval = d }
}

// WithShutdownTimeout bounds how long Shutdown waits for Run to observe the
// stop flag before returning regardless.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *MultiServer) { s.cfg.ShutdownTimeout = d }
}

// WithAffinityCPU pins the reactor's dispatch goroutine to a logical CPU.
func WithAffinityCPU(cpuID int) Option {
	return func(s *MultiServer) { s.cfg.AffinityCPU = cpuID }
}

// WithLogger overrides the zap.Logger used by the facade and the Reactor it
// constructs.
func WithLogger(log *zap.Logger) Option {
	return func(s *MultiServer) { s.log = log }
}

// MultiServer owns one Reactor, the registered servers (in registration
// order, for reverse-order shutdown), the process-scoped MetricsRegistry
// and ConfigStore.
type MultiServer struct {
	cfg Config
	log *zap.Logger

	reactor *reactor.Reactor
	servers []Registrable
	running atomic.Bool

	Metrics *control.MetricsRegistry
	Config  *control.ConfigStore
}

// New constructs a MultiServer and its Reactor. Call Register for each
// server before Run.
func New(opts ...Option) (*MultiServer, error) {
	s := &MultiServer{cfg: defaultConfig(), log: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	r, err := reactor.New(s.log)
	if err != nil {
		return nil, fmt.Errorf("server: new reactor: %w", err)
	}
	s.reactor = r
	s.Metrics = control.NewMetricsRegistry()
	s.Config = control.NewConfigStore()
	s.reactor.Metrics = s.Metrics
	return s, nil
}

// Register binds srv to the reactor immediately and remembers it for
// reverse-order shutdown.
func (s *MultiServer) Register(srv Registrable) error {
	if err := srv.Start(s.reactor); err != nil {
		return err
	}
	s.servers = append(s.servers, srv)
	return nil
}

// Reactor exposes the owned Reactor for packages (upgrade.Manager) that
// need to attach sockets directly.
func (s *MultiServer) Reactor() *reactor.Reactor { return s.reactor }

// Run blocks the calling goroutine running the dispatch loop until
// Shutdown causes it to exit. When an affinity CPU is configured, the
// calling goroutine's OS thread is locked and pinned for the loop's
// lifetime — callers that want pinning should invoke Run on a dedicated
// goroutine of their own (e.g. `go multiServer.Run()`).
func (s *MultiServer) Run() error {
	if !s.running.CompareAndSwap(false, true) {
		return api.ErrAlreadyRunning
	}
	defer s.running.Store(false)
	if s.cfg.AffinityCPU >= 0 {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		if err := affinity.SetAffinity(s.cfg.AffinityCPU); err != nil {
			s.log.Warn("server: affinity pin failed", zap.Int("cpu", s.cfg.AffinityCPU), zap.Error(err))
		}
	}
	return s.reactor.Run(s.cfg.PollInterval)
}

// Shutdown closes each registered server in reverse registration order —
// listeners close before the reactor loop exits, so no new accepts race
// with teardown — then shuts the reactor down and waits up to
// ShutdownTimeout for Run to return.
func (s *MultiServer) Shutdown() error {
	for i := len(s.servers) - 1; i >= 0; i-- {
		if err := s.servers[i].Close(s.reactor); err != nil {
			s.log.Warn("server: close failed during shutdown", zap.Error(err))
		}
	}
	s.reactor.Shutdown()

	select {
	case <-s.reactor.Done():
	case <-time.After(s.cfg.ShutdownTimeout):
		s.log.Warn("server: shutdown timed out waiting for reactor loop to exit")
	}
	return nil
}
