// File: reactor/reactor.go
// Package reactor
// Author: momentics <momentics@gmail.com>
//
// Reactor is a single-threaded readiness-driven event loop: it owns a
// Poller, maps fd -> (Handler, Socket), and dispatches readiness events on
// the thread running Run.

package reactor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/msocket/api"
	"github.com/momentics/msocket/control"
)

// Socket is the minimal contract the reactor needs from a registered
// endpoint — satisfied by *stream.Socket for both listening and accepted
// sockets, and by any long-lived socket an Upgrade-style handler registers.
type Socket interface {
	Fileno() int
	Closed() bool
	Close() error
}

// Handler is invoked once per readiness event on a registered fd. Dispatch
// must not be invoked re-entrantly for the same fd within one poll cycle —
// the Reactor's single-threaded loop guarantees this.
type Handler interface {
	Dispatch(ctx context.Context, sock Socket)
}

type entry struct {
	handler Handler
	sock    Socket
}

// Reactor owns the registration map and the poller. All mutations of the
// map are guarded by mu, held only for the duration of the mutation — never
// across a Dispatch call.
type Reactor struct {
	log *zap.Logger

	mu      sync.Mutex
	entries map[int]entry

	poller Poller

	// Metrics, when set, receives the registered-fd-set gauge on every
	// AddListener/DelListener. Optional — nil means no metrics are recorded.
	Metrics *control.MetricsRegistry

	shutdownMu sync.Mutex
	shutdown   bool
	done       chan struct{}
}

// New constructs a Reactor with a freshly created platform Poller.
func New(log *zap.Logger) (*Reactor, error) {
	if log == nil {
		log = zap.NewNop()
	}
	p, err := NewPoller()
	if err != nil {
		return nil, err
	}
	return &Reactor{
		log:     log,
		entries: make(map[int]entry),
		poller:  p,
		done:    make(chan struct{}),
	}, nil
}

// AddListener registers sock's fd with the poller under handler. Second
// registration of an already-registered fd is a no-op.
func (r *Reactor) AddListener(handler Handler, sock Socket) error {
	fd := sock.Fileno()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[fd]; exists {
		return nil
	}
	if err := r.poller.Register(fd); err != nil {
		return err
	}
	r.entries[fd] = entry{handler: handler, sock: sock}
	r.log.Info("reactor: listening", zap.Int("fd", fd))
	r.reportFDCount()
	return nil
}

// DelListener unregisters sock from the poller and the registration map.
// Returns api.ErrNotRegistered if sock's fd was never registered (or was
// already removed) rather than silently succeeding, so callers that raced a
// duplicate unregister can tell the difference from a real removal.
func (r *Reactor) DelListener(sock Socket) error {
	fd := sock.Fileno()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[fd]; !exists {
		return api.ErrNotRegistered
	}
	delete(r.entries, fd)
	_ = r.poller.Unregister(fd)
	r.log.Info("reactor: removed", zap.Int("fd", fd))
	r.reportFDCount()
	return nil
}

// reportFDCount updates the registered-fd-set gauge. Caller must hold mu.
func (r *Reactor) reportFDCount() {
	if r.Metrics != nil {
		r.Metrics.Set("reactor_registered_fds", len(r.entries))
	}
}

// Run polls at poll-interval granularity until Shutdown is called. For each
// ready fd it looks up the owning handler and invokes Dispatch with a
// per-call RequestContext; a fd that raced with DelListener between Poll
// returning and the lookup is silently skipped.
func (r *Reactor) Run(pollInterval time.Duration) error {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	r.shutdownMu.Lock()
	r.shutdown = false
	r.shutdownMu.Unlock()

	for {
		r.shutdownMu.Lock()
		stop := r.shutdown
		r.shutdownMu.Unlock()
		if stop {
			break
		}

		ready, err := r.poller.Poll(pollInterval)
		if err != nil {
			return api.Classify(api.ErrCodeFatal, err)
		}

		for _, fd := range ready {
			r.mu.Lock()
			e, ok := r.entries[fd]
			r.mu.Unlock()
			if !ok {
				_ = r.poller.Unregister(fd)
				r.log.Debug("reactor: ready fd has no registered handler", zap.Int("fd", fd), zap.Error(api.ErrNotRegistered))
				continue
			}
			ctx := newRequestContext(r, e.handler, e.sock)
			e.handler.Dispatch(ctx, e.sock)
			if CloseConnectionRequested(ctx) {
				_ = r.DelListener(e.sock)
				_ = e.sock.Close()
			}
		}
	}
	close(r.done)
	return nil
}

// Done returns a channel closed once Run's dispatch loop has exited.
func (r *Reactor) Done() <-chan struct{} { return r.done }

// Shutdown flips the shutdown flag; Run exits after at most one poll
// interval and then releases the poller. Asynchronous: does not wait for
// in-flight handlers (those run on their own worker goroutines).
func (r *Reactor) Shutdown() {
	r.shutdownMu.Lock()
	already := r.shutdown
	r.shutdown = true
	r.shutdownMu.Unlock()
	if already {
		return
	}
	go func() {
		<-r.done
		_ = r.poller.Release()
	}()
}
