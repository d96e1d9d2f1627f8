// File: stream/socket.go
// Package stream
// Author: momentics <momentics@gmail.com>
//
// Socket wraps a listening or accepted stream socket behind one type, so the
// reactor's dispatch path never has to distinguish the two (Design Note 2 of
// SPEC_FULL.md): an accepted Socket's Accept method returns itself.

package stream

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"
	"syscall"

	"github.com/momentics/msocket/address"
	"github.com/momentics/msocket/api"
)

// Socket is a StreamSocket or an AcceptedStreamSocket depending on the
// Accepted flag. Ownership is sole: Close is idempotent and releases the
// underlying OS fd exactly once.
type Socket struct {
	mu       sync.Mutex
	addr     address.Address
	remote   address.Address
	accepted bool

	reuseAddr bool
	backlog   int

	bound     bool
	activated bool
	closed    bool

	ln   net.Listener
	conn net.Conn
}

// NewListening constructs an unbound listening Socket for addr.
// reuseAddr controls SO_REUSEADDR for TCP and stale-file unlinking for
// filesystem Unix sockets (never applied to abstract sockets, which have no
// backing file).
func NewListening(addr address.Address, reuseAddr bool, backlog int) *Socket {
	if backlog <= 0 {
		backlog = 128
	}
	return &Socket{addr: addr, reuseAddr: reuseAddr, backlog: backlog}
}

// NewAccepted wraps an already-accepted net.Conn. accept() on it returns
// itself, substituting for a listener in the reactor's dispatch path.
func NewAccepted(local address.Address, remote address.Address, conn net.Conn) *Socket {
	s := &Socket{addr: local, remote: remote, accepted: true, conn: conn, bound: true, activated: true}
	return s
}

// Bind resolves and, for reuse-requested filesystem Unix sockets, unlinks any
// stale socket file at the path. Idempotent.
func (s *Socket) Bind() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bound {
		return nil
	}
	if err := s.addr.Validate(); err != nil {
		return fmt.Errorf("stream: bind %s: %w", s.addr, err)
	}
	if s.addr.Kind == address.KindUnix && s.reuseAddr {
		if err := unlinkStale(s.addr.Path); err != nil {
			return fmt.Errorf("stream: unlink stale socket %s: %w", s.addr.Path, err)
		}
	}
	s.bound = true
	return nil
}

// unlinkStale removes a leftover Unix socket file left behind by a process
// that exited without a clean close.
func unlinkStale(path string) error {
	if err := syscall.Unlink(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Activate performs the actual bind+listen syscalls (Go's net package does
// not expose them separately), setting SO_REUSEADDR for TCP when reuse was
// requested. The listen backlog is chosen by the net package; the backlog
// given to NewListening is not applied. Idempotent.
func (s *Socket) Activate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activated {
		return nil
	}
	if !s.bound {
		return fmt.Errorf("stream: Activate called before Bind")
	}
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			if !s.reuseAddr || s.addr.Kind == address.KindUnix || s.addr.Kind == address.KindUnixAbstract {
				return nil
			}
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}
	ln, err := lc.Listen(context.Background(), s.addr.Network(), s.addr.DialAddr())
	if err != nil {
		return fmt.Errorf("stream: listen %s: %w", s.addr, err)
	}
	s.ln = ln
	s.activated = true
	return nil
}

// Accept waits for and returns the next connection as a Socket. For an
// already-accepted Socket, Accept returns itself — the substitutability the
// reactor's single dispatch path relies on.
func (s *Socket) Accept() (*Socket, address.Address, error) {
	if s.accepted {
		return s, s.remote, nil
	}
	s.mu.Lock()
	ln := s.ln
	local := s.addr
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, address.Address{}, api.ErrClosed
	}
	if ln == nil {
		return nil, address.Address{}, fmt.Errorf("stream: Accept called before Activate")
	}
	conn, err := ln.Accept()
	if err != nil {
		return nil, address.Address{}, err
	}
	remote := remoteAddressOf(local, conn)
	return NewAccepted(local, remote, conn), remote, nil
}

func remoteAddressOf(local address.Address, conn net.Conn) address.Address {
	switch ra := conn.RemoteAddr().(type) {
	case *net.TCPAddr:
		if ra.IP.To4() != nil {
			return address.Address{Kind: address.KindInet4, Host: ra.IP.String(), Port: uint16(ra.Port)}
		}
		return address.Address{Kind: address.KindInet6, Host: ra.IP.String(), Port: uint16(ra.Port)}
	case *net.UnixAddr:
		// Accepted Unix-domain peers are anonymous; render as the listening
		// side's own address instead of an empty one.
		return local
	default:
		return local
	}
}

// Fileno returns the OS file descriptor backing this socket, or -1 if it
// cannot be obtained (e.g. not yet activated).
func (s *Socket) Fileno() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sc syscall.Conn
	switch {
	case s.conn != nil:
		sc, _ = s.conn.(syscall.Conn)
	case s.ln != nil:
		sc, _ = s.ln.(syscall.Conn)
	}
	if sc == nil {
		return -1
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return -1
	}
	var fd int
	raw.Control(func(f uintptr) { fd = int(f) })
	return fd
}

// Closed reports whether Close has been called.
func (s *Socket) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close releases the OS fd exactly once; safe to call multiple times.
func (s *Socket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.conn != nil {
		return s.conn.Close()
	}
	if s.ln != nil {
		return s.ln.Close()
	}
	return nil
}

// LocalAddr returns the address this socket is bound to (or was accepted
// on).
func (s *Socket) LocalAddr() address.Address { return s.addr }

// ListenAddr returns the OS-assigned net.Addr of an activated listener —
// useful when the configured address requested an ephemeral port (:0).
func (s *Socket) ListenAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// RemoteAddr returns the peer address for an accepted socket.
func (s *Socket) RemoteAddr() address.Address { return s.remote }

// Accepted reports whether this Socket wraps an accepted connection rather
// than a listener.
func (s *Socket) Accepted() bool { return s.accepted }

// Read/Write/Conn expose the stream I/O primitives for accepted sockets.
func (s *Socket) Read(b []byte) (int, error) {
	if s.Closed() {
		return 0, api.ErrClosed
	}
	if s.conn == nil {
		return 0, fmt.Errorf("stream: Read on non-accepted socket")
	}
	return s.conn.Read(b)
}

func (s *Socket) Write(b []byte) (int, error) {
	if s.Closed() {
		return 0, api.ErrClosed
	}
	if s.conn == nil {
		return 0, fmt.Errorf("stream: Write on non-accepted socket")
	}
	return s.conn.Write(b)
}

// Conn exposes the underlying net.Conn for callers that need SetDeadline,
// etc. (e.g. the HTTP handler's keepalive timeout).
func (s *Socket) Conn() net.Conn { return s.conn }

// String renders the socket for logging, applying the abstract-NUL-as-'@'
// display rule.
func (s *Socket) String() string {
	if s.accepted {
		return fmt.Sprintf("%s<-%s", s.addr, s.remote)
	}
	return s.addr.String()
}
