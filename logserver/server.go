// File: logserver/server.go
// Package logserver
// Author: momentics <momentics@gmail.com>
//
// Server implements the length-prefixed log-record receiver: a 4-byte
// big-endian length prefix followed by that many bytes of opaque payload,
// bit-compatible with Python's logging.handlers.SocketHandler wire format.

package logserver

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"

	"go.uber.org/zap"

	"github.com/momentics/msocket/address"
	"github.com/momentics/msocket/control"
	"github.com/momentics/msocket/pool"
	"github.com/momentics/msocket/reactor"
	"github.com/momentics/msocket/stream"
)

// maxPooledFrame is the largest payload size read into a pooled scratch
// buffer. Frames larger than this (uncommon for log records) fall back to a
// direct allocation rather than growing the pool's buffer size for an
// outlier.
const maxPooledFrame = 64 * 1024

// Server is a reactor.Handler: readiness on its listening socket accepts and
// re-registers the new connection under itself; readiness on an accepted
// socket reads exactly one frame and enqueues it to the shared LogWriter.
type Server struct {
	addr      address.Address
	reuseAddr bool
	backlog   int
	logName   string
	writer    *LogWriter
	log       *zap.Logger

	listener *stream.Socket
	bufPool  pool.BytePool

	// Metrics, when set, counts frames received. Optional.
	Metrics *control.MetricsRegistry
}

// NewServer constructs an unbound log server for addr. logName is attached
// to every Record this server produces (multiple Server instances, each
// bound to its own address, can share one LogWriter and be told apart by
// logName).
func NewServer(addr address.Address, logName string, writer *LogWriter, reuseAddr bool, backlog int, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		addr: addr, logName: logName, writer: writer, reuseAddr: reuseAddr, backlog: backlog, log: log,
		bufPool: pool.NewSimpleBytePool(32, maxPooledFrame),
	}
}

// Start binds, activates and registers the listening socket with r.
func (s *Server) Start(r *reactor.Reactor) error {
	s.listener = stream.NewListening(s.addr, s.reuseAddr, s.backlog)
	if err := s.listener.Bind(); err != nil {
		return fmt.Errorf("logserver: bind %s: %w", s.addr, err)
	}
	if err := s.listener.Activate(); err != nil {
		return fmt.Errorf("logserver: activate %s: %w", s.addr, err)
	}
	if err := r.AddListener(s, s.listener); err != nil {
		return fmt.Errorf("logserver: register %s: %w", s.addr, err)
	}
	s.log.Info("logserver: listening", zap.Stringer("addr", s.addr))
	return nil
}

// BoundAddr returns the OS-assigned listen address as a string, useful when
// the configured address used an ephemeral port (:0).
func (s *Server) BoundAddr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.ListenAddr().String()
}

// Close unregisters and closes the listening socket.
func (s *Server) Close(r *reactor.Reactor) error {
	if s.listener == nil {
		return nil
	}
	_ = r.DelListener(s.listener)
	return s.listener.Close()
}

// Dispatch implements reactor.Handler: listener readiness accepts and
// re-registers without reading; accepted-socket readiness reads exactly
// one frame.
func (s *Server) Dispatch(ctx context.Context, sock reactor.Socket) {
	ss, ok := sock.(*stream.Socket)
	if !ok {
		return
	}
	if !ss.Accepted() {
		accepted, _, err := ss.Accept()
		if err != nil {
			if isTransientAccept(err) {
				return
			}
			s.log.Error("logserver: accept failed", zap.Error(err))
			return
		}
		if err := reactorOf(ctx).AddListener(s, accepted); err != nil {
			s.log.Error("logserver: register accepted fd failed", zap.Error(err))
			_ = accepted.Close()
		}
		return
	}

	if err := s.readOneFrame(ss); err != nil {
		if errors.Is(err, io.EOF) {
			s.log.Info("logserver: peer closed", zap.Stringer("remote", ss.RemoteAddr()))
		} else {
			s.log.Warn("logserver: frame read failed", zap.Error(err))
		}
		_ = reactorOf(ctx).DelListener(ss)
		_ = ss.Close()
	}
}

func reactorOf(ctx context.Context) *reactor.Reactor {
	r, _ := reactor.CurrentReactor(ctx)
	return r
}

// readOneFrame reads the 4-byte length prefix (accumulating across partial
// reads) and then exactly that many payload bytes, enqueuing the result.
// Returning io.EOF means the peer closed before a complete length prefix
// arrived (after zero to three bytes), treated as a clean close between
// frames — the caller unregisters without logging a warning.
func (s *Server) readOneFrame(ss *stream.Socket) error {
	var lenBuf [4]byte
	if err := readExact(ss, lenBuf[:]); err != nil {
		return err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if s.Metrics != nil {
		s.Metrics.Inc("log_frames_received_total", 1)
	}
	if length == 0 {
		s.writer.Enqueue(Record{LogName: s.logName})
		return nil
	}

	// Small/medium frames borrow a scratch buffer from the pool and copy
	// out only the bytes actually needed; oversized frames allocate
	// directly rather than growing the pool's buffer size for an outlier.
	if length <= maxPooledFrame {
		scratch := s.bufPool.Get()
		defer s.bufPool.Put(scratch)
		if err := readExactFull(ss, scratch[:length]); err != nil {
			return fmt.Errorf("logserver: short payload: %w", err)
		}
		payload := make([]byte, length)
		copy(payload, scratch[:length])
		s.writer.Enqueue(Record{Payload: payload, LogName: s.logName})
		return nil
	}

	payload := make([]byte, length)
	if err := readExactFull(ss, payload); err != nil {
		return fmt.Errorf("logserver: short payload: %w", err)
	}
	s.writer.Enqueue(Record{Payload: payload, LogName: s.logName})
	return nil
}

// readExact reads len(buf) bytes, looping on partial reads. Any EOF before
// all 4 length-prefix bytes arrive — even after 1-3 bytes — counts as the
// peer closing cleanly between frames, not a protocol violation.
func readExact(r io.Reader, buf []byte) error {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return io.EOF
		}
	}
	return nil
}

func readExactFull(r io.Reader, buf []byte) error {
	_, err := io.ReadFull(r, buf)
	if err == io.EOF {
		// No payload byte arrived after a complete length prefix: a short
		// frame, not a clean close between frames.
		return io.ErrUnexpectedEOF
	}
	return err
}

func isTransientAccept(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
