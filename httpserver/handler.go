// File: httpserver/handler.go
// Package httpserver
// Author: momentics <momentics@gmail.com>
//
// HTTP/1.1 keep-alive request pipeline layered on the reactor. Handler
// implements reactor.Handler; one Handler instance is shared by all
// connections accepted on a given listener, but per-connection state (the
// bufio reader/writer, deadline, remote-host cache) lives entirely on the
// dispatching goroutine's stack (Design Note 6 — never on the Handler).

package httpserver

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/momentics/msocket/address"
	"github.com/momentics/msocket/api"
	"github.com/momentics/msocket/control"
	"github.com/momentics/msocket/reactor"
	"github.com/momentics/msocket/stream"
)

// bufioReaderPool and bufioWriterPool recycle the per-connection bufio
// objects across requests and connections. A sync.Pool fits this better
// than the byte-slice pool package: what's reused here is a stateful
// Reader/Writer with a Reset method, not a flat []byte.
var (
	bufioReaderPool = sync.Pool{New: func() any { return bufio.NewReader(nil) }}
	bufioWriterPool = sync.Pool{New: func() any { return bufio.NewWriter(nil) }}
)

func getBufioReader(r io.Reader) *bufio.Reader {
	br := bufioReaderPool.Get().(*bufio.Reader)
	br.Reset(r)
	return br
}

func putBufioReader(br *bufio.Reader) {
	br.Reset(nil)
	bufioReaderPool.Put(br)
}

func getBufioWriter(w io.Writer) *bufio.Writer {
	bw := bufioWriterPool.Get().(*bufio.Writer)
	bw.Reset(w)
	return bw
}

func putBufioWriter(bw *bufio.Writer) {
	bw.Reset(nil)
	bufioWriterPool.Put(bw)
}

// Request is the parsed request line plus headers handed to an Application.
type Request struct {
	Method     string
	Path       string
	Query      string
	Proto      string
	Header     textproto.MIMEHeader
	Body       io.Reader
	RemoteAddr string
	RemotePort string
	RemoteHost string

	// RawConn is the accepted connection's net.Conn, exposed so an
	// Application negotiating Connection: upgrade can hand the wire to a
	// protocol-specific handshake (e.g. RFC 6455) directly. An
	// Application that writes the upgrade response itself through
	// RawConn must set ResponseWriter's Connection header to "upgrade"
	// and must not also call Write/WriteHeader on the ResponseWriter —
	// the handler skips its own response framing entirely in that case.
	RawConn net.Conn
}

// ResponseWriter accumulates the status, headers and body an Application
// produces. WriteHeader must be called at most once, before any Write.
type ResponseWriter interface {
	Header() textproto.MIMEHeader
	WriteHeader(status string)
	Write([]byte) (int, error)
}

// Application is the WSGI-style callable this core drives but never
// implements: given a request it writes a response through w.
type Application func(ctx context.Context, r *Request, w ResponseWriter)

// Handler dispatches accepted HTTP sockets through the keep-alive state
// machine described for this pipeline.
type Handler struct {
	log     *zap.Logger
	metrics *control.MetricsRegistry
	app     Application

	// KeepaliveTimeout bounds how long an IDLE connection waits for the
	// next request before the socket is closed.
	KeepaliveTimeout time.Duration

	// PassHopByHop defaults to true: this handler is the terminal hop, so
	// Connection/Transfer-Encoding pass through rather than being
	// stripped (Design Note 5).
	PassHopByHop bool

	// ResolveRemoteHost governs reverse-DNS policy for REMOTE_HOST.
	ResolveRemoteHost RemoteHostPolicy

	// Upgrade receives sockets that negotiated Connection: upgrade.
	Upgrade UpgradeSink

	pool WorkerPool
}

// UpgradeSink is implemented by the websocket/upgrade manager.
type UpgradeSink interface {
	Attach(sock *stream.Socket)
}

// WorkerPool dispatches a unit of work, by default onto its own goroutine.
type WorkerPool func(func())

// NewHandler constructs a Handler with a pass-through default (hop-by-hop
// headers are not stripped) and a goroutine-per-connection pool.
func NewHandler(app Application, log *zap.Logger, metrics *control.MetricsRegistry) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		log:               log,
		metrics:           metrics,
		app:               app,
		KeepaliveTimeout:  15 * time.Second,
		PassHopByHop:      true,
		ResolveRemoteHost: RemoteHostPolicy{},
		pool:              func(f func()) { go f() },
	}
}

// WithWorkerPool overrides the dispatch strategy (Design Note 3).
func (h *Handler) WithWorkerPool(p WorkerPool) *Handler {
	h.pool = p
	return h
}

// Dispatch implements reactor.Handler. For a listening socket it accepts a
// new connection and hands it to the worker pool; for an already-accepted
// socket dispatched directly (not used by this handler — HTTP always hands
// off to a worker on accept) it is a no-op guard.
func (h *Handler) Dispatch(ctx context.Context, sock reactor.Socket) {
	ss, ok := sock.(*stream.Socket)
	if !ok || ss.Accepted() {
		return
	}
	accepted, _, err := ss.Accept()
	if err != nil {
		if isTransient(err) {
			return
		}
		h.log.Error("http: accept failed", zap.Error(api.Classify(api.ErrCodeUnknown, err)))
		return
	}
	connID := uuid.NewString()
	if h.metrics != nil {
		h.metrics.Inc("http_connections_total", 1)
	}
	h.pool(func() {
		h.serveConnection(accepted, connID)
	})
}

// serveConnection owns sock until it either decides to close it or hands it
// off to h.Upgrade, at which point the Manager becomes the sole owner of the
// fd and this goroutine must not touch it again. ctx carries the close-flag
// box (reactor.NewConnectionContext) that every return path below sets
// explicitly via reactor.RequestCloseConnection before returning — except
// the upgraded paths, which leave it unset so the deferred close is skipped.
func (h *Handler) serveConnection(sock *stream.Socket, connID string) {
	ctx := reactor.NewConnectionContext(sock)
	defer func() {
		if reactor.CloseConnectionRequested(ctx) {
			sock.Close()
		}
	}()

	log := h.log.With(zap.String("conn_id", connID), zap.String("remote", sock.RemoteAddr().String()))
	rh := &remoteHostCache{}
	state := stateFresh

	for {
		switch state {
		case stateFresh, stateInRequest:
			next, err := h.handleOneRequest(ctx, sock, rh, log)
			if err != nil {
				reactor.RequestCloseConnection(ctx)
				if isTransient(err) {
					log.Info("http: connection closed", zap.Error(err))
				} else {
					log.Error("http: request failed", zap.Error(err))
				}
				return
			}
			state = next
			if state == stateUpgraded {
				if h.Upgrade != nil {
					h.Upgrade.Attach(sock)
				}
				return
			}
			if state == stateClosed {
				reactor.RequestCloseConnection(ctx)
				return
			}
		case stateIdle:
			if err := sock.Conn().SetReadDeadline(time.Now().Add(h.KeepaliveTimeout)); err != nil {
				reactor.RequestCloseConnection(ctx)
				return
			}
			b := make([]byte, 1)
			n, err := sock.Conn().Read(b)
			_ = sock.Conn().SetReadDeadline(time.Time{})
			if err != nil || n == 0 {
				reactor.RequestCloseConnection(ctx)
				log.Info("http: keepalive idle timeout")
				return
			}
			state = stateInRequest
			if err := h.handleBufferedRequest(ctx, sock, b[0], rh, log, &state); err != nil {
				reactor.RequestCloseConnection(ctx)
				return
			}
			if state == stateUpgraded {
				if h.Upgrade != nil {
					h.Upgrade.Attach(sock)
				}
				return
			}
			if state == stateClosed {
				reactor.RequestCloseConnection(ctx)
				return
			}
		default:
			reactor.RequestCloseConnection(ctx)
			return
		}
	}
}

// handleOneRequest reads and serves exactly one HTTP transaction from a
// freshly accepted connection (no byte has been pre-read off the wire).
func (h *Handler) handleOneRequest(ctx context.Context, sock *stream.Socket, rh *remoteHostCache, log *zap.Logger) (connState, error) {
	br := getBufioReader(sock.Conn())
	defer putBufioReader(br)
	return h.serveOne(ctx, sock, br, rh, log)
}

// handleBufferedRequest serves a request where the first byte has already
// been consumed off the wire by the idle-poll read; it is pushed back into
// a bufio.Reader ahead of the rest of the socket.
func (h *Handler) handleBufferedRequest(ctx context.Context, sock *stream.Socket, first byte, rh *remoteHostCache, log *zap.Logger, state *connState) error {
	br := getBufioReader(io.MultiReader(strings.NewReader(string(first)), sock.Conn()))
	defer putBufioReader(br)
	next, err := h.serveOne(ctx, sock, br, rh, log)
	*state = next
	return err
}

func (h *Handler) serveOne(ctx context.Context, sock *stream.Socket, br *bufio.Reader, rh *remoteHostCache, log *zap.Logger) (connState, error) {
	if h.metrics != nil {
		h.metrics.Add("http_requests_in_flight", 1)
		defer h.metrics.Add("http_requests_in_flight", -1)
	}
	tp := textproto.NewReader(br)
	requestLine, err := tp.ReadLine()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return stateClosed, api.Classify(api.ErrCodePeerClosed, err)
		}
		return stateClosed, err
	}
	method, path, proto, err := parseRequestLine(requestLine)
	if err != nil {
		return stateClosed, api.Classify(api.ErrCodeProtocolViolation, fmt.Errorf("http: bad request line %q: %w", requestLine, err))
	}
	hdr, err := tp.ReadMIMEHeader()
	if err != nil && err != io.EOF {
		return stateClosed, api.Classify(api.ErrCodeProtocolViolation, fmt.Errorf("http: bad headers: %w", err))
	}

	reqPath, query, _ := strings.Cut(path, "?")

	remote := sock.RemoteAddr()
	req := &Request{
		Method:     method,
		Path:       reqPath,
		Query:      query,
		Proto:      proto,
		Header:     hdr,
		Body:       br,
		RemoteAddr: remote.Host,
		RemotePort: strconv.Itoa(int(remote.Port)),
		RemoteHost: rh.resolve(remote, h.ResolveRemoteHost),
		RawConn:    sock.Conn(),
	}

	bw := getBufioWriter(sock.Conn())
	defer putBufioWriter(bw)
	w := newResponseWriter(bw, proto)
	func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error("http: application panic", zap.Any("recover", r),
					zap.Error(api.Classify(api.ErrCodeApplication, fmt.Errorf("%v", r))))
				if !w.wroteHeader {
					w.status = "500 Internal Server Error"
				}
			}
		}()
		if h.app != nil {
			h.app(ctx, req, w)
		} else {
			w.WriteHeader("404 Not Found")
		}
	}()

	reqConn := connectionHeader(hdr)
	upgrade := isUpgradeResponse(w.header)

	// An upgrading Application writes its own handshake response directly
	// through Request.RawConn (see its doc comment); this handler's own
	// response framing is skipped entirely to avoid writing two HTTP
	// responses onto the same wire.
	if upgrade {
		return stateUpgraded, nil
	}

	if err := w.finish(); err != nil {
		if isTransient(err) {
			return stateClosed, err
		}
		return stateClosed, api.Classify(api.ErrCodeUnknown, err)
	}

	respConn := connectionHeader(w.header)
	keepAlive := false
	switch {
	case proto == "HTTP/1.1":
		keepAlive = reqConn != "close" && respConn != "close"
	case proto == "HTTP/1.0":
		keepAlive = reqConn == "keep-alive"
	}
	if !keepAlive {
		return stateClosed, nil
	}
	return stateIdle, nil
}

func connectionHeader(h textproto.MIMEHeader) string {
	return strings.ToLower(strings.TrimSpace(h.Get("Connection")))
}

func isUpgradeResponse(h textproto.MIMEHeader) bool {
	return strings.EqualFold(strings.TrimSpace(h.Get("Connection")), "upgrade")
}

func parseRequestLine(line string) (method, path, proto string, err error) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("expected 3 fields, got %d", len(parts))
	}
	return parts[0], parts[1], parts[2], nil
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

// RemoteHostPolicy controls when REMOTE_HOST reverse-DNS runs.
type RemoteHostPolicy struct {
	ResolveIPv6      bool
	ResolveLinkLocal bool
}

type remoteHostCache struct {
	resolved bool
	host     string
}

func (c *remoteHostCache) resolve(addr address.Address, policy RemoteHostPolicy) string {
	if c.resolved {
		return c.host
	}
	c.resolved = true
	c.host = c.doResolve(addr, policy)
	return c.host
}

// doResolve applies the reverse-DNS gating rules: only TCP peers are
// resolved at all (a Unix-domain remote has no port), IPv4 unconditionally,
// IPv6 only when enabled, and IPv6 link-local addresses only when that is
// separately enabled.
func (c *remoteHostCache) doResolve(addr address.Address, policy RemoteHostPolicy) string {
	switch addr.Kind {
	case address.KindInet4:
		// always eligible
	case address.KindInet6:
		if !policy.ResolveIPv6 {
			return addr.Host
		}
		if strings.Contains(addr.Host, "%") && !policy.ResolveLinkLocal {
			return addr.Host
		}
	default:
		return addr.String()
	}
	names, err := net.LookupAddr(addr.Host)
	if err != nil || len(names) == 0 {
		return addr.Host
	}
	return strings.TrimSuffix(names[0], ".")
}
