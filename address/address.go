// File: address/address.go
// Package address
// Author: momentics <momentics@gmail.com>
//
// Address is a tagged sum of endpoint kinds: Inet4, Inet6, Unix and
// abstract-namespace Unix addresses, plus a recognized-but-unsupported
// named-pipe kind for Windows-style paths.

package address

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/momentics/msocket/api"
)

// Kind classifies an Address. The classifier in Classify is total: every
// input string maps to exactly one Kind.
type Kind int

const (
	// KindInet4 is a dotted/hostname IPv4 endpoint.
	KindInet4 Kind = iota
	// KindInet6 is an IPv6 endpoint (host contains ':').
	KindInet6
	// KindUnix is a filesystem Unix-domain stream socket.
	KindUnix
	// KindUnixAbstract is a Linux abstract-namespace Unix socket (path's
	// first byte is NUL).
	KindUnixAbstract
	// KindNamedPipe is recognized (path begins with `\\`) but never bound;
	// named pipes are out of scope for this reactor (no IOCP backend).
	KindNamedPipe
)

func (k Kind) String() string {
	switch k {
	case KindInet4:
		return "inet4"
	case KindInet6:
		return "inet6"
	case KindUnix:
		return "unix"
	case KindUnixAbstract:
		return "unix-abstract"
	case KindNamedPipe:
		return "named-pipe"
	default:
		return "unknown"
	}
}

// Address is the tagged union of endpoint kinds this core understands.
type Address struct {
	Kind Kind
	Host string // Inet4 / Inet6
	Port uint16 // Inet4 / Inet6
	Path string // Unix / UnixAbstract / NamedPipe — raw path, NUL intact
}

// Network returns the net.Dial/net.Listen network name for this address.
func (a Address) Network() string {
	switch a.Kind {
	case KindInet4:
		return "tcp4"
	case KindInet6:
		return "tcp6"
	case KindUnix, KindUnixAbstract:
		return "unix"
	default:
		return ""
	}
}

// String renders the address for logs. An abstract-namespace path's leading
// NUL is displayed as '@'; this is a display-only transform and is not
// reversible.
func (a Address) String() string {
	switch a.Kind {
	case KindInet4, KindInet6:
		return fmt.Sprintf("%s:%d", a.Host, a.Port)
	case KindUnix:
		return a.Path
	case KindUnixAbstract:
		return "@" + strings.TrimPrefix(a.Path, "\x00")
	case KindNamedPipe:
		return a.Path
	default:
		return "<invalid address>"
	}
}

// Validate reports api.ErrUnsupportedKind for a recognized-but-unbindable
// Kind (currently only KindNamedPipe, which has no IOCP backend in this
// reactor). Callers that bind or activate a socket should check this before
// touching the network package, which would otherwise fail with an
// unrelated-looking error.
func (a Address) Validate() error {
	if a.Kind == KindNamedPipe {
		return fmt.Errorf("address: %s: %w", a, api.ErrUnsupportedKind)
	}
	return nil
}

// DialAddr returns the string suitable for net.Dial/net.Listen's address
// argument for this address's Network().
func (a Address) DialAddr() string {
	switch a.Kind {
	case KindInet4, KindInet6:
		return fmt.Sprintf("%s:%d", a.Host, a.Port)
	default:
		return a.Path
	}
}

// Classify is the address-kind classifier:
//   - a path beginning with NUL is an abstract Unix socket
//   - a path beginning with `\\` is a (recognized, unsupported) named pipe
//   - a bare filesystem path is a Unix stream socket
//   - a (host, port) pair is Inet4 unless host contains ':', then Inet6
//
// path is used when it is non-empty; otherwise host/port classify as a TCP
// endpoint.
func Classify(host string, port uint16, path string) Address {
	if path != "" {
		switch {
		case strings.HasPrefix(path, "\x00"):
			return Address{Kind: KindUnixAbstract, Path: path}
		case strings.HasPrefix(path, `\\`):
			return Address{Kind: KindNamedPipe, Path: path}
		default:
			return Address{Kind: KindUnix, Path: path}
		}
	}
	if strings.Contains(host, ":") {
		return Address{Kind: KindInet6, Host: host, Port: port}
	}
	return Address{Kind: KindInet4, Host: host, Port: port}
}

// Parse accepts the following construction forms:
//   - "host:port" or "[host]:port" → Inet4/Inet6
//   - a path starting with '/' or containing no ':' → Unix (a "host:port"
//     form whose port is not a number is an error)
//   - a path whose first byte is NUL → abstract Unix
//   - "@name" → abstract Unix (printable CLI shorthand for a NUL-prefixed
//     path; NUL itself can't be typed on a command line)
//   - a path beginning with `\\` → named pipe (recognized only)
func Parse(spec string) (Address, error) {
	if spec == "" {
		return Address{}, fmt.Errorf("address: empty address: %w", api.ErrInvalidAddress)
	}
	if strings.HasPrefix(spec, "@") {
		return Classify("", 0, "\x00"+spec[1:]), nil
	}
	if strings.HasPrefix(spec, "\x00") || strings.HasPrefix(spec, `\\`) || strings.HasPrefix(spec, "/") {
		return Classify("", 0, spec), nil
	}

	host, portStr, err := splitHostPort(spec)
	if err != nil {
		// Not a host:port form — treat as a relative filesystem path.
		return Classify("", 0, spec), nil
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Address{}, fmt.Errorf("address: invalid port in %q: %v: %w", spec, err, api.ErrInvalidAddress)
	}
	return Classify(host, uint16(port), ""), nil
}

// splitHostPort is a small, address-family-aware split that tolerates
// bracketed IPv6 literals ("[::1]:8080") the way net.SplitHostPort does,
// but without requiring a well-formed numeric port up front.
func splitHostPort(spec string) (host, port string, err error) {
	if strings.HasPrefix(spec, "[") {
		end := strings.Index(spec, "]")
		if end < 0 {
			return "", "", fmt.Errorf("address: missing ']' in %q", spec)
		}
		host = spec[1:end]
		rest := spec[end+1:]
		if !strings.HasPrefix(rest, ":") {
			return "", "", fmt.Errorf("address: missing port in %q", spec)
		}
		return host, rest[1:], nil
	}
	idx := strings.LastIndex(spec, ":")
	if idx < 0 {
		return "", "", fmt.Errorf("address: no port separator in %q", spec)
	}
	return spec[:idx], spec[idx+1:], nil
}
