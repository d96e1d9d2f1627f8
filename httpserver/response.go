// File: httpserver/response.go
// Package httpserver
// Author: momentics <momentics@gmail.com>
//
// response streams the body through the connection's buffered writer as the
// application writes it, deciding encoding once: an explicit Content-Length
// header present before the first Write means identity encoding; its absence
// means chunked, with each Write flushed to the wire as its own chunk — needed for the
// generator-style round trip where the wire must show one chunk per
// application Write, not one buffered blob.

package httpserver

import (
	"bufio"
	"fmt"
	"net/textproto"
)

type response struct {
	status      string
	header      textproto.MIMEHeader
	proto       string
	bw          *bufio.Writer
	wroteHeader bool
	chunked     bool
	closeAfter  bool
	wrote       bool
	writeErr    error
}

func newResponseWriter(bw *bufio.Writer, proto string) *response {
	return &response{
		status: "200 OK",
		header: textproto.MIMEHeader{},
		proto:  proto,
		bw:     bw,
	}
}

func (r *response) Header() textproto.MIMEHeader { return r.header }

func (r *response) WriteHeader(status string) {
	if !r.wroteHeader {
		r.status = status
	}
}

func (r *response) Write(p []byte) (int, error) {
	if r.writeErr != nil {
		return 0, r.writeErr
	}
	r.wrote = true
	if !r.wroteHeader {
		r.chunked = r.header.Get("Content-Length") == ""
		if r.chunked {
			r.header.Set("Transfer-Encoding", "chunked")
		}
		if err := r.flushHeaders(); err != nil {
			r.writeErr = err
			return 0, err
		}
	}
	if r.chunked {
		if _, err := fmt.Fprintf(r.bw, "%x\r\n", len(p)); err != nil {
			r.writeErr = err
			return 0, err
		}
		if _, err := r.bw.Write(p); err != nil {
			r.writeErr = err
			return 0, err
		}
		if _, err := r.bw.Write(crlf); err != nil {
			r.writeErr = err
			return 0, err
		}
		if err := r.bw.Flush(); err != nil {
			r.writeErr = err
			return 0, err
		}
		return len(p), nil
	}
	n, err := r.bw.Write(p)
	r.writeErr = err
	return n, err
}

var crlf = []byte("\r\n")

// finish flushes any unsent headers (empty body → Content-Length: 0) and, in
// chunked mode, writes the terminating zero-length chunk.
func (r *response) finish() error {
	if r.writeErr != nil {
		return r.writeErr
	}
	if !r.wroteHeader {
		if r.header.Get("Content-Length") == "" {
			r.header.Set("Content-Length", "0")
		}
		if err := r.flushHeaders(); err != nil {
			return err
		}
	}
	if r.chunked {
		if _, err := r.bw.WriteString("0\r\n\r\n"); err != nil {
			return err
		}
	}
	return r.bw.Flush()
}

func (r *response) flushHeaders() error {
	r.wroteHeader = true
	if _, err := fmt.Fprintf(r.bw, "%s %s\r\n", r.proto, r.status); err != nil {
		return err
	}
	for k, vs := range r.header {
		for _, v := range vs {
			if _, err := fmt.Fprintf(r.bw, "%s: %s\r\n", k, v); err != nil {
				return err
			}
		}
	}
	_, err := r.bw.WriteString("\r\n")
	return err
}
