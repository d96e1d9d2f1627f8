// File: cmd/msocketd/echo.go
// Package main
// Author: momentics <momentics@gmail.com>
//
// A trivial built-in Application, registered so --app=echo works out of the
// box without an embedder linking in their own handler.

package main

import (
	"context"
	"fmt"

	"github.com/momentics/msocket/httpserver"
)

func init() {
	httpserver.Register("echo", echoApp)
}

func echoApp(ctx context.Context, r *httpserver.Request, w httpserver.ResponseWriter) {
	body := fmt.Sprintf("%s %s\n", r.Method, r.Path)
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(body)))
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader("200 OK")
	_, _ = w.Write([]byte(body))
}
