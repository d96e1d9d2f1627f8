// File: cmd/msocketd/main.go
// Package main
// Author: momentics <momentics@gmail.com>
//
// msocketd is the illustrative CLI entrypoint: it binds one HTTP listener
// at --address and dispatches it to an Application resolved from
// httpserver's process-wide registry. Real embedders register their own
// Application via httpserver.Register in an init() before this CLI is
// reached; Go has no runtime import, so there is no dynamic module
// loading here, only the registry lookup.

package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/msocket/address"
	"github.com/momentics/msocket/httpserver"
	"github.com/momentics/msocket/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "msocketd:", err)
		os.Exit(1)
	}
}

func run() error {
	addrFlag := flag.String("address", "127.0.0.1:8080", "HOST[:PORT], a filesystem path, or @name for an abstract Unix socket")
	appFlag := flag.String("app", "", "name the Application was registered under via httpserver.Register")
	keepalive := flag.Duration("keepalive-timeout", 15*time.Second, "HTTP keep-alive idle timeout")
	flag.Parse()

	if *appFlag == "" {
		return fmt.Errorf("--app is required (see httpserver.Register)")
	}
	app, err := httpserver.Lookup(*appFlag)
	if err != nil {
		return err
	}

	addr, err := address.Parse(*addrFlag)
	if err != nil {
		return fmt.Errorf("invalid --address %q: %w", *addrFlag, err)
	}

	log, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer log.Sync()

	ms, err := server.New(server.WithLogger(log))
	if err != nil {
		return err
	}

	handler := httpserver.NewHandler(app, log, ms.Metrics)
	handler.KeepaliveTimeout = *keepalive
	httpSrv := httpserver.NewServer(addr, handler, true, 128, log)
	if err := ms.Register(httpSrv); err != nil {
		return fmt.Errorf("registering http server: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("msocketd: shutdown signal received")
		if err := ms.Shutdown(); err != nil {
			log.Error("msocketd: shutdown error", zap.Error(err))
		}
	}()

	log.Info("msocketd: serving", zap.Stringer("addr", addr))
	return ms.Run()
}
