// File: logserver/config.go
// Package logserver
// Author: momentics <momentics@gmail.com>
//
// ConfigServer receives a single length-prefixed payload, applies it to a
// ConfigStore as JSON first and classical INI as a fallback, then closes
// the connection. Applying remote configuration is a security-relevant
// action: refused unless the server was explicitly constructed with
// allowRemoteApply true.

package logserver

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
	"gopkg.in/ini.v1"

	"github.com/momentics/msocket/address"
	"github.com/momentics/msocket/api"
	"github.com/momentics/msocket/control"
	"github.com/momentics/msocket/reactor"
	"github.com/momentics/msocket/stream"
)

// ConfigServer is a reactor.Handler accepting single-shot config-apply
// connections.
type ConfigServer struct {
	addr             address.Address
	reuseAddr        bool
	backlog          int
	store            *control.ConfigStore
	allowRemoteApply bool
	log              *zap.Logger

	listener *stream.Socket
}

// NewConfigServer constructs an unbound config server. allowRemoteApply
// must be set true explicitly; a false value causes every connection to be
// logged at WARN and closed without applying anything.
func NewConfigServer(addr address.Address, store *control.ConfigStore, allowRemoteApply bool, reuseAddr bool, backlog int, log *zap.Logger) *ConfigServer {
	if log == nil {
		log = zap.NewNop()
	}
	return &ConfigServer{addr: addr, store: store, allowRemoteApply: allowRemoteApply, reuseAddr: reuseAddr, backlog: backlog, log: log}
}

// Start binds, activates and registers the listening socket with r.
func (s *ConfigServer) Start(r *reactor.Reactor) error {
	s.listener = stream.NewListening(s.addr, s.reuseAddr, s.backlog)
	if err := s.listener.Bind(); err != nil {
		return fmt.Errorf("logserver: config bind %s: %w", s.addr, err)
	}
	if err := s.listener.Activate(); err != nil {
		return fmt.Errorf("logserver: config activate %s: %w", s.addr, err)
	}
	if err := r.AddListener(s, s.listener); err != nil {
		return fmt.Errorf("logserver: config register %s: %w", s.addr, err)
	}
	s.log.Info("logserver: config listening", zap.Stringer("addr", s.addr))
	return nil
}

// Close unregisters and closes the listening socket.
func (s *ConfigServer) Close(r *reactor.Reactor) error {
	if s.listener == nil {
		return nil
	}
	_ = r.DelListener(s.listener)
	return s.listener.Close()
}

// Dispatch accepts a connection (if on the listener) or services a
// previously accepted one — a config connection is single-shot, so it is
// always closed after Dispatch returns rather than re-registered.
func (s *ConfigServer) Dispatch(ctx context.Context, sock reactor.Socket) {
	ss, ok := sock.(*stream.Socket)
	if !ok {
		return
	}
	if !ss.Accepted() {
		accepted, _, err := ss.Accept()
		if err != nil {
			s.log.Error("logserver: config accept failed", zap.Error(err))
			return
		}
		if err := reactorOf(ctx).AddListener(s, accepted); err != nil {
			s.log.Error("logserver: config register accepted fd failed", zap.Error(err))
			_ = accepted.Close()
		}
		return
	}

	defer func() {
		_ = reactorOf(ctx).DelListener(ss)
		_ = ss.Close()
	}()

	if !s.allowRemoteApply {
		s.log.Warn("logserver: refusing remote config apply, AllowRemoteConfig is false",
			zap.Stringer("remote", ss.RemoteAddr()), zap.Error(api.ErrRemoteConfigDeny))
		return
	}

	var lenBuf [4]byte
	if err := readExact(ss, lenBuf[:]); err != nil {
		return
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	payload := make([]byte, length)
	if length > 0 {
		if err := readExactFull(ss, payload); err != nil {
			s.log.Warn("logserver: short config payload", zap.Error(err))
			return
		}
	}

	cfg, err := parseJSONConfig(payload)
	if err != nil {
		cfg, err = parseINIConfig(payload)
		if err != nil {
			s.log.Warn("logserver: config payload is neither valid JSON nor INI",
				zap.Error(api.Classify(api.ErrCodeConfiguration, err)))
			return
		}
	}
	s.store.SetConfig(cfg)
	s.log.Info("logserver: config applied", zap.Int("keys", len(cfg)))
}

func parseJSONConfig(payload []byte) (map[string]any, error) {
	var cfg map[string]any
	if err := json.Unmarshal(payload, &cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseINIConfig(payload []byte) (map[string]any, error) {
	f, err := ini.Load(payload)
	if err != nil {
		return nil, err
	}
	cfg := make(map[string]any)
	for _, section := range f.Sections() {
		for _, key := range section.Keys() {
			name := key.Name()
			if section.Name() != ini.DefaultSection {
				name = section.Name() + "." + name
			}
			cfg[name] = key.Value()
		}
	}
	return cfg, nil
}

var _ api.Control = (*configStoreAdapter)(nil)

// configStoreAdapter lets control.ConfigStore satisfy api.Control without
// that package importing api (keeping control dependency-free of the
// interface it backs).
type configStoreAdapter struct {
	*control.ConfigStore
	metrics *control.MetricsRegistry
}

func (a *configStoreAdapter) GetConfig() map[string]any { return a.GetSnapshot() }

func (a *configStoreAdapter) SetConfig(cfg map[string]any) error {
	a.ConfigStore.SetConfig(cfg)
	return nil
}

func (a *configStoreAdapter) Stats() map[string]any {
	if a.metrics == nil {
		return map[string]any{}
	}
	return a.metrics.GetSnapshot()
}
