// File: api/control.go
// Package api
// Author: momentics <momentics@gmail.com>
//
// Runtime configuration and statistics contract, implemented by logserver's
// adapter over control.ConfigStore and control.MetricsRegistry, and consumed
// by anything that wants to expose introspection without importing control
// directly.

package api

// Control exposes configuration, live metrics and reload hooks.
type Control interface {
	// GetConfig returns a snapshot of all configuration settings.
	GetConfig() map[string]any

	// SetConfig atomically merges new configuration settings and
	// notifies registered reload listeners.
	SetConfig(cfg map[string]any) error

	// Stats returns a snapshot of aggregated runtime metrics.
	Stats() map[string]any

	// OnReload registers a callback invoked after every SetConfig.
	OnReload(fn func())
}

// GracefulShutdown is implemented by components owning resources that must
// be released in response to MultiServer.Shutdown.
type GracefulShutdown interface {
	Shutdown() error
}
