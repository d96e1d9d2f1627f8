// File: httpserver/registry.go
// Package httpserver
// Author: momentics <momentics@gmail.com>
//
// Registry resolves a CLI-supplied app name to an Application. Go has no
// runtime import, so a small process-wide registration table is used
// instead: an embedder populates it with init() or main() before parsing
// its own CLI flags.

package httpserver

import (
	"fmt"
	"sync"
)

var (
	registryMu sync.RWMutex
	registry   = map[string]Application{}
)

// Register binds name to app so it can later be resolved by Lookup. Calling
// Register with a name already in use overwrites the previous binding —
// useful for tests that re-register a fake under the same name.
func Register(name string, app Application) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = app
}

// Lookup resolves a previously Registered Application by name.
func Lookup(name string) (Application, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	app, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("httpserver: no application registered under %q", name)
	}
	return app, nil
}
