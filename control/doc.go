// Package control
// Author: momentics <momentics@gmail.com>
//
// Runtime configuration and metrics primitives shared across the reactor,
// httpserver and logserver packages:
//   - ConfigStore: snapshot reads, atomic updates, reload listeners
//   - MetricsRegistry: named gauges/counters mirrored into Prometheus
package control
