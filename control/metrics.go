// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Runtime metrics collector for system-level monitoring.
// Exposes counters in a thread-safe map with dynamic registration, backed by
// Prometheus collectors so the same values are scrapeable over /metrics.

package control

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsRegistry holds mutable and read-only metrics, mirrored into a
// Prometheus registry for scraping.
type MetricsRegistry struct {
	mu      sync.RWMutex
	metrics map[string]any
	updated time.Time

	reg      *prometheus.Registry
	gauges   map[string]prometheus.Gauge
	counters map[string]prometheus.Counter
}

// NewMetricsRegistry creates an empty registry backed by a fresh Prometheus
// registry (not the global DefaultRegisterer, so multiple MultiServer
// instances in one process don't collide on metric names).
func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{
		metrics:  make(map[string]any),
		reg:      prometheus.NewRegistry(),
		gauges:   make(map[string]prometheus.Gauge),
		counters: make(map[string]prometheus.Counter),
	}
}

// Registerer exposes the underlying Prometheus registry so an HTTP handler
// can serve it via promhttp.HandlerFor.
func (mr *MetricsRegistry) Registerer() *prometheus.Registry {
	return mr.reg
}

// Set sets or updates a gauge-valued metric key.
func (mr *MetricsRegistry) Set(key string, value any) {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	mr.metrics[key] = value
	mr.updated = time.Now()
	f, ok := asFloat(value)
	if !ok {
		return
	}
	g, exists := mr.gauges[key]
	if !exists {
		g = prometheus.NewGauge(prometheus.GaugeOpts{Name: sanitizeName(key)})
		mr.reg.MustRegister(g)
		mr.gauges[key] = g
	}
	g.Set(f)
}

// Add adjusts a gauge-valued metric by delta (positive or negative) — for
// values like in-flight request counts that rise and fall, unlike Inc's
// monotonic counters.
func (mr *MetricsRegistry) Add(key string, delta float64) {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	g, exists := mr.gauges[key]
	if !exists {
		g = prometheus.NewGauge(prometheus.GaugeOpts{Name: sanitizeName(key)})
		mr.reg.MustRegister(g)
		mr.gauges[key] = g
	}
	g.Add(delta)
	cur, _ := asFloat(mr.metrics[key])
	mr.metrics[key] = cur + delta
	mr.updated = time.Now()
}

// Inc increments a monotonic counter-valued metric by delta.
func (mr *MetricsRegistry) Inc(key string, delta float64) {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	c, exists := mr.counters[key]
	if !exists {
		c = prometheus.NewCounter(prometheus.CounterOpts{Name: sanitizeName(key)})
		mr.reg.MustRegister(c)
		mr.counters[key] = c
	}
	c.Add(delta)
	mr.updated = time.Now()
	if v, ok := mr.metrics[key].(float64); ok {
		mr.metrics[key] = v + delta
	} else {
		mr.metrics[key] = delta
	}
}

// GetSnapshot returns the latest metrics.
func (mr *MetricsRegistry) GetSnapshot() map[string]any {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	out := make(map[string]any, len(mr.metrics))
	for k, v := range mr.metrics {
		out[k] = v
	}
	return out
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func sanitizeName(key string) string {
	out := make([]byte, len(key))
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
			out[i] = c
		default:
			out[i] = '_'
		}
	}
	return "msocket_" + string(out)
}
