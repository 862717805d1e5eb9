// Package statcounter provides named, registry-tracked counters for the
// core, mirroring the original StatCounter (dotted-name, process-wide
// registry, highwater tracking) while exposing values through
// Prometheus so external tooling can scrape them.
package statcounter

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registryMu sync.Mutex
	registry   = map[string]*Counter{}
)

// Counter is a monotonic uint64 counter, registered globally by name
// and mirrored into a Prometheus counter vec for scraping.
type Counter struct {
	name  string
	count atomic.Uint64
	pc    prometheus.Counter
}

var promVec = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ipmc",
	Name:      "stat_counter_total",
	Help:      "Named monotonic event counters across the IPMC core.",
}, []string{"name"})

func init() {
	prometheus.MustRegister(promVec)
}

// New instantiates and registers a new named counter. Names should be
// reverse-dotted, e.g. "ipmb.a.messages_received".
func New(name string) *Counter {
	c := &Counter{name: name, pc: promVec.WithLabelValues(name)}
	registryMu.Lock()
	registry[name] = c
	registryMu.Unlock()
	return c
}

// Increment adds delta (default 1 via Incr) to the counter, ISR-safe by
// virtue of being a single atomic add.
func (c *Counter) Increment(delta uint64) uint64 {
	c.pc.Add(float64(delta))
	return c.count.Add(delta)
}

// Incr adds one.
func (c *Counter) Incr() uint64 { return c.Increment(1) }

// Get returns the current value.
func (c *Counter) Get() uint64 { return c.count.Load() }

// HighWater tracks the maximum value a gauge-like quantity has reached,
// e.g. a queue fill level, matching stat_recvq_highwater /
// stat_sendq_highwater in ipmbsvc.h.
type HighWater struct {
	name string
	max  atomic.Uint64
	pg   prometheus.Gauge
}

var promHighWater = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "ipmc",
	Name:      "stat_highwater",
	Help:      "High-water marks for bounded queues across the IPMC core.",
}, []string{"name"})

func init() {
	prometheus.MustRegister(promHighWater)
}

// NewHighWater instantiates a new named high-water tracker.
func NewHighWater(name string) *HighWater {
	return &HighWater{name: name, pg: promHighWater.WithLabelValues(name)}
}

// Observe records a new sample, updating the max if exceeded.
func (h *HighWater) Observe(v uint64) {
	for {
		cur := h.max.Load()
		if v <= cur {
			return
		}
		if h.max.CompareAndSwap(cur, v) {
			h.pg.Set(float64(v))
			return
		}
	}
}

// Get returns the current high-water mark.
func (h *HighWater) Get() uint64 { return h.max.Load() }

// Registry returns a snapshot of all registered counters, keyed by
// name, for console diagnostic dumps.
func Registry() map[string]uint64 {
	registryMu.Lock()
	defer registryMu.Unlock()
	out := make(map[string]uint64, len(registry))
	for name, c := range registry {
		out[name] = c.Get()
	}
	return out
}
