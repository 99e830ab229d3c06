package observability

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// MetricType identifies the kind of metric.
type MetricType string

const (
	MetricCounter MetricType = "counter"
	MetricGauge   MetricType = "gauge"
)

// MetricEntry is one exported metric value at a point in time.
type MetricEntry struct {
	Name      string            `json:"name"`
	Type      MetricType        `json:"type"`
	Help      string            `json:"help"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels,omitempty"`
	Timestamp time.Time         `json:"ts"`
}

// metricBase carries the identity shared by every metric kind. The value
// lives in an atomic.Uint64 holding float64 bits, so reads and updates are
// lock-free on the hot path.
type metricBase struct {
	name   string
	help   string
	labels map[string]string
	bits   atomic.Uint64
}

func (m *metricBase) load() float64 {
	return math.Float64frombits(m.bits.Load())
}

func (m *metricBase) addCAS(delta float64) {
	for {
		old := m.bits.Load()
		next := math.Float64bits(math.Float64frombits(old) + delta)
		if m.bits.CompareAndSwap(old, next) {
			return
		}
	}
}

func (m *metricBase) entry(kind MetricType) MetricEntry {
	return MetricEntry{
		Name:      m.name,
		Type:      kind,
		Help:      m.help,
		Value:     m.load(),
		Labels:    copyLabels(m.labels),
		Timestamp: time.Now(),
	}
}

// Counter only ever goes up.
type Counter struct {
	metricBase
}

// Inc increments the counter by 1.
func (c *Counter) Inc() { c.addCAS(1) }

// Add increments the counter by delta. Negative deltas are ignored.
func (c *Counter) Add(delta float64) {
	if delta < 0 {
		return
	}
	c.addCAS(delta)
}

// Value returns the current counter value.
func (c *Counter) Value() float64 { return c.load() }

// Entry returns a snapshot for export.
func (c *Counter) Entry() MetricEntry { return c.entry(MetricCounter) }

// Gauge can go up and down.
type Gauge struct {
	metricBase
}

// Set replaces the gauge value.
func (g *Gauge) Set(v float64) { g.bits.Store(math.Float64bits(v)) }

// Add moves the gauge by delta.
func (g *Gauge) Add(delta float64) { g.addCAS(delta) }

// Value returns the current gauge value.
func (g *Gauge) Value() float64 { return g.load() }

// Entry returns a snapshot for export.
func (g *Gauge) Entry() MetricEntry { return g.entry(MetricGauge) }

// Registry holds named metrics. Registering a name twice returns the
// already-registered metric, so packages can re-declare their counters
// without coordination.
type Registry struct {
	mu       sync.RWMutex
	counters map[string]*Counter
	gauges   map[string]*Gauge
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		counters: make(map[string]*Counter),
		gauges:   make(map[string]*Gauge),
	}
}

// NewCounter registers a counter, or returns the existing one by that name.
func (r *Registry) NewCounter(name, help string, labels map[string]string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.counters[name]; ok {
		return c
	}
	c := &Counter{metricBase{name: name, help: help, labels: copyLabels(labels)}}
	r.counters[name] = c
	return c
}

// NewGauge registers a gauge, or returns the existing one by that name.
func (r *Registry) NewGauge(name, help string, labels map[string]string) *Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.gauges[name]; ok {
		return g
	}
	g := &Gauge{metricBase{name: name, help: help, labels: copyLabels(labels)}}
	r.gauges[name] = g
	return g
}

// GetCounter returns a registered counter or nil.
func (r *Registry) GetCounter(name string) *Counter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.counters[name]
}

// GetGauge returns a registered gauge or nil.
func (r *Registry) GetGauge(name string) *Gauge {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.gauges[name]
}

// AllMetrics snapshots every metric, sorted by name.
func (r *Registry) AllMetrics() []MetricEntry {
	r.mu.RLock()
	out := make([]MetricEntry, 0, len(r.counters)+len(r.gauges))
	for _, c := range r.counters {
		out = append(out, c.Entry())
	}
	for _, g := range r.gauges {
		out = append(out, g.Entry())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func copyLabels(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
