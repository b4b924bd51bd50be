// Package metrics keeps in-process counters for HTTP requests and for each
// pipeline stage (ocr, prompt, generate, detect, ...), plus storage usage of
// the generated image directory.
package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Counter tracks call counts, latency and errors with lock-free atomics.
type Counter struct {
	total        atomic.Int64
	errors       atomic.Int64
	latencyMs    atomic.Int64
	maxLatencyMs atomic.Int64
}

func NewCounter() *Counter {
	return &Counter{}
}

// Record records a completed call.
func (c *Counter) Record(latency time.Duration, isError bool) {
	ms := latency.Milliseconds()
	c.total.Add(1)
	c.latencyMs.Add(ms)
	if isError {
		c.errors.Add(1)
	}
	for {
		cur := c.maxLatencyMs.Load()
		if ms <= cur || c.maxLatencyMs.CompareAndSwap(cur, ms) {
			break
		}
	}
}

func (c *Counter) Snapshot() Snapshot {
	total := c.total.Load()
	errs := c.errors.Load()
	latencyMs := c.latencyMs.Load()

	var avgLatencyMs, errorRate float64
	if total > 0 {
		avgLatencyMs = float64(latencyMs) / float64(total)
		errorRate = float64(errs) / float64(total)
	}

	return Snapshot{
		Total:        total,
		Errors:       errs,
		AvgLatencyMs: avgLatencyMs,
		MaxLatencyMs: c.maxLatencyMs.Load(),
		ErrorRate:    errorRate,
	}
}

// Snapshot is a point-in-time copy of a Counter.
type Snapshot struct {
	Total        int64   `json:"total" yaml:"total"`
	Errors       int64   `json:"errors" yaml:"errors"`
	AvgLatencyMs float64 `json:"avgLatencyMs" yaml:"avg_latency_ms"`
	MaxLatencyMs int64   `json:"maxLatencyMs" yaml:"max_latency_ms"`
	ErrorRate    float64 `json:"errorRate" yaml:"error_rate"`
}

// Registry holds one Counter per named stage, created on first use.
type Registry struct {
	mu       sync.RWMutex
	counters map[string]*Counter
}

func NewRegistry() *Registry {
	return &Registry{counters: make(map[string]*Counter)}
}

func (r *Registry) Counter(name string) *Counter {
	r.mu.RLock()
	c, ok := r.counters[name]
	r.mu.RUnlock()
	if ok {
		return c
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok = r.counters[name]; !ok {
		c = NewCounter()
		r.counters[name] = c
	}
	return c
}

// Observe records a stage call that started at start. It is shaped for
// defer: defer reg.Observe("ocr", time.Now(), &err).
func (r *Registry) Observe(name string, start time.Time, errp *error) {
	failed := errp != nil && *errp != nil
	r.Counter(name).Record(time.Since(start), failed)
}

// Snapshot returns every counter keyed by name.
func (r *Registry) Snapshot() map[string]Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Snapshot, len(r.counters))
	for name, c := range r.counters {
		out[name] = c.Snapshot()
	}
	return out
}

// Names returns the registered counter names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.counters))
	for name := range r.counters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
