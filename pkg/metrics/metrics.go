// Package metrics is a small process-level counter registry. The chain
// runner snapshots it into the run manifest; the provider retry loop
// feeds it.
package metrics

import "sync"

type Registry struct {
	mu       sync.Mutex
	counters map[string]int64
}

func NewRegistry() *Registry {
	return &Registry{counters: map[string]int64{}}
}

// Inc adds delta to a counter, creating it at zero first.
func (r *Registry) Inc(name string, delta int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[name] += delta
}

// Set overwrites a counter.
func (r *Registry) Set(name string, value int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[name] = value
}

// Get returns the current value, zero if never touched.
func (r *Registry) Get(name string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters[name]
}

// Snapshot copies all counters.
func (r *Registry) Snapshot() map[string]int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int64, len(r.counters))
	for name, value := range r.counters {
		out[name] = value
	}
	return out
}

// Reset clears all counters.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters = map[string]int64{}
}

// Default is the process-wide registry.
var Default = NewRegistry()

func Inc(name string, delta int64) { Default.Inc(name, delta) }
func Set(name string, value int64) { Default.Set(name, value) }
func Get(name string) int64        { return Default.Get(name) }
func Snapshot() map[string]int64   { return Default.Snapshot() }
func Reset()                       { Default.Reset() }
