// Package degradation tracks which external dependencies are currently
// unavailable so that pipeline stages can pick their fallback behavior
// without probing the dependency themselves.
package degradation

import (
	"log/slog"
	"sync"

	"github.com/sony/gobreaker"
)

// Dependency names tracked by the system. These match the breaker names.
const (
	DepLLM     = "llm"
	DepSupport = "support_api"
	DepSearch  = "search_index"
	DepBus     = "event_bus"
)

// Tracker holds per-dependency availability bits. All methods are safe for
// concurrent use.
type Tracker struct {
	mu       sync.RWMutex
	degraded map[string]bool
	onEdge   func(dep string, degraded bool, totalDegraded int)
}

// NewTracker starts with every dependency healthy.
func NewTracker() *Tracker {
	return &Tracker{degraded: make(map[string]bool)}
}

// OnEdge registers a callback invoked on every degradation state change,
// with the dependency, its new state, and how many dependencies are degraded
// after the change. Call before the tracker is shared across goroutines.
func (t *Tracker) OnEdge(fn func(dep string, degraded bool, totalDegraded int)) {
	t.onEdge = fn
}

// SetDegraded flips a dependency's bit, logging only on edges so repeated
// failures do not spam the log.
func (t *Tracker) SetDegraded(dep string, degraded bool) {
	t.mu.Lock()
	was := t.degraded[dep]
	t.degraded[dep] = degraded
	total := 0
	for _, d := range t.degraded {
		if d {
			total++
		}
	}
	t.mu.Unlock()

	if was == degraded {
		return
	}
	if degraded {
		slog.Warn("Dependency degraded, entering fallback mode", "dependency", dep)
	} else {
		slog.Info("Dependency recovered", "dependency", dep)
	}
	if t.onEdge != nil {
		t.onEdge(dep, degraded, total)
	}
}

// Degraded reports whether the dependency is currently unavailable.
func (t *Tracker) Degraded(dep string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.degraded[dep]
}

// Snapshot returns a copy of all degraded dependency names, for status
// endpoints.
func (t *Tracker) Snapshot() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []string
	for dep, d := range t.degraded {
		if d {
			out = append(out, dep)
		}
	}
	return out
}

// BreakerListener adapts the tracker to circuit-breaker state changes: an
// open breaker marks the dependency degraded, a closing one clears it.
func (t *Tracker) BreakerListener(name string, _, to gobreaker.State) {
	switch to {
	case gobreaker.StateOpen:
		t.SetDegraded(name, true)
	case gobreaker.StateClosed:
		t.SetDegraded(name, false)
	}
}
