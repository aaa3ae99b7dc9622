// Package breaker wraps calls to external dependencies in circuit breakers.
// Each dependency gets its own breaker with a tuned failure threshold and
// cooldown; an open breaker fails fast and the caller degrades.
package breaker

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// Breaker names for the system's external dependencies.
const (
	NameLLM      = "llm"
	NameSupport  = "support_api"
	NameSearch   = "search_index"
	NameBus      = "event_bus"
	NamePlatform = "platform_api"
)

// ErrOpen is returned when a call is rejected because the breaker is open.
var ErrOpen = errors.New("circuit breaker open")

// Settings tunes one breaker: trip after Threshold consecutive failures,
// probe again after Cooldown.
type Settings struct {
	Threshold uint32
	Cooldown  time.Duration
}

// defaults per dependency; support tickets trip fastest since vendor APIs
// rate-limit aggressively.
var presets = map[string]Settings{
	NameLLM:      {Threshold: 5, Cooldown: 60 * time.Second},
	NameSupport:  {Threshold: 3, Cooldown: 30 * time.Second},
	NameSearch:   {Threshold: 5, Cooldown: 45 * time.Second},
	NameBus:      {Threshold: 5, Cooldown: 30 * time.Second},
	NamePlatform: {Threshold: 3, Cooldown: 30 * time.Second},
}

// StateListener is notified when a breaker changes state. The degradation
// tracker uses this to flip per-dependency availability bits.
type StateListener func(name string, from, to gobreaker.State)

// Registry holds one breaker per named dependency.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	listener StateListener
}

// NewRegistry creates a registry. The listener may be nil.
func NewRegistry(listener StateListener) *Registry {
	return &Registry{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		listener: listener,
	}
}

func (r *Registry) get(name string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	preset, ok := presets[name]
	if !ok {
		preset = Settings{Threshold: 5, Cooldown: 30 * time.Second}
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: preset.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= preset.Threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Circuit breaker state change",
				"breaker", name, "from", from.String(), "to", to.String())
			if r.listener != nil {
				r.listener(name, from, to)
			}
		},
	})
	r.breakers[name] = cb
	return cb
}

// Execute runs fn through the named breaker. When the breaker is open the
// call is rejected immediately with ErrOpen.
func (r *Registry) Execute(name string, fn func() error) error {
	_, err := r.get(name).Execute(func() (any, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrOpen
	}
	return err
}

// State reports the named breaker's current state.
func (r *Registry) State(name string) gobreaker.State {
	return r.get(name).State()
}

// States reports every instantiated breaker's state, labeled.
func (r *Registry) States() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.breakers))
	for name, cb := range r.breakers {
		out[name] = StateLabel(cb.State())
	}
	return out
}

// StateLabel translates a gobreaker state to the closed|open|half_open enum.
func StateLabel(s gobreaker.State) string {
	switch s {
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}
