package resilience

import (
	"sort"
	"sync"
	"time"
)

// BreakerHealth represents the health status of one protected operation.
type BreakerHealth struct {
	// Name is the operation identifier.
	Name string `json:"name"`

	// State is the current circuit breaker state.
	State Status `json:"state"`

	// Failures is the consecutive failure count.
	Failures int `json:"failures"`

	// LastFailureAt is the timestamp of the last failed call.
	LastFailureAt *time.Time `json:"last_failure_at,omitempty"`
}

// IsHealthy returns true if the circuit is closed.
func (h *BreakerHealth) IsHealthy() bool {
	return h.State == StatusClosed
}

// IsDegraded returns true if the circuit is probing (half-open).
func (h *BreakerHealth) IsDegraded() bool {
	return h.State == StatusHalfOpen
}

// IsUnhealthy returns true if the circuit is open.
func (h *BreakerHealth) IsUnhealthy() bool {
	return h.State == StatusOpen
}

// Registry holds one breaker per operation name.
type Registry struct {
	defaults BreakerConfig

	mu        sync.RWMutex
	breakers  map[string]*Breaker
	observers []func(StateChange)
}

// NewRegistry creates a registry. Breakers created on demand use defaults
// with the operation name substituted.
func NewRegistry(defaults BreakerConfig) *Registry {
	return &Registry{
		defaults: defaults,
		breakers: make(map[string]*Breaker),
	}
}

// Breaker returns the breaker for name, creating it from the registry
// defaults on first use.
func (r *Registry) Breaker(name string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return b
	}

	cfg := r.defaults
	cfg.Name = name
	return r.Register(cfg)
}

// Register creates a breaker with an explicit configuration. If a breaker
// with the same name exists it is returned unchanged.
func (r *Registry) Register(cfg BreakerConfig) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[cfg.Name]; ok {
		return b
	}

	b := NewBreaker(cfg)
	for _, fn := range r.observers {
		b.Subscribe(fn)
	}
	r.breakers[cfg.Name] = b
	return b
}

// Lookup returns the breaker for name without creating it.
func (r *Registry) Lookup(name string) (*Breaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.breakers[name]
	return b, ok
}

// OnStateChange subscribes fn to every current and future breaker.
func (r *Registry) OnStateChange(fn func(StateChange)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.observers = append(r.observers, fn)
	for _, b := range r.breakers {
		b.Subscribe(fn)
	}
}

// Health returns the health of a single breaker, or nil if unknown.
func (r *Registry) Health(name string) *BreakerHealth {
	b, ok := r.Lookup(name)
	if !ok {
		return nil
	}
	return healthOf(b)
}

// Snapshot returns the health of every breaker sorted by name.
func (r *Registry) Snapshot() []*BreakerHealth {
	names := r.Names()
	out := make([]*BreakerHealth, 0, len(names))
	for _, name := range names {
		if b, ok := r.Lookup(name); ok {
			out = append(out, healthOf(b))
		}
	}
	return out
}

// Reset closes the named breaker. It reports false when no such breaker exists.
func (r *Registry) Reset(name string) bool {
	b, ok := r.Lookup(name)
	if !ok {
		return false
	}
	b.Reset()
	return true
}

// ResetAll closes every breaker.
func (r *Registry) ResetAll() {
	for _, name := range r.Names() {
		r.Reset(name)
	}
}

// Names returns the registered operation names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered breakers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.breakers)
}

func healthOf(b *Breaker) *BreakerHealth {
	h := &BreakerHealth{
		Name:     b.Name(),
		State:    b.Status(),
		Failures: b.Failures(),
	}
	if at, ok := b.LastFailure(); ok {
		h.LastFailureAt = &at
	}
	return h
}
