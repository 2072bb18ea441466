package resilience

import "sync"

// Registry owns the circuit breakers for all named dependencies. Breakers
// are created lazily on first use and live for the registry's lifetime.
// Each dependency name is keyed per provider globally, not per asset class:
// a provider that is failing is failing for every caller.
type Registry struct {
	cfg BreakerConfig

	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewRegistry creates an empty registry whose breakers share cfg.
func NewRegistry(cfg BreakerConfig) *Registry {
	return &Registry{
		cfg:      cfg,
		breakers: make(map[string]*Breaker),
	}
}

// Breaker returns the breaker for the dependency, creating it if needed.
func (r *Registry) Breaker(name string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	b = NewBreaker(name, r.cfg)
	r.breakers[name] = b
	return b
}

// Status snapshots every known breaker, keyed by dependency name.
func (r *Registry) Status() map[string]BreakerStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]BreakerStatus, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.Status()
	}
	return out
}

// ResetAll returns every breaker to the closed state.
func (r *Registry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, b := range r.breakers {
		b.Reset()
	}
}
