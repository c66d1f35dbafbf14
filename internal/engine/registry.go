package engine

import (
	"fmt"
	"sync"
)

// Registry maps runtime ids to adapters. It is read-only after startup
// except for model-tier overrides.
type Registry struct {
	mu       sync.RWMutex
	runtimes map[string]Runtime
	primary  string
	tiers    map[string]map[string]string // runtime id -> tier -> model
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		runtimes: make(map[string]Runtime),
		tiers:    make(map[string]map[string]string),
	}
}

// Register adds a runtime, optionally wrapped by the shared limiter.
func (r *Registry) Register(rt Runtime, limiter *Limiter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runtimes[rt.ID()] = Limited(rt, limiter)
}

// SetPrimary selects the default runtime id.
func (r *Registry) SetPrimary(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.runtimes[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRuntime, id)
	}
	r.primary = id
	return nil
}

// Get returns the runtime for id, or the primary when id is empty.
func (r *Registry) Get(id string) (Runtime, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id == "" {
		id = r.primary
	}
	rt, ok := r.runtimes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRuntime, id)
	}
	return rt, nil
}

// Primary returns the default runtime.
func (r *Registry) Primary() (Runtime, error) {
	return r.Get("")
}

// OverrideTier maps a tier alias to a concrete model for one runtime.
func (r *Registry) OverrideTier(runtimeID, tier, model string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tiers[runtimeID] == nil {
		r.tiers[runtimeID] = make(map[string]string)
	}
	r.tiers[runtimeID][tier] = model
}

// ResolveModel resolves a tier alias for runtimeID, consulting overrides
// before the adapter's own mapping.
func (r *Registry) ResolveModel(runtimeID, model string) string {
	r.mu.RLock()
	if m, ok := r.tiers[runtimeID][model]; ok {
		r.mu.RUnlock()
		return m
	}
	rt, ok := r.runtimes[runtimeID]
	r.mu.RUnlock()
	if ok {
		return rt.ResolveModel(model)
	}
	return model
}

// IDs returns the registered runtime ids.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.runtimes))
	for id := range r.runtimes {
		ids = append(ids, id)
	}
	return ids
}
