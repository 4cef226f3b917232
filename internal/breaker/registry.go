package breaker

import (
	"sort"
	"sync"

	"github.com/fyrsmithlabs/signald/internal/clock"
	"go.uber.org/zap"
)

// Registry owns one independent breaker per dependency name.
type Registry struct {
	mu        sync.Mutex
	breakers  map[string]*Breaker
	defaults  Config
	overrides map[string]Config
	clock     clock.Clock
	logger    *zap.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithOverride sets the config for a single dependency.
func WithOverride(dependency string, cfg Config) RegistryOption {
	return func(r *Registry) { r.overrides[dependency] = cfg }
}

// WithClock sets the time source for every breaker.
func WithClock(c clock.Clock) RegistryOption {
	return func(r *Registry) { r.clock = c }
}

// WithLogger sets the logger for every breaker.
func WithLogger(l *zap.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry creates an empty registry. Breakers are created on first use.
func NewRegistry(defaults Config, opts ...RegistryOption) *Registry {
	r := &Registry{
		breakers:  make(map[string]*Breaker),
		defaults:  defaults.withDefaults(),
		overrides: make(map[string]Config),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.clock = clock.OrReal(r.clock)
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	return r
}

// Get returns the breaker for dependency, creating it if needed.
func (r *Registry) Get(dependency string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[dependency]; ok {
		return b
	}
	cfg := r.defaults
	if o, ok := r.overrides[dependency]; ok {
		if o.FailureThreshold > 0 {
			cfg.FailureThreshold = o.FailureThreshold
		}
		if o.ResetTimeout > 0 {
			cfg.ResetTimeout = o.ResetTimeout
		}
	}
	b := New(dependency, cfg, r.clock, r.logger)
	r.breakers[dependency] = b
	return b
}

// GetState returns the state of a dependency's breaker. A dependency that
// was never called is closed.
func (r *Registry) GetState(dependency string) State {
	r.mu.Lock()
	b, ok := r.breakers[dependency]
	r.mu.Unlock()
	if !ok {
		return Closed
	}
	return b.State()
}

// Snapshot returns every known breaker, sorted by dependency.
func (r *Registry) Snapshot() []Snapshot {
	r.mu.Lock()
	list := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		list = append(list, b)
	}
	r.mu.Unlock()

	out := make([]Snapshot, 0, len(list))
	for _, b := range list {
		out = append(out, b.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Dependency < out[j].Dependency })
	return out
}
