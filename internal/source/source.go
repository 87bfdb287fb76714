// Package source adapts AI answers and the results portal into the
// extraction callables the selector runs in priority order.
package source

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/finresearch-cli/internal/model"
	"github.com/sells-group/finresearch-cli/internal/resilience"
	"github.com/sells-group/finresearch-cli/internal/waterfall"
)

// Source produces indicators for one period.
type Source interface {
	// Name matches the source name in the selection config.
	Name() string
	Extract(ctx context.Context, p model.Period) (map[model.IndicatorName]model.Indicator, error)
}

// Registry holds the available sources by name.
type Registry struct {
	mu       sync.RWMutex
	sources  map[string]Source
	breakers map[string]*resilience.Breaker

	threshold int
	cooldown  time.Duration
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithBreaker stops calling a source for cooldown after threshold
// consecutive failures.
func WithBreaker(threshold int, cooldown time.Duration) RegistryOption {
	return func(r *Registry) {
		r.threshold = threshold
		r.cooldown = cooldown
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		sources:  make(map[string]Source),
		breakers: make(map[string]*resilience.Breaker),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register adds or replaces a source.
func (r *Registry) Register(s Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[s.Name()] = s
	r.breakers[s.Name()] = resilience.NewBreaker(r.threshold, r.cooldown)
}

// Get returns a source by name, or nil if not found.
func (r *Registry) Get(name string) Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sources[name]
}

// List returns the registered names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve maps a priority list onto registered sources. Unknown names are a
// configuration error.
func (r *Registry) Resolve(names []string) ([]waterfall.Source, error) {
	if len(names) == 0 {
		return nil, waterfall.ErrNoSources
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]waterfall.Source, 0, len(names))
	for _, name := range names {
		src, ok := r.sources[name]
		if !ok {
			return nil, eris.Errorf("source: unknown source %q (registered: %v)", name, r.registeredLocked())
		}
		out = append(out, waterfall.Source{Name: name, Extract: guard(src, r.breakers[name])})
	}
	return out, nil
}

func (r *Registry) registeredLocked() []string {
	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func guard(src Source, b *resilience.Breaker) waterfall.ExtractFunc {
	return func(ctx context.Context, p model.Period) (map[model.IndicatorName]model.Indicator, error) {
		if err := b.Allow(); err != nil {
			return nil, eris.Wrapf(err, "source: %s", src.Name())
		}
		inds, err := src.Extract(ctx, p)
		if ctx.Err() == nil {
			b.Record(err)
		}
		return inds, err
	}
}
