package exchange

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry maps exchange names to adapters
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Exchange
}

// NewRegistry creates a registry holding the given adapters
func NewRegistry(adapters ...Exchange) *Registry {
	r := &Registry{adapters: make(map[string]Exchange, len(adapters))}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// DefaultRegistry registers every supported exchange with shared options
func DefaultRegistry(opts ...Option) *Registry {
	return NewRegistry(
		NewBinance(opts...),
		NewBybit(opts...),
		NewOKX(opts...),
		NewKuCoin(opts...),
	)
}

// Register adds or replaces an adapter
func (r *Registry) Register(e Exchange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[strings.ToLower(e.Name())] = e
}

// Get returns the adapter for name
func (r *Registry) Get(name string) (Exchange, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.adapters[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownExchange, name)
	}
	return e, nil
}

// Names returns the registered exchange names in order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
