package filter

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Constructor builds a fresh filter instance. Stateful filters such as an
// Aggregator must not be shared between unrelated broadcast sites.
type Constructor func() (Filter, error)

// SanitizePrefix selects a core/sanitizer spec by name, e.g. "sanitize:trim,max:140".
const SanitizePrefix = "sanitize:"

// Registry maps filter names to constructors. Safe for concurrent use.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewRegistry returns a registry preloaded with "xss" and "aggregate".
func NewRegistry() *Registry {
	r := &Registry{constructors: make(map[string]Constructor)}
	r.Register("xss", func() (Filter, error) { return XSS(), nil })
	r.Register("aggregate", func() (Filter, error) { return NewAggregator(DefaultAggregateThreshold), nil })
	return r
}

// Register adds or replaces a named constructor.
func (r *Registry) Register(name string, c Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[name] = c
}

// New builds the filter registered under name. Names starting with
// SanitizePrefix build a Sanitize filter from the remainder.
func (r *Registry) New(name string) (Filter, error) {
	if spec, ok := strings.CutPrefix(name, SanitizePrefix); ok {
		return Sanitize(spec)
	}

	r.mu.RLock()
	c, ok := r.constructors[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFilter, name)
	}

	f, err := c()
	if err != nil {
		return nil, fmt.Errorf("filter %q: %w", name, err)
	}
	return f, nil
}

// Resolve builds a chain from names, in order.
func (r *Registry) Resolve(names ...string) (Chain, error) {
	chain := make(Chain, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		f, err := r.New(name)
		if err != nil {
			return nil, err
		}
		chain = append(chain, f)
	}
	return chain, nil
}

// Names lists the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
