package memory

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Constructor builds a provider instance from configuration.
type Constructor func(cfg Config) (Provider, error)

// Registry maps (domain, implementation name) to a constructor, letting the
// runtime select an implementation per memory domain at configuration time.
type Registry struct {
	mu           sync.RWMutex
	constructors map[Domain]map[string]Constructor
}

// Default registry instance. Provider packages register themselves here.
var defaultRegistry = NewRegistry()

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		constructors: make(map[Domain]map[string]Constructor),
	}
}

// Register adds a constructor under (domain, name). Registering the same
// pair twice is an error.
func (r *Registry) Register(domain Domain, name string, ctor Constructor) error {
	if name == "" {
		return fmt.Errorf("empty implementation name for domain %q", domain)
	}
	if ctor == nil {
		return fmt.Errorf("nil constructor for %s/%s", domain, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	impls, ok := r.constructors[domain]
	if !ok {
		impls = make(map[string]Constructor)
		r.constructors[domain] = impls
	}
	if _, exists := impls[name]; exists {
		return fmt.Errorf("provider already registered: %s/%s", domain, name)
	}
	impls[name] = ctor
	return nil
}

// New constructs a provider for (domain, name). The error for an unknown
// pair lists the registered implementations to ease configuration mistakes.
func (r *Registry) New(domain Domain, name string, cfg Config) (Provider, error) {
	r.mu.RLock()
	ctor, ok := r.constructors[domain][name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown provider %s/%s (registered: %s)",
			domain, name, strings.Join(r.List(domain), ", "))
	}
	return ctor(cfg)
}

// List returns the registered implementation names for a domain, sorted.
func (r *Registry) List(domain Domain) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.constructors[domain]))
	for name := range r.constructors[domain] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Register adds a constructor to the default registry.
func Register(domain Domain, name string, ctor Constructor) error {
	return defaultRegistry.Register(domain, name, ctor)
}

// MustRegister is Register, panicking on error. Intended for package init
// of provider implementations.
func MustRegister(domain Domain, name string, ctor Constructor) {
	if err := Register(domain, name, ctor); err != nil {
		panic(err)
	}
}

// NewProvider constructs a provider from the default registry.
func NewProvider(domain Domain, name string, cfg Config) (Provider, error) {
	return defaultRegistry.New(domain, name, cfg)
}

// ListProviders lists implementations registered for a domain in the
// default registry.
func ListProviders(domain Domain) []string {
	return defaultRegistry.List(domain)
}
