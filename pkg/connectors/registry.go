package connectors

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ladleworks/ladle/pkg/engine"
	"github.com/ladleworks/ladle/pkg/recipe"
)

// SourceFactory builds a source connector from its configuration.
type SourceFactory func(cfg recipe.SourceConfig) (engine.Source, error)

// DestinationFactory builds a destination connector from its configuration.
type DestinationFactory func(cfg recipe.DestinationConfig) (engine.Destination, error)

// Registry maps connector type names to factories. A fresh registry carries
// the built-in connectors.
type Registry struct {
	mu           sync.RWMutex
	sources      map[string]SourceFactory
	destinations map[string]DestinationFactory
}

// NewRegistry creates a registry pre-populated with the built-in connectors.
func NewRegistry() *Registry {
	r := &Registry{
		sources:      make(map[string]SourceFactory),
		destinations: make(map[string]DestinationFactory),
	}
	r.sources["csv"] = newCSVSource
	r.sources["sqlite"] = newSQLiteSource
	r.sources["filestore"] = newFilestoreSource
	r.sources["api"] = newAPISource

	r.destinations["csv"] = newCSVDestination
	r.destinations["sqlite"] = newSQLiteDestination
	r.destinations["filestore"] = newFilestoreDestination
	return r
}

// RegisterSource adds a source factory for a connector type.
func (r *Registry) RegisterSource(name string, factory SourceFactory) error {
	if name == "" || factory == nil {
		return fmt.Errorf("source connector name and factory are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sources[name]; exists {
		return fmt.Errorf("source connector already registered: %s", name)
	}
	r.sources[name] = factory
	return nil
}

// RegisterDestination adds a destination factory for a connector type.
func (r *Registry) RegisterDestination(name string, factory DestinationFactory) error {
	if name == "" || factory == nil {
		return fmt.Errorf("destination connector name and factory are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.destinations[name]; exists {
		return fmt.Errorf("destination connector already registered: %s", name)
	}
	r.destinations[name] = factory
	return nil
}

// NewSource builds the source connector for a recipe.
func (r *Registry) NewSource(cfg recipe.SourceConfig) (engine.Source, error) {
	r.mu.RLock()
	factory, ok := r.sources[cfg.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown source connector type %q (known: %v)", cfg.Type, r.SupportedSources())
	}
	return factory(cfg)
}

// NewDestination builds the destination connector for a recipe.
func (r *Registry) NewDestination(cfg recipe.DestinationConfig) (engine.Destination, error) {
	r.mu.RLock()
	factory, ok := r.destinations[cfg.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown destination connector type %q (known: %v)", cfg.Type, r.SupportedDestinations())
	}
	return factory(cfg)
}

// SupportedSources returns the registered source connector types, sorted.
func (r *Registry) SupportedSources() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SupportedDestinations returns the registered destination connector types,
// sorted.
func (r *Registry) SupportedDestinations() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.destinations))
	for name := range r.destinations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
