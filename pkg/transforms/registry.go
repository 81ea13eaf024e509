package transforms

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ladleworks/ladle/pkg/engine"
	"github.com/ladleworks/ladle/pkg/recipe"
)

// Factory builds a transform from its step options.
type Factory func(options map[string]any) (engine.Transform, error)

// Registry maps transform type names to factories. A fresh registry carries
// the built-in transforms; WASM custom transforms are registered on top.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates a registry pre-populated with the built-in transforms.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.factories["add_column"] = newAddColumn
	r.factories["rename_columns"] = newRenameColumns
	r.factories["cast"] = newCast
	r.factories["compute"] = newCompute
	r.factories["filter"] = newFilter
	return r
}

// Register adds a factory for a transform type. Registering over an existing
// type is an error; built-ins cannot be shadowed.
func (r *Registry) Register(name string, factory Factory) error {
	if name == "" {
		return fmt.Errorf("transform type name is required")
	}
	if factory == nil {
		return fmt.Errorf("transform factory is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("transform type already registered: %s", name)
	}
	r.factories[name] = factory
	return nil
}

// Types returns the registered transform type names, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build constructs the transform chain for a recipe's steps, in order.
func (r *Registry) Build(steps []recipe.TransformStep) ([]engine.Transform, error) {
	chain := make([]engine.Transform, 0, len(steps))
	for i, step := range steps {
		r.mu.RLock()
		factory, ok := r.factories[step.Type]
		r.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("unknown transform type %q in step %d (known: %v)", step.Type, i, r.Types())
		}

		t, err := factory(step.Options)
		if err != nil {
			return nil, fmt.Errorf("invalid %s step %d: %w", step.Type, i, err)
		}
		chain = append(chain, t)
	}
	return chain, nil
}
