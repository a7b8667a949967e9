package provider

import (
	"context"
	"fmt"
	"sync"
)

// Factory constructs an unconfigured provider instance.
type Factory func() Interface

// Registry manages the lifecycle of providers. Built-in providers register at
// init time; each is constructed and configured at most once per run.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	providers map[string]Interface
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		providers: make(map[string]Interface),
	}
}

// Register makes a provider constructor available under the given name.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Load constructs and configures the named provider. Loading an already
// configured provider is a no-op.
func (r *Registry) Load(ctx context.Context, name string, settings map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[name]; exists {
		return nil
	}
	f, ok := r.factories[name]
	if !ok {
		return fmt.Errorf("unknown provider: %s", name)
	}
	p := f()
	if err := p.Configure(ctx, settings); err != nil {
		return fmt.Errorf("configuring provider %s: %w", name, err)
	}
	r.providers[name] = p
	return nil
}

// Get returns a loaded provider.
func (r *Registry) Get(name string) (Interface, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider not loaded: %s", name)
	}
	return p, nil
}
