// Package registry holds the set of named services a peer offers, as a
// simple mutex-guarded map from name to constructor rather than shared
// instances, so each invocation gets a fresh Server.
package registry

import (
	"fmt"
	"sync"

	"github.com/myelnet/hop-carrier/identity"
	"github.com/myelnet/hop-carrier/service"
)

// Registry maps a ServiceName to the Factory that builds a fresh Server for
// each invocation. Registration is only valid before Seal is called; after
// that, Registry is read-only for the lifetime of the peer runtime.
type Registry struct {
	mu      sync.RWMutex
	sealed  bool
	factory map[identity.ServiceName]service.Factory
}

// New returns an empty, unsealed Registry.
func New() *Registry {
	return &Registry{factory: make(map[identity.ServiceName]service.Factory)}
}

// Register adds or replaces the Factory for name. Last registration wins if
// called more than once for the same name, rather than erroring on
// overwrite. Register panics if the
// registry is already sealed, since that indicates a programming error (a
// service registered after Builder.Build) rather than a runtime condition.
func (r *Registry) Register(name identity.ServiceName, factory service.Factory) error {
	if err := name.Validate(); err != nil {
		return fmt.Errorf("registry: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		panic(fmt.Sprintf("registry: Register(%q) called after Seal", name))
	}
	r.factory[name] = factory
	return nil
}

// Seal freezes the registry; called once by the peer Builder after all
// RegisterService calls have run.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
}

// Lookup returns the Factory registered for name, or ok=false if no service
// by that name exists.
func (r *Registry) Lookup(name identity.ServiceName) (factory service.Factory, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	factory, ok = r.factory[name]
	return factory, ok
}

// Names returns every registered service name, for diagnostics.
func (r *Registry) Names() []identity.ServiceName {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]identity.ServiceName, 0, len(r.factory))
	for n := range r.factory {
		names = append(names, n)
	}
	return names
}
