// Package coremodules implements a name-keyed registry of in-process Go
// implementations a host exposes under a bare require() name, independent
// of the path resolver — the module-runtime analogue of Node's built-in
// modules ('fs', 'path', ...). Satisfies require.CoreModuleProvider and
// runtime.CoreModuleProvider without either package needing to import
// this one: both only depend on the single-method Get(name) shape.
package coremodules

import (
	"fmt"
	"sync"

	qerrors "github.com/quartz-run/quartz/pkg/quartz/v1/errors"
)

// Factory builds a core module's exports. Errors surface as if the
// module were simply absent: Get reports false, and a require of that
// name fails as module-not-found.
type Factory func() (interface{}, error)

// Registry is a thread-safe name -> Factory table. The default instance
// is empty; a host registers whatever core modules it wants to expose.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register associates name with factory. Re-registering the same name
// is a configuration error, not a silent overwrite, since two core
// modules racing for one require() name is almost always a mistake.
func (r *Registry) Register(name string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if name == "" {
		return qerrors.NewConfigError("core module registration error: name cannot be empty", nil)
	}
	if factory == nil {
		return qerrors.NewConfigError(fmt.Sprintf("core module registration error for '%s': factory cannot be nil", name), nil)
	}
	if _, exists := r.factories[name]; exists {
		return qerrors.NewConfigError(fmt.Sprintf("core module registration error: duplicate name '%s'", name), nil)
	}
	r.factories[name] = factory
	return nil
}

// Get implements the CoreModuleProvider contract both require.Core and
// runtime.Runtime accept: it invokes name's factory fresh on every call,
// since core modules are expected to be cheap constant-ish values (a
// stdout writer, a clock, a fixed config map) rather than something
// worth caching here — a factory wanting a singleton can close over one
// itself.
func (r *Registry) Get(name string) (interface{}, bool) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	v, err := factory()
	if err != nil {
		return nil, false
	}
	return v, true
}

// List returns the registered core module names in no particular order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}
