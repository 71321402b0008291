// Package activity provides the registry mapping stable activity names to
// their implementations. The registry is built once at process startup and
// handed to the workflow engine's registration call, replacing any
// decorator-style dynamic registration.
package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Func is a workflow activity: it receives the engine-supplied input payload
// as raw JSON and returns a JSON-serializable result.
type Func func(ctx context.Context, input json.RawMessage) (any, error)

// Registry maps stable string keys to activity functions. Registration
// happens during startup; lookups may run concurrently afterwards.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]Func)}
}

// Register adds an activity under name. Registering the same name twice is
// a wiring bug and returns an error rather than silently replacing.
func (r *Registry) Register(name string, fn Func) error {
	if name == "" {
		return fmt.Errorf("activity: name must not be empty")
	}
	if fn == nil {
		return fmt.Errorf("activity: function for %q must not be nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.funcs[name]; exists {
		return fmt.Errorf("activity: %q already registered", name)
	}
	r.funcs[name] = fn
	return nil
}

// MustRegister is Register, panicking on error. For use in startup wiring
// where a duplicate name is unrecoverable.
func (r *Registry) MustRegister(name string, fn Func) {
	if err := r.Register(name, fn); err != nil {
		panic(err)
	}
}

// Lookup returns the activity registered under name.
func (r *Registry) Lookup(name string) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[name]
	return fn, ok
}

// Names returns all registered activity names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
