package task

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// HandlerFunc is a type-erased task handler that accepts a raw JSON
// payload and returns a raw JSON result. Typed Definitions are converted
// to HandlerFuncs at registration time by closing over JSON codec calls
// and the typed handler.
type HandlerFunc func(ctx context.Context, payload []byte) ([]byte, error)

// Registry maps task-type identifiers to type-erased handler functions.
// It is populated once at startup, sealed, and immutable thereafter.
// A sealed Registry is safe for concurrent use without locking on reads.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	sealed   bool
}

// NewRegistry creates an empty task registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]HandlerFunc),
	}
}

// RegisterDefinition registers a typed task definition. The generic
// handler is wrapped in a closure that JSON-unmarshals the payload into T
// before calling the typed handler and marshals the R result after.
//
// Registering after Seal, or registering a duplicate type, panics: the
// registry is a closed validated table and both are programming errors
// that must fail at build time, not at dispatch time.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[T, R any](r *Registry, def *Definition[T, R]) {
	handler := func(ctx context.Context, payload []byte) ([]byte, error) {
		var in T
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &in); err != nil {
				return nil, Fatal(fmt.Errorf("unmarshal payload for task %q: %w", def.Type, err))
			}
		}

		out, err := def.Handler(ctx, in)
		if err != nil {
			return nil, err
		}

		result, err := json.Marshal(out)
		if err != nil {
			return nil, Fatal(fmt.Errorf("marshal result for task %q: %w", def.Type, err))
		}
		return result, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		panic(fmt.Sprintf("task: register %q after registry sealed", def.Type))
	}
	if _, exists := r.handlers[def.Type]; exists {
		panic(fmt.Sprintf("task: duplicate registration for %q", def.Type))
	}
	r.handlers[def.Type] = handler
}

// Seal closes the registry to further registration. Sealing twice is a
// no-op. The queue refuses traffic until the registry is sealed.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
}

// Sealed reports whether the registry has been sealed.
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// Get returns the handler for the given task type.
// Returns false if no handler is registered.
func (r *Registry) Get(taskType string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[taskType]
	return h, ok
}

// Has reports whether a handler is registered for the given task type.
func (r *Registry) Has(taskType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[taskType]
	return ok
}

// Types returns all registered task types.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	return types
}
