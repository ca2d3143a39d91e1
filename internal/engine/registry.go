package engine

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/petrijr/prepare/pkg/api"
)

// Registry maps action types to the handlers that resolve them.
// It is safe for concurrent use; registration normally happens once during
// setup and dispatch is read-only afterwards.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]api.HandlerFunc
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]api.HandlerFunc),
	}
}

// On registers fn for the type of c. It returns a *api.DuplicateHandlerError
// if a handler is already registered for that type.
func (r *Registry) On(c api.Typed, fn api.HandlerFunc) error {
	typ := checkHandler(c, fn)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[typ]; exists {
		return &api.DuplicateHandlerError{Type: typ}
	}
	r.handlers[typ] = fn
	return nil
}

// Resubscribe registers fn for the type of c, replacing any existing handler.
func (r *Registry) Resubscribe(c api.Typed, fn api.HandlerFunc) {
	typ := checkHandler(c, fn)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[typ] = fn
}

// MustOn is like On but panics on error, and returns r for chaining:
//
//	reg.MustOn(GetUser, getUser).MustOn(ListPosts, listPosts)
func (r *Registry) MustOn(c api.Typed, fn api.HandlerFunc) *Registry {
	if err := r.On(c, fn); err != nil {
		panic(err)
	}
	return r
}

func checkHandler(c api.Typed, fn api.HandlerFunc) string {
	if c == nil || c.Type() == "" {
		panic("prepare: handler registered without an action type")
	}
	if fn == nil {
		panic(fmt.Sprintf("prepare: nil handler for %s", c.Type()))
	}
	return c.Type()
}

// Process dispatches action to its handler and returns the handler's result
// unmodified. It returns a *api.MissingHandlerError if no handler matches.
func (r *Registry) Process(ctx context.Context, action api.Action, amb api.Ambient, acc api.Accumulation) (any, error) {
	r.mu.RLock()
	fn, ok := r.handlers[action.Type]
	r.mu.RUnlock()

	if !ok {
		return nil, &api.MissingHandlerError{Type: action.Type}
	}

	return fn(ctx, api.HandlerProps{
		Action:       action,
		Ambient:      amb,
		Accumulation: acc,
	})
}

// Has reports whether a handler is registered for typ.
func (r *Registry) Has(typ string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.handlers[typ]
	return ok
}

// Types returns the registered action types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}
