package prepare

import (
	"context"

	"github.com/petrijr/prepare/pkg/api"
)

// RefOf returns a bare-creator entry for anything carrying a type tag.
func RefOf(t Typed) Entry {
	return api.RefOf(t)
}

// On registers a strongly-typed handler for c on rt. The handler's payload
// and result types must match the creator's, so a mismatch is a compile
// error rather than a runtime one.
//
//	prepare.On(rt, GetUser, func(ctx context.Context, p prepare.TypedProps[int]) (User, error) {
//	    return users.Get(ctx, p.Payload)
//	})
func On[P, R any](rt *Runtime, c Creator[P, R], fn func(context.Context, TypedProps[P]) (R, error)) error {
	return rt.On(c, api.Handle(fn))
}

// MustHandle is like On but panics on error.
func MustHandle[P, R any](rt *Runtime, c Creator[P, R], fn func(context.Context, TypedProps[P]) (R, error)) {
	if err := On(rt, c, fn); err != nil {
		panic(err)
	}
}

// Result reads key from props as the creator's result type.
func Result[P, R any](c Creator[P, R], props map[string]any, key string) (R, bool) {
	return c.Result(props, key)
}

// Static returns a handler that always resolves to v.
func Static(v any) HandlerFunc {
	return func(context.Context, HandlerProps) (any, error) {
		return v, nil
	}
}

// FromAccumulation returns a handler resolving to the value already
// resolved under key, or nil when there is none. It is meant for
// sequential actions that re-expose an earlier result.
func FromAccumulation(key string) HandlerFunc {
	return func(_ context.Context, props HandlerProps) (any, error) {
		return props.Accumulation[key], nil
	}
}
