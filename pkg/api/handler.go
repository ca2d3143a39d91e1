package api

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
)

// Accumulation is the result mapping built while a fetch map is resolved.
type Accumulation map[string]any

// Clone returns a shallow copy. Cloning a nil Accumulation returns nil.
func (a Accumulation) Clone() Accumulation {
	if a == nil {
		return nil
	}
	return maps.Clone(a)
}

// HandlerProps is what a handler receives for one action.
type HandlerProps struct {
	Action  Action
	Ambient Ambient

	// Accumulation holds everything resolved before this action. It is nil
	// for parallel actions.
	Accumulation Accumulation
}

// HandlerFunc computes the result of an action.
type HandlerFunc func(ctx context.Context, props HandlerProps) (any, error)

// ErrorHandler replaces the default per-action error policy. Its return
// value becomes the action's result; returning an error fails the fetch.
type ErrorHandler func(ctx context.Context, err error, action Action, amb Ambient, acc Accumulation) (any, error)

// TypedProps is HandlerProps with the payload converted to P.
type TypedProps[P any] struct {
	Payload      P
	Action       Action
	Ambient      Ambient
	Accumulation Accumulation
}

// Handle wraps a strongly-typed handler into a HandlerFunc. The payload is
// converted with Convert, so handlers work the same whether the action was
// built in-process or decoded from the wire.
func Handle[P, R any](fn func(context.Context, TypedProps[P]) (R, error)) HandlerFunc {
	return func(ctx context.Context, props HandlerProps) (any, error) {
		payload, err := Convert[P](props.Action.Payload)
		if err != nil {
			return nil, fmt.Errorf("payload for %s: %w", props.Action.Type, err)
		}
		return fn(ctx, TypedProps[P]{
			Payload:      payload,
			Action:       props.Action,
			Ambient:      props.Ambient,
			Accumulation: props.Accumulation,
		})
	}
}

// Convert returns v as T. Values already of type T are returned directly;
// nil yields the zero T; anything else goes through a JSON round trip.
func Convert[T any](v any) (T, error) {
	var out T
	if v == nil {
		return out, nil
	}
	if t, ok := v.(T); ok {
		return t, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return out, fmt.Errorf("convert %T: %w", v, err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("convert %T to %T: %w", v, out, err)
	}
	return out, nil
}
