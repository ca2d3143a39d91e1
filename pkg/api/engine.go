package api

import "context"

// Resolver turns a normalized action map into results, one per key.
// The in-process orchestrator and the HTTP client both implement it; the
// orchestration semantics are identical on both sides.
type Resolver interface {
	Resolve(ctx context.Context, actions *ActionMap, amb Ambient) (Accumulation, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, actions *ActionMap, amb Ambient) (Accumulation, error)

func (f ResolverFunc) Resolve(ctx context.Context, actions *ActionMap, amb Ambient) (Accumulation, error) {
	return f(ctx, actions, amb)
}

// State is an immutable snapshot of a result store. Treat values received
// from a store as read-only.
type State map[string]any

// Middleware transforms a result on its way into a store. Middleware runs in
// registration order, each receiving the previous output.
type Middleware func(ctx context.Context, result map[string]any) (map[string]any, error)

// Subscriber is notified with the new state after every committed result.
type Subscriber func(state State)

// Subscription identifies a registered Subscriber.
type Subscription struct {
	id uint64
}

// NewSubscription is used by store implementations to mint subscription
// tokens.
func NewSubscription(id uint64) Subscription { return Subscription{id: id} }

// ID returns the token's identity.
func (s Subscription) ID() uint64 { return s.id }
