package prepare

import (
	"context"
	"fmt"
)

// FetchBuilder provides a fluent API for declaring fetch maps:
//
//	fetch := prepare.Fetch().
//	    Add("config", GetConfig.New(nil, prepare.Parallel())).
//	    Add("user", GetUser.New(42)).
//	    AddRef("flags", GetFlags).
//	    Build()
//
//	props, err := rt.Fulfill(ctx, fetch, amb)
//
// Entries keep the order they were added in, which is the order sequential
// actions resolve in.
type FetchBuilder struct {
	fetch *FetchMap
}

// Fetch creates a new, empty FetchBuilder.
func Fetch() *FetchBuilder {
	return &FetchBuilder{fetch: NewFetchMap()}
}

// Add appends a raw action under key. Adding an existing key replaces its
// action in place.
func (b *FetchBuilder) Add(key string, raw RawAction) *FetchBuilder {
	if key == "" {
		panic("prepare: fetch key must not be empty")
	}
	if raw.Type == "" {
		panic(fmt.Sprintf("prepare: fetch %q has no action type", key))
	}

	b.fetch.Set(key, raw.Entry())
	return b
}

// AddRef appends a bare creator reference under key: the action resolves
// with a nil payload and default options.
func (b *FetchBuilder) AddRef(key string, c Typed) *FetchBuilder {
	if key == "" {
		panic("prepare: fetch key must not be empty")
	}
	if c == nil || c.Type() == "" {
		panic(fmt.Sprintf("prepare: fetch %q has no action type", key))
	}

	b.fetch.Set(key, RefOf(c))
	return b
}

// Len returns the number of entries added so far.
func (b *FetchBuilder) Len() int {
	return b.fetch.Len()
}

// Build returns a copy of the declared fetch map. The builder stays usable.
func (b *FetchBuilder) Build() *FetchMap {
	return b.fetch.Clone()
}

// Fulfill builds the fetch map and resolves it on rt.
func (b *FetchBuilder) Fulfill(ctx context.Context, rt *Runtime, amb Ambient) (Accumulation, error) {
	return rt.Fulfill(ctx, b.Build(), amb)
}

// MustNormalize builds the fetch map and normalizes it against amb, panicking
// on error. Useful for declaring static action maps at init time.
func (b *FetchBuilder) MustNormalize(amb Ambient) *ActionMap {
	actions, err := Normalize(b.Build(), amb)
	if err != nil {
		panic(err)
	}
	return actions
}
