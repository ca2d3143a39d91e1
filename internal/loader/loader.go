// Package loader decides which of a page's declared actions need resolving
// and merges the outcome with what the page already has.
package loader

import (
	"context"
	"fmt"
	"log/slog"
	"maps"

	"github.com/petrijr/prepare/internal/engine"
	"github.com/petrijr/prepare/internal/store"
	"github.com/petrijr/prepare/pkg/api"
)

// Page declares the data a page needs.
type Page struct {
	// Fetch entries are loaded unless the value is already known.
	Fetch *api.FetchMap
	// FetchFresh entries are loaded on every visit.
	FetchFresh *api.FetchMap
}

// Keys returns the declared keys, Fetch first, without duplicates.
func (p Page) Keys() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, m := range []*api.FetchMap{p.Fetch, p.FetchFresh} {
		for _, k := range m.Keys() {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}
	return out
}

// Plan is the outcome of MakePlan.
type Plan struct {
	// Load holds the actions to resolve, in declaration order.
	Load *api.ActionMap
	// Cached holds values reused from a previous visit.
	Cached map[string]any
	// Skipped lists keys left alone, either because the initial props
	// already provide them or because they are passive.
	Skipped []string
}

// MakePlan walks the page's Fetch entries in order. A key whose value is
// present in initialProps is skipped; otherwise a present cached value is
// reused; otherwise a passive action is skipped; otherwise the action is
// loaded. Every FetchFresh entry is loaded regardless.
//
// Derived payloads see initialProps as the ambient prior props.
func MakePlan(page Page, amb api.Ambient, initialProps, cached map[string]any) (Plan, error) {
	amb = amb.WithPriorProps(initialProps)
	plan := Plan{
		Load:   api.NewActionMap(),
		Cached: make(map[string]any),
	}

	for key, entry := range page.Fetch.All() {
		action, err := engine.Normalize(entry, amb)
		if err != nil {
			return Plan{}, fmt.Errorf("plan %q: %w", key, err)
		}

		if Present(initialProps[key]) {
			plan.Skipped = append(plan.Skipped, key)
			continue
		}
		if v, ok := cached[key]; ok && Present(v) {
			plan.Cached[key] = v
			continue
		}
		if action.Options.Passive {
			plan.Skipped = append(plan.Skipped, key)
			continue
		}
		plan.Load.Set(key, action)
	}

	for key, entry := range page.FetchFresh.All() {
		action, err := engine.Normalize(entry, amb)
		if err != nil {
			return Plan{}, fmt.Errorf("plan %q: %w", key, err)
		}
		plan.Load.Set(key, action)
	}

	return plan, nil
}

// Result is what Load returns.
type Result struct {
	// Props is the merged page data: loaded, then cached, then the initial
	// props, later sources winning.
	Props map[string]any
	// Commit tracks the store update, when a store is configured and there
	// was something to commit.
	Commit *store.Commit
}

// Loader loads pages through a Resolver and, optionally, caches results in
// a Store.
type Loader struct {
	resolver api.Resolver
	store    *store.Store
	logger   *slog.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithStore makes the loader reuse and commit results through s.
// Without a store nothing is cached, which is what a server wants.
func WithStore(s *store.Store) Option {
	return func(l *Loader) {
		l.store = s
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New returns a Loader resolving through resolver.
func New(resolver api.Resolver, opts ...Option) *Loader {
	l := &Loader{
		resolver: resolver,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load plans page against the store's state, resolves whatever is missing
// and commits the combined loaded and cached results to the store.
func (l *Loader) Load(ctx context.Context, page Page, amb api.Ambient, initialProps map[string]any) (Result, error) {
	var cached map[string]any
	if l.store != nil {
		cached = l.store.GetState()
	}

	plan, err := MakePlan(page, amb, initialProps, cached)
	if err != nil {
		return Result{}, fmt.Errorf("prepare: load: %w", err)
	}

	fetched := maps.Clone(plan.Cached)
	if plan.Load.Len() > 0 {
		loaded, err := l.resolver.Resolve(ctx, plan.Load, amb.WithPriorProps(initialProps))
		if err != nil {
			return Result{}, fmt.Errorf("prepare: load: %w", err)
		}
		maps.Copy(fetched, loaded)
	}

	l.logger.DebugContext(ctx, "page_loaded",
		slog.Int("loaded", plan.Load.Len()),
		slog.Int("cached", len(plan.Cached)),
		slog.Int("skipped", len(plan.Skipped)),
	)

	var commit *store.Commit
	if l.store != nil && len(fetched) > 0 {
		commit = l.store.SetResult(ctx, fetched)
	}

	props := make(map[string]any, len(fetched)+len(initialProps))
	maps.Copy(props, fetched)
	maps.Copy(props, initialProps)

	return Result{Props: props, Commit: commit}, nil
}

// Seed primes the store with the page's declared values found in props,
// typically the props a server rendered the page with. It is a no-op
// without a store.
func (l *Loader) Seed(page Page, props map[string]any) {
	if l.store == nil {
		return
	}

	initial := make(map[string]any)
	for _, key := range page.Keys() {
		v := props[key]
		if !Truthy(v) {
			l.logger.Debug("seed_missing_key", slog.String("key", key))
			continue
		}
		initial[key] = v
	}
	l.store.SetInitialState(initial)
}
