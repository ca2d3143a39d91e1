package prepare

import (
	"context"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/trace"

	"github.com/petrijr/prepare/internal/engine"
	"github.com/petrijr/prepare/internal/loader"
	"github.com/petrijr/prepare/internal/store"
	"github.com/petrijr/prepare/internal/transport"
)

// Runtime bundles a Registry, an Orchestrator and a Store to provide a
// ready-to-use, process-local engine.
//
// Typical usage:
//
//	rt := prepare.NewRuntime()
//	rt.MustOn(GetUser, getUser)
//
//	fetch := prepare.Fetch().
//	    Add("user", GetUser.New(42)).
//	    Build()
//
//	props, err := rt.Fulfill(ctx, fetch, prepare.Ambient{})
//
// Multiple runtimes are fully independent.
type Runtime struct {
	// Registry maps action types to handlers.
	Registry *Registry

	// Orchestrator resolves action maps through Registry.
	Orchestrator *Orchestrator

	// Store caches results on the consuming side.
	Store *Store

	logger *slog.Logger
}

// RuntimeOption configures NewRuntime.
type RuntimeOption func(*runtimeConfig)

type runtimeConfig struct {
	engine []engine.Option
	store  []store.Option
	logger *slog.Logger
}

// WithObserver sets the orchestrator's observer.
func WithObserver(obs Observer) RuntimeOption {
	return func(c *runtimeConfig) {
		c.engine = append(c.engine, engine.WithObserver(obs))
	}
}

// WithConcurrencyLimit caps how many parallel actions run at once.
func WithConcurrencyLimit(n int) RuntimeOption {
	return func(c *runtimeConfig) {
		c.engine = append(c.engine, engine.WithConcurrencyLimit(n))
	}
}

// WithTracerProvider sets the provider for orchestration spans.
func WithTracerProvider(tp trace.TracerProvider) RuntimeOption {
	return func(c *runtimeConfig) {
		c.engine = append(c.engine, engine.WithTracerProvider(tp))
	}
}

// WithLogger sets the logger used by the store, loader and HTTP handler.
func WithLogger(logger *slog.Logger) RuntimeOption {
	return func(c *runtimeConfig) {
		c.logger = logger
		c.store = append(c.store, store.WithLogger(logger))
	}
}

// WithStoreErrorSink routes failed store commits to sink.
func WithStoreErrorSink(sink func(ctx context.Context, err error)) RuntimeOption {
	return func(c *runtimeConfig) {
		c.store = append(c.store, store.WithErrorSink(sink))
	}
}

// NewRuntime constructs a Runtime with an empty registry and store.
func NewRuntime(opts ...RuntimeOption) *Runtime {
	var cfg runtimeConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	reg := engine.NewRegistry()
	return &Runtime{
		Registry:     reg,
		Orchestrator: engine.NewOrchestrator(reg, cfg.engine...),
		Store:        store.New(cfg.store...),
		logger:       cfg.logger,
	}
}

// On registers fn for the type of c. Registering a type twice returns a
// *DuplicateHandlerError.
func (r *Runtime) On(c Typed, fn HandlerFunc) error {
	return r.Registry.On(c, fn)
}

// MustOn is like On but panics on error, and returns r for chaining.
func (r *Runtime) MustOn(c Typed, fn HandlerFunc) *Runtime {
	r.Registry.MustOn(c, fn)
	return r
}

// Resubscribe registers fn for the type of c, replacing any existing
// handler.
func (r *Runtime) Resubscribe(c Typed, fn HandlerFunc) {
	r.Registry.Resubscribe(c, fn)
}

// Fulfill normalizes fetch against amb and resolves it with the default
// error policy.
func (r *Runtime) Fulfill(ctx context.Context, fetch *FetchMap, amb Ambient) (Accumulation, error) {
	return r.FulfillWith(ctx, fetch, amb, nil)
}

// FulfillWith is Fulfill with a custom error handler replacing the
// optional-action policy.
func (r *Runtime) FulfillWith(ctx context.Context, fetch *FetchMap, amb Ambient, onError ErrorHandler) (Accumulation, error) {
	actions, err := engine.NormalizeAll(fetch, amb)
	if err != nil {
		return nil, err
	}
	return r.Orchestrator.Fulfill(ctx, actions, amb, onError)
}

// Resolver returns the in-process Resolver.
func (r *Runtime) Resolver() Resolver {
	return r.Orchestrator
}

// Loader returns a page loader committing to the runtime's store. A nil
// resolver resolves in-process; pass a Client to resolve remotely.
func (r *Runtime) Loader(resolver Resolver) *Loader {
	if resolver == nil {
		resolver = r.Orchestrator
	}
	return loader.New(resolver, loader.WithStore(r.Store), loader.WithLogger(r.logger))
}

// Handler returns the HTTP resolve endpoint for this runtime. Mount it at
// DefaultPath.
func (r *Runtime) Handler(opts ...HandlerOption) *HTTPHandler {
	return r.HandlerWith(nil, opts...)
}

// HandlerWith is Handler with onError applied to every request it resolves.
func (r *Runtime) HandlerWith(onError ErrorHandler, opts ...HandlerOption) *HTTPHandler {
	opts = append([]transport.Option{transport.WithLogger(r.logger)}, opts...)
	return transport.NewHandler(r.resolverWith(onError), opts...)
}

// Bind returns middleware exposing a FulfillFunc for this runtime to
// downstream handlers. See FulfillFromContext.
func (r *Runtime) Bind() func(http.Handler) http.Handler {
	return r.BindWith(nil)
}

// BindWith is Bind with onError applied to every bound fulfill.
func (r *Runtime) BindWith(onError ErrorHandler) func(http.Handler) http.Handler {
	return transport.Bind(r.resolverWith(onError))
}

// Middleware answers POST DefaultPath itself and binds a FulfillFunc for
// every other request.
func (r *Runtime) Middleware(opts ...HandlerOption) func(http.Handler) http.Handler {
	return r.MiddlewareWith(nil, opts...)
}

// MiddlewareWith is Middleware with onError applied on both paths.
func (r *Runtime) MiddlewareWith(onError ErrorHandler, opts ...HandlerOption) func(http.Handler) http.Handler {
	opts = append([]transport.Option{transport.WithLogger(r.logger)}, opts...)
	return transport.Middleware(r.resolverWith(onError), opts...)
}

func (r *Runtime) resolverWith(onError ErrorHandler) Resolver {
	if onError == nil {
		return r.Orchestrator
	}
	return r.Orchestrator.Resolver(onError)
}
