package prepare

import (
	"context"

	"github.com/petrijr/prepare/internal/engine"
	"github.com/petrijr/prepare/internal/loader"
	"github.com/petrijr/prepare/internal/store"
	"github.com/petrijr/prepare/internal/transport"
	"github.com/petrijr/prepare/pkg/api"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Options      = api.Options
	Option       = api.Option
	Payload      = api.Payload
	PayloadFunc  = api.PayloadFunc
	RawAction    = api.RawAction
	Action       = api.Action
	Entry        = api.Entry
	Typed        = api.Typed
	TypeName     = api.TypeName
	FetchMap     = api.FetchMap
	ActionMap    = api.ActionMap
	Page         = api.Page
	Ambient      = api.Ambient
	Accumulation = api.Accumulation
	HandlerProps = api.HandlerProps
	HandlerFunc  = api.HandlerFunc
	ErrorHandler = api.ErrorHandler
	Resolver     = api.Resolver
	ResolverFunc = api.ResolverFunc
	State        = api.State
	Middleware   = api.Middleware
	Subscriber   = api.Subscriber
	Subscription = api.Subscription

	Observer             = api.Observer
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	CompositeObserver    = api.CompositeObserver
	NoopObserver         = api.NoopObserver
	Run                  = api.Run
	EntryInfo            = api.EntryInfo
	Outcome              = api.Outcome
	Phase                = api.Phase

	DuplicateHandlerError = api.DuplicateHandlerError
	MissingHandlerError   = api.MissingHandlerError
	HandlerPanicError     = api.HandlerPanicError
	TransportError        = api.TransportError
)

// Creator stamps out raw actions of one type. See api.Creator.
type Creator[P, R any] = api.Creator[P, R]

// TypedProps is what a typed handler receives. See api.TypedProps.
type TypedProps[P any] = api.TypedProps[P]

// Runtime building blocks, exported so callers never import internal
// packages.
type (
	Registry       = engine.Registry
	Orchestrator   = engine.Orchestrator
	Store          = store.Store
	Commit         = store.Commit
	Loader         = loader.Loader
	PageFetch      = loader.Page
	LoadResult     = loader.Result
	Client         = transport.Client
	HTTPHandler    = transport.Handler
	FulfillFunc    = transport.FulfillFunc
	ErrorResponder = transport.ErrorResponder
	HandlerOption  = transport.Option
	ClientOption   = transport.ClientOption
)

// Re-export option, payload and observer helpers.

var (
	Parallel = api.Parallel
	Passive  = api.Passive
	Optional = api.Optional

	Literal = api.Literal
	Derived = api.Derived

	NewFetchMap  = api.NewFetchMap
	NewActionMap = api.NewActionMap

	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver

	IsDuplicateHandler = api.IsDuplicateHandler
	IsMissingHandler   = api.IsMissingHandler
	ErrInvalidAction   = api.ErrInvalidAction
)

// Re-export outcome and phase values.

const (
	OutcomeResolved  = api.OutcomeResolved
	OutcomeRecovered = api.OutcomeRecovered
	OutcomeSwallowed = api.OutcomeSwallowed
	OutcomeFailed    = api.OutcomeFailed

	PhaseConcurrent = api.PhaseConcurrent
	PhaseSequential = api.PhaseSequential
)

// DefaultPath is where the HTTP resolve endpoint lives.
const DefaultPath = transport.DefaultPath

// NewCreator returns a Creator for typ. It panics on an empty type.
func NewCreator[P, R any](typ string) Creator[P, R] {
	return api.NewCreator[P, R](typ)
}

// Handle wraps a strongly-typed handler into a HandlerFunc.
func Handle[P, R any](fn func(context.Context, TypedProps[P]) (R, error)) HandlerFunc {
	return api.Handle(fn)
}

// Convert returns v as T, converting JSON-decoded values as needed.
func Convert[T any](v any) (T, error) {
	return api.Convert[T](v)
}

// Constructors
// These wrap the internal packages so external callers never need to
// import them.

// NewRegistry returns an empty handler registry.
func NewRegistry() *Registry {
	return engine.NewRegistry()
}

// Normalize resolves every entry of fetch into an action, evaluating
// derived payloads against amb.
func Normalize(fetch *FetchMap, amb Ambient) (*ActionMap, error) {
	return engine.NormalizeAll(fetch, amb)
}

// NewClient returns a Resolver that posts to the resolve endpoint under
// baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	return transport.NewClient(baseURL, opts...)
}

var (
	// WithHTTPClient sets the HTTP client a Client uses.
	WithHTTPClient = transport.WithHTTPClient

	// WithErrorResponder replaces the HTTP handler's failure response.
	WithErrorResponder = transport.WithErrorResponder
)

// NewHandler returns the HTTP resolve endpoint for any Resolver, such as
// Runtime.Orchestrator.Resolver(onError) or a Client acting as a proxy.
func NewHandler(resolver Resolver, opts ...HandlerOption) *HTTPHandler {
	return transport.NewHandler(resolver, opts...)
}

// FulfillFromContext returns the FulfillFunc bound to a request by
// Runtime.Bind.
func FulfillFromContext(ctx context.Context) (FulfillFunc, bool) {
	return transport.FulfillFromContext(ctx)
}
