// Package transport exposes a Resolver over HTTP and consumes one.
//
// The server answers POST /prepare with {"fetch": {...}, "page": {...}}
// bodies. Client is the matching Resolver, so the same orchestration runs
// whether actions are resolved in-process or remotely.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/petrijr/prepare/pkg/api"
)

const (
	// DefaultPath is where the resolve endpoint is mounted.
	DefaultPath = "/prepare"

	maxBodySize = 1 << 20 // 1 MB
)

// request is the body of POST /prepare.
type request struct {
	Fetch *api.ActionMap `json:"fetch"`
	Page  *api.Page      `json:"page,omitempty"`
}

// ErrorResponder writes the response for a failed fetch.
type ErrorResponder func(w http.ResponseWriter, r *http.Request, err error)

// Handler serves the resolve endpoint.
type Handler struct {
	resolver api.Resolver
	respond  ErrorResponder
	logger   *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithErrorResponder replaces the default failure response, a 400 with an
// empty body.
func WithErrorResponder(fn ErrorResponder) Option {
	return func(h *Handler) {
		if fn != nil {
			h.respond = fn
		}
	}
}

// WithLogger sets the logger used to report failed fetches.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHandler returns a Handler resolving through resolver.
func NewHandler(resolver api.Resolver, opts ...Option) *Handler {
	h := &Handler{
		resolver: resolver,
		respond:  badRequest,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func badRequest(w http.ResponseWriter, r *http.Request, err error) {
	w.WriteHeader(http.StatusBadRequest)
}

// Mount registers the endpoint on r at DefaultPath.
func (h *Handler) Mount(r chi.Router) {
	r.Post(DefaultPath, h.ServeHTTP)
}

// ServeHTTP decodes the fetch, resolves it and writes the results as JSON.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req request
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, r, err)
		return
	}

	amb := api.Ambient{Page: api.PageFromRequest(r)}
	if req.Page != nil {
		amb.Page = *req.Page
		amb.Page.Request = r
	}

	actions := req.Fetch
	if actions == nil {
		actions = api.NewActionMap()
	}
	if err := validate(actions); err != nil {
		h.fail(w, r, err)
		return
	}

	result, err := h.resolver.Resolve(r.Context(), actions, amb)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(result); err != nil {
		h.logger.ErrorContext(r.Context(), "prepare_encode_failed", slog.Any("error", err))
	}
}

func validate(actions *api.ActionMap) error {
	for key, action := range actions.All() {
		if action.Type == "" {
			return fmt.Errorf("%w: %q has no type", api.ErrInvalidAction, key)
		}
	}
	return nil
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.WarnContext(r.Context(), "prepare_request_failed",
		slog.String("path", r.URL.Path),
		slog.Any("error", err),
	)
	h.respond(w, r, err)
}

// FulfillFunc resolves actions with the ambient of the request it was bound
// to.
type FulfillFunc func(ctx context.Context, actions *api.ActionMap) (api.Accumulation, error)

type fulfillKey struct{}

// Bind returns middleware that makes a FulfillFunc for resolver available
// to downstream handlers through FulfillFromContext.
func Bind(resolver api.Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			amb := api.Ambient{Page: api.PageFromRequest(r)}
			fulfill := FulfillFunc(func(ctx context.Context, actions *api.ActionMap) (api.Accumulation, error) {
				return resolver.Resolve(ctx, actions, amb)
			})
			ctx := context.WithValue(r.Context(), fulfillKey{}, fulfill)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// FulfillFromContext returns the FulfillFunc bound by Bind.
func FulfillFromContext(ctx context.Context) (FulfillFunc, bool) {
	fn, ok := ctx.Value(fulfillKey{}).(FulfillFunc)
	return fn, ok
}

// Middleware answers POST requests to DefaultPath itself and binds a
// FulfillFunc for every other request before passing it on.
func Middleware(resolver api.Resolver, opts ...Option) func(http.Handler) http.Handler {
	h := NewHandler(resolver, opts...)
	bind := Bind(resolver)
	return func(next http.Handler) http.Handler {
		bound := bind(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost && r.URL.Path == DefaultPath {
				h.ServeHTTP(w, r)
				return
			}
			bound.ServeHTTP(w, r)
		})
	}
}
