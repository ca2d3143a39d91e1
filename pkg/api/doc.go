// Package api contains the core building blocks of the prepare action
// orchestration engine: the action model, handler contracts, errors and
// observability hooks.
//
// Most users interact with the higher-level prepare package, which
// re-exports selected types and helpers from this package. The api package
// is intended for custom integrations, such as alternative transports or
// result stores.
//
// # Actions
//
// A page declares its data needs as a FetchMap: an insertion-ordered set of
// named entries. Each entry is either a RawAction built by a Creator, or a
// bare creator reference (Creator.Ref) meaning "resolve with a nil payload".
//
// A RawAction's Payload is a tagged variant:
//
//   - Literal(v): the payload is v.
//   - Derived(fn): the payload is fn(ambient), evaluated at normalization.
//
// Normalizing a FetchMap yields an ActionMap of resolved Actions, which is
// what orchestrators and transports exchange.
//
// # Options
//
//   - Parallel: resolve concurrently, before sequential actions, without
//     seeing the accumulation.
//   - Passive: skip during automatic loading; resolve only when asked.
//   - Optional: turn a failure into a nil result.
//
// # Handlers
//
// A HandlerFunc computes the result of every action of one type. Handle
// adapts strongly-typed handlers and converts payloads decoded from JSON.
//
// # Observability
//
// Observer receives fetch and entry lifecycle callbacks. LoggingObserver,
// BasicMetrics and CompositeObserver cover the common cases.
package api
