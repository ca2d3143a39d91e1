// Package prepare is an embeddable action orchestration engine for Go.
//
// Pages and handlers declare the data they need as named actions; prepare
// resolves them in one pass, on the server or across HTTP, and hands back a
// map of results keyed by the names the caller chose. It runs fully in
// process and has no infrastructure requirements.
//
// # Core Concepts
//
// The programming model is small:
//
//  1. Creator
//  2. FetchMap
//  3. Registry
//  4. Orchestrator
//  5. Store and Loader
//  6. Runtime
//
// # Creator
//
// A Creator stamps out actions of one type. It carries the payload type P
// and the result type R of its handler:
//
//	var GetUser = prepare.NewCreator[int, User]("GET_USER")
//
//	GetUser.New(42)                       // literal payload
//	GetUser.New(42, prepare.Parallel())   // with options
//	GetUser.Derive(func(amb prepare.Ambient) (int, error) { ... })
//	GetUser.Ref()                         // nil payload
//
// Actions carry three options:
//   - Parallel: resolve concurrently, before the sequential ones
//   - Passive: skipped by the loader unless fetched explicitly
//   - Optional: a failure becomes a nil result
//
// # FetchMap
//
// A FetchMap is an ordered set of named entries. Use Fetch to build one:
//
//	fetch := prepare.Fetch().
//	    Add("config", GetConfig.New(nil, prepare.Parallel())).
//	    Add("user", GetUser.New(42)).
//	    Build()
//
// Normalizing a FetchMap evaluates derived payloads against the Ambient
// (the current page and any prior props) and yields an ActionMap.
//
// # Registry
//
// The Registry maps action types to handlers. Each type has exactly one
// handler; registering a second one fails unless Resubscribe is used.
// Handle and On adapt strongly-typed handlers.
//
// # Orchestrator
//
// The Orchestrator resolves an ActionMap:
//   - parallel actions start together and all settle before anything else
//   - sequential actions then run one at a time in insertion order, each
//     seeing the results accumulated so far
//   - a failure goes to the error handler when one is given, becomes nil
//     for optional actions, and aborts the fetch otherwise
//
// Missing handlers always abort. Handler panics surface as
// *HandlerPanicError.
//
// # Store and Loader
//
// The Store caches results on the consuming side. Commits run through
// middleware, merge into the current state, and notify subscribers.
//
// The Loader decides what a page still needs: keys present in the initial
// props or the cache are skipped, passive actions are skipped, and the rest
// is resolved through any Resolver, either in process or through a Client.
//
// # Runtime
//
// Runtime wires a Registry, Orchestrator and Store together and exposes the
// HTTP endpoint (Handler, Middleware) that Clients talk to:
//
//	rt := prepare.NewRuntime()
//	rt.MustOn(GetUser, prepare.Handle(getUser))
//
//	r := chi.NewRouter()
//	r.Post(prepare.DefaultPath, rt.Handler().ServeHTTP)
//
// # Summary
//
// Creators declare actions, FetchMaps group them per page, the Registry
// holds handlers, the Orchestrator resolves, and the Store and Loader
// keep the consuming side from asking twice.
//
// For a runnable server, see cmd/prepare.
package prepare
