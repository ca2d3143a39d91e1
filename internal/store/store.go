// Package store holds resolved results on the consuming side.
//
// A Store keeps an immutable snapshot of everything resolved so far. New
// results pass through an ordered middleware chain, are merged into a fresh
// snapshot and then broadcast to subscribers. Commits run in the background
// and report through a Commit handle.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/petrijr/prepare/pkg/api"
)

// ErrorSink receives commit failures that nobody else may be waiting for.
type ErrorSink func(ctx context.Context, err error)

type subscriber struct {
	id uint64
	fn api.Subscriber
}

// Store is a goroutine-safe, copy-on-write result store.
type Store struct {
	mu          sync.RWMutex
	state       api.State
	middleware  []api.Middleware
	subscribers []subscriber
	nextID      uint64

	// Serializes merge and notification so subscribers observe snapshots
	// in commit order.
	commitMu sync.Mutex

	inflight sync.WaitGroup
	logger   *slog.Logger
	sink     ErrorSink
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used by the default error sink.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithErrorSink replaces the default error sink, which logs.
func WithErrorSink(sink ErrorSink) Option {
	return func(s *Store) {
		s.sink = sink
	}
}

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		state:  api.State{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.sink == nil {
		s.sink = s.logFailure
	}
	return s
}

func (s *Store) logFailure(ctx context.Context, err error) {
	s.logger.ErrorContext(ctx, "store_commit_failed", slog.Any("error", err))
}

// Subscribe registers fn to receive every committed snapshot. Subscribers
// are notified in registration order.
func (s *Store) Subscribe(fn api.Subscriber) api.Subscription {
	if fn == nil {
		panic("store: nil subscriber")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	s.subscribers = append(s.subscribers, subscriber{id: s.nextID, fn: fn})
	return api.NewSubscription(s.nextID)
}

// Unsubscribe removes the subscriber behind sub. It reports whether one was
// removed.
func (s *Store) Unsubscribe(sub api.Subscription) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := slices.IndexFunc(s.subscribers, func(x subscriber) bool { return x.id == sub.ID() })
	if i < 0 {
		return false
	}
	s.subscribers = slices.Delete(s.subscribers, i, i+1)
	return true
}

// AddMiddleware appends mw to the chain every later commit passes through.
func (s *Store) AddMiddleware(mw api.Middleware) {
	if mw == nil {
		panic("store: nil middleware")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.middleware = append(s.middleware, mw)
}

// SetInitialState replaces the state with a copy of state. Subscribers are
// not notified.
func (s *Store) SetInitialState(state map[string]any) {
	next := make(api.State, len(state))
	maps.Copy(next, state)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = next
}

// GetState returns a copy of the current snapshot.
func (s *Store) GetState() api.State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return maps.Clone(s.state)
}

// SetResult commits result in the background and returns immediately.
//
// The commit ignores cancellation of ctx. Middleware runs in registration
// order; a middleware error aborts the commit, leaves the state untouched
// and is reported on the handle and to the error sink. A nil ctx is treated
// as context.Background.
func (s *Store) SetResult(ctx context.Context, result map[string]any) *Commit {
	if ctx == nil {
		ctx = context.Background()
	}
	c := newCommit()
	partial := maps.Clone(result)

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		s.commit(context.WithoutCancel(ctx), c, partial)
	}()

	return c
}

// Wait blocks until every commit started so far has finished. It must not be
// called from a subscriber or middleware: the commit running them counts as
// in flight, so Wait would never return.
func (s *Store) Wait() {
	s.inflight.Wait()
}

func (s *Store) commit(ctx context.Context, c *Commit, result map[string]any) {
	s.mu.RLock()
	chain := slices.Clone(s.middleware)
	s.mu.RUnlock()

	result, err := runChain(ctx, chain, result)
	if err != nil {
		err = fmt.Errorf("store: commit: %w", err)
		s.sink(ctx, err)
		c.finish(nil, err)
		return
	}

	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	s.mu.Lock()
	next := make(api.State, len(s.state)+len(result))
	maps.Copy(next, s.state)
	maps.Copy(next, result)
	s.state = next
	subs := slices.Clone(s.subscribers)
	s.mu.Unlock()

	for i, sub := range subs {
		if err := notify(sub.fn, maps.Clone(next)); err != nil {
			s.sink(ctx, fmt.Errorf("store: commit: subscriber %d: %w", i, err))
		}
	}

	c.finish(maps.Clone(next), nil)
}

func notify(fn api.Subscriber, state api.State) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	fn(state)
	return nil
}

func runChain(ctx context.Context, chain []api.Middleware, result map[string]any) (out map[string]any, err error) {
	for i, mw := range chain {
		out, err = callMiddleware(ctx, mw, result)
		if err != nil {
			return nil, fmt.Errorf("middleware %d: %w", i, err)
		}
		result = out
	}
	return result, nil
}

func callMiddleware(ctx context.Context, mw api.Middleware, result map[string]any) (out map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	return mw(ctx, result)
}

// Commit tracks one background SetResult.
type Commit struct {
	done  chan struct{}
	state api.State
	err   error
}

func newCommit() *Commit {
	return &Commit{done: make(chan struct{})}
}

func (c *Commit) finish(state api.State, err error) {
	c.state = state
	c.err = err
	close(c.done)
}

// Done is closed once the commit finished.
func (c *Commit) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the commit finished or ctx is done. It returns the
// snapshot the commit produced.
func (c *Commit) Wait(ctx context.Context) (api.State, error) {
	select {
	case <-c.done:
		return c.state, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Err returns the commit's error. It is nil while the commit is running.
func (c *Commit) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}
