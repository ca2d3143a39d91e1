package engine

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/petrijr/prepare/pkg/api"
)

const tracerName = "github.com/petrijr/prepare/internal/engine"

// Orchestrator resolves action maps through a Registry.
//
// Parallel actions run first, concurrently, without an accumulation. The
// remaining actions then run one at a time in insertion order, each seeing a
// copy of everything resolved before it.
type Orchestrator struct {
	registry *Registry
	observer api.Observer
	tracer   trace.Tracer
	limit    int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithObserver sets the observer notified about fetches and entries.
func WithObserver(obs api.Observer) Option {
	return func(o *Orchestrator) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithConcurrencyLimit caps how many parallel actions run at once.
// n <= 0 means no limit.
func WithConcurrencyLimit(n int) Option {
	return func(o *Orchestrator) {
		o.limit = n
	}
}

// WithTracerProvider sets the provider used for fulfill and entry spans.
// Defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *Orchestrator) {
		if tp != nil {
			o.tracer = tp.Tracer(tracerName)
		}
	}
}

// NewOrchestrator returns an Orchestrator dispatching through reg.
func NewOrchestrator(reg *Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry: reg,
		observer: api.NoopObserver{},
		tracer:   otel.GetTracerProvider().Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Registry returns the registry o dispatches through.
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// Resolve implements api.Resolver using the default error policy.
func (o *Orchestrator) Resolve(ctx context.Context, actions *api.ActionMap, amb api.Ambient) (api.Accumulation, error) {
	return o.Fulfill(ctx, actions, amb, nil)
}

// Resolver returns an api.Resolver that fulfills with onError.
func (o *Orchestrator) Resolver(onError api.ErrorHandler) api.Resolver {
	return api.ResolverFunc(func(ctx context.Context, actions *api.ActionMap, amb api.Ambient) (api.Accumulation, error) {
		return o.Fulfill(ctx, actions, amb, onError)
	})
}

type keyedAction struct {
	key    string
	action api.Action
}

func partition(actions *api.ActionMap) (concurrent, sequential []keyedAction) {
	for key, action := range actions.All() {
		ka := keyedAction{key: key, action: action}
		if action.Options.Parallel {
			concurrent = append(concurrent, ka)
		} else {
			sequential = append(sequential, ka)
		}
	}
	return concurrent, sequential
}

// Fulfill resolves every action and returns one result per key.
//
// A failing action is handled in this order: onError, when non-nil, supplies
// the result (or escalates by returning an error); otherwise an optional
// action resolves to nil; otherwise the error is returned and no further
// sequential action starts. A missing handler is always returned.
//
// Parallel actions all settle before Fulfill reports a failure among them;
// when several fail, the first one in insertion order wins.
func (o *Orchestrator) Fulfill(ctx context.Context, actions *api.ActionMap, amb api.Ambient, onError api.ErrorHandler) (api.Accumulation, error) {
	acc := make(api.Accumulation, actions.Len())
	if actions.Len() == 0 {
		return acc, nil
	}

	concurrent, sequential := partition(actions)
	run := api.Run{
		ID:         ulid.Make().String(),
		Concurrent: len(concurrent),
		Sequential: len(sequential),
	}

	ctx, span := o.tracer.Start(ctx, "prepare.fulfill", trace.WithAttributes(
		attribute.String("prepare.run_id", run.ID),
		attribute.Int("prepare.concurrent", run.Concurrent),
		attribute.Int("prepare.sequential", run.Sequential),
	))
	defer span.End()

	start := time.Now()
	o.observer.OnFulfillStart(ctx, run)

	err := o.runConcurrent(ctx, run, concurrent, amb, onError, acc)
	if err == nil {
		err = o.runSequential(ctx, run, sequential, amb, onError, acc)
	}

	o.observer.OnFulfillCompleted(ctx, run, err, time.Since(start))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return acc, nil
}

func (o *Orchestrator) runConcurrent(
	ctx context.Context,
	run api.Run,
	entries []keyedAction,
	amb api.Ambient,
	onError api.ErrorHandler,
	acc api.Accumulation,
) error {
	if len(entries) == 0 {
		return nil
	}

	results := make([]any, len(entries))
	errs := make([]error, len(entries))

	// No derived context: a failing sibling must not cancel the others.
	var g errgroup.Group
	if o.limit > 0 {
		g.SetLimit(o.limit)
	}

	for i, e := range entries {
		g.Go(func() error {
			results[i], errs[i] = o.resolveEntry(ctx, run, e, api.PhaseConcurrent, amb, nil, onError)
			return errs[i]
		})
	}

	waitErr := g.Wait()

	for i, e := range entries {
		if errs[i] == nil {
			acc[e.key] = results[i]
		}
	}

	if waitErr == nil {
		return nil
	}
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return waitErr
}

func (o *Orchestrator) runSequential(
	ctx context.Context,
	run api.Run,
	entries []keyedAction,
	amb api.Ambient,
	onError api.ErrorHandler,
	acc api.Accumulation,
) error {
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}

		result, err := o.resolveEntry(ctx, run, e, api.PhaseSequential, amb, acc.Clone(), onError)
		if err != nil {
			return err
		}
		acc[e.key] = result
	}
	return nil
}

func (o *Orchestrator) resolveEntry(
	ctx context.Context,
	run api.Run,
	e keyedAction,
	phase api.Phase,
	amb api.Ambient,
	acc api.Accumulation,
	onError api.ErrorHandler,
) (any, error) {
	info := api.EntryInfo{Key: e.key, Action: e.action, Phase: phase}

	ctx, span := o.tracer.Start(ctx, "prepare.entry", trace.WithAttributes(
		attribute.String("prepare.key", e.key),
		attribute.String("prepare.type", e.action.Type),
		attribute.String("prepare.phase", string(phase)),
	))
	defer span.End()

	start := time.Now()
	o.observer.OnEntryStart(ctx, run, info)

	result, cause := o.invoke(ctx, e.action, amb, acc)

	outcome := api.OutcomeResolved
	var err error
	if cause != nil {
		result, outcome, err = applyPolicy(ctx, cause, e.action, amb, acc, onError)
		span.RecordError(cause)
	}

	span.SetAttributes(attribute.String("prepare.outcome", string(outcome)))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}

	o.observer.OnEntryCompleted(ctx, run, info, outcome, cause, time.Since(start))

	return result, err
}

// invoke calls the handler, turning a panic into a *api.HandlerPanicError.
func (o *Orchestrator) invoke(ctx context.Context, action api.Action, amb api.Ambient, acc api.Accumulation) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = &api.HandlerPanicError{Type: action.Type, Value: r}
		}
	}()
	return o.registry.Process(ctx, action, amb, acc)
}

func applyPolicy(
	ctx context.Context,
	cause error,
	action api.Action,
	amb api.Ambient,
	acc api.Accumulation,
	onError api.ErrorHandler,
) (any, api.Outcome, error) {
	if api.IsMissingHandler(cause) {
		return nil, api.OutcomeFailed, cause
	}

	if onError != nil {
		result, err := onError(ctx, cause, action, amb, acc)
		if err != nil {
			return nil, api.OutcomeFailed, err
		}
		return result, api.OutcomeRecovered, nil
	}

	if action.Options.Optional {
		return nil, api.OutcomeSwallowed, nil
	}

	return nil, api.OutcomeFailed, cause
}
