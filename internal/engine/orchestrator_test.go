package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/petrijr/prepare/pkg/api"
)

var (
	simpleAction   = api.NewCreator[int, map[string]any]("SIMPLE_ACTION")
	parallelAction = api.NewCreator[[]string, string]("PARALLEL_ACTION")
)

// recordingHandler remembers the accumulation of every call, keyed by the
// action payload.
type recordingHandler struct {
	mu    sync.Mutex
	seen  map[any]api.Accumulation
	calls []any
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{seen: make(map[any]api.Accumulation)}
}

func (h *recordingHandler) handler(result func(payload any) (any, error)) api.HandlerFunc {
	return func(ctx context.Context, props api.HandlerProps) (any, error) {
		h.mu.Lock()
		h.seen[props.Action.Payload] = props.Accumulation
		h.calls = append(h.calls, props.Action.Payload)
		h.mu.Unlock()
		return result(props.Action.Payload)
	}
}

func actionsOf(t *testing.T, pairs ...any) *api.ActionMap {
	t.Helper()
	require.Zero(t, len(pairs)%2)

	out := api.NewActionMap()
	for i := 0; i < len(pairs); i += 2 {
		out.Set(pairs[i].(string), pairs[i+1].(api.Action))
	}
	return out
}

func seq(typ string, payload any) api.Action {
	return api.Action{Type: typ, Payload: payload}
}

func par(typ string, payload any) api.Action {
	return api.Action{Type: typ, Payload: payload, Options: api.Options{Parallel: true}}
}

func optional(a api.Action) api.Action {
	a.Options.Optional = true
	return a
}

func TestFulfillSimpleAction(t *testing.T) {
	reg := NewRegistry()
	reg.MustOn(simpleAction, constant(map[string]any{"d": 0}))
	orch := NewOrchestrator(reg)

	fetch := api.NewFetchMap()
	fetch.Set("simple", simpleAction.New(545).Entry())
	actions, err := NormalizeAll(fetch, api.Ambient{})
	require.NoError(t, err)

	out, err := orch.Fulfill(context.Background(), actions, api.Ambient{}, nil)
	require.NoError(t, err)
	require.Equal(t, api.Accumulation{"simple": map[string]any{"d": 0}}, out)
}

func TestFulfillParallelThenSequential(t *testing.T) {
	reg := NewRegistry()
	var simpleAcc api.Accumulation
	reg.MustOn(parallelAction, constant("P"))
	reg.MustOn(simpleAction, func(ctx context.Context, props api.HandlerProps) (any, error) {
		simpleAcc = props.Accumulation
		return map[string]any{}, nil
	})
	orch := NewOrchestrator(reg)

	fetch := api.NewFetchMap()
	fetch.Set("parallel", parallelAction.New([]string{"a", "b", "c"}, api.Parallel()).Entry())
	fetch.Set("simple", simpleAction.New(545).Entry())
	actions, err := NormalizeAll(fetch, api.Ambient{})
	require.NoError(t, err)

	out, err := orch.Fulfill(context.Background(), actions, api.Ambient{}, nil)
	require.NoError(t, err)
	require.Equal(t, api.Accumulation{"parallel": "P", "simple": map[string]any{}}, out)
	require.Equal(t, api.Accumulation{"parallel": "P"}, simpleAcc)
}

func TestFulfillEmpty(t *testing.T) {
	orch := NewOrchestrator(NewRegistry())

	out, err := orch.Fulfill(context.Background(), api.NewActionMap(), api.Ambient{}, nil)
	require.NoError(t, err)
	require.NotNil(t, out)
	require.Empty(t, out)

	out, err = orch.Fulfill(context.Background(), nil, api.Ambient{}, nil)
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestFulfillKeysMatchInput(t *testing.T) {
	reg := NewRegistry()
	reg.MustOn(api.TypeName("ECHO"), func(ctx context.Context, props api.HandlerProps) (any, error) {
		return props.Action.Payload, nil
	})
	orch := NewOrchestrator(reg)

	actions := actionsOf(t,
		"a", seq("ECHO", 1),
		"b", par("ECHO", 2),
		"c", seq("ECHO", 3),
		"d", par("ECHO", 4),
		"e", seq("ECHO", nil),
	)

	out, err := orch.Fulfill(context.Background(), actions, api.Ambient{}, nil)
	require.NoError(t, err)
	require.ElementsMatch(t, actions.Keys(), keysOf(out))
	require.Equal(t, api.Accumulation{"a": 1, "b": 2, "c": 3, "d": 4, "e": nil}, out)
}

func keysOf(acc api.Accumulation) []string {
	out := make([]string, 0, len(acc))
	for k := range acc {
		out = append(out, k)
	}
	return out
}

func TestFulfillParallelNeverSeesAccumulation(t *testing.T) {
	reg := NewRegistry()
	rec := newRecordingHandler()
	reg.MustOn(api.TypeName("ECHO"), rec.handler(func(p any) (any, error) { return p, nil }))
	orch := NewOrchestrator(reg)

	// Parallel entries placed after sequential ones still run first.
	actions := actionsOf(t,
		"s1", seq("ECHO", "s1"),
		"p1", par("ECHO", "p1"),
		"s2", seq("ECHO", "s2"),
		"p2", par("ECHO", "p2"),
	)

	_, err := orch.Fulfill(context.Background(), actions, api.Ambient{}, nil)
	require.NoError(t, err)

	require.Nil(t, rec.seen["p1"])
	require.Nil(t, rec.seen["p2"])
	require.Equal(t, api.Accumulation{"p1": "p1", "p2": "p2"}, rec.seen["s1"])
	require.Equal(t, api.Accumulation{"p1": "p1", "p2": "p2", "s1": "s1"}, rec.seen["s2"])
	require.Equal(t, []any{"s1", "s2"}, rec.calls[2:])
}

func TestFulfillSequentialSeesCopy(t *testing.T) {
	reg := NewRegistry()
	reg.MustOn(api.TypeName("MUTATE"), func(ctx context.Context, props api.HandlerProps) (any, error) {
		props.Accumulation["injected"] = true
		return "m", nil
	})
	reg.MustOn(api.TypeName("READ"), func(ctx context.Context, props api.HandlerProps) (any, error) {
		_, ok := props.Accumulation["injected"]
		return ok, nil
	})
	orch := NewOrchestrator(reg)

	out, err := orch.Fulfill(context.Background(), actionsOf(t,
		"m", seq("MUTATE", nil),
		"r", seq("READ", nil),
	), api.Ambient{}, nil)
	require.NoError(t, err)
	require.Equal(t, api.Accumulation{"m": "m", "r": false}, out)
}

func TestFulfillOptionalSwallowsAndContinues(t *testing.T) {
	boom := errors.New("boom")
	reg := NewRegistry()
	reg.MustOn(api.TypeName("FAIL"), func(ctx context.Context, props api.HandlerProps) (any, error) {
		return nil, boom
	})
	rec := newRecordingHandler()
	reg.MustOn(api.TypeName("ECHO"), rec.handler(func(p any) (any, error) { return p, nil }))
	orch := NewOrchestrator(reg)

	out, err := orch.Fulfill(context.Background(), actionsOf(t,
		"fails", optional(seq("FAIL", nil)),
		"pfails", optional(par("FAIL", nil)),
		"after", seq("ECHO", "after"),
	), api.Ambient{}, nil)
	require.NoError(t, err)
	require.Equal(t, api.Accumulation{"fails": nil, "pfails": nil, "after": "after"}, out)
	require.Equal(t, api.Accumulation{"fails": nil, "pfails": nil}, rec.seen["after"])
}

func TestFulfillRequiredFailureStopsFold(t *testing.T) {
	boom := errors.New("boom")
	reg := NewRegistry()
	reg.MustOn(api.TypeName("FAIL"), func(ctx context.Context, props api.HandlerProps) (any, error) {
		return nil, boom
	})
	rec := newRecordingHandler()
	reg.MustOn(api.TypeName("ECHO"), rec.handler(func(p any) (any, error) { return p, nil }))
	orch := NewOrchestrator(reg)

	out, err := orch.Fulfill(context.Background(), actionsOf(t,
		"before", seq("ECHO", "before"),
		"fails", seq("FAIL", nil),
		"after", seq("ECHO", "after"),
	), api.Ambient{}, nil)
	require.Nil(t, out)
	require.Equal(t, boom, err)
	require.Equal(t, []any{"before"}, rec.calls)
}

func TestFulfillErrorHandlerRecovers(t *testing.T) {
	boom := errors.New("boom")
	reg := NewRegistry()
	reg.MustOn(api.TypeName("FAIL"), func(ctx context.Context, props api.HandlerProps) (any, error) {
		return nil, boom
	})
	reg.MustOn(api.TypeName("ECHO"), func(ctx context.Context, props api.HandlerProps) (any, error) {
		return props.Accumulation["fails"], nil
	})
	orch := NewOrchestrator(reg)

	var gotErr error
	var gotAction api.Action
	onError := func(ctx context.Context, err error, action api.Action, amb api.Ambient, acc api.Accumulation) (any, error) {
		gotErr = err
		gotAction = action
		return "fallback", nil
	}

	out, err := orch.Fulfill(context.Background(), actionsOf(t,
		"fails", seq("FAIL", 9),
		"after", seq("ECHO", nil),
	), api.Ambient{}, onError)
	require.NoError(t, err)
	require.Equal(t, api.Accumulation{"fails": "fallback", "after": "fallback"}, out)
	require.Equal(t, boom, gotErr)
	require.Equal(t, 9, gotAction.Payload)
}

func TestFulfillErrorHandlerConcurrentPhase(t *testing.T) {
	reg := NewRegistry()
	reg.MustOn(api.TypeName("FAIL"), func(ctx context.Context, props api.HandlerProps) (any, error) {
		return nil, errors.New("boom")
	})
	reg.MustOn(api.TypeName("OK"), constant("ok"))
	var readerSaw api.Accumulation
	reg.MustOn(api.TypeName("READ"), func(ctx context.Context, props api.HandlerProps) (any, error) {
		readerSaw = props.Accumulation
		return props.Accumulation["concurrent"], nil
	})
	orch := NewOrchestrator(reg)

	var mu sync.Mutex
	accs := make(map[any]api.Accumulation)
	onError := func(ctx context.Context, err error, action api.Action, amb api.Ambient, acc api.Accumulation) (any, error) {
		mu.Lock()
		defer mu.Unlock()
		accs[action.Payload] = acc
		return "recovered " + action.Payload.(string), nil
	}

	out, err := orch.Fulfill(context.Background(), actionsOf(t,
		"concurrent", par("FAIL", "c"),
		"sibling", par("OK", nil),
		"sequential", seq("FAIL", "s"),
		"reader", seq("READ", nil),
	), api.Ambient{}, onError)
	require.NoError(t, err)
	require.Equal(t, api.Accumulation{
		"concurrent": "recovered c",
		"sibling":    "ok",
		"sequential": "recovered s",
		"reader":     "recovered c",
	}, out)

	require.Len(t, accs, 2)
	concurrentAcc, ok := accs["c"]
	require.True(t, ok)
	require.Nil(t, concurrentAcc)
	require.Equal(t, api.Accumulation{"concurrent": "recovered c", "sibling": "ok"}, accs["s"])
	require.Equal(t, api.Accumulation{
		"concurrent": "recovered c",
		"sibling":    "ok",
		"sequential": "recovered s",
	}, readerSaw)
}

func TestFulfillErrorHandlerOverridesOptional(t *testing.T) {
	reg := NewRegistry()
	reg.MustOn(api.TypeName("FAIL"), func(ctx context.Context, props api.HandlerProps) (any, error) {
		return nil, errors.New("boom")
	})
	orch := NewOrchestrator(reg)

	escalated := errors.New("escalated")
	onError := func(ctx context.Context, err error, action api.Action, amb api.Ambient, acc api.Accumulation) (any, error) {
		return nil, escalated
	}

	_, err := orch.Fulfill(context.Background(), actionsOf(t,
		"fails", optional(seq("FAIL", nil)),
	), api.Ambient{}, onError)
	require.Equal(t, escalated, err)
}

func TestFulfillMissingHandlerIsAlwaysFatal(t *testing.T) {
	orch := NewOrchestrator(NewRegistry())

	called := false
	onError := func(ctx context.Context, err error, action api.Action, amb api.Ambient, acc api.Accumulation) (any, error) {
		called = true
		return "fallback", nil
	}

	_, err := orch.Fulfill(context.Background(), actionsOf(t,
		"x", optional(seq("UNKNOWN", nil)),
	), api.Ambient{}, onError)
	require.True(t, api.IsMissingHandler(err))
	require.EqualError(t, err, "handler with type UNKNOWN is missing")
	require.False(t, called)

	_, err = orch.Fulfill(context.Background(), actionsOf(t,
		"y", optional(par("UNKNOWN", nil)),
	), api.Ambient{}, nil)
	require.True(t, api.IsMissingHandler(err))
}

func TestFulfillConcurrentFailureWaitsForSiblings(t *testing.T) {
	errA := errors.New("a failed")
	errB := errors.New("b failed")

	var finished atomic.Bool
	reg := NewRegistry()
	reg.MustOn(api.TypeName("SLOW_FAIL_A"), func(ctx context.Context, props api.HandlerProps) (any, error) {
		time.Sleep(30 * time.Millisecond)
		return nil, errA
	})
	reg.MustOn(api.TypeName("FAST_FAIL_B"), func(ctx context.Context, props api.HandlerProps) (any, error) {
		return nil, errB
	})
	reg.MustOn(api.TypeName("SLOW_OK"), func(ctx context.Context, props api.HandlerProps) (any, error) {
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
		return "ok", nil
	})
	seqCalled := false
	reg.MustOn(api.TypeName("SEQ"), func(ctx context.Context, props api.HandlerProps) (any, error) {
		seqCalled = true
		return nil, nil
	})
	orch := NewOrchestrator(reg)

	_, err := orch.Fulfill(context.Background(), actionsOf(t,
		"a", par("SLOW_FAIL_A", nil),
		"b", par("FAST_FAIL_B", nil),
		"c", par("SLOW_OK", nil),
		"s", seq("SEQ", nil),
	), api.Ambient{}, nil)

	// The first failing entry in insertion order is reported, even though b
	// failed earlier.
	require.Equal(t, errA, err)
	require.True(t, finished.Load(), "siblings must settle before Fulfill returns")
	require.False(t, seqCalled)
}

func TestFulfillRecoversPanics(t *testing.T) {
	reg := NewRegistry()
	reg.MustOn(api.TypeName("PANIC"), func(ctx context.Context, props api.HandlerProps) (any, error) {
		panic("kaboom")
	})
	orch := NewOrchestrator(reg)

	_, err := orch.Fulfill(context.Background(), actionsOf(t,
		"p", par("PANIC", nil),
	), api.Ambient{}, nil)
	var pe *api.HandlerPanicError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, "PANIC", pe.Type)
	require.Equal(t, "kaboom", pe.Value)

	out, err := orch.Fulfill(context.Background(), actionsOf(t,
		"p", optional(seq("PANIC", nil)),
	), api.Ambient{}, nil)
	require.NoError(t, err)
	require.Equal(t, api.Accumulation{"p": nil}, out)
}

func TestFulfillStopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := NewRegistry()
	reg.MustOn(api.TypeName("CANCEL"), func(ctx context.Context, props api.HandlerProps) (any, error) {
		cancel()
		return "done", nil
	})
	afterCalled := false
	reg.MustOn(api.TypeName("AFTER"), func(ctx context.Context, props api.HandlerProps) (any, error) {
		afterCalled = true
		return nil, nil
	})
	orch := NewOrchestrator(reg)

	_, err := orch.Fulfill(ctx, actionsOf(t,
		"c", seq("CANCEL", nil),
		"a", seq("AFTER", nil),
	), api.Ambient{}, nil)
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, afterCalled)
}

func TestFulfillConcurrencyLimit(t *testing.T) {
	var inFlight, peak atomic.Int32
	reg := NewRegistry()
	reg.MustOn(api.TypeName("WORK"), func(ctx context.Context, props api.HandlerProps) (any, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return props.Action.Payload, nil
	})
	orch := NewOrchestrator(reg, WithConcurrencyLimit(2))

	actions := api.NewActionMap()
	for _, k := range []string{"a", "b", "c", "d", "e", "f"} {
		actions.Set(k, par("WORK", k))
	}

	out, err := orch.Fulfill(context.Background(), actions, api.Ambient{}, nil)
	require.NoError(t, err)
	require.Len(t, out, 6)
	require.LessOrEqual(t, peak.Load(), int32(2))
}

func TestResolverBindsErrorHandler(t *testing.T) {
	reg := NewRegistry()
	reg.MustOn(api.TypeName("FAIL"), func(ctx context.Context, props api.HandlerProps) (any, error) {
		return nil, errors.New("boom")
	})
	orch := NewOrchestrator(reg)

	actions := actionsOf(t, "f", seq("FAIL", nil))

	_, err := orch.Resolve(context.Background(), actions, api.Ambient{})
	require.Error(t, err)

	resolver := orch.Resolver(func(ctx context.Context, err error, action api.Action, amb api.Ambient, acc api.Accumulation) (any, error) {
		return "recovered", nil
	})
	out, err := resolver.Resolve(context.Background(), actions, api.Ambient{})
	require.NoError(t, err)
	require.Equal(t, api.Accumulation{"f": "recovered"}, out)
}

// fakeObserver records orchestrator callbacks.
type fakeObserver struct {
	mu sync.Mutex

	runs      []api.Run
	starts    []string
	outcomes  map[string]api.Outcome
	completed []error
}

func (o *fakeObserver) OnFulfillStart(ctx context.Context, run api.Run) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.runs = append(o.runs, run)
}

func (o *fakeObserver) OnEntryStart(ctx context.Context, run api.Run, entry api.EntryInfo) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.starts = append(o.starts, entry.Key)
}

func (o *fakeObserver) OnEntryCompleted(ctx context.Context, run api.Run, entry api.EntryInfo, outcome api.Outcome, err error, d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.outcomes == nil {
		o.outcomes = make(map[string]api.Outcome)
	}
	o.outcomes[entry.Key] = outcome
}

func (o *fakeObserver) OnFulfillCompleted(ctx context.Context, run api.Run, err error, d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.completed = append(o.completed, err)
}

func TestFulfillNotifiesObserverAndTraces(t *testing.T) {
	obs := &fakeObserver{}
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))

	reg := NewRegistry()
	reg.MustOn(api.TypeName("OK"), constant("ok"))
	reg.MustOn(api.TypeName("FAIL"), func(ctx context.Context, props api.HandlerProps) (any, error) {
		return nil, errors.New("boom")
	})
	orch := NewOrchestrator(reg, WithObserver(obs), WithTracerProvider(tp))

	_, err := orch.Fulfill(context.Background(), actionsOf(t,
		"p", par("OK", nil),
		"o", optional(seq("FAIL", nil)),
		"s", seq("OK", nil),
	), api.Ambient{}, nil)
	require.NoError(t, err)

	require.Len(t, obs.runs, 1)
	assert.NotEmpty(t, obs.runs[0].ID)
	assert.Equal(t, 1, obs.runs[0].Concurrent)
	assert.Equal(t, 2, obs.runs[0].Sequential)
	assert.Equal(t, []string{"p", "o", "s"}, obs.starts)
	assert.Equal(t, map[string]api.Outcome{
		"p": api.OutcomeResolved,
		"o": api.OutcomeSwallowed,
		"s": api.OutcomeResolved,
	}, obs.outcomes)
	assert.Equal(t, []error{nil}, obs.completed)

	names := make(map[string]int)
	for _, span := range sr.Ended() {
		names[span.Name()]++
	}
	assert.Equal(t, map[string]int{"prepare.fulfill": 1, "prepare.entry": 3}, names)
}

func TestFulfillWithBasicMetrics(t *testing.T) {
	metrics := &api.BasicMetrics{}
	reg := NewRegistry()
	reg.MustOn(api.TypeName("OK"), constant("ok"))
	reg.MustOn(api.TypeName("FAIL"), func(ctx context.Context, props api.HandlerProps) (any, error) {
		return nil, errors.New("boom")
	})
	orch := NewOrchestrator(reg, WithObserver(api.NewCompositeObserver(metrics, api.NewLoggingObserver(nil))))

	_, err := orch.Fulfill(context.Background(), actionsOf(t,
		"a", seq("OK", nil),
		"b", optional(seq("FAIL", nil)),
	), api.Ambient{}, nil)
	require.NoError(t, err)

	_, err = orch.Fulfill(context.Background(), actionsOf(t,
		"c", seq("FAIL", nil),
	), api.Ambient{}, nil)
	require.Error(t, err)

	snap := metrics.Snapshot()
	require.Equal(t, int64(2), snap.FulfillsStarted)
	require.Equal(t, int64(1), snap.FulfillsCompleted)
	require.Equal(t, int64(1), snap.FulfillsFailed)
	require.Equal(t, int64(1), snap.EntriesResolved)
	require.Equal(t, int64(1), snap.EntriesSwallowed)
	require.Equal(t, int64(1), snap.EntriesFailed)
}
