package api

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Phase tells which orchestration phase ran an entry.
type Phase string

const (
	PhaseConcurrent Phase = "concurrent"
	PhaseSequential Phase = "sequential"
)

// Outcome classifies how an entry finished.
type Outcome string

const (
	// OutcomeResolved: the handler returned a result.
	OutcomeResolved Outcome = "resolved"
	// OutcomeRecovered: the handler failed and the error handler supplied
	// the result.
	OutcomeRecovered Outcome = "recovered"
	// OutcomeSwallowed: the handler failed on an optional action and the
	// result became nil.
	OutcomeSwallowed Outcome = "swallowed"
	// OutcomeFailed: the failure propagated out of the fetch.
	OutcomeFailed Outcome = "failed"
)

// Run describes one Fulfill call.
type Run struct {
	ID         string
	Concurrent int
	Sequential int
}

// EntryInfo describes one entry being resolved.
type EntryInfo struct {
	Key    string
	Action Action
	Phase  Phase
}

// Observer receives callbacks from the orchestrator for logging and metrics.
//
// Implementations should be fast and non-blocking. Entry callbacks for
// parallel actions arrive from multiple goroutines.
type Observer interface {
	// OnFulfillStart is called before any entry runs.
	OnFulfillStart(ctx context.Context, run Run)

	// OnEntryStart is called before a handler is invoked.
	OnEntryStart(ctx context.Context, run Run, entry EntryInfo)

	// OnEntryCompleted is called after the error policy was applied. err is
	// the handler's error, if any, even when the outcome recovered from it.
	OnEntryCompleted(ctx context.Context, run Run, entry EntryInfo, outcome Outcome, err error, duration time.Duration)

	// OnFulfillCompleted is called once with the fetch's final error.
	OnFulfillCompleted(ctx context.Context, run Run, err error, duration time.Duration)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnFulfillStart(ctx context.Context, run Run)                 {}
func (NoopObserver) OnEntryStart(ctx context.Context, run Run, entry EntryInfo) {}
func (NoopObserver) OnEntryCompleted(ctx context.Context, run Run, entry EntryInfo, outcome Outcome, err error, d time.Duration) {
}
func (NoopObserver) OnFulfillCompleted(ctx context.Context, run Run, err error, d time.Duration) {}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnFulfillStart(ctx context.Context, run Run) {
	for _, o := range c.observers {
		o.OnFulfillStart(ctx, run)
	}
}

func (c *CompositeObserver) OnEntryStart(ctx context.Context, run Run, entry EntryInfo) {
	for _, o := range c.observers {
		o.OnEntryStart(ctx, run, entry)
	}
}

func (c *CompositeObserver) OnEntryCompleted(ctx context.Context, run Run, entry EntryInfo, outcome Outcome, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnEntryCompleted(ctx, run, entry, outcome, err, d)
	}
}

func (c *CompositeObserver) OnFulfillCompleted(ctx context.Context, run Run, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnFulfillCompleted(ctx, run, err, d)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs fetch and entry events
// using the provided slog.Logger. If logger is nil, slog.Default() is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnFulfillStart(ctx context.Context, run Run) {
	o.Logger.DebugContext(ctx, "fulfill_start",
		slog.String("run_id", run.ID),
		slog.Int("concurrent", run.Concurrent),
		slog.Int("sequential", run.Sequential),
	)
}

func (o *LoggingObserver) OnEntryStart(ctx context.Context, run Run, entry EntryInfo) {
	o.Logger.DebugContext(ctx, "entry_start",
		slog.String("run_id", run.ID),
		slog.String("key", entry.Key),
		slog.String("type", entry.Action.Type),
		slog.String("phase", string(entry.Phase)),
	)
}

func (o *LoggingObserver) OnEntryCompleted(ctx context.Context, run Run, entry EntryInfo, outcome Outcome, err error, d time.Duration) {
	level := slog.LevelDebug
	switch outcome {
	case OutcomeRecovered, OutcomeSwallowed:
		level = slog.LevelWarn
	case OutcomeFailed:
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "entry_completed",
		slog.String("run_id", run.ID),
		slog.String("key", entry.Key),
		slog.String("type", entry.Action.Type),
		slog.String("phase", string(entry.Phase)),
		slog.String("outcome", string(outcome)),
		slog.Duration("duration", d),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnFulfillCompleted(ctx context.Context, run Run, err error, d time.Duration) {
	if err != nil {
		o.Logger.ErrorContext(ctx, "fulfill_failed",
			slog.String("run_id", run.ID),
			slog.Duration("duration", d),
			slog.Any("error", err),
		)
		return
	}
	o.Logger.InfoContext(ctx, "fulfill_completed",
		slog.String("run_id", run.ID),
		slog.Int("entries", run.Concurrent+run.Sequential),
		slog.Duration("duration", d),
	)
}

// BasicMetrics collects simple counters and aggregate entry durations.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	fulfillsStarted   atomic.Int64
	fulfillsCompleted atomic.Int64
	fulfillsFailed    atomic.Int64
	entriesResolved   atomic.Int64
	entriesRecovered  atomic.Int64
	entriesSwallowed  atomic.Int64
	entriesFailed     atomic.Int64
	totalEntryTime    atomic.Int64 // nanoseconds
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	FulfillsStarted   int64
	FulfillsCompleted int64
	FulfillsFailed    int64

	EntriesResolved  int64
	EntriesRecovered int64
	EntriesSwallowed int64
	EntriesFailed    int64
	AvgEntryDuration time.Duration
}

func (m *BasicMetrics) OnFulfillStart(ctx context.Context, run Run) {
	m.fulfillsStarted.Add(1)
}

func (m *BasicMetrics) OnEntryCompleted(ctx context.Context, run Run, entry EntryInfo, outcome Outcome, err error, d time.Duration) {
	switch outcome {
	case OutcomeResolved:
		m.entriesResolved.Add(1)
		// Only successful entries count toward the average duration.
		m.totalEntryTime.Add(d.Nanoseconds())
	case OutcomeRecovered:
		m.entriesRecovered.Add(1)
	case OutcomeSwallowed:
		m.entriesSwallowed.Add(1)
	case OutcomeFailed:
		m.entriesFailed.Add(1)
	}
}

func (m *BasicMetrics) OnFulfillCompleted(ctx context.Context, run Run, err error, d time.Duration) {
	if err != nil {
		m.fulfillsFailed.Add(1)
		return
	}
	m.fulfillsCompleted.Add(1)
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	resolved := m.entriesResolved.Load()
	totalNs := m.totalEntryTime.Load()

	var avg time.Duration
	if resolved > 0 {
		avg = time.Duration(totalNs / resolved)
	}

	return BasicMetricsSnapshot{
		FulfillsStarted:   m.fulfillsStarted.Load(),
		FulfillsCompleted: m.fulfillsCompleted.Load(),
		FulfillsFailed:    m.fulfillsFailed.Load(),
		EntriesResolved:   resolved,
		EntriesRecovered:  m.entriesRecovered.Load(),
		EntriesSwallowed:  m.entriesSwallowed.Load(),
		EntriesFailed:     m.entriesFailed.Load(),
		AvgEntryDuration:  avg,
	}
}
