package api

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Observer receives callbacks from the checkpoint engine for logging and
// metrics.
//
// Implementations should be fast and non-blocking; heavy work should be done
// asynchronously so as not to delay checkpoint processing.
type Observer interface {
	// OnCheckpointStart is called once per ProcessCheckpoint invocation,
	// before any storage access.
	OnCheckpointStart(ctx context.Context, pmName, instanceID string, position int64)

	// OnCheckpointProcessed is called when a checkpoint reaches the
	// processed shape, after the finalize write succeeded.
	OnCheckpointProcessed(ctx context.Context, pmName, instanceID string, position int64, commandTypes []string, duration time.Duration)

	// OnCheckpointSkipped is called for already-processed, terminal-state
	// and not-subscribed skips.
	OnCheckpointSkipped(ctx context.Context, pmName, instanceID string, position int64, reason SkipReason)

	// OnCheckpointFailed is called for every failure shape, including
	// invalid input and illegal transitions.
	OnCheckpointFailed(ctx context.Context, pmName, instanceID string, position int64, err error)

	// OnDeadLetter is called after a dead letter has been recorded.
	OnDeadLetter(ctx context.Context, dl DeadLetter)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnCheckpointStart(ctx context.Context, pmName, instanceID string, position int64) {
}
func (NoopObserver) OnCheckpointProcessed(ctx context.Context, pmName, instanceID string, position int64, commandTypes []string, d time.Duration) {
}
func (NoopObserver) OnCheckpointSkipped(ctx context.Context, pmName, instanceID string, position int64, reason SkipReason) {
}
func (NoopObserver) OnCheckpointFailed(ctx context.Context, pmName, instanceID string, position int64, err error) {
}
func (NoopObserver) OnDeadLetter(ctx context.Context, dl DeadLetter) {}

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

func (c *CompositeObserver) OnCheckpointStart(ctx context.Context, pmName, instanceID string, position int64) {
	for _, o := range c.observers {
		o.OnCheckpointStart(ctx, pmName, instanceID, position)
	}
}

func (c *CompositeObserver) OnCheckpointProcessed(ctx context.Context, pmName, instanceID string, position int64, commandTypes []string, d time.Duration) {
	for _, o := range c.observers {
		o.OnCheckpointProcessed(ctx, pmName, instanceID, position, commandTypes, d)
	}
}

func (c *CompositeObserver) OnCheckpointSkipped(ctx context.Context, pmName, instanceID string, position int64, reason SkipReason) {
	for _, o := range c.observers {
		o.OnCheckpointSkipped(ctx, pmName, instanceID, position, reason)
	}
}

func (c *CompositeObserver) OnCheckpointFailed(ctx context.Context, pmName, instanceID string, position int64, err error) {
	for _, o := range c.observers {
		o.OnCheckpointFailed(ctx, pmName, instanceID, position, err)
	}
}

func (c *CompositeObserver) OnDeadLetter(ctx context.Context, dl DeadLetter) {
	for _, o := range c.observers {
		o.OnDeadLetter(ctx, dl)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs checkpoint lifecycle
// events using the provided slog.Logger. If logger is nil, slog.Default()
// is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnCheckpointStart(ctx context.Context, pmName, instanceID string, position int64) {
	o.Logger.DebugContext(ctx, "checkpoint_start",
		slog.String("process_manager", pmName),
		slog.String("instance_id", instanceID),
		slog.Int64("global_position", position),
	)
}

func (o *LoggingObserver) OnCheckpointProcessed(ctx context.Context, pmName, instanceID string, position int64, commandTypes []string, d time.Duration) {
	o.Logger.InfoContext(ctx, "checkpoint_processed",
		slog.String("process_manager", pmName),
		slog.String("instance_id", instanceID),
		slog.Int64("global_position", position),
		slog.Int("commands", len(commandTypes)),
		slog.Duration("duration", d),
	)
}

func (o *LoggingObserver) OnCheckpointSkipped(ctx context.Context, pmName, instanceID string, position int64, reason SkipReason) {
	o.Logger.DebugContext(ctx, "checkpoint_skipped",
		slog.String("process_manager", pmName),
		slog.String("instance_id", instanceID),
		slog.Int64("global_position", position),
		slog.String("reason", string(reason)),
	)
}

func (o *LoggingObserver) OnCheckpointFailed(ctx context.Context, pmName, instanceID string, position int64, err error) {
	o.Logger.ErrorContext(ctx, "checkpoint_failed",
		slog.String("process_manager", pmName),
		slog.String("instance_id", instanceID),
		slog.Int64("global_position", position),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnDeadLetter(ctx context.Context, dl DeadLetter) {
	o.Logger.WarnContext(ctx, "dead_letter_recorded",
		slog.String("process_manager", dl.ProcessManagerName),
		slog.String("instance_id", dl.InstanceID),
		slog.String("event_id", dl.EventID),
		slog.Int64("global_position", dl.GlobalPosition),
		slog.Int("attempt", dl.AttemptCount),
		slog.String("error", dl.Error),
	)
}

// BasicMetrics collects simple counters and aggregate checkpoint durations.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	checkpointsStarted   atomic.Int64
	checkpointsProcessed atomic.Int64
	checkpointsSkipped   atomic.Int64
	checkpointsFailed    atomic.Int64
	commandsEmitted      atomic.Int64
	deadLetters          atomic.Int64
	totalDuration        atomic.Int64 // nanoseconds
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	CheckpointsStarted   int64
	CheckpointsProcessed int64
	CheckpointsSkipped   int64
	CheckpointsFailed    int64
	CommandsEmitted      int64
	DeadLetters          int64
	AvgDuration          time.Duration
}

func (m *BasicMetrics) OnCheckpointStart(ctx context.Context, pmName, instanceID string, position int64) {
	m.checkpointsStarted.Add(1)
}

func (m *BasicMetrics) OnCheckpointProcessed(ctx context.Context, pmName, instanceID string, position int64, commandTypes []string, d time.Duration) {
	m.checkpointsProcessed.Add(1)
	m.commandsEmitted.Add(int64(len(commandTypes)))
	m.totalDuration.Add(d.Nanoseconds())
}

func (m *BasicMetrics) OnCheckpointSkipped(ctx context.Context, pmName, instanceID string, position int64, reason SkipReason) {
	m.checkpointsSkipped.Add(1)
}

func (m *BasicMetrics) OnCheckpointFailed(ctx context.Context, pmName, instanceID string, position int64, err error) {
	m.checkpointsFailed.Add(1)
}

func (m *BasicMetrics) OnDeadLetter(ctx context.Context, dl DeadLetter) {
	m.deadLetters.Add(1)
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	processed := m.checkpointsProcessed.Load()
	totalNs := m.totalDuration.Load()

	var avg time.Duration
	if processed > 0 {
		avg = time.Duration(totalNs / processed)
	}

	return BasicMetricsSnapshot{
		CheckpointsStarted:   m.checkpointsStarted.Load(),
		CheckpointsProcessed: processed,
		CheckpointsSkipped:   m.checkpointsSkipped.Load(),
		CheckpointsFailed:    m.checkpointsFailed.Load(),
		CommandsEmitted:      m.commandsEmitted.Load(),
		DeadLetters:          m.deadLetters.Load(),
		AvgDuration:          avg,
	}
}
