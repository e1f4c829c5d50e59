package api

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

// recordingObserver keeps a flat log of callback names.
type recordingObserver struct {
	NoopObserver
	calls []string
}

func (r *recordingObserver) OnCheckpointStart(ctx context.Context, pmName, instanceID string, position int64) {
	r.calls = append(r.calls, "start")
}

func (r *recordingObserver) OnCheckpointProcessed(ctx context.Context, pmName, instanceID string, position int64, commandTypes []string, d time.Duration) {
	r.calls = append(r.calls, "processed")
}

func (r *recordingObserver) OnDeadLetter(ctx context.Context, dl DeadLetter) {
	r.calls = append(r.calls, "dead_letter")
}

func TestNewCompositeObserver_EmptyIsNoop(t *testing.T) {
	obs := NewCompositeObserver()
	if _, ok := obs.(NoopObserver); !ok {
		t.Fatalf("expected NoopObserver, got %T", obs)
	}

	obs = NewCompositeObserver(nil, nil)
	if _, ok := obs.(NoopObserver); !ok {
		t.Fatalf("nil-only input must collapse to NoopObserver, got %T", obs)
	}
}

func TestNewCompositeObserver_SingleIsUnwrapped(t *testing.T) {
	rec := &recordingObserver{}
	obs := NewCompositeObserver(nil, rec)
	if obs != Observer(rec) {
		t.Fatalf("single observer must be returned directly, got %T", obs)
	}
}

func TestNewCompositeObserver_FansOut(t *testing.T) {
	a := &recordingObserver{}
	b := &recordingObserver{}
	obs := NewCompositeObserver(a, nil, b)
	ctx := context.Background()

	obs.OnCheckpointStart(ctx, "pm", "inst", 1)
	obs.OnCheckpointProcessed(ctx, "pm", "inst", 1, []string{"A"}, time.Millisecond)
	obs.OnDeadLetter(ctx, DeadLetter{ID: "dl-1"})

	for _, rec := range []*recordingObserver{a, b} {
		if len(rec.calls) != 3 || rec.calls[0] != "start" || rec.calls[1] != "processed" || rec.calls[2] != "dead_letter" {
			t.Fatalf("unexpected calls: %v", rec.calls)
		}
	}
}

func TestLoggingObserver_WritesStructuredEvents(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	obs := NewLoggingObserver(logger)
	ctx := context.Background()

	obs.OnCheckpointStart(ctx, "pm", "inst-1", 5)
	obs.OnCheckpointProcessed(ctx, "pm", "inst-1", 5, []string{"ReserveStock"}, 3*time.Millisecond)
	obs.OnCheckpointSkipped(ctx, "pm", "inst-1", 5, SkipAlreadyProcessed)
	obs.OnCheckpointFailed(ctx, "pm", "inst-1", 5, errors.New("boom"))
	obs.OnDeadLetter(ctx, DeadLetter{ProcessManagerName: "pm", InstanceID: "inst-1", EventID: "ev-5", GlobalPosition: 5, AttemptCount: 1, Error: "boom"})

	out := buf.String()
	for _, want := range []string{
		"checkpoint_start",
		"checkpoint_processed",
		"checkpoint_skipped",
		"checkpoint_failed",
		"dead_letter_recorded",
		"already_processed",
		"instance_id=inst-1",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected log output to contain %q, got:\n%s", want, out)
		}
	}
}

func TestBasicMetrics_Counts(t *testing.T) {
	var m BasicMetrics
	ctx := context.Background()

	m.OnCheckpointStart(ctx, "pm", "inst", 1)
	m.OnCheckpointStart(ctx, "pm", "inst", 2)
	m.OnCheckpointProcessed(ctx, "pm", "inst", 1, []string{"A", "B"}, 10*time.Millisecond)
	m.OnCheckpointProcessed(ctx, "pm", "inst", 2, nil, 20*time.Millisecond)
	m.OnCheckpointSkipped(ctx, "pm", "inst", 1, SkipAlreadyProcessed)
	m.OnCheckpointFailed(ctx, "pm", "inst", 3, errors.New("boom"))
	m.OnDeadLetter(ctx, DeadLetter{})

	snap := m.Snapshot()
	if snap.CheckpointsStarted != 2 {
		t.Fatalf("expected 2 started, got %d", snap.CheckpointsStarted)
	}
	if snap.CheckpointsProcessed != 2 {
		t.Fatalf("expected 2 processed, got %d", snap.CheckpointsProcessed)
	}
	if snap.CheckpointsSkipped != 1 || snap.CheckpointsFailed != 1 || snap.DeadLetters != 1 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.CommandsEmitted != 2 {
		t.Fatalf("expected 2 commands emitted, got %d", snap.CommandsEmitted)
	}
	if snap.AvgDuration != 15*time.Millisecond {
		t.Fatalf("expected avg 15ms, got %s", snap.AvgDuration)
	}
}

func TestBasicMetrics_SnapshotEmpty(t *testing.T) {
	var m BasicMetrics
	snap := m.Snapshot()
	if snap != (BasicMetricsSnapshot{}) {
		t.Fatalf("expected zero snapshot, got %+v", snap)
	}
}
