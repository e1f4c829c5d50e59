package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jmattila/procman/pkg/api"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	checkpointsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "procman",
			Subsystem: "checkpoint",
			Name:      "processed_total",
			Help:      "Number of checkpoints that fully completed.",
		}, []string{"process_manager"},
	)
	checkpointsSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "procman",
			Subsystem: "checkpoint",
			Name:      "skipped_total",
			Help:      "Number of skipped checkpoints by reason.",
		}, []string{"process_manager", "reason"},
	)
	checkpointsFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "procman",
			Subsystem: "checkpoint",
			Name:      "failed_total",
			Help:      "Number of failed checkpoints.",
		}, []string{"process_manager"},
	)
	commandsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "procman",
			Subsystem: "checkpoint",
			Name:      "commands_emitted_total",
			Help:      "Number of commands emitted by completed checkpoints.",
		}, []string{"process_manager"},
	)
	deadLetters = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "procman",
			Subsystem: "checkpoint",
			Name:      "dead_letters_total",
			Help:      "Number of dead letters recorded.",
		}, []string{"process_manager"},
	)
	checkpointDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "procman",
			Subsystem: "checkpoint",
			Name:      "duration_seconds",
			Help:      "Duration of completed checkpoint passes.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"process_manager"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are
// no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		checkpointsProcessed, checkpointsSkipped, checkpointsFailed,
		commandsEmitted, deadLetters, checkpointDuration,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with
			// the default registry).
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the
// DefaultGatherer. The caller is responsible for starting an HTTP server and
// wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// Observer implements api.Observer by incrementing the package collectors.
// It no-ops until Register has been called. Combine it with other observers
// via api.NewCompositeObserver.
type Observer struct {
	api.NoopObserver
}

// NewObserver returns an observer recording to the package collectors.
func NewObserver() *Observer { return &Observer{} }

func (Observer) OnCheckpointProcessed(ctx context.Context, pmName, instanceID string, position int64, commandTypes []string, d time.Duration) {
	if regOK.Load() {
		checkpointsProcessed.WithLabelValues(pmName).Inc()
		commandsEmitted.WithLabelValues(pmName).Add(float64(len(commandTypes)))
		checkpointDuration.WithLabelValues(pmName).Observe(d.Seconds())
	}
}

func (Observer) OnCheckpointSkipped(ctx context.Context, pmName, instanceID string, position int64, reason api.SkipReason) {
	if regOK.Load() {
		checkpointsSkipped.WithLabelValues(pmName, string(reason)).Inc()
	}
}

func (Observer) OnCheckpointFailed(ctx context.Context, pmName, instanceID string, position int64, err error) {
	if regOK.Load() {
		checkpointsFailed.WithLabelValues(pmName).Inc()
	}
}

func (Observer) OnDeadLetter(ctx context.Context, dl api.DeadLetter) {
	if regOK.Load() {
		deadLetters.WithLabelValues(dl.ProcessManagerName).Inc()
	}
}
