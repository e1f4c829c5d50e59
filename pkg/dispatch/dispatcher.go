package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/jmattila/procman/pkg/api"
)

// Config controls Dispatcher construction.
type Config struct {
	// PartitionBuffer is the per-partition channel capacity. Deliver
	// blocks once a partition's buffer is full, which applies natural
	// backpressure. Defaults to 64.
	PartitionBuffer int

	// Logger receives handler errors and lifecycle messages. Nil discards.
	Logger *slog.Logger
}

// Dispatcher is an in-process delivery layer for subscriptions produced by
// the binder. It filters events by type, resolves the partition key per
// subscription, and guarantees that deliveries sharing a partition are
// handled strictly in order, one at a time. Deliveries on different
// partitions proceed in parallel.
//
// It is a development and single-process stand-in for an external event bus,
// not a broker: nothing is durable and undelivered events are lost on Stop.
type Dispatcher struct {
	cfg    Config
	logger *slog.Logger

	mu         sync.Mutex
	subs       []api.Subscription
	partitions map[string]chan delivery
	started    bool
	stopped    bool
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	delivering sync.WaitGroup
}

type delivery struct {
	handler api.HandlerFunc
	name    string
	args    api.HandlerArgs
}

// New creates a Dispatcher with the given config.
func New(cfg Config) *Dispatcher {
	if cfg.PartitionBuffer <= 0 {
		cfg.PartitionBuffer = 64
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Dispatcher{
		cfg:        cfg,
		logger:     logger,
		partitions: make(map[string]chan delivery),
	}
}

// Subscribe registers a subscription. Registration order does not matter;
// deliveries fan out in ascending priority order. Subscribing after Start is
// an error.
func (d *Dispatcher) Subscribe(sub api.Subscription) error {
	if sub.Name == "" {
		return errors.New("dispatch: subscription name is required")
	}
	if sub.Handler == nil {
		return fmt.Errorf("dispatch: subscription %q has nil handler", sub.Name)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return errors.New("dispatch: cannot subscribe after Start")
	}
	for _, existing := range d.subs {
		if existing.Name == sub.Name {
			return fmt.Errorf("dispatch: subscription already registered: %s", sub.Name)
		}
	}

	d.subs = append(d.subs, sub)
	sort.SliceStable(d.subs, func(i, j int) bool {
		return d.subs[i].Priority < d.subs[j].Priority
	})
	return nil
}

// Start makes the dispatcher accept deliveries. The given context bounds all
// handler invocations; cancelling it aborts in-flight handlers.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return errors.New("dispatch: already started")
	}
	d.ctx, d.cancel = context.WithCancel(ctx)
	d.started = true
	return nil
}

// Deliver routes one event to every matching subscription, in priority
// order. For each subscription it resolves the instance id once, threads it
// through the argument and partition-key builders, and enqueues the delivery
// on that partition's serial worker. Deliver returns once every matching
// subscription has the event enqueued; handlers run asynchronously.
func (d *Dispatcher) Deliver(ctx context.Context, ev api.EventEnvelope) error {
	d.mu.Lock()
	if !d.started || d.stopped {
		d.mu.Unlock()
		return errors.New("dispatch: not running")
	}
	subs := d.subs
	d.delivering.Add(1)
	d.mu.Unlock()
	defer d.delivering.Done()

	for _, sub := range subs {
		if !sub.Filter.Matches(ev.EventType) {
			continue
		}

		instanceID := ev.StreamID
		if sub.InstanceID != nil {
			instanceID = sub.InstanceID(ev)
		}

		key := instanceID
		if sub.PartitionKeyBuilder != nil {
			key = sub.PartitionKeyBuilder(ev, instanceID)
		}

		var args api.HandlerArgs
		if sub.ArgumentBuilder != nil {
			args = sub.ArgumentBuilder(ev, instanceID)
		} else {
			args = api.HandlerArgs{
				EventID:        ev.EventID,
				EventType:      ev.EventType,
				GlobalPosition: ev.GlobalPosition,
				CorrelationID:  ev.CorrelationID,
				StreamType:     ev.StreamType,
				StreamID:       ev.StreamID,
				Payload:        ev.Payload,
				RecordedAt:     ev.RecordedAt,
				Category:       ev.Category,
				InstanceID:     instanceID,
			}
		}

		ch := d.partition(sub.Name + "\x00" + key)

		select {
		case ch <- delivery{handler: sub.Handler, name: sub.Name, args: args}:
		case <-ctx.Done():
			return ctx.Err()
		case <-d.ctx.Done():
			return d.ctx.Err()
		}
	}

	return nil
}

// partition returns the serial worker channel for a key, starting the worker
// goroutine on first use. Workers live until Stop.
func (d *Dispatcher) partition(key string) chan delivery {
	d.mu.Lock()
	defer d.mu.Unlock()

	if ch, ok := d.partitions[key]; ok {
		return ch
	}

	ch := make(chan delivery, d.cfg.PartitionBuffer)
	d.partitions[key] = ch

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for del := range ch {
			if err := del.handler(d.ctx, del.args); err != nil {
				d.logger.Error("dispatch_handler_error",
					slog.String("subscription", del.name),
					slog.String("event_id", del.args.EventID),
					slog.String("instance_id", del.args.InstanceID),
					slog.Any("error", err),
				)
			}
		}
	}()

	return ch
}

// Stop drains every partition and waits for in-flight handlers to finish.
// Events enqueued before Stop are delivered; Deliver calls racing with Stop
// fail.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.started || d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	d.mu.Unlock()

	// No new Deliver can enter now; wait out the ones already inside so no
	// send races the close below.
	d.delivering.Wait()

	d.mu.Lock()
	channels := make([]chan delivery, 0, len(d.partitions))
	for _, ch := range d.partitions {
		channels = append(channels, ch)
	}
	d.mu.Unlock()

	for _, ch := range channels {
		close(ch)
	}
	d.wg.Wait()
	d.cancel()
}
