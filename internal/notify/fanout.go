package notify

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/glucose-alerts/internal/metrics"
	"github.com/t77yq/glucose-alerts/internal/model"
)

const (
	// DefaultBuffer is the per-sink queue size
	DefaultBuffer = 1024

	// DefaultDrainTimeout bounds how long Stop waits for queued events
	DefaultDrainTimeout = 10 * time.Second
)

type queue struct {
	sink    Sink
	events  chan model.AlertEvent
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// Fanout dispatches alert events to every sink without blocking the caller.
// Each sink has its own bounded queue and worker, so a slow sink only drops
// its own events.
type Fanout struct {
	queues []*queue
	logger *zap.Logger

	mu           sync.RWMutex
	started      bool
	closed       bool
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	drainTimeout time.Duration
}

// NewFanout creates a fan-out over the given sinks
func NewFanout(logger *zap.Logger, buffer int, sinks ...Sink) (*Fanout, error) {
	if len(sinks) == 0 {
		return nil, errors.New("at least one sink is required")
	}
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	f := &Fanout{
		logger:       logger.Named("notify"),
		drainTimeout: DefaultDrainTimeout,
	}
	for _, sink := range sinks {
		if sink == nil {
			continue
		}
		f.queues = append(f.queues, &queue{
			sink:   sink,
			events: make(chan model.AlertEvent, buffer),
		})
	}
	return f, nil
}

// Start launches one delivery worker per sink. Deliveries keep the values of ctx
// but not its cancellation; they are cancelled by Stop once draining times out.
func (f *Fanout) Start(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started || f.closed {
		return
	}
	ctx, f.cancel = context.WithCancel(context.WithoutCancel(ctx))
	for _, q := range f.queues {
		f.wg.Add(1)
		go f.run(ctx, q)
	}
	f.started = true
}

// Publish queues events for every sink. Events are dropped for a sink whose queue is full.
func (f *Fanout) Publish(ctx context.Context, events []model.AlertEvent) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		f.logger.Warn("Dropping alerts published after close", zap.Int("count", len(events)))
		return
	}

	for _, event := range events {
		for _, q := range f.queues {
			select {
			case q.events <- event:
			default:
				q.dropped.Add(1)
				metrics.SinkDroppedTotal.WithLabelValues(q.sink.Name()).Inc()
				f.logger.Warn("Sink queue full, dropping alert",
					zap.String("sink", q.sink.Name()),
					zap.String("alert_id", event.ID),
					zap.String("user_id", event.UserID))
			}
		}
	}
}

// SetDrainTimeout overrides DefaultDrainTimeout. It must be called before Stop.
func (f *Fanout) SetDrainTimeout(timeout time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if timeout > 0 {
		f.drainTimeout = timeout
	}
}

// Stop closes the queues and waits for queued events to be delivered. Deliveries
// still running after the drain timeout have their context cancelled.
func (f *Fanout) Stop() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	for _, q := range f.queues {
		close(q.events)
	}
	started := f.started
	timeout := f.drainTimeout
	f.mu.Unlock()

	if !started {
		return
	}

	drained := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(drained)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-drained:
	case <-timer.C:
		f.logger.Warn("Drain timeout reached, cancelling pending deliveries",
			zap.Duration("timeout", timeout))
		f.cancel()
		<-drained
	}
	f.cancel()
}

// Dropped returns the number of events dropped per sink
func (f *Fanout) Dropped() map[string]uint64 {
	out := make(map[string]uint64, len(f.queues))
	for _, q := range f.queues {
		out[q.sink.Name()] = q.dropped.Load()
	}
	return out
}

// Failed returns the number of failed deliveries per sink
func (f *Fanout) Failed() map[string]uint64 {
	out := make(map[string]uint64, len(f.queues))
	for _, q := range f.queues {
		out[q.sink.Name()] = q.failed.Load()
	}
	return out
}

func (f *Fanout) run(ctx context.Context, q *queue) {
	defer f.wg.Done()
	for event := range q.events {
		if err := q.sink.Deliver(ctx, event); err != nil {
			q.failed.Add(1)
			metrics.SinkFailedTotal.WithLabelValues(q.sink.Name()).Inc()
			f.logger.Error("Failed to deliver alert",
				zap.String("sink", q.sink.Name()),
				zap.String("alert_id", event.ID),
				zap.Error(err))
		}
	}
}
