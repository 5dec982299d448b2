package engine

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/t77yq/glucose-alerts/internal/metrics"
	"github.com/t77yq/glucose-alerts/internal/model"
)

const (
	DefaultLanes        = 16
	DefaultLaneBuffer   = 256
	DefaultSeenCapacity = 10_000
)

// Evaluator evaluates one reading for one user
type Evaluator interface {
	EvaluateGlucoseData(ctx context.Context, reading model.Reading, userID string) ([]model.AlertEvent, error)
}

// EventPublisher receives the events of a successful evaluation. Publish must not block.
type EventPublisher interface {
	Publish(ctx context.Context, events []model.AlertEvent)
}

// ReadingRecorder stores evaluated readings for later rate-of-change lookups
type ReadingRecorder interface {
	Append(ctx context.Context, reading model.Reading) error
}

// DoneFunc is called once a submitted reading has been processed
type DoneFunc func(events []model.AlertEvent, err error)

// DispatcherConfig sizes the dispatcher
type DispatcherConfig struct {
	Lanes        int
	LaneBuffer   int
	SeenCapacity int
}

type job struct {
	ctx     context.Context
	reading model.Reading
	done    DoneFunc
}

func (j job) finish(events []model.AlertEvent, err error) {
	if j.done != nil {
		j.done(events, err)
	}
}

// Dispatcher routes readings to lanes by user so each user's readings are
// evaluated one at a time and in order, while different users run in parallel.
type Dispatcher struct {
	evaluator Evaluator
	publisher EventPublisher
	recorder  ReadingRecorder
	cfg       DispatcherConfig
	logger    *zap.Logger

	mu      sync.RWMutex
	lanes   []chan job
	started bool
	stopped bool
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher. publisher and recorder may be nil.
func NewDispatcher(evaluator Evaluator, publisher EventPublisher, recorder ReadingRecorder, cfg DispatcherConfig, logger *zap.Logger) (*Dispatcher, error) {
	if evaluator == nil {
		return nil, errors.New("evaluator is required")
	}
	if cfg.Lanes <= 0 {
		cfg.Lanes = DefaultLanes
	}
	if cfg.LaneBuffer <= 0 {
		cfg.LaneBuffer = DefaultLaneBuffer
	}
	if cfg.SeenCapacity <= 0 {
		cfg.SeenCapacity = DefaultSeenCapacity
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &Dispatcher{
		evaluator: evaluator,
		publisher: publisher,
		recorder:  recorder,
		cfg:       cfg,
		logger:    logger.Named("dispatcher"),
		lanes:     make([]chan job, cfg.Lanes),
	}
	for i := range d.lanes {
		d.lanes[i] = make(chan job, cfg.LaneBuffer)
	}
	return d, nil
}

// Start launches one worker per lane
func (d *Dispatcher) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return nil
	}
	if d.stopped {
		return ErrDispatcherStopped
	}

	for i, lane := range d.lanes {
		seen, err := lru.New[string, time.Time](d.cfg.SeenCapacity)
		if err != nil {
			return fmt.Errorf("failed to create lane cache: %w", err)
		}
		d.wg.Add(1)
		go d.runLane(i, lane, seen)
	}
	d.started = true
	d.logger.Info("Dispatcher started", zap.Int("lanes", len(d.lanes)))
	return nil
}

// Stop stops accepting readings and waits for queued ones to finish
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	for _, lane := range d.lanes {
		close(lane)
	}
	d.mu.Unlock()

	d.wg.Wait()
	d.logger.Info("Dispatcher stopped")
}

// Submit queues a reading on its user's lane. It blocks while the lane is full
// until ctx is done. done is called after the reading is processed.
func (d *Dispatcher) Submit(ctx context.Context, reading model.Reading, done DoneFunc) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return ErrDispatcherStopped
	}

	lane := d.lanes[laneFor(reading.UserID, len(d.lanes))]
	select {
	case lane <- job{ctx: ctx, reading: reading, done: done}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) runLane(id int, jobs <-chan job, seen *lru.Cache[string, time.Time]) {
	defer d.wg.Done()
	logger := d.logger.With(zap.Int("lane", id))
	for j := range jobs {
		d.process(logger, seen, j)
	}
}

func (d *Dispatcher) process(logger *zap.Logger, seen *lru.Cache[string, time.Time], j job) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Evaluation panicked",
				zap.String("user_id", j.reading.UserID),
				zap.Any("panic", r))
			j.finish(nil, fmt.Errorf("evaluation panicked: %v", r))
		}
	}()

	userID := j.reading.UserID
	if last, ok := seen.Get(userID); ok && j.reading.Timestamp.Before(last) {
		metrics.ReadingsRejectedTotal.WithLabelValues("out_of_order").Inc()
		logger.Warn("Rejecting out of order reading",
			zap.String("user_id", userID),
			zap.Time("timestamp", j.reading.Timestamp),
			zap.Time("last_timestamp", last))
		// not evaluated, but kept so later rate of change windows still see it
		d.record(logger, j)
		j.finish(nil, fmt.Errorf("%w: %s is before %s", ErrOutOfOrderReading,
			j.reading.Timestamp.Format(time.RFC3339), last.Format(time.RFC3339)))
		return
	}

	events, err := d.evaluator.EvaluateGlucoseData(j.ctx, j.reading, userID)
	if err != nil {
		j.finish(nil, err)
		return
	}
	seen.Add(userID, j.reading.Timestamp)

	if len(events) > 0 && d.publisher != nil {
		d.publisher.Publish(j.ctx, events)
	}
	d.record(logger, j)
	j.finish(events, nil)
}

func (d *Dispatcher) record(logger *zap.Logger, j job) {
	if d.recorder == nil {
		return
	}
	if err := d.recorder.Append(j.ctx, j.reading); err != nil {
		logger.Warn("Failed to record reading",
			zap.String("user_id", j.reading.UserID),
			zap.Error(err))
	}
}

func laneFor(userID string, lanes int) int {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return int(h.Sum32() % uint32(lanes))
}
