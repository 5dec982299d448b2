package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/glucose-alerts/internal/engine"
	"github.com/t77yq/glucose-alerts/internal/metrics"
	"github.com/t77yq/glucose-alerts/internal/model"
)

// Submitter queues readings for evaluation
type Submitter interface {
	Submit(ctx context.Context, reading model.Reading, done engine.DoneFunc) error
}

// ConsumerConfig configures the reading consumer
type ConsumerConfig struct {
	Queue      string
	AckWait    time.Duration
	MaxDeliver int
	Backoff    RetryStrategy
}

// ReadingConsumer feeds glucose readings from JetStream into the dispatcher.
// Messages are acknowledged only after evaluation so an upstream outage leads
// to redelivery rather than a silently skipped reading.
type ReadingConsumer struct {
	js        nats.JetStreamContext
	submitter Submitter
	cfg       ConsumerConfig
	logger    *zap.Logger

	mu  sync.Mutex
	sub *nats.Subscription
}

// NewReadingConsumer creates a consumer that submits readings to submitter
func NewReadingConsumer(js nats.JetStreamContext, submitter Submitter, cfg ConsumerConfig, logger *zap.Logger) *ReadingConsumer {
	if cfg.Queue == "" {
		cfg.Queue = defaultQueue
	}
	if cfg.AckWait <= 0 {
		cfg.AckWait = defaultAckWait
	}
	if cfg.MaxDeliver <= 0 {
		cfg.MaxDeliver = defaultMaxDeliver
	}
	if cfg.Backoff == nil {
		cfg.Backoff = DefaultBackoff
	}
	return &ReadingConsumer{
		js:        js,
		submitter: submitter,
		cfg:       cfg,
		logger:    logger.Named("reading-consumer"),
	}
}

// Start subscribes to every user's reading subject
func (c *ReadingConsumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sub != nil {
		return nil
	}

	sub, err := c.js.QueueSubscribe(readingSubjectPrefix+">", c.cfg.Queue,
		func(msg *nats.Msg) { c.handle(ctx, msg) },
		nats.BindStream(ReadingsStream),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.AckWait(c.cfg.AckWait),
		nats.MaxDeliver(c.cfg.MaxDeliver),
		nats.DeliverAll(),
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe to readings: %w", err)
	}
	c.sub = sub

	c.logger.Info("Reading consumer started", zap.String("queue", c.cfg.Queue))
	return nil
}

// Stop drains the subscription
func (c *ReadingConsumer) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sub == nil {
		return nil
	}
	err := c.sub.Drain()
	c.sub = nil
	if err != nil {
		return fmt.Errorf("failed to drain reading subscription: %w", err)
	}
	c.logger.Info("Reading consumer stopped")
	return nil
}

func (c *ReadingConsumer) handle(ctx context.Context, msg *nats.Msg) {
	reading, err := decodeReading(msg)
	if err != nil {
		metrics.ReadingsRejectedTotal.WithLabelValues("invalid").Inc()
		c.logger.Warn("Discarding invalid reading message",
			zap.String("subject", msg.Subject),
			zap.Error(err))
		c.term(msg)
		return
	}

	err = c.submitter.Submit(ctx, reading, func(_ []model.AlertEvent, err error) {
		c.settle(msg, reading, err)
	})
	if err != nil {
		c.logger.Warn("Failed to queue reading",
			zap.String("user_id", reading.UserID),
			zap.Error(err))
		c.nak(msg)
	}
}

// settle acknowledges a processed message according to the evaluation result
func (c *ReadingConsumer) settle(msg *nats.Msg, reading model.Reading, err error) {
	switch {
	case err == nil:
		if ackErr := msg.Ack(); ackErr != nil {
			c.logger.Error("Failed to ack reading",
				zap.String("user_id", reading.UserID),
				zap.Error(ackErr))
		}
	case errors.Is(err, engine.ErrInvalidReading), errors.Is(err, engine.ErrOutOfOrderReading):
		c.logger.Warn("Rejected reading",
			zap.String("user_id", reading.UserID),
			zap.Time("timestamp", reading.Timestamp),
			zap.Error(err))
		c.term(msg)
	default:
		c.logger.Warn("Evaluation failed, reading will be redelivered",
			zap.String("user_id", reading.UserID),
			zap.Error(err))
		c.nak(msg)
	}
}

func (c *ReadingConsumer) nak(msg *nats.Msg) {
	attempt := 0
	if meta, err := msg.Metadata(); err == nil && meta.NumDelivered > 0 {
		attempt = int(meta.NumDelivered - 1)
	}
	if err := msg.NakWithDelay(c.cfg.Backoff.NextRetry(attempt)); err != nil {
		c.logger.Error("Failed to nak reading", zap.Error(err))
	}
}

func (c *ReadingConsumer) term(msg *nats.Msg) {
	if err := msg.Term(); err != nil {
		c.logger.Error("Failed to terminate reading", zap.Error(err))
	}
}

// decodeReading parses a reading message. The user id in the subject wins
// when the payload omits it and must match when both are present.
func decodeReading(msg *nats.Msg) (model.Reading, error) {
	var reading model.Reading
	if err := json.Unmarshal(msg.Data, &reading); err != nil {
		return reading, fmt.Errorf("failed to unmarshal reading: %w", err)
	}

	subjectUser := strings.TrimPrefix(msg.Subject, readingSubjectPrefix)
	switch {
	case reading.UserID == "":
		reading.UserID = subjectUser
	case subjectToken(reading.UserID) != subjectUser:
		return reading, fmt.Errorf("%w: payload user %s does not match subject", engine.ErrInvalidReading, reading.UserID)
	}
	if reading.UserID == "" || reading.UserID == "_" {
		return reading, fmt.Errorf("%w: missing user id", engine.ErrInvalidReading)
	}
	if reading.Timestamp.IsZero() {
		return reading, fmt.Errorf("%w: missing timestamp", engine.ErrInvalidReading)
	}
	return reading, nil
}

// PublishReading publishes a reading on its user's subject
func PublishReading(ctx context.Context, js nats.JetStreamContext, reading model.Reading) error {
	data, err := json.Marshal(reading)
	if err != nil {
		return fmt.Errorf("failed to marshal reading: %w", err)
	}
	if _, err := js.Publish(ReadingSubject(reading.UserID), data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish reading: %w", err)
	}
	return nil
}
