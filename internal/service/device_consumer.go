package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/glucose-alerts/internal/model"
)

// DeviceEventRecorder stores device care events
type DeviceEventRecorder interface {
	Record(ctx context.Context, event model.DeviceEvent) (model.DeviceEvent, error)
}

// DeviceEventFilter reports whether an event is worth recording
type DeviceEventFilter func(event model.DeviceEvent) bool

// DeviceEventConsumer records device care events published on device.event.<user>
type DeviceEventConsumer struct {
	js       nats.JetStreamContext
	recorder DeviceEventRecorder
	accept   DeviceEventFilter
	cfg      ConsumerConfig
	logger   *zap.Logger

	mu  sync.Mutex
	sub *nats.Subscription
}

// NewDeviceEventConsumer creates a consumer. A nil accept records every well formed event.
func NewDeviceEventConsumer(js nats.JetStreamContext, recorder DeviceEventRecorder, accept DeviceEventFilter, cfg ConsumerConfig, logger *zap.Logger) *DeviceEventConsumer {
	if cfg.Queue == "" {
		cfg.Queue = deviceQueue
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
	return &DeviceEventConsumer{
		js:       js,
		recorder: recorder,
		accept:   accept,
		cfg:      cfg,
		logger:   logger.Named("device-consumer"),
	}
}

// Start subscribes to every user's device event subject
func (c *DeviceEventConsumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sub != nil {
		return nil
	}

	sub, err := c.js.QueueSubscribe(deviceEventPrefix+">", c.cfg.Queue,
		func(msg *nats.Msg) { c.handle(ctx, msg) },
		nats.BindStream(DevicesStream),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.AckWait(c.cfg.AckWait),
		nats.MaxDeliver(c.cfg.MaxDeliver),
		nats.DeliverAll(),
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe to device events: %w", err)
	}
	c.sub = sub

	c.logger.Info("Device event consumer started", zap.String("queue", c.cfg.Queue))
	return nil
}

// Stop drains the subscription
func (c *DeviceEventConsumer) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sub == nil {
		return nil
	}
	err := c.sub.Drain()
	c.sub = nil
	if err != nil {
		return fmt.Errorf("failed to drain device event subscription: %w", err)
	}
	c.logger.Info("Device event consumer stopped")
	return nil
}

func (c *DeviceEventConsumer) handle(ctx context.Context, msg *nats.Msg) {
	event, err := decodeDeviceEvent(msg)
	if err != nil {
		c.logger.Warn("Discarding invalid device event",
			zap.String("subject", msg.Subject),
			zap.Error(err))
		c.term(msg)
		return
	}
	if c.accept != nil && !c.accept(event) {
		c.logger.Debug("Ignoring device event",
			zap.String("user_id", event.UserID),
			zap.String("kind", string(event.Kind)),
			zap.String("event_type", event.EventType))
		c.ack(msg)
		return
	}

	recorded, err := c.recorder.Record(ctx, event)
	if err != nil {
		c.logger.Warn("Failed to record device event, will be redelivered",
			zap.String("user_id", event.UserID),
			zap.Error(err))
		attempt := 0
		if meta, metaErr := msg.Metadata(); metaErr == nil && meta.NumDelivered > 0 {
			attempt = int(meta.NumDelivered - 1)
		}
		if nakErr := msg.NakWithDelay(c.cfg.Backoff.NextRetry(attempt)); nakErr != nil {
			c.logger.Error("Failed to nak device event", zap.Error(nakErr))
		}
		return
	}

	c.logger.Info("Recorded device event",
		zap.String("id", recorded.ID),
		zap.String("user_id", recorded.UserID),
		zap.String("kind", string(recorded.Kind)),
		zap.String("event_type", recorded.EventType))
	c.ack(msg)
}

func (c *DeviceEventConsumer) ack(msg *nats.Msg) {
	if err := msg.Ack(); err != nil {
		c.logger.Error("Failed to ack device event", zap.Error(err))
	}
}

func (c *DeviceEventConsumer) term(msg *nats.Msg) {
	if err := msg.Term(); err != nil {
		c.logger.Error("Failed to terminate device event", zap.Error(err))
	}
}

func decodeDeviceEvent(msg *nats.Msg) (model.DeviceEvent, error) {
	var event model.DeviceEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		return event, fmt.Errorf("failed to unmarshal device event: %w", err)
	}

	subjectUser := strings.TrimPrefix(msg.Subject, deviceEventPrefix)
	switch {
	case event.UserID == "":
		event.UserID = subjectUser
	case subjectToken(event.UserID) != subjectUser:
		return event, fmt.Errorf("payload user %s does not match subject", event.UserID)
	}
	if event.UserID == "" || event.UserID == "_" {
		return event, fmt.Errorf("missing user id")
	}
	if event.Kind == "" || event.EventType == "" {
		return event, fmt.Errorf("missing kind or event type")
	}
	if event.OccurredAt.IsZero() {
		return event, fmt.Errorf("missing occurred_at")
	}
	return event, nil
}

// PublishDeviceEvent publishes a device care event on its user's subject
func PublishDeviceEvent(ctx context.Context, js nats.JetStreamContext, event model.DeviceEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal device event: %w", err)
	}
	if _, err := js.Publish(DeviceEventSubject(event.UserID), data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish device event: %w", err)
	}
	return nil
}
