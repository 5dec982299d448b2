package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/glucose-alerts/internal/model"
)

const defaultPublishAttempts = 5

// AlertPublisher publishes alert events to JetStream. It is a notify.Sink.
type AlertPublisher struct {
	js          nats.JetStreamContext
	strategy    RetryStrategy
	maxAttempts int
	logger      *zap.Logger
}

// NewAlertPublisher creates an alert publisher. A nil strategy uses DefaultBackoff.
func NewAlertPublisher(js nats.JetStreamContext, strategy RetryStrategy, maxAttempts int, logger *zap.Logger) *AlertPublisher {
	if strategy == nil {
		strategy = DefaultBackoff
	}
	if maxAttempts <= 0 {
		maxAttempts = defaultPublishAttempts
	}
	return &AlertPublisher{
		js:          js,
		strategy:    strategy,
		maxAttempts: maxAttempts,
		logger:      logger.Named("alert-publisher"),
	}
}

func (p *AlertPublisher) Name() string { return "nats" }

// Deliver publishes the event on alert.<severity>.<user>. The event id is used
// as the message id so retried publishes are deduplicated by the stream.
func (p *AlertPublisher) Deliver(ctx context.Context, event model.AlertEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}
	subject := AlertSubject(string(event.Severity), event.UserID)

	attempt := 0
	err = retry(ctx, p.strategy, p.maxAttempts, func() error {
		attempt++
		_, err := p.js.Publish(subject, data, nats.MsgId(event.ID), nats.Context(ctx))
		if err != nil {
			p.logger.Warn("Failed to publish alert",
				zap.String("alert_id", event.ID),
				zap.Int("attempt", attempt),
				zap.Error(err))
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to publish alert %s: %w", event.ID, err)
	}

	p.logger.Debug("Alert published",
		zap.String("alert_id", event.ID),
		zap.String("subject", subject))
	return nil
}
