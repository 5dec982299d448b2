package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/glucose-alerts/internal/model"
)

// NoticePublisher publishes device age notices
type NoticePublisher struct {
	js     nats.JetStreamContext
	logger *zap.Logger
}

// NewNoticePublisher creates a notice publisher
func NewNoticePublisher(js nats.JetStreamContext, logger *zap.Logger) *NoticePublisher {
	return &NoticePublisher{
		js:     js,
		logger: logger.Named("notice-publisher"),
	}
}

// PublishNotice publishes a notice on device.age.<kind>
func (p *NoticePublisher) PublishNotice(ctx context.Context, notice model.DeviceAgeNotice) error {
	data, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("failed to marshal notice: %w", err)
	}

	subject := DeviceAgeSubject(string(notice.Kind))
	if _, err := p.js.Publish(subject, data, nats.MsgId(notice.ID), nats.Context(ctx)); err != nil {
		p.logger.Error("Failed to publish device age notice",
			zap.String("user_id", notice.UserID),
			zap.String("kind", string(notice.Kind)),
			zap.Error(err))
		return fmt.Errorf("failed to publish notice: %w", err)
	}
	return nil
}
