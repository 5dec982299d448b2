package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/t77yq/glucose-alerts/internal/model"
)

// LogSink writes alert events to the log
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a log sink
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("alerts")}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(ctx context.Context, event model.AlertEvent) error {
	s.logger.Info("Alert triggered",
		zap.String("alert_id", event.ID),
		zap.String("user_id", event.UserID),
		zap.String("rule_id", event.RuleID),
		zap.String("severity", string(event.Severity)),
		zap.String("value", event.ReadingValue.String()),
		zap.Time("reading_timestamp", event.ReadingTimestamp),
		zap.String("message", event.Message))
	return nil
}
