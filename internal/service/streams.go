package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

func streamConfigs() []*nats.StreamConfig {
	return []*nats.StreamConfig{
		{
			Name:     ReadingsStream,
			Subjects: []string{readingSubjectPrefix + ">"},
			Storage:  nats.FileStorage,
			MaxAge:   streamMaxAge,
		},
		{
			Name:       AlertsStream,
			Subjects:   []string{alertSubjectPrefix + ">"},
			Storage:    nats.FileStorage,
			MaxAge:     alertStreamAge,
			Duplicates: defaultDuplicateWindow,
		},
		{
			Name:     DevicesStream,
			Subjects: []string{deviceEventPrefix + ">"},
			Storage:  nats.FileStorage,
			MaxAge:   alertStreamAge,
		},
		{
			Name:     DeviceAgeStream,
			Subjects: []string{deviceAgePrefix + ">"},
			Storage:  nats.FileStorage,
			MaxAge:   alertStreamAge,
		},
		{
			Name:      MetricsStream,
			Subjects:  []string{MetricsSubject},
			Storage:   nats.MemoryStorage,
			MaxAge:    streamMaxAge,
			MaxMsgs:   10_000,
			Retention: nats.LimitsPolicy,
		},
	}
}

// EnsureStreams creates the service's streams, updating any that already exist
func EnsureStreams(ctx context.Context, js nats.JetStreamContext, logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	for _, cfg := range streamConfigs() {
		_, err := js.AddStream(cfg, nats.Context(ctx))
		if err == nil {
			logger.Info("Stream created successfully", zap.String("stream", cfg.Name))
			continue
		}
		if !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
			return fmt.Errorf("failed to create stream %s: %w", cfg.Name, err)
		}
		if _, err := js.UpdateStream(cfg, nats.Context(ctx)); err != nil {
			return fmt.Errorf("failed to update stream %s: %w", cfg.Name, err)
		}
		logger.Info("Stream already exists", zap.String("stream", cfg.Name))
	}
	return nil
}
