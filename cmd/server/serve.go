package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/t77yq/glucose-alerts/internal/config"
	"github.com/t77yq/glucose-alerts/internal/debounce"
	"github.com/t77yq/glucose-alerts/internal/deviceage"
	"github.com/t77yq/glucose-alerts/internal/engine"
	"github.com/t77yq/glucose-alerts/internal/monitor"
	"github.com/t77yq/glucose-alerts/internal/notify"
	"github.com/t77yq/glucose-alerts/internal/scheduler"
	"github.com/t77yq/glucose-alerts/internal/service"
	"github.com/t77yq/glucose-alerts/internal/storage"
)

const shutdownTimeout = 10 * time.Second

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Consume glucose readings and publish alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	// Metrics server
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:              cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("Starting metrics server", zap.String("addr", metricsServer.Addr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	nc, err := connectNATS(cfg, logger)
	if err != nil {
		return err
	}
	defer nc.Close()

	js, err := nc.JetStream()
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}
	if err := service.EnsureStreams(ctx, js, logger); err != nil {
		return err
	}

	// Storage
	db, err := storage.Open(cfg.Storage.SQLitePath)
	if err != nil {
		return err
	}
	defer db.Close()

	rules := storage.NewSQLiteRuleStore(logger, db)
	readings := storage.NewSQLiteReadingHistory(logger, db)
	alerts := storage.NewSQLiteAlertHistory(logger, db)
	devices := storage.NewSQLiteDeviceEvents(logger, db)

	if cfg.Seed.File != "" {
		seed, err := storage.LoadSeedFile(cfg.Seed.File)
		if err != nil {
			return err
		}
		if err := storage.ApplySeed(ctx, logger, rules, seed); err != nil {
			return err
		}
	}

	// Engine
	tracker, err := debounce.NewTracker(cfg.Debounce.Capacity)
	if err != nil {
		return err
	}
	eng, err := engine.NewEngine(rules, rules, tracker, logger,
		engine.WithHistory(readings),
		engine.WithFetchTimeout(cfg.Engine.FetchTimeout),
	)
	if err != nil {
		return err
	}

	// Notification fan-out
	fanout, err := notify.NewFanout(logger, cfg.Notify.Buffer,
		notify.NewLogSink(logger),
		notify.NewPersistSink(alerts),
		service.NewAlertPublisher(js, service.DefaultBackoff, 0, logger),
	)
	if err != nil {
		return err
	}
	fanout.SetDrainTimeout(shutdownTimeout)
	fanout.Start(ctx)
	defer fanout.Stop()

	dispatcher, err := engine.NewDispatcher(eng, fanout, readings, engine.DispatcherConfig{
		Lanes:      cfg.Engine.Lanes,
		LaneBuffer: cfg.Engine.LaneBuffer,
	}, logger)
	if err != nil {
		return err
	}
	if err := dispatcher.Start(); err != nil {
		return err
	}
	defer dispatcher.Stop()

	// Device age
	calc, err := deviceage.NewCalculator(deviceage.DefaultCapabilities()...)
	if err != nil {
		return err
	}
	sweeper, err := deviceage.NewSweeper(calc, devices, service.NewNoticePublisher(js, logger), logger)
	if err != nil {
		return err
	}

	// Consumers
	readingConsumer := service.NewReadingConsumer(js, dispatcher, service.ConsumerConfig{}, logger)
	if err := readingConsumer.Start(ctx); err != nil {
		return err
	}
	defer readingConsumer.Stop()

	deviceConsumer := service.NewDeviceEventConsumer(js, devices, calc.ValidEvent, service.ConsumerConfig{}, logger)
	if err := deviceConsumer.Start(ctx); err != nil {
		return err
	}
	defer deviceConsumer.Stop()

	// Maintenance
	maintenance := scheduler.NewMaintenance(logger, 0)
	if err := maintenance.AddJob("prune-history", cfg.Maintenance.PruneSchedule,
		scheduler.PruneJob(cfg.History.Retention, readings, alerts)); err != nil {
		return err
	}
	if err := maintenance.AddJob("device-age-sweep", cfg.DeviceAge.Schedule, scheduler.SweepJob(sweeper)); err != nil {
		return err
	}
	maintenance.Start()
	defer maintenance.Stop()

	collector, err := monitor.NewStatsCollector(js, cfg.Monitor.Interval, eng, tracker, fanout, logger)
	if err != nil {
		return err
	}
	collector.Start(ctx)
	defer collector.Stop()

	logger.Info("Glucose alert service started")

	<-ctx.Done()
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Failed to shut down metrics server", zap.Error(err))
	}

	// deferred stops run consumers first so in-flight readings settle
	logger.Info("Server shutting down gracefully")
	return nil
}

func connectNATS(cfg *config.Config, logger *zap.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(cfg.App.Name),
		nats.MaxReconnects(cfg.NATS.MaxReconnects),
		nats.ReconnectWait(cfg.NATS.ReconnectWait),
		nats.Timeout(cfg.NATS.ConnectTimeout),
		nats.PingInterval(20 * time.Second),
		nats.MaxPingsOutstanding(5),
		nats.ReconnectBufSize(5 * 1024 * 1024), // 5MB
		nats.DrainTimeout(30 * time.Second),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Error("NATS connection error",
				zap.String("subject", subject),
				zap.Error(err))
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected",
				zap.String("url", nc.ConnectedUrl()))
		}),
	}

	// Connect with retry
	var (
		nc  *nats.Conn
		err error
	)
	maxRetries := 5
	for i := 0; i < maxRetries; i++ {
		nc, err = nats.Connect(cfg.NATS.URL, opts...)
		if err == nil {
			break
		}
		logger.Warn("Failed to connect to NATS, retrying...",
			zap.Int("attempt", i+1),
			zap.Error(err))
		time.Sleep(time.Second * time.Duration(i+1))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS after retries: %w", err)
	}

	logger.Info("Connected to NATS successfully",
		zap.String("url", nc.ConnectedUrl()))
	return nc, nil
}
