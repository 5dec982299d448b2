package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/t77yq/glucose-alerts/internal/engine"
	"github.com/t77yq/glucose-alerts/internal/service"
)

const defaultCPUSample = 200 * time.Millisecond

// EngineStats exposes the engine counters
type EngineStats interface {
	Stats() engine.Stats
}

// TrackerSize exposes the number of debounce entries held
type TrackerSize interface {
	Len() int
}

// SinkStats exposes per sink delivery counters
type SinkStats interface {
	Dropped() map[string]uint64
	Failed() map[string]uint64
}

// Snapshot is one published sample
type Snapshot struct {
	Timestamp       time.Time         `json:"timestamp"`
	CPUUsage        float64           `json:"cpu_usage"`
	MemoryUsage     float64           `json:"memory_usage"`
	Engine          engine.Stats      `json:"engine"`
	DebounceEntries int               `json:"debounce_entries"`
	SinkDropped     map[string]uint64 `json:"sink_dropped,omitempty"`
	SinkFailed      map[string]uint64 `json:"sink_failed,omitempty"`
}

// StatsCollector periodically publishes process and engine statistics
type StatsCollector struct {
	logger    *zap.Logger
	js        nats.JetStreamContext
	interval  time.Duration
	cpuSample time.Duration

	engine  EngineStats
	tracker TrackerSize
	sinks   SinkStats

	mu     sync.RWMutex
	last   Snapshot
	stop   chan struct{}
	done   chan struct{}
	closed bool
}

// NewStatsCollector creates a collector. tracker and sinks may be nil.
func NewStatsCollector(js nats.JetStreamContext, interval time.Duration, eng EngineStats, tracker TrackerSize, sinks SinkStats, logger *zap.Logger) (*StatsCollector, error) {
	if eng == nil {
		return nil, fmt.Errorf("engine stats source is required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("invalid collection interval %s", interval)
	}
	return &StatsCollector{
		logger:    logger.Named("stats-collector"),
		js:        js,
		interval:  interval,
		cpuSample: defaultCPUSample,
		engine:    eng,
		tracker:   tracker,
		sinks:     sinks,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}, nil
}

// Start starts the collection loop
func (c *StatsCollector) Start(ctx context.Context) {
	c.logger.Info("Starting stats collector", zap.Duration("interval", c.interval))
	go c.collectLoop(ctx)
}

// Stop stops the collection loop and waits for it to exit
func (c *StatsCollector) Stop() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.stop)
	c.mu.Unlock()

	<-c.done
	c.logger.Info("Stats collector stopped")
}

// Last returns the most recent snapshot
func (c *StatsCollector) Last() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

func (c *StatsCollector) collectLoop(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			if err := c.Publish(ctx); err != nil {
				c.logger.Error("Failed to publish stats", zap.Error(err))
			}
		}
	}
}

// Collect takes a snapshot. Host readings that fail are left at zero.
func (c *StatsCollector) Collect() Snapshot {
	snapshot := Snapshot{
		Timestamp: time.Now().UTC(),
		Engine:    c.engine.Stats(),
	}

	if cpuPercent, err := cpu.Percent(c.cpuSample, false); err != nil {
		c.logger.Warn("Failed to get CPU usage", zap.Error(err))
	} else if len(cpuPercent) > 0 {
		snapshot.CPUUsage = cpuPercent[0]
	}
	if memInfo, err := mem.VirtualMemory(); err != nil {
		c.logger.Warn("Failed to get memory usage", zap.Error(err))
	} else {
		snapshot.MemoryUsage = memInfo.UsedPercent
	}

	if c.tracker != nil {
		snapshot.DebounceEntries = c.tracker.Len()
	}
	if c.sinks != nil {
		snapshot.SinkDropped = c.sinks.Dropped()
		snapshot.SinkFailed = c.sinks.Failed()
	}

	c.mu.Lock()
	c.last = snapshot
	c.mu.Unlock()
	return snapshot
}

// Publish collects a snapshot and publishes it to the metrics subject
func (c *StatsCollector) Publish(ctx context.Context) error {
	snapshot := c.Collect()

	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal stats: %w", err)
	}
	if _, err := c.js.Publish(service.MetricsSubject, data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish stats: %w", err)
	}

	c.logger.Debug("Stats published",
		zap.Float64("cpu_usage", snapshot.CPUUsage),
		zap.Float64("memory_usage", snapshot.MemoryUsage),
		zap.Uint64("evaluations", snapshot.Engine.Evaluations),
		zap.Int("debounce_entries", snapshot.DebounceEntries))
	return nil
}
