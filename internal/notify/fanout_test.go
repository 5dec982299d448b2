package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/t77yq/glucose-alerts/internal/model"
)

type memorySink struct {
	name    string
	mu      sync.Mutex
	got     []model.AlertEvent
	ctxErrs []error
	err     error
	block   chan struct{}
}

func (s *memorySink) Name() string { return s.name }

func (s *memorySink) Deliver(ctx context.Context, event model.AlertEvent) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, event)
	s.ctxErrs = append(s.ctxErrs, ctx.Err())
	return s.err
}

func (s *memorySink) events() []model.AlertEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.AlertEvent(nil), s.got...)
}

func alertEvent(id string) model.AlertEvent {
	return model.AlertEvent{
		ID:               id,
		RuleID:           "rule-1",
		UserID:           "user-1",
		Severity:         model.AlertSeverityUrgent,
		Message:          "Low glucose",
		TriggeredAt:      time.Date(2026, 3, 4, 2, 0, 0, 0, time.UTC),
		ReadingValue:     decimal.NewFromInt(65),
		ReadingTimestamp: time.Date(2026, 3, 4, 2, 0, 0, 0, time.UTC),
	}
}

func TestFanout_DeliversToEverySink(t *testing.T) {
	first := &memorySink{name: "first"}
	second := &memorySink{name: "second", err: errors.New("unreachable")}

	fanout, err := NewFanout(zap.NewNop(), 8, first, second)
	require.NoError(t, err)
	fanout.Start(context.Background())

	fanout.Publish(context.Background(), []model.AlertEvent{alertEvent("a-1"), alertEvent("a-2")})
	fanout.Stop()

	require.Len(t, first.events(), 2)
	assert.Equal(t, "a-1", first.events()[0].ID)
	assert.Equal(t, "a-2", first.events()[1].ID)
	require.Len(t, second.events(), 2)

	assert.Equal(t, uint64(0), fanout.Failed()["first"])
	assert.Equal(t, uint64(2), fanout.Failed()["second"])
}

func TestFanout_FullQueueDropsWithoutBlocking(t *testing.T) {
	block := make(chan struct{})
	slow := &memorySink{name: "slow", block: block}
	fast := &memorySink{name: "fast"}

	fanout, err := NewFanout(zap.NewNop(), 1, slow, fast)
	require.NoError(t, err)
	fanout.Start(context.Background())

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			fanout.Publish(context.Background(), []model.AlertEvent{alertEvent("a")})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow sink")
	}

	close(block)
	fanout.Stop()

	assert.Greater(t, fanout.Dropped()["slow"], uint64(0))
	assert.Equal(t, uint64(10), uint64(len(fast.events()))+fanout.Dropped()["fast"])
	assert.Equal(t, uint64(10), uint64(len(slow.events()))+fanout.Dropped()["slow"])
}

func TestFanout_StopDrainsAfterStartContextCancelled(t *testing.T) {
	block := make(chan struct{})
	sink := &memorySink{name: "mem", block: block}

	fanout, err := NewFanout(zap.NewNop(), 8, sink)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	fanout.Start(ctx)
	fanout.Publish(ctx, []model.AlertEvent{alertEvent("a-1"), alertEvent("a-2"), alertEvent("a-3")})

	// shutdown signal arrives while events are still queued
	cancel()
	close(block)
	fanout.Stop()

	require.Len(t, sink.events(), 3)
	sink.mu.Lock()
	defer sink.mu.Unlock()
	for _, err := range sink.ctxErrs {
		assert.NoError(t, err)
	}
	assert.Equal(t, uint64(0), fanout.Failed()["mem"])
}

type ctxSink struct {
	cancelled chan struct{}
}

func (s *ctxSink) Name() string { return "ctx" }

func (s *ctxSink) Deliver(ctx context.Context, event model.AlertEvent) error {
	<-ctx.Done()
	close(s.cancelled)
	return ctx.Err()
}

func TestFanout_StopCancelsAfterDrainTimeout(t *testing.T) {
	sink := &ctxSink{cancelled: make(chan struct{})}
	fanout, err := NewFanout(zap.NewNop(), 8, sink)
	require.NoError(t, err)
	fanout.SetDrainTimeout(50 * time.Millisecond)
	fanout.Start(context.Background())
	fanout.Publish(context.Background(), []model.AlertEvent{alertEvent("a-1")})

	stopped := make(chan struct{})
	go func() {
		fanout.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("stop did not return after the drain timeout")
	}
	<-sink.cancelled
	assert.Equal(t, uint64(1), fanout.Failed()["ctx"])
}

func TestFanout_PublishAfterStop(t *testing.T) {
	sink := &memorySink{name: "mem"}
	fanout, err := NewFanout(zap.NewNop(), 4, sink)
	require.NoError(t, err)
	fanout.Start(context.Background())
	fanout.Stop()
	fanout.Stop()

	fanout.Publish(context.Background(), []model.AlertEvent{alertEvent("late")})
	assert.Empty(t, sink.events())
}

func TestNewFanout_RequiresSink(t *testing.T) {
	_, err := NewFanout(zap.NewNop(), 4)
	require.Error(t, err)
}

func TestLogSink(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	sink := NewLogSink(zap.New(core))

	require.NoError(t, sink.Deliver(context.Background(), alertEvent("a-1")))
	require.Equal(t, 1, logs.Len())

	entry := logs.All()[0]
	assert.Equal(t, "Alert triggered", entry.Message)
	fields := entry.ContextMap()
	assert.Equal(t, "a-1", fields["alert_id"])
	assert.Equal(t, "urgent", fields["severity"])
	assert.Equal(t, "65", fields["value"])
}

type memoryAlertStore struct {
	stored []model.AlertEvent
	err    error
}

func (s *memoryAlertStore) Store(ctx context.Context, event model.AlertEvent) error {
	if s.err != nil {
		return s.err
	}
	s.stored = append(s.stored, event)
	return nil
}

func TestPersistSink(t *testing.T) {
	store := &memoryAlertStore{}
	sink := NewPersistSink(store)
	require.NoError(t, sink.Deliver(context.Background(), alertEvent("a-1")))
	require.Len(t, store.stored, 1)

	store.err = errors.New("disk full")
	err := sink.Deliver(context.Background(), alertEvent("a-2"))
	require.ErrorIs(t, err, store.err)
}
