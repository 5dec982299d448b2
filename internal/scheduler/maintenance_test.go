package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMaintenance_AddJob(t *testing.T) {
	m := NewMaintenance(zap.NewNop(), time.Second)

	require.NoError(t, m.AddJob("prune", "0 0 * * * *", func(ctx context.Context) error { return nil }))

	err := m.AddJob("prune", "0 0 * * * *", func(ctx context.Context) error { return nil })
	require.ErrorIs(t, err, ErrDuplicateJob)

	err = m.AddJob("bad", "not a schedule", func(ctx context.Context) error { return nil })
	require.ErrorIs(t, err, ErrInvalidSchedule)

	// five field expressions need the seconds field
	err = m.AddJob("minutely", "* * * * *", func(ctx context.Context) error { return nil })
	require.ErrorIs(t, err, ErrInvalidSchedule)

	jobs := m.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "prune", jobs[0].Name)

	require.NoError(t, m.RemoveJob("prune"))
	require.ErrorIs(t, m.RemoveJob("prune"), ErrJobNotFound)
	assert.Empty(t, m.Jobs())
}

func TestMaintenance_RunNow(t *testing.T) {
	m := NewMaintenance(zap.NewNop(), time.Second)

	var calls int32
	require.NoError(t, m.AddJob("count", "0 0 0 1 1 *", func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}))
	require.NoError(t, m.AddJob("fail", "0 0 0 1 1 *", func(ctx context.Context) error {
		return errors.New("disk full")
	}))

	require.NoError(t, m.RunNow(context.Background(), "count"))
	require.Error(t, m.RunNow(context.Background(), "fail"))
	require.ErrorIs(t, m.RunNow(context.Background(), "missing"), ErrJobNotFound)

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	jobs := m.Jobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, "count", jobs[0].Name)
	assert.Equal(t, uint64(1), jobs[0].Runs)
	assert.Empty(t, jobs[0].LastError)
	assert.Equal(t, "disk full", jobs[1].LastError)
}

func TestMaintenance_Schedule(t *testing.T) {
	m := NewMaintenance(zap.NewNop(), time.Second)

	ran := make(chan struct{}, 10)
	require.NoError(t, m.AddJob("tick", "* * * * * *", func(ctx context.Context) error {
		ran <- struct{}{}
		return nil
	}))
	m.Start()
	defer m.Stop()

	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not run")
	}
	assert.False(t, m.Jobs()[0].NextRun.IsZero())
}

func TestMaintenance_RecoversPanics(t *testing.T) {
	m := NewMaintenance(zap.NewNop(), time.Second)

	ran := make(chan struct{}, 10)
	var panicked int32
	require.NoError(t, m.AddJob("boom", "* * * * * *", func(ctx context.Context) error {
		if atomic.CompareAndSwapInt32(&panicked, 0, 1) {
			panic("boom")
		}
		ran <- struct{}{}
		return nil
	}))
	m.Start()
	defer m.Stop()

	select {
	case <-ran:
	case <-time.After(4 * time.Second):
		t.Fatal("job did not run after panic")
	}
}

type fakePruner struct {
	before time.Time
	err    error
}

func (p *fakePruner) DeleteBefore(ctx context.Context, before time.Time) error {
	p.before = before
	return p.err
}

type fakeSweeper struct {
	err error
}

func (s *fakeSweeper) Sweep(ctx context.Context) (int, error) {
	return 0, s.err
}

func TestPruneJob(t *testing.T) {
	readings := &fakePruner{}
	alerts := &fakePruner{err: errors.New("locked")}

	err := PruneJob(24*time.Hour, readings, alerts)(context.Background())
	require.Error(t, err)
	assert.WithinDuration(t, time.Now().Add(-24*time.Hour), readings.before, time.Minute)
	assert.Equal(t, readings.before, alerts.before)
}

func TestSweepJob(t *testing.T) {
	require.NoError(t, SweepJob(&fakeSweeper{})(context.Background()))
	require.Error(t, SweepJob(&fakeSweeper{err: errors.New("nats down")})(context.Background()))
}
