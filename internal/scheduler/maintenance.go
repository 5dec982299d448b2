package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const defaultJobTimeout = 5 * time.Minute

// JobFunc is one run of a maintenance job
type JobFunc func(ctx context.Context) error

// JobStatus describes a registered job
type JobStatus struct {
	Name      string    `json:"name"`
	Spec      string    `json:"spec"`
	Runs      uint64    `json:"runs"`
	LastRun   time.Time `json:"last_run,omitempty"`
	NextRun   time.Time `json:"next_run,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

type job struct {
	name    string
	spec    string
	fn      JobFunc
	entryID cron.EntryID

	mu        sync.Mutex
	runs      uint64
	lastRun   time.Time
	lastError string
}

// cronLogger adapts zap.Logger to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, zap.Any("details", keysAndValues))
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err), zap.Any("details", keysAndValues))
}

// Maintenance runs periodic housekeeping jobs on cron schedules.
// Schedules use six fields, the first being seconds.
type Maintenance struct {
	logger  *zap.Logger
	cron    *cron.Cron
	parser  cron.Parser
	timeout time.Duration

	mu     sync.RWMutex
	jobs   map[string]*job
	ctx    context.Context
	cancel context.CancelFunc
}

// NewMaintenance creates a maintenance scheduler. Each run is bounded by jobTimeout.
func NewMaintenance(logger *zap.Logger, jobTimeout time.Duration) *Maintenance {
	if jobTimeout <= 0 {
		jobTimeout = defaultJobTimeout
	}
	logger = logger.Named("maintenance")
	cl := &cronLogger{logger: logger.Named("cron")}

	ctx, cancel := context.WithCancel(context.Background())
	return &Maintenance{
		logger: logger,
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		parser:  cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		timeout: jobTimeout,
		jobs:    make(map[string]*job),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// AddJob registers fn to run on spec
func (m *Maintenance) AddJob(name, spec string, fn JobFunc) error {
	if _, err := m.parser.Parse(spec); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidSchedule, spec, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, name)
	}

	j := &job{name: name, spec: spec, fn: fn}
	entryID, err := m.cron.AddFunc(spec, func() { m.run(m.ctx, j) })
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}
	j.entryID = entryID
	m.jobs[name] = j

	m.logger.Info("Added job",
		zap.String("name", name),
		zap.String("spec", spec))
	return nil
}

// RemoveJob unregisters a job
func (m *Maintenance) RemoveJob(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	m.cron.Remove(j.entryID)
	delete(m.jobs, name)

	m.logger.Info("Removed job", zap.String("name", name))
	return nil
}

// RunNow runs a job immediately and returns its error
func (m *Maintenance) RunNow(ctx context.Context, name string) error {
	m.mu.RLock()
	j, ok := m.jobs[name]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	return m.run(ctx, j)
}

// Jobs returns the status of every job sorted by name
func (m *Maintenance) Jobs() []JobStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make([]JobStatus, 0, len(m.jobs))
	for _, j := range m.jobs {
		j.mu.Lock()
		status := JobStatus{
			Name:      j.name,
			Spec:      j.spec,
			Runs:      j.runs,
			LastRun:   j.lastRun,
			LastError: j.lastError,
		}
		j.mu.Unlock()
		if entry := m.cron.Entry(j.entryID); entry.Valid() {
			status.NextRun = entry.Next
		}
		statuses = append(statuses, status)
	}
	sort.Slice(statuses, func(i, k int) bool { return statuses[i].Name < statuses[k].Name })
	return statuses
}

// Start starts the scheduler
func (m *Maintenance) Start() {
	m.cron.Start()
	m.logger.Info("Maintenance scheduler started")
}

// Stop stops the scheduler and waits for running jobs
func (m *Maintenance) Stop() {
	m.cancel()
	ctx := m.cron.Stop()
	<-ctx.Done()
	m.logger.Info("Maintenance scheduler stopped")
}

func (m *Maintenance) run(ctx context.Context, j *job) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	start := time.Now()
	err := j.fn(ctx)

	j.mu.Lock()
	j.runs++
	j.lastRun = start
	j.lastError = ""
	if err != nil {
		j.lastError = err.Error()
	}
	j.mu.Unlock()

	if err != nil {
		m.logger.Error("Job failed",
			zap.String("name", j.name),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return err
	}
	m.logger.Info("Job completed",
		zap.String("name", j.name),
		zap.Duration("duration", time.Since(start)))
	return nil
}
