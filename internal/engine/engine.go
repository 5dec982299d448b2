package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/t77yq/glucose-alerts/internal/debounce"
	"github.com/t77yq/glucose-alerts/internal/evaluator"
	"github.com/t77yq/glucose-alerts/internal/metrics"
	"github.com/t77yq/glucose-alerts/internal/model"
)

// DefaultFetchTimeout bounds the prefetch of rules, quiet hours and history
const DefaultFetchTimeout = 2 * time.Second

// RuleStore provides the alert rules configured for a user
type RuleStore interface {
	// GetActiveRulesForUser returns the user's enabled rules. A failure must be
	// reported as an error, never as an empty rule set.
	GetActiveRulesForUser(ctx context.Context, userID string) ([]model.AlertRule, error)
}

// QuietHoursStore provides a user's quiet hours. It returns nil, nil when none are configured.
type QuietHoursStore interface {
	GetQuietHours(ctx context.Context, userID string) (*model.QuietHoursConfig, error)
}

// ReadingHistory provides prior readings for rate-of-change rules
type ReadingHistory interface {
	RecentReadings(ctx context.Context, userID string, from, to time.Time) ([]model.Reading, error)
}

// Clock abstracts wall-clock time
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Option configures an Engine
type Option func(*Engine)

// WithClock overrides the wall clock used for TriggeredAt
func WithClock(clock Clock) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithHistory enables rate-of-change evaluation against stored readings
func WithHistory(history ReadingHistory) Option {
	return func(e *Engine) {
		e.history = history
	}
}

// WithFetchTimeout overrides DefaultFetchTimeout
func WithFetchTimeout(timeout time.Duration) Option {
	return func(e *Engine) {
		if timeout > 0 {
			e.fetchTimeout = timeout
		}
	}
}

// WithMessageRenderer shares a renderer between engines
func WithMessageRenderer(renderer *MessageRenderer) Option {
	return func(e *Engine) {
		if renderer != nil {
			e.messages = renderer
		}
	}
}

// Stats is a snapshot of the engine counters
type Stats struct {
	Evaluations uint64 `json:"evaluations"`
	Failures    uint64 `json:"failures"`
	Fired       uint64 `json:"fired"`
	Suppressed  uint64 `json:"suppressed"`
	Malformed   uint64 `json:"malformed"`

	// InvalidQuietHours counts evaluations that ignored a malformed quiet hours config
	InvalidQuietHours uint64 `json:"invalid_quiet_hours"`
}

// Engine evaluates glucose readings against a user's alert rules
type Engine struct {
	rules        RuleStore
	quiet        QuietHoursStore
	history      ReadingHistory
	tracker      *debounce.Tracker
	messages     *MessageRenderer
	clock        Clock
	fetchTimeout time.Duration
	logger       *zap.Logger

	evaluations atomic.Uint64
	failures    atomic.Uint64
	fired       atomic.Uint64
	suppressed  atomic.Uint64
	malformed   atomic.Uint64
	badQuiet    atomic.Uint64
}

// NewEngine creates an engine backed by the given stores and debounce tracker
func NewEngine(rules RuleStore, quiet QuietHoursStore, tracker *debounce.Tracker, logger *zap.Logger, opts ...Option) (*Engine, error) {
	if rules == nil {
		return nil, errors.New("rule store is required")
	}
	if quiet == nil {
		return nil, errors.New("quiet hours store is required")
	}
	if tracker == nil {
		return nil, errors.New("debounce tracker is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		rules:        rules,
		quiet:        quiet,
		tracker:      tracker,
		messages:     NewMessageRenderer(),
		clock:        systemClock{},
		fetchTimeout: DefaultFetchTimeout,
		logger:       logger.Named("engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// snapshot is the per-pass copy of everything a reading is evaluated against
type snapshot struct {
	rules  []model.AlertRule
	quiet  *model.QuietHoursConfig
	recent []model.Reading
}

// EvaluateGlucoseData evaluates one reading against all of the user's rules and
// returns the alerts that fire. No events are returned when any upstream lookup fails.
func (e *Engine) EvaluateGlucoseData(ctx context.Context, reading model.Reading, userID string) ([]model.AlertEvent, error) {
	if userID == "" {
		userID = reading.UserID
	}
	if err := validateReading(reading, userID); err != nil {
		metrics.ReadingsRejectedTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}
	reading.UserID = userID

	snap, err := e.load(ctx, userID, reading.Timestamp)
	if err != nil {
		e.failures.Add(1)
		metrics.EvaluationsTotal.WithLabelValues("failed").Inc()
		e.logger.Error("Failed to load evaluation state",
			zap.String("user_id", userID),
			zap.Error(err))
		return nil, err
	}
	e.evaluations.Add(1)
	metrics.EvaluationsTotal.WithLabelValues("ok").Inc()

	loc := e.userLocation(snap.quiet)
	inQuiet := e.quietAt(snap.quiet, reading.Timestamp)

	var events []model.AlertEvent
	for _, rule := range snap.rules {
		event, outcome := e.evaluateRule(reading, rule, snap, loc, inQuiet)
		metrics.RuleOutcomesTotal.WithLabelValues(outcome).Inc()
		if event != nil {
			events = append(events, *event)
		}
	}

	if len(events) > 0 {
		e.logger.Info("Alerts triggered",
			zap.String("user_id", userID),
			zap.Int("count", len(events)))
	}
	return events, nil
}

func (e *Engine) evaluateRule(reading model.Reading, rule model.AlertRule, snap *snapshot, loc *time.Location, inQuiet bool) (*model.AlertEvent, string) {
	logger := e.logger.With(
		zap.String("user_id", reading.UserID),
		zap.String("rule_id", rule.ID))

	if !rule.Enabled {
		return nil, metrics.OutcomeDisabled
	}
	if err := e.checkRule(rule, reading.UserID); err != nil {
		e.malformed.Add(1)
		logger.Warn("Skipping malformed rule", zap.Error(err))
		return nil, metrics.OutcomeMalformed
	}

	at := reading.Timestamp
	if !evaluator.IsWithinActiveWindow(rule, at, loc) {
		return nil, metrics.OutcomeInactiveWindow
	}

	met, err := evaluator.IsConditionMet(reading, rule, snap.recent)
	if err != nil {
		e.malformed.Add(1)
		logger.Warn("Skipping malformed rule", zap.Error(err))
		return nil, metrics.OutcomeMalformed
	}
	if !met {
		return nil, metrics.OutcomeNotMet
	}

	if inQuiet && !snap.quiet.Bypasses(rule.Severity) {
		logger.Debug("Alert held by quiet hours", zap.String("severity", string(rule.Severity)))
		return nil, metrics.OutcomeQuietHours
	}

	unlock := e.tracker.Lock(reading.UserID, rule.ID)
	defer unlock()

	if e.tracker.ShouldSuppress(reading.UserID, rule.ID, at, rule.CooldownMinutes) {
		e.suppressed.Add(1)
		logger.Debug("Alert suppressed by cooldown", zap.Int("cooldown_minutes", rule.CooldownMinutes))
		return nil, metrics.OutcomeDebounced
	}

	message, err := e.messages.Render(rule, reading, snap.recent)
	if err != nil {
		e.malformed.Add(1)
		logger.Warn("Skipping malformed rule", zap.Error(err))
		return nil, metrics.OutcomeMalformed
	}

	event := &model.AlertEvent{
		ID:               uuid.New().String(),
		RuleID:           rule.ID,
		UserID:           reading.UserID,
		DeviceID:         reading.DeviceID,
		Severity:         rule.Severity,
		Message:          message,
		TriggeredAt:      e.triggeredAt(at),
		ReadingValue:     reading.Value,
		ReadingTimestamp: at,
	}
	e.tracker.RecordFired(reading.UserID, rule.ID, at)
	e.fired.Add(1)
	return event, metrics.OutcomeFired
}

func (e *Engine) checkRule(rule model.AlertRule, userID string) error {
	if rule.UserID != "" && rule.UserID != userID {
		return fmt.Errorf("%w: rule %s belongs to user %s", model.ErrMalformedRule, rule.ID, rule.UserID)
	}
	return rule.Validate()
}

func (e *Engine) triggeredAt(readingTime time.Time) time.Time {
	now := e.clock.Now()
	if now.Before(readingTime) {
		return readingTime
	}
	return now
}

// userLocation resolves the zone rule windows are evaluated in
func (e *Engine) userLocation(cfg *model.QuietHoursConfig) *time.Location {
	if cfg == nil {
		return time.UTC
	}
	loc, err := evaluator.LoadLocation(cfg.TimeZoneID)
	if err != nil {
		e.logger.Warn("Unknown user time zone, using UTC",
			zap.String("user_id", cfg.UserID),
			zap.String("time_zone", cfg.TimeZoneID))
		return time.UTC
	}
	return loc
}

// quietAt treats a broken quiet hours config as not quiet so alerts are still delivered
func (e *Engine) quietAt(cfg *model.QuietHoursConfig, at time.Time) bool {
	quiet, err := evaluator.IsInQuietHours(cfg, at)
	if err != nil {
		e.badQuiet.Add(1)
		metrics.InvalidQuietHoursTotal.Inc()
		e.logger.Warn("Ignoring invalid quiet hours",
			zap.String("user_id", cfg.UserID),
			zap.Error(err))
		return false
	}
	return quiet
}

func (e *Engine) load(ctx context.Context, userID string, at time.Time) (*snapshot, error) {
	start := time.Now()
	snap, err := fetch(ctx, e.fetchTimeout, func(ctx context.Context) (*snapshot, error) {
		rules, err := e.rules.GetActiveRulesForUser(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to load rules: %w", err)
		}
		cfg, err := e.quiet.GetQuietHours(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to load quiet hours: %w", err)
		}

		snap := &snapshot{rules: make([]model.AlertRule, 0, len(rules))}
		for _, rule := range rules {
			snap.rules = append(snap.rules, rule.Clone())
		}
		if cfg != nil {
			snap.quiet = cfg.Clone()
		}

		if window := rateWindow(snap.rules); window > 0 && e.history != nil {
			recent, err := e.history.RecentReadings(ctx, userID, at.Add(-window), at)
			if err != nil {
				return nil, fmt.Errorf("failed to load reading history: %w", err)
			}
			snap.recent = recent
		}
		return snap, nil
	})
	metrics.FetchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("%w: user %s: %w", ErrUpstreamUnavailable, userID, err)
	}
	return snap, nil
}

// rateWindow returns the widest rate_of_change window among enabled rules
func rateWindow(rules []model.AlertRule) time.Duration {
	var widest time.Duration
	for _, rule := range rules {
		if !rule.Enabled || rule.ConditionType != model.ConditionRateOfChange {
			continue
		}
		if w := time.Duration(rule.RateWindowMinutes) * time.Minute; w > widest {
			widest = w
		}
	}
	return widest
}

// GetActiveRulesForUser returns a copy of the user's enabled rules
func (e *Engine) GetActiveRulesForUser(ctx context.Context, userID string) ([]model.AlertRule, error) {
	rules, err := fetch(ctx, e.fetchTimeout, func(ctx context.Context) ([]model.AlertRule, error) {
		return e.rules.GetActiveRulesForUser(ctx, userID)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load rules for user %s: %w", ErrUpstreamUnavailable, userID, err)
	}

	active := make([]model.AlertRule, 0, len(rules))
	for _, rule := range rules {
		if rule.Enabled {
			active = append(active, rule.Clone())
		}
	}
	return active, nil
}

// IsAlertConditionMet evaluates only the rule's condition against the reading,
// loading history for rate_of_change rules when a history is configured.
func (e *Engine) IsAlertConditionMet(ctx context.Context, reading model.Reading, rule model.AlertRule) (bool, error) {
	var recent []model.Reading
	if rule.ConditionType == model.ConditionRateOfChange && e.history != nil && rule.RateWindowMinutes > 0 {
		window := time.Duration(rule.RateWindowMinutes) * time.Minute
		var err error
		recent, err = fetch(ctx, e.fetchTimeout, func(ctx context.Context) ([]model.Reading, error) {
			return e.history.RecentReadings(ctx, reading.UserID, reading.Timestamp.Add(-window), reading.Timestamp)
		})
		if err != nil {
			return false, fmt.Errorf("%w: failed to load reading history: %w", ErrUpstreamUnavailable, err)
		}
	}
	return evaluator.IsConditionMet(reading, rule, recent)
}

// IsUserInQuietHours reports whether checkTime falls in the user's quiet hours.
// A zero checkTime means now.
func (e *Engine) IsUserInQuietHours(ctx context.Context, userID string, checkTime time.Time) (bool, error) {
	if checkTime.IsZero() {
		checkTime = e.clock.Now()
	}
	cfg, err := e.loadQuietHours(ctx, userID)
	if err != nil {
		return false, err
	}
	return evaluator.IsInQuietHours(cfg, checkTime)
}

// EvaluateTimeBasedConditions reports whether the rule's day and hour window
// covers checkTime in the rule owner's time zone. A zero checkTime means now.
func (e *Engine) EvaluateTimeBasedConditions(ctx context.Context, rule model.AlertRule, checkTime time.Time) (bool, error) {
	if checkTime.IsZero() {
		checkTime = e.clock.Now()
	}
	cfg, err := e.loadQuietHours(ctx, rule.UserID)
	if err != nil {
		return false, err
	}
	return evaluator.IsWithinActiveWindow(rule, checkTime, e.userLocation(cfg)), nil
}

func (e *Engine) loadQuietHours(ctx context.Context, userID string) (*model.QuietHoursConfig, error) {
	cfg, err := fetch(ctx, e.fetchTimeout, func(ctx context.Context) (*model.QuietHoursConfig, error) {
		return e.quiet.GetQuietHours(ctx, userID)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load quiet hours for user %s: %w", ErrUpstreamUnavailable, userID, err)
	}
	return cfg, nil
}

// Stats returns the current engine counters
func (e *Engine) Stats() Stats {
	return Stats{
		Evaluations: e.evaluations.Load(),
		Failures:    e.failures.Load(),
		Fired:       e.fired.Load(),
		Suppressed:  e.suppressed.Load(),
		Malformed:   e.malformed.Load(),

		InvalidQuietHours: e.badQuiet.Load(),
	}
}

func validateReading(reading model.Reading, userID string) error {
	if userID == "" {
		return fmt.Errorf("%w: missing user id", ErrInvalidReading)
	}
	if reading.UserID != "" && reading.UserID != userID {
		return fmt.Errorf("%w: reading belongs to user %s, not %s", ErrInvalidReading, reading.UserID, userID)
	}
	if reading.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidReading)
	}
	return nil
}

// fetch runs fn under timeout and gives up when the deadline passes even if
// fn ignores its context.
func fetch[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		value, err := fn(ctx)
		done <- result{value: value, err: err}
	}()

	select {
	case r := <-done:
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
