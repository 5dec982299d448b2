package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/glucose-alerts/internal/model"
)

const ruleColumns = `id, user_id, name, enabled, condition_type, threshold_value, range_bound,
	rate_window_minutes, severity, active_days, active_start_hour, active_end_hour,
	cooldown_minutes, message_template, created_at, updated_at`

// SQLiteRuleStore stores alert rules and quiet hours in SQLite
type SQLiteRuleStore struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewSQLiteRuleStore creates a rule store on an open database
func NewSQLiteRuleStore(logger *zap.Logger, db *sql.DB) *SQLiteRuleStore {
	return &SQLiteRuleStore{
		logger: logger.Named("rule_store"),
		db:     db,
	}
}

// GetActiveRulesForUser returns the user's enabled rules in creation order
func (s *SQLiteRuleStore) GetActiveRulesForUser(ctx context.Context, userID string) ([]model.AlertRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+ruleColumns+`
		FROM alert_rules
		WHERE user_id = ? AND enabled = 1
		ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var rules []model.AlertRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return rules, nil
}

// GetRule returns a single rule, enabled or not
func (s *SQLiteRuleStore) GetRule(ctx context.Context, ruleID string) (*model.AlertRule, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM alert_rules WHERE id = ?`, ruleID)
	rule, err := scanRule(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, ruleID)
		}
		return nil, err
	}
	return &rule, nil
}

// UpsertRule validates and stores a rule. CreatedAt is kept for existing rules.
func (s *SQLiteRuleStore) UpsertRule(ctx context.Context, rule model.AlertRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	days, err := json.Marshal(rule.ActiveDaysOfWeek)
	if err != nil {
		return fmt.Errorf("failed to marshal active days: %w", err)
	}
	var startHour, endHour sql.NullInt64
	if hr := rule.ActiveHourRange; hr != nil {
		startHour = sql.NullInt64{Int64: int64(hr.StartHour), Valid: true}
		endHour = sql.NullInt64{Int64: int64(hr.EndHour), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO alert_rules (`+ruleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			name = excluded.name,
			enabled = excluded.enabled,
			condition_type = excluded.condition_type,
			threshold_value = excluded.threshold_value,
			range_bound = excluded.range_bound,
			rate_window_minutes = excluded.rate_window_minutes,
			severity = excluded.severity,
			active_days = excluded.active_days,
			active_start_hour = excluded.active_start_hour,
			active_end_hour = excluded.active_end_hour,
			cooldown_minutes = excluded.cooldown_minutes,
			message_template = excluded.message_template,
			updated_at = excluded.updated_at`,
		rule.ID,
		rule.UserID,
		rule.Name,
		rule.Enabled,
		string(rule.ConditionType),
		rule.ThresholdValue.String(),
		rule.RangeBound.String(),
		rule.RateWindowMinutes,
		string(rule.Severity),
		string(days),
		startHour,
		endHour,
		rule.CooldownMinutes,
		rule.MessageTemplate,
		toMillis(rule.CreatedAt),
		toMillis(rule.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to store rule %s: %w", rule.ID, err)
	}

	s.logger.Debug("Stored rule",
		zap.String("rule_id", rule.ID),
		zap.String("user_id", rule.UserID))
	return nil
}

// DeleteRule removes a rule
func (s *SQLiteRuleStore) DeleteRule(ctx context.Context, ruleID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM alert_rules WHERE id = ?`, ruleID)
	if err != nil {
		return fmt.Errorf("failed to delete rule %s: %w", ruleID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, ruleID)
	}
	return nil
}

// GetQuietHours returns the user's quiet hours, or nil when none are configured
func (s *SQLiteRuleStore) GetQuietHours(ctx context.Context, userID string) (*model.QuietHoursConfig, error) {
	var (
		cfg       model.QuietHoursConfig
		overrides sql.NullString
		updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, enabled, start_time, end_time, time_zone, override_severities, updated_at
		FROM quiet_hours
		WHERE user_id = ?`, userID).Scan(
		&cfg.UserID,
		&cfg.Enabled,
		&cfg.StartTimeOfDay,
		&cfg.EndTimeOfDay,
		&cfg.TimeZoneID,
		&overrides,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load quiet hours: %w", err)
	}

	if overrides.Valid {
		cfg.OverrideSeverities = []model.AlertSeverity{}
		if err := json.Unmarshal([]byte(overrides.String), &cfg.OverrideSeverities); err != nil {
			return nil, fmt.Errorf("failed to decode override severities: %w", err)
		}
	}
	cfg.UpdatedAt = fromMillis(updatedAt)
	return &cfg, nil
}

// UpsertQuietHours stores the user's quiet hours. A nil OverrideSeverities
// is stored as NULL so the default set keeps applying.
func (s *SQLiteRuleStore) UpsertQuietHours(ctx context.Context, cfg model.QuietHoursConfig) error {
	if cfg.UserID == "" {
		return fmt.Errorf("%w: empty user id", model.ErrInvalidQuietHours)
	}

	var overrides sql.NullString
	if cfg.OverrideSeverities != nil {
		data, err := json.Marshal(cfg.OverrideSeverities)
		if err != nil {
			return fmt.Errorf("failed to marshal override severities: %w", err)
		}
		overrides = sql.NullString{String: string(data), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO quiet_hours (user_id, enabled, start_time, end_time, time_zone, override_severities, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			enabled = excluded.enabled,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			time_zone = excluded.time_zone,
			override_severities = excluded.override_severities,
			updated_at = excluded.updated_at`,
		cfg.UserID,
		cfg.Enabled,
		cfg.StartTimeOfDay,
		cfg.EndTimeOfDay,
		cfg.TimeZoneID,
		overrides,
		toMillis(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("failed to store quiet hours for user %s: %w", cfg.UserID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (model.AlertRule, error) {
	var (
		rule                 model.AlertRule
		conditionType        string
		severity             string
		days                 sql.NullString
		startHour, endHour   sql.NullInt64
		createdAt, updatedAt int64
	)
	err := row.Scan(
		&rule.ID,
		&rule.UserID,
		&rule.Name,
		&rule.Enabled,
		&conditionType,
		&rule.ThresholdValue,
		&rule.RangeBound,
		&rule.RateWindowMinutes,
		&severity,
		&days,
		&startHour,
		&endHour,
		&rule.CooldownMinutes,
		&rule.MessageTemplate,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rule, err
		}
		return rule, fmt.Errorf("failed to scan rule: %w", err)
	}

	rule.ConditionType = model.ConditionType(conditionType)
	rule.Severity = model.AlertSeverity(severity)
	if days.Valid && days.String != "" && days.String != "null" {
		if err := json.Unmarshal([]byte(days.String), &rule.ActiveDaysOfWeek); err != nil {
			return rule, fmt.Errorf("failed to decode active days of rule %s: %w", rule.ID, err)
		}
	}
	if startHour.Valid && endHour.Valid {
		rule.ActiveHourRange = &model.HourRange{
			StartHour: int(startHour.Int64),
			EndHour:   int(endHour.Int64),
		}
	}
	rule.CreatedAt = fromMillis(createdAt)
	rule.UpdatedAt = fromMillis(updatedAt)
	return rule, nil
}
