package storage

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/t77yq/glucose-alerts/internal/model"
)

// SeedFile is the YAML document used to import rules and quiet hours
type SeedFile struct {
	Users []SeedUser `yaml:"users"`
}

// SeedUser holds one user's configuration
type SeedUser struct {
	UserID     string          `yaml:"user_id"`
	QuietHours *SeedQuietHours `yaml:"quiet_hours"`
	Rules      []SeedRule      `yaml:"rules"`
}

// SeedQuietHours mirrors model.QuietHoursConfig. A missing
// override_severities key keeps the default override set.
type SeedQuietHours struct {
	Enabled            bool     `yaml:"enabled"`
	Start              string   `yaml:"start"`
	End                string   `yaml:"end"`
	TimeZone           string   `yaml:"time_zone"`
	OverrideSeverities []string `yaml:"override_severities"`
}

// SeedRule mirrors model.AlertRule with decimals written as strings
type SeedRule struct {
	ID                string           `yaml:"id"`
	Name              string           `yaml:"name"`
	Enabled           *bool            `yaml:"enabled"`
	ConditionType     string           `yaml:"condition_type"`
	Threshold         string           `yaml:"threshold"`
	RangeBound        string           `yaml:"range_bound"`
	RateWindowMinutes int              `yaml:"rate_window_minutes"`
	Severity          string           `yaml:"severity"`
	ActiveDays        []int            `yaml:"active_days"`
	ActiveHours       *model.HourRange `yaml:"active_hours"`
	CooldownMinutes   int              `yaml:"cooldown_minutes"`
	MessageTemplate   string           `yaml:"message_template"`
}

// LoadSeedFile reads and parses a seed file
func LoadSeedFile(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed parses a seed document
func ParseSeed(data []byte) (*SeedFile, error) {
	var seed SeedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSeed, err)
	}
	for i, user := range seed.Users {
		if user.UserID == "" {
			return nil, fmt.Errorf("%w: user %d has no user_id", ErrInvalidSeed, i)
		}
	}
	return &seed, nil
}

// AlertRules converts the user's seed rules into alert rules
func (u SeedUser) AlertRules() ([]model.AlertRule, error) {
	rules := make([]model.AlertRule, 0, len(u.Rules))
	base := time.Now().UTC()
	for i, r := range u.Rules {
		threshold, err := parseDecimal(r.Threshold)
		if err != nil {
			return nil, fmt.Errorf("%w: rule %s: threshold: %v", ErrInvalidSeed, r.ID, err)
		}
		bound, err := parseDecimal(r.RangeBound)
		if err != nil {
			return nil, fmt.Errorf("%w: rule %s: range_bound: %v", ErrInvalidSeed, r.ID, err)
		}
		enabled := true
		if r.Enabled != nil {
			enabled = *r.Enabled
		}

		rule := model.AlertRule{
			ID:                r.ID,
			UserID:            u.UserID,
			Name:              r.Name,
			Enabled:           enabled,
			ConditionType:     model.ConditionType(r.ConditionType),
			ThresholdValue:    threshold,
			RangeBound:        bound,
			RateWindowMinutes: r.RateWindowMinutes,
			Severity:          model.AlertSeverity(r.Severity),
			ActiveDaysOfWeek:  r.ActiveDays,
			ActiveHourRange:   r.ActiveHours,
			CooldownMinutes:   r.CooldownMinutes,
			MessageTemplate:   r.MessageTemplate,
			// keep file order as evaluation order
			CreatedAt: base.Add(time.Duration(i) * time.Millisecond),
		}
		if err := rule.Validate(); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// QuietHoursConfig converts the user's seed quiet hours, or returns nil when absent
func (u SeedUser) QuietHoursConfig() *model.QuietHoursConfig {
	if u.QuietHours == nil {
		return nil
	}
	cfg := &model.QuietHoursConfig{
		UserID:         u.UserID,
		Enabled:        u.QuietHours.Enabled,
		StartTimeOfDay: u.QuietHours.Start,
		EndTimeOfDay:   u.QuietHours.End,
		TimeZoneID:     u.QuietHours.TimeZone,
	}
	if u.QuietHours.OverrideSeverities != nil {
		cfg.OverrideSeverities = make([]model.AlertSeverity, 0, len(u.QuietHours.OverrideSeverities))
		for _, s := range u.QuietHours.OverrideSeverities {
			cfg.OverrideSeverities = append(cfg.OverrideSeverities, model.AlertSeverity(s))
		}
	}
	return cfg
}

// ApplySeed writes every user's rules and quiet hours to the store
func ApplySeed(ctx context.Context, logger *zap.Logger, store *SQLiteRuleStore, seed *SeedFile) error {
	for _, user := range seed.Users {
		rules, err := user.AlertRules()
		if err != nil {
			return err
		}
		for _, rule := range rules {
			if err := store.UpsertRule(ctx, rule); err != nil {
				return err
			}
		}
		if cfg := user.QuietHoursConfig(); cfg != nil {
			if err := store.UpsertQuietHours(ctx, *cfg); err != nil {
				return err
			}
		}
		logger.Info("Seeded user",
			zap.String("user_id", user.UserID),
			zap.Int("rules", len(rules)),
			zap.Bool("quiet_hours", user.QuietHours != nil))
	}
	return nil
}

func parseDecimal(value string) (decimal.Decimal, error) {
	if value == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(value)
}
