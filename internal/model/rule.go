package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ConditionType represents the kind of check a rule performs on a reading
type ConditionType string

const (
	ConditionAboveThreshold ConditionType = "above_threshold"
	ConditionBelowThreshold ConditionType = "below_threshold"
	ConditionRateOfChange   ConditionType = "rate_of_change"
	ConditionRangeExit      ConditionType = "range_exit"
)

// HourRange is a user-local hour window. StartHour > EndHour spans midnight.
type HourRange struct {
	StartHour int `json:"start_hour" yaml:"start_hour"`
	EndHour   int `json:"end_hour" yaml:"end_hour"`
}

// AlertRule defines a user-authored condition that can trigger an alert
type AlertRule struct {
	ID                string          `json:"id"`
	UserID            string          `json:"user_id"`
	Name              string          `json:"name"`
	Enabled           bool            `json:"enabled"`
	ConditionType     ConditionType   `json:"condition_type"`
	ThresholdValue    decimal.Decimal `json:"threshold_value"`
	RangeBound        decimal.Decimal `json:"range_bound,omitempty"`
	RateWindowMinutes int             `json:"rate_window_minutes,omitempty"`
	Severity          AlertSeverity   `json:"severity"`
	ActiveDaysOfWeek  []int           `json:"active_days_of_week,omitempty"`
	ActiveHourRange   *HourRange      `json:"active_hour_range,omitempty"`
	CooldownMinutes   int             `json:"cooldown_minutes"`
	MessageTemplate   string          `json:"message_template,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Validate checks that the rule carries every field its condition type needs.
// All failures wrap ErrMalformedRule.
func (r AlertRule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: empty id", ErrMalformedRule)
	}
	if r.UserID == "" {
		return fmt.Errorf("%w: rule %s: empty user id", ErrMalformedRule, r.ID)
	}
	if !r.Severity.Valid() {
		return fmt.Errorf("%w: rule %s: unsupported severity %q", ErrMalformedRule, r.ID, r.Severity)
	}
	if r.CooldownMinutes < 0 {
		return fmt.Errorf("%w: rule %s: negative cooldown", ErrMalformedRule, r.ID)
	}
	for _, day := range r.ActiveDaysOfWeek {
		if day < 0 || day > 6 {
			return fmt.Errorf("%w: rule %s: day of week %d out of range", ErrMalformedRule, r.ID, day)
		}
	}
	if hr := r.ActiveHourRange; hr != nil {
		if hr.StartHour < 0 || hr.StartHour > 23 || hr.EndHour < 0 || hr.EndHour > 24 {
			return fmt.Errorf("%w: rule %s: hour range %d-%d out of range", ErrMalformedRule, r.ID, hr.StartHour, hr.EndHour)
		}
		if hr.StartHour == hr.EndHour {
			return fmt.Errorf("%w: rule %s: empty hour range", ErrMalformedRule, r.ID)
		}
	}

	switch r.ConditionType {
	case ConditionAboveThreshold, ConditionBelowThreshold:
	case ConditionRateOfChange:
		if r.RateWindowMinutes <= 0 {
			return fmt.Errorf("%w: rule %s: rate_of_change requires a positive window", ErrMalformedRule, r.ID)
		}
		if r.ThresholdValue.IsZero() {
			return fmt.Errorf("%w: rule %s: rate_of_change requires a non-zero threshold", ErrMalformedRule, r.ID)
		}
	case ConditionRangeExit:
		if !r.RangeBound.IsPositive() {
			return fmt.Errorf("%w: rule %s: range_exit requires a positive bound", ErrMalformedRule, r.ID)
		}
	default:
		return fmt.Errorf("%w: rule %s: unsupported condition type %q", ErrMalformedRule, r.ID, r.ConditionType)
	}
	return nil
}

// Clone returns a deep copy so evaluation never observes store-side mutation
func (r AlertRule) Clone() AlertRule {
	out := r
	if r.ActiveDaysOfWeek != nil {
		out.ActiveDaysOfWeek = append([]int(nil), r.ActiveDaysOfWeek...)
	}
	if r.ActiveHourRange != nil {
		hr := *r.ActiveHourRange
		out.ActiveHourRange = &hr
	}
	return out
}
