package evaluator

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/t77yq/glucose-alerts/internal/model"
)

var minutesPerNano = decimal.NewFromInt(int64(time.Minute))

// IsConditionMet decides whether the rule's value or rate condition holds for the reading.
// recent is the user's reading history; only rate_of_change rules look at it.
// An error is returned only for configuration defects in the rule.
func IsConditionMet(reading model.Reading, rule model.AlertRule, recent []model.Reading) (bool, error) {
	switch rule.ConditionType {
	case model.ConditionAboveThreshold:
		return reading.Value.GreaterThan(rule.ThresholdValue), nil
	case model.ConditionBelowThreshold:
		return reading.Value.LessThan(rule.ThresholdValue), nil
	case model.ConditionRangeExit:
		if !rule.RangeBound.IsPositive() {
			return false, fmt.Errorf("%w: rule %s: range_exit requires a positive bound", model.ErrMalformedRule, rule.ID)
		}
		low := rule.ThresholdValue.Sub(rule.RangeBound)
		high := rule.ThresholdValue.Add(rule.RangeBound)
		return reading.Value.LessThan(low) || reading.Value.GreaterThan(high), nil
	case model.ConditionRateOfChange:
		return rateConditionMet(reading, rule, recent)
	default:
		return false, fmt.Errorf("%w: rule %s: unsupported condition type %q", model.ErrMalformedRule, rule.ID, rule.ConditionType)
	}
}

func rateConditionMet(reading model.Reading, rule model.AlertRule, recent []model.Reading) (bool, error) {
	if rule.RateWindowMinutes <= 0 || rule.ThresholdValue.IsZero() {
		return false, fmt.Errorf("%w: rule %s: rate_of_change requires window and threshold", model.ErrMalformedRule, rule.ID)
	}

	rate, ok := RatePerMinute(reading, recent, time.Duration(rule.RateWindowMinutes)*time.Minute)
	if !ok {
		// no prior reading in the window: not met
		return false, nil
	}
	if rule.ThresholdValue.IsPositive() {
		return rate.GreaterThan(rule.ThresholdValue), nil
	}
	return rate.LessThan(rule.ThresholdValue), nil
}

// RatePerMinute computes the change per minute between the current reading and
// the earliest reading of the same user inside [current-window, current).
func RatePerMinute(current model.Reading, recent []model.Reading, window time.Duration) (decimal.Decimal, bool) {
	from := current.Timestamp.Add(-window)

	var prior *model.Reading
	for i := range recent {
		r := &recent[i]
		if r.UserID != "" && current.UserID != "" && r.UserID != current.UserID {
			continue
		}
		if r.Timestamp.Before(from) || !r.Timestamp.Before(current.Timestamp) {
			continue
		}
		if prior == nil || r.Timestamp.Before(prior.Timestamp) {
			prior = r
		}
	}
	if prior == nil {
		return decimal.Zero, false
	}

	elapsed := current.Timestamp.Sub(prior.Timestamp)
	minutes := decimal.NewFromInt(int64(elapsed)).Div(minutesPerNano)
	return current.Value.Sub(prior.Value).Div(minutes), true
}
