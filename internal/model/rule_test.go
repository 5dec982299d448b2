package model

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRule() AlertRule {
	return AlertRule{
		ID:              "rule-1",
		UserID:          "user-1",
		Enabled:         true,
		ConditionType:   ConditionAboveThreshold,
		ThresholdValue:  decimal.NewFromInt(180),
		Severity:        AlertSeverityWarn,
		CooldownMinutes: 30,
	}
}

func TestAlertRule_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *AlertRule)
		wantErr bool
	}{
		{name: "valid threshold rule", mutate: func(r *AlertRule) {}},
		{name: "missing id", mutate: func(r *AlertRule) { r.ID = "" }, wantErr: true},
		{name: "unknown severity", mutate: func(r *AlertRule) { r.Severity = "critical" }, wantErr: true},
		{name: "negative cooldown", mutate: func(r *AlertRule) { r.CooldownMinutes = -1 }, wantErr: true},
		{name: "day out of range", mutate: func(r *AlertRule) { r.ActiveDaysOfWeek = []int{1, 7} }, wantErr: true},
		{name: "empty hour range", mutate: func(r *AlertRule) { r.ActiveHourRange = &HourRange{StartHour: 5, EndHour: 5} }, wantErr: true},
		{name: "wrapping hour range", mutate: func(r *AlertRule) { r.ActiveHourRange = &HourRange{StartHour: 20, EndHour: 4} }},
		{name: "unsupported condition", mutate: func(r *AlertRule) { r.ConditionType = "trend" }, wantErr: true},
		{
			name: "rate without window",
			mutate: func(r *AlertRule) {
				r.ConditionType = ConditionRateOfChange
				r.ThresholdValue = decimal.NewFromInt(2)
			},
			wantErr: true,
		},
		{
			name: "rate with zero threshold",
			mutate: func(r *AlertRule) {
				r.ConditionType = ConditionRateOfChange
				r.RateWindowMinutes = 15
				r.ThresholdValue = decimal.Zero
			},
			wantErr: true,
		},
		{
			name: "range exit without bound",
			mutate: func(r *AlertRule) {
				r.ConditionType = ConditionRangeExit
			},
			wantErr: true,
		},
		{
			name: "range exit with bound",
			mutate: func(r *AlertRule) {
				r.ConditionType = ConditionRangeExit
				r.RangeBound = decimal.NewFromInt(40)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := validRule()
			tt.mutate(&rule)
			err := rule.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrMalformedRule))
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestAlertRule_Clone(t *testing.T) {
	rule := validRule()
	rule.ActiveDaysOfWeek = []int{1, 2}
	rule.ActiveHourRange = &HourRange{StartHour: 8, EndHour: 20}

	clone := rule.Clone()
	clone.ActiveDaysOfWeek[0] = 6
	clone.ActiveHourRange.StartHour = 0

	assert.Equal(t, 1, rule.ActiveDaysOfWeek[0])
	assert.Equal(t, 8, rule.ActiveHourRange.StartHour)
}

func TestQuietHoursConfig_Bypasses(t *testing.T) {
	var absent *QuietHoursConfig
	assert.True(t, absent.Bypasses(AlertSeverityUrgent))
	assert.False(t, absent.Bypasses(AlertSeverityWarn))

	defaults := &QuietHoursConfig{Enabled: true}
	assert.True(t, defaults.Bypasses(AlertSeverityUrgent))
	assert.False(t, defaults.Bypasses(AlertSeverityInfo))

	custom := &QuietHoursConfig{Enabled: true, OverrideSeverities: []AlertSeverity{AlertSeverityWarn, AlertSeverityUrgent}}
	assert.True(t, custom.Bypasses(AlertSeverityWarn))

	none := &QuietHoursConfig{Enabled: true, OverrideSeverities: []AlertSeverity{}}
	assert.False(t, none.Bypasses(AlertSeverityUrgent))
}
