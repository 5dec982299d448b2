package evaluator

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/t77yq/glucose-alerts/internal/model"
)

var baseTime = time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

func reading(value int64, at time.Time) model.Reading {
	return model.Reading{
		Value:     decimal.NewFromInt(value),
		Timestamp: at,
		DeviceID:  "cgm-1",
		UserID:    "user-1",
	}
}

func TestIsConditionMet_Thresholds(t *testing.T) {
	above := model.AlertRule{ID: "high", ConditionType: model.ConditionAboveThreshold, ThresholdValue: decimal.NewFromInt(180)}
	below := model.AlertRule{ID: "low", ConditionType: model.ConditionBelowThreshold, ThresholdValue: decimal.NewFromInt(70)}

	tests := []struct {
		name  string
		rule  model.AlertRule
		value int64
		want  bool
	}{
		{name: "above threshold", rule: above, value: 181, want: true},
		{name: "equal to high threshold is not above", rule: above, value: 180, want: false},
		{name: "below high threshold", rule: above, value: 120, want: false},
		{name: "below low threshold", rule: below, value: 65, want: true},
		{name: "equal to low threshold is not below", rule: below, value: 70, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			met, err := IsConditionMet(reading(tt.value, baseTime), tt.rule, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, met)
		})
	}
}

func TestIsConditionMet_RangeExit(t *testing.T) {
	rule := model.AlertRule{
		ID:             "range",
		ConditionType:  model.ConditionRangeExit,
		ThresholdValue: decimal.NewFromInt(120),
		RangeBound:     decimal.NewFromInt(50),
	}

	for value, want := range map[int64]bool{69: true, 70: false, 120: false, 170: false, 171: true} {
		met, err := IsConditionMet(reading(value, baseTime), rule, nil)
		require.NoError(t, err)
		assert.Equal(t, want, met, "value %d", value)
	}

	rule.RangeBound = decimal.Zero
	_, err := IsConditionMet(reading(10, baseTime), rule, nil)
	assert.True(t, errors.Is(err, model.ErrMalformedRule))
}

func TestIsConditionMet_RateOfChange(t *testing.T) {
	rising := model.AlertRule{
		ID:                "rise",
		ConditionType:     model.ConditionRateOfChange,
		ThresholdValue:    decimal.NewFromInt(2),
		RateWindowMinutes: 15,
	}
	falling := rising
	falling.ID = "fall"
	falling.ThresholdValue = decimal.NewFromInt(-2)

	t.Run("No history is not met", func(t *testing.T) {
		met, err := IsConditionMet(reading(200, baseTime), rising, nil)
		require.NoError(t, err)
		assert.False(t, met)
	})

	t.Run("History outside window is not met", func(t *testing.T) {
		history := []model.Reading{reading(100, baseTime.Add(-20*time.Minute))}
		met, err := IsConditionMet(reading(200, baseTime), rising, history)
		require.NoError(t, err)
		assert.False(t, met)
	})

	t.Run("Fast rise is met", func(t *testing.T) {
		// 100 -> 136 over 12 minutes = 3/min
		history := []model.Reading{
			reading(100, baseTime.Add(-12*time.Minute)),
			reading(130, baseTime.Add(-2*time.Minute)),
		}
		met, err := IsConditionMet(reading(136, baseTime), rising, history)
		require.NoError(t, err)
		assert.True(t, met)

		met, err = IsConditionMet(reading(136, baseTime), falling, history)
		require.NoError(t, err)
		assert.False(t, met)
	})

	t.Run("Fast fall is met", func(t *testing.T) {
		history := []model.Reading{reading(150, baseTime.Add(-10*time.Minute))}
		met, err := IsConditionMet(reading(120, baseTime), falling, history)
		require.NoError(t, err)
		assert.True(t, met)
	})

	t.Run("Slow change is not met", func(t *testing.T) {
		history := []model.Reading{reading(100, baseTime.Add(-10*time.Minute))}
		met, err := IsConditionMet(reading(110, baseTime), rising, history)
		require.NoError(t, err)
		assert.False(t, met)
	})

	t.Run("Readings at or after current are ignored", func(t *testing.T) {
		history := []model.Reading{reading(50, baseTime), reading(10, baseTime.Add(time.Minute))}
		met, err := IsConditionMet(reading(200, baseTime), rising, history)
		require.NoError(t, err)
		assert.False(t, met)
	})

	t.Run("Missing window is a defect", func(t *testing.T) {
		broken := rising
		broken.RateWindowMinutes = 0
		_, err := IsConditionMet(reading(200, baseTime), broken, nil)
		assert.True(t, errors.Is(err, model.ErrMalformedRule))
	})
}

func TestIsConditionMet_Idempotent(t *testing.T) {
	rule := model.AlertRule{ID: "high", ConditionType: model.ConditionAboveThreshold, ThresholdValue: decimal.NewFromInt(180)}
	r := reading(200, baseTime)

	first, err := IsConditionMet(r, rule, nil)
	require.NoError(t, err)
	second, err := IsConditionMet(r, rule, nil)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.True(t, rule.ThresholdValue.Equal(decimal.NewFromInt(180)))
}

func TestIsConditionMet_UnsupportedType(t *testing.T) {
	rule := model.AlertRule{ID: "odd", ConditionType: "trend"}
	met, err := IsConditionMet(reading(100, baseTime), rule, nil)
	assert.False(t, met)
	assert.True(t, errors.Is(err, model.ErrMalformedRule))
}
