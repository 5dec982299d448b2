package evaluator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/t77yq/glucose-alerts/internal/model"
)

func TestIsWithinActiveWindow(t *testing.T) {
	// 2026-03-04 is a Wednesday
	at := func(hour int) time.Time { return time.Date(2026, 3, 4, hour, 30, 0, 0, time.UTC) }

	t.Run("No restriction", func(t *testing.T) {
		assert.True(t, IsWithinActiveWindow(model.AlertRule{}, at(3), time.UTC))
	})

	t.Run("Midnight wraparound", func(t *testing.T) {
		rule := model.AlertRule{ActiveHourRange: &model.HourRange{StartHour: 20, EndHour: 4}}
		assert.True(t, IsWithinActiveWindow(rule, at(23), time.UTC))
		assert.True(t, IsWithinActiveWindow(rule, at(2), time.UTC))
		assert.True(t, IsWithinActiveWindow(rule, at(20), time.UTC))
		assert.False(t, IsWithinActiveWindow(rule, at(4), time.UTC))
		assert.False(t, IsWithinActiveWindow(rule, at(12), time.UTC))
	})

	t.Run("Daytime range", func(t *testing.T) {
		rule := model.AlertRule{ActiveHourRange: &model.HourRange{StartHour: 8, EndHour: 18}}
		assert.True(t, IsWithinActiveWindow(rule, at(8), time.UTC))
		assert.False(t, IsWithinActiveWindow(rule, at(18), time.UTC))
	})

	t.Run("Days of week", func(t *testing.T) {
		rule := model.AlertRule{ActiveDaysOfWeek: []int{int(time.Wednesday)}}
		assert.True(t, IsWithinActiveWindow(rule, at(10), time.UTC))

		rule.ActiveDaysOfWeek = []int{int(time.Saturday), int(time.Sunday)}
		assert.False(t, IsWithinActiveWindow(rule, at(10), time.UTC))
	})

	t.Run("Converted to user zone", func(t *testing.T) {
		loc, err := LoadLocation("America/New_York")
		require.NoError(t, err)

		// 03:30 UTC Wednesday is 22:30 Tuesday in New York
		rule := model.AlertRule{
			ActiveDaysOfWeek: []int{int(time.Tuesday)},
			ActiveHourRange:  &model.HourRange{StartHour: 22, EndHour: 23},
		}
		assert.True(t, IsWithinActiveWindow(rule, at(3), loc))
		assert.False(t, IsWithinActiveWindow(rule, at(3), time.UTC))
	})
}

func TestParseTimeOfDay(t *testing.T) {
	sec, err := ParseTimeOfDay("22:00")
	require.NoError(t, err)
	assert.Equal(t, 22*3600, sec)

	sec, err = ParseTimeOfDay("06:15:30")
	require.NoError(t, err)
	assert.Equal(t, 6*3600+15*60+30, sec)

	for _, bad := range []string{"", "24:00", "7", "07:60", "aa:bb"} {
		_, err := ParseTimeOfDay(bad)
		assert.ErrorIs(t, err, model.ErrInvalidQuietHours, bad)
	}
}
