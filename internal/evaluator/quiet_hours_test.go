package evaluator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/t77yq/glucose-alerts/internal/model"
)

func TestIsInQuietHours(t *testing.T) {
	cfg := &model.QuietHoursConfig{
		UserID:         "user-1",
		Enabled:        true,
		StartTimeOfDay: "22:00",
		EndTimeOfDay:   "06:00",
	}
	at := func(h, m, s int) time.Time { return time.Date(2026, 3, 4, h, m, s, 0, time.UTC) }

	tests := []struct {
		name string
		time time.Time
		want bool
	}{
		{name: "start boundary is inside", time: at(22, 0, 0), want: true},
		{name: "end boundary is inside", time: at(6, 0, 0), want: true},
		{name: "just before start", time: at(21, 59, 59), want: false},
		{name: "just after end", time: at(6, 0, 1), want: false},
		{name: "before midnight", time: at(23, 30, 0), want: true},
		{name: "after midnight", time: at(2, 0, 0), want: true},
		{name: "midday", time: at(12, 0, 0), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			quiet, err := IsInQuietHours(cfg, tt.time)
			require.NoError(t, err)
			assert.Equal(t, tt.want, quiet)
		})
	}
}

func TestIsInQuietHours_NonWrapping(t *testing.T) {
	cfg := &model.QuietHoursConfig{Enabled: true, StartTimeOfDay: "13:00", EndTimeOfDay: "15:00"}

	quiet, err := IsInQuietHours(cfg, time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, quiet)

	quiet, err = IsInQuietHours(cfg, time.Date(2026, 3, 4, 23, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.False(t, quiet)
}

func TestIsInQuietHours_DisabledOrAbsent(t *testing.T) {
	now := time.Date(2026, 3, 4, 23, 0, 0, 0, time.UTC)

	quiet, err := IsInQuietHours(nil, now)
	require.NoError(t, err)
	assert.False(t, quiet)

	quiet, err = IsInQuietHours(&model.QuietHoursConfig{StartTimeOfDay: "22:00", EndTimeOfDay: "06:00"}, now)
	require.NoError(t, err)
	assert.False(t, quiet)
}

func TestIsInQuietHours_TimeZone(t *testing.T) {
	cfg := &model.QuietHoursConfig{
		Enabled:        true,
		StartTimeOfDay: "23:00",
		EndTimeOfDay:   "07:00",
		TimeZoneID:     "Europe/Berlin",
	}

	// 22:30 UTC in winter is 23:30 in Berlin
	quiet, err := IsInQuietHours(cfg, time.Date(2026, 1, 10, 22, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, quiet)

	cfg.TimeZoneID = "Not/AZone"
	_, err = IsInQuietHours(cfg, time.Date(2026, 1, 10, 22, 30, 0, 0, time.UTC))
	assert.Error(t, err)
}
