package evaluator

import (
	"time"

	"github.com/t77yq/glucose-alerts/internal/model"
)

// IsInQuietHours reports whether checkTime falls inside the configured quiet window.
// Both boundary instants count as inside. A nil or disabled config is never quiet.
func IsInQuietHours(cfg *model.QuietHoursConfig, checkTime time.Time) (bool, error) {
	if cfg == nil || !cfg.Enabled {
		return false, nil
	}

	start, err := ParseTimeOfDay(cfg.StartTimeOfDay)
	if err != nil {
		return false, err
	}
	end, err := ParseTimeOfDay(cfg.EndTimeOfDay)
	if err != nil {
		return false, err
	}
	loc, err := LoadLocation(cfg.TimeZoneID)
	if err != nil {
		return false, err
	}

	return clockInWindow(secondOfDay(checkTime.In(loc)), start, end), nil
}
