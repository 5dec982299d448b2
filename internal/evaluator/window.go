package evaluator

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/t77yq/glucose-alerts/internal/model"
)

// hourInRange reports whether hour lies in [start,end), or in
// [start,24) ∪ [0,end) when the range wraps midnight.
func hourInRange(hour, start, end int) bool {
	if start <= end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}

// clockInWindow reports whether a second-of-day lies in the closed window
// [start,end], or in [start,24h) ∪ [0,end] when the window wraps midnight.
func clockInWindow(sec, start, end int) bool {
	if start <= end {
		return sec >= start && sec <= end
	}
	return sec >= start || sec <= end
}

// IsWithinActiveWindow decides whether the rule's day and hour scope applies at checkTime
func IsWithinActiveWindow(rule model.AlertRule, checkTime time.Time, loc *time.Location) bool {
	if loc == nil {
		loc = time.UTC
	}
	local := checkTime.In(loc)

	if len(rule.ActiveDaysOfWeek) > 0 {
		weekday := int(local.Weekday())
		dayAllowed := false
		for _, d := range rule.ActiveDaysOfWeek {
			if d == weekday {
				dayAllowed = true
				break
			}
		}
		if !dayAllowed {
			return false
		}
	}

	if hr := rule.ActiveHourRange; hr != nil {
		return hourInRange(local.Hour(), hr.StartHour, hr.EndHour)
	}
	return true
}

// ParseTimeOfDay parses "HH:MM" or "HH:MM:SS" into seconds since midnight
func ParseTimeOfDay(value string) (int, error) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, fmt.Errorf("%w: time of day %q", model.ErrInvalidQuietHours, value)
	}

	limits := []int{23, 59, 59}
	units := []int{3600, 60, 1}
	total := 0
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 || n > limits[i] {
			return 0, fmt.Errorf("%w: time of day %q", model.ErrInvalidQuietHours, value)
		}
		total += n * units[i]
	}
	return total, nil
}

func secondOfDay(t time.Time) int {
	return t.Hour()*3600 + t.Minute()*60 + t.Second()
}
