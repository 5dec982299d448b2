package model

import "time"

// QuietHoursConfig is a user's recurring do-not-disturb window.
//
// OverrideSeverities lists the severities that fire during quiet hours. A nil
// slice means the default set (urgent only); an empty, non-nil slice means no
// severity bypasses the window.
type QuietHoursConfig struct {
	UserID             string          `json:"user_id"`
	Enabled            bool            `json:"enabled"`
	StartTimeOfDay     string          `json:"start_time_of_day"`
	EndTimeOfDay       string          `json:"end_time_of_day"`
	TimeZoneID         string          `json:"time_zone_id,omitempty"`
	OverrideSeverities []AlertSeverity `json:"override_severities"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// DefaultOverrideSeverities are used when a config does not set its own list
var DefaultOverrideSeverities = []AlertSeverity{AlertSeverityUrgent}

// Bypasses reports whether an alert of the given severity ignores quiet hours
func (c *QuietHoursConfig) Bypasses(severity AlertSeverity) bool {
	overrides := DefaultOverrideSeverities
	if c != nil && c.OverrideSeverities != nil {
		overrides = c.OverrideSeverities
	}
	for _, s := range overrides {
		if s == severity {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the config
func (c *QuietHoursConfig) Clone() *QuietHoursConfig {
	if c == nil {
		return nil
	}
	out := *c
	if c.OverrideSeverities != nil {
		out.OverrideSeverities = append([]AlertSeverity{}, c.OverrideSeverities...)
	}
	return &out
}
