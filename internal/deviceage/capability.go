package deviceage

import (
	"time"

	"github.com/t77yq/glucose-alerts/internal/model"
)

// Capability describes how one kind of device ages. The freshness algorithm
// is shared; only this data differs between kinds.
type Capability struct {
	Kind model.DeviceKind
	// ValidEventType reports whether an event type resets the device's age
	ValidEventType func(eventType string) bool
	// Thresholds by severity; a zero duration disables that level
	InfoAfter   time.Duration
	WarnAfter   time.Duration
	UrgentAfter time.Duration
	// Templates by severity, rendered with NoticeData
	Templates map[model.AlertSeverity]string
}

func eventTypes(types ...string) func(string) bool {
	return func(eventType string) bool {
		for _, t := range types {
			if t == eventType {
				return true
			}
		}
		return false
	}
}

// DefaultCapabilities returns the sensor, cannula and calibration records
func DefaultCapabilities() []Capability {
	return []Capability{
		{
			Kind:           model.DeviceKindSensor,
			ValidEventType: eventTypes("sensor_start", "sensor_change"),
			InfoAfter:      144 * time.Hour,
			WarnAfter:      164 * time.Hour,
			UrgentAfter:    166 * time.Hour,
			Templates: map[model.AlertSeverity]string{
				model.AlertSeverityInfo:   "Sensor is {{.Age}} old",
				model.AlertSeverityWarn:   "Sensor is {{.Age}} old, change soon",
				model.AlertSeverityUrgent: "Sensor is {{.Age}} old, change now",
			},
		},
		{
			Kind:           model.DeviceKindCannula,
			ValidEventType: eventTypes("site_change", "cannula_change", "pump_reservoir_change"),
			InfoAfter:      44 * time.Hour,
			WarnAfter:      48 * time.Hour,
			UrgentAfter:    72 * time.Hour,
			Templates: map[model.AlertSeverity]string{
				model.AlertSeverityInfo:   "Cannula is {{.Age}} old",
				model.AlertSeverityWarn:   "Cannula is {{.Age}} old, change soon",
				model.AlertSeverityUrgent: "Cannula is {{.Age}} old, change now",
			},
		},
		{
			Kind:           model.DeviceKindCalibration,
			ValidEventType: eventTypes("bg_check", "calibration"),
			WarnAfter:      12 * time.Hour,
			UrgentAfter:    24 * time.Hour,
			Templates: map[model.AlertSeverity]string{
				model.AlertSeverityWarn:   "Last calibration was {{.Age}} ago",
				model.AlertSeverityUrgent: "Last calibration was {{.Age}} ago, calibrate now",
			},
		},
	}
}
