package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// AlertSeverity represents the severity level of an alert
type AlertSeverity string

const (
	AlertSeverityInfo   AlertSeverity = "info"
	AlertSeverityWarn   AlertSeverity = "warn"
	AlertSeverityUrgent AlertSeverity = "urgent"
)

// Valid reports whether the severity is one of the supported levels
func (s AlertSeverity) Valid() bool {
	switch s {
	case AlertSeverityInfo, AlertSeverityWarn, AlertSeverityUrgent:
		return true
	default:
		return false
	}
}

// AlertEvent represents an alert produced by the rules engine.
// It is never mutated after creation.
type AlertEvent struct {
	ID               string          `json:"id"`
	RuleID           string          `json:"rule_id"`
	UserID           string          `json:"user_id"`
	DeviceID         string          `json:"device_id,omitempty"`
	Severity         AlertSeverity   `json:"severity"`
	Message          string          `json:"message"`
	TriggeredAt      time.Time       `json:"triggered_at"`
	ReadingValue     decimal.Decimal `json:"reading_value"`
	ReadingTimestamp time.Time       `json:"reading_timestamp"`
}
