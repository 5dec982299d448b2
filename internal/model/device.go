package model

import "time"

// DeviceKind identifies a consumable whose age is tracked
type DeviceKind string

const (
	DeviceKindSensor      DeviceKind = "sensor"
	DeviceKindCannula     DeviceKind = "cannula"
	DeviceKindCalibration DeviceKind = "calibration"
)

// DeviceEvent records a care event such as a sensor start or site change
type DeviceEvent struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	Kind       DeviceKind `json:"kind"`
	EventType  string     `json:"event_type"`
	OccurredAt time.Time  `json:"occurred_at"`
}

// DeviceAgeNotice is emitted when a device passes one of its age thresholds
type DeviceAgeNotice struct {
	ID          string        `json:"id"`
	UserID      string        `json:"user_id"`
	Kind        DeviceKind    `json:"kind"`
	Severity    AlertSeverity `json:"severity"`
	Age         time.Duration `json:"age"`
	LastEventAt time.Time     `json:"last_event_at"`
	Message     string        `json:"message"`
	CreatedAt   time.Time     `json:"created_at"`
}
