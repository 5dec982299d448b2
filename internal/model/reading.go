package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Reading represents one timestamped glucose measurement
type Reading struct {
	Value     decimal.Decimal `json:"value"`
	Timestamp time.Time       `json:"timestamp"`
	DeviceID  string          `json:"device_id"`
	UserID    string          `json:"user_id"`
}
