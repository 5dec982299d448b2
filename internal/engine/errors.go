package engine

import "errors"

var (
	// ErrUpstreamUnavailable is returned when rules, quiet hours or history cannot be loaded
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrInvalidReading is returned when a reading lacks a user or timestamp
	ErrInvalidReading = errors.New("invalid reading")

	// ErrOutOfOrderReading is returned when a reading is older than the user's last evaluated reading
	ErrOutOfOrderReading = errors.New("reading out of order")

	// ErrDispatcherStopped is returned when submitting to a stopped dispatcher
	ErrDispatcherStopped = errors.New("dispatcher stopped")
)
