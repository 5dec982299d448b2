package model

import "errors"

var (
	// ErrMalformedRule is returned when a rule is missing a field required by its condition type
	ErrMalformedRule = errors.New("malformed alert rule")

	// ErrInvalidQuietHours is returned when a quiet hours window cannot be parsed
	ErrInvalidQuietHours = errors.New("invalid quiet hours")
)
