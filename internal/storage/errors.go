package storage

import "errors"

var (
	ErrRuleNotFound = errors.New("rule not found")
	ErrInvalidSeed  = errors.New("invalid seed file")
)
