package domain

import "errors"

// Validation errors shared across entities.
var (
	ErrStepNumberInvalid = errors.New("step number must be >= 1")
	ErrDelayNegative     = errors.New("step delay must be >= 0 days")
)
