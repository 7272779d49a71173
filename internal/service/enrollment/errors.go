package enrollment

import "errors"

// Sentinel errors for the enrollment service layer.
var (
	ErrNotFound          = errors.New("enrollment not found")
	ErrSequenceNotFound  = errors.New("sequence not found")
	ErrSequenceNotActive = errors.New("sequence is not active")
	ErrSequenceEmpty     = errors.New("sequence has no steps")
	ErrNoContacts        = errors.New("at least one contact is required")
	ErrDuplicate         = errors.New("contact already has a live enrollment in this sequence")
	ErrVersionConflict   = errors.New("enrollment was modified concurrently")
)
