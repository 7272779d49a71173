package review

import "errors"

var (
	ErrNotFound        = errors.New("pending email not found")
	ErrAlreadyReviewed = errors.New("pending email has already been reviewed")
	ErrInvalidAction   = errors.New("invalid review action")
	ErrDuplicateStep   = errors.New("a pending email already exists for this enrollment step")
)
