package repository

import "errors"

var (
	// ErrNotFound marks a missing entity; API handlers map it to 404.
	ErrNotFound = errors.New("not found")
	// ErrValidation marks user-correctable input problems; mapped to 400.
	ErrValidation = errors.New("validation failed")
)
