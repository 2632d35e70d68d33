package repository

import "errors"

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrConflict is returned when a write would overwrite a set-once field
	// or violate the booking's current status.
	ErrConflict = errors.New("conflicting update")
)
