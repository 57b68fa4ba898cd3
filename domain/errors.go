package domain

import "errors"

var (
	// ErrTaskNotFound is returned when the addressed task id does not exist.
	ErrTaskNotFound = errors.New("task not found")
	// ErrInvalidTask is returned when a submitted task is missing required fields.
	ErrInvalidTask = errors.New("invalid task")
	// ErrInvalidUser is returned when a submitted user has no uid.
	ErrInvalidUser = errors.New("invalid user")
)
