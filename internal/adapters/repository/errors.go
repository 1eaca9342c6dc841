package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrNotFound          = errors.New("record not found")
	ErrInvalidTransition = errors.New("invalid race state transition")
	ErrDuplicate         = errors.New("record already exists")
)
