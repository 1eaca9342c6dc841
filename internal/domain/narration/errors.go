package narration

import "errors"

// Sentinel kinds for narration errors.
var (
	ErrProvider = errors.New("generation provider failed")
)
