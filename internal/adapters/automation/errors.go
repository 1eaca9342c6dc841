package automation

import "errors"

// Sentinel kinds for automation errors.
var (
	ErrNoTarget          = errors.New("no automation target configured")
	ErrTargetUnavailable = errors.New("automation target unavailable")
	ErrTargetProtocol    = errors.New("unexpected automation target response")
	ErrNoRanking         = errors.New("no usable finishing order")
)
