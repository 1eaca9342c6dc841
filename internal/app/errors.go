package app

import "errors"

// Sentinel kinds for controller errors.
var (
	ErrMissingDependency = errors.New("missing service dependency")
	ErrRosterTooSmall    = errors.New("a race needs at least two players")
	ErrDuplicatePlayer   = errors.New("duplicate player name in roster")
	ErrShieldUnavailable = errors.New("player owns no shield to burn")
	ErrRankingMismatch   = errors.New("finishing order does not match the roster")
)
