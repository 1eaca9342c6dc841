// Package model contains domain models passed between layers.
package model

import "time"

// RaceStatus enumerates the race lifecycle states.
type RaceStatus string

const (
	RacePending  RaceStatus = "pending"
	RaceRunning  RaceStatus = "running"
	RaceFinished RaceStatus = "finished"
	RaceFailed   RaceStatus = "failed"
)

// Race is one timed run of the external simulation plus its derived results.
// Races are created once, mutated only by the controller, and never deleted.
type Race struct {
	ID         int64
	Status     RaceStatus
	CreatedAt  time.Time
	FinishedAt *time.Time
	MediaRef   *string // reference to the recorded race video, if any
	Verdict    *string // human-readable summary naming the victims
}

// Participant is a user's entry in one race. It is created at race creation
// and mutated exactly once at finalization.
type Participant struct {
	ID         int64
	RaceID     int64
	UserID     int64
	Name       string
	UsedShield bool
	FinalRank  *int // nil until extraction
	GotScarred bool
}

// User carries the penalty/reward counters mutated at race finalization.
// Scars is always 0 or 1 after a stat update; two scars convert to a shield.
type User struct {
	ID          int64
	Name        string
	Scars       int
	Shields     int
	ShieldsUsed int
	TotalScars  int
}

// CommentaryEntry is one generated line of narration tied to a race-relative
// timestamp. Entries are append-only and strictly ordered per race.
type CommentaryEntry struct {
	ID        int64
	RaceID    int64
	AtSeconds int
	Text      string
	CreatedAt time.Time
}

// PlayerSpec describes one roster slot for a race request.
type PlayerSpec struct {
	Name      string `json:"name"`
	UseShield bool   `json:"use_shield"`
}

// RankedPlayer is one row of the extracted finishing order; rank 1 won.
type RankedPlayer struct {
	Rank int    `json:"rank"`
	Name string `json:"name"`
}

// RaceResult is the automation worker's output. The contract holds even when
// the external target is unreachable: the ranking always contains every
// roster entry exactly once.
type RaceResult struct {
	Ranking        []RankedPlayer
	MediaRef       *string
	Simulated      bool
	CommentaryJobs int
}
