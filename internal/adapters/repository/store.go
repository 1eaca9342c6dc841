// Package repository defines the durable persistence surface for races,
// participants, users and the commentary log.
package repository

import (
	"context"
	"time"

	"github.com/okian/derby/internal/domain/model"
)

// Store provides read/write access to race state. Races are never deleted;
// participants are mutated exactly once at finalization.
type Store interface {
	// CreateRace persists a new pending race and returns it with its id.
	CreateRace(ctx context.Context) (model.Race, error)

	// GetRace returns a race by id. Returns ErrNotFound if unknown.
	GetRace(ctx context.Context, id int64) (model.Race, error)

	// SetRaceRunning transitions a pending race to running.
	// Returns ErrInvalidTransition when the race is not pending.
	SetRaceRunning(ctx context.Context, id int64) error

	// FinalizeRace records the verdict, media reference and finish time
	// and moves a running race to finished.
	FinalizeRace(ctx context.Context, id int64, verdict string, mediaRef *string, finishedAt time.Time) error

	// FailRace moves a running race to failed. Terminal states are
	// immutable; failing a finished race returns ErrInvalidTransition.
	FailRace(ctx context.Context, id int64) error

	// CreateParticipant persists one roster slot for a race.
	CreateParticipant(ctx context.Context, raceID, userID int64, name string, usedShield bool) (model.Participant, error)

	// ListParticipants returns a race's roster in creation order.
	ListParticipants(ctx context.Context, raceID int64) ([]model.Participant, error)

	// RecordParticipantOutcome applies the single finalization mutation:
	// final rank and whether the participant got scarred.
	RecordParticipantOutcome(ctx context.Context, participantID int64, finalRank int, gotScarred bool) error

	// CreateUser persists a new user with starting counters.
	CreateUser(ctx context.Context, name string, shields int) (model.User, error)

	// GetUser returns a user by id. Returns ErrNotFound if unknown.
	GetUser(ctx context.Context, id int64) (model.User, error)

	// GetUserByName returns a user by display name.
	GetUserByName(ctx context.Context, name string) (model.User, error)

	// UpdateUserStats overwrites a user's penalty/reward counters.
	UpdateUserStats(ctx context.Context, u model.User) error

	// ListUsers returns all users ordered by id.
	ListUsers(ctx context.Context) ([]model.User, error)

	// AppendCommentary appends one entry to a race's commentary log.
	AppendCommentary(ctx context.Context, raceID int64, atSeconds int, text string) (model.CommentaryEntry, error)

	// ListCommentary returns a race's log ordered by timestamp, then id.
	ListCommentary(ctx context.Context, raceID int64) ([]model.CommentaryEntry, error)
}
