// Package app hosts the race controller: the only writer of race state. It
// validates rosters, drives the automation run, applies penalties and
// publishes lifecycle events.
package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/okian/derby/internal/adapters/broker"
	"github.com/okian/derby/internal/adapters/repository"
	"github.com/okian/derby/internal/domain/model"
	"github.com/okian/derby/internal/domain/penalty"
	"github.com/okian/derby/pkg/logger"
	"github.com/okian/derby/pkg/metrics"
)

// Service is the race controller. All mutations of race, participant and
// user state flow through it; reads may come from anywhere.
type Service struct {
	store       repository.Store
	bus         *broker.Broker
	worker      Runner
	pipe        Drainer
	drainBudget time.Duration
	log         logger.Logger
}

// RaceDetail is a race with its roster, the read model for the race view.
type RaceDetail struct {
	Race         model.Race
	Participants []model.Participant
}

// New builds the controller and validates its required dependencies.
func New(opts ...Option) (*Service, error) {
	s := &Service{
		drainBudget: defaultDrainBudget,
		log:         logger.Get().Named("controller"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.store == nil {
		return nil, fmt.Errorf("store: %w", ErrMissingDependency)
	}
	if s.bus == nil {
		return nil, fmt.Errorf("broker: %w", ErrMissingDependency)
	}
	if s.worker == nil {
		return nil, fmt.Errorf("worker: %w", ErrMissingDependency)
	}
	if s.pipe == nil {
		return nil, fmt.Errorf("pipeline: %w", ErrMissingDependency)
	}
	return s, nil
}

// CreateRace validates the roster and persists a pending race with its
// participants. Unknown players are registered with empty counters; a
// requested shield burn requires the player to own one.
func (s *Service) CreateRace(ctx context.Context, players []model.PlayerSpec) (model.Race, error) {
	if len(players) < 2 {
		return model.Race{}, fmt.Errorf("%d players: %w", len(players), ErrRosterTooSmall)
	}
	seen := make(map[string]bool, len(players))
	for _, p := range players {
		key := strings.ToLower(strings.TrimSpace(p.Name))
		if key == "" || seen[key] {
			return model.Race{}, fmt.Errorf("player %q: %w", p.Name, ErrDuplicatePlayer)
		}
		seen[key] = true
	}

	users := make([]model.User, len(players))
	for i, p := range players {
		user, err := s.store.GetUserByName(ctx, p.Name)
		if errors.Is(err, repository.ErrNotFound) {
			user, err = s.store.CreateUser(ctx, p.Name, 0)
		}
		if err != nil {
			return model.Race{}, fmt.Errorf("resolve player %q: %w", p.Name, err)
		}
		if p.UseShield && user.Shields < 1 {
			return model.Race{}, fmt.Errorf("player %q: %w", p.Name, ErrShieldUnavailable)
		}
		users[i] = user
	}

	race, err := s.store.CreateRace(ctx)
	if err != nil {
		return model.Race{}, fmt.Errorf("create race: %w", err)
	}
	for i, p := range players {
		if _, err := s.store.CreateParticipant(ctx, race.ID, users[i].ID, users[i].Name, p.UseShield); err != nil {
			return model.Race{}, fmt.Errorf("add participant %q: %w", p.Name, err)
		}
	}

	s.log.Info(ctx, "race created",
		logger.Int64("raceID", race.ID),
		logger.Int("players", len(players)),
	)
	return race, nil
}

// StartRace runs a pending race to completion: automation, commentary
// drain, penalties and finalization. It blocks for the duration of the
// race; callers choose their own goroutine. Terminal states are immutable,
// there is no retry.
func (s *Service) StartRace(ctx context.Context, raceID int64) error {
	if err := s.store.SetRaceRunning(ctx, raceID); err != nil {
		return fmt.Errorf("start race %d: %w", raceID, err)
	}
	metrics.RecordRaceStarted()
	s.publishStatus(raceID, model.RaceRunning)

	participants, err := s.store.ListParticipants(ctx, raceID)
	if err != nil {
		return s.failRace(ctx, raceID, fmt.Errorf("load roster: %w", err))
	}
	roster := make([]model.PlayerSpec, len(participants))
	for i, p := range participants {
		roster[i] = model.PlayerSpec{Name: p.Name, UseShield: p.UsedShield}
	}

	started := time.Now()
	result := s.worker.Run(ctx, raceID, roster)

	drainCtx, cancel := context.WithTimeout(context.Background(), s.drainBudget)
	defer cancel()
	if derr := s.pipe.Drain(drainCtx, raceID); derr != nil {
		// Trailing lines are lost, the result still stands.
		s.log.Warn(ctx, "commentary drain incomplete",
			logger.Int64("raceID", raceID),
			logger.Error(derr),
		)
	}

	summary, err := s.applyResult(ctx, raceID, participants, result)
	if err != nil {
		return s.failRace(ctx, raceID, err)
	}

	metrics.RecordRaceFinished()
	metrics.RecordRaceDuration(time.Since(started).Seconds())
	s.bus.Publish(broker.Event{
		Topic:   broker.TopicFinished,
		RaceID:  raceID,
		At:      time.Now().UTC(),
		Payload: summary,
	})
	s.log.Info(ctx, "race finished",
		logger.Int64("raceID", raceID),
		logger.String("winner", summary.Winner),
		logger.String("verdict", summary.Verdict),
		logger.Bool("simulated", result.Simulated),
	)
	return nil
}

// applyResult turns the finishing order into penalties and persisted
// outcomes, then finalizes the race.
func (s *Service) applyResult(
	ctx context.Context, raceID int64, participants []model.Participant, result model.RaceResult,
) (FinishSummary, error) {
	byName := make(map[string]model.Participant, len(participants))
	for _, p := range participants {
		byName[strings.ToLower(p.Name)] = p
	}

	order := make([]penalty.Finisher, 0, len(result.Ranking))
	rankOf := make(map[int64]int, len(result.Ranking))
	for _, rp := range result.Ranking {
		p, ok := byName[strings.ToLower(rp.Name)]
		if !ok {
			return FinishSummary{}, fmt.Errorf("ranked player %q: %w", rp.Name, ErrRankingMismatch)
		}
		order = append(order, penalty.Finisher{Rank: rp.Rank, Name: p.Name, Shielded: p.UsedShield})
		rankOf[p.ID] = rp.Rank
	}
	if len(order) != len(participants) {
		return FinishSummary{}, fmt.Errorf("%d of %d ranked: %w", len(order), len(participants), ErrRankingMismatch)
	}

	outcome := penalty.Select(order)
	scarred := make(map[string]bool, len(outcome.Victims))
	for _, name := range outcome.Victims {
		scarred[strings.ToLower(name)] = true
	}

	for _, p := range participants {
		gotScar := scarred[strings.ToLower(p.Name)]
		user, err := s.store.GetUser(ctx, p.UserID)
		if err != nil {
			return FinishSummary{}, fmt.Errorf("load user %d: %w", p.UserID, err)
		}
		if err := s.store.UpdateUserStats(ctx, penalty.ApplyStats(user, p.UsedShield, gotScar)); err != nil {
			return FinishSummary{}, fmt.Errorf("update stats for %q: %w", p.Name, err)
		}
		if err := s.store.RecordParticipantOutcome(ctx, p.ID, rankOf[p.ID], gotScar); err != nil {
			return FinishSummary{}, fmt.Errorf("record outcome for %q: %w", p.Name, err)
		}
	}

	finishedAt := time.Now().UTC()
	if err := s.store.FinalizeRace(ctx, raceID, outcome.Verdict, result.MediaRef, finishedAt); err != nil {
		return FinishSummary{}, fmt.Errorf("finalize race: %w", err)
	}

	winner := ""
	for _, rp := range result.Ranking {
		if rp.Rank == 1 {
			winner = rp.Name
		}
	}
	return FinishSummary{
		RaceID:    raceID,
		Winner:    winner,
		Victims:   outcome.Victims,
		Verdict:   outcome.Verdict,
		Ranking:   result.Ranking,
		Simulated: result.Simulated,
		MediaRef:  result.MediaRef,
	}, nil
}

// failRace moves the race to failed and reports the original error.
func (s *Service) failRace(ctx context.Context, raceID int64, cause error) error {
	metrics.RecordRaceFailed()
	metrics.RecordErrorByComponent("controller", "race_failed")
	s.log.Error(ctx, "race failed",
		logger.Int64("raceID", raceID),
		logger.Error(cause),
	)
	if err := s.store.FailRace(ctx, raceID); err != nil {
		s.log.Error(ctx, "could not mark race failed",
			logger.Int64("raceID", raceID),
			logger.Error(err),
		)
	}
	s.publishStatus(raceID, model.RaceFailed)
	return fmt.Errorf("race %d: %w", raceID, cause)
}

func (s *Service) publishStatus(raceID int64, status model.RaceStatus) {
	s.bus.Publish(broker.Event{
		Topic:   broker.TopicStatus,
		RaceID:  raceID,
		At:      time.Now().UTC(),
		Payload: StatusUpdate{RaceID: raceID, Status: status},
	})
}

// Race returns a race with its roster.
func (s *Service) Race(ctx context.Context, id int64) (RaceDetail, error) {
	race, err := s.store.GetRace(ctx, id)
	if err != nil {
		return RaceDetail{}, err
	}
	participants, err := s.store.ListParticipants(ctx, id)
	if err != nil {
		return RaceDetail{}, err
	}
	return RaceDetail{Race: race, Participants: participants}, nil
}

// Commentary returns a race's full log, the poll-based catch-up companion
// to the live stream.
func (s *Service) Commentary(ctx context.Context, id int64) ([]model.CommentaryEntry, error) {
	if _, err := s.store.GetRace(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListCommentary(ctx, id)
}

// Standings returns all users ordered by shields, then fewest career scars.
func (s *Service) Standings(ctx context.Context) ([]model.User, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].Shields != users[j].Shields {
			return users[i].Shields > users[j].Shields
		}
		if users[i].TotalScars != users[j].TotalScars {
			return users[i].TotalScars < users[j].TotalScars
		}
		return users[i].Name < users[j].Name
	})
	return users, nil
}
