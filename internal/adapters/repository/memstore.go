package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/okian/derby/internal/domain/model"
)

// MemStore is the mutex-guarded in-memory Store. It is the default when no
// database URL is configured and backs the test suites.
type MemStore struct {
	mu           sync.RWMutex
	races        map[int64]model.Race
	participants map[int64]model.Participant
	users        map[int64]model.User
	commentary   map[int64][]model.CommentaryEntry

	raceSeq        int64
	participantSeq int64
	userSeq        int64
	commentarySeq  int64
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		races:        make(map[int64]model.Race),
		participants: make(map[int64]model.Participant),
		users:        make(map[int64]model.User),
		commentary:   make(map[int64][]model.CommentaryEntry),
	}
}

func (s *MemStore) CreateRace(_ context.Context) (model.Race, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raceSeq++
	race := model.Race{
		ID:        s.raceSeq,
		Status:    model.RacePending,
		CreatedAt: time.Now().UTC(),
	}
	s.races[race.ID] = race
	return race, nil
}

func (s *MemStore) GetRace(_ context.Context, id int64) (model.Race, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	race, ok := s.races[id]
	if !ok {
		return model.Race{}, fmt.Errorf("race %d: %w", id, ErrNotFound)
	}
	return race, nil
}

func (s *MemStore) SetRaceRunning(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	race, ok := s.races[id]
	if !ok {
		return fmt.Errorf("race %d: %w", id, ErrNotFound)
	}
	if race.Status != model.RacePending {
		return fmt.Errorf("race %d is %s: %w", id, race.Status, ErrInvalidTransition)
	}
	race.Status = model.RaceRunning
	s.races[id] = race
	return nil
}

func (s *MemStore) FinalizeRace(
	_ context.Context, id int64, verdict string, mediaRef *string, finishedAt time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	race, ok := s.races[id]
	if !ok {
		return fmt.Errorf("race %d: %w", id, ErrNotFound)
	}
	if race.Status != model.RaceRunning {
		return fmt.Errorf("race %d is %s: %w", id, race.Status, ErrInvalidTransition)
	}
	race.Status = model.RaceFinished
	race.Verdict = &verdict
	race.MediaRef = mediaRef
	race.FinishedAt = &finishedAt
	s.races[id] = race
	return nil
}

func (s *MemStore) FailRace(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	race, ok := s.races[id]
	if !ok {
		return fmt.Errorf("race %d: %w", id, ErrNotFound)
	}
	if race.Status != model.RaceRunning && race.Status != model.RacePending {
		return fmt.Errorf("race %d is %s: %w", id, race.Status, ErrInvalidTransition)
	}
	race.Status = model.RaceFailed
	s.races[id] = race
	return nil
}

func (s *MemStore) CreateParticipant(
	_ context.Context, raceID, userID int64, name string, usedShield bool,
) (model.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.races[raceID]; !ok {
		return model.Participant{}, fmt.Errorf("race %d: %w", raceID, ErrNotFound)
	}
	s.participantSeq++
	p := model.Participant{
		ID:         s.participantSeq,
		RaceID:     raceID,
		UserID:     userID,
		Name:       name,
		UsedShield: usedShield,
	}
	s.participants[p.ID] = p
	return p, nil
}

func (s *MemStore) ListParticipants(_ context.Context, raceID int64) ([]model.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Participant, 0, 4)
	for _, p := range s.participants {
		if p.RaceID == raceID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemStore) RecordParticipantOutcome(
	_ context.Context, participantID int64, finalRank int, gotScarred bool,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[participantID]
	if !ok {
		return fmt.Errorf("participant %d: %w", participantID, ErrNotFound)
	}
	p.FinalRank = &finalRank
	p.GotScarred = gotScarred
	s.participants[participantID] = p
	return nil
}

func (s *MemStore) CreateUser(_ context.Context, name string, shields int) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Name == name {
			return model.User{}, fmt.Errorf("user %q: %w", name, ErrDuplicate)
		}
	}
	s.userSeq++
	u := model.User{ID: s.userSeq, Name: name, Shields: shields}
	s.users[u.ID] = u
	return u, nil
}

func (s *MemStore) GetUser(_ context.Context, id int64) (model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return model.User{}, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	return u, nil
}

func (s *MemStore) GetUserByName(_ context.Context, name string) (model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Name == name {
			return u, nil
		}
	}
	return model.User{}, fmt.Errorf("user %q: %w", name, ErrNotFound)
}

func (s *MemStore) ListUsers(_ context.Context) ([]model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemStore) UpdateUserStats(_ context.Context, u model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; !ok {
		return fmt.Errorf("user %d: %w", u.ID, ErrNotFound)
	}
	s.users[u.ID] = u
	return nil
}

func (s *MemStore) AppendCommentary(
	_ context.Context, raceID int64, atSeconds int, text string,
) (model.CommentaryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.races[raceID]; !ok {
		return model.CommentaryEntry{}, fmt.Errorf("race %d: %w", raceID, ErrNotFound)
	}
	s.commentarySeq++
	entry := model.CommentaryEntry{
		ID:        s.commentarySeq,
		RaceID:    raceID,
		AtSeconds: atSeconds,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
	s.commentary[raceID] = append(s.commentary[raceID], entry)
	return entry, nil
}

func (s *MemStore) ListCommentary(_ context.Context, raceID int64) ([]model.CommentaryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.commentary[raceID]
	out := make([]model.CommentaryEntry, len(entries))
	copy(out, entries)
	sort.Slice(out, func(i, j int) bool {
		if out[i].AtSeconds != out[j].AtSeconds {
			return out[i].AtSeconds < out[j].AtSeconds
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
