package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // postgres driver

	"github.com/okian/derby/internal/domain/model"
)

// PGStore implements Store on Postgres via database/sql.
type PGStore struct {
	db *sql.DB
}

// NewPGStore opens the database and bootstraps the schema.
func NewPGStore(ctx context.Context, databaseURL string) (*PGStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &PGStore{db: db}
	if err := s.bootstrap(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Close releases the underlying connection pool.
func (s *PGStore) Close() error {
	return s.db.Close()
}

func (s *PGStore) bootstrap(ctx context.Context) error {
	stmts := []string{`
		CREATE TABLE IF NOT EXISTS users (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			scars INT NOT NULL DEFAULT 0,
			shields INT NOT NULL DEFAULT 0,
			shields_used INT NOT NULL DEFAULT 0,
			total_scars INT NOT NULL DEFAULT 0
		);
	`, `
		CREATE TABLE IF NOT EXISTS races (
			id BIGSERIAL PRIMARY KEY,
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ,
			media_ref TEXT,
			verdict TEXT
		);
	`, `
		CREATE TABLE IF NOT EXISTS participants (
			id BIGSERIAL PRIMARY KEY,
			race_id BIGINT NOT NULL REFERENCES races(id),
			user_id BIGINT NOT NULL REFERENCES users(id),
			name TEXT NOT NULL,
			used_shield BOOLEAN NOT NULL DEFAULT FALSE,
			final_rank INT,
			got_scarred BOOLEAN NOT NULL DEFAULT FALSE
		);
	`, `
		CREATE TABLE IF NOT EXISTS commentary (
			id BIGSERIAL PRIMARY KEY,
			race_id BIGINT NOT NULL REFERENCES races(id),
			at_seconds INT NOT NULL,
			text TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);
	`}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap schema: %w", err)
		}
	}
	return nil
}

func (s *PGStore) CreateRace(ctx context.Context) (model.Race, error) {
	race := model.Race{Status: model.RacePending, CreatedAt: time.Now().UTC()}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO races (status, created_at)
		VALUES ($1, $2)
		RETURNING id
	`, race.Status, race.CreatedAt).Scan(&race.ID)
	if err != nil {
		return model.Race{}, fmt.Errorf("create race: %w", err)
	}
	return race, nil
}

func (s *PGStore) GetRace(ctx context.Context, id int64) (model.Race, error) {
	var race model.Race
	err := s.db.QueryRowContext(ctx, `
		SELECT id, status, created_at, finished_at, media_ref, verdict
		FROM races
		WHERE id = $1
	`, id).Scan(&race.ID, &race.Status, &race.CreatedAt, &race.FinishedAt, &race.MediaRef, &race.Verdict)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Race{}, fmt.Errorf("race %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Race{}, fmt.Errorf("get race: %w", err)
	}
	return race, nil
}

func (s *PGStore) SetRaceRunning(ctx context.Context, id int64) error {
	return s.transition(ctx, id, model.RacePending, model.RaceRunning, `
		UPDATE races SET status = $1 WHERE id = $2 AND status = $3
	`)
}

func (s *PGStore) transition(
	ctx context.Context, id int64, from, to model.RaceStatus, stmt string,
) error {
	res, err := s.db.ExecContext(ctx, stmt, to, id, from)
	if err != nil {
		return fmt.Errorf("transition race: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition race: %w", err)
	}
	if affected == 0 {
		if _, gerr := s.GetRace(ctx, id); gerr != nil {
			return gerr
		}
		return fmt.Errorf("race %d not %s: %w", id, from, ErrInvalidTransition)
	}
	return nil
}

func (s *PGStore) FinalizeRace(
	ctx context.Context, id int64, verdict string, mediaRef *string, finishedAt time.Time,
) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE races
		SET status = $1, verdict = $2, media_ref = $3, finished_at = $4
		WHERE id = $5 AND status = $6
	`, model.RaceFinished, verdict, mediaRef, finishedAt, id, model.RaceRunning)
	if err != nil {
		return fmt.Errorf("finalize race: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finalize race: %w", err)
	}
	if affected == 0 {
		if _, gerr := s.GetRace(ctx, id); gerr != nil {
			return gerr
		}
		return fmt.Errorf("race %d not running: %w", id, ErrInvalidTransition)
	}
	return nil
}

func (s *PGStore) FailRace(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE races SET status = $1 WHERE id = $2 AND status IN ($3, $4)
	`, model.RaceFailed, id, model.RaceRunning, model.RacePending)
	if err != nil {
		return fmt.Errorf("fail race: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("fail race: %w", err)
	}
	if affected == 0 {
		if _, gerr := s.GetRace(ctx, id); gerr != nil {
			return gerr
		}
		return fmt.Errorf("race %d already terminal: %w", id, ErrInvalidTransition)
	}
	return nil
}

func (s *PGStore) CreateParticipant(
	ctx context.Context, raceID, userID int64, name string, usedShield bool,
) (model.Participant, error) {
	p := model.Participant{RaceID: raceID, UserID: userID, Name: name, UsedShield: usedShield}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO participants (race_id, user_id, name, used_shield)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, raceID, userID, name, usedShield).Scan(&p.ID)
	if err != nil {
		return model.Participant{}, fmt.Errorf("create participant: %w", err)
	}
	return p, nil
}

func (s *PGStore) ListParticipants(ctx context.Context, raceID int64) ([]model.Participant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, race_id, user_id, name, used_shield, final_rank, got_scarred
		FROM participants
		WHERE race_id = $1
		ORDER BY id
	`, raceID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	out := make([]model.Participant, 0, 4)
	for rows.Next() {
		var p model.Participant
		if err := rows.Scan(&p.ID, &p.RaceID, &p.UserID, &p.Name, &p.UsedShield, &p.FinalRank, &p.GotScarred); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	return out, nil
}

func (s *PGStore) RecordParticipantOutcome(
	ctx context.Context, participantID int64, finalRank int, gotScarred bool,
) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE participants SET final_rank = $1, got_scarred = $2 WHERE id = $3
	`, finalRank, gotScarred, participantID)
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("participant %d: %w", participantID, ErrNotFound)
	}
	return nil
}

func (s *PGStore) CreateUser(ctx context.Context, name string, shields int) (model.User, error) {
	u := model.User{Name: name, Shields: shields}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (name, shields)
		VALUES ($1, $2)
		RETURNING id
	`, name, shields).Scan(&u.ID)
	if err != nil {
		return model.User{}, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

func (s *PGStore) GetUser(ctx context.Context, id int64) (model.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, name, scars, shields, shields_used, total_scars
		FROM users WHERE id = $1
	`, id))
}

func (s *PGStore) GetUserByName(ctx context.Context, name string) (model.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, name, scars, shields, shields_used, total_scars
		FROM users WHERE name = $1
	`, name))
}

func (s *PGStore) scanUser(row *sql.Row) (model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Name, &u.Scars, &u.Shields, &u.ShieldsUsed, &u.TotalScars)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, fmt.Errorf("user: %w", ErrNotFound)
	}
	if err != nil {
		return model.User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *PGStore) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, scars, shields, shields_used, total_scars
		FROM users
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	out := make([]model.User, 0, 16)
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Scars, &u.Shields, &u.ShieldsUsed, &u.TotalScars); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return out, nil
}

func (s *PGStore) UpdateUserStats(ctx context.Context, u model.User) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET scars = $1, shields = $2, shields_used = $3, total_scars = $4
		WHERE id = $5
	`, u.Scars, u.Shields, u.ShieldsUsed, u.TotalScars, u.ID)
	if err != nil {
		return fmt.Errorf("update user stats: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user stats: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("user %d: %w", u.ID, ErrNotFound)
	}
	return nil
}

func (s *PGStore) AppendCommentary(
	ctx context.Context, raceID int64, atSeconds int, text string,
) (model.CommentaryEntry, error) {
	entry := model.CommentaryEntry{
		RaceID:    raceID,
		AtSeconds: atSeconds,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO commentary (race_id, at_seconds, text, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, raceID, atSeconds, text, entry.CreatedAt).Scan(&entry.ID)
	if err != nil {
		return model.CommentaryEntry{}, fmt.Errorf("append commentary: %w", err)
	}
	return entry, nil
}

func (s *PGStore) ListCommentary(ctx context.Context, raceID int64) ([]model.CommentaryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, race_id, at_seconds, text, created_at
		FROM commentary
		WHERE race_id = $1
		ORDER BY at_seconds, id
	`, raceID)
	if err != nil {
		return nil, fmt.Errorf("list commentary: %w", err)
	}
	defer rows.Close()

	out := make([]model.CommentaryEntry, 0, 16)
	for rows.Next() {
		var e model.CommentaryEntry
		if err := rows.Scan(&e.ID, &e.RaceID, &e.AtSeconds, &e.Text, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan commentary: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list commentary: %w", err)
	}
	return out, nil
}
