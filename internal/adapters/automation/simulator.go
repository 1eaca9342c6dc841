package automation

import (
	"context"
	"math/rand"

	"github.com/okian/derby/internal/domain/model"
	"github.com/okian/derby/internal/pipeline"
)

// simulatedOffsets are the race-relative seconds a simulated race narrates:
// a start line, one mid-race line and the terminal call.
var simulatedOffsets = []int{0, 15}

// Simulator produces a synthetic race outcome when the live target cannot.
// The finishing order is a seeded shuffle of the roster.
type Simulator struct {
	jobs        Enqueuer
	durationSec int
	rng         *rand.Rand
}

// NewSimulator builds a simulator sharing the worker's random source.
func NewSimulator(jobs Enqueuer, durationSec int, rng *rand.Rand) *Simulator {
	return &Simulator{jobs: jobs, durationSec: durationSec, rng: rng}
}

// Run synthesizes a finishing order and a minimal commentary arc.
func (s *Simulator) Run(ctx context.Context, raceID int64, roster []model.PlayerSpec) model.RaceResult {
	names := make([]string, len(roster))
	shielded := make([]string, 0, len(roster))
	for i, p := range roster {
		names[i] = p.Name
		if p.UseShield {
			shielded = append(shielded, p.Name)
		}
	}
	ranking := randomRanking(roster, s.rng)

	jobs := 0
	for _, at := range simulatedOffsets {
		if s.jobs.Enqueue(ctx, pipeline.Job{
			RaceID:    raceID,
			AtSeconds: at,
			Names:     names,
			Shielded:  shielded,
		}) {
			jobs++
		}
	}
	if s.jobs.Enqueue(ctx, pipeline.Job{
		RaceID:    raceID,
		AtSeconds: s.durationSec,
		Names:     names,
		IsFinal:   true,
		Results:   ranking,
		Shielded:  shielded,
	}) {
		jobs++
	}

	return model.RaceResult{
		Ranking:        ranking,
		Simulated:      true,
		CommentaryJobs: jobs,
	}
}
