// Package narration defines the contract for turning race snapshots into
// live commentary lines.
package narration

import (
	"context"
	"strings"

	"github.com/okian/derby/internal/domain/model"
)

// Backend selector strings accepted by NewProvider.
const (
	BackendCanned = "canned"
	BackendVision = "vision"
)

// Phase buckets a race-relative timestamp into a narrative beat.
type Phase string

const (
	PhaseStart  Phase = "start"
	PhaseBuild  Phase = "build"
	PhaseClimax Phase = "climax"
	PhaseSprint Phase = "sprint"
	PhaseFinal  Phase = "final"
)

// Phase boundaries in race seconds.
const (
	buildAfter  = 5
	climaxAfter = 20
	sprintAfter = 30
)

// PhaseAt maps a race-relative timestamp to its narrative phase.
func PhaseAt(atSeconds int) Phase {
	switch {
	case atSeconds < buildAfter:
		return PhaseStart
	case atSeconds < climaxAfter:
		return PhaseBuild
	case atSeconds < sprintAfter:
		return PhaseClimax
	default:
		return PhaseSprint
	}
}

// Request carries everything a provider needs for one commentary line.
type Request struct {
	RaceID    int64
	AtSeconds int
	Snapshot  []byte
	History   []string
	Names     []string
	IsFinal   bool
	Results   []model.RankedPlayer
	Shielded  []string
}

// Phase returns the narrative beat for this request.
func (r Request) Phase() Phase {
	if r.IsFinal {
		return PhaseFinal
	}
	return PhaseAt(r.AtSeconds)
}

// Provider generates one commentary line from a snapshot and its context.
// Implementations never return a non-nil error together with an empty line:
// on provider failure they fall back to a phase-keyed canned line so the
// commentary chain is never halted.
type Provider interface {
	Narrate(ctx context.Context, req Request) (string, error)
}

// NewProvider selects a backend by configuration string at construction
// time. Unknown backends get the canned provider.
func NewProvider(backend string, opts ...Option) Provider {
	cfg := newSettings(opts...)
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case BackendVision:
		return newVisionProvider(cfg)
	default:
		return newCannedProvider(cfg)
	}
}

// fallbackLines are the last-resort lines keyed by phase, used when a
// backend cannot produce anything better.
var fallbackLines = map[Phase]string{
	PhaseStart:  "The gates fly open and the field thunders out!",
	PhaseBuild:  "Down the backstretch they go, the order still anyone's guess!",
	PhaseClimax: "The pace is brutal now and somebody has to crack!",
	PhaseSprint: "Into the final sprint, the crowd is on its feet!",
	PhaseFinal:  "And that is the race! What a finish!",
}

// FallbackLine returns the canned line for a phase.
func FallbackLine(phase Phase) string {
	if line, ok := fallbackLines[phase]; ok {
		return line
	}
	return fallbackLines[PhaseBuild]
}
