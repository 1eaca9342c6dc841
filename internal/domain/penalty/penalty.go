// Package penalty selects race victims and applies post-race stat updates.
package penalty

import (
	"fmt"

	"github.com/okian/derby/internal/domain/model"
)

// maxVictims is the number of finishers scarred per race.
const maxVictims = 2

// Finisher is one row of the finishing order handed to Select.
type Finisher struct {
	Rank     int // 1 = first place
	Name     string
	Shielded bool
}

// Outcome names the victims and the safe set for one race.
type Outcome struct {
	Victims []string // exactly min(2, N) names
	Safe    []string // shielded finishers that kept their exemption
	Verdict string
}

// Select scans the finishing order from last place upward and picks the
// victims. Shielded finishers are exempt in the first pass; if almost
// everyone was shielded, a second pass strips exemptions from the bottom
// until two victims are found.
func Select(order []Finisher) Outcome {
	bottomUp := make([]Finisher, len(order))
	copy(bottomUp, order)
	// Last place first. The order slice is not assumed sorted.
	for i := 0; i < len(bottomUp); i++ {
		for j := i + 1; j < len(bottomUp); j++ {
			if bottomUp[j].Rank > bottomUp[i].Rank {
				bottomUp[i], bottomUp[j] = bottomUp[j], bottomUp[i]
			}
		}
	}

	victims := make([]string, 0, maxVictims)
	safe := make([]string, 0, len(bottomUp))
	safeSet := make(map[string]bool, len(bottomUp))

	// Phase 1: shielded finishers are exempt.
	for _, f := range bottomUp {
		if len(victims) == maxVictims {
			break
		}
		if f.Shielded {
			safe = append(safe, f.Name)
			safeSet[f.Name] = true
			continue
		}
		victims = append(victims, f.Name)
	}

	// Phase 2: almost everyone was shielded; strip exemptions bottom-up
	// until two victims are collected.
	if len(victims) < maxVictims {
		for _, f := range bottomUp {
			if len(victims) == maxVictims {
				break
			}
			if !safeSet[f.Name] {
				continue
			}
			delete(safeSet, f.Name)
			victims = append(victims, f.Name)
		}
		kept := safe[:0]
		for _, name := range safe {
			if safeSet[name] {
				kept = append(kept, name)
			}
		}
		safe = kept
	}

	return Outcome{
		Victims: victims,
		Safe:    safe,
		Verdict: verdict(victims),
	}
}

// verdict renders the human-readable summary for the scoreboard.
func verdict(victims []string) string {
	switch len(victims) {
	case 2:
		return fmt.Sprintf("%s and %s got scarred", victims[0], victims[1])
	case 1:
		return fmt.Sprintf("%s got scarred", victims[0])
	default:
		return "everyone walked away clean"
	}
}

// ApplyStats computes the post-race counters for one user. The conversion
// step runs after every race, not only when a scar was just added, so
// re-applying the same input keeps moving the counters; callers must apply
// it exactly once per race.
func ApplyStats(u model.User, usedShield, gotScar bool) model.User {
	if usedShield {
		if u.Shields > 0 {
			u.Shields--
		}
		u.ShieldsUsed++
	}
	if gotScar {
		u.Scars++
		u.TotalScars++
	}
	// Two scars convert to one shield, leaving scars at 0 or 1.
	for u.Scars >= 2 {
		u.Scars -= 2
		u.Shields++
	}
	return u
}
