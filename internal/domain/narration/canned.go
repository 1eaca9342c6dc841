package narration

import (
	"context"
	"fmt"
	"strings"
)

// cannedProvider narrates from fixed phase-keyed pools plus the concept
// picker. It needs no network and backs the simulator and the default
// configuration.
type cannedProvider struct {
	picker *Picker
}

func newCannedProvider(cfg *settings) *cannedProvider {
	return &cannedProvider{picker: NewPicker(cfg.seed)}
}

// Phase-keyed line pools. Lines take the concept as a fmt argument.
var cannedPools = map[Phase][]string{
	PhaseStart: {
		"And they're off, pouring out of the gates like %s!",
		"A clean start for the whole field, already moving like %s!",
	},
	PhaseBuild: {
		"The pack settles into a rhythm, steady as %s.",
		"Positions trade hands down the backstretch, the field churning like %s.",
	},
	PhaseClimax: {
		"The leaders turn up the pressure, this is %s now!",
		"Elbows out at the front, the whole race feels like %s!",
	},
	PhaseSprint: {
		"The final stretch, every runner emptying the tank like %s!",
		"They can see the line, it's %s all the way home!",
	},
}

func (c *cannedProvider) Narrate(_ context.Context, req Request) (string, error) {
	if req.IsFinal {
		return c.finalLine(req), nil
	}
	phase := req.Phase()
	pool, ok := cannedPools[phase]
	if !ok || len(pool) == 0 {
		return FallbackLine(phase), nil
	}
	concept := c.picker.Pick()
	// Rotate through the pool by history length so consecutive lines differ.
	line := pool[len(req.History)%len(pool)]
	return fmt.Sprintf(line, concept.Text), nil
}

// finalLine names the winner and anyone who burned a shield.
func (c *cannedProvider) finalLine(req Request) string {
	if len(req.Results) == 0 {
		return FallbackLine(PhaseFinal)
	}
	winner := req.Results[0].Name
	for _, r := range req.Results {
		if r.Rank == 1 {
			winner = r.Name
			break
		}
	}
	line := fmt.Sprintf("It's over! %s takes the race!", winner)
	if len(req.Shielded) > 0 {
		line += fmt.Sprintf(" Shields burned by %s.", strings.Join(req.Shielded, ", "))
	}
	return line
}
