package narration

import (
	"math/rand"
	"sync"
)

// Concept is one thematic analogy a commentator can lean on.
type Concept struct {
	Domain string
	Text   string
}

// conceptPool groups analogies by domain. One concept is drawn per call,
// never repeating the previous concept or its domain, to keep the narration
// from sounding templated.
var conceptPool = []Concept{
	{Domain: "weather", Text: "a storm front rolling over the plains"},
	{Domain: "weather", Text: "lightning looking for a place to land"},
	{Domain: "weather", Text: "a flash flood through a dry canyon"},
	{Domain: "cooking", Text: "a pot left on the stove one minute too long"},
	{Domain: "cooking", Text: "a soufflé that refuses to collapse"},
	{Domain: "cooking", Text: "hot oil meeting cold batter"},
	{Domain: "space", Text: "a comet burning through the atmosphere"},
	{Domain: "space", Text: "two satellites on crossing orbits"},
	{Domain: "space", Text: "a launch window closing fast"},
	{Domain: "music", Text: "a drummer speeding up the whole band"},
	{Domain: "music", Text: "the last bar before the key change"},
	{Domain: "music", Text: "a crescendo nobody can hold back"},
	{Domain: "machinery", Text: "a flywheel spinning past its rating"},
	{Domain: "machinery", Text: "gears grinding for one more tooth"},
	{Domain: "machinery", Text: "a boiler gauge creeping into the red"},
}

// Picker draws concepts while avoiding immediate repetition.
type Picker struct {
	mu      sync.Mutex
	rng     *rand.Rand
	prev    Concept
	hasPrev bool
}

// NewPicker returns a seeded concept picker.
func NewPicker(seed int64) *Picker {
	return &Picker{
		rng: rand.New(rand.NewSource(seed)), //nolint:gosec // narrative variety, not crypto
	}
}

// Pick returns the next concept. The previous concept and its whole domain
// are excluded; if that empties the pool, only the exact previous concept
// is excluded.
func (p *Picker) Pick() Concept {
	p.mu.Lock()
	defer p.mu.Unlock()

	candidates := p.filter(func(c Concept) bool {
		return c.Text != p.prev.Text && c.Domain != p.prev.Domain
	})
	if len(candidates) == 0 {
		candidates = p.filter(func(c Concept) bool {
			return c.Text != p.prev.Text
		})
	}
	if len(candidates) == 0 {
		candidates = conceptPool
	}

	picked := candidates[p.rng.Intn(len(candidates))]
	p.prev = picked
	p.hasPrev = true
	return picked
}

func (p *Picker) filter(keep func(Concept) bool) []Concept {
	if !p.hasPrev {
		return conceptPool
	}
	out := make([]Concept, 0, len(conceptPool))
	for _, c := range conceptPool {
		if keep(c) {
			out = append(out, c)
		}
	}
	return out
}
