package automation

import (
	"context"
	"fmt"
	"math/rand"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/okian/derby/internal/domain/model"
)

// extractor is one strategy for recovering the finishing order from a
// session. Strategies are tried in order until one yields a full ranking.
type extractor interface {
	name() string
	extract(ctx context.Context, sess Session, roster []model.PlayerSpec) ([]model.RankedPlayer, error)
}

// rowExtractor reads the target's structured result rows.
type rowExtractor struct{}

func (rowExtractor) name() string { return "rows" }

func (rowExtractor) extract(
	ctx context.Context, sess Session, roster []model.PlayerSpec,
) ([]model.RankedPlayer, error) {
	rows, err := sess.ResultRows(ctx)
	if err != nil {
		return nil, fmt.Errorf("result rows: %w", err)
	}
	ranking := make([]model.RankedPlayer, 0, len(rows))
	for _, row := range rows {
		ranking = append(ranking, model.RankedPlayer{Rank: row.Position, Name: strings.TrimSpace(row.Name)})
	}
	return normalizeRanking(ranking, roster)
}

// resultLine matches lines like "1. ada", "2) bjarne" or "3 - curry".
var resultLine = regexp.MustCompile(`^\s*(\d+)[.):\s-]+\s*(.+?)\s*$`)

// textExtractor parses the free-text results dump line by line.
type textExtractor struct{}

func (textExtractor) name() string { return "text" }

func (textExtractor) extract(
	ctx context.Context, sess Session, roster []model.PlayerSpec,
) ([]model.RankedPlayer, error) {
	text, err := sess.ResultsText(ctx)
	if err != nil {
		return nil, fmt.Errorf("results text: %w", err)
	}
	return parseResultsText(text, roster)
}

func parseResultsText(text string, roster []model.PlayerSpec) ([]model.RankedPlayer, error) {
	known := make(map[string]bool, len(roster))
	for _, p := range roster {
		known[strings.ToLower(p.Name)] = true
	}

	var ranking []model.RankedPlayer
	for _, line := range strings.Split(text, "\n") {
		m := resultLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		rank, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		name := strings.TrimSpace(m[2])
		if !known[strings.ToLower(name)] {
			continue
		}
		ranking = append(ranking, model.RankedPlayer{Rank: rank, Name: name})
	}
	return normalizeRanking(ranking, roster)
}

// normalizeRanking validates that the candidate covers the roster exactly
// once and renumbers ranks to a dense 1..N in finishing order.
func normalizeRanking(
	candidate []model.RankedPlayer, roster []model.PlayerSpec,
) ([]model.RankedPlayer, error) {
	if len(candidate) != len(roster) {
		return nil, fmt.Errorf("got %d of %d rows: %w", len(candidate), len(roster), ErrNoRanking)
	}

	seen := make(map[string]bool, len(roster))
	for _, p := range roster {
		seen[strings.ToLower(p.Name)] = false
	}
	for _, rp := range candidate {
		key := strings.ToLower(rp.Name)
		done, ok := seen[key]
		if !ok || done {
			return nil, fmt.Errorf("unexpected or repeated entry %q: %w", rp.Name, ErrNoRanking)
		}
		seen[key] = true
	}

	out := make([]model.RankedPlayer, len(candidate))
	copy(out, candidate)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	for i := range out {
		out[i].Rank = i + 1
	}
	return out, nil
}

// randomRanking is the last-resort fallback: a seeded permutation of the
// roster. Always succeeds.
func randomRanking(roster []model.PlayerSpec, rng *rand.Rand) []model.RankedPlayer {
	order := rng.Perm(len(roster))
	out := make([]model.RankedPlayer, len(roster))
	for i, idx := range order {
		out[i] = model.RankedPlayer{Rank: i + 1, Name: roster[idx].Name}
	}
	return out
}
