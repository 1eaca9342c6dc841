package app

import "github.com/okian/derby/internal/domain/model"

// StatusUpdate is the payload of status events on the broker.
type StatusUpdate struct {
	RaceID int64            `json:"race_id"`
	Status model.RaceStatus `json:"status"`
}

// FinishSummary is the payload of finished events: the complete outcome of
// one race.
type FinishSummary struct {
	RaceID    int64                `json:"race_id"`
	Winner    string               `json:"winner"`
	Victims   []string             `json:"victims"`
	Verdict   string               `json:"verdict"`
	Ranking   []model.RankedPlayer `json:"ranking"`
	Simulated bool                 `json:"simulated"`
	MediaRef  *string              `json:"media_ref,omitempty"`
}
