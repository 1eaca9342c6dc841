// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/okian/derby/internal/adapters/broker"
	"github.com/okian/derby/internal/adapters/repository"
	"github.com/okian/derby/internal/app"
	"github.com/okian/derby/internal/domain/model"
	"github.com/okian/derby/pkg/logger"
	"github.com/okian/derby/pkg/metrics"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to the controller implementation.
type Dependencies interface {
	CreateRace(ctx context.Context, players []model.PlayerSpec) (model.Race, error)
	StartRace(ctx context.Context, raceID int64) error
	Race(ctx context.Context, id int64) (app.RaceDetail, error)
	Commentary(ctx context.Context, id int64) ([]model.CommentaryEntry, error)
	Standings(ctx context.Context) ([]model.User, error)
}

// Subscriber exposes the broker surface the live stream needs.
type Subscriber interface {
	Subscribe(topic broker.Topic) *broker.Subscription
}

// Server wires HTTP routes for the race API.
type Server struct {
	deps          Dependencies
	liveHandler   *LiveHandler
	healthHandler *HealthHandler
	log           logger.Logger
}

// ServerOption applies a configuration option to the Server.
type ServerOption func(*Server)

// WithHeartbeat sets the live stream ping interval.
func WithHeartbeat(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.liveHandler.heartbeat = d
		}
	}
}

// NewServer creates the API server with all handlers.
func NewServer(deps Dependencies, bus Subscriber, opts ...ServerOption) *Server {
	s := &Server{
		deps:          deps,
		liveHandler:   NewLiveHandler(deps, bus),
		healthHandler: NewHealthHandler(),
		log:           logger.Get().Named("api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /races", MetricsMiddleware(s.handleCreateRace, "races_create"))
	mux.HandleFunc("POST /races/{id}/start", MetricsMiddleware(s.handleStartRace, "races_start"))
	mux.HandleFunc("GET /races/{id}", MetricsMiddleware(s.handleGetRace, "races_get"))
	mux.HandleFunc("GET /races/{id}/commentary", MetricsMiddleware(s.handleCommentary, "races_commentary"))
	mux.HandleFunc("GET /races/{id}/live", s.liveHandler.HandleLive)
	mux.HandleFunc("GET /standings", MetricsMiddleware(s.handleStandings, "standings"))
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.Handle("GET /metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))
}

// createRaceRequest mirrors the POST /races body.
type createRaceRequest struct {
	Players []model.PlayerSpec `json:"players"`
}

type raceResponse struct {
	ID        int64              `json:"id"`
	Status    model.RaceStatus   `json:"status"`
	CreatedAt time.Time          `json:"created_at"`
	Players   []model.PlayerSpec `json:"players,omitempty"`
}

func (s *Server) handleCreateRace(w http.ResponseWriter, r *http.Request) {
	var req createRaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err)
		return
	}

	race, err := s.deps.CreateRace(r.Context(), req.Players)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, raceResponse{
		ID:        race.ID,
		Status:    race.Status,
		CreatedAt: race.CreatedAt,
		Players:   req.Players,
	})
}

type startAck struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
}

// handleStartRace kicks the race off in the background and acknowledges
// immediately; progress flows through the live stream.
func (s *Server) handleStartRace(w http.ResponseWriter, r *http.Request) {
	id, ok := raceID(w, r)
	if !ok {
		return
	}
	detail, err := s.deps.Race(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if detail.Race.Status != model.RacePending {
		writeError(w, http.StatusConflict, "invalid_state",
			errors.New("race is "+string(detail.Race.Status)))
		return
	}

	go func() {
		ctx := context.Background()
		if err := s.deps.StartRace(ctx, id); err != nil {
			s.log.Error(ctx, "race run failed",
				logger.Int64("raceID", id),
				logger.Error(err),
			)
		}
	}()
	writeJSON(w, http.StatusAccepted, startAck{ID: id, Status: "started"})
}

type participantView struct {
	Name       string `json:"name"`
	UsedShield bool   `json:"used_shield"`
	FinalRank  *int   `json:"final_rank,omitempty"`
	GotScarred bool   `json:"got_scarred"`
}

type raceDetailResponse struct {
	ID           int64             `json:"id"`
	Status       model.RaceStatus  `json:"status"`
	CreatedAt    time.Time         `json:"created_at"`
	FinishedAt   *time.Time        `json:"finished_at,omitempty"`
	MediaRef     *string           `json:"media_ref,omitempty"`
	Verdict      *string           `json:"verdict,omitempty"`
	Participants []participantView `json:"participants"`
}

func (s *Server) handleGetRace(w http.ResponseWriter, r *http.Request) {
	id, ok := raceID(w, r)
	if !ok {
		return
	}
	detail, err := s.deps.Race(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	resp := raceDetailResponse{
		ID:           detail.Race.ID,
		Status:       detail.Race.Status,
		CreatedAt:    detail.Race.CreatedAt,
		FinishedAt:   detail.Race.FinishedAt,
		MediaRef:     detail.Race.MediaRef,
		Verdict:      detail.Race.Verdict,
		Participants: make([]participantView, len(detail.Participants)),
	}
	for i, p := range detail.Participants {
		resp.Participants[i] = participantView{
			Name:       p.Name,
			UsedShield: p.UsedShield,
			FinalRank:  p.FinalRank,
			GotScarred: p.GotScarred,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type commentaryView struct {
	AtSeconds int       `json:"at_seconds"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) handleCommentary(w http.ResponseWriter, r *http.Request) {
	id, ok := raceID(w, r)
	if !ok {
		return
	}
	entries, err := s.deps.Commentary(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	out := make([]commentaryView, len(entries))
	for i, e := range entries {
		out[i] = commentaryView{AtSeconds: e.AtSeconds, Text: e.Text, CreatedAt: e.CreatedAt}
	}
	writeJSON(w, http.StatusOK, out)
}

type standingView struct {
	Name        string `json:"name"`
	Scars       int    `json:"scars"`
	Shields     int    `json:"shields"`
	ShieldsUsed int    `json:"shields_used"`
	TotalScars  int    `json:"total_scars"`
}

func (s *Server) handleStandings(w http.ResponseWriter, r *http.Request) {
	users, err := s.deps.Standings(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	out := make([]standingView, len(users))
	for i, u := range users {
		out[i] = standingView{
			Name:        u.Name,
			Scars:       u.Scars,
			Shields:     u.Shields,
			ShieldsUsed: u.ShieldsUsed,
			TotalScars:  u.TotalScars,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// raceID parses the {id} path segment, answering 400 on garbage.
func raceID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id < 1 {
		writeError(w, http.StatusBadRequest, "invalid_id", errors.New("race id must be a positive integer"))
		return 0, false
	}
	return id, true
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeDomainError maps controller and store sentinels onto HTTP statuses.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err)
	case errors.Is(err, app.ErrRosterTooSmall), errors.Is(err, app.ErrDuplicatePlayer):
		writeError(w, http.StatusBadRequest, "invalid_roster", err)
	case errors.Is(err, app.ErrShieldUnavailable):
		writeError(w, http.StatusConflict, "shield_unavailable", err)
	case errors.Is(err, repository.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_state", err)
	default:
		s.log.Error(r.Context(), "request failed", logger.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", nil)
	}
}
