// Package automation drives the external race target and turns one race run
// into a finishing order plus a stream of commentary jobs. When the target
// misbehaves in any way the worker falls back to a local simulation, so a
// race always produces a result.
package automation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/okian/derby/internal/domain/model"
)

// ResultRow is one structured row of the target's results payload.
type ResultRow struct {
	Position int    `json:"position"`
	Name     string `json:"name"`
}

// Session is one opened run on the remote target. Close is best-effort and
// safe to call after any failure.
type Session interface {
	Configure(ctx context.Context, durationSec int, roster []model.PlayerSpec) error
	Start(ctx context.Context) error
	Finished(ctx context.Context) (bool, error)
	ResultRows(ctx context.Context) ([]ResultRow, error)
	ResultsText(ctx context.Context) (string, error)
	Snapshot(ctx context.Context) ([]byte, error)
	VideoRef(ctx context.Context) (string, error)
	Close()
}

// Target opens sessions on the remote-control surface.
type Target interface {
	Open(ctx context.Context) (Session, error)
}

const (
	httpTargetTimeout  = 10 * time.Second
	sessionCloseBudget = 3 * time.Second
	maxBodyBytes       = 16 << 20
)

// httpTarget drives the target's HTTP remote-control API.
type httpTarget struct {
	baseURL string
	client  *http.Client
}

// NewHTTPTarget builds a Target for the remote-control API at baseURL.
func NewHTTPTarget(baseURL string) Target {
	return &httpTarget{
		baseURL: baseURL,
		client:  &http.Client{Timeout: httpTargetTimeout},
	}
}

func (t *httpTarget) Open(ctx context.Context) (Session, error) {
	var created struct {
		ID string `json:"id"`
	}
	if err := t.doJSON(ctx, http.MethodPost, "/sessions", nil, &created); err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	if created.ID == "" {
		return nil, fmt.Errorf("open session: %w", ErrTargetProtocol)
	}
	return &httpSession{target: t, id: created.ID}, nil
}

// doJSON issues a request with an optional JSON body and decodes a JSON
// response into out when out is non-nil.
func (t *httpTarget) doJSON(ctx context.Context, method, path string, body, out any) error {
	raw, err := t.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}

func (t *httpTarget) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%s %s: encode request: %w", method, path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%s %s: read response: %w", method, path, err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("%s %s: status %d: %w", method, path, resp.StatusCode, ErrTargetUnavailable)
	}
	return raw, nil
}

// httpSession addresses one session id on the target.
type httpSession struct {
	target *httpTarget
	id     string
}

func (s *httpSession) path(suffix string) string {
	return "/sessions/" + s.id + suffix
}

func (s *httpSession) Configure(ctx context.Context, durationSec int, roster []model.PlayerSpec) error {
	body := struct {
		DurationSec int                `json:"duration_sec"`
		Players     []model.PlayerSpec `json:"players"`
	}{DurationSec: durationSec, Players: roster}
	return s.target.doJSON(ctx, http.MethodPost, s.path("/configure"), body, nil)
}

func (s *httpSession) Start(ctx context.Context) error {
	return s.target.doJSON(ctx, http.MethodPost, s.path("/start"), nil, nil)
}

func (s *httpSession) Finished(ctx context.Context) (bool, error) {
	var status struct {
		Finished bool `json:"finished"`
	}
	if err := s.target.doJSON(ctx, http.MethodGet, s.path("/status"), nil, &status); err != nil {
		return false, err
	}
	return status.Finished, nil
}

func (s *httpSession) ResultRows(ctx context.Context) ([]ResultRow, error) {
	var results struct {
		Rows []ResultRow `json:"rows"`
	}
	if err := s.target.doJSON(ctx, http.MethodGet, s.path("/results"), nil, &results); err != nil {
		return nil, err
	}
	return results.Rows, nil
}

func (s *httpSession) ResultsText(ctx context.Context) (string, error) {
	raw, err := s.target.do(ctx, http.MethodGet, s.path("/results/text"), nil)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (s *httpSession) Snapshot(ctx context.Context) ([]byte, error) {
	return s.target.do(ctx, http.MethodGet, s.path("/snapshot"), nil)
}

func (s *httpSession) VideoRef(ctx context.Context) (string, error) {
	var video struct {
		URL string `json:"url"`
	}
	if err := s.target.doJSON(ctx, http.MethodGet, s.path("/video"), nil, &video); err != nil {
		return "", err
	}
	return video.URL, nil
}

// Close tears the session down with its own deadline since the caller's
// context may already be cancelled.
func (s *httpSession) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), sessionCloseBudget)
	defer cancel()
	_, _ = s.target.do(ctx, http.MethodDelete, s.path(""), nil)
}
