package narration

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/okian/derby/pkg/logger"
	"github.com/okian/derby/pkg/metrics"
)

// Generation output shorter than this is treated as filler.
const minPlausibleLine = 12

// visionProvider calls an external multimodal generation service with the
// snapshot image and a phase-appropriate prompt. Any failure, including
// missing credentials, degrades to the phase-keyed fallback line; the
// pipeline never sees an error from this backend.
type visionProvider struct {
	cfg    *settings
	picker *Picker
	log    logger.Logger
}

func newVisionProvider(cfg *settings) *visionProvider {
	return &visionProvider{
		cfg:    cfg,
		picker: NewPicker(cfg.seed),
		log:    logger.Get().Named("narration"),
	}
}

// generateRequest mirrors the generation service's JSON schema.
type generateRequest struct {
	Model   string   `json:"model"`
	Prompt  string   `json:"prompt"`
	Image   string   `json:"image,omitempty"` // base64 snapshot
	History []string `json:"history,omitempty"`
}

type generateResponse struct {
	Text string `json:"text"`
}

func (v *visionProvider) Narrate(ctx context.Context, req Request) (string, error) {
	phase := req.Phase()
	if v.cfg.apiURL == "" || v.cfg.apiKey == "" {
		metrics.RecordCommentaryFallback()
		return FallbackLine(phase), nil
	}

	prompt := buildPrompt(req, v.picker.Pick())

	line, err := v.generate(ctx, prompt, req)
	if err != nil {
		v.log.Warn(ctx, "generation failed, using fallback line",
			logger.Int64("raceID", req.RaceID),
			logger.String("phase", string(phase)),
			logger.Error(err),
		)
		metrics.RecordCommentaryFallback()
		return FallbackLine(phase), nil
	}

	line = Sanitize(line)
	if looksGeneric(line) {
		// One retry with a nudge toward specifics; keep whatever comes back.
		retry, rerr := v.generate(ctx, prompt+"\nBe specific about what is visible in the image; avoid stock phrases.", req)
		if rerr == nil {
			if cleaned := Sanitize(retry); !looksGeneric(cleaned) {
				line = cleaned
			}
		}
	}
	if line == "" {
		metrics.RecordCommentaryFallback()
		return FallbackLine(phase), nil
	}
	return line, nil
}

func (v *visionProvider) generate(ctx context.Context, prompt string, req Request) (string, error) {
	start := time.Now()
	defer func() {
		metrics.RecordNarrationLatency(float64(time.Since(start).Milliseconds()))
	}()

	payload := generateRequest{
		Model:   v.cfg.model,
		Prompt:  prompt,
		History: req.History,
	}
	if len(req.Snapshot) > 0 {
		payload.Image = base64.StdEncoding.EncodeToString(req.Snapshot)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode generation request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, v.cfg.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build generation request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+v.cfg.apiKey)

	resp, err := v.cfg.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("call generation service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", ErrProvider, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return "", fmt.Errorf("read generation response: %w", err)
	}
	var out generateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode generation response: %w", err)
	}
	if strings.TrimSpace(out.Text) == "" {
		return "", fmt.Errorf("%w: empty text", ErrProvider)
	}
	return out.Text, nil
}

// buildPrompt renders the phase-appropriate instruction for one line.
func buildPrompt(req Request, concept Concept) string {
	var b strings.Builder
	b.WriteString("You are a live race commentator. Produce exactly one short, excited line.\n")
	if len(req.Names) > 0 {
		fmt.Fprintf(&b, "Racers: %s.\n", strings.Join(req.Names, ", "))
	}

	if req.IsFinal {
		b.WriteString("The race just ended. Final order: ")
		parts := make([]string, 0, len(req.Results))
		for _, r := range req.Results {
			parts = append(parts, fmt.Sprintf("%d. %s", r.Rank, r.Name))
		}
		b.WriteString(strings.Join(parts, ", "))
		b.WriteString(".\n")
		if len(req.Shielded) > 0 {
			fmt.Fprintf(&b, "These racers used a shield: %s.\n", strings.Join(req.Shielded, ", "))
		}
		b.WriteString("Call the result, naming the winner.")
		return b.String()
	}

	switch req.Phase() {
	case PhaseStart:
		b.WriteString("The race has just started; call the launch.")
	case PhaseBuild:
		b.WriteString("The race is building; describe how the pack is shaping up.")
	case PhaseClimax:
		b.WriteString("The race is at its hottest point; raise the stakes.")
	default:
		b.WriteString("The final sprint is on; push the tension to the limit.")
	}
	fmt.Fprintf(&b, " Work in this image: %s.", concept.Text)
	if len(req.History) > 0 {
		b.WriteString("\nDo not repeat your earlier lines.")
	}
	return b.String()
}

// Sanitize strips quoting and markup artifacts from generated text.
func Sanitize(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"'`)
	s = strings.ReplaceAll(s, "**", "")
	s = strings.ReplaceAll(s, "`", "")
	for _, prefix := range []string{"Commentary:", "Commentator:", "Line:"} {
		s = strings.TrimSpace(strings.TrimPrefix(s, prefix))
	}
	// Collapse internal newlines; one line only.
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	return s
}

// fillerPatterns flag output that says nothing about this race.
var fillerPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^what a race`),
	regexp.MustCompile(`(?i)anything can happen`),
	regexp.MustCompile(`(?i)the excitement is palpable`),
	regexp.MustCompile(`(?i)^wow[.!]*$`),
	regexp.MustCompile(`(?i)^incredible[.!]*$`),
}

// looksGeneric heuristically judges whether a line is templated filler.
func looksGeneric(s string) bool {
	if len(s) < minPlausibleLine {
		return true
	}
	for _, p := range fillerPatterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}
