package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/derby/internal/adapters/broker"
	"github.com/okian/derby/internal/adapters/repository"
	"github.com/okian/derby/internal/app"
	"github.com/okian/derby/pkg/logger"
	"github.com/okian/derby/pkg/metrics"
)

const defaultHeartbeat = 5 * time.Second

// LiveHandler streams one race's events over SSE: an initial status event,
// then frames, commentary and the finished summary as they happen.
type LiveHandler struct {
	deps      Dependencies
	bus       Subscriber
	heartbeat time.Duration
	open      atomic.Int64
	log       logger.Logger
}

// NewLiveHandler creates the SSE handler.
func NewLiveHandler(deps Dependencies, bus Subscriber) *LiveHandler {
	return &LiveHandler{
		deps:      deps,
		bus:       bus,
		heartbeat: defaultHeartbeat,
		log:       logger.Get().Named("live"),
	}
}

// HandleLive serves GET /races/{id}/live. The stream ends with the race's
// finished event or whenever the client goes away; either way the three
// subscriptions and the heartbeat are torn down exactly once.
func (h *LiveHandler) HandleLive(w http.ResponseWriter, r *http.Request) {
	id, ok := raceID(w, r)
	if !ok {
		return
	}
	detail, err := h.deps.Race(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", nil)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported",
			errors.New("response writer cannot stream"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	frames := h.bus.Subscribe(broker.TopicFrame)
	lines := h.bus.Subscribe(broker.TopicCommentary)
	finished := h.bus.Subscribe(broker.TopicFinished)
	ticker := time.NewTicker(h.heartbeat)
	metrics.UpdateLiveStreamsOpen(int(h.open.Add(1)))

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			ticker.Stop()
			frames.Unsubscribe()
			lines.Unsubscribe()
			finished.Unsubscribe()
			metrics.UpdateLiveStreamsOpen(int(h.open.Add(-1)))
		})
	}
	defer cleanup()

	if err := writeSSE(w, "status", app.StatusUpdate{RaceID: id, Status: detail.Race.Status}); err != nil {
		return
	}
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, open := <-frames.C:
			if !open {
				return
			}
			if ev.RaceID != id {
				continue
			}
			if writeSSE(w, "frame", ev.Payload) != nil {
				return
			}
			flusher.Flush()
		case ev, open := <-lines.C:
			if !open {
				return
			}
			if ev.RaceID != id {
				continue
			}
			if writeSSE(w, "commentary", ev.Payload) != nil {
				return
			}
			flusher.Flush()
		case ev, open := <-finished.C:
			if !open {
				return
			}
			if ev.RaceID != id {
				continue
			}
			_ = writeSSE(w, "finished", ev.Payload)
			flusher.Flush()
			return
		case <-ticker.C:
			metrics.RecordLiveHeartbeat()
			if _, err := fmt.Fprint(w, "event: ping\ndata: {}\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w io.Writer, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event, err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return fmt.Errorf("write %s event: %w", event, err)
	}
	return nil
}
