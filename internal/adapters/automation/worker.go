package automation

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/okian/derby/internal/adapters/broker"
	"github.com/okian/derby/internal/domain/model"
	"github.com/okian/derby/internal/pipeline"
	"github.com/okian/derby/pkg/logger"
	"github.com/okian/derby/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultDurationSec  = 35
	defaultPollInterval = 300 * time.Millisecond
	defaultPollCap      = 150
)

// snapshotOffsets are the race-relative seconds at which a frame is captured
// and handed to the commentary pipeline.
var snapshotOffsets = []int{0, 5, 10, 15, 20, 25, 30, 33}

// Enqueuer hands commentary jobs to the pipeline.
type Enqueuer interface {
	Enqueue(ctx context.Context, job pipeline.Job) bool
}

// Publisher mirrors captured frames to live viewers.
type Publisher interface {
	Publish(event broker.Event)
}

// Frame is the payload of frame events: one captured image at a
// race-relative timestamp.
type Frame struct {
	AtSeconds int    `json:"at_seconds"`
	Image     []byte `json:"image"`
}

// Uploader stores captured media and returns a reference, or nil.
type Uploader interface {
	Upload(ctx context.Context, name string, buf []byte) *string
}

// Worker runs one race end to end against the target. It never returns an
// error: any failure hands the race to the simulator so the controller
// always receives a complete finishing order.
type Worker struct {
	target      Target
	jobs        Enqueuer
	pub         Publisher
	media       Uploader
	sim         *Simulator
	durationSec int
	interval    time.Duration
	cap         int
	rng         *rand.Rand
	log         logger.Logger
}

// Option applies a configuration option to the Worker.
type Option func(*Worker)

// WithDuration sets the configured race duration in seconds.
func WithDuration(sec int) Option {
	return func(w *Worker) {
		if sec > 0 {
			w.durationSec = sec
		}
	}
}

// WithPollInterval sets the delay between status polls.
func WithPollInterval(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithPollCap bounds the number of status polls per race.
func WithPollCap(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.cap = n
		}
	}
}

// WithPublisher mirrors captured frames onto the live broker.
func WithPublisher(pub Publisher) Option {
	return func(w *Worker) { w.pub = pub }
}

// WithMedia sets the media uploader for race recordings.
func WithMedia(media Uploader) Option {
	return func(w *Worker) { w.media = media }
}

// WithSeed fixes the random source, for tests.
func WithSeed(seed int64) Option {
	return func(w *Worker) { w.rng = rand.New(rand.NewSource(seed)) }
}

// NewWorker builds a worker. A nil target sends every race straight to the
// simulator.
func NewWorker(target Target, jobs Enqueuer, opts ...Option) *Worker {
	w := &Worker{
		target:      target,
		jobs:        jobs,
		durationSec: defaultDurationSec,
		interval:    defaultPollInterval,
		cap:         defaultPollCap,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		log:         logger.Get().Named("automation"),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.sim = NewSimulator(jobs, w.durationSec, w.rng)
	return w
}

// Run executes one race and always produces a result covering the full
// roster. Failures are logged and absorbed by the simulator fallback.
func (w *Worker) Run(ctx context.Context, raceID int64, roster []model.PlayerSpec) model.RaceResult {
	result, err := w.runLive(ctx, raceID, roster)
	if err != nil {
		metrics.RecordSimulatorFallback()
		w.log.Warn(ctx, "live run failed, simulating race",
			logger.Int64("raceID", raceID),
			logger.Error(err),
		)
		return w.sim.Run(ctx, raceID, roster)
	}
	return result
}

// runLive drives a real session on the target. A panic in the target driver
// is treated like any other failure.
func (w *Worker) runLive(
	ctx context.Context, raceID int64, roster []model.PlayerSpec,
) (result model.RaceResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("target driver panic: %v", r)
		}
	}()

	if w.target == nil {
		return model.RaceResult{}, ErrNoTarget
	}

	sess, err := w.target.Open(ctx)
	if err != nil {
		return model.RaceResult{}, err
	}
	defer sess.Close()

	if err := sess.Configure(ctx, w.durationSec, roster); err != nil {
		return model.RaceResult{}, err
	}
	if err := sess.Start(ctx); err != nil {
		return model.RaceResult{}, err
	}

	names := make([]string, len(roster))
	shielded := make([]string, 0, len(roster))
	for i, p := range roster {
		names[i] = p.Name
		if p.UseShield {
			shielded = append(shielded, p.Name)
		}
	}

	start := time.Now()
	jobs := 0
	next := 0
	for i := 0; i < w.cap; i++ {
		elapsed := int(time.Since(start).Seconds())
		for next < len(snapshotOffsets) && elapsed >= snapshotOffsets[next] {
			at := snapshotOffsets[next]
			next++
			buf, serr := sess.Snapshot(ctx)
			if serr != nil {
				metrics.RecordSnapshotError()
				w.log.Warn(ctx, "snapshot capture failed, skipping",
					logger.Int64("raceID", raceID),
					logger.Int("atSeconds", at),
					logger.Error(serr),
				)
				continue
			}
			metrics.RecordSnapshotCaptured()
			w.publishFrame(raceID, at, buf)
			if w.jobs.Enqueue(ctx, pipeline.Job{
				RaceID:    raceID,
				AtSeconds: at,
				Snapshot:  buf,
				Names:     names,
				Shielded:  shielded,
			}) {
				jobs++
			}
		}

		done, ferr := sess.Finished(ctx)
		if ferr != nil {
			return model.RaceResult{}, ferr
		}
		if done {
			break
		}
		// Cap exhaustion is not an error: extraction proceeds best effort.
		select {
		case <-ctx.Done():
			return model.RaceResult{}, ctx.Err()
		case <-time.After(w.interval):
		}
	}

	ranking := w.extractRanking(ctx, sess, raceID, roster)

	finalAt := int(time.Since(start).Seconds())
	if finalAt > w.durationSec {
		finalAt = w.durationSec
	}
	var finalFrame []byte
	if buf, serr := sess.Snapshot(ctx); serr == nil {
		metrics.RecordSnapshotCaptured()
		w.publishFrame(raceID, finalAt, buf)
		finalFrame = buf
	} else {
		metrics.RecordSnapshotError()
	}
	if w.jobs.Enqueue(ctx, pipeline.Job{
		RaceID:    raceID,
		AtSeconds: finalAt,
		Snapshot:  finalFrame,
		Names:     names,
		IsFinal:   true,
		Results:   ranking,
		Shielded:  shielded,
	}) {
		jobs++
	}

	mediaRef := w.recordMedia(ctx, sess, raceID, finalFrame)

	return model.RaceResult{
		Ranking:        ranking,
		MediaRef:       mediaRef,
		CommentaryJobs: jobs,
	}, nil
}

func (w *Worker) publishFrame(raceID int64, at int, buf []byte) {
	if w.pub == nil {
		return
	}
	w.pub.Publish(broker.Event{
		Topic:   broker.TopicFrame,
		RaceID:  raceID,
		At:      time.Now().UTC(),
		Payload: Frame{AtSeconds: at, Image: buf},
	})
}

// extractRanking tries the structured and textual extractors in order and
// falls back to a random roster permutation so a ranking always exists.
func (w *Worker) extractRanking(
	ctx context.Context, sess Session, raceID int64, roster []model.PlayerSpec,
) []model.RankedPlayer {
	for _, ex := range []extractor{rowExtractor{}, textExtractor{}} {
		ranking, err := ex.extract(ctx, sess, roster)
		if err == nil {
			return ranking
		}
		w.log.Debug(ctx, "extraction strategy failed",
			logger.Int64("raceID", raceID),
			logger.String("strategy", ex.name()),
			logger.Error(err),
		)
	}

	metrics.RecordExtractionFallback()
	w.log.Warn(ctx, "no extractable results, randomizing finishing order",
		logger.Int64("raceID", raceID),
	)
	return randomRanking(roster, w.rng)
}

// recordMedia prefers the target's own recording and falls back to uploading
// the final frame. Returns nil when neither is available.
func (w *Worker) recordMedia(
	ctx context.Context, sess Session, raceID int64, finalFrame []byte,
) *string {
	if url, err := sess.VideoRef(ctx); err == nil && url != "" {
		return &url
	}
	if w.media == nil || len(finalFrame) == 0 {
		return nil
	}
	return w.media.Upload(ctx, fmt.Sprintf("race-%d-final.png", raceID), finalFrame)
}
