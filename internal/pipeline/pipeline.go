// Package pipeline owns the strictly-ordered per-race commentary chains.
//
// Each race gets one bounded job channel and one consumer goroutine, so
// there is at most one in-flight generation call per race and tasks run in
// submission order, while different races proceed fully independently.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/derby/internal/adapters/broker"
	"github.com/okian/derby/internal/domain/model"
	"github.com/okian/derby/internal/domain/narration"
	"github.com/okian/derby/pkg/logger"
	"github.com/okian/derby/pkg/metrics"
)

// Default pipeline configuration constants.
const (
	defaultChainBuffer = 64
	defaultTaskTimeout = 30 * time.Second
)

// Job is one snapshot handed to the chain. Terminal jobs carry the parsed
// results so the narration can reference the actual outcome.
type Job struct {
	RaceID    int64
	AtSeconds int
	Snapshot  []byte
	Names     []string
	IsFinal   bool
	Results   []model.RankedPlayer
	Shielded  []string
}

// Recorder persists commentary entries. Satisfied by repository.Store.
type Recorder interface {
	AppendCommentary(ctx context.Context, raceID int64, atSeconds int, text string) (model.CommentaryEntry, error)
}

// Publisher fans commentary events out to live viewers.
type Publisher interface {
	Publish(event broker.Event)
}

// chain is the per-race state: the job channel, the consumer's done signal
// and the narrative history. History is touched only by the consumer
// goroutine and is released when the chain is drained.
type chain struct {
	jobs    chan Job
	done    chan struct{}
	closing bool
	history []string
}

// Pipeline multiplexes commentary jobs onto per-race chains.
type Pipeline struct {
	mu       sync.Mutex
	chains   map[int64]*chain
	provider narration.Provider
	store    Recorder
	pub      Publisher
	buffer   int
	timeout  time.Duration
	log      logger.Logger
}

// Option applies a configuration option to the Pipeline.
type Option func(*Pipeline)

// WithChainBuffer bounds each per-race job channel.
func WithChainBuffer(size int) Option {
	return func(p *Pipeline) {
		if size > 0 {
			p.buffer = size
		}
	}
}

// WithTaskTimeout bounds a single narration task.
func WithTaskTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// New creates a pipeline. The provider, recorder and publisher are shared
// across races; all per-race state lives in the chains.
func New(provider narration.Provider, store Recorder, pub Publisher, opts ...Option) *Pipeline {
	p := &Pipeline{
		chains:   make(map[int64]*chain),
		provider: provider,
		store:    store,
		pub:      pub,
		buffer:   defaultChainBuffer,
		timeout:  defaultTaskTimeout,
		log:      logger.Get().Named("pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Enqueue appends a job to the race's chain and returns immediately. The
// only failure mode is a full chain buffer, reported as false.
func (p *Pipeline) Enqueue(ctx context.Context, job Job) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.chains[job.RaceID]
	if !ok {
		c = &chain{
			jobs: make(chan Job, p.buffer),
			done: make(chan struct{}),
		}
		p.chains[job.RaceID] = c
		metrics.UpdateActiveChains(len(p.chains))
		go p.consume(c)
	}
	if c.closing {
		metrics.RecordCommentaryDropped()
		p.log.Warn(ctx, "commentary job after drain, dropping",
			logger.Int64("raceID", job.RaceID),
			logger.Int("atSeconds", job.AtSeconds),
		)
		return false
	}

	select {
	case c.jobs <- job:
		return true
	default:
		metrics.RecordCommentaryDropped()
		metrics.RecordErrorByComponent("pipeline", "chain_full")
		p.log.Warn(ctx, "commentary chain full, dropping job",
			logger.Int64("raceID", job.RaceID),
			logger.Int("atSeconds", job.AtSeconds),
		)
		return false
	}
}

// Drain waits for the race's chain to empty, then deletes its history and
// chain state. Skipping this leaks memory across races.
func (p *Pipeline) Drain(ctx context.Context, raceID int64) error {
	p.mu.Lock()
	c, ok := p.chains[raceID]
	if ok && !c.closing {
		c.closing = true
		close(c.jobs)
	}
	p.mu.Unlock()
	if !ok {
		return nil
	}

	select {
	case <-c.done:
	case <-ctx.Done():
		return fmt.Errorf("drain race %d: %w", raceID, ctx.Err())
	}

	p.mu.Lock()
	delete(p.chains, raceID)
	metrics.UpdateActiveChains(len(p.chains))
	p.mu.Unlock()
	return nil
}

// ChainCount reports the number of live chains.
func (p *Pipeline) ChainCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.chains)
}

// consume runs one race's chain until it is drained.
func (p *Pipeline) consume(c *chain) {
	defer close(c.done)
	for job := range c.jobs {
		p.process(c, job)
	}
	c.history = nil
}

// process executes a single commentary task: narrate, remember, persist,
// publish. Failures are absorbed so the chain never halts.
func (p *Pipeline) process(c *chain, job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	history := make([]string, len(c.history))
	copy(history, c.history)

	text, err := p.provider.Narrate(ctx, narration.Request{
		RaceID:    job.RaceID,
		AtSeconds: job.AtSeconds,
		Snapshot:  job.Snapshot,
		History:   history,
		Names:     job.Names,
		IsFinal:   job.IsFinal,
		Results:   job.Results,
		Shielded:  job.Shielded,
	})
	if err != nil || text == "" {
		metrics.RecordErrorByComponent("pipeline", "narration_failed")
		p.log.Warn(ctx, "narration failed, skipping entry",
			logger.Int64("raceID", job.RaceID),
			logger.Int("atSeconds", job.AtSeconds),
			logger.Error(err),
		)
		return
	}

	c.history = append(c.history, text)
	metrics.RecordCommentaryGenerated()

	entry, err := p.store.AppendCommentary(ctx, job.RaceID, job.AtSeconds, text)
	if err != nil {
		// The line still reaches live viewers; the persisted log loses it.
		metrics.RecordCommentaryPersistError()
		p.log.Error(ctx, "commentary persist failed",
			logger.Int64("raceID", job.RaceID),
			logger.Int("atSeconds", job.AtSeconds),
			logger.Error(err),
		)
		entry = model.CommentaryEntry{
			RaceID:    job.RaceID,
			AtSeconds: job.AtSeconds,
			Text:      text,
			CreatedAt: time.Now().UTC(),
		}
	}

	p.pub.Publish(broker.Event{
		Topic:   broker.TopicCommentary,
		RaceID:  job.RaceID,
		At:      time.Now().UTC(),
		Payload: entry,
	})
}
