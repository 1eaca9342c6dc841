package app

import (
	"context"
	"time"

	"github.com/okian/derby/internal/adapters/broker"
	"github.com/okian/derby/internal/adapters/repository"
	"github.com/okian/derby/internal/domain/model"
	"github.com/okian/derby/pkg/logger"
)

const defaultDrainBudget = 30 * time.Second

// Runner executes one race and always returns a complete result.
type Runner interface {
	Run(ctx context.Context, raceID int64, roster []model.PlayerSpec) model.RaceResult
}

// Drainer tears down a race's commentary chain after the run.
type Drainer interface {
	Drain(ctx context.Context, raceID int64) error
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStore sets the persistence backend.
func WithStore(store repository.Store) Option {
	return func(s *Service) { s.store = store }
}

// WithBroker sets the live event broker.
func WithBroker(bus *broker.Broker) Option {
	return func(s *Service) { s.bus = bus }
}

// WithWorker sets the automation runner.
func WithWorker(worker Runner) Option {
	return func(s *Service) { s.worker = worker }
}

// WithPipeline sets the commentary pipeline to drain after each race.
func WithPipeline(pipe Drainer) Option {
	return func(s *Service) { s.pipe = pipe }
}

// WithDrainBudget bounds the wait for trailing commentary after a race.
func WithDrainBudget(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.drainBudget = d
		}
	}
}

// WithLogger overrides the service logger.
func WithLogger(log logger.Logger) Option {
	return func(s *Service) { s.log = log }
}
