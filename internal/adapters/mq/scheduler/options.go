package scheduler

import (
	"time"

	"github.com/okian/skumatch/internal/adapters/mq/worker"
	"github.com/okian/skumatch/internal/domain/model"
	"github.com/okian/skumatch/pkg/logger"
)

// Option applies a configuration option to the Scheduler.
type Option func(*Scheduler)

// WithWorkers sets how many jobs run at the same time.
func WithWorkers(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithQueueCapacity bounds the number of pending jobs.
func WithQueueCapacity(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.queueCapacity = n
		}
	}
}

// WithDefaults sets the options applied to zero fields of submitted options.
func WithDefaults(o model.BatchOptions) Option {
	return func(s *Scheduler) {
		s.defaults = o
	}
}

// WithTTL sets how long finished jobs are retained.
func WithTTL(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithCleanupInterval sets how often expired jobs are removed.
func WithCleanupInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.cleanupInterval = d
		}
	}
}

// WithShutdownGrace bounds how long Shutdown waits for running jobs.
func WithShutdownGrace(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.grace = d
		}
	}
}

// WithObserver registers an observer called synchronously for every event.
func WithObserver(o Observer) Option {
	return func(s *Scheduler) {
		if o != nil {
			s.observers = append(s.observers, o)
		}
	}
}

// WithRunnerOptions configures the item runner.
func WithRunnerOptions(opts ...worker.RunnerOption) Option {
	return func(s *Scheduler) {
		s.runnerOpts = append(s.runnerOpts, opts...)
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}
