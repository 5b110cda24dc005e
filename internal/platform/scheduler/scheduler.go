// Package scheduler runs recurring maintenance jobs: the audit buffer flush,
// rate-counter sweeps, breach notification delivery. One goroutine per job,
// all stopped together on shutdown.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Job is one recurring task. Jobs receive the scheduler's base context and
// must return promptly once it is cancelled.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler runs registered jobs on their intervals until stopped.
type Scheduler struct {
	jobs []Job
	log  zerolog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

func New(logger zerolog.Logger) *Scheduler {
	return &Scheduler{log: logger.With().Str("component", "scheduler").Logger()}
}

// Register adds a job. Must be called before Start.
func (s *Scheduler) Register(j Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, j)
}

// Start launches every registered job. The first run happens after one full
// interval, not immediately: startup is already the busiest moment.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	var wg sync.WaitGroup
	for _, j := range s.jobs {
		wg.Add(1)
		go func(j Job) {
			defer wg.Done()
			s.run(ctx, j)
		}(j)
	}
	go func() {
		wg.Wait()
		close(s.done)
	}()

	s.log.Info().Int("jobs", len(s.jobs)).Msg("scheduler started")
}

func (s *Scheduler) run(ctx context.Context, j Job) {
	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				s.log.Error().Err(err).Str("job", j.Name).Msg("scheduled job failed")
			}
		}
	}
}

// Stop cancels all jobs and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
	s.log.Info().Msg("scheduler stopped")
}
