// Package scheduler runs a background job on an @every or named schedule.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/A1anMc/GrantSGE/internal/logger"
)

// Job is one scheduled unit of work.
type Job func(ctx context.Context) error

// Service runs a single job on a schedule until stopped. Runs never overlap:
// the next run is planned from the end of the previous one.
type Service struct {
	name     string
	schedule Schedule
	job      Job
	timeout  time.Duration
	now      func() time.Time
	log      *slog.Logger

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// Option configures a Service.
type Option func(*Service)

// WithRunTimeout bounds each run.
func WithRunTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

// WithClock overrides the clock used to plan runs.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a scheduler for job.
func NewService(name string, schedule Schedule, job Job, opts ...Option) *Service {
	s := &Service{
		name:     name,
		schedule: schedule,
		job:      job,
		now:      time.Now,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logger.WithComponent("scheduler").With("job", name, "schedule", schedule.String())
	return s
}

// Start blocks running the job at each scheduled time until ctx is done or
// Stop is called.
func (s *Service) Start(ctx context.Context) {
	defer close(s.done)
	s.log.InfoContext(ctx, "scheduler started")

	for {
		next := s.schedule.Next(s.now())
		s.log.DebugContext(ctx, "next run planned", "at", next.Format(time.RFC3339))
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			s.log.InfoContext(ctx, "scheduler stopped by context")
			return
		case <-s.stop:
			timer.Stop()
			s.log.InfoContext(ctx, "scheduler stopped")
			return
		case <-timer.C:
			s.runOnce(ctx)
		}
	}
}

// Stop ends the loop and waits for an in-flight run to finish. It must only
// be called once Start is running.
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

// RunNow executes the job immediately, outside the schedule.
func (s *Service) RunNow(ctx context.Context) error {
	return s.execute(ctx)
}

func (s *Service) runOnce(ctx context.Context) {
	if err := s.execute(ctx); err != nil {
		s.log.ErrorContext(ctx, "scheduled job failed", "error", err)
	}
}

func (s *Service) execute(ctx context.Context) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	start := time.Now()
	err := s.job(ctx)
	s.log.InfoContext(ctx, "scheduled job finished", "duration", time.Since(start), "ok", err == nil)
	return err
}
