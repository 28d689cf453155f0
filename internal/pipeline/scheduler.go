// Package pipeline runs the long-lived loops of a replica: cron jobs and
// event watchers, coordinated under one errgroup.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/retropick/internal/domain"
)

// JobFunc runs one firing of a job. at is the scheduled minute, which is
// identical on every replica.
type JobFunc func(ctx context.Context, at time.Time) string

// Job is a named cron job.
type Job struct {
	Name string
	Cron string
	Run  JobFunc
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithExclusiveLock makes at most one process run a given firing. Use it
// when replicas are not aggregating over a shared board.
func WithExclusiveLock(lm domain.LockManager, ttl time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		s.locks = lm
		s.lockTTL = ttl
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// Scheduler fires one Job on its cron schedule.
type Scheduler struct {
	job      Job
	schedule Schedule
	locks    domain.LockManager
	lockTTL  time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// NewScheduler parses job.Cron and returns a Scheduler for it.
func NewScheduler(job Job, logger *slog.Logger, opts ...SchedulerOption) (*Scheduler, error) {
	sched, err := ParseSchedule(job.Cron)
	if err != nil {
		return nil, fmt.Errorf("parsing cron expression %q for %s: %w", job.Cron, job.Name, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		job:      job,
		schedule: sched,
		lockTTL:  5 * time.Minute,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "scheduler"), slog.String("job", job.Name)),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Name returns the job name.
func (s *Scheduler) Name() string { return s.job.Name }

// Run fires the job at every matching minute until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "cron started", slog.String("cron", s.job.Cron))

	for {
		next, err := s.schedule.Next(s.now().UTC())
		if err != nil {
			return err
		}
		wait := next.Sub(s.now())
		s.logger.DebugContext(ctx, "waiting for next cron trigger",
			slog.Time("next_run", next),
			slog.Duration("wait", wait),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("cron stopped")
			return ctx.Err()
		case <-timer.C:
			s.Fire(ctx, next)
		}
	}
}

// Fire runs one firing for the scheduled minute at. With an exclusive lock
// configured, a firing already taken by another process is skipped. The
// firing lock is never released: it names a single minute and expires with
// its TTL, so a replica whose timer fires late still finds it held.
func (s *Scheduler) Fire(ctx context.Context, at time.Time) (string, bool) {
	if s.locks != nil {
		key := fmt.Sprintf("job:%s:%d", s.job.Name, at.Unix())
		_, err := s.locks.Acquire(ctx, key, s.lockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			s.logger.InfoContext(ctx, "firing taken by another process", slog.Time("at", at))
			return "", false
		}
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to acquire job lock", slog.String("error", err.Error()))
			return "", false
		}
	}

	start := s.now()
	status := s.job.Run(ctx, at)
	s.logger.InfoContext(ctx, "job finished",
		slog.Time("at", at),
		slog.String("status", status),
		slog.Duration("took", s.now().Sub(start)),
	)
	return status, true
}
