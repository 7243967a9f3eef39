// Package scheduler runs each bot's periodic post on a shared interval that
// can be changed at runtime.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/tomasmach/banter/tuning"
)

// Poster is a bot that can post unprompted.
type Poster interface {
	Name() string
	Periodic(ctx context.Context)
}

type entry struct {
	poster Poster
	job    gocron.Job
}

// Scheduler owns one interval job per bot.
type Scheduler struct {
	cron gocron.Scheduler
	ctx  context.Context

	mu       sync.Mutex
	interval time.Duration
	entries  []*entry
}

// New creates a stopped scheduler. Jobs run with ctx and fire every interval.
func New(ctx context.Context, interval time.Duration) (*Scheduler, error) {
	cron, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
		gocron.WithLogger(slog.With("component", "scheduler")),
	)
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	return &Scheduler{cron: cron, ctx: ctx, interval: interval}, nil
}

func jobName(p Poster) string { return "periodic:" + p.Name() }

func (s *Scheduler) task(p Poster) gocron.Task {
	return gocron.NewTask(func() { p.Periodic(s.ctx) })
}

// Add schedules p's periodic post at the current interval. A run that would
// overlap a still-running one is skipped.
func (s *Scheduler) Add(p Poster) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, err := s.cron.NewJob(
		gocron.DurationJob(s.interval),
		s.task(p),
		gocron.WithName(jobName(p)),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", jobName(p), err)
	}
	s.entries = append(s.entries, &entry{poster: p, job: job})
	slog.Info("periodic job scheduled", "bot", p.Name(), "interval", s.interval)
	return nil
}

// SetInterval reschedules every job to the new interval. The next run of each
// job is one full interval from now.
func (s *Scheduler) SetInterval(d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d == s.interval {
		return nil
	}
	for _, e := range s.entries {
		job, err := s.cron.Update(
			e.job.ID(),
			gocron.DurationJob(d),
			s.task(e.poster),
			gocron.WithName(jobName(e.poster)),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return fmt.Errorf("reschedule %s: %w", jobName(e.poster), err)
		}
		e.job = job
	}
	slog.Info("periodic interval changed", "from", s.interval, "to", d)
	s.interval = d
	return nil
}

func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Watch follows interval changes made through store.
func (s *Scheduler) Watch(store *tuning.Store) {
	store.OnChange(func(settings tuning.Settings) {
		if err := s.SetInterval(settings.Interval); err != nil {
			slog.Error("failed to apply new interval", "error", err)
		}
	})
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Shutdown stops the scheduler and waits for running posts to return.
func (s *Scheduler) Shutdown() error {
	if err := s.cron.Shutdown(); err != nil {
		return fmt.Errorf("shutdown scheduler: %w", err)
	}
	return nil
}
