package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/aqi-predict-service/internal/domain"
	"github.com/couchcryptid/aqi-predict-service/internal/observability"
)

// Job is one scheduled invocation.
type Job func(ctx context.Context) error

// Schedule describes when the job runs.
type Schedule struct {
	DailyHour   int           // local hour of the daily run
	DailyMinute int           // local minute of the daily run
	Interval    time.Duration // recurring run period; zero disables it
	Tick        time.Duration // how often due entries are checked
	Cooldown    time.Duration // pause after a failed invocation
}

// DefaultSchedule runs daily at 01:00 and every ten minutes.
var DefaultSchedule = Schedule{
	DailyHour: 1,
	Interval:  10 * time.Minute,
	Tick:      time.Minute,
	Cooldown:  5 * time.Minute,
}

// Scheduler invokes a job eagerly on start and then whenever a schedule entry
// comes due. A failing or panicking job never stops the loop.
type Scheduler struct {
	job      Job
	schedule Schedule
	clock    clockwork.Clock
	metrics  *observability.Metrics
	logger   *slog.Logger

	nextDaily time.Time
	nextEvery time.Time
}

// NewScheduler creates a scheduler. A nil clock uses the real clock.
func NewScheduler(job Job, schedule Schedule, clock clockwork.Clock, metrics *observability.Metrics, logger *slog.Logger) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if schedule.Tick <= 0 {
		schedule.Tick = DefaultSchedule.Tick
	}
	return &Scheduler{
		job:      job,
		schedule: schedule,
		clock:    clock,
		metrics:  metrics,
		logger:   logger,
	}
}

// CycleJob adapts a Runner to a scheduler job.
func CycleJob(r *Runner) Job {
	return func(ctx context.Context) error {
		_, err := r.RunCycle(ctx)
		return err
	}
}

// Run loops until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started",
		"daily_at", fmt.Sprintf("%02d:%02d", s.schedule.DailyHour, s.schedule.DailyMinute),
		"interval", s.schedule.Interval,
		"tick", s.schedule.Tick,
	)
	s.metrics.SchedulerRunning.Set(1)
	defer s.metrics.SchedulerRunning.Set(0)

	now := s.clock.Now()
	s.nextDaily = s.dailyAfter(now)
	s.nextEvery = now.Add(s.schedule.Interval)

	s.invoke(ctx, "startup")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping", "reason", ctx.Err())
			return nil
		case <-s.clock.After(s.schedule.Tick):
		}

		if reason, due := s.due(s.clock.Now()); due {
			s.invoke(ctx, reason)
		}
	}
}

// due reports whether any entry is due at now and advances every due entry,
// so entries falling on the same tick trigger one invocation.
func (s *Scheduler) due(now time.Time) (string, bool) {
	var reason string
	if !now.Before(s.nextDaily) {
		reason = "daily"
		s.nextDaily = s.dailyAfter(now)
	}
	if s.schedule.Interval > 0 && !now.Before(s.nextEvery) {
		if reason == "" {
			reason = "interval"
		}
		s.nextEvery = now.Add(s.schedule.Interval)
	}
	return reason, reason != ""
}

func (s *Scheduler) dailyAfter(now time.Time) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), s.schedule.DailyHour, s.schedule.DailyMinute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// invoke runs the job once and applies the cooldown after a failure.
func (s *Scheduler) invoke(ctx context.Context, reason string) {
	if ctx.Err() != nil {
		return
	}
	s.logger.Debug("running scheduled job", "trigger", reason)

	err := s.safeRun(ctx)
	switch {
	case err == nil:
		return
	case errors.Is(err, domain.ErrNoWork):
		s.logger.Info("no unprocessed observations", "trigger", reason)
		return
	case errors.Is(err, domain.ErrCycleBusy):
		s.logger.Info("cycle skipped, another process holds the lock", "trigger", reason)
		return
	case ctx.Err() != nil:
		return
	}

	s.logger.Error("scheduled job failed", "trigger", reason, "error", err, "cooldown", s.schedule.Cooldown)
	s.sleep(ctx, s.schedule.Cooldown)
}

func (s *Scheduler) safeRun(ctx context.Context) (err error) {
	defer func() {
		if v := recover(); v != nil {
			s.metrics.CyclesTotal.WithLabelValues("panic").Inc()
			err = fmt.Errorf("job panicked: %v", v)
		}
	}()
	return s.job(ctx)
}

func (s *Scheduler) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-s.clock.After(d):
	}
}
