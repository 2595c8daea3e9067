package schedule

import (
	"context"
	"log/slog"
	"time"
)

type JobKind string

const (
	JobPnlReport    JobKind = "pnl_report"
	JobDealsReport  JobKind = "deals_report"
	JobWeeklyReport JobKind = "weekly_report"
)

// NextFunc returns the earliest anchored fire time strictly after the
// given instant. Implementations compute from the anchor grid, never
// from "now + interval", so repeated fires do not drift.
type NextFunc func(after time.Time) time.Time

// Job 定时任务
type Job struct {
	Kind JobKind
	Task Task
	Next NextFunc

	nextFireAt time.Time
}

// NextFireAt is the pending fire time; strictly in the future right
// after each (re)computation.
func (j *Job) NextFireAt() time.Time {
	return j.nextFireAt
}

// Scheduler drives time-based jobs independent of event arrival. Missed
// fires are not backfilled: a job that is overdue on wake-up fires once,
// then resumes its anchored cadence.
type Scheduler struct {
	jobs []*Job
	now  func() time.Time
}

type SchedulerOption func(s *Scheduler)

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		s.now = now
	}
}

func NewScheduler(jobs []*Job, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		jobs: jobs,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scheduler) Run(ctx context.Context) error {
	now := s.now()
	for _, j := range s.jobs {
		j.nextFireAt = j.Next(now)
		slog.Info("job scheduled", "job", j.Kind, "next_fire_at", j.nextFireAt)
	}

	for {
		earliest := s.earliest()
		if earliest == nil {
			<-ctx.Done()
			return ctx.Err()
		}

		timer := time.NewTimer(earliest.nextFireAt.Sub(s.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		now = s.now()
		for _, j := range s.jobs {
			if j.nextFireAt.After(now) {
				continue
			}
			s.fire(ctx, j)
			j.nextFireAt = j.Next(s.now())
		}
	}
}

func (s *Scheduler) fire(ctx context.Context, j *Job) {
	slog.Info("job firing", "job", j.Kind, "task", j.Task.Name())
	if err := j.Task.Run(ctx); err != nil {
		slog.Error("job failed", "job", j.Kind, "task", j.Task.Name(), "error", err)
	}
}

func (s *Scheduler) earliest() *Job {
	var earliest *Job
	for _, j := range s.jobs {
		if earliest == nil || j.nextFireAt.Before(earliest.nextFireAt) {
			earliest = j
		}
	}
	return earliest
}

// NextHourlyAnchored fires every intervalHours at minuteOffset past the
// hour, anchored to midnight UTC (hours 0, N, 2N, ...).
func NextHourlyAnchored(intervalHours, minuteOffset int) NextFunc {
	if intervalHours <= 0 {
		intervalHours = 1
	}
	return func(after time.Time) time.Time {
		after = after.UTC()
		day := time.Date(after.Year(), after.Month(), after.Day(), 0, 0, 0, 0, time.UTC)
		for d := 0; ; d++ {
			base := day.AddDate(0, 0, d)
			for h := 0; h < 24; h += intervalHours {
				candidate := base.Add(time.Duration(h)*time.Hour + time.Duration(minuteOffset)*time.Minute)
				if candidate.After(after) {
					return candidate
				}
			}
		}
	}
}

// NextDailyAnchored fires every intervalDays at hh:mm UTC, anchored to
// the Unix epoch day grid.
func NextDailyAnchored(intervalDays, hour, minute int) NextFunc {
	if intervalDays <= 0 {
		intervalDays = 1
	}
	period := time.Duration(intervalDays) * 24 * time.Hour
	base := time.Date(1970, 1, 1, hour, minute, 0, 0, time.UTC)
	return func(after time.Time) time.Time {
		after = after.UTC()
		n := after.Sub(base) / period
		candidate := base.Add(n * period)
		for !candidate.After(after) {
			candidate = candidate.Add(period)
		}
		return candidate
	}
}

// NextWeekly fires once a week on the given UTC weekday at hh:mm.
func NextWeekly(weekday time.Weekday, hour, minute int) NextFunc {
	return func(after time.Time) time.Time {
		after = after.UTC()
		candidate := time.Date(after.Year(), after.Month(), after.Day(), hour, minute, 0, 0, time.UTC)
		for candidate.Weekday() != weekday || !candidate.After(after) {
			candidate = candidate.AddDate(0, 0, 1)
		}
		return candidate
	}
}
