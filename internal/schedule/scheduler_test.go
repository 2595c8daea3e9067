package schedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextHourlyAnchoredNoDrift(t *testing.T) {
	// every 2 hours at minute 5, 100 consecutive fires stay on the grid
	next := NextHourlyAnchored(2, 5)

	at := time.Date(2025, 3, 10, 13, 42, 17, 0, time.UTC)
	for i := 0; i < 100; i++ {
		fire := next(at)
		assert.True(t, fire.After(at), "fire %d not strictly future", i)
		assert.Equal(t, 0, fire.Hour()%2, "fire %d off the hour grid: %s", i, fire)
		assert.Equal(t, 5, fire.Minute(), "fire %d off the minute offset: %s", i, fire)
		assert.Equal(t, 0, fire.Second())
		at = fire
	}

	// 99 intervals of exactly 2h between the first and the 100th fire
	first := NextHourlyAnchored(2, 5)(time.Date(2025, 3, 10, 13, 42, 17, 0, time.UTC))
	assert.Equal(t, 198*time.Hour, at.Sub(first))
}

func TestNextHourlyAnchoredDayRollover(t *testing.T) {
	next := NextHourlyAnchored(4, 30)
	fire := next(time.Date(2025, 3, 10, 23, 45, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2025, 3, 11, 0, 30, 0, 0, time.UTC), fire)
}

func TestNextDailyAnchored(t *testing.T) {
	next := NextDailyAnchored(1, 0, 5)

	fire := next(time.Date(2025, 3, 10, 13, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2025, 3, 11, 0, 5, 0, 0, time.UTC), fire)

	// exactly at the fire time: strictly future, so the next day
	fire = next(time.Date(2025, 3, 11, 0, 5, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2025, 3, 12, 0, 5, 0, 0, time.UTC), fire)
}

func TestNextDailyAnchoredMultiDay(t *testing.T) {
	next := NextDailyAnchored(3, 8, 0)
	first := next(time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC))
	second := next(first)
	assert.Equal(t, 72*time.Hour, second.Sub(first))
	assert.Equal(t, 8, first.Hour())
	assert.Equal(t, 0, first.Minute())
}

func TestNextWeekly(t *testing.T) {
	next := NextWeekly(time.Friday, 21, 0)

	// Monday 2025-03-10
	fire := next(time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2025, 3, 14, 21, 0, 0, 0, time.UTC), fire)
	assert.Equal(t, time.Friday, fire.Weekday())

	// Friday after the fire time rolls to next week
	fire = next(time.Date(2025, 3, 14, 21, 30, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2025, 3, 21, 21, 0, 0, 0, time.UTC), fire)
}

type countingTask struct {
	runs atomic.Int32
}

func (t *countingTask) Run(ctx context.Context) error {
	t.runs.Add(1)
	return nil
}

func (t *countingTask) Name() string {
	return "counting task"
}

func TestSchedulerFiresAndRecomputes(t *testing.T) {
	task := &countingTask{}
	job := &Job{
		Kind: JobPnlReport,
		Task: task,
		Next: func(after time.Time) time.Time {
			return after.Add(20 * time.Millisecond)
		},
	}
	s := NewScheduler([]*Job{job})

	ctx, cancel := context.WithTimeout(context.Background(), 130*time.Millisecond)
	defer cancel()
	err := s.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	runs := task.runs.Load()
	assert.GreaterOrEqual(t, runs, int32(3))
	// nextFireAt strictly future after the last recomputation
	assert.True(t, job.NextFireAt().After(time.Now().Add(-25*time.Millisecond)))
}

func TestSchedulerOverdueFiresOnce(t *testing.T) {
	// a job already overdue on wake-up fires immediately, once
	task := &countingTask{}
	fires := 0
	job := &Job{
		Kind: JobDealsReport,
		Task: task,
		Next: func(after time.Time) time.Time {
			fires++
			if fires == 1 {
				return after.Add(time.Millisecond)
			}
			return after.Add(time.Hour)
		},
	}
	s := NewScheduler([]*Job{job})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = s.Run(ctx)

	assert.Equal(t, int32(1), task.runs.Load())
}
