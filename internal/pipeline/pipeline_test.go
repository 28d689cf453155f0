package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/retropick/internal/domain"
)

func TestScheduleNext(t *testing.T) {
	base := time.Date(2026, 3, 14, 10, 7, 30, 0, time.UTC) // Saturday

	tests := []struct {
		expr string
		want time.Time
	}{
		{"*/15 * * * *", time.Date(2026, 3, 14, 10, 15, 0, 0, time.UTC)},
		{"0 3 * * *", time.Date(2026, 3, 15, 3, 0, 0, 0, time.UTC)},
		{"8 10 * * *", time.Date(2026, 3, 14, 10, 8, 0, 0, time.UTC)},
		{"0 9-17/4 * * *", time.Date(2026, 3, 14, 13, 0, 0, 0, time.UTC)},
		{"30 0 * * 7", time.Date(2026, 3, 15, 0, 30, 0, 0, time.UTC)},
		{"0 0 1 1,7 *", time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			s, err := ParseSchedule(tt.expr)
			require.NoError(t, err)
			got, err := s.Next(base)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseScheduleRejects(t *testing.T) {
	for _, expr := range []string{"", "* * * *", "60 * * * *", "*/0 * * * *", "5-1 * * * *", "a * * * *"} {
		_, err := ParseSchedule(expr)
		assert.Error(t, err, expr)
	}
}

type memLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func (m *memLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[key] {
		return nil, domain.ErrLockHeld
	}
	m.held[key] = true
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.held, key)
	}, nil
}

func TestSchedulerFireWithExclusiveLock(t *testing.T) {
	locks := &memLocks{held: map[string]bool{}}
	var fired []time.Time
	job := Job{Name: "markets", Cron: "*/15 * * * *", Run: func(_ context.Context, at time.Time) string {
		fired = append(fired, at)
		return "Created 0 markets"
	}}

	a, err := NewScheduler(job, nil, WithExclusiveLock(locks, time.Minute))
	require.NoError(t, err)
	b, err := NewScheduler(job, nil, WithExclusiveLock(locks, time.Minute))
	require.NoError(t, err)

	at := time.Date(2026, 3, 14, 10, 15, 0, 0, time.UTC)
	status, ran := a.Fire(context.Background(), at)
	assert.True(t, ran)
	assert.Equal(t, "Created 0 markets", status)

	_, ran = b.Fire(context.Background(), at)
	assert.False(t, ran)

	_, ran = b.Fire(context.Background(), at.Add(15*time.Minute))
	assert.True(t, ran)
	assert.Equal(t, []time.Time{at, at.Add(15 * time.Minute)}, fired)
}

func TestSchedulerLateReplicaSkipsFinishedFiring(t *testing.T) {
	locks := &memLocks{held: map[string]bool{}}
	runs := 0
	job := Job{Name: "sessions", Cron: "*/15 * * * *", Run: func(context.Context, time.Time) string {
		runs++
		return "Finalized 1 sessions"
	}}
	at := time.Date(2026, 3, 14, 0, 15, 0, 0, time.UTC)

	early, err := NewScheduler(job, nil, WithExclusiveLock(locks, time.Minute))
	require.NoError(t, err)
	_, ran := early.Fire(context.Background(), at)
	require.True(t, ran)

	// The first firing has completed before the second replica wakes up.
	late, err := NewScheduler(job, nil, WithExclusiveLock(locks, time.Minute))
	require.NoError(t, err)
	_, ran = late.Fire(context.Background(), at)
	assert.False(t, ran)
	assert.Equal(t, 1, runs)
}

func TestNewSchedulerRejectsBadCron(t *testing.T) {
	_, err := NewScheduler(Job{Name: "x", Cron: "every minute"}, nil)
	assert.Error(t, err)
}

func TestOrchestrator(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{}, 2)
	loop := func(ctx context.Context) error {
		started <- struct{}{}
		<-ctx.Done()
		return ctx.Err()
	}
	o := NewOrchestrator(nil, RunnerFunc{Label: "a", Fn: loop}, RunnerFunc{Label: "b", Fn: loop})

	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()
	<-started
	<-started
	cancel()
	assert.NoError(t, <-done)

	boom := errors.New("boom")
	o = NewOrchestrator(nil, RunnerFunc{Label: "bad", Fn: func(context.Context) error { return boom }},
		RunnerFunc{Label: "idle", Fn: loop})
	err := o.Run(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "bad")
}
