package stress

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerSelect_Weighted(t *testing.T) {
	s := NewScheduler(DefaultConfig(), []Target{
		{Name: "heavy", Weight: 9},
		{Name: "light", Weight: 1},
	})

	counts := map[string]int{}
	for i := 0; i < 10000; i++ {
		target, ok := s.Select()
		require.True(t, ok)
		counts[target.Name]++
	}

	assert.Greater(t, counts["heavy"], 8000)
	assert.Greater(t, counts["light"], 500)
}

func TestSchedulerSelect_Empty(t *testing.T) {
	s := NewScheduler(DefaultConfig(), nil)
	_, ok := s.Select()
	assert.False(t, ok)
}

func TestSchedulerAcquire(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxInFlight = 1
	s := NewScheduler(cfg, nil)

	require.NoError(t, s.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Acquire(ctx), context.DeadlineExceeded)

	s.Release()
	assert.NoError(t, s.Acquire(context.Background()))
}

func TestSchedulerRampUp(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Rate = 100
	cfg.Workers = 10
	cfg.RampUp = 10 * time.Second
	s := NewScheduler(cfg, nil)

	assert.Equal(t, 1.0, s.CurrentRate(0))
	assert.InDelta(t, 50.0, s.CurrentRate(5*time.Second), 0.001)
	assert.Equal(t, 100.0, s.CurrentRate(20*time.Second))

	assert.Equal(t, 1, s.CurrentWorkers(0))
	assert.Equal(t, 5, s.CurrentWorkers(5*time.Second))
	assert.Equal(t, 10, s.CurrentWorkers(10*time.Second))
}

func TestSchedulerWait_WorkerMode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = WorkerMode
	s := NewScheduler(cfg, nil)

	assert.NoError(t, s.Wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, s.Wait(ctx))
}
