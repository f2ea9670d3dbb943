package executor

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOnlyOneTaskRunsAtATime(t *testing.T) {
	ex := New(zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	var active, maxActive, steps int32

	body := func(ctx context.Context, s Suspender) error {
		for i := 0; i < 20; i++ {
			n := atomic.AddInt32(&active, 1)
			if n > atomic.LoadInt32(&maxActive) {
				atomic.StoreInt32(&maxActive, n)
			}
			// Busy section without a suspension point.
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&steps, 1)
			atomic.AddInt32(&active, -1)

			if err := s.Sleep(ctx, time.Millisecond); err != nil {
				return err
			}
		}
		return nil
	}

	require.NoError(t, ex.Spawn("a", body))
	require.NoError(t, ex.Spawn("b", body))
	require.NoError(t, ex.Spawn("c", body))
	require.NoError(t, ex.Run(ctx))

	assert.Equal(t, int32(1), maxActive)
	assert.Equal(t, int32(60), steps)
}

func TestFailingTaskDoesNotStopOthers(t *testing.T) {
	var mu sync.Mutex
	var exited []string
	ex := New(zerolog.Nop(), WithExitHook(func(task string, err error) {
		mu.Lock()
		defer mu.Unlock()
		assert.Error(t, err)
		exited = append(exited, task)
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var survivorTicks int32

	require.NoError(t, ex.Spawn("broken", func(context.Context, Suspender) error {
		return errors.New("sensor init failed")
	}))
	require.NoError(t, ex.Spawn("panicky", func(context.Context, Suspender) error {
		panic("boom")
	}))
	require.NoError(t, ex.Spawn("survivor", func(ctx context.Context, s Suspender) error {
		for i := 0; i < 5; i++ {
			if err := s.Sleep(ctx, 5*time.Millisecond); err != nil {
				return err
			}
			atomic.AddInt32(&survivorTicks, 1)
		}
		return nil
	}))

	require.NoError(t, ex.Run(ctx))
	assert.Equal(t, int32(5), survivorTicks)

	mu.Lock()
	defer mu.Unlock()
	sort.Strings(exited)
	assert.Equal(t, []string{"broken", "panicky"}, exited, "clean exits are not reported")
}

func TestSpawnAfterRun(t *testing.T) {
	ex := New(zerolog.Nop())

	started := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, ex.Spawn("waiter", func(ctx context.Context, s Suspender) error {
		close(started)
		return s.Await(ctx, func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})
	}))

	done := make(chan error, 1)
	go func() { done <- ex.Run(ctx) }()

	<-started
	err := ex.Spawn("late", func(context.Context, Suspender) error { return nil })
	require.ErrorIs(t, err, ErrRunning)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("executor did not stop after cancellation")
	}
}

func TestDuplicateTaskName(t *testing.T) {
	ex := New(zerolog.Nop())
	noop := func(context.Context, Suspender) error { return nil }

	require.NoError(t, ex.Spawn("net", noop))
	require.ErrorIs(t, ex.Spawn("net", noop), ErrDuplicateTask)
}

func TestUnscheduledSleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Unscheduled().Sleep(ctx, time.Hour)
	require.ErrorIs(t, err, context.Canceled)
}
