package power

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agsys/field-node/internal/executor"
)

type failingSleeper struct {
	calls atomic.Int32
	fail  int32
	got   WakeCycle
}

func (f *failingSleeper) SleepDeep(_ context.Context, cycle WakeCycle, sources []WakeSource) error {
	n := f.calls.Add(1)
	if n <= f.fail {
		return errors.New("rtc busy")
	}
	f.got = cycle
	return validateSources(sources)
}

func TestCoordinatorSleepsAfterActiveWindow(t *testing.T) {
	boot := NewBoot(ResetDeepSleep, WakeTimer)

	var got WakeCycle
	var calls atomic.Int32
	sleeper := NewHookSleeper(func(c WakeCycle) {
		calls.Add(1)
		got = c
	})

	c := NewCoordinator(boot, sleeper, Config{ActiveWindow: 20 * time.Millisecond, SleepFor: 600 * time.Second}, zerolog.Nop())

	start := time.Now()
	require.NoError(t, c.Run(context.Background(), executor.Unscheduled()))

	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, boot.ID, got.BootID)
	assert.Equal(t, ResetDeepSleep, got.ResetReason)
	assert.Equal(t, WakeTimer, got.WakeReason)
	assert.Equal(t, 600*time.Second, got.NextSleep)
	assert.GreaterOrEqual(t, got.ActiveDuration, 20*time.Millisecond)
}

func TestCoordinatorRetriesRejectedSleep(t *testing.T) {
	sleeper := &failingSleeper{fail: 2}
	c := NewCoordinator(NewBoot(ResetPowerOn, WakeUndefined), sleeper, Config{ActiveWindow: 5 * time.Millisecond}, zerolog.Nop())

	require.NoError(t, c.Run(context.Background(), executor.Unscheduled()))
	assert.Equal(t, int32(3), sleeper.calls.Load())
	assert.Equal(t, DefaultConfig().SleepFor, sleeper.got.NextSleep)
}

func TestCoordinatorStopsOnCancel(t *testing.T) {
	sleeper := NewHookSleeper(func(WakeCycle) { t.Error("slept after cancel") })
	c := NewCoordinator(NewBoot(ResetPowerOn, WakeUndefined), sleeper, Config{ActiveWindow: time.Hour}, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, c.Run(ctx, executor.Unscheduled()), context.DeadlineExceeded)
}

func TestHookSleeperRequiresWakeSource(t *testing.T) {
	sleeper := NewHookSleeper(func(WakeCycle) { t.Error("hook called without wake source") })

	err := sleeper.SleepDeep(context.Background(), WakeCycle{}, nil)
	assert.ErrorIs(t, err, ErrNoWakeSource)

	err = sleeper.SleepDeep(context.Background(), WakeCycle{}, []WakeSource{TimerWake(0)})
	assert.Error(t, err)
}

func TestReasonStrings(t *testing.T) {
	assert.Equal(t, "deep_sleep", ResetDeepSleep.String())
	assert.Equal(t, "unknown", ResetReason(200).String())
	assert.Equal(t, "timer", WakeTimer.String())
	assert.Equal(t, "undefined", WakeUndefined.String())
}
