// Package power tracks the node's active time and hands it over to deep
// sleep once the active window has elapsed.
package power

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ResetReason is the cause of the last processor reset
type ResetReason uint8

const (
	ResetUnknown ResetReason = iota
	ResetPowerOn
	ResetExternal
	ResetSoftware
	ResetPanic
	ResetWatchdog
	ResetDeepSleep
	ResetBrownout
)

func (r ResetReason) String() string {
	switch r {
	case ResetPowerOn:
		return "power_on"
	case ResetExternal:
		return "external"
	case ResetSoftware:
		return "software"
	case ResetPanic:
		return "panic"
	case ResetWatchdog:
		return "watchdog"
	case ResetDeepSleep:
		return "deep_sleep"
	case ResetBrownout:
		return "brownout"
	default:
		return "unknown"
	}
}

// WakeReason is the wake source that ended the last deep sleep
type WakeReason uint8

const (
	WakeUndefined WakeReason = iota
	WakeTimer
	WakeExternal
	WakeTouch
	WakeULP
)

func (w WakeReason) String() string {
	switch w {
	case WakeTimer:
		return "timer"
	case WakeExternal:
		return "external"
	case WakeTouch:
		return "touch"
	case WakeULP:
		return "ulp"
	default:
		return "undefined"
	}
}

// WakeSourceKind selects the hardware that ends deep sleep
type WakeSourceKind uint8

const (
	WakeSourceTimer WakeSourceKind = iota + 1
)

// WakeSource is one configured way out of deep sleep
type WakeSource struct {
	Kind  WakeSourceKind
	After time.Duration
}

// TimerWake wakes the node after d
func TimerWake(d time.Duration) WakeSource {
	return WakeSource{Kind: WakeSourceTimer, After: d}
}

// Boot describes the current boot as reported by the wake hardware
type Boot struct {
	ID          uuid.UUID
	Started     time.Time
	ResetReason ResetReason
	WakeReason  WakeReason
}

// NewBoot stamps a boot with a fresh ID
func NewBoot(reset ResetReason, wake WakeReason) Boot {
	return Boot{
		ID:          uuid.New(),
		Started:     time.Now(),
		ResetReason: reset,
		WakeReason:  wake,
	}
}

// WakeCycle summarizes one boot at the point it goes to sleep
type WakeCycle struct {
	BootID         uuid.UUID
	ActiveDuration time.Duration
	ResetReason    ResetReason
	WakeReason     WakeReason
	NextSleep      time.Duration
}

// ErrNoWakeSource is returned when deep sleep is requested without a way out
var ErrNoWakeSource = errors.New("no wake source configured")

// Sleeper puts the device into deep sleep. On hardware SleepDeep never
// returns; host implementations end the node run instead.
type Sleeper interface {
	SleepDeep(ctx context.Context, cycle WakeCycle, sources []WakeSource) error
}

// HookSleeper hands the cycle to a callback. The callback is expected to
// tear the node down.
type HookSleeper struct {
	hook func(WakeCycle)
}

// NewHookSleeper creates a sleeper that calls hook
func NewHookSleeper(hook func(WakeCycle)) *HookSleeper {
	return &HookSleeper{hook: hook}
}

// SleepDeep implements Sleeper
func (h *HookSleeper) SleepDeep(_ context.Context, cycle WakeCycle, sources []WakeSource) error {
	if err := validateSources(sources); err != nil {
		return err
	}
	h.hook(cycle)
	return nil
}

func validateSources(sources []WakeSource) error {
	if len(sources) == 0 {
		return ErrNoWakeSource
	}
	for _, s := range sources {
		if s.Kind == WakeSourceTimer && s.After <= 0 {
			return fmt.Errorf("timer wake source: invalid duration %s", s.After)
		}
	}
	return nil
}

// nextSleep is the longest timer among sources
func nextSleep(sources []WakeSource) time.Duration {
	var d time.Duration
	for _, s := range sources {
		if s.Kind == WakeSourceTimer && s.After > d {
			d = s.After
		}
	}
	return d
}
