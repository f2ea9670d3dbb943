package power

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/agsys/field-node/internal/executor"
)

// Config holds sleep coordinator timing
type Config struct {
	ActiveWindow time.Duration // uptime before each deep sleep request
	SleepFor     time.Duration // timer wake source duration
}

// DefaultConfig returns default coordinator configuration
func DefaultConfig() Config {
	return Config{
		ActiveWindow: 60 * time.Second,
		SleepFor:     600 * time.Second,
	}
}

// Coordinator requests deep sleep once the active window has elapsed
type Coordinator struct {
	config  Config
	boot    Boot
	sleeper Sleeper
	logger  zerolog.Logger
}

// NewCoordinator creates a sleep coordinator for the current boot
func NewCoordinator(boot Boot, sleeper Sleeper, config Config, logger zerolog.Logger) *Coordinator {
	def := DefaultConfig()
	if config.ActiveWindow <= 0 {
		config.ActiveWindow = def.ActiveWindow
	}
	if config.SleepFor <= 0 {
		config.SleepFor = def.SleepFor
	}
	return &Coordinator{
		config:  config,
		boot:    boot,
		sleeper: sleeper,
		logger:  logger.With().Str("component", "sleep").Logger(),
	}
}

// Run waits out the active window, logs the boot causes and requests deep
// sleep. A rejected request is retried after another window.
func (c *Coordinator) Run(ctx context.Context, s executor.Suspender) error {
	sources := []WakeSource{TimerWake(c.config.SleepFor)}

	for {
		if err := s.Sleep(ctx, c.config.ActiveWindow); err != nil {
			return err
		}

		cycle := c.Cycle(sources)
		c.logger.Info().
			Str("boot_id", cycle.BootID.String()).
			Stringer("reset_reason", cycle.ResetReason).
			Stringer("wake_reason", cycle.WakeReason).
			Dur("active", cycle.ActiveDuration).
			Dur("sleep", cycle.NextSleep).
			Msg("Entering deep sleep")

		if err := c.sleeper.SleepDeep(ctx, cycle, sources); err != nil {
			c.logger.Error().Err(err).Msg("Deep sleep request failed")
			continue
		}
		return nil
	}
}

// Cycle summarizes the boot so far
func (c *Coordinator) Cycle(sources []WakeSource) WakeCycle {
	return WakeCycle{
		BootID:         c.boot.ID,
		ActiveDuration: time.Since(c.boot.Started),
		ResetReason:    c.boot.ResetReason,
		WakeReason:     c.boot.WakeReason,
		NextSleep:      nextSleep(sources),
	}
}
