package main

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/agsys/field-node/internal/engine"
	"github.com/agsys/field-node/internal/metrics"
	"github.com/agsys/field-node/internal/netstack"
	"github.com/agsys/field-node/internal/power"
	"github.com/agsys/field-node/internal/radio"
	"github.com/agsys/field-node/internal/sensor"
)

// hardwareOpener brings up the device collaborators for one boot
type hardwareOpener func(cfg *Config, logger zerolog.Logger) (engine.Hardware, func(), error)

// booter plays the part of the wake hardware: every deep sleep ends the
// engine, and after the sleep duration a brand-new engine boots.
type booter struct {
	config  *Config
	logger  zerolog.Logger
	metrics *metrics.Metrics
	open    hardwareOpener
	once    bool
}

func (b *booter) loop(ctx context.Context) error {
	reset, wake := power.ResetPowerOn, power.WakeUndefined

	for {
		cycle, err := b.boot(ctx, power.NewBoot(reset, wake))
		if err != nil {
			return err
		}
		if cycle == nil || b.once {
			return nil
		}

		b.logger.Info().Dur("duration", cycle.NextSleep).Msg("Sleeping")
		timer := time.NewTimer(cycle.NextSleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		reset, wake = power.ResetDeepSleep, power.WakeTimer
	}
}

func (b *booter) boot(ctx context.Context, boot power.Boot) (*power.WakeCycle, error) {
	config := b.config.engineConfig()

	hw, closeHW, err := b.openHardware(ctx, config.Connectivity.Backoff)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open hardware: %w", err)
	}
	defer closeHW()

	eng, err := engine.New(config, hw, boot, b.logger, engine.WithMetrics(b.metrics))
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	return eng.Run(ctx)
}

// openHardware keeps trying to bring the hardware up, pausing delay between
// attempts, until it succeeds or ctx ends.
func (b *booter) openHardware(ctx context.Context, delay time.Duration) (engine.Hardware, func(), error) {
	var (
		hw      engine.Hardware
		closeHW func()
	)
	policy := backoff.WithContext(backoff.NewConstantBackOff(delay), ctx)
	err := backoff.RetryNotify(func() error {
		var err error
		hw, closeHW, err = b.open(b.config, b.logger)
		return err
	}, policy, func(err error, next time.Duration) {
		b.logger.Warn().Err(err).Dur("retry_in", next).Msg("Failed to open hardware, retrying")
	})
	if err != nil {
		return engine.Hardware{}, nil, err
	}
	return hw, closeHW, nil
}

func openHardware(cfg *Config, logger zerolog.Logger) (engine.Hardware, func(), error) {
	ctrl := radio.New(cfg.radioConfig(), logger)
	if err := ctrl.Open(); err != nil {
		return engine.Hardware{}, nil, err
	}

	hw := engine.Hardware{
		Radio: ctrl,
		Stack: netstack.NewHostStack(cfg.hostConfig()),
	}

	switch cfg.Sensors.Environmental {
	case "", "sim":
		hw.Environmental = sensor.NewSimEnvironment(0)
	}
	switch cfg.Sensors.Soil {
	case "", "sim":
		hw.Probe = sensor.NewSimProbe(0)
	case "iio":
		hw.Probe = sensor.NewIIOProbe(cfg.Sensors.IIOPath)
	}

	return hw, func() { _ = ctrl.Close() }, nil
}
