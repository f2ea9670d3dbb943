// Package engine wires the field node's tasks together for one boot:
// connectivity, the network stack pump and readiness monitor, sensor
// sampling, status publishing and the sleep coordinator.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/agsys/field-node/internal/connectivity"
	"github.com/agsys/field-node/internal/executor"
	"github.com/agsys/field-node/internal/metrics"
	"github.com/agsys/field-node/internal/netstack"
	"github.com/agsys/field-node/internal/power"
	"github.com/agsys/field-node/internal/sensor"
	"github.com/agsys/field-node/internal/webhook"
)

// Task names
const (
	TaskConnection = "connection"
	TaskNet        = "net"
	TaskMonitor    = "netmonitor"
	TaskSampler    = "sampler"
	TaskWebhook    = "webhook"
	TaskSleep      = "sleep"
)

// Config holds engine configuration
type Config struct {
	NodeID          string
	NodeName        string
	FirmwareVersion string
	Connectivity    connectivity.Config
	ReadinessPoll   time.Duration
	Sampler         sensor.Config
	Webhook         webhook.Config
	Sleep           power.Config
}

// DefaultConfig returns default engine configuration
func DefaultConfig() Config {
	return Config{
		NodeName:        "field-node",
		FirmwareVersion: "1.0.0",
		Connectivity:    connectivity.DefaultConfig(),
		ReadinessPoll:   netstack.DefaultPollInterval,
		Sampler:         sensor.DefaultConfig(),
		Webhook:         webhook.DefaultConfig(),
		Sleep:           power.DefaultConfig(),
	}
}

// Hardware is the set of device collaborators one boot drives. Either
// sensor may be nil when it is not fitted.
type Hardware struct {
	Radio         connectivity.Radio
	Stack         netstack.Stack
	Environmental sensor.Environmental
	Probe         sensor.MoistureProbe
}

// Option configures an Engine
type Option func(*Engine)

// WithMetrics shares a metrics set instead of a per-boot one
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithPublisherOptions passes options through to the webhook publisher
func WithPublisherOptions(opts ...webhook.Option) Option {
	return func(e *Engine) {
		e.publisherOpts = append(e.publisherOpts, opts...)
	}
}

// Engine is one boot of the node
type Engine struct {
	config  Config
	hw      Hardware
	boot    power.Boot
	logger  zerolog.Logger
	metrics *metrics.Metrics

	publisherOpts []webhook.Option

	executor  *executor.Executor
	manager   *connectivity.Manager
	gate      *netstack.Gate
	sampler   *sensor.Sampler
	publisher *webhook.Publisher
	sleeper   *power.Coordinator

	link atomic.Int32 // last connectivity.State

	mu     sync.Mutex
	cancel context.CancelFunc
	cycle  *power.WakeCycle
	used   bool
}

// New creates the engine and registers its tasks
func New(config Config, hw Hardware, boot power.Boot, logger zerolog.Logger, opts ...Option) (*Engine, error) {
	if hw.Radio == nil {
		return nil, errors.New("radio is required")
	}
	if hw.Stack == nil {
		return nil, errors.New("network stack is required")
	}

	e := &Engine{
		config: config,
		hw:     hw,
		boot:   boot,
		logger: logger.With().Str("boot_id", boot.ID.String()).Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = metrics.New()
	}
	e.link.Store(int32(connectivity.Disconnected))

	e.executor = executor.New(e.logger, executor.WithExitHook(func(task string, _ error) {
		e.metrics.ObserveTaskExit(task)
	}))

	e.manager = connectivity.NewManager(hw.Radio, config.Connectivity, e.logger,
		connectivity.WithObserver(e.observeTransition))

	e.gate = netstack.NewGate(hw.Stack, config.ReadinessPoll, e.logger)

	e.sampler = sensor.NewSampler(hw.Environmental, hw.Probe, config.Sampler, e.logger,
		sensor.WithReadObserver(e.metrics.ObserveRead))

	pubOpts := append([]webhook.Option{webhook.WithObserver(func(a webhook.Attempt) {
		e.metrics.ObservePublish(a.Stage.String(), a.Err)
	})}, e.publisherOpts...)
	publisher, err := webhook.New(hw.Stack, e.gate, config.Webhook, e.status, e.logger, pubOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create webhook publisher: %w", err)
	}
	e.publisher = publisher

	e.sleeper = power.NewCoordinator(boot, power.NewHookSleeper(e.enterSleep), config.Sleep, e.logger)

	tasks := []struct {
		name string
		fn   executor.TaskFunc
	}{
		{TaskConnection, e.manager.Run},
		{TaskNet, netstack.NewDriver(hw.Stack, e.logger).Run},
		{TaskMonitor, e.gate.Run},
		{TaskSampler, e.sampler.Run},
		{TaskWebhook, e.publisher.Run},
		{TaskSleep, e.sleeper.Run},
	}
	for _, t := range tasks {
		if err := e.executor.Spawn(t.name, t.fn); err != nil {
			return nil, err
		}
	}

	return e, nil
}

// Run executes the boot until deep sleep is requested or ctx is done. The
// wake cycle is nil when the run was cancelled from outside.
func (e *Engine) Run(ctx context.Context) (*power.WakeCycle, error) {
	e.mu.Lock()
	if e.used {
		e.mu.Unlock()
		return nil, errors.New("engine already ran; boot a new one")
	}
	e.used = true
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.mu.Unlock()
	defer cancel()

	e.logger.Info().
		Str("node_id", e.config.NodeID).
		Str("version", e.config.FirmwareVersion).
		Stringer("reset_reason", e.boot.ResetReason).
		Stringer("wake_reason", e.boot.WakeReason).
		Msg("Node booting")

	if err := e.executor.Run(ctx); err != nil {
		return nil, err
	}
	e.metrics.LogSummary(e.logger)

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cycle, nil
}

// Metrics returns the counters this engine records into
func (e *Engine) Metrics() *metrics.Metrics {
	return e.metrics
}

// LinkState returns the last connectivity state
func (e *Engine) LinkState() connectivity.State {
	return connectivity.State(e.link.Load())
}

func (e *Engine) observeTransition(from, to connectivity.State, ev connectivity.Event) {
	e.link.Store(int32(to))
	e.metrics.ObserveTransition(from.String(), to.String(), ev.String())
}

// enterSleep is the terminal deep-sleep hook: it records the cycle and
// tears every task down.
func (e *Engine) enterSleep(cycle power.WakeCycle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cycle = &cycle
	if e.cancel != nil {
		e.cancel()
	}
}
