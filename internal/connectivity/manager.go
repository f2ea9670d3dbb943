package connectivity

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/agsys/field-node/internal/executor"
)

// ClientConfig holds the station credentials pushed to the radio
type ClientConfig struct {
	SSID     string
	Password string
}

// RadioEvent is an asynchronous notification from the radio driver
type RadioEvent uint8

const (
	RadioEventStaStarted RadioEvent = iota + 1
	RadioEventStaConnected
	RadioEventStaDisconnected
)

func (e RadioEvent) String() string {
	switch e {
	case RadioEventStaStarted:
		return "sta_start"
	case RadioEventStaConnected:
		return "sta_connected"
	case RadioEventStaDisconnected:
		return "sta_disconnected"
	default:
		return "unknown"
	}
}

// Radio is the radio controller the manager owns exclusively
type Radio interface {
	Capabilities(ctx context.Context) ([]string, error)
	IsStarted(ctx context.Context) (bool, error)
	SetConfiguration(ctx context.Context, cfg ClientConfig) error
	Start(ctx context.Context) error
	Connect(ctx context.Context) error
	WaitForEvent(ctx context.Context, ev RadioEvent) error
}

// Config holds connectivity configuration
type Config struct {
	SSID     string
	Password string
	Backoff  time.Duration // fixed delay after any failure or link loss
}

// DefaultConfig returns default connectivity configuration
func DefaultConfig() Config {
	return Config{
		Backoff: 5000 * time.Millisecond,
	}
}

// Observer is told about every accepted transition
type Observer func(from, to State, ev Event)

// Option configures a Manager
type Option func(*Manager)

// WithObserver registers a transition observer
func WithObserver(obs Observer) Option {
	return func(m *Manager) {
		m.observer = obs
	}
}

// Manager runs the connection state machine. Its state is only touched by
// the task running Run.
type Manager struct {
	config   Config
	radio    Radio
	logger   zerolog.Logger
	state    State
	backoff  backoff.BackOff
	observer Observer
}

// NewManager creates a manager in the Disconnected state
func NewManager(radio Radio, config Config, logger zerolog.Logger, opts ...Option) *Manager {
	if config.Backoff <= 0 {
		config.Backoff = DefaultConfig().Backoff
	}

	m := &Manager{
		config:  config,
		radio:   radio,
		logger:  logger.With().Str("component", "connectivity").Logger(),
		state:   Disconnected,
		backoff: backoff.NewConstantBackOff(config.Backoff),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run drives the radio for the lifetime of the node. Failures are logged and
// retried after the fixed backoff; Run only returns when ctx is done.
func (m *Manager) Run(ctx context.Context, s executor.Suspender) error {
	m.logger.Info().Msg("Start connection task")

	var caps []string
	err := s.Await(ctx, func(ctx context.Context) error {
		var err error
		caps, err = m.radio.Capabilities(ctx)
		return err
	})
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		m.logger.Warn().Err(err).Msg("Failed to read radio capabilities")
	} else {
		m.logger.Info().Strs("capabilities", caps).Msg("Device capabilities")
	}

	for {
		if err := m.step(ctx, s); err != nil {
			return err
		}
	}
}

// step performs the I/O for the current state and applies the resulting event
func (m *Manager) step(ctx context.Context, s executor.Suspender) error {
	switch m.state {
	case Disconnected:
		m.fire(EventTick)

	case Starting:
		err := s.Await(ctx, m.ensureStarted)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			m.logger.Error().Err(err).Msg("Failed to start wifi")
			if err := m.wait(ctx, s); err != nil {
				return err
			}
			m.fire(EventStartFailed)
			return nil
		}
		m.fire(EventStartCompleted)

	case Associating:
		m.logger.Info().Str("ssid", m.config.SSID).Msg("About to connect...")
		err := s.Await(ctx, m.radio.Connect)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			m.logger.Error().Err(err).Msg("Failed to connect to wifi")
			if err := m.wait(ctx, s); err != nil {
				return err
			}
			m.fire(EventConnectFailed)
			return nil
		}
		m.logger.Info().Msg("Wifi connected!")
		m.backoff.Reset()
		m.fire(EventConnectSucceeded)

	case Connected:
		err := s.Await(ctx, func(ctx context.Context) error {
			return m.radio.WaitForEvent(ctx, RadioEventStaDisconnected)
		})
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			m.logger.Warn().Err(err).Msg("Lost radio event stream, assuming disconnected")
		} else {
			m.logger.Warn().Msg("Wifi disconnected")
		}
		if err := m.wait(ctx, s); err != nil {
			return err
		}
		m.fire(EventLinkLost)
	}

	return nil
}

// ensureStarted configures and starts the radio unless it is already running
func (m *Manager) ensureStarted(ctx context.Context) error {
	started, err := m.radio.IsStarted(ctx)
	if err != nil {
		return err
	}
	if started {
		return nil
	}

	cfg := ClientConfig{SSID: m.config.SSID, Password: m.config.Password}
	if err := m.radio.SetConfiguration(ctx, cfg); err != nil {
		return err
	}

	m.logger.Info().Msg("Starting wifi")
	if err := m.radio.Start(ctx); err != nil {
		return err
	}
	m.logger.Info().Msg("Wifi started!")
	return nil
}

func (m *Manager) wait(ctx context.Context, s executor.Suspender) error {
	d := m.backoff.NextBackOff()
	if d == backoff.Stop {
		d = m.config.Backoff
	}
	return s.Sleep(ctx, d)
}

func (m *Manager) fire(ev Event) {
	next, err := Transition(m.state, ev)
	if err != nil {
		m.logger.Error().Err(err).Msg("Rejected connectivity event")
		return
	}

	m.logger.Debug().
		Stringer("from", m.state).
		Stringer("to", next).
		Stringer("event", ev).
		Msg("Connectivity transition")

	prev := m.state
	m.state = next
	if m.observer != nil {
		m.observer(prev, next, ev)
	}
}
