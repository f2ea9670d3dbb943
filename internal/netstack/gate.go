package netstack

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/agsys/field-node/internal/executor"
)

// DefaultPollInterval is the delay between readiness polls
const DefaultPollInterval = 500 * time.Millisecond

// Gate lets tasks wait until the network is usable
type Gate struct {
	stack  Stack
	poll   time.Duration
	logger zerolog.Logger
}

// NewGate creates a readiness gate over the shared stack
func NewGate(stack Stack, poll time.Duration, logger zerolog.Logger) *Gate {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &Gate{
		stack:  stack,
		poll:   poll,
		logger: logger.With().Str("component", "readiness").Logger(),
	}
}

// Ready reports whether link and address configuration are both up right now
func (g *Gate) Ready() bool {
	r, _ := Status(g.stack)
	return r == Ready
}

// WaitReady suspends until the link is up and then until address
// configuration completes. There is no upper bound on the wait.
func (g *Gate) WaitReady(ctx context.Context, s executor.Suspender) (Config, error) {
	for {
		for !g.stack.IsLinkUp() {
			if err := s.Sleep(ctx, g.poll); err != nil {
				return Config{}, err
			}
		}

		g.logger.Info().Msg("Waiting to get IP address...")
		for {
			r, cfg := Status(g.stack)
			if r == Ready {
				return cfg, nil
			}
			if r == LinkDown {
				g.logger.Warn().Msg("Link went down while waiting for address")
				break
			}
			if err := s.Sleep(ctx, g.poll); err != nil {
				return Config{}, err
			}
		}
	}
}

// Run logs readiness changes until ctx is done
func (g *Gate) Run(ctx context.Context, s executor.Suspender) error {
	last := Readiness(255)
	for {
		r, cfg := Status(g.stack)
		if r != last {
			ev := g.logger.Info().Stringer("readiness", r)
			if r == Ready {
				ev = ev.Stringer("address", cfg.Address).Int("dns_servers", len(cfg.DNSServers))
			}
			ev.Msg("Network readiness changed")
			last = r
		}

		if err := s.Sleep(ctx, g.poll); err != nil {
			return err
		}
	}
}

// Driver pumps the shared stack. It is the stack's only owner.
type Driver struct {
	stack  Stack
	logger zerolog.Logger
}

// NewDriver creates the stack pump
func NewDriver(stack Stack, logger zerolog.Logger) *Driver {
	return &Driver{
		stack:  stack,
		logger: logger.With().Str("component", "netstack").Logger(),
	}
}

// Run drives packet I/O until ctx is done. The pump is restarted if it
// returns early; socket errors belong to the callers that own the sockets.
func (d *Driver) Run(ctx context.Context, s executor.Suspender) error {
	for {
		err := s.Await(ctx, d.stack.Run)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		d.logger.Warn().Err(err).Msg("Network stack pump exited, restarting")

		if err := s.Sleep(ctx, time.Second); err != nil {
			return err
		}
	}
}
