// Package radio drives the station radio through the radio daemon.
// The daemon is reached over two ZeroMQ sockets: a REQ socket for commands
// and a SUB socket for asynchronous station events.
package radio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/rs/zerolog"

	"github.com/agsys/field-node/internal/connectivity"
	"github.com/agsys/field-node/internal/radio/wire"
)

var (
	ErrClosed         = errors.New("radio controller closed")
	ErrRequestTimeout = errors.New("radio daemon did not reply")
	ErrCommandFailed  = errors.New("radio command failed")
)

// Config holds the radio daemon connection settings
type Config struct {
	EventURL       string // SUB socket for station events
	CommandURL     string // REQ socket for commands
	RequestTimeout time.Duration
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		EventURL:       "ipc:///tmp/agsys_radio_event",
		CommandURL:     "ipc:///tmp/agsys_radio_command",
		RequestTimeout: 30 * time.Second,
	}
}

// Controller implements connectivity.Radio over the daemon sockets
type Controller struct {
	config Config
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex // serializes the REQ/REP lockstep
	cmdSock   zmq4.Socket
	eventSock zmq4.Socket
	events    chan wire.Event
}

var _ connectivity.Radio = (*Controller)(nil)

// New creates a controller. Call Open before use.
func New(config Config, logger zerolog.Logger) *Controller {
	def := DefaultConfig()
	if config.EventURL == "" {
		config.EventURL = def.EventURL
	}
	if config.CommandURL == "" {
		config.CommandURL = def.CommandURL
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = def.RequestTimeout
	}

	return &Controller{
		config: config,
		logger: logger.With().Str("component", "radio").Logger(),
		events: make(chan wire.Event, 16),
	}
}

// Open connects both sockets and starts the event loop
func (c *Controller) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ctx != nil {
		return fmt.Errorf("controller already open")
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	c.eventSock = zmq4.NewSub(c.ctx)
	if err := c.eventSock.Dial(c.config.EventURL); err != nil {
		c.eventSock.Close()
		c.cancel()
		return fmt.Errorf("failed to connect event socket: %w", err)
	}
	if err := c.eventSock.SetOption(zmq4.OptionSubscribe, ""); err != nil {
		c.eventSock.Close()
		c.cancel()
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	if err := c.dialCommand(); err != nil {
		c.eventSock.Close()
		c.cancel()
		return err
	}

	c.wg.Add(1)
	go c.eventLoop()

	c.logger.Info().
		Str("event_url", c.config.EventURL).
		Str("command_url", c.config.CommandURL).
		Msg("Radio controller started")
	return nil
}

// Close stops the event loop and closes the sockets
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.cancel == nil {
		c.mu.Unlock()
		return nil
	}
	c.cancel()
	if c.eventSock != nil {
		c.eventSock.Close()
	}
	if c.cmdSock != nil {
		c.cmdSock.Close()
		c.cmdSock = nil
	}
	c.mu.Unlock()

	c.wg.Wait()
	c.logger.Info().Msg("Radio controller stopped")
	return nil
}

// Capabilities implements connectivity.Radio
func (c *Controller) Capabilities(ctx context.Context) ([]string, error) {
	payload, err := c.request(ctx, wire.CmdCapabilities, nil)
	if err != nil {
		return nil, err
	}
	return wire.UnmarshalCapabilities(payload)
}

// Status queries the radio state
func (c *Controller) Status(ctx context.Context) (wire.RadioStatus, error) {
	payload, err := c.request(ctx, wire.CmdStatus, nil)
	if err != nil {
		return wire.RadioStatus{}, err
	}
	return wire.UnmarshalStatus(payload)
}

// IsStarted implements connectivity.Radio
func (c *Controller) IsStarted(ctx context.Context) (bool, error) {
	st, err := c.Status(ctx)
	if err != nil {
		return false, err
	}
	return st.Started, nil
}

// SetConfiguration implements connectivity.Radio
func (c *Controller) SetConfiguration(ctx context.Context, cfg connectivity.ClientConfig) error {
	payload, err := wire.MarshalClientConfig(wire.ClientConfig{SSID: cfg.SSID, Password: cfg.Password})
	if err != nil {
		return fmt.Errorf("failed to marshal client config: %w", err)
	}
	_, err = c.request(ctx, wire.CmdConfig, payload)
	return err
}

// Start implements connectivity.Radio
func (c *Controller) Start(ctx context.Context) error {
	_, err := c.request(ctx, wire.CmdStart, nil)
	return err
}

// Connect implements connectivity.Radio. Events queued before the request
// belong to an earlier association and are dropped.
func (c *Controller) Connect(ctx context.Context) error {
	c.drainEvents()
	_, err := c.request(ctx, wire.CmdConnect, nil)
	return err
}

// WaitForEvent implements connectivity.Radio
func (c *Controller) WaitForEvent(ctx context.Context, ev connectivity.RadioEvent) error {
	want := topicFor(ev)
	if want == "" {
		return fmt.Errorf("unsupported radio event %s", ev)
	}

	for {
		select {
		case got, ok := <-c.events:
			if !ok {
				return ErrClosed
			}
			if got.Topic == want {
				if got.Reason != 0 {
					c.logger.Info().Str("event", got.Topic).Uint16("reason", got.Reason).Msg("Radio event")
				}
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func topicFor(ev connectivity.RadioEvent) string {
	switch ev {
	case connectivity.RadioEventStaStarted:
		return wire.TopicStaStart
	case connectivity.RadioEventStaConnected:
		return wire.TopicStaConnected
	case connectivity.RadioEventStaDisconnected:
		return wire.TopicStaDisconnected
	default:
		return ""
	}
}

func (c *Controller) drainEvents() {
	for {
		select {
		case <-c.events:
		default:
			return
		}
	}
}

// request performs one command exchange. A timed out exchange leaves the
// REQ socket mid-cycle, so the socket is replaced.
func (c *Controller) request(ctx context.Context, cmd string, payload []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cmdSock == nil {
		return nil, ErrClosed
	}
	sock := c.cmdSock

	type result struct {
		msg zmq4.Msg
		err error
	}
	done := make(chan result, 1)
	go func() {
		if err := sock.Send(zmq4.NewMsgFrom([]byte(cmd), payload)); err != nil {
			done <- result{err: fmt.Errorf("failed to send command: %w", err)}
			return
		}
		msg, err := sock.Recv()
		if err != nil {
			err = fmt.Errorf("failed to receive response: %w", err)
		}
		done <- result{msg: msg, err: err}
	}()

	timer := time.NewTimer(c.config.RequestTimeout)
	defer timer.Stop()

	var r result
	select {
	case r = <-done:
	case <-timer.C:
		c.resetCommand()
		return nil, fmt.Errorf("%s: %w", cmd, ErrRequestTimeout)
	case <-ctx.Done():
		c.resetCommand()
		return nil, ctx.Err()
	}

	if r.err != nil {
		c.resetCommand()
		return nil, fmt.Errorf("%s: %w", cmd, r.err)
	}
	if len(r.msg.Frames) == 0 {
		return nil, fmt.Errorf("%s: empty reply", cmd)
	}

	reply, err := wire.UnmarshalReply(r.msg.Frames[0])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cmd, err)
	}
	if reply.Status != wire.StatusOK {
		return nil, fmt.Errorf("%s: %w: %s", cmd, ErrCommandFailed, reply.Status)
	}
	return reply.Payload, nil
}

func (c *Controller) dialCommand() error {
	sock := zmq4.NewReq(c.ctx)
	if err := sock.Dial(c.config.CommandURL); err != nil {
		return fmt.Errorf("failed to connect command socket: %w", err)
	}
	c.cmdSock = sock
	return nil
}

// resetCommand replaces the command socket. Caller holds c.mu.
func (c *Controller) resetCommand() {
	if c.cmdSock != nil {
		c.cmdSock.Close()
		c.cmdSock = nil
	}
	if c.ctx.Err() != nil {
		return
	}
	if err := c.dialCommand(); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to reconnect command socket")
	}
}

// eventLoop receives events from the daemon
func (c *Controller) eventLoop() {
	defer c.wg.Done()

	for {
		msg, err := c.eventSock.Recv()
		if err != nil {
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}

		if len(msg.Frames) < 1 {
			continue
		}
		var data []byte
		if len(msg.Frames) > 1 {
			data = msg.Frames[1]
		}

		ev, err := wire.UnmarshalEvent(string(msg.Frames[0]), data)
		if err != nil {
			c.logger.Debug().Err(err).Msg("Failed to unmarshal event")
			continue
		}
		c.logger.Debug().Str("event", ev.Topic).Msg("Radio event received")

		select {
		case c.events <- ev:
		default:
			// Full: drop the oldest to keep the latest link state.
			select {
			case <-c.events:
			default:
			}
			select {
			case c.events <- ev:
			default:
			}
		}
	}
}
