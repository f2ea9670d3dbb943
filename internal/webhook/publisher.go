// Package webhook publishes the node status to an HTTPS webhook, one
// fresh connection per cycle.
package webhook

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"text/template"
	"time"

	"github.com/rs/zerolog"

	"github.com/agsys/field-node/internal/executor"
	"github.com/agsys/field-node/internal/netstack"
)

var (
	// ErrNotReady is recorded for cycles skipped because the network is down
	ErrNotReady = errors.New("network not ready")
	// ErrWebhookStatus is returned for non-2xx responses
	ErrWebhookStatus = errors.New("webhook returned non-2xx status")
)

// Stage is how far a publish attempt got
type Stage uint8

const (
	StageSkipped Stage = iota
	StagePrepare
	StageResolve
	StageConnect
	StageSend
	StageDelivered
)

func (s Stage) String() string {
	switch s {
	case StageSkipped:
		return "skipped"
	case StagePrepare:
		return "prepare"
	case StageResolve:
		return "resolve"
	case StageConnect:
		return "connect"
	case StageSend:
		return "send"
	case StageDelivered:
		return "delivered"
	default:
		return fmt.Sprintf("stage(%d)", uint8(s))
	}
}

// Attempt is the outcome of one publish cycle. Err is nil only when the
// stage is StageDelivered.
type Attempt struct {
	Address    netip.Addr
	Stage      Stage
	StatusCode int
	Duration   time.Duration
	Err        error
}

// Config holds publisher configuration
type Config struct {
	Host           string
	Path           string
	Port           uint16
	VerifyTLS      bool
	ConnectTimeout time.Duration
	Interval       time.Duration
	Template       string
}

// DefaultConfig returns default publisher configuration
func DefaultConfig() Config {
	return Config{
		Port:           443,
		VerifyTLS:      true,
		ConnectTimeout: 10 * time.Second,
		Interval:       time.Second,
		Template:       DiscordTemplate,
	}
}

// Option configures a Publisher
type Option func(*Publisher)

// WithObserver registers a callback for every attempt
func WithObserver(fn func(Attempt)) Option {
	return func(p *Publisher) {
		p.observer = fn
	}
}

// WithRootCAs replaces the system roots used when verifying the server
func WithRootCAs(pool *x509.CertPool) Option {
	return func(p *Publisher) {
		p.rootCAs = pool
	}
}

// Publisher sends the status message every cycle
type Publisher struct {
	config   Config
	stack    netstack.Stack
	gate     *netstack.Gate
	source   StatusSource
	logger   zerolog.Logger
	observer func(Attempt)
	rootCAs  *x509.CertPool
	tmpl     *template.Template
}

// New creates a publisher. The body template is compiled here so a bad
// template fails at startup rather than every cycle.
func New(stack netstack.Stack, gate *netstack.Gate, config Config, source StatusSource, logger zerolog.Logger, opts ...Option) (*Publisher, error) {
	if config.Host == "" {
		return nil, errors.New("webhook host is required")
	}
	def := DefaultConfig()
	if config.Port == 0 {
		config.Port = def.Port
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = def.ConnectTimeout
	}
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.Path == "" {
		config.Path = "/"
	}

	tmpl, err := parseTemplate(config.Template)
	if err != nil {
		return nil, err
	}

	p := &Publisher{
		config: config,
		stack:  stack,
		gate:   gate,
		source: source,
		logger: logger.With().Str("component", "webhook").Logger(),
		tmpl:   tmpl,
	}
	if p.source == nil {
		p.source = func() Status {
			return Status{Level: Info, Title: "Status", Message: "hello"}
		}
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Run publishes until ctx is done. The first cycle blocks until the network
// is ready; later cycles are skipped while it is not.
func (p *Publisher) Run(ctx context.Context, s executor.Suspender) error {
	cfg, err := p.gate.WaitReady(ctx, s)
	if err != nil {
		return err
	}

	dns := make([]string, 0, len(cfg.DNSServers))
	for _, server := range cfg.DNSServers {
		dns = append(dns, server.String())
	}
	p.logger.Info().
		Stringer("address", cfg.Address).
		Strs("dns_servers", dns).
		Msg("Got IP")

	first := true
	for {
		if first || p.gate.Ready() {
			p.report(p.PublishOnce(ctx, s))
		} else {
			p.report(Attempt{Stage: StageSkipped, Err: ErrNotReady})
		}
		first = false

		if err := s.Sleep(ctx, p.config.Interval); err != nil {
			return err
		}
	}
}

// PublishOnce performs one resolve/connect/send exchange on a fresh socket.
// It never retries; every failure is returned in the Attempt.
func (p *Publisher) PublishOnce(ctx context.Context, s executor.Suspender) Attempt {
	start := time.Now()
	a := p.publish(ctx, s)
	a.Duration = time.Since(start)
	return a
}

func (p *Publisher) publish(ctx context.Context, s executor.Suspender) Attempt {
	a := Attempt{Stage: StagePrepare}

	body, err := renderPayload(p.tmpl, p.source())
	if err != nil {
		a.Err = fmt.Errorf("failed to prepare payload: %w", err)
		return a
	}

	a.Stage = StageResolve
	var addrs []netip.Addr
	err = s.Await(ctx, func(ctx context.Context) error {
		var err error
		addrs, err = p.stack.DNSQuery(ctx, p.config.Host, netstack.QueryA)
		return err
	})
	if err == nil && len(addrs) == 0 {
		err = netstack.ErrNoRecords
	}
	if err != nil {
		a.Err = fmt.Errorf("resolve %s: %w", p.config.Host, err)
		return a
	}
	a.Address = addrs[0]

	a.Stage = StageConnect
	var conn *tls.Conn
	err = s.Await(ctx, func(ctx context.Context) error {
		var err error
		conn, err = p.connect(ctx, netip.AddrPortFrom(a.Address, p.config.Port))
		return err
	})
	if err != nil {
		a.Err = err
		return a
	}
	defer conn.Close()

	a.Stage = StageSend
	err = s.Await(ctx, func(ctx context.Context) error {
		var err error
		a.StatusCode, err = p.exchange(ctx, conn, body)
		return err
	})
	if err != nil {
		a.Err = err
		return a
	}

	a.Stage = StageDelivered
	return a
}

// connect opens the TCP socket and completes the TLS handshake within the
// connect timeout. After that the timeout applies to each read and write.
func (p *Publisher) connect(ctx context.Context, addr netip.AddrPort) (*tls.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, p.config.ConnectTimeout)
	defer cancel()

	raw, err := p.stack.Dial(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", addr, err)
	}

	conn := tls.Client(&idleConn{Conn: raw, timeout: p.config.ConnectTimeout}, &tls.Config{
		ServerName:         p.config.Host,
		InsecureSkipVerify: !p.config.VerifyTLS,
		RootCAs:            p.rootCAs,
		MinVersion:         tls.VersionTLS12,
	})
	if err := conn.HandshakeContext(ctx); err != nil {
		raw.Close()
		return nil, fmt.Errorf("tls handshake with %s: %w", addr, err)
	}
	return conn, nil
}

// exchange writes one POST and reads and discards the reply
func (p *Publisher) exchange(ctx context.Context, conn net.Conn, body []byte) (int, error) {
	url := fmt.Sprintf("https://%s%s", p.config.Host, p.config.Path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Close = true

	if err := req.Write(conn); err != nil {
		return 0, fmt.Errorf("failed to send webhook: %w", err)
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		return 0, fmt.Errorf("failed to read response: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, fmt.Errorf("%w: status=%d", ErrWebhookStatus, resp.StatusCode)
	}
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, nil
}

// idleConn pushes the deadline forward before every read and write, so
// the timeout only fires when the peer stops making progress.
type idleConn struct {
	net.Conn
	timeout time.Duration
}

func (c *idleConn) Read(b []byte) (int, error) {
	if err := c.Conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Read(b)
}

func (c *idleConn) Write(b []byte) (int, error) {
	if err := c.Conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Write(b)
}

func (p *Publisher) report(a Attempt) {
	if p.observer != nil {
		p.observer(a)
	}

	switch {
	case a.Stage == StageSkipped:
		p.logger.Debug().Msg("Network not ready, skipping publish")
	case a.Err != nil:
		p.logger.Warn().Err(a.Err).Stringer("stage", a.Stage).Msg("Publish aborted")
	default:
		p.logger.Info().
			Stringer("address", a.Address).
			Int("status", a.StatusCode).
			Dur("duration", a.Duration).
			Msg("Status published")
	}
}
