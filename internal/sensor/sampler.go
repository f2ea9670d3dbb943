package sensor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/agsys/field-node/internal/executor"
)

// Oversampling is the number of samples the sensor averages per measurement
type Oversampling uint8

const (
	OversampleSkip Oversampling = 0
	Oversample1    Oversampling = 1
	Oversample2    Oversampling = 2
	Oversample4    Oversampling = 4
	Oversample8    Oversampling = 8
	Oversample16   Oversampling = 16
)

// Mode is the environmental sensor power mode
type Mode uint8

const (
	ModeSleep Mode = iota
	ModeForced
	ModeNormal
)

// SamplingProfile configures the environmental sensor
type SamplingProfile struct {
	Temperature Oversampling
	Pressure    Oversampling
	Humidity    Oversampling
	Mode        Mode
}

// DefaultSamplingProfile samples every channel once in normal mode
func DefaultSamplingProfile() SamplingProfile {
	return SamplingProfile{
		Temperature: Oversample1,
		Pressure:    Oversample1,
		Humidity:    Oversample1,
		Mode:        ModeNormal,
	}
}

// Environmental is a combined temperature/humidity/pressure sensor driver.
// A read returns ok=false when the driver has no value for that channel.
type Environmental interface {
	Init() error
	Configure(profile SamplingProfile) error
	ReadTemperature() (celsius float64, ok bool, err error)
	ReadHumidity() (percent float64, ok bool, err error)
	ReadPressure() (hpa float64, ok bool, err error)
}

// MoistureProbe is an analog soil moisture probe
type MoistureProbe interface {
	ReadRawMoisture() (uint16, error)
}

// ProbeState describes the soil probe outcome of one cycle
type ProbeState uint8

const (
	ProbeOK ProbeState = iota + 1
	ProbeNotConnected
	ProbeFault
)

func (p ProbeState) String() string {
	switch p {
	case ProbeOK:
		return "ok"
	case ProbeNotConnected:
		return "not_connected"
	case ProbeFault:
		return "fault"
	default:
		return "absent"
	}
}

func (p ProbeState) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Reading is one sampling cycle. Absent fields had no data this cycle.
type Reading struct {
	SampledAt         time.Time         `json:"sampled_at"`
	Temperature       *float64          `json:"temperature_c,omitempty"`
	TemperatureStatus TemperatureStatus `json:"temperature_status,omitempty"`
	Humidity          *float64          `json:"humidity_pct,omitempty"`
	HumidityStatus    HumidityStatus    `json:"humidity_status,omitempty"`
	Pressure          *float64          `json:"pressure_hpa,omitempty"`
	PressureStatus    PressureStatus    `json:"pressure_status,omitempty"`
	SoilRaw           uint16            `json:"soil_raw,omitempty"`
	SoilMoisture      *float64          `json:"soil_moisture_pct,omitempty"`
	SoilStatus        SoilStatus        `json:"soil_status,omitempty"`
	SoilProbe         ProbeState        `json:"soil_probe"`
}

// Config holds sampler timing
type Config struct {
	Interval time.Duration
	Settle   time.Duration // one-time delay after sensor initialization
	Profile  SamplingProfile
}

// DefaultConfig returns default sampler configuration
func DefaultConfig() Config {
	return Config{
		Interval: 10 * time.Second,
		Settle:   5 * time.Second,
		Profile:  DefaultSamplingProfile(),
	}
}

// ReadObserver is told about every channel read; err is nil on success
type ReadObserver func(channel string, err error)

// Option configures a Sampler
type Option func(*Sampler)

// WithReadObserver registers a read observer
func WithReadObserver(obs ReadObserver) Option {
	return func(s *Sampler) {
		s.observer = obs
	}
}

// errNoData marks a read that succeeded without a value
var errNoData = errors.New("no data")

// Sampler periodically reads and classifies the sensors. Either driver may
// be nil when the hardware is not fitted.
type Sampler struct {
	config   Config
	env      Environmental
	probe    MoistureProbe
	logger   zerolog.Logger
	observer ReadObserver

	mu     sync.Mutex
	latest *Reading
}

// NewSampler creates a sampler
func NewSampler(env Environmental, probe MoistureProbe, config Config, logger zerolog.Logger, opts ...Option) *Sampler {
	def := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.Settle < 0 {
		config.Settle = 0
	}

	s := &Sampler{
		config: config,
		env:    env,
		probe:  probe,
		logger: logger.With().Str("component", "sampler").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run initializes the environmental sensor and samples until ctx is done.
// Initialization errors end this task; read errors never do.
func (s *Sampler) Run(ctx context.Context, sus executor.Suspender) error {
	if s.env != nil {
		if err := s.env.Init(); err != nil {
			return fmt.Errorf("init environmental sensor: %w", err)
		}
		if err := s.env.Configure(s.config.Profile); err != nil {
			return fmt.Errorf("configure environmental sensor: %w", err)
		}
		s.logger.Info().Msg("Environmental sensor configured")
	}

	if err := sus.Sleep(ctx, s.config.Settle); err != nil {
		return err
	}

	for {
		r := s.Sample()
		s.logReading(r)

		if err := sus.Sleep(ctx, s.config.Interval); err != nil {
			return err
		}
	}
}

// Sample performs one read-and-classify cycle
func (s *Sampler) Sample() Reading {
	r := Reading{SampledAt: time.Now().UTC()}

	if s.env != nil {
		if v, ok := s.readChannel("temperature", s.env.ReadTemperature); ok {
			r.Temperature = &v
			r.TemperatureStatus = ClassifyTemperature(v)
		}
		if v, ok := s.readChannel("humidity", s.env.ReadHumidity); ok {
			r.Humidity = &v
			r.HumidityStatus = ClassifyHumidity(v)
		}
		if v, ok := s.readChannel("pressure", s.env.ReadPressure); ok {
			r.Pressure = &v
			r.PressureStatus = ClassifyPressure(v)
		}
	}

	if s.probe != nil {
		s.sampleSoil(&r)
	}

	s.mu.Lock()
	s.latest = &r
	s.mu.Unlock()
	return r
}

// Latest returns the most recent reading, if any cycle has run
func (s *Sampler) Latest() (Reading, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		return Reading{}, false
	}
	return *s.latest, true
}

func (s *Sampler) sampleSoil(r *Reading) {
	raw, err := s.probe.ReadRawMoisture()
	if err != nil {
		r.SoilProbe = ProbeFault
		s.observe("soil", err)
		s.logger.Warn().Err(err).Msg("Failed to read soil moisture")
		return
	}
	r.SoilRaw = raw

	pct, err := MoisturePercent(raw)
	if errors.Is(err, ErrSensorNotConnected) {
		r.SoilProbe = ProbeNotConnected
		s.observe("soil", err)
		s.logger.Warn().Uint16("raw", raw).Msg("Soil moisture sensor not connected")
		return
	}

	r.SoilProbe = ProbeOK
	r.SoilMoisture = &pct
	r.SoilStatus = ClassifySoil(pct)
	s.observe("soil", nil)
}

func (s *Sampler) readChannel(name string, read func() (float64, bool, error)) (float64, bool) {
	v, ok, err := read()
	if err != nil {
		s.observe(name, err)
		s.logger.Warn().Err(err).Str("channel", name).Msg("Sensor read failed")
		return 0, false
	}
	if !ok {
		s.observe(name, errNoData)
		return 0, false
	}
	s.observe(name, nil)
	return v, true
}

func (s *Sampler) observe(channel string, err error) {
	if s.observer != nil {
		s.observer(channel, err)
	}
}

func (s *Sampler) logReading(r Reading) {
	ev := s.logger.Info()
	if r.Temperature != nil {
		ev = ev.Float64("temperature_c", *r.Temperature).Stringer("temperature_status", r.TemperatureStatus)
	}
	if r.Humidity != nil {
		ev = ev.Float64("humidity_pct", *r.Humidity).Stringer("humidity_status", r.HumidityStatus)
	}
	if r.Pressure != nil {
		ev = ev.Float64("pressure_hpa", *r.Pressure).Stringer("pressure_status", r.PressureStatus)
	}
	if r.SoilMoisture != nil {
		ev = ev.Float64("soil_moisture_pct", *r.SoilMoisture).Stringer("soil_status", r.SoilStatus)
	}
	ev.Stringer("soil_probe", r.SoilProbe).Msg("Sensor reading")
}
