package sensor

import (
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"
)

// ErrNotInitialized is returned by a driver read before Init
var ErrNotInitialized = errors.New("sensor not initialized")

// SimEnvironment is a random-walk environmental sensor for bench runs
type SimEnvironment struct {
	mu          sync.Mutex
	rng         *rand.Rand
	ready       bool
	temperature float64
	humidity    float64
	pressure    float64
}

// NewSimEnvironment creates a simulated sensor. A zero seed uses the clock.
func NewSimEnvironment(seed int64) *SimEnvironment {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &SimEnvironment{
		rng:         rand.New(rand.NewSource(seed)),
		temperature: 21.0,
		humidity:    45.0,
		pressure:    1010.0,
	}
}

// Init implements Environmental
func (s *SimEnvironment) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = true
	return nil
}

// Configure implements Environmental
func (s *SimEnvironment) Configure(SamplingProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		return ErrNotInitialized
	}
	return nil
}

// ReadTemperature implements Environmental
func (s *SimEnvironment) ReadTemperature() (float64, bool, error) {
	return s.step(&s.temperature, 0.2, -10, 45)
}

// ReadHumidity implements Environmental
func (s *SimEnvironment) ReadHumidity() (float64, bool, error) {
	return s.step(&s.humidity, 1.0, 0, 100)
}

// ReadPressure implements Environmental
func (s *SimEnvironment) ReadPressure() (float64, bool, error) {
	return s.step(&s.pressure, 0.5, 950, 1060)
}

func (s *SimEnvironment) step(v *float64, delta, lo, hi float64) (float64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		return 0, false, ErrNotInitialized
	}
	*v = clamp(*v+(s.rng.Float64()*2-1)*delta, lo, hi)
	return math.Round(*v*100) / 100, true, nil
}

// SimProbe is a random-walk soil probe that drifts between dry and wet
type SimProbe struct {
	mu  sync.Mutex
	rng *rand.Rand
	raw float64
}

// NewSimProbe creates a simulated probe. A zero seed uses the clock.
func NewSimProbe(seed int64) *SimProbe {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &SimProbe{
		rng: rand.New(rand.NewSource(seed)),
		raw: 1900,
	}
}

// ReadRawMoisture implements MoistureProbe
func (p *SimProbe) ReadRawMoisture() (uint16, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.raw = clamp(p.raw+(p.rng.Float64()*2-1)*25, float64(MaxDry)-100, float64(MaxWet)+100)
	return uint16(p.raw), nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
