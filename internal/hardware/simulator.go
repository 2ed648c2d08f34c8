package hardware

import (
	"math"
	"math/rand"
	"sync"
)

// Simulator produces a slow random walk of temperature and luminosity.
// It stands in for the probe, the light sensor and the fire input on machines without them.
type Simulator struct {
	mu          sync.Mutex
	rng         *rand.Rand
	temperature float64
	luminosity  int
	fire        bool
	drift       float64
}

// NewSimulator starts the walk at the given temperature
func NewSimulator(seed int64, start float64) *Simulator {
	return &Simulator{
		rng:         rand.New(rand.NewSource(seed)),
		temperature: start,
		luminosity:  1500,
		drift:       0.15,
	}
}

func (s *Simulator) ReadTemperature() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.temperature += (s.rng.Float64()*2 - 1) * s.drift
	s.temperature = math.Round(s.temperature*100) / 100
	return s.temperature
}

func (s *Simulator) ReadLuminosity() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.luminosity += s.rng.Intn(201) - 100
	if s.luminosity < 0 {
		s.luminosity = 0
	}
	if s.luminosity > 4095 {
		s.luminosity = 4095
	}
	return s.luminosity
}

func (s *Simulator) ReadFireSensor() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fire
}

// SetTemperature forces the next walk to start from t
func (s *Simulator) SetTemperature(t float64) {
	s.mu.Lock()
	s.temperature = t
	s.mu.Unlock()
}

// SetFire raises or clears the simulated fire input
func (s *Simulator) SetFire(v bool) {
	s.mu.Lock()
	s.fire = v
	s.mu.Unlock()
}
