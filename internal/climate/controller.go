package climate

import (
	"errors"
	"fmt"
	"math"

	"github.com/ponytojas/go-mqtt-hotspot/internal/models"
)

// DisconnectedC is the value a DS18B20 probe reports when it is unplugged
const DisconnectedC = -127.0

// ErrSensorFault marks a temperature reading that cannot be trusted
var ErrSensorFault = errors.New("sensor fault")

// SensorFaultError carries the rejected reading
type SensorFaultError struct {
	Value float64
}

func (e *SensorFaultError) Error() string {
	return fmt.Sprintf("sensor fault: temperature %v out of range", e.Value)
}

func (e *SensorFaultError) Unwrap() error {
	return ErrSensorFault
}

// Mode is the thermal state selected for a control cycle
type Mode int

const (
	ModeIdle Mode = iota
	ModeCooling
	ModeHeating
	ModeFire
	ModeSensorFault
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeCooling:
		return "cooling"
	case ModeHeating:
		return "heating"
	case ModeFire:
		return "fire"
	case ModeSensorFault:
		return "sensor_fault"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Indicator colours per mode
var (
	ColorIdle    = models.RGB{R: 0, G: 255, B: 0}
	ColorCooling = models.RGB{R: 0, G: 0, B: 255}
	ColorHeating = models.RGB{R: 255, G: 96, B: 0}
	ColorFire    = models.RGB{R: 255, G: 0, B: 0}
	ColorFault   = models.RGB{R: 255, G: 0, B: 255}
)

// Thresholds bound the hysteresis band
type Thresholds struct {
	High     float64
	Low      float64
	LightMax int
}

// Validate checks that the band is well formed
func (t Thresholds) Validate() error {
	if math.IsNaN(t.High) || math.IsNaN(t.Low) {
		return errors.New("thresholds must be numbers")
	}
	if t.Low >= t.High {
		return fmt.Errorf("low threshold %.2f must be below high threshold %.2f", t.Low, t.High)
	}
	return nil
}

// Settings configures a Controller
type Settings struct {
	Thresholds Thresholds
	FanMin     int
	FanStep    int // fan increment per degree above High
	FanMax     int
	SensorMin  float64
	SensorMax  float64
}

// Validate checks thresholds, fan range and sensor range
func (s Settings) Validate() error {
	if err := s.Thresholds.Validate(); err != nil {
		return err
	}
	if s.FanMax <= 0 {
		return fmt.Errorf("fan max must be positive, got %d", s.FanMax)
	}
	if s.FanMin <= 0 || s.FanMin > s.FanMax {
		return fmt.Errorf("fan min must be in (0, %d], got %d", s.FanMax, s.FanMin)
	}
	if s.FanStep < 0 {
		return fmt.Errorf("fan step must not be negative, got %d", s.FanStep)
	}
	if s.SensorMin >= s.SensorMax {
		return fmt.Errorf("sensor range [%.2f, %.2f] is empty", s.SensorMin, s.SensorMax)
	}
	return nil
}

// Output is the result of one control cycle
type Output struct {
	Mode    Mode
	Fire    bool
	Command models.ActuatorCommand
	// Fault is set when the temperature reading was rejected
	Fault error
}

// Controller derives actuator commands from a reading. Every Tick starts from scratch:
// the gap between the thresholds is the only hysteresis.
type Controller struct {
	settings Settings
}

// NewController validates the settings and returns a controller
func NewController(s Settings) (*Controller, error) {
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid climate settings: %w", err)
	}
	return &Controller{settings: s}, nil
}

// Settings returns the active settings
func (c *Controller) Settings() Settings {
	return c.settings
}

// CheckReading returns a *SensorFaultError when the temperature cannot be used
func (c *Controller) CheckReading(r models.LocalReading) error {
	t := r.Temperature
	if math.IsNaN(t) || math.IsInf(t, 0) || t == DisconnectedC ||
		t < c.settings.SensorMin || t > c.settings.SensorMax {
		return &SensorFaultError{Value: t}
	}
	return nil
}

// Tick computes the actuator command for reading r
func (c *Controller) Tick(r models.LocalReading, hotspot bool) Output {
	th := c.settings.Thresholds
	fault := c.CheckReading(r)

	fire := r.FireDetected
	if fault == nil && r.Luminosity > th.LightMax && r.Temperature >= th.High {
		fire = true
	}

	var out Output
	out.Fire = fire
	out.Fault = fault

	switch {
	case fire:
		out.Mode = ModeFire
		out.Command = models.ActuatorCommand{
			CoolerOn:  true,
			HeaterOn:  false,
			FanSpeed:  c.settings.FanMax,
			Indicator: models.Indicator{Color: ColorFire, Pattern: models.PatternStrobe},
		}
		return out
	case fault != nil:
		out.Mode = ModeSensorFault
		out.Command = models.ActuatorCommand{
			Indicator: models.Indicator{Color: ColorFault, Pattern: models.PatternSolid},
		}
		return out
	case r.Temperature >= th.High:
		out.Mode = ModeCooling
		out.Command = models.ActuatorCommand{
			CoolerOn: true,
			FanSpeed: c.fanSpeed(r.Temperature),
		}
		out.Command.Indicator.Color = ColorCooling
	case r.Temperature <= th.Low:
		out.Mode = ModeHeating
		out.Command = models.ActuatorCommand{HeaterOn: true}
		out.Command.Indicator.Color = ColorHeating
	default:
		out.Mode = ModeIdle
		out.Command.Indicator.Color = ColorIdle
	}

	out.Command.Indicator.Pattern = models.PatternSolid
	if hotspot {
		out.Command.Indicator.Pattern = models.PatternBlink
	}
	return out
}

// fanSpeed ramps from FanMin at the high threshold up to FanMax
func (c *Controller) fanSpeed(t float64) int {
	over := t - c.settings.Thresholds.High
	if over < 0 {
		over = 0
	}
	speed := float64(c.settings.FanMin) + float64(c.settings.FanStep)*over
	if speed > float64(c.settings.FanMax) {
		return c.settings.FanMax
	}
	return int(math.Round(speed))
}
