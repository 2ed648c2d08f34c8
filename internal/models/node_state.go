package models

import (
	"fmt"
	"time"

	"github.com/ponytojas/go-mqtt-hotspot/internal/geo"
)

// PeerRecord is the last known state of a neighbor
type PeerRecord struct {
	Ident       string    `json:"ident"`
	Location    geo.Point `json:"location"`
	Temperature float64   `json:"temperature"`
	LastSeenAt  time.Time `json:"last_seen_at"`
}

// LocalReading is the current sensed state of this node
type LocalReading struct {
	Temperature  float64 `json:"temperature"`
	Luminosity   int     `json:"luminosity"`
	FireDetected bool    `json:"fire_detected"`
}

// RGB is an indicator colour
type RGB struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

func (c RGB) String() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// Pattern is how the indicator colour is shown
type Pattern string

const (
	PatternSolid  Pattern = "solid"
	PatternBlink  Pattern = "blink"
	PatternStrobe Pattern = "strobe"
)

// Indicator is the state of the status light strip
type Indicator struct {
	Color   RGB     `json:"color"`
	Pattern Pattern `json:"pattern"`
}

// ActuatorCommand is the output of one control cycle
type ActuatorCommand struct {
	CoolerOn  bool      `json:"cooler_on"`
	HeaterOn  bool      `json:"heater_on"`
	FanSpeed  int       `json:"fan_speed"`
	Indicator Indicator `json:"indicator"`
}
