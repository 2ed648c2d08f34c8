package hardware

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/ponytojas/go-mqtt-hotspot/internal/climate"
)

// W1Probe reads a DS18B20 through the Linux 1-wire sysfs interface,
// e.g. /sys/bus/w1/devices/28-000005e2fdc3/w1_slave.
// Luminosity and fire come from another source.
type W1Probe struct {
	path  string
	other interface {
		ReadLuminosity() int
		ReadFireSensor() bool
	}
	lastErr string
}

// NewW1Probe reads temperature from path and everything else from other
func NewW1Probe(path string, other interface {
	ReadLuminosity() int
	ReadFireSensor() bool
}) *W1Probe {
	return &W1Probe{path: path, other: other}
}

// ReadTemperature returns the probe temperature, or climate.DisconnectedC when the file
// cannot be read or fails its CRC check
func (p *W1Probe) ReadTemperature() float64 {
	b, err := os.ReadFile(p.path)
	if err == nil {
		var t float64
		if t, err = ParseW1Slave(string(b)); err == nil {
			p.lastErr = ""
			return t
		}
	}
	if msg := err.Error(); msg != p.lastErr {
		log.Printf("Probe read failed: %v", err)
		p.lastErr = msg
	}
	return climate.DisconnectedC
}

func (p *W1Probe) ReadLuminosity() int {
	return p.other.ReadLuminosity()
}

func (p *W1Probe) ReadFireSensor() bool {
	return p.other.ReadFireSensor()
}

// ParseW1Slave extracts the temperature in degrees Celsius from w1_slave contents:
//
//	72 01 4b 46 7f ff 0e 10 57 : crc=57 YES
//	72 01 4b 46 7f ff 0e 10 57 t=23125
func ParseW1Slave(contents string) (float64, error) {
	lines := strings.Split(strings.TrimSpace(contents), "\n")
	if len(lines) < 2 {
		return 0, errors.New("w1: short read")
	}
	if !strings.HasSuffix(strings.TrimSpace(lines[0]), "YES") {
		return 0, errors.New("w1: crc check failed")
	}
	i := strings.LastIndex(lines[1], "t=")
	if i < 0 {
		return 0, errors.New("w1: temperature field missing")
	}
	milli, err := strconv.Atoi(strings.TrimSpace(lines[1][i+2:]))
	if err != nil {
		return 0, fmt.Errorf("w1: bad temperature value: %w", err)
	}
	return float64(milli) / 1000.0, nil
}
