package hardware

import (
	"log"
	"sync"

	"github.com/ponytojas/go-mqtt-hotspot/internal/models"
)

// LogActuators records actuator writes and logs each change
type LogActuators struct {
	mu        sync.Mutex
	state     models.ActuatorCommand
	initiated bool
}

func NewLogActuators() *LogActuators {
	return &LogActuators{}
}

func (a *LogActuators) SetCooler(on bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.initiated && a.state.CoolerOn == on {
		return
	}
	a.state.CoolerOn = on
	log.Printf("Cooler %s", models.OnOff(on))
}

func (a *LogActuators) SetHeater(on bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.initiated && a.state.HeaterOn == on {
		return
	}
	a.state.HeaterOn = on
	log.Printf("Heater %s", models.OnOff(on))
}

func (a *LogActuators) SetFanSpeed(speed int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.initiated && a.state.FanSpeed == speed {
		return
	}
	a.state.FanSpeed = speed
	log.Printf("Fan speed %d", speed)
}

// SetIndicator is the last write of a control cycle; changes are logged from the second cycle on
func (a *LogActuators) SetIndicator(ind models.Indicator) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.initiated && a.state.Indicator == ind {
		return
	}
	a.state.Indicator = ind
	a.initiated = true
	log.Printf("Indicator %s %s", ind.Color, ind.Pattern)
}

// State returns the last written actuator state
func (a *LogActuators) State() models.ActuatorCommand {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}
