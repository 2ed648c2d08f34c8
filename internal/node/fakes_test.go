package node

import (
	"sync"

	"github.com/ponytojas/go-mqtt-hotspot/internal/models"
	"github.com/ponytojas/go-mqtt-hotspot/internal/mqtt"
)

type fakeTransport struct {
	mu         sync.Mutex
	connected  bool
	connectOK  bool
	connects   int
	clientIDs  []string
	subscribed []string
	published  []models.Message
	inbox      []models.Message
}

func (f *fakeTransport) Connect(clientID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	f.clientIDs = append(f.clientIDs, clientID)
	if f.connectOK {
		f.connected = true
	}
	return f.connected
}

func (f *fakeTransport) Subscribe(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return mqtt.ErrNotConnected
	}
	f.subscribed = append(f.subscribed, topic)
	return nil
}

func (f *fakeTransport) Publish(topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return mqtt.ErrNotConnected
	}
	f.published = append(f.published, models.Message{Topic: topic, Payload: payload})
	return nil
}

func (f *fakeTransport) Receive() []models.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.inbox
	f.inbox = nil
	return out
}

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) push(topic string, payload []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inbox = append(f.inbox, models.Message{Topic: topic, Payload: payload})
}

func (f *fakeTransport) sent() []models.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Message(nil), f.published...)
}

type fakeSensors struct {
	temperature float64
	luminosity  int
	fire        bool
}

func (s *fakeSensors) ReadTemperature() float64 { return s.temperature }
func (s *fakeSensors) ReadLuminosity() int      { return s.luminosity }
func (s *fakeSensors) ReadFireSensor() bool     { return s.fire }

type fakeActuators struct {
	cooler    bool
	heater    bool
	fan       int
	indicator models.Indicator
	writes    int
}

func (a *fakeActuators) SetCooler(on bool)                 { a.cooler = on; a.writes++ }
func (a *fakeActuators) SetHeater(on bool)                 { a.heater = on; a.writes++ }
func (a *fakeActuators) SetFanSpeed(speed int)             { a.fan = speed; a.writes++ }
func (a *fakeActuators) SetIndicator(ind models.Indicator) { a.indicator = ind; a.writes++ }

type fakeArchive struct {
	recs []models.ReportRecord
}

func (a *fakeArchive) Enqueue(rec models.ReportRecord) bool {
	a.recs = append(a.recs, rec)
	return true
}
