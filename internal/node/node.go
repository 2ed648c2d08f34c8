// Package node runs the control loop of a hotspot node: it drains peer reports into the
// neighbor registry, re-runs the hotspot election and the climate controller on a fixed
// cadence, and publishes this node's own status.
//
// All registry and reading state is confined to the goroutine calling Step. The only
// other goroutine is the background reconnect, which touches the transport alone.
package node

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ponytojas/go-mqtt-hotspot/config"
	"github.com/ponytojas/go-mqtt-hotspot/internal/climate"
	"github.com/ponytojas/go-mqtt-hotspot/internal/election"
	"github.com/ponytojas/go-mqtt-hotspot/internal/geo"
	"github.com/ponytojas/go-mqtt-hotspot/internal/hardware"
	"github.com/ponytojas/go-mqtt-hotspot/internal/metrics"
	"github.com/ponytojas/go-mqtt-hotspot/internal/models"
	"github.com/ponytojas/go-mqtt-hotspot/internal/mqtt"
	"github.com/ponytojas/go-mqtt-hotspot/internal/registry"
	"github.com/ponytojas/go-mqtt-hotspot/internal/telemetry"
)

// Transport is the publish/subscribe channel shared with the peers
type Transport interface {
	Connect(clientID string) bool
	Subscribe(topic string) error
	Publish(topic string, payload []byte) error
	Receive() []models.Message
	IsConnected() bool
}

// Sensors are the local inputs
type Sensors interface {
	ReadTemperature() float64
	ReadLuminosity() int
	ReadFireSensor() bool
}

// Actuators are the local outputs
type Actuators interface {
	SetCooler(on bool)
	SetHeater(on bool)
	SetFanSpeed(speed int)
	SetIndicator(ind models.Indicator)
}

// Archive receives every report this node sends or accepts
type Archive interface {
	Enqueue(rec models.ReportRecord) bool
}

// Options wires a Node. Archive and Metrics are optional.
type Options struct {
	Config    *config.Config
	Ident     string
	ClientID  string
	NetInfo   hardware.NetInfo
	Transport Transport
	Sensors   Sensors
	Actuators Actuators
	Archive   Archive
	Metrics   *metrics.Metrics
	Now       func() time.Time
}

// Neighbor is an active peer as seen from this node
type Neighbor struct {
	models.PeerRecord
	DistanceKm float64 `json:"distance_km"`
}

// Snapshot is a read-only copy of the node state after the last control cycle
type Snapshot struct {
	Ident     string                 `json:"ident"`
	Location  geo.Point              `json:"location"`
	Reading   models.LocalReading    `json:"reading"`
	Mode      string                 `json:"mode"`
	Fire      bool                   `json:"fire"`
	Fault     string                 `json:"fault,omitempty"`
	Command   models.ActuatorCommand `json:"command"`
	Hotspot   bool                   `json:"hotspot"`
	Neighbors []Neighbor             `json:"neighbors"`
	UpdatedAt time.Time              `json:"updated_at"`
}

var modeNames = []string{
	climate.ModeIdle.String(),
	climate.ModeCooling.String(),
	climate.ModeHeating.String(),
	climate.ModeFire.String(),
	climate.ModeSensorFault.String(),
}

var errConnectFailed = errors.New("broker connection failed")

// Node is one participant of the hotspot network
type Node struct {
	cfg        *config.Config
	ident      string
	clientID   string
	netInfo    hardware.NetInfo
	location   geo.Point
	transport  Transport
	sensors    Sensors
	actuators  Actuators
	archive    Archive
	metrics    *metrics.Metrics
	registry   *registry.Registry
	controller *climate.Controller
	codec      *telemetry.Codec
	now        func() time.Time

	started     time.Time
	lastControl time.Time
	lastPublish time.Time
	lastSweep   time.Time
	controlled  bool
	reading     models.LocalReading
	output      climate.Output
	hotspot     bool

	connecting atomic.Bool
	announce   atomic.Bool
	snapshot   atomic.Pointer[Snapshot]
	wg         sync.WaitGroup
}

// New validates the options and builds a node
func New(opts Options) (*Node, error) {
	if opts.Config == nil {
		return nil, errors.New("node: config is required")
	}
	if opts.Transport == nil || opts.Sensors == nil || opts.Actuators == nil {
		return nil, errors.New("node: transport, sensors and actuators are required")
	}
	if strings.TrimSpace(opts.Ident) == "" {
		return nil, errors.New("node: identity is required")
	}

	cfg := opts.Config
	controller, err := climate.NewController(climate.Settings{
		Thresholds: climate.Thresholds{
			High:     cfg.Climate.HighTemp,
			Low:      cfg.Climate.LowTemp,
			LightMax: cfg.Climate.LightMax,
		},
		FanMin:    cfg.Climate.FanMin,
		FanStep:   cfg.Climate.FanStep,
		FanMax:    cfg.Climate.FanMax,
		SensorMin: cfg.Climate.SensorMin,
		SensorMax: cfg.Climate.SensorMax,
	})
	if err != nil {
		return nil, err
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}
	clientID := opts.ClientID
	if clientID == "" {
		clientID = opts.Ident
	}

	return &Node{
		cfg:        cfg,
		ident:      opts.Ident,
		clientID:   clientID,
		netInfo:    opts.NetInfo,
		location:   geo.Point{Lat: cfg.Node.Lat, Lon: cfg.Node.Lon},
		transport:  opts.Transport,
		sensors:    opts.Sensors,
		actuators:  opts.Actuators,
		archive:    opts.Archive,
		metrics:    opts.Metrics,
		registry:   registry.New(opts.Ident),
		controller: controller,
		codec:      telemetry.NewCodec(opts.Ident),
		now:        now,
		started:    now(),
	}, nil
}

// Run steps the node every loop tick until ctx is done
func (n *Node) Run(ctx context.Context) error {
	log.Printf("Node %s starting at (%.5f, %.5f), radius %.1f km, topic %s",
		n.ident, n.location.Lat, n.location.Lon, n.cfg.Node.RadiusKm, n.cfg.MQTT.Topic)

	ticker := time.NewTicker(n.cfg.Loop.Tick)
	defer ticker.Stop()
	defer n.wg.Wait()

	n.Step(ctx, n.now())
	for {
		select {
		case <-ctx.Done():
			log.Printf("Node %s stopping", n.ident)
			return nil
		case <-ticker.C:
			n.Step(ctx, n.now())
		}
	}
}

// Step runs one loop iteration at time now
func (n *Node) Step(ctx context.Context, now time.Time) {
	n.ensureConnected(ctx)

	for _, msg := range n.transport.Receive() {
		n.apply(msg, now)
	}

	if !n.controlled || now.Sub(n.lastControl) >= n.cfg.Loop.ControlInterval {
		n.control(now)
	}

	if n.announce.Load() {
		n.publishLocation()
	}

	if n.lastPublish.IsZero() || now.Sub(n.lastPublish) >= n.cfg.Loop.PublishInterval {
		n.lastPublish = now
		n.publishStatus(now)
	}

	if n.lastSweep.IsZero() {
		n.lastSweep = now
	} else if now.Sub(n.lastSweep) >= n.cfg.Loop.SweepInterval {
		n.lastSweep = now
		if removed := n.registry.Sweep(now, n.cfg.Node.EvictAfter); removed > 0 {
			log.Printf("Evicted %d silent neighbors", removed)
		}
	}
}

// Snapshot returns the state after the last control cycle
func (n *Node) Snapshot() Snapshot {
	if s := n.snapshot.Load(); s != nil {
		return *s
	}
	return Snapshot{Ident: n.ident, Location: n.location}
}

// Connected reports whether the transport is up
func (n *Node) Connected() bool {
	return n.transport.IsConnected()
}

// Ident returns the node identity
func (n *Node) Ident() string {
	return n.ident
}

func (n *Node) ensureConnected(ctx context.Context) {
	if n.transport.IsConnected() || ctx.Err() != nil {
		return
	}
	if !n.connecting.CompareAndSwap(false, true) {
		return
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer n.connecting.Store(false)
		n.reconnect(ctx)
	}()
}

// reconnect retries with a fixed delay until connected or ctx is done
func (n *Node) reconnect(ctx context.Context) {
	operation := func() error {
		if !n.transport.Connect(n.clientID) {
			return errConnectFailed
		}
		return n.transport.Subscribe(n.cfg.MQTT.Topic)
	}
	notify := func(err error, wait time.Duration) {
		log.Printf("Attempting MQTT connection failed: %v, try again in %s", err, wait)
	}

	b := backoff.WithContext(backoff.NewConstantBackOff(n.cfg.MQTT.ReconnectDelay), ctx)
	if err := backoff.RetryNotify(operation, b, notify); err != nil {
		log.Printf("Giving up MQTT connection: %v", err)
		return
	}

	if n.metrics != nil {
		n.metrics.Reconnects.Inc()
	}
	n.announce.Store(true)
}

func (n *Node) apply(msg models.Message, now time.Time) {
	if n.metrics != nil {
		n.metrics.MessagesReceived.Inc()
	}
	if msg.Topic != n.cfg.MQTT.Topic {
		return
	}

	if !telemetry.IsStatus(msg.Payload) {
		loc, err := n.codec.DecodeLocation(msg.Payload)
		if err != nil {
			n.dropped(err)
			return
		}
		n.registry.UpdateLocation(loc.Info.Ident, loc.Location.GPS)
		return
	}

	report, err := n.codec.DecodeStatus(msg.Payload)
	if err != nil {
		n.dropped(err)
		return
	}

	ident := report.Info.Ident
	if _, known := n.registry.Get(ident); !known {
		log.Printf("New neighbor %s at (%.5f, %.5f)", ident, report.Location.GPS.Lat, report.Location.GPS.Lon)
	}
	n.registry.Upsert(ident, report.Location.GPS, report.Status.Temperature, now)

	if n.archive != nil {
		n.archive.Enqueue(models.ReportRecord{
			Timestamp:   now,
			DeviceID:    ident,
			Temperature: report.Status.Temperature,
			Lat:         report.Location.GPS.Lat,
			Lon:         report.Location.GPS.Lon,
			Hotspot:     report.Piscine.Hotspot,
			Source:      models.SourcePeer,
		})
	}
}

func (n *Node) dropped(err error) {
	var de *telemetry.DecodeError
	reason := string(telemetry.ReasonMalformed)
	if errors.As(err, &de) {
		reason = string(de.Reason)
	}
	if n.metrics != nil {
		n.metrics.DecodeErrors.WithLabelValues(reason).Inc()
	}
	// our own reports come back on the shared topic
	if telemetry.IsSelf(err) {
		return
	}
	log.Printf("Dropping message: %v", err)
}

func (n *Node) control(now time.Time) {
	n.lastControl = now

	reading := models.LocalReading{
		Temperature:  n.sensors.ReadTemperature(),
		Luminosity:   n.sensors.ReadLuminosity(),
		FireDetected: n.sensors.ReadFireSensor(),
	}

	hotspot := false
	if n.controller.CheckReading(reading) == nil {
		hotspot = election.Evaluate(reading.Temperature, n.location, n.cfg.Node.RadiusKm,
			n.registry, now, n.cfg.Node.Staleness)
	}

	out := n.controller.Tick(reading, hotspot)
	n.actuators.SetCooler(out.Command.CoolerOn)
	n.actuators.SetHeater(out.Command.HeaterOn)
	n.actuators.SetFanSpeed(out.Command.FanSpeed)
	n.actuators.SetIndicator(out.Command.Indicator)

	if !n.controlled || out.Mode != n.output.Mode {
		if out.Fault != nil {
			log.Printf("Climate mode %s: %v", out.Mode, out.Fault)
		} else {
			log.Printf("Climate mode %s at %.2f°C", out.Mode, reading.Temperature)
		}
	}
	if hotspot != n.hotspot {
		log.Printf("Hotspot status changed: %v", hotspot)
	}

	n.controlled = true
	n.reading = reading
	n.output = out
	n.hotspot = hotspot

	n.observe(now)
}

func (n *Node) observe(now time.Time) {
	var neighbors []Neighbor
	active := 0
	for p := range n.registry.ActiveNeighbors(now, n.cfg.Node.Staleness) {
		active++
		neighbors = append(neighbors, Neighbor{PeerRecord: p, DistanceKm: geo.DistanceKm(n.location, p.Location)})
	}
	slices.SortFunc(neighbors, func(a, b Neighbor) int { return strings.Compare(a.Ident, b.Ident) })

	reading := n.reading
	// NaN and Inf cannot be rendered as JSON; the fault text keeps the raw value
	if math.IsNaN(reading.Temperature) || math.IsInf(reading.Temperature, 0) {
		reading.Temperature = 0
	}

	snap := &Snapshot{
		Ident:     n.ident,
		Location:  n.location,
		Reading:   reading,
		Mode:      n.output.Mode.String(),
		Fire:      n.output.Fire,
		Command:   n.output.Command,
		Hotspot:   n.hotspot,
		Neighbors: neighbors,
		UpdatedAt: now,
	}
	if n.output.Fault != nil {
		snap.Fault = n.output.Fault.Error()
	}
	n.snapshot.Store(snap)

	if m := n.metrics; m != nil {
		m.PeersActive.Set(float64(active))
		m.PeersKnown.Set(float64(n.registry.Len()))
		metrics.SetBool(m.Hotspot, n.hotspot)
		m.FanSpeed.Set(float64(n.output.Command.FanSpeed))
		m.SetMode(n.output.Mode.String(), modeNames)
		if n.output.Fault != nil {
			m.SensorFaults.Inc()
		} else {
			m.Temperature.Set(n.reading.Temperature)
		}
	}
}

// statusReport builds the report for the current state
func (n *Node) statusReport(now time.Time) models.StatusReport {
	cmd := n.output.Command
	regul := models.RegulHalt
	if cmd.CoolerOn || cmd.HeaterOn {
		regul = models.RegulRunning
	}

	return models.StatusReport{
		Status: models.Status{
			Temperature: n.reading.Temperature,
			Light:       n.reading.Luminosity,
			Regul:       regul,
			Fire:        n.output.Fire,
			Heat:        models.OnOff(cmd.HeaterOn),
			Cold:        models.OnOff(cmd.CoolerOn),
			FanSpeed:    cmd.FanSpeed,
		},
		Location: n.locationBlock(),
		Regul: models.Regul{
			LT: n.cfg.Climate.LowTemp,
			HT: n.cfg.Climate.HighTemp,
		},
		Info: n.infoBlock(),
		Net: models.Net{
			Uptime: now.Sub(n.started).Truncate(time.Second).String(),
			SSID:   n.cfg.Node.SSID,
			MAC:    n.netInfo.MAC,
			IP:     n.netInfo.IP,
		},
		ReportHost: models.ReportHost{
			TargetIP:   n.cfg.ReportHost.TargetIP,
			TargetPort: n.cfg.ReportHost.TargetPort,
			SP:         n.cfg.ReportHost.SP,
		},
		Piscine: models.Piscine{
			Hotspot: n.hotspot,
		},
	}
}

func (n *Node) publishStatus(now time.Time) {
	if !n.controlled {
		return
	}
	if n.output.Fault != nil {
		// a rejected reading must not reach the peers' elections, even under fire;
		// the fire response itself does not depend on the network
		n.countPublish("status", "skipped")
		return
	}

	report := n.statusReport(now)
	payload, err := n.codec.EncodeStatus(report)
	if err != nil {
		log.Printf("Error encoding status report: %v", err)
		n.countPublish("status", "error")
		return
	}
	if err := n.publish(payload, "status"); err != nil {
		return
	}

	if n.archive != nil {
		n.archive.Enqueue(models.ReportRecord{
			Timestamp:   now,
			DeviceID:    n.ident,
			Temperature: report.Status.Temperature,
			Lat:         n.location.Lat,
			Lon:         n.location.Lon,
			Hotspot:     n.hotspot,
			Source:      models.SourceSelf,
		})
	}
}

func (n *Node) publishLocation() {
	payload, err := n.codec.EncodeLocation(models.LocationReport{
		Location: n.locationBlock(),
		Info:     n.infoBlock(),
	})
	if err != nil {
		log.Printf("Error encoding location report: %v", err)
		n.announce.Store(false)
		return
	}
	if err := n.publish(payload, "location"); err == nil {
		n.announce.Store(false)
	}
}

func (n *Node) publish(payload []byte, kind string) error {
	err := n.transport.Publish(n.cfg.MQTT.Topic, payload)
	switch {
	case err == nil:
		n.countPublish(kind, "ok")
	case errors.Is(err, mqtt.ErrNotConnected):
		n.countPublish(kind, "disconnected")
	default:
		log.Printf("Error publishing %s report: %v", kind, err)
		n.countPublish(kind, "error")
	}
	if err != nil {
		return fmt.Errorf("publish %s: %w", kind, err)
	}
	return nil
}

func (n *Node) countPublish(kind, result string) {
	if n.metrics != nil {
		n.metrics.PublishTotal.WithLabelValues(kind, result).Inc()
	}
}

func (n *Node) locationBlock() models.Location {
	return models.Location{
		Room:    n.cfg.Node.Room,
		GPS:     n.location,
		Address: n.cfg.Node.Address,
	}
}

func (n *Node) infoBlock() models.Info {
	return models.Info{
		Ident: n.ident,
		User:  n.cfg.Node.User,
		Loc:   n.cfg.Node.Address,
	}
}
