package node

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ponytojas/go-mqtt-hotspot/config"
	"github.com/ponytojas/go-mqtt-hotspot/internal/climate"
	"github.com/ponytojas/go-mqtt-hotspot/internal/hardware"
	"github.com/ponytojas/go-mqtt-hotspot/internal/metrics"
	"github.com/ponytojas/go-mqtt-hotspot/internal/models"
	"github.com/ponytojas/go-mqtt-hotspot/internal/telemetry"
)

const self = "node-self"

type harness struct {
	node      *Node
	transport *fakeTransport
	sensors   *fakeSensors
	actuators *fakeActuators
	archive   *fakeArchive
	metrics   *metrics.Metrics
	cfg       *config.Config
	start     time.Time
}

func newHarness(t *testing.T, connected bool) *harness {
	t.Helper()
	cfg := config.GetDefaultConfig()
	cfg.Node.Lat = 0
	cfg.Node.Lon = 0
	cfg.MQTT.ReconnectDelay = 5 * time.Millisecond

	h := &harness{
		transport: &fakeTransport{connected: connected, connectOK: connected},
		sensors:   &fakeSensors{temperature: 25.9},
		actuators: &fakeActuators{},
		archive:   &fakeArchive{},
		metrics:   metrics.New(self),
		cfg:       cfg,
		start:     time.Now(),
	}

	n, err := New(Options{
		Config:    cfg,
		Ident:     self,
		NetInfo:   hardware.NetInfo{MAC: "AA:BB:CC:DD:EE:FF", IP: "10.0.0.2"},
		Transport: h.transport,
		Sensors:   h.sensors,
		Actuators: h.actuators,
		Archive:   h.archive,
		Metrics:   h.metrics,
		Now:       func() time.Time { return h.start },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.node = n
	return h
}

func (h *harness) at(d time.Duration) time.Time {
	return h.start.Add(d)
}

func peerStatus(ident string, lat, lon, temp float64) []byte {
	return []byte(fmt.Sprintf(`{"status":{"temperature":%v},"location":{"gps":{"lat":%v,"lon":%v}},"info":{"ident":%q}}`,
		temp, lat, lon, ident))
}

func statusReports(t *testing.T, msgs []models.Message) []models.StatusReport {
	t.Helper()
	var out []models.StatusReport
	for _, m := range msgs {
		if !telemetry.IsStatus(m.Payload) {
			continue
		}
		var r models.StatusReport
		if err := json.Unmarshal(m.Payload, &r); err != nil {
			t.Fatalf("published payload is not JSON: %v", err)
		}
		out = append(out, r)
	}
	return out
}

func TestStep_PeerUpdateAndPublish(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	h.transport.push(h.cfg.MQTT.Topic, peerStatus("peer-1", 0, 0.01, 30))
	h.node.Step(ctx, h.at(0))

	snap := h.node.Snapshot()
	if snap.Hotspot {
		t.Error("a warmer neighbor in range should prevent hotspot status")
	}
	if len(snap.Neighbors) != 1 || snap.Neighbors[0].Ident != "peer-1" {
		t.Fatalf("unexpected neighbors %+v", snap.Neighbors)
	}
	if d := snap.Neighbors[0].DistanceKm; d < 1 || d > 1.2 {
		t.Errorf("unexpected neighbor distance %f", d)
	}

	reports := statusReports(t, h.transport.sent())
	if len(reports) != 1 {
		t.Fatalf("expected one status report, got %d", len(reports))
	}
	r := reports[0]
	if r.Info.Ident != self || r.Status.Temperature != 25.9 || r.Piscine.Hotspot {
		t.Errorf("unexpected status report %+v", r)
	}
	if r.Status.Regul != models.RegulHalt || r.Status.Heat != models.StateOff || r.Status.Cold != models.StateOff {
		t.Errorf("idle node should report HALT/OFF/OFF, got %+v", r.Status)
	}
	if r.Net.MAC != "AA:BB:CC:DD:EE:FF" || r.ReportHost.TargetPort != 1880 {
		t.Errorf("unexpected net/reporthost blocks: %+v %+v", r.Net, r.ReportHost)
	}

	if len(h.archive.recs) != 2 {
		t.Fatalf("expected peer and self records archived, got %d", len(h.archive.recs))
	}
	if h.archive.recs[0].Source != models.SourcePeer || h.archive.recs[1].Source != models.SourceSelf {
		t.Errorf("unexpected archive sources %+v", h.archive.recs)
	}
}

func TestStep_HotspotWhenPeersColder(t *testing.T) {
	h := newHarness(t, true)
	h.transport.push(h.cfg.MQTT.Topic, peerStatus("peer-1", 0, 0.01, 20))
	h.transport.push(h.cfg.MQTT.Topic, peerStatus("peer-far", 0, 1, 40))
	h.node.Step(context.Background(), h.at(0))

	if !h.node.Snapshot().Hotspot {
		t.Error("expected hotspot with only colder neighbors in range")
	}
	if h.actuators.indicator.Pattern != models.PatternBlink {
		t.Errorf("hotspot should blink the indicator, got %s", h.actuators.indicator.Pattern)
	}
	reports := statusReports(t, h.transport.sent())
	if len(reports) != 1 || !reports[0].Piscine.Hotspot {
		t.Error("hotspot flag should be published")
	}
}

func TestStep_SelfMessagesIgnored(t *testing.T) {
	h := newHarness(t, true)
	h.transport.push(h.cfg.MQTT.Topic, peerStatus(self, 0, 0, 99))
	h.node.Step(context.Background(), h.at(0))

	if h.node.registry.Len() != 0 {
		t.Error("own report must not create a neighbor record")
	}
	if v := testutil.ToFloat64(h.metrics.DecodeErrors.WithLabelValues(string(telemetry.ReasonSelf))); v != 1 {
		t.Errorf("expected 1 self drop, got %f", v)
	}
	if !h.node.Snapshot().Hotspot {
		t.Error("own report must not block hotspot status")
	}
}

func TestStep_MalformedAndForeignTopic(t *testing.T) {
	h := newHarness(t, true)
	h.transport.push(h.cfg.MQTT.Topic, []byte(`{"status":{"temperature":30},"location":{"gps":{"lat":0}},"info":{"ident":"p"}}`))
	h.transport.push(h.cfg.MQTT.Topic, []byte(`{{{`))
	h.transport.push("uca/iot/piscine", peerStatus("pool", 0, 0, 50))
	h.node.Step(context.Background(), h.at(0))

	if h.node.registry.Len() != 0 {
		t.Errorf("no record expected, got %d", h.node.registry.Len())
	}
	if v := testutil.ToFloat64(h.metrics.DecodeErrors.WithLabelValues(string(telemetry.ReasonMissingField))); v != 1 {
		t.Errorf("expected 1 missing field drop, got %f", v)
	}
	if v := testutil.ToFloat64(h.metrics.DecodeErrors.WithLabelValues(string(telemetry.ReasonMalformed))); v != 1 {
		t.Errorf("expected 1 malformed drop, got %f", v)
	}
	if v := testutil.ToFloat64(h.metrics.MessagesReceived); v != 3 {
		t.Errorf("expected 3 received, got %f", v)
	}
}

func TestStep_StaleNeighborReleasesHotspot(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	h.transport.push(h.cfg.MQTT.Topic, peerStatus("peer-1", 0, 0.01, 30))
	h.node.Step(ctx, h.at(0))
	if h.node.Snapshot().Hotspot {
		t.Fatal("expected not hotspot while the warm peer is fresh")
	}

	h.node.Step(ctx, h.at(h.cfg.Node.Staleness+h.cfg.Loop.ControlInterval))
	snap := h.node.Snapshot()
	if !snap.Hotspot {
		t.Error("expected hotspot once the silent peer is stale")
	}
	if len(snap.Neighbors) != 0 {
		t.Errorf("stale peer should not be listed, got %d", len(snap.Neighbors))
	}
	if h.node.registry.Len() != 1 {
		t.Error("stale peer should still be stored until swept")
	}
}

func TestStep_SweepEvictsSilentPeers(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	h.transport.push(h.cfg.MQTT.Topic, peerStatus("peer-1", 0, 0.01, 30))
	h.node.Step(ctx, h.at(0))
	h.node.Step(ctx, h.at(h.cfg.Node.EvictAfter+h.cfg.Loop.SweepInterval))

	if h.node.registry.Len() != 0 {
		t.Errorf("expected silent peer to be swept, %d left", h.node.registry.Len())
	}
}

func TestStep_FireOverrideWhileDisconnected(t *testing.T) {
	h := newHarness(t, false)
	h.sensors.temperature = 10
	h.sensors.fire = true

	ctx, cancel := context.WithCancel(context.Background())
	h.node.Step(ctx, h.at(0))
	cancel()
	h.node.wg.Wait()

	if h.actuators.heater {
		t.Error("heater must be off under fire")
	}
	if !h.actuators.cooler || h.actuators.fan != h.cfg.Climate.FanMax {
		t.Errorf("expected cooler on and fan at max, got cooler=%v fan=%d", h.actuators.cooler, h.actuators.fan)
	}
	if h.actuators.indicator.Color != climate.ColorFire {
		t.Errorf("expected alarm colour, got %s", h.actuators.indicator.Color)
	}
	if v := testutil.ToFloat64(h.metrics.PublishTotal.WithLabelValues("status", "disconnected")); v != 1 {
		t.Errorf("expected one failed publish while disconnected, got %f", v)
	}
}

func TestStep_SensorFaultIsSafeAndSilent(t *testing.T) {
	h := newHarness(t, true)
	h.sensors.temperature = climate.DisconnectedC
	h.node.Step(context.Background(), h.at(0))

	snap := h.node.Snapshot()
	if snap.Mode != climate.ModeSensorFault.String() || snap.Fault == "" {
		t.Errorf("expected sensor fault snapshot, got %+v", snap)
	}
	if snap.Hotspot {
		t.Error("a faulty node must not claim hotspot")
	}
	if h.actuators.cooler || h.actuators.heater || h.actuators.fan != 0 {
		t.Error("actuators must be off on sensor fault")
	}
	if len(statusReports(t, h.transport.sent())) != 0 {
		t.Error("no status report should be published with a faulty reading")
	}
	if v := testutil.ToFloat64(h.metrics.SensorFaults); v != 1 {
		t.Errorf("expected 1 sensor fault, got %f", v)
	}
}

func TestStep_Cadence(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	h.node.Step(ctx, h.at(0))
	writes := h.actuators.writes
	h.node.Step(ctx, h.at(h.cfg.Loop.Tick))
	if h.actuators.writes != writes {
		t.Error("control should not run before the control interval")
	}
	h.node.Step(ctx, h.at(h.cfg.Loop.ControlInterval))
	if h.actuators.writes == writes {
		t.Error("control should run once the interval elapsed")
	}

	if n := len(statusReports(t, h.transport.sent())); n != 1 {
		t.Fatalf("expected 1 status report so far, got %d", n)
	}
	h.node.Step(ctx, h.at(h.cfg.Loop.PublishInterval))
	if n := len(statusReports(t, h.transport.sent())); n != 2 {
		t.Errorf("expected a second status report, got %d", n)
	}
}

func TestStep_ReconnectSubscribesAndAnnounces(t *testing.T) {
	h := newHarness(t, false)
	h.transport.connectOK = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.node.Step(ctx, h.at(0))
	h.node.wg.Wait()

	if !h.transport.IsConnected() {
		t.Fatal("expected background reconnect to succeed")
	}
	if len(h.transport.subscribed) != 1 || h.transport.subscribed[0] != h.cfg.MQTT.Topic {
		t.Errorf("expected subscription to %s, got %v", h.cfg.MQTT.Topic, h.transport.subscribed)
	}
	if h.transport.clientIDs[0] != self {
		t.Errorf("expected client id %s, got %s", self, h.transport.clientIDs[0])
	}

	h.node.Step(ctx, h.at(h.cfg.Loop.Tick))

	var loc models.LocationReport
	found := false
	for _, m := range h.transport.sent() {
		if !telemetry.IsStatus(m.Payload) {
			if err := json.Unmarshal(m.Payload, &loc); err != nil {
				t.Fatal(err)
			}
			found = true
		}
	}
	if !found {
		t.Fatal("expected a location report after reconnecting")
	}
	if loc.Info.Ident != self || loc.Location.Room != h.cfg.Node.Room {
		t.Errorf("unexpected location report %+v", loc)
	}
	if v := testutil.ToFloat64(h.metrics.Reconnects); v != 1 {
		t.Errorf("expected 1 reconnect, got %f", v)
	}
}

func TestStep_ReconnectRetriesUntilCancelled(t *testing.T) {
	h := newHarness(t, false)

	ctx, cancel := context.WithCancel(context.Background())
	h.node.Step(ctx, h.at(0))
	time.Sleep(30 * time.Millisecond)
	cancel()
	h.node.wg.Wait()

	h.transport.mu.Lock()
	attempts := h.transport.connects
	h.transport.mu.Unlock()
	if attempts < 2 {
		t.Errorf("expected repeated connection attempts, got %d", attempts)
	}
	if h.node.connecting.Load() {
		t.Error("reconnect flag should be cleared after cancellation")
	}
}

func TestStep_LocationReportMovesKnownPeer(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	h.transport.push(h.cfg.MQTT.Topic, peerStatus("peer-1", 0, 0.01, 30))
	h.node.Step(ctx, h.at(0))

	h.transport.push(h.cfg.MQTT.Topic, []byte(`{"location":{"room":"7","gps":{"lat":0,"lon":1},"address":"x"},"info":{"ident":"peer-1","user":"u","loc":"x"}}`))
	h.node.Step(ctx, h.at(h.cfg.Loop.ControlInterval))

	if !h.node.Snapshot().Hotspot {
		t.Error("peer moved out of range, expected hotspot")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	h := newHarness(t, true)
	h.cfg.Loop.Tick = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.node.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestNew_Validation(t *testing.T) {
	cfg := config.GetDefaultConfig()
	base := Options{Config: cfg, Ident: self, Transport: &fakeTransport{}, Sensors: &fakeSensors{}, Actuators: &fakeActuators{}}

	opts := base
	opts.Ident = ""
	if _, err := New(opts); err == nil {
		t.Error("expected error without identity")
	}

	opts = base
	opts.Transport = nil
	if _, err := New(opts); err == nil {
		t.Error("expected error without transport")
	}

	bad := config.GetDefaultConfig()
	bad.Climate.LowTemp = 30
	opts = base
	opts.Config = bad
	if _, err := New(opts); err == nil {
		t.Error("expected error with inverted thresholds")
	}
}

func TestSnapshot_NonFiniteReadingStillRenders(t *testing.T) {
	for _, temp := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		h := newHarness(t, true)
		h.sensors.temperature = temp
		h.node.Step(context.Background(), h.at(0))

		snap := h.node.Snapshot()
		if snap.Mode != climate.ModeSensorFault.String() {
			t.Fatalf("%v: expected sensor fault, got %s", temp, snap.Mode)
		}
		b, err := json.Marshal(snap)
		if err != nil {
			t.Fatalf("%v: snapshot must stay serialisable: %v", temp, err)
		}
		var got Snapshot
		if err := json.Unmarshal(b, &got); err != nil {
			t.Fatal(err)
		}
		if got.Reading.Temperature != 0 {
			t.Errorf("%v: expected zeroed temperature, got %f", temp, got.Reading.Temperature)
		}
		if !strings.Contains(got.Fault, fmt.Sprint(temp)) {
			t.Errorf("%v: fault should carry the raw reading, got %q", temp, got.Fault)
		}
	}
}

func TestStep_FireWithSensorFaultDrivesAlarmWithoutStatus(t *testing.T) {
	h := newHarness(t, true)
	h.sensors.temperature = climate.DisconnectedC
	h.sensors.fire = true
	h.node.Step(context.Background(), h.at(0))

	if !h.actuators.cooler || h.actuators.heater || h.actuators.fan != h.cfg.Climate.FanMax {
		t.Errorf("fire must drive the alarm response, got cooler=%v heater=%v fan=%d",
			h.actuators.cooler, h.actuators.heater, h.actuators.fan)
	}
	if len(statusReports(t, h.transport.sent())) != 0 {
		t.Error("no status report may carry an unusable temperature")
	}
	if v := testutil.ToFloat64(h.metrics.PublishTotal.WithLabelValues("status", "skipped")); v != 1 {
		t.Errorf("expected the skipped publish to be counted, got %f", v)
	}
}
