package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the node collectors on a private registry
type Metrics struct {
	registry *prometheus.Registry

	MessagesReceived prometheus.Counter
	DecodeErrors     *prometheus.CounterVec
	PublishTotal     *prometheus.CounterVec
	SensorFaults     prometheus.Counter
	Reconnects       prometheus.Counter
	PeersActive      prometheus.Gauge
	PeersKnown       prometheus.Gauge
	Hotspot          prometheus.Gauge
	Temperature      prometheus.Gauge
	FanSpeed         prometheus.Gauge
	Mode             *prometheus.GaugeVec
}

// New registers all collectors for the node identified by ident
func New(ident string) *Metrics {
	labels := prometheus.Labels{"node": ident}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		MessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hotspot_messages_received_total", Help: "Messages drained from the transport.", ConstLabels: labels,
		}),
		DecodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hotspot_decode_errors_total", Help: "Inbound messages dropped by the codec.", ConstLabels: labels,
		}, []string{"reason"}),
		PublishTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hotspot_publish_total", Help: "Outbound publish attempts by result.", ConstLabels: labels,
		}, []string{"kind", "result"}),
		SensorFaults: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hotspot_sensor_faults_total", Help: "Control cycles with a rejected temperature reading.", ConstLabels: labels,
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hotspot_reconnects_total", Help: "Successful broker (re)connections.", ConstLabels: labels,
		}),
		PeersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hotspot_peers_active", Help: "Neighbors within the staleness window.", ConstLabels: labels,
		}),
		PeersKnown: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hotspot_peers_known", Help: "Neighbor records held, stale ones included.", ConstLabels: labels,
		}),
		Hotspot: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hotspot_is_hotspot", Help: "1 when this node is the elected hotspot.", ConstLabels: labels,
		}),
		Temperature: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hotspot_temperature_celsius", Help: "Last accepted temperature reading.", ConstLabels: labels,
		}),
		FanSpeed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hotspot_fan_speed", Help: "Commanded fan speed.", ConstLabels: labels,
		}),
		Mode: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hotspot_mode", Help: "1 for the active climate mode.", ConstLabels: labels,
		}, []string{"mode"}),
	}

	m.registry.MustRegister(
		m.MessagesReceived, m.DecodeErrors, m.PublishTotal, m.SensorFaults, m.Reconnects,
		m.PeersActive, m.PeersKnown, m.Hotspot, m.Temperature, m.FanSpeed, m.Mode,
	)
	return m
}

// SetMode marks mode as the only active one among modes
func (m *Metrics) SetMode(mode string, modes []string) {
	for _, name := range modes {
		v := 0.0
		if name == mode {
			v = 1
		}
		m.Mode.WithLabelValues(name).Set(v)
	}
}

// SetBool sets g to 1 or 0
func SetBool(g prometheus.Gauge, v bool) {
	if v {
		g.Set(1)
		return
	}
	g.Set(0)
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
