package mqtt

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// clientStat holds per-client prometheus metrics. Each Client owns
// its own clientStat and registers it against a caller-supplied
// prometheus.Registerer rather than a package-level default-registry
// singleton, so embedding applications running many clients don't
// collide on metric names.
type clientStat struct {
	ActiveConnections prometheus.Gauge
	PacketReceived    prometheus.Counter
	ByteReceived      prometheus.Counter
	PacketSent        prometheus.Counter
	ByteSent          prometheus.Counter
	ReconnectAttempts prometheus.Counter

	registerOnce sync.Once
}

func newClientStat(clientID string) *clientStat {
	labels := prometheus.Labels{"client_id": clientID}
	return &clientStat{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mqtt_client_active_connections", Help: "Number of currently established broker connections", ConstLabels: labels,
		}),
		PacketReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mqtt_client_packets_received_total", Help: "Total MQTT control packets received", ConstLabels: labels,
		}),
		ByteReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mqtt_client_bytes_received_total", Help: "Total bytes read from the transport", ConstLabels: labels,
		}),
		PacketSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mqtt_client_packets_sent_total", Help: "Total MQTT control packets sent", ConstLabels: labels,
		}),
		ByteSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mqtt_client_bytes_sent_total", Help: "Total bytes written to the transport", ConstLabels: labels,
		}),
		ReconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mqtt_client_reconnects_total", Help: "Total reconnect attempts made by the retry loop", ConstLabels: labels,
		}),
	}
}

// Register registers every metric against reg exactly once. A nil reg
// is a no-op so metrics stay optional for callers that never set
// ClientOptions.MetricsRegisterer.
func (s *clientStat) Register(reg prometheus.Registerer) {
	if reg == nil {
		return
	}
	s.registerOnce.Do(func() {
		reg.MustRegister(s.ActiveConnections, s.PacketReceived, s.ByteReceived, s.PacketSent, s.ByteSent, s.ReconnectAttempts)
	})
}
