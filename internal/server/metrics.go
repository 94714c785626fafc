package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "roomchat"

const requestKindLabel = "kind"

// Metrics holds the Prometheus collectors updated by the registry and sessions.
type Metrics struct {
	Sessions          prometheus.Gauge
	Rooms             prometheus.Gauge
	Requests          *prometheus.CounterVec
	Deliveries        prometheus.Counter
	DroppedDeliveries prometheus.Counter
	HeartbeatTimeouts prometheus.Counter
}

// NewMetrics creates the collectors and registers them with r. A nil
// registerer leaves them unregistered, which tests rely on.
func NewMetrics(r prometheus.Registerer) *Metrics {
	m := &Metrics{
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "sessions",
			Help:      "number of sessions registered with the room registry",
		}),
		Rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "rooms",
			Help:      "number of rooms known to the room registry",
		}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "registry_requests_total",
			Help:      "registry requests processed, by kind",
		}, []string{requestKindLabel}),
		Deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "deliveries_total",
			Help:      "texts handed to session handles",
		}),
		DroppedDeliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "dropped_deliveries_total",
			Help:      "texts a session handle refused because it was closed or full",
		}),
		HeartbeatTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "heartbeat_timeouts_total",
			Help:      "sessions closed because the peer stopped answering",
		}),
	}
	if r != nil {
		r.MustRegister(m.Sessions, m.Rooms, m.Requests, m.Deliveries, m.DroppedDeliveries, m.HeartbeatTimeouts)
	}
	return m
}
