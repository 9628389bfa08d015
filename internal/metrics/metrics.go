// Package metrics exposes Prometheus instruments for the campus hub.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "campus"

// Signal results for SignalsTotal.
const (
	SignalDelivered = "delivered"
	SignalDropped   = "dropped"
)

type Metrics struct {
	Connections   prometheus.Gauge
	PresentUsers  prometheus.Gauge
	EventsTotal   *prometheus.CounterVec
	RejectedTotal *prometheus.CounterVec
	Broadcasts    prometheus.Counter
	DroppedFrames prometheus.Counter
	SignalsTotal  *prometheus.CounterVec
	ReapedTotal   prometheus.Counter
}

// New registers the campus metrics with reg. Pass prometheus.NewRegistry() in tests
// to avoid duplicate registration against the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Currently open websocket connections",
		}),
		PresentUsers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "present_users",
			Help:      "Users currently in the presence table",
		}),
		EventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Inbound events processed, by type",
		}, []string{"type"}),
		RejectedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_total",
			Help:      "Inbound events rejected as malformed, by type",
		}, []string{"type"}),
		Broadcasts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcasts_total",
			Help:      "Presence snapshots broadcast",
		}),
		DroppedFrames: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_frames_total",
			Help:      "Outbound frames dropped because a client's send buffer was full",
		}),
		SignalsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_total",
			Help:      "Voice signals relayed, by result",
		}, []string{"result"}),
		ReapedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reaped_total",
			Help:      "Presence records removed for inactivity",
		}),
	}
}
