// Package metrics holds the prometheus collectors for presence and
// messaging.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "netless"

// Relay outcomes.
const (
	RelayLive    = "live"
	RelayOffline = "offline"
	RelayFailed  = "failed"
)

// Metrics groups every collector. Each instance owns its registry so tests
// can build as many as they like.
type Metrics struct {
	Registry *prometheus.Registry

	OnlineUsers prometheus.Gauge
	Connections prometheus.Gauge
	Events      *prometheus.CounterVec
	Relays      *prometheus.CounterVec
	Demoted     prometheus.Counter
	Sweeps      *prometheus.CounterVec
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		OnlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "presence",
			Name:      "online_users",
			Help:      "Users with at least one live gateway connection.",
		}),
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "connections",
			Help:      "Open gateway connections.",
		}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "events_total",
			Help:      "Inbound gateway events by name.",
		}, []string{"event"}),
		Relays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "relayed_total",
			Help:      "Stored messages by relay outcome.",
		}, []string{"outcome"}),
		Demoted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "presence",
			Name:      "reconciler_demoted_total",
			Help:      "Users forced offline by the stale presence sweep.",
		}),
		Sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "presence",
			Name:      "reconciler_sweeps_total",
			Help:      "Reconciler sweeps by result.",
		}, []string{"result"}),
	}

	m.Registry.MustRegister(
		m.OnlineUsers,
		m.Connections,
		m.Events,
		m.Relays,
		m.Demoted,
		m.Sweeps,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
