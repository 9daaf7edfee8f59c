// Package metrics exposes the daemon's Prometheus collectors. Gauges for the
// pending-request registries are driven by their broadcast feeds, so the
// numbers stay true without polling.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every collector under one registry.
type Metrics struct {
	registry *prometheus.Registry

	PendingRequests *prometheus.GaugeVec
	ConnectedTabs   prometheus.Gauge
	FramesTotal     *prometheus.CounterVec
	SettledTotal    *prometheus.CounterVec
	AccountsTotal   prometheus.Gauge
}

// New creates and registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		PendingRequests: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "walletgate_pending_requests",
			Help: "Requests currently awaiting a user decision, by kind.",
		}, []string{"kind"}),
		ConnectedTabs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "walletgate_connected_tabs",
			Help: "Page connections currently attached to the gateway.",
		}),
		FramesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "walletgate_frames_total",
			Help: "Message frames handled, by trust domain and result.",
		}, []string{"domain", "result"}),
		SettledTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "walletgate_requests_settled_total",
			Help: "Pending requests settled, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		AccountsTotal: factory.NewGauge(prometheus.GaugeOpts{
			Name: "walletgate_accounts_total",
			Help: "Accounts currently held in the keyring.",
		}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
