// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package metrics exposes the agent's Prometheus counters and gauges.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds every metric the command/expiry workers and driver update.
type Collector struct {
	registry *prometheus.Registry

	CommandsTotal      *prometheus.CounterVec
	CommandQueueDepth  prometheus.Gauge
	ExpiryQueueDepth   prometheus.Gauge
	DriverFailures     prometheus.Counter
	ActiveRules        prometheus.Gauge
}

// NewCollector builds a Collector registered against its own Prometheus
// registry, so the agent's metrics never collide with the default global
// registry another embedded library might use.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rfw_commands_total",
			Help: "Total number of commands processed by modify code.",
		}, []string{"modify"}),
		CommandQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rfw_command_queue_depth",
			Help: "Current number of commands waiting in the command queue.",
		}),
		ExpiryQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rfw_expiry_queue_depth",
			Help: "Current number of rules waiting to expire.",
		}),
		DriverFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rfw_driver_failures_total",
			Help: "Total number of packet-filter driver invocations that failed.",
		}),
		ActiveRules: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rfw_active_rules",
			Help: "Current number of rules tracked in the in-memory ruleset.",
		}),
	}
	reg.MustRegister(c.CommandsTotal, c.CommandQueueDepth, c.ExpiryQueueDepth, c.DriverFailures, c.ActiveRules)
	return c
}

// Handler returns the /metrics HTTP handler for this Collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
