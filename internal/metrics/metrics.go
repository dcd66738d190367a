// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package metrics exposes ambient Prometheus counters and gauges for the
// daemon: verdicts decided per direction, rule table size, and log ring
// drops. It is observability scaffolding only - spec §9 keeps it out of any
// packet-path decision.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the daemon's Prometheus collectors. cmd/flywall sets
// RuleTableSize once, after the startup sync; later control-plane changes
// do not update it. Nothing in the daemon sets LogRingDropped or
// FanoutDropped, so both stay at 0.
type Metrics struct {
	VerdictsTotal   *prometheus.CounterVec
	RuleTableSize   prometheus.Gauge
	LogRingDropped  prometheus.Gauge
	FanoutDropped   prometheus.Gauge
	IndexPostErrors prometheus.Counter
}

// New registers a fresh set of collectors against registry.
func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		VerdictsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flywall_verdicts_total",
			Help: "Total number of packet verdicts decided, by direction and action.",
		}, []string{"direction", "action"}),
		RuleTableSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flywall_rule_table_size",
			Help: "Number of rules currently projected onto the kernel rule table.",
		}),
		LogRingDropped: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flywall_log_ring_dropped_total",
			Help: "Number of log records dropped because the kernel ring buffer was full.",
		}),
		FanoutDropped: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flywall_log_fanout_dropped_total",
			Help: "Number of log records dropped because a fan-out subscriber's buffer was full.",
		}),
		IndexPostErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flywall_search_index_post_errors_total",
			Help: "Number of failed POSTs to the search index.",
		}),
	}

	registry.MustRegister(
		m.VerdictsTotal,
		m.RuleTableSize,
		m.LogRingDropped,
		m.FanoutDropped,
		m.IndexPostErrors,
	)
	return m
}

// Handler returns the HTTP handler to mount at the metrics endpoint.
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// ObserveVerdict implements logpipeline.Metrics: one decided verdict, keyed
// by direction ("input"/"output") and action ("pass"/"drop"/"continue").
func (m *Metrics) ObserveVerdict(direction, action string) {
	m.VerdictsTotal.WithLabelValues(direction, action).Inc()
}

// IncIndexPostError implements logpipeline.Metrics: one failed POST to the
// search index collaborator (spec §6.5).
func (m *Metrics) IncIndexPostError() {
	m.IndexPostErrors.Inc()
}
