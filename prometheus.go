// Copyright 2015 The Govisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cfork

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetricsCollector implements MetricsCollector with Prometheus
// metrics held in a private registry.
type PrometheusMetricsCollector struct {
	spawns      *prometheus.CounterVec
	spawnErrors *prometheus.CounterVec
	disconnects *prometheus.CounterVec
	exits       *prometheus.CounterVec
	denials     prometheus.Counter
	windowSize  prometheus.Gauge
	live        *prometheus.GaugeVec

	registry *prometheus.Registry
}

// NewPrometheusMetricsCollector creates the collector.  An empty namespace
// means "cfork".
func NewPrometheusMetricsCollector(namespace string) *PrometheusMetricsCollector {
	if namespace == "" {
		namespace = "cfork"
	}

	pmc := &PrometheusMetricsCollector{
		registry: prometheus.NewRegistry(),
	}

	pmc.spawns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spawns_total",
			Help:      "Total number of processes spawned",
		},
		[]string{"kind", "respawn"},
	)

	pmc.spawnErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spawn_errors_total",
			Help:      "Total number of failed spawn attempts",
		},
		[]string{"kind"},
	)

	pmc.disconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disconnects_total",
			Help:      "Total number of control channel disconnects",
		},
		[]string{"kind"},
	)

	pmc.exits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exits_total",
			Help:      "Total number of process exits by classification",
		},
		[]string{"kind", "termination"},
	)

	pmc.denials = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refork_denied_total",
			Help:      "Total number of respawns refused by the rate limiter",
		},
	)

	pmc.windowSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "refork_window_size",
			Help:      "Number of respawn attempts in the rate limiter window",
		},
	)

	pmc.live = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_processes",
			Help:      "Number of registered processes",
		},
		[]string{"kind"},
	)

	pmc.registry.MustRegister(
		pmc.spawns,
		pmc.spawnErrors,
		pmc.disconnects,
		pmc.exits,
		pmc.denials,
		pmc.windowSize,
		pmc.live,
	)

	return pmc
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func (pmc *PrometheusMetricsCollector) WorkerSpawned(kind Kind, respawn bool) {
	pmc.spawns.WithLabelValues(kind.String(), boolLabel(respawn)).Inc()
}

func (pmc *PrometheusMetricsCollector) SpawnFailed(kind Kind) {
	pmc.spawnErrors.WithLabelValues(kind.String()).Inc()
}

func (pmc *PrometheusMetricsCollector) WorkerDisconnected(kind Kind) {
	pmc.disconnects.WithLabelValues(kind.String()).Inc()
}

func (pmc *PrometheusMetricsCollector) WorkerExited(kind Kind, t Termination) {
	pmc.exits.WithLabelValues(kind.String(), t.String()).Inc()
}

func (pmc *PrometheusMetricsCollector) ReforkDenied() {
	pmc.denials.Inc()
}

func (pmc *PrometheusMetricsCollector) ReforkWindow(size int) {
	pmc.windowSize.Set(float64(size))
}

func (pmc *PrometheusMetricsCollector) LiveWorkers(kind Kind, n int) {
	pmc.live.WithLabelValues(kind.String()).Set(float64(n))
}

// Registry returns the Prometheus registry for HTTP handler setup.
func (pmc *PrometheusMetricsCollector) Registry() *prometheus.Registry {
	return pmc.registry
}

var _ MetricsCollector = (*PrometheusMetricsCollector)(nil)
