/*
SPDX-FileCopyrightText: Copyright (c) 2026 LSAP-HW4 Authors. All rights reserved.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.

SPDX-License-Identifier: Apache-2.0
*/

// Package metrics exposes live benchmark telemetry on a Prometheus
// /metrics endpoint, so a long sweep can be watched from the outside while
// it runs. The endpoint is optional; a nil *Collector disables everything.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns the benchmark's Prometheus instruments on a private
// registry (no Go runtime collectors, only benchmark signals).
type Collector struct {
	registry *prometheus.Registry

	currentLevel      prometheus.Gauge
	activeSessions    prometheus.Gauge
	connectedSessions prometheus.Gauge
	spawnedSessions   prometheus.Gauge

	levelsCompleted prometheus.Counter
	packetsSent     prometheus.Counter
	packetsReceived prometheus.Counter

	latency prometheus.Histogram
}

// NewCollector creates a Collector with all instruments registered.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		currentLevel: factory.NewGauge(prometheus.GaugeOpts{
			Name: "wsbench_current_level_users",
			Help: "Requested user count of the load level currently running.",
		}),
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "wsbench_active_sessions",
			Help: "Sessions whose run loop is currently active.",
		}),
		connectedSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "wsbench_connected_sessions",
			Help: "Sessions that established their connection.",
		}),
		spawnedSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "wsbench_spawned_sessions",
			Help: "Sessions that observed a spawn event.",
		}),
		levelsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "wsbench_levels_completed_total",
			Help: "Load levels completed in this run.",
		}),
		packetsSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "wsbench_packets_sent_total",
			Help: "Frames sent across all sessions and levels.",
		}),
		packetsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "wsbench_packets_received_total",
			Help: "Frames received across all sessions and levels.",
		}),
		latency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "wsbench_latency_ms",
			Help:    "Per-tick latency samples in milliseconds.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1ms .. ~8s
		}),
	}
}

// Handler returns the HTTP handler serving the /metrics endpoint.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// StartLevel records the beginning of a load level.
func (c *Collector) StartLevel(users int) {
	if c == nil {
		return
	}
	c.currentLevel.Set(float64(users))
	c.activeSessions.Set(0)
	c.connectedSessions.Set(0)
	c.spawnedSessions.Set(0)
}

// SetSessionGauges updates the live session gauges from a driver progress
// snapshot.
func (c *Collector) SetSessionGauges(active, connected, spawned int) {
	if c == nil {
		return
	}
	c.activeSessions.Set(float64(active))
	c.connectedSessions.Set(float64(connected))
	c.spawnedSessions.Set(float64(spawned))
}

// FinishLevel records a completed level's packet totals and latency samples.
func (c *Collector) FinishLevel(packetsSent, packetsReceived int64, latencies []float64) {
	if c == nil {
		return
	}
	c.levelsCompleted.Inc()
	c.packetsSent.Add(float64(packetsSent))
	c.packetsReceived.Add(float64(packetsReceived))
	for _, l := range latencies {
		c.latency.Observe(l)
	}
	c.activeSessions.Set(0)
}

// Registry exposes the underlying registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
