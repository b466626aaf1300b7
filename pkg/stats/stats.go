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

// Package stats aggregates per-session counters and latency samples into
// one immutable result record per load level.
//
// Percentile index selection is floor(p * N) on the zero-indexed sorted
// sample sequence; results stay comparable across runs only if this rule
// never changes. An empty pooled sequence yields all-zero latency
// statistics rather than an error.
package stats

import (
	"sort"
	"time"

	"github.com/CdyTim630/LSAP-hw4/pkg/session"
)

// LevelResult is the aggregate record for one tested concurrency level.
// Immutable once constructed; field order mirrors the export columns.
type LevelResult struct {
	Users           int     `json:"users"`
	Duration        float64 `json:"duration"` // seconds, wall clock for the level
	Connected       int     `json:"connected"`
	Spawned         int     `json:"spawned"`
	SuccessRate     float64 `json:"success_rate"` // percent connected
	PacketsSent     int64   `json:"packets_sent"`
	PacketsReceived int64   `json:"packets_received"`

	// Latency statistics in milliseconds over the pooled samples.
	AvgLatency    float64 `json:"avg_latency"`
	MedianLatency float64 `json:"median_latency"`
	MinLatency    float64 `json:"min_latency"`
	MaxLatency    float64 `json:"max_latency"`
	P95Latency    float64 `json:"p95_latency"`
	P99Latency    float64 `json:"p99_latency"`
	P995Latency   float64 `json:"p99_5_latency"`
}

// Summarize pools the sessions' snapshots into one LevelResult. Snapshots
// must be taken after every session task has been joined; the pooled
// sequence is the concatenation of all sessions' samples in session order,
// each session's samples in recorded order.
func Summarize(snapshots []session.Stats, users int, duration time.Duration) LevelResult {
	result := LevelResult{
		Users:    users,
		Duration: duration.Seconds(),
	}

	var pooled []float64
	for _, snap := range snapshots {
		if snap.Connected {
			result.Connected++
		}
		if snap.Spawned {
			result.Spawned++
		}
		result.PacketsSent += snap.PacketsSent
		result.PacketsReceived += snap.PacketsReceived
		pooled = append(pooled, snap.Latencies...)
	}

	if users > 0 {
		result.SuccessRate = float64(result.Connected) / float64(users) * 100
	}

	if len(pooled) == 0 {
		return result
	}

	sorted := make([]float64, len(pooled))
	copy(sorted, pooled)
	sort.Float64s(sorted)

	var sum float64
	for _, l := range sorted {
		sum += l
	}
	result.AvgLatency = sum / float64(len(sorted))
	result.MinLatency = sorted[0]
	result.MaxLatency = sorted[len(sorted)-1]
	result.MedianLatency = sorted[len(sorted)/2]
	result.P95Latency = Percentile(sorted, 0.95)
	result.P99Latency = Percentile(sorted, 0.99)
	result.P995Latency = Percentile(sorted, 0.995)

	return result
}

// Percentile selects sorted[floor(p*N)]. The slice must be sorted and
// non-empty, and p must be in [0, 1).
func Percentile(sorted []float64, p float64) float64 {
	return sorted[int(float64(len(sorted))*p)]
}
