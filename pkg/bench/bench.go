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

// Package bench orchestrates a full benchmark run: pre-flight reachability
// probe, ascending sweep over the configured user counts, per-level
// aggregation and persistence, and the end-of-sweep summary. The persisted
// CSV is the hand-off artifact for external charting.
//
// No level's outcome affects whether later levels run; the sweep is
// exhaustive over the configured list. The only fatal condition is the
// pre-flight probe failing, which aborts the run before any level executes.
package bench

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/CdyTim630/LSAP-hw4/pkg/args"
	"github.com/CdyTim630/LSAP-hw4/pkg/driver"
	"github.com/CdyTim630/LSAP-hw4/pkg/export"
	"github.com/CdyTim630/LSAP-hw4/pkg/metrics"
	"github.com/CdyTim630/LSAP-hw4/pkg/session"
	"github.com/CdyTim630/LSAP-hw4/pkg/stats"
)

// PreflightRemediation is shown to the operator when the pre-flight probe
// fails: total unreachability must never be masked by per-level failures.
var PreflightRemediation = []string{
	"check that the game server is running: sudo systemctl status shooter-game",
	"check that the port is open: netstat -tuln | grep 8080",
	"or start the server manually: cd ~/minimal-shooter-game && npm start",
}

// Benchmark sweeps the configured load levels against one target server.
type Benchmark struct {
	// DriverConfig may be adjusted between New and Run (tests shrink the
	// settle and progress intervals).
	DriverConfig driver.Config

	args      args.BenchArgs
	logger    *slog.Logger
	collector *metrics.Collector
	sinks     []export.Sink
}

// New creates a Benchmark. The collector may be nil; sinks receive one
// result per completed level in test order.
func New(a args.BenchArgs, logger *slog.Logger, collector *metrics.Collector, sinks ...export.Sink) *Benchmark {
	if logger == nil {
		logger = slog.Default()
	}
	driverCfg := driver.DefaultConfig(sessionConfig(a), a.Duration)
	driverCfg.BatchSize = a.BatchSize
	driverCfg.BatchDelay = a.BatchDelay
	return &Benchmark{
		DriverConfig: driverCfg,
		args:         a,
		logger:       logger,
		collector:    collector,
		sinks:        sinks,
	}
}

// sessionConfig applies the configured timeouts onto the default session
// timing.
func sessionConfig(a args.BenchArgs) session.Config {
	cfg := session.DefaultConfig(a.ServerURL)
	cfg.ConnectTimeout = a.ConnectTimeout
	cfg.ReceiveTimeout = a.ReceiveTimeout
	cfg.CloseTimeout = a.CloseTimeout
	cfg.TickInterval = a.TickInterval
	return cfg
}

// Preflight verifies the target server accepts a trivial connection within
// the connect timeout, then closes it.
func (b *Benchmark) Preflight(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: b.args.ConnectTimeout}
	dialCtx, cancel := context.WithTimeout(ctx, b.args.ConnectTimeout)
	defer cancel()

	conn, _, err := dialer.DialContext(dialCtx, b.args.ServerURL, nil)
	if err != nil {
		return fmt.Errorf("game server unreachable at %s: %w", b.args.ServerURL, err)
	}
	conn.Close()
	return nil
}

// Run executes the full sweep and returns one result per completed level,
// ordered by test order. A pre-flight failure returns an error and no
// results; per-level session failures only reduce the aggregates.
func (b *Benchmark) Run(ctx context.Context) ([]stats.LevelResult, error) {
	if err := b.Preflight(ctx); err != nil {
		b.logger.Error("pre-flight probe failed, aborting benchmark",
			slog.String("error", err.Error()))
		for _, step := range PreflightRemediation {
			b.logger.Error("remediation: " + step)
		}
		return nil, err
	}
	b.logger.Info("pre-flight probe succeeded",
		slog.String("server", b.args.ServerURL),
		slog.Any("levels", b.args.UserCounts),
		slog.Duration("window", b.args.Duration))

	d := driver.New(b.DriverConfig, b.logger, b.collector)

	var results []stats.LevelResult
	for i, users := range b.args.UserCounts {
		if ctx.Err() != nil {
			b.logger.Warn("sweep interrupted", slog.Int("completed_levels", len(results)))
			break
		}

		b.logger.Info("starting load level",
			slog.Int("users", users), slog.Duration("window", b.DriverConfig.Window))

		outcome := d.RunLevel(ctx, users)
		result := stats.Summarize(outcome.Snapshots, users, outcome.Duration)
		results = append(results, result)

		var pooled []float64
		for _, snap := range outcome.Snapshots {
			pooled = append(pooled, snap.Latencies...)
		}
		b.collector.FinishLevel(result.PacketsSent, result.PacketsReceived, pooled)

		b.logLevelResult(result)
		b.persist(ctx, result)

		if i < len(b.args.UserCounts)-1 && ctx.Err() == nil {
			b.logger.Info("draining before next level",
				slog.Duration("delay", b.args.LevelDelay))
			b.sleep(ctx, b.args.LevelDelay)
		}
	}

	b.printSummary(results)
	return results, nil
}

// persist hands the result to every sink. A sink failure is logged, not
// fatal: losing one export target must not stop the sweep.
func (b *Benchmark) persist(ctx context.Context, result stats.LevelResult) {
	for _, sink := range b.sinks {
		if err := sink.Append(ctx, result); err != nil {
			b.logger.Error("failed to persist level result",
				slog.Int("users", result.Users),
				slog.String("error", err.Error()))
		}
	}
}

func (b *Benchmark) logLevelResult(r stats.LevelResult) {
	b.logger.Info("load level complete",
		slog.Int("users", r.Users),
		slog.String("duration", fmt.Sprintf("%.2fs", r.Duration)),
		slog.Int("connected", r.Connected),
		slog.Int("spawned", r.Spawned),
		slog.String("success_rate", fmt.Sprintf("%.1f%%", r.SuccessRate)),
		slog.Int64("packets_sent", r.PacketsSent),
		slog.Int64("packets_received", r.PacketsReceived),
		slog.String("avg", fmt.Sprintf("%.2fms", r.AvgLatency)),
		slog.String("median", fmt.Sprintf("%.2fms", r.MedianLatency)),
		slog.String("p95", fmt.Sprintf("%.2fms", r.P95Latency)),
		slog.String("p99", fmt.Sprintf("%.2fms", r.P99Latency)),
		slog.String("p99.5", fmt.Sprintf("%.2fms", r.P995Latency)))
}

// printSummary writes the end-of-sweep comparison table to stdout.
func (b *Benchmark) printSummary(results []stats.LevelResult) {
	if len(results) == 0 {
		return
	}
	fmt.Println()
	fmt.Printf("%-8s %-10s %-12s %-12s %-12s %-12s\n",
		"users", "success", "avg", "p95", "p99", "p99.5")
	fmt.Println("----------------------------------------------------------------------")
	for _, r := range results {
		fmt.Printf("%-8d %-10s %-12s %-12s %-12s %-12s\n",
			r.Users,
			fmt.Sprintf("%.1f%%", r.SuccessRate),
			fmt.Sprintf("%.2fms", r.AvgLatency),
			fmt.Sprintf("%.2fms", r.P95Latency),
			fmt.Sprintf("%.2fms", r.P99Latency),
			fmt.Sprintf("%.2fms", r.P995Latency))
	}
	fmt.Println()
}

func (b *Benchmark) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
