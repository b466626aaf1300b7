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

// Package driver launches and supervises all sessions of one load level.
//
// Sessions are launched in fixed-size batches with an inter-batch delay.
// The batching is admission control for the target server's accept path,
// not a client correctness requirement. The driver owns a WaitGroup over
// every session goroutine, so shutdown joins every handle deterministically
// before the aggregator reads any counters.
package driver

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/CdyTim630/LSAP-hw4/pkg/metrics"
	"github.com/CdyTim630/LSAP-hw4/pkg/session"
)

// Config holds the launch and supervision knobs for one load level.
type Config struct {
	Session session.Config
	Window  time.Duration // observation window per level

	BatchSize        int
	BatchDelay       time.Duration
	SettleDelay      time.Duration
	ProgressInterval time.Duration
}

// DefaultConfig returns the standard driver timing: batches of 50 one
// second apart, a 5s connection settle, progress snapshots every 10s.
func DefaultConfig(sessionCfg session.Config, window time.Duration) Config {
	return Config{
		Session:          sessionCfg,
		Window:           window,
		BatchSize:        50,
		BatchDelay:       time.Second,
		SettleDelay:      5 * time.Second,
		ProgressInterval: 10 * time.Second,
	}
}

// Outcome references all session snapshots of a completed level plus the
// measured wall-clock duration of the run. Snapshots are taken after every
// session goroutine has been joined.
type Outcome struct {
	Snapshots []session.Stats
	Duration  time.Duration
}

// Driver runs load levels. The collector may be nil.
type Driver struct {
	cfg       Config
	logger    *slog.Logger
	collector *metrics.Collector
}

// New creates a Driver. A nil logger falls back to slog.Default().
func New(cfg Config, logger *slog.Logger, collector *metrics.Collector) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{cfg: cfg, logger: logger, collector: collector}
}

// RunLevel launches users sessions, holds them through the observation
// window, then signals shutdown and joins every session. An individual
// session failing to connect never aborts the level; it contributes zero
// samples to the outcome.
func (d *Driver) RunLevel(ctx context.Context, users int) *Outcome {
	start := time.Now()
	d.collector.StartLevel(users)

	sessions := make([]*session.Session, users)
	for i := range sessions {
		sessions[i] = session.New(i, d.cfg.Session)
	}

	var wg sync.WaitGroup
	for batchStart := 0; batchStart < users; batchStart += d.cfg.BatchSize {
		batchEnd := batchStart + d.cfg.BatchSize
		if batchEnd > users {
			batchEnd = users
		}
		d.logger.Info("launching session batch",
			slog.Int("from", batchStart+1), slog.Int("to", batchEnd), slog.Int("users", users))

		for _, s := range sessions[batchStart:batchEnd] {
			wg.Add(1)
			go func(s *session.Session) {
				defer wg.Done()
				s.Run(ctx, d.cfg.Window)
			}(s)
		}
		d.sleep(ctx, d.cfg.BatchDelay)
	}

	// Let connections stabilize, then report how the level came up.
	d.sleep(ctx, d.cfg.SettleDelay)
	connected, spawned, active := countSessions(sessions)
	d.collector.SetSessionGauges(active, connected, spawned)
	d.logger.Info("sessions settled",
		slog.Int("connected", connected), slog.Int("spawned", spawned), slog.Int("users", users))

	// Wait out the remainder of the window with coarse progress snapshots.
	deadline := time.Now().Add(d.cfg.Window)
	for ctx.Err() == nil {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		step := d.cfg.ProgressInterval
		if remaining < step {
			step = remaining
		}
		d.sleep(ctx, step)

		connected, spawned, active = countSessions(sessions)
		d.collector.SetSessionGauges(active, connected, spawned)
		d.logger.Info("level progress",
			slog.Int("active", active),
			slog.Int("spawned", spawned),
			slog.Int("users", users),
			slog.Duration("remaining", time.Until(deadline).Round(time.Second)))
	}

	// Coordinated shutdown: clear every running flag, then join all handles.
	for _, s := range sessions {
		s.Stop()
	}
	wg.Wait()

	snapshots := make([]session.Stats, len(sessions))
	for i, s := range sessions {
		snapshots[i] = s.Snapshot()
	}

	return &Outcome{
		Snapshots: snapshots,
		Duration:  time.Since(start),
	}
}

func countSessions(sessions []*session.Session) (connected, spawned, active int) {
	for _, s := range sessions {
		if s.Connected() {
			connected++
		}
		if s.Spawned() {
			spawned++
		}
		if s.Running() {
			active++
		}
	}
	return connected, spawned, active
}

func (d *Driver) sleep(ctx context.Context, dur time.Duration) {
	if dur <= 0 {
		return
	}
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
