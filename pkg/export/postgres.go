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

package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/CdyTim630/LSAP-hw4/pkg/stats"
)

const resultsSchema = `
CREATE TABLE IF NOT EXISTS wsbench_results (
	id               BIGSERIAL PRIMARY KEY,
	run_id           TEXT NOT NULL,
	recorded_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	users            INTEGER NOT NULL,
	duration         DOUBLE PRECISION NOT NULL,
	connected        INTEGER NOT NULL,
	spawned          INTEGER NOT NULL,
	success_rate     DOUBLE PRECISION NOT NULL,
	packets_sent     BIGINT NOT NULL,
	packets_received BIGINT NOT NULL,
	avg_latency      DOUBLE PRECISION NOT NULL,
	median_latency   DOUBLE PRECISION NOT NULL,
	min_latency      DOUBLE PRECISION NOT NULL,
	max_latency      DOUBLE PRECISION NOT NULL,
	p95_latency      DOUBLE PRECISION NOT NULL,
	p99_latency      DOUBLE PRECISION NOT NULL,
	p99_5_latency    DOUBLE PRECISION NOT NULL
)`

const insertResult = `
INSERT INTO wsbench_results (
	run_id, users, duration, connected, spawned, success_rate,
	packets_sent, packets_received,
	avg_latency, median_latency, min_latency, max_latency,
	p95_latency, p99_latency, p99_5_latency
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

// PostgresSink stores one row per level in a wsbench_results table, keyed
// by the run id so sweeps can be compared across runs.
type PostgresSink struct {
	pool   *pgxpool.Pool
	runID  string
	logger *slog.Logger
}

// NewPostgresSink connects with connection pooling, verifies the
// connection, and creates the results table if it does not exist.
func NewPostgresSink(ctx context.Context, url, runID string, logger *slog.Logger) (*PostgresSink, error) {
	if logger == nil {
		logger = slog.Default()
	}

	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres url: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, resultsSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ensure results table: %w", err)
	}

	logger.Info("postgres result sink connected", slog.String("run_id", runID))

	return &PostgresSink{pool: pool, runID: runID, logger: logger}, nil
}

// Append inserts one level result row.
func (p *PostgresSink) Append(ctx context.Context, r stats.LevelResult) error {
	_, err := p.pool.Exec(ctx, insertResult,
		p.runID, r.Users, r.Duration, r.Connected, r.Spawned, r.SuccessRate,
		r.PacketsSent, r.PacketsReceived,
		r.AvgLatency, r.MedianLatency, r.MinLatency, r.MaxLatency,
		r.P95Latency, r.P99Latency, r.P995Latency,
	)
	if err != nil {
		return fmt.Errorf("failed to insert result for %d users: %w", r.Users, err)
	}
	p.logger.Debug("result row stored",
		slog.Int("users", r.Users), slog.String("run_id", p.runID))
	return nil
}

// Close releases the connection pool.
func (p *PostgresSink) Close(_ context.Context) error {
	p.logger.Info("closing postgres result sink")
	p.pool.Close()
	return nil
}
