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

// Package export persists level results. The CSV file is the primary
// artifact; Postgres and Redis sinks are optional extras for runs that
// feed dashboards.
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/CdyTim630/LSAP-hw4/pkg/stats"
)

// Sink receives one result per completed load level, in test order.
type Sink interface {
	Append(ctx context.Context, result stats.LevelResult) error
	Close(ctx context.Context) error
}

// Columns is the CSV header, one column per LevelResult field.
var Columns = []string{
	"users", "duration", "connected", "spawned", "success_rate",
	"packets_sent", "packets_received",
	"avg_latency", "median_latency", "min_latency", "max_latency",
	"p95_latency", "p99_latency", "p99_5_latency",
}

// CSVWriter appends one row per level to a timestamped results file. Rows
// are flushed per level so an interrupted sweep keeps its completed levels.
type CSVWriter struct {
	path string
	file *os.File
	w    *csv.Writer
}

// NewCSVWriter creates the results file in dir and writes the header.
func NewCSVWriter(dir string) (*CSVWriter, error) {
	timestamp := time.Now().Format("20060102_150405")
	path := filepath.Join(dir, fmt.Sprintf("websocket_benchmark_results_%s.csv", timestamp))

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create results file %s: %w", path, err)
	}

	w := csv.NewWriter(file)
	if err := w.Write(Columns); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to write results header: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to flush results header: %w", err)
	}

	return &CSVWriter{path: path, file: file, w: w}, nil
}

// Path returns the location of the results file.
func (c *CSVWriter) Path() string { return c.path }

// Append writes and flushes one result row.
func (c *CSVWriter) Append(_ context.Context, result stats.LevelResult) error {
	if err := c.w.Write(Row(result)); err != nil {
		return fmt.Errorf("failed to write result row: %w", err)
	}
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		return fmt.Errorf("failed to flush result row: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (c *CSVWriter) Close(_ context.Context) error {
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		c.file.Close()
		return err
	}
	return c.file.Close()
}

// Row formats one result in column order.
func Row(r stats.LevelResult) []string {
	return []string{
		strconv.Itoa(r.Users),
		formatFloat(r.Duration),
		strconv.Itoa(r.Connected),
		strconv.Itoa(r.Spawned),
		formatFloat(r.SuccessRate),
		strconv.FormatInt(r.PacketsSent, 10),
		strconv.FormatInt(r.PacketsReceived, 10),
		formatFloat(r.AvgLatency),
		formatFloat(r.MedianLatency),
		formatFloat(r.MinLatency),
		formatFloat(r.MaxLatency),
		formatFloat(r.P95Latency),
		formatFloat(r.P99Latency),
		formatFloat(r.P995Latency),
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
