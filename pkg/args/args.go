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

// Package args parses the benchmark configuration surface.
//
// Precedence, lowest to highest: built-in defaults, environment variables,
// YAML config file (-config), explicitly set command-line flags.
package args

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/CdyTim630/LSAP-hw4/utils"
	"github.com/CdyTim630/LSAP-hw4/utils/logging"
)

// BenchArgs holds the full benchmark configuration.
type BenchArgs struct {
	ServerURL  string
	UserCounts []int

	Duration   time.Duration // observation window per load level
	BatchSize  int
	BatchDelay time.Duration
	LevelDelay time.Duration

	ConnectTimeout time.Duration
	ReceiveTimeout time.Duration
	CloseTimeout   time.Duration
	TickInterval   time.Duration

	OutputDir   string
	MetricsAddr string // empty disables the telemetry endpoint

	PostgresURL  string // empty disables the Postgres result sink
	RedisAddr    string // empty disables the Redis live publisher
	RedisChannel string

	Logging logging.Config
}

// DefaultArgs returns the standard setup: a local game server swept from
// 1 to 1000 users, two minutes per level.
func DefaultArgs() BenchArgs {
	return BenchArgs{
		ServerURL:      "ws://localhost:8080/ffa",
		UserCounts:     DefaultUserCounts(),
		Duration:       120 * time.Second,
		BatchSize:      50,
		BatchDelay:     time.Second,
		LevelDelay:     10 * time.Second,
		ConnectTimeout: 5 * time.Second,
		ReceiveTimeout: time.Second,
		CloseTimeout:   time.Second,
		TickInterval:   50 * time.Millisecond,
		OutputDir:      ".",
		RedisChannel:   "wsbench:results",
	}
}

// DefaultUserCounts returns the default sweep: [1, 100, 200, ..., 1000].
func DefaultUserCounts() []int {
	counts := []int{1}
	for n := 100; n <= 1000; n += 100 {
		counts = append(counts, n)
	}
	return counts
}

// ParseUserCounts parses a comma-separated sweep list like "1,100,200".
func ParseUserCounts(s string) ([]int, error) {
	var counts []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid user count %q: %w", part, err)
		}
		if n <= 0 {
			return nil, fmt.Errorf("user count must be positive, got %d", n)
		}
		counts = append(counts, n)
	}
	if len(counts) == 0 {
		return nil, fmt.Errorf("empty user count list")
	}
	return counts, nil
}

// fileConfig is the YAML config file schema. Durations are Go duration
// strings ("120s", "50ms").
type fileConfig struct {
	ServerURL      string `yaml:"server_url"`
	UserCounts     []int  `yaml:"user_counts"`
	Duration       string `yaml:"duration"`
	BatchSize      int    `yaml:"batch_size"`
	BatchDelay     string `yaml:"batch_delay"`
	LevelDelay     string `yaml:"level_delay"`
	ConnectTimeout string `yaml:"connect_timeout"`
	ReceiveTimeout string `yaml:"receive_timeout"`
	CloseTimeout   string `yaml:"close_timeout"`
	TickInterval   string `yaml:"tick_interval"`
	OutputDir      string `yaml:"output_dir"`
	MetricsAddr    string `yaml:"metrics_addr"`
	PostgresURL    string `yaml:"postgres_url"`
	RedisAddr      string `yaml:"redis_addr"`
	RedisChannel   string `yaml:"redis_channel"`
}

// applyFile overlays a YAML config file onto a. Unset fields keep their
// current values.
func applyFile(a *BenchArgs, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if fc.ServerURL != "" {
		a.ServerURL = fc.ServerURL
	}
	if len(fc.UserCounts) > 0 {
		a.UserCounts = fc.UserCounts
	}
	if fc.BatchSize > 0 {
		a.BatchSize = fc.BatchSize
	}
	if fc.OutputDir != "" {
		a.OutputDir = fc.OutputDir
	}
	if fc.MetricsAddr != "" {
		a.MetricsAddr = fc.MetricsAddr
	}
	if fc.PostgresURL != "" {
		a.PostgresURL = fc.PostgresURL
	}
	if fc.RedisAddr != "" {
		a.RedisAddr = fc.RedisAddr
	}
	if fc.RedisChannel != "" {
		a.RedisChannel = fc.RedisChannel
	}

	durations := []struct {
		raw  string
		dst  *time.Duration
		name string
	}{
		{fc.Duration, &a.Duration, "duration"},
		{fc.BatchDelay, &a.BatchDelay, "batch_delay"},
		{fc.LevelDelay, &a.LevelDelay, "level_delay"},
		{fc.ConnectTimeout, &a.ConnectTimeout, "connect_timeout"},
		{fc.ReceiveTimeout, &a.ReceiveTimeout, "receive_timeout"},
		{fc.CloseTimeout, &a.CloseTimeout, "close_timeout"},
		{fc.TickInterval, &a.TickInterval, "tick_interval"},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("invalid %s in config file: %w", d.name, err)
		}
		*d.dst = parsed
	}

	return nil
}

// BenchParse parses command line arguments, the environment, and the
// optional YAML config file into BenchArgs.
func BenchParse() (BenchArgs, error) {
	return parseArgs(flag.CommandLine, os.Args[1:])
}

// parseArgs layers the configuration sources onto the defaults, lowest
// precedence first: WSBENCH_* environment variables, the YAML config file,
// explicitly set flags.
func parseArgs(fs *flag.FlagSet, arguments []string) (BenchArgs, error) {
	defaults := DefaultArgs()

	configFile := fs.String("config",
		utils.GetEnv("WSBENCH_CONFIG_FILE", ""),
		"Optional YAML config file.")
	serverURL := fs.String("server",
		utils.GetEnv("WSBENCH_SERVER_URL", defaults.ServerURL),
		"Game server WebSocket endpoint.")
	users := fs.String("users", "",
		"Comma-separated sweep of concurrent user counts. Default 1,100,200,...,1000.")
	duration := fs.Duration("duration", defaults.Duration,
		"Observation window per load level.")
	batchSize := fs.Int("batch-size",
		utils.GetEnvInt("WSBENCH_BATCH_SIZE", defaults.BatchSize),
		"Sessions launched per batch.")
	batchDelay := fs.Duration("batch-delay", defaults.BatchDelay,
		"Delay between session launch batches.")
	levelDelay := fs.Duration("level-delay", defaults.LevelDelay,
		"Drain delay between load levels.")
	connectTimeout := fs.Duration("connect-timeout", defaults.ConnectTimeout,
		"Per-session connect timeout.")
	receiveTimeout := fs.Duration("receive-timeout", defaults.ReceiveTimeout,
		"Bound on receive-loop teardown at disconnect.")
	closeTimeout := fs.Duration("close-timeout", defaults.CloseTimeout,
		"Connection close timeout.")
	tickInterval := fs.Duration("tick-interval", defaults.TickInterval,
		"Pause between input sends within a session (50ms = 20 sends/s).")
	outputDir := fs.String("output-dir", defaults.OutputDir,
		"Directory for the CSV result file.")
	metricsAddr := fs.String("metrics-addr",
		utils.GetEnv("WSBENCH_METRICS_ADDR", ""),
		"Listen address for the Prometheus /metrics endpoint. Empty disables it.")
	postgresURL := fs.String("postgres-url",
		utils.GetEnv("WSBENCH_POSTGRES_URL", ""),
		"Postgres URL for the result sink. Empty disables it.")
	redisAddr := fs.String("redis-addr",
		utils.GetEnv("WSBENCH_REDIS_ADDR", ""),
		"Redis host:port for the live result publisher. Empty disables it.")
	redisChannel := fs.String("redis-channel", defaults.RedisChannel,
		"Redis channel for per-level result publishes.")
	logFlags := logging.RegisterFlags(fs)

	if err := fs.Parse(arguments); err != nil {
		return BenchArgs{}, err
	}

	// Env-backed flag defaults must take effect even when the flag itself
	// is never passed.
	parsed := defaults
	parsed.ServerURL = *serverURL
	parsed.BatchSize = *batchSize
	parsed.MetricsAddr = *metricsAddr
	parsed.PostgresURL = *postgresURL
	parsed.RedisAddr = *redisAddr

	if *configFile != "" {
		if err := applyFile(&parsed, *configFile); err != nil {
			return BenchArgs{}, err
		}
	}

	// Explicitly set flags win over the environment and the config file.
	var parseErr error
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "server":
			parsed.ServerURL = *serverURL
		case "users":
			counts, err := ParseUserCounts(*users)
			if err != nil {
				parseErr = err
				return
			}
			parsed.UserCounts = counts
		case "duration":
			parsed.Duration = *duration
		case "batch-size":
			parsed.BatchSize = *batchSize
		case "batch-delay":
			parsed.BatchDelay = *batchDelay
		case "level-delay":
			parsed.LevelDelay = *levelDelay
		case "connect-timeout":
			parsed.ConnectTimeout = *connectTimeout
		case "receive-timeout":
			parsed.ReceiveTimeout = *receiveTimeout
		case "close-timeout":
			parsed.CloseTimeout = *closeTimeout
		case "tick-interval":
			parsed.TickInterval = *tickInterval
		case "output-dir":
			parsed.OutputDir = *outputDir
		case "metrics-addr":
			parsed.MetricsAddr = *metricsAddr
		case "postgres-url":
			parsed.PostgresURL = *postgresURL
		case "redis-addr":
			parsed.RedisAddr = *redisAddr
		case "redis-channel":
			parsed.RedisChannel = *redisChannel
		}
	})
	if parseErr != nil {
		return BenchArgs{}, parseErr
	}

	parsed.Logging = logFlags.ToConfig()
	return parsed, nil
}
