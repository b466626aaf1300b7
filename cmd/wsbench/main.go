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

// wsbench sweeps a WebSocket game server with increasing numbers of
// simulated players and writes per-level latency and throughput
// statistics to CSV, optionally mirroring them to Postgres and Redis
// and exposing live Prometheus metrics while the sweep runs.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/CdyTim630/LSAP-hw4/pkg/args"
	"github.com/CdyTim630/LSAP-hw4/pkg/bench"
	"github.com/CdyTim630/LSAP-hw4/pkg/export"
	"github.com/CdyTim630/LSAP-hw4/pkg/metrics"
	"github.com/CdyTim630/LSAP-hw4/utils/logging"
)

func main() {
	benchArgs, err := args.BenchParse()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := logging.InitLogger("wsbench", benchArgs.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, benchArgs, logger); err != nil {
		logger.Error("benchmark failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, benchArgs args.BenchArgs, logger *slog.Logger) error {
	runID := uuid.New().String()
	logger.Info("starting websocket benchmark",
		slog.String("run_id", runID),
		slog.String("server", benchArgs.ServerURL),
		slog.Any("levels", benchArgs.UserCounts))

	sinks, err := buildSinks(ctx, benchArgs, runID, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, sink := range sinks {
			if err := sink.Close(closeCtx); err != nil {
				logger.Error("failed to close result sink", slog.String("error", err.Error()))
			}
		}
	}()

	var collector *metrics.Collector
	var metricsSrv *http.Server
	g, gctx := errgroup.WithContext(ctx)

	if benchArgs.MetricsAddr != "" {
		collector = metrics.NewCollector()
		mux := http.NewServeMux()
		mux.Handle("/metrics", collector.Handler())
		metricsSrv = &http.Server{Addr: benchArgs.MetricsAddr, Handler: mux}
		logger.Info("serving prometheus metrics",
			slog.String("address", benchArgs.MetricsAddr))
		g.Go(func() error {
			if err := metricsSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		defer func() {
			if metricsSrv != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				metricsSrv.Shutdown(shutdownCtx)
			}
		}()

		b := bench.New(benchArgs, logger, collector, sinks...)
		results, err := b.Run(gctx)
		if err != nil {
			return err
		}
		logger.Info("benchmark complete",
			slog.String("run_id", runID),
			slog.Int("levels", len(results)))
		return nil
	})

	return g.Wait()
}

// buildSinks assembles the result fan-out: CSV always, Postgres and Redis
// when configured.
func buildSinks(ctx context.Context, benchArgs args.BenchArgs, runID string, logger *slog.Logger) ([]export.Sink, error) {
	csvSink, err := export.NewCSVWriter(benchArgs.OutputDir)
	if err != nil {
		return nil, err
	}
	logger.Info("writing results", slog.String("path", csvSink.Path()))
	sinks := []export.Sink{csvSink}

	if benchArgs.PostgresURL != "" {
		pg, err := export.NewPostgresSink(ctx, benchArgs.PostgresURL, runID, logger)
		if err != nil {
			csvSink.Close(ctx)
			return nil, err
		}
		sinks = append(sinks, pg)
	}
	if benchArgs.RedisAddr != "" {
		rd, err := export.NewRedisSink(ctx, benchArgs.RedisAddr, benchArgs.RedisChannel, runID, logger)
		if err != nil {
			for _, s := range sinks {
				s.Close(ctx)
			}
			return nil, err
		}
		sinks = append(sinks, rd)
	}
	return sinks, nil
}
