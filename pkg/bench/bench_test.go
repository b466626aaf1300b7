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

package bench

import (
	"context"
	"encoding/csv"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/CdyTim630/LSAP-hw4/pkg/args"
	"github.com/CdyTim630/LSAP-hw4/pkg/export"
	"github.com/CdyTim630/LSAP-hw4/pkg/stats"
	"github.com/CdyTim630/LSAP-hw4/pkg/wire"
)

// memorySink records appended results in order.
type memorySink struct {
	mu      sync.Mutex
	results []stats.LevelResult
	closed  bool
}

func (m *memorySink) Append(_ context.Context, r stats.LevelResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, r)
	return nil
}

func (m *memorySink) Close(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func startGameServer(t *testing.T) string {
	t.Helper()

	var upgrader websocket.Upgrader
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, frame, err := conn.ReadMessage()
			if err != nil {
				return
			}
			tag, ok := wire.Tag(frame)
			if !ok {
				continue
			}
			var reply []byte
			switch tag {
			case wire.TagInit:
				reply = []byte{wire.TagAccept}
			case wire.TagSpawn:
				reply = []byte{wire.TagEventSpawn, 0}
			case wire.TagInput:
				reply = []byte{wire.TagEventUpdate, 0}
			default:
				continue
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, reply); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ffa"
}

// fastArgs shrinks every delay to test scale.
func fastArgs(url string, userCounts []int) args.BenchArgs {
	a := args.DefaultArgs()
	a.ServerURL = url
	a.UserCounts = userCounts
	a.Duration = 100 * time.Millisecond
	a.BatchSize = 2
	a.BatchDelay = 5 * time.Millisecond
	a.LevelDelay = 10 * time.Millisecond
	a.ConnectTimeout = 2 * time.Second
	a.ReceiveTimeout = 200 * time.Millisecond
	a.CloseTimeout = 200 * time.Millisecond
	a.TickInterval = 10 * time.Millisecond
	return a
}

func fastDriverTiming(b *Benchmark) {
	b.DriverConfig.BatchDelay = 5 * time.Millisecond
	b.DriverConfig.SettleDelay = 20 * time.Millisecond
	b.DriverConfig.ProgressInterval = 50 * time.Millisecond
	b.DriverConfig.Session.HandshakePoll = 5 * time.Millisecond
	b.DriverConfig.Session.HandshakeSettle = 5 * time.Millisecond
	b.DriverConfig.Session.SpawnGap = 5 * time.Millisecond
	b.DriverConfig.Session.SpawnSettle = 5 * time.Millisecond
}

// Every launch and timeout knob from the configuration surface must land
// in the driver and session configs; none may silently stay at the
// built-in values.
func TestNewAppliesLaunchConfig(t *testing.T) {
	t.Parallel()

	a := args.DefaultArgs()
	a.BatchSize = 7
	a.BatchDelay = 123 * time.Millisecond
	a.Duration = 42 * time.Second
	a.ConnectTimeout = 3 * time.Second
	a.TickInterval = 25 * time.Millisecond

	b := New(a, nil, nil)

	if b.DriverConfig.BatchSize != 7 {
		t.Errorf("BatchSize = %d, want 7", b.DriverConfig.BatchSize)
	}
	if b.DriverConfig.BatchDelay != 123*time.Millisecond {
		t.Errorf("BatchDelay = %v, want 123ms", b.DriverConfig.BatchDelay)
	}
	if b.DriverConfig.Window != 42*time.Second {
		t.Errorf("Window = %v, want 42s", b.DriverConfig.Window)
	}
	if b.DriverConfig.Session.ConnectTimeout != 3*time.Second {
		t.Errorf("Session.ConnectTimeout = %v, want 3s", b.DriverConfig.Session.ConnectTimeout)
	}
	if b.DriverConfig.Session.TickInterval != 25*time.Millisecond {
		t.Errorf("Session.TickInterval = %v, want 25ms", b.DriverConfig.Session.TickInterval)
	}
}

func TestPreflightSucceeds(t *testing.T) {
	t.Parallel()

	b := New(fastArgs(startGameServer(t), []int{1}), nil, nil)
	if err := b.Preflight(context.Background()); err != nil {
		t.Fatalf("Preflight against live server failed: %v", err)
	}
}

// An unreachable server aborts the run before any level executes: no
// results, no sink writes.
func TestRunPreflightFailure(t *testing.T) {
	t.Parallel()

	a := fastArgs("ws://127.0.0.1:1/ffa", []int{1, 2})
	a.ConnectTimeout = 200 * time.Millisecond
	sink := &memorySink{}
	b := New(a, nil, nil, sink)

	results, err := b.Run(context.Background())
	if err == nil {
		t.Fatal("Run against dead endpoint should fail pre-flight")
	}
	if len(results) != 0 {
		t.Errorf("got %d results, want none", len(results))
	}
	if len(sink.results) != 0 {
		t.Errorf("sink received %d results, want none", len(sink.results))
	}
}

func TestRunSweep(t *testing.T) {
	t.Parallel()

	url := startGameServer(t)
	sink := &memorySink{}
	b := New(fastArgs(url, []int{1, 2}), nil, nil, sink)
	fastDriverTiming(b)

	results, err := b.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	for i, want := range []int{1, 2} {
		if results[i].Users != want {
			t.Errorf("result %d is for %d users, want %d", i, results[i].Users, want)
		}
		if results[i].Connected != want {
			t.Errorf("level %d: connected = %d, want %d", i, results[i].Connected, want)
		}
		if results[i].SuccessRate != 100 {
			t.Errorf("level %d: success rate = %v, want 100", i, results[i].SuccessRate)
		}
		if results[i].PacketsSent == 0 || results[i].AvgLatency <= 0 {
			t.Errorf("level %d recorded no traffic: %+v", i, results[i])
		}
	}

	if len(sink.results) != 2 {
		t.Fatalf("sink received %d results, want 2", len(sink.results))
	}
	for i := range results {
		if sink.results[i].Users != results[i].Users {
			t.Errorf("sink order broken at %d", i)
		}
	}
}

// The sweep writes its CSV through the regular sink path; the file must
// carry one row per level under the expected header.
func TestRunSweepCSV(t *testing.T) {
	t.Parallel()

	url := startGameServer(t)
	dir := t.TempDir()
	csvSink, err := export.NewCSVWriter(dir)
	if err != nil {
		t.Fatalf("NewCSVWriter failed: %v", err)
	}

	b := New(fastArgs(url, []int{1, 3}), nil, nil, csvSink)
	fastDriverTiming(b)

	ctx := context.Background()
	if _, err := b.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if err := csvSink.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	f, err := os.Open(csvSink.Path())
	if err != nil {
		t.Fatalf("results file missing: %v", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("reading results file: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want header + 2 rows", len(records))
	}
	if records[1][0] != "1" || records[2][0] != "3" {
		t.Errorf("rows out of sweep order: %v / %v", records[1][0], records[2][0])
	}
}

func TestRunContextCancelStopsSweep(t *testing.T) {
	t.Parallel()

	url := startGameServer(t)
	a := fastArgs(url, []int{1, 1, 1})
	a.Duration = 30 * time.Second
	b := New(a, nil, nil)
	fastDriverTiming(b)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan []stats.LevelResult, 1)
	go func() {
		results, _ := b.Run(ctx)
		done <- results
	}()

	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case results := <-done:
		if len(results) > 1 {
			t.Errorf("sweep continued past cancellation: %d levels", len(results))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
