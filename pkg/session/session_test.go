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

package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/CdyTim630/LSAP-hw4/pkg/wire"
)

// gameServerStub is a real in-process WebSocket game server. No mocking -
// actual upgrade, actual frames. It acknowledges Init with the accept byte
// and answers Spawn and Input with spawn/update events.
type gameServerStub struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	silent bool // when set, never writes anything back

	// earlyEvents mimics a busy lobby: Init is answered with the accept
	// byte plus an immediate world update, and Spawn/Input frames get no
	// reply at all.
	earlyEvents bool

	mu       sync.Mutex
	inits    int
	spawns   int
	inputs   int
	badInput bool
}

func startGameServerStub(t *testing.T, silent bool) *gameServerStub {
	t.Helper()

	s := &gameServerStub{silent: silent}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.srv.Close)
	return s
}

func startEarlyEventStub(t *testing.T) *gameServerStub {
	t.Helper()

	s := &gameServerStub{earlyEvents: true}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *gameServerStub) URL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ffa"
}

func (s *gameServerStub) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
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

		var replies [][]byte
		s.mu.Lock()
		switch tag {
		case wire.TagInit:
			s.inits++
			replies = append(replies, []byte{wire.TagAccept})
			if s.earlyEvents {
				replies = append(replies, []byte{wire.TagEventSpawn, 9, 9})
			}
		case wire.TagSpawn:
			s.spawns++
			if !s.earlyEvents {
				replies = append(replies, []byte{wire.TagEventSpawn, 0, 0})
			}
		case wire.TagInput:
			s.inputs++
			if len(frame) != wire.InputFrameSize {
				s.badInput = true
			}
			if !s.earlyEvents {
				replies = append(replies, []byte{wire.TagEventUpdate, 0, 0, 0})
			}
		}
		s.mu.Unlock()

		if s.silent {
			continue
		}
		for _, reply := range replies {
			if err := conn.WriteMessage(websocket.BinaryMessage, reply); err != nil {
				return
			}
		}
	}
}

func (s *gameServerStub) counts() (inits, spawns, inputs int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inits, s.spawns, s.inputs
}

// fastConfig shrinks every delay so lifecycle tests finish in well under a
// second.
func fastConfig(url string) Config {
	cfg := DefaultConfig(url)
	cfg.ConnectTimeout = 2 * time.Second
	cfg.ReceiveTimeout = 200 * time.Millisecond
	cfg.CloseTimeout = 200 * time.Millisecond
	cfg.TickInterval = 10 * time.Millisecond
	cfg.HandshakeAttempts = 10
	cfg.HandshakePoll = 5 * time.Millisecond
	cfg.HandshakeSettle = 5 * time.Millisecond
	cfg.SpawnGap = 5 * time.Millisecond
	cfg.SpawnSettle = 5 * time.Millisecond
	return cfg
}

func TestSessionLifecycle(t *testing.T) {
	t.Parallel()

	server := startGameServerStub(t, false)
	s := New(3, fastConfig(server.URL()))

	s.Run(context.Background(), 100*time.Millisecond)

	if !s.Connected() {
		t.Error("session should have connected")
	}
	if !s.Spawned() {
		t.Error("session should have observed a spawn event")
	}
	if s.Running() {
		t.Error("session should not be running after Run returns")
	}

	snap := s.Snapshot()
	if snap.ID != 3 {
		t.Errorf("snapshot ID = %d, want 3", snap.ID)
	}
	// Init + 2 spawns + at least one input.
	if snap.PacketsSent < 4 {
		t.Errorf("packetsSent = %d, want >= 4", snap.PacketsSent)
	}
	if snap.PacketsReceived == 0 {
		t.Error("expected inbound frames to be counted")
	}
	if len(snap.Latencies) == 0 {
		t.Fatal("expected latency samples")
	}
	for i, l := range snap.Latencies {
		if l < 10 {
			t.Errorf("sample %d = %.3fms, want >= tick interval (10ms)", i, l)
		}
	}

	inits, spawns, inputs := server.counts()
	if inits != 1 {
		t.Errorf("server saw %d init frames, want 1", inits)
	}
	if spawns != 2 {
		t.Errorf("server saw %d spawn frames, want 2", spawns)
	}
	if inputs == 0 {
		t.Error("server saw no input frames")
	}
	server.mu.Lock()
	bad := server.badInput
	server.mu.Unlock()
	if bad {
		t.Error("server saw a malformed input frame")
	}
}

// A window of exactly one tick records exactly one latency sample of
// roughly the tick interval.
func TestSessionSingleTickWindow(t *testing.T) {
	t.Parallel()

	server := startGameServerStub(t, false)
	cfg := fastConfig(server.URL())
	s := New(0, cfg)

	s.Run(context.Background(), cfg.TickInterval)

	snap := s.Snapshot()
	if len(snap.Latencies) != 1 {
		t.Fatalf("got %d latency samples, want exactly 1", len(snap.Latencies))
	}
	tickMs := float64(cfg.TickInterval) / float64(time.Millisecond)
	if snap.Latencies[0] < tickMs || snap.Latencies[0] > 50*tickMs {
		t.Errorf("sample = %.3fms, want roughly the tick interval (%.0fms)", snap.Latencies[0], tickMs)
	}
}

func TestSessionConnectFailure(t *testing.T) {
	t.Parallel()

	// Reserved port with nothing listening.
	cfg := fastConfig("ws://127.0.0.1:1/ffa")
	cfg.ConnectTimeout = 200 * time.Millisecond
	s := New(1, cfg)

	start := time.Now()
	s.Run(context.Background(), time.Second)

	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("failed connect took %v, want bounded by connect timeout", elapsed)
	}
	if s.Connected() {
		t.Error("session must not report connected")
	}
	if s.Spawned() {
		t.Error("session must not report spawned")
	}

	snap := s.Snapshot()
	if len(snap.Latencies) != 0 {
		t.Errorf("failed session recorded %d samples, want 0", len(snap.Latencies))
	}
	if snap.PacketsSent != 0 || snap.PacketsReceived != 0 {
		t.Errorf("failed session counted packets: sent=%d received=%d", snap.PacketsSent, snap.PacketsReceived)
	}
}

// Stop is advisory: the active loop notices it within about one tick.
func TestSessionStop(t *testing.T) {
	t.Parallel()

	server := startGameServerStub(t, false)
	cfg := fastConfig(server.URL())
	s := New(2, cfg)

	done := make(chan struct{})
	go func() {
		s.Run(context.Background(), 30*time.Second)
		close(done)
	}()

	// Let it get into the active loop, then stop it.
	time.Sleep(150 * time.Millisecond)
	s.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop within shutdown bound")
	}
	if len(s.Snapshot().Latencies) == 0 {
		t.Error("expected some samples before stop")
	}
}

// A server that accepts the connection but never sends anything: handshake
// poll budget is exhausted, the session proceeds anyway (best-effort), and
// spawned stays false.
func TestSessionHandshakeIncomplete(t *testing.T) {
	t.Parallel()

	server := startGameServerStub(t, true)
	cfg := fastConfig(server.URL())
	s := New(4, cfg)

	s.Run(context.Background(), 50*time.Millisecond)

	if !s.Connected() {
		t.Error("session should have connected")
	}
	if s.Spawned() {
		t.Error("silent server must leave spawned false")
	}
	snap := s.Snapshot()
	if snap.PacketsSent < 4 {
		t.Errorf("packetsSent = %d, want >= 4 (session proceeds past handshake)", snap.PacketsSent)
	}
	if snap.PacketsReceived != 0 {
		t.Errorf("packetsReceived = %d, want 0 from silent server", snap.PacketsReceived)
	}
	if len(snap.Latencies) == 0 {
		t.Error("expected latency samples even without handshake accept")
	}
}

// A world update broadcast while the session is still handshaking must not
// count as our own spawn confirmation: spawned can only become true once at
// least one spawn frame has gone out.
func TestSessionEarlyEventsDoNotMarkSpawned(t *testing.T) {
	t.Parallel()

	server := startEarlyEventStub(t)
	cfg := fastConfig(server.URL())
	// Hold the handshake open long enough for the broadcast update to be
	// read well before the first spawn frame is sent.
	cfg.HandshakeSettle = 50 * time.Millisecond
	s := New(6, cfg)

	s.Run(context.Background(), 50*time.Millisecond)

	if !s.Connected() {
		t.Fatal("session should have connected")
	}
	_, spawns, _ := server.counts()
	if spawns != 2 {
		t.Fatalf("server saw %d spawn frames, want 2", spawns)
	}
	// The server never answered our spawn frames; the only tag-0 frame it
	// sent arrived before any spawn went out.
	if s.Spawned() {
		t.Error("pre-spawn broadcast must not flip spawned")
	}
	if snap := s.Snapshot(); snap.PacketsReceived < 2 {
		t.Errorf("packetsReceived = %d, want accept plus broadcast counted", snap.PacketsReceived)
	}
}

func TestSessionContextCancel(t *testing.T) {
	t.Parallel()

	server := startGameServerStub(t, false)
	cfg := fastConfig(server.URL())
	s := New(5, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx, 30*time.Second)
		close(done)
	}()

	time.Sleep(150 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not honor context cancellation")
	}
}
