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

// Package session implements one simulated game client: connect, handshake,
// spawn, steady-state input loop, latency sampling, disconnect.
//
// Lifecycle: Disconnected → Connecting → Connected → Handshaking →
// Spawning → Active → Disconnecting → Closed, with Failed reachable from
// any non-terminal state on unrecoverable I/O error. A session attempts its
// connection exactly once and never retries a failed send; every failure is
// absorbed locally and surfaces only as reduced counts in the aggregate.
//
// Latency measurement is deliberately approximate: each sample is the
// elapsed wall-clock time from an input send to the end of the following
// tick wait, i.e. the tick interval plus scheduling and send jitter, not a
// round trip correlated with a specific server acknowledgment. The protocol
// carries no correlation ids, so true RTT measurement is not possible here.
//
// Concurrency: the run loop owns the connection, the latency buffer, and
// packetsSent; a single background reader owns packetsReceived and the
// spawned/accepted flags. Counters are atomics with one writer each. The
// reader uses blocking reads and is cancelled by closing the connection
// (gorilla/websocket latches read errors, so recv-with-timeout retry loops
// are not expressible); ReceiveTimeout bounds the reader teardown wait at
// disconnect instead.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/CdyTim630/LSAP-hw4/pkg/wire"
)

// Config holds the per-session protocol timing knobs.
type Config struct {
	ServerURL string

	ConnectTimeout time.Duration
	ReceiveTimeout time.Duration // bound on reader teardown at disconnect
	CloseTimeout   time.Duration
	TickInterval   time.Duration

	// Handshake-accept detection is a bounded best-effort poll; exhausting
	// the attempts without seeing the accept frame does not gate spawning.
	HandshakeAttempts int
	HandshakePoll     time.Duration
	HandshakeSettle   time.Duration

	// The spawn frame is sent twice to cover servers that require
	// re-announcing on respawn.
	SpawnGap    time.Duration
	SpawnSettle time.Duration
}

// DefaultConfig returns the standard timing: 5s connect, 1s receive/close,
// 50ms tick (20 sends per second), 10 x 500ms handshake poll.
func DefaultConfig(serverURL string) Config {
	return Config{
		ServerURL:         serverURL,
		ConnectTimeout:    5 * time.Second,
		ReceiveTimeout:    time.Second,
		CloseTimeout:      time.Second,
		TickInterval:      50 * time.Millisecond,
		HandshakeAttempts: 10,
		HandshakePoll:     500 * time.Millisecond,
		HandshakeSettle:   100 * time.Millisecond,
		SpawnGap:          200 * time.Millisecond,
		SpawnSettle:       500 * time.Millisecond,
	}
}

// Stats is an immutable snapshot of a session's counters, taken by the
// aggregator after the session's tasks have been joined.
type Stats struct {
	ID              int
	Connected       bool
	Spawned         bool
	PacketsSent     int64
	PacketsReceived int64
	Latencies       []float64 // milliseconds, in recorded order
}

// Session is one simulated client. Create with New, drive with Run, stop
// with Stop, and read results with Snapshot after Run has returned.
type Session struct {
	id  int
	cfg Config
	rng *rand.Rand

	conn       *websocket.Conn
	readerDone chan struct{}

	connected atomic.Bool
	accepted  atomic.Bool
	spawnSent atomic.Bool
	spawned   atomic.Bool
	running   atomic.Bool

	packetsSent     atomic.Int64
	packetsReceived atomic.Int64

	latencies []float64 // owned by Run until it returns
}

// New creates a session with the given id. The session is created in the
// running state; Stop clears it.
func New(id int, cfg Config) *Session {
	s := &Session{
		id:         id,
		cfg:        cfg,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano() + int64(id))),
		readerDone: make(chan struct{}),
	}
	s.running.Store(true)
	return s
}

// ID returns the session's identity.
func (s *Session) ID() int { return s.id }

// Connected reports whether the session ever established its connection.
func (s *Session) Connected() bool { return s.connected.Load() }

// Spawned reports whether the session observed a spawn/update event after
// announcing itself.
func (s *Session) Spawned() bool { return s.spawned.Load() }

// Running reports whether the session's active loop is still allowed to run.
func (s *Session) Running() bool { return s.running.Load() }

// Stop clears the running flag. It is advisory: the active loop checks it
// once per tick, so shutdown latency is bounded by one tick interval.
func (s *Session) Stop() { s.running.Store(false) }

// Snapshot returns the session's counters and latency samples. It must only
// be called after Run has returned; until then the run loop owns the buffer.
func (s *Session) Snapshot() Stats {
	latencies := make([]float64, len(s.latencies))
	copy(latencies, s.latencies)
	return Stats{
		ID:              s.id,
		Connected:       s.connected.Load(),
		Spawned:         s.spawned.Load(),
		PacketsSent:     s.packetsSent.Load(),
		PacketsReceived: s.packetsReceived.Load(),
		Latencies:       latencies,
	}
}

// Run drives the session through its whole lifecycle and blocks until the
// observation window elapses, Stop is called, or an I/O error ends the
// active loop. All failures are absorbed; Run never panics or returns them.
func (s *Session) Run(ctx context.Context, window time.Duration) {
	conn, err := s.dial(ctx)
	if err != nil {
		// Failed terminal state: one attempt, no retry.
		slog.Debug("session connect failed",
			slog.Int("id", s.id), slog.String("error", err.Error()))
		s.running.Store(false)
		close(s.readerDone)
		return
	}
	s.conn = conn
	s.connected.Store(true)
	defer s.close()

	if err := s.send(wire.EncodeInit(wire.BuildHash, "")); err != nil {
		return
	}

	go s.readLoop()

	// Handshaking: poll for the accept frame, bounded and best-effort.
	for i := 0; i < s.cfg.HandshakeAttempts; i++ {
		if s.accepted.Load() || !s.running.Load() || ctx.Err() != nil {
			break
		}
		s.sleep(ctx, s.cfg.HandshakePoll)
	}
	s.sleep(ctx, s.cfg.HandshakeSettle)

	// Spawning: announce twice with a short gap. Spawn-event tracking arms
	// here; world updates broadcast during the handshake must not count as
	// our own spawn confirmation.
	name := fmt.Sprintf("bot%d", s.id)
	s.spawnSent.Store(true)
	if err := s.send(wire.EncodeSpawn(name)); err != nil {
		return
	}
	s.sleep(ctx, s.cfg.SpawnGap)
	if err := s.send(wire.EncodeSpawn(name)); err != nil {
		return
	}
	s.sleep(ctx, s.cfg.SpawnSettle)

	// Active: send randomized input once per tick and record the elapsed
	// time from send to end of tick wait as the latency sample.
	deadline := time.Now().Add(window)
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for s.running.Load() && ctx.Err() == nil && time.Now().Before(deadline) {
		sendTime := time.Now()
		if err := s.send(wire.EncodeInput(wire.RandomInput(s.rng))); err != nil {
			slog.Debug("session send failed",
				slog.Int("id", s.id), slog.String("error", err.Error()))
			break
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
		}
		s.latencies = append(s.latencies, float64(time.Since(sendTime))/float64(time.Millisecond))
	}

	s.running.Store(false)
}

// dial attempts the connection exactly once with a bounded timeout.
func (s *Session) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: s.cfg.ConnectTimeout}
	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()
	conn, _, err := dialer.DialContext(dialCtx, s.cfg.ServerURL, nil)
	return conn, err
}

// send writes one binary frame and counts it. A send failure terminates the
// caller's loop; it is never retried.
func (s *Session) send(frame []byte) error {
	if err := s.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return err
	}
	s.packetsSent.Add(1)
	return nil
}

// readLoop is the background receive task. It counts every inbound frame
// and watches the leading tag byte for the handshake accept and spawn
// events. It exits on the first read error, which includes the connection
// close performed by the run loop at shutdown.
func (s *Session) readLoop() {
	defer close(s.readerDone)
	for {
		_, frame, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		s.packetsReceived.Add(1)
		if wire.IsAccept(frame) {
			s.accepted.Store(true)
		}
		if wire.IsSpawnEvent(frame) && s.spawnSent.Load() {
			s.spawned.Store(true)
		}
	}
}

// close performs the Disconnecting → Closed transition. Close errors are
// swallowed; close is best-effort. The reader wait is bounded by
// ReceiveTimeout so a stuck peer cannot stall session teardown.
func (s *Session) close() {
	s.running.Store(false)

	deadline := time.Now().Add(s.cfg.CloseTimeout)
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	_ = s.conn.Close()

	select {
	case <-s.readerDone:
	case <-time.After(s.cfg.ReceiveTimeout):
	}
}

// sleep waits for d or until the context is cancelled.
func (s *Session) sleep(ctx context.Context, d time.Duration) {
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
