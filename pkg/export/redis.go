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
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/CdyTim630/LSAP-hw4/pkg/stats"
)

// latestKey holds the most recent level result of the current run, for
// dashboards that poll instead of subscribe.
const latestKey = "wsbench:latest"

// RedisSink publishes each completed level to a channel as JSON and keeps
// the latest result under a well-known key.
type RedisSink struct {
	client  *redis.Client
	channel string
	runID   string
	logger  *slog.Logger
}

// redisPayload is the published message shape.
type redisPayload struct {
	RunID  string            `json:"run_id"`
	Time   time.Time         `json:"time"`
	Result stats.LevelResult `json:"result"`
}

// NewRedisSink connects to Redis and verifies the connection.
func NewRedisSink(ctx context.Context, addr, channel, runID string, logger *slog.Logger) (*RedisSink, error) {
	if logger == nil {
		logger = slog.Default()
	}

	client := redis.NewClient(&redis.Options{Addr: addr})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	logger.Info("redis result publisher connected",
		slog.String("address", addr), slog.String("channel", channel))

	return &RedisSink{client: client, channel: channel, runID: runID, logger: logger}, nil
}

// Append publishes one level result and updates the latest-result key.
func (s *RedisSink) Append(ctx context.Context, r stats.LevelResult) error {
	payload, err := json.Marshal(redisPayload{
		RunID:  s.runID,
		Time:   time.Now().UTC(),
		Result: r,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal result payload: %w", err)
	}

	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish result: %w", err)
	}
	if err := s.client.Set(ctx, latestKey, payload, 0).Err(); err != nil {
		return fmt.Errorf("failed to store latest result: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *RedisSink) Close(_ context.Context) error {
	s.logger.Info("closing redis result publisher")
	return s.client.Close()
}
