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

// Package logging provides structured logging for the benchmark tools.
// Log lines follow a single-line format that stays readable while a sweep
// is printing its progress tables:
//
//	<ISO8601_time> <tool_name> [<LEVEL>] <source>: <message>[ key=value ...]
//
// The <source> field is the calling Go package name.
package logging

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
)

// Config holds the logging configuration.
type Config struct {
	Level   slog.Level
	LogDir  string
	LogName string
}

// FlagPointers holds pointers to flag values for logging configuration.
type FlagPointers struct {
	logLevel *string
	logDir   *string
	logName  *string
}

// RegisterFlags registers logging-related command-line flags on fs and
// returns pointers that should be converted to Config after parsing.
func RegisterFlags(fs *flag.FlagSet) *FlagPointers {
	return &FlagPointers{
		logLevel: fs.String("log-level", "info", "Log level (debug, info, warn, error)"),
		logDir:   fs.String("log-dir", "", "Directory to write log files to"),
		logName:  fs.String("log-name", "", "Name for the log file (without extension)"),
	}
}

// ToConfig converts flag pointers to Config. Must be called after parsing.
func (f *FlagPointers) ToConfig() Config {
	return Config{
		Level:   ParseLevel(*f.logLevel),
		LogDir:  *f.logDir,
		LogName: *f.logName,
	}
}

// ParseLevel converts a string log level to slog.Level.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "critical", "fatal":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ToolHandler is a slog.Handler that writes single-line records:
//
//	<ISO8601_time> <tool_name> [<LEVEL>] <source>: <message> key=value ...
type ToolHandler struct {
	toolName string
	level    slog.Level
	writer   io.Writer
	mu       *sync.Mutex
	attrs    []slog.Attr
	groups   []string
}

// NewToolHandler creates a new ToolHandler that writes to the given writer.
func NewToolHandler(toolName string, level slog.Level, writer io.Writer) *ToolHandler {
	return &ToolHandler{
		toolName: toolName,
		level:    level,
		writer:   writer,
		mu:       &sync.Mutex{},
	}
}

// Enabled reports whether the handler handles records at the given level.
func (h *ToolHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

// Handle formats and writes the log record.
func (h *ToolHandler) Handle(_ context.Context, r slog.Record) error {
	timeStr := r.Time.Format("2006-01-02T15:04:05.000-07:00")
	source := callerSource(r.PC)

	var parts []string
	for _, a := range h.attrs {
		parts = append(parts, formatAttr(a, h.groups))
	}
	r.Attrs(func(a slog.Attr) bool {
		parts = append(parts, formatAttr(a, nil))
		return true
	})

	msg := r.Message
	if len(parts) > 0 {
		msg = msg + " " + strings.Join(parts, " ")
	}

	line := fmt.Sprintf("%s %s [%s] %s: %s\n",
		timeStr, h.toolName, r.Level.String(), source, msg)

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.writer.Write([]byte(line))
	return err
}

// WithAttrs returns a new Handler with the given attributes pre-set.
func (h *ToolHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	for _, a := range attrs {
		if len(h.groups) > 0 {
			a = slog.Attr{Key: strings.Join(h.groups, ".") + "." + a.Key, Value: a.Value}
		}
		newAttrs = append(newAttrs, a)
	}
	return &ToolHandler{
		toolName: h.toolName,
		level:    h.level,
		writer:   h.writer,
		mu:       h.mu,
		attrs:    newAttrs,
		groups:   h.groups,
	}
}

// WithGroup returns a new Handler with the given group name prepended to
// subsequent attribute keys.
func (h *ToolHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &ToolHandler{
		toolName: h.toolName,
		level:    h.level,
		writer:   h.writer,
		mu:       h.mu,
		attrs:    h.attrs,
		groups:   newGroups,
	}
}

// InitLogger initializes the default slog logger with a ToolHandler.
// It always writes to stdout. If config.LogDir is set, it also writes to a
// timestamped log file under that directory. Returns the configured logger.
func InitLogger(toolName string, config Config) *slog.Logger {
	writers := []io.Writer{os.Stdout}

	if config.LogDir != "" {
		if err := os.MkdirAll(config.LogDir, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "failed to create log directory %s: %v\n", config.LogDir, err)
		} else {
			logName := config.LogName
			if logName == "" {
				logName = toolName
			}
			timestamp := time.Now().Format("2006-01-02T15-04-05")
			fileName := fmt.Sprintf("%s_%d_%s.txt", timestamp, os.Getpid(), logName)
			filePath := filepath.Join(config.LogDir, fileName)

			file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to open log file %s: %v\n", filePath, err)
			} else {
				writers = append(writers, file)
			}
		}
	}

	handler := NewToolHandler(toolName, config.Level, io.MultiWriter(writers...))
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// callerSource extracts the Go package name from the program counter.
func callerSource(pc uintptr) string {
	if pc == 0 {
		return "unknown"
	}
	frames := runtime.CallersFrames([]uintptr{pc})
	f, _ := frames.Next()
	if f.Function == "" {
		return "unknown"
	}
	parts := strings.Split(f.Function, "/")
	lastPart := parts[len(parts)-1]
	if idx := strings.Index(lastPart, "."); idx >= 0 {
		return lastPart[:idx]
	}
	return lastPart
}

// formatAttr formats a single slog.Attr as "key=value", applying the group
// prefix if provided.
func formatAttr(a slog.Attr, groups []string) string {
	key := a.Key
	if len(groups) > 0 {
		key = strings.Join(groups, ".") + "." + key
	}
	return fmt.Sprintf("%s=%s", key, a.Value.String())
}
