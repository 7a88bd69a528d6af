// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Format represents the log output format.
type Format string

const (
	// FormatJSON outputs logs in JSON format for machine parsing.
	FormatJSON Format = "json"
	// FormatText outputs logs in human-readable text format.
	FormatText Format = "text"
)

// LevelTrace is more verbose than Debug. Used for raw JSON-RPC frames and
// full prompts.
const LevelTrace = slog.Level(-8)

// DebugEnv is the diagnostics toggle.
const DebugEnv = "JIBBERISH_DEBUG"

// Standard field keys for structured logging.
const (
	// ServerKey is the field key for MCP server names.
	ServerKey = "server"
	// ToolKey is the field key for public tool names.
	ToolKey = "tool"
	// TransportKey is the field key for transport kinds.
	TransportKey = "transport"
	// InvocationKey is the field key for invocation identifiers.
	InvocationKey = "invocation_id"
	// IterationKey is the field key for orchestration iterations.
	IterationKey = "iteration"
	// DurationKey is the field key for duration in milliseconds.
	DurationKey = "duration_ms"
	// ProviderKey is the field key for completion provider names.
	ProviderKey = "provider"
)

// Config holds the logging configuration.
type Config struct {
	// Level sets the minimum log level (trace, debug, info, warn, error).
	// Default: warn
	Level string

	// Format sets the output format (json, text).
	// Default: text
	Format Format

	// Output is the writer for log output.
	// Default: os.Stderr
	Output io.Writer

	// AddSource adds source file and line information to logs.
	AddSource bool
}

// DefaultConfig returns the quiet CLI configuration: only warnings and
// errors reach stderr.
func DefaultConfig() *Config {
	return &Config{
		Level:  "warn",
		Format: FormatText,
		Output: os.Stderr,
	}
}

// DebugEnabled reports whether JIBBERISH_DEBUG is set to true, yes, y or 1.
func DebugEnabled() bool {
	return isTruthy(os.Getenv(DebugEnv))
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "yes", "y", "1":
		return true
	}
	return false
}

// FromEnv creates a Config from environment variables.
//   - JIBBERISH_DEBUG: true/yes/y/1 enables debug level and source (takes precedence)
//   - JIBBERISH_LOG_LEVEL: trace, debug, info, warn, error (takes precedence over LOG_LEVEL)
//   - LOG_LEVEL: same values
//   - LOG_FORMAT: json, text
func FromEnv() *Config {
	cfg := DefaultConfig()

	if DebugEnabled() {
		cfg.Level = "debug"
		cfg.AddSource = true
	} else if level := os.Getenv("JIBBERISH_LOG_LEVEL"); level != "" {
		cfg.Level = strings.ToLower(level)
	} else if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Level = strings.ToLower(level)
	}

	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.Format = Format(strings.ToLower(format))
	}

	return cfg
}

// New creates a new structured logger from the given configuration.
func New(cfg *Config) *slog.Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level:     parseLevel(cfg.Level),
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	switch cfg.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(out, opts)
	default:
		handler = slog.NewTextHandler(out, opts)
	}

	return slog.New(handler)
}

// parseLevel converts a string level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

// WithComponent returns a new logger with a component name field.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("component", component)
}

// WithServer returns a new logger scoped to an MCP server.
func WithServer(logger *slog.Logger, server, transport string) *slog.Logger {
	return logger.With(
		slog.String(ServerKey, server),
		slog.String(TransportKey, transport),
	)
}

// SanitizeAPIKey masks an API key, showing only the last 4 characters.
func SanitizeAPIKey(key string) string {
	if len(key) <= 4 {
		return "[REDACTED]"
	}
	return "..." + key[len(key)-4:]
}

// Trace logs a message at trace level.
func Trace(ctx context.Context, logger *slog.Logger, msg string, attrs ...slog.Attr) {
	if !logger.Enabled(ctx, LevelTrace) {
		return
	}
	logger.LogAttrs(ctx, LevelTrace, msg, attrs...)
}

// Truncate shortens s for log output.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
