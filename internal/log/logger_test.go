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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != "warn" {
		t.Errorf("expected default level 'warn', got %q", cfg.Level)
	}
	if cfg.Format != FormatText {
		t.Errorf("expected default format 'text', got %q", cfg.Format)
	}
	if cfg.AddSource {
		t.Errorf("expected default AddSource to be false")
	}
}

func TestDebugEnabled(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"", false},
		{"false", false},
		{"no", false},
		{"true", true},
		{"TRUE", true},
		{"yes", true},
		{"y", true},
		{"1", true},
		{" Yes ", true},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv(DebugEnv, tt.value)
			if got := DebugEnabled(); got != tt.want {
				t.Errorf("DebugEnabled() with %q = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestFromEnv(t *testing.T) {
	tests := []struct {
		name       string
		env        map[string]string
		wantLevel  string
		wantFormat Format
		wantSource bool
	}{
		{
			name:       "defaults when no env vars",
			env:        map[string]string{},
			wantLevel:  "warn",
			wantFormat: FormatText,
		},
		{
			name:       "debug toggle",
			env:        map[string]string{DebugEnv: "yes"},
			wantLevel:  "debug",
			wantFormat: FormatText,
			wantSource: true,
		},
		{
			name:       "debug toggle wins over level",
			env:        map[string]string{DebugEnv: "1", "JIBBERISH_LOG_LEVEL": "error"},
			wantLevel:  "debug",
			wantFormat: FormatText,
			wantSource: true,
		},
		{
			name:       "jibberish level over LOG_LEVEL",
			env:        map[string]string{"JIBBERISH_LOG_LEVEL": "INFO", "LOG_LEVEL": "error"},
			wantLevel:  "info",
			wantFormat: FormatText,
		},
		{
			name:       "LOG_LEVEL and LOG_FORMAT",
			env:        map[string]string{"LOG_LEVEL": "error", "LOG_FORMAT": "JSON"},
			wantLevel:  "error",
			wantFormat: FormatJSON,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, key := range []string{DebugEnv, "JIBBERISH_LOG_LEVEL", "LOG_LEVEL", "LOG_FORMAT"} {
				t.Setenv(key, "")
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg := FromEnv()
			if cfg.Level != tt.wantLevel {
				t.Errorf("Level = %q, want %q", cfg.Level, tt.wantLevel)
			}
			if cfg.Format != tt.wantFormat {
				t.Errorf("Format = %q, want %q", cfg.Format, tt.wantFormat)
			}
			if cfg.AddSource != tt.wantSource {
				t.Errorf("AddSource = %v, want %v", cfg.AddSource, tt.wantSource)
			}
		})
	}
}

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "debug", Format: FormatJSON, Output: &buf})

	logger.Debug("discovered tools", ServerKey, "k8s", "count", 3)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON log: %v", err)
	}
	if entry["msg"] != "discovered tools" {
		t.Errorf("msg = %v", entry["msg"])
	}
	if entry[ServerKey] != "k8s" {
		t.Errorf("server = %v", entry[ServerKey])
	}
}

func TestNew_QuietByDefault(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Output = &buf
	logger := New(cfg)

	logger.Debug("hidden")
	logger.Info("hidden too")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug/info output leaked with default config: %s", out)
	}
	if !strings.Contains(out, "shown") {
		t.Errorf("warning missing from output: %s", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"trace", LevelTrace},
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelWarn},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestWithServer(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "debug", Format: FormatJSON, Output: &buf})
	WithServer(WithComponent(logger, "mcp"), "k8s", "docker").Debug("spawn")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON log: %v", err)
	}
	if entry["component"] != "mcp" || entry[ServerKey] != "k8s" || entry[TransportKey] != "docker" {
		t.Errorf("unexpected fields: %v", entry)
	}
}

func TestLogRPC(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatText, Output: &buf})
	call := RPCCall{Method: "tools/call", RequestID: "abc", Tool: "kubectl_get"}

	if err := LogRPC(context.Background(), logger, call, func() error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("successful call should only log at debug, got %q", buf.String())
	}

	want := errors.New("boom")
	if err := LogRPC(context.Background(), logger, call, func() error { return want }); !errors.Is(err, want) {
		t.Fatalf("LogRPC returned %v, want %v", err, want)
	}
	if !strings.Contains(buf.String(), "rpc call failed") || !strings.Contains(buf.String(), "remote_tool=kubectl_get") {
		t.Errorf("failure not logged: %q", buf.String())
	}
}

func TestSanitizeAPIKey(t *testing.T) {
	if got := SanitizeAPIKey("sk-abcdef123456"); got != "...3456" {
		t.Errorf("SanitizeAPIKey = %q", got)
	}
	if got := SanitizeAPIKey("abc"); got != "[REDACTED]" {
		t.Errorf("SanitizeAPIKey short = %q", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 10); got != "short" {
		t.Errorf("Truncate = %q", got)
	}
	if got := Truncate("0123456789abc", 10); got != "0123456789...(truncated)" {
		t.Errorf("Truncate = %q", got)
	}
}
